package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	_ Publisher = (*RedisPublisher)(nil)
	_ Publisher = (*LogPublisher)(nil)
)

// RedisPublisher appends events to a Redis stream for the analytics
// pipeline to consume.
type RedisPublisher struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

func NewRedisPublisher(client redis.Cmdable, stream string, maxLen int64) *RedisPublisher {
	return &RedisPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	args := &redis.XAddArgs{
		Stream: p.stream,
		ID:     "*",
		Values: streamValues(ev),
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

func streamValues(ev Event) map[string]any {
	values := map[string]any{
		"id":             ev.ID,
		"event_name":     string(ev.Name),
		"trigger_reason": string(ev.TriggerReason),
		"timestamp":      ev.Timestamp.Format(time.RFC3339Nano),
	}
	if ev.Tier != nil {
		values["tier"] = string(*ev.Tier)
	}
	if ev.UserID != "" {
		values["user_id"] = ev.UserID
	}
	return values
}

// LogPublisher writes events as structured log records. Used when no
// analytics backend is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, ev Event) error {
	attrs := []any{
		slog.String("id", ev.ID),
		slog.String("event_name", string(ev.Name)),
		slog.String("trigger_reason", string(ev.TriggerReason)),
		slog.Time("timestamp", ev.Timestamp),
	}
	if ev.Tier != nil {
		attrs = append(attrs, slog.String("tier", string(*ev.Tier)))
	}
	if ev.UserID != "" {
		attrs = append(attrs, slog.String("user_id", ev.UserID))
	}
	p.logger.InfoContext(ctx, "paywall_event", attrs...)
	return nil
}
