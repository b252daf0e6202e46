package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/outcomesignal/entitlements-api/internal/types"
	"github.com/outcomesignal/entitlements-api/pkg/interceptors"
	"github.com/outcomesignal/entitlements-api/pkg/observability"
)

// Publisher delivers one event to an analytics backend.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

var _ Sink = (*Emitter)(nil)

// EmitterOptions tunes the Emitter queue.
type EmitterOptions struct {
	// QueueSize bounds buffered events; further events are dropped.
	QueueSize int
	// DedupeWindow suppresses identical (user, event, reason) repeats. Zero
	// disables deduplication.
	DedupeWindow time.Duration
	// PublishTimeout bounds a single Publish call.
	PublishTimeout time.Duration
}

// Emitter is the production Sink. Calls enqueue onto a bounded channel and
// return immediately; Run drains the queue into a Publisher.
type Emitter struct {
	publisher Publisher
	queue     chan Event
	dedupe    *cache.Cache
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewEmitter(publisher Publisher, opts EmitterOptions, logger *slog.Logger) *Emitter {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 2 * time.Second
	}
	e := &Emitter{
		publisher: publisher,
		queue:     make(chan Event, opts.QueueSize),
		timeout:   opts.PublishTimeout,
		logger:    logger,
		metrics:   observability.GetMetrics(),
		now:       time.Now,
	}
	if opts.DedupeWindow > 0 {
		e.dedupe = cache.New(opts.DedupeWindow, 2*opts.DedupeWindow)
	}
	return e
}

func (e *Emitter) PaywallShown(ctx context.Context, reason TriggerReason) {
	e.enqueue(ctx, PaywallShown, reason, nil)
}

func (e *Emitter) PaywallDismissed(ctx context.Context, reason TriggerReason) {
	e.enqueue(ctx, PaywallDismissed, reason, nil)
}

func (e *Emitter) PlanSelected(ctx context.Context, tier types.Tier, reason TriggerReason) {
	e.enqueue(ctx, PlanSelected, reason, &tier)
}

func (e *Emitter) enqueue(ctx context.Context, name Name, reason TriggerReason, tier *types.Tier) {
	userID, _ := interceptors.UserIDFromContext(ctx)

	if e.dedupe != nil {
		key := userID + "|" + string(name) + "|" + string(reason)
		if tier != nil {
			key += "|" + string(*tier)
		}
		if err := e.dedupe.Add(key, struct{}{}, cache.DefaultExpiration); err != nil {
			e.metrics.RecordEvent(string(name), "deduplicated")
			return
		}
	}

	ev := newEvent(name, reason, tier, userID, e.now())
	select {
	case e.queue <- ev:
	default:
		e.logger.WarnContext(ctx, "Event queue full, dropping event",
			slog.String("event", string(name)), slog.String("reason", string(reason)))
		e.metrics.RecordEvent(string(name), "dropped")
	}
}

// Run publishes queued events until ctx is cancelled, then flushes what is
// already buffered.
func (e *Emitter) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-e.queue:
			e.publish(ctx, ev)
		case <-ctx.Done():
			e.flush()
			return nil
		}
	}
}

func (e *Emitter) flush() {
	for {
		select {
		case ev := <-e.queue:
			e.publish(context.Background(), ev)
		default:
			return
		}
	}
}

func (e *Emitter) publish(ctx context.Context, ev Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish event",
			slog.String("event", string(ev.Name)),
			slog.String("id", ev.ID),
			slog.Any("error", err))
		e.metrics.RecordEvent(string(ev.Name), "failed")
		return
	}
	e.metrics.RecordEvent(string(ev.Name), "published")
}
