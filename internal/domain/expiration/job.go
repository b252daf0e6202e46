// Package expiration moves trials past their end date to the expired state.
package expiration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/outcomesignal/entitlements-api/internal/domain/subscription"
	"github.com/outcomesignal/entitlements-api/pkg/observability"
)

// Summary is the structured outcome of one run. It is always well formed,
// including when the run failed.
type Summary struct {
	Success      bool        `json:"success"`
	ExpiredCount int         `json:"expired_count"`
	Errors       []string    `json:"errors"`
	ExpiredIDs   []uuid.UUID `json:"-"`
	RanAt        time.Time   `json:"-"`
}

// Job runs one expiration pass against the store.
type Job struct {
	store   subscription.Store
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewJob(store subscription.Store, logger *slog.Logger) *Job {
	return &Job{
		store:   store,
		logger:  logger,
		metrics: observability.GetMetrics(),
		now:     time.Now,
	}
}

// Run expires every due trial. It never panics and never returns an error;
// failures are reported in Summary.Errors.
func (j *Job) Run(ctx context.Context) (summary Summary) {
	ctx, span := otel.Tracer("TrialExpirationJob").Start(ctx, "Run")
	defer span.End()

	now := j.now().UTC()
	summary = Summary{Errors: []string{}, ExpiredIDs: []uuid.UUID{}, RanAt: now}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("expiration run panicked: %v", r)
			j.logger.ErrorContext(ctx, "Trial expiration panicked", slog.Any("error", err))
			span.RecordError(err)
			summary.Errors = append(summary.Errors, err.Error())
		}
		summary.Success = len(summary.Errors) == 0
		if summary.Success {
			span.SetStatus(codes.Ok, "Trials expired")
		} else {
			span.SetStatus(codes.Error, "Expiration failed")
		}
		j.metrics.RecordExpirationRun(summary.Success, summary.ExpiredCount)
	}()

	ids, err := j.store.ExpireDueTrials(ctx, now)
	if err != nil {
		j.logger.ErrorContext(ctx, "Failed to expire trials", slog.Any("error", err))
		span.RecordError(err)
		summary.Errors = append(summary.Errors, err.Error())
		return summary
	}

	summary.ExpiredIDs = append(summary.ExpiredIDs, ids...)
	summary.ExpiredCount = len(ids)
	span.SetAttributes(attribute.Int("subscriptions.expired", summary.ExpiredCount))

	if summary.ExpiredCount > 0 {
		trialIDs := make([]string, len(ids))
		for i, id := range ids {
			trialIDs[i] = id.String()
		}
		j.logger.InfoContext(ctx, "trials_expired",
			slog.String("event", "trials_expired"),
			slog.Int("count", summary.ExpiredCount),
			slog.Time("timestamp", now),
			slog.Any("trial_ids", trialIDs))
	}
	return summary
}
