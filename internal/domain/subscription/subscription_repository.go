package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/outcomesignal/entitlements-api/internal/types"
)

const uniqueViolation = "23505"

var _ Store = (*PostgresStore)(nil)

// Store is the data-access contract consumed by the limit enforcer and the
// trial expiration job.
type Store interface {
	// Get reads a user's subscription.
	Get(ctx context.Context, userID string) types.SubscriptionLookup

	// EnsureTrial returns the user's subscription, creating an active trial
	// if none exists. Safe under concurrent first-time calls.
	EnsureTrial(ctx context.Context, userID string) (*types.Subscription, error)

	// CountResourceUsage sums usage of a resource kind within period.
	CountResourceUsage(ctx context.Context, userID string, kind types.ResourceKind, period types.Period) (int, error)

	// RecordResourceUsage appends a usage event for the caller's creation path.
	RecordResourceUsage(ctx context.Context, userID string, kind types.ResourceKind, quantity int) error

	// ExpireDueTrials flips every active trial whose end is before now to
	// expired in one statement and returns the affected subscription ids.
	ExpireDueTrials(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

// DBTX is the subset of pgx shared by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store against the subscriptions and
// resource_usage_events tables.
type PostgresStore struct {
	logger      *slog.Logger
	db          DBTX
	trialPeriod time.Duration
	now         func() time.Time
	ensures     singleflight.Group
}

// NewPostgresStore creates a store. trialPeriod is the length of a newly
// created trial.
func NewPostgresStore(db DBTX, trialPeriod time.Duration, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		logger:      logger,
		db:          db,
		trialPeriod: trialPeriod,
		now:         time.Now,
	}
}

const (
	getSubscriptionQuery = `
		SELECT id, user_id, tier, status, trial_ends_at, created_at, updated_at
		FROM subscriptions
		WHERE user_id = $1`

	insertTrialQuery = `
		INSERT INTO subscriptions (id, user_id, tier, status, trial_ends_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING created_at, updated_at`

	insertUsageQuery = `
		INSERT INTO resource_usage_events (id, user_id, resource_kind, quantity, created_at)
		VALUES ($1, $2, $3, $4, $5)`
)

// Get implements Store.
func (r *PostgresStore) Get(ctx context.Context, userID string) types.SubscriptionLookup {
	ctx, span := otel.Tracer("SubscriptionStore").Start(ctx, "Get", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "subscriptions"),
		attribute.String("user.id", userID),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "Get"), slog.String("userID", userID))

	var (
		sub            types.Subscription
		tier, status   string
		trialEndsAtPtr *time.Time
	)
	err := r.db.QueryRow(ctx, getSubscriptionQuery, userID).Scan(
		&sub.ID,
		&sub.UserID,
		&tier,
		&status,
		&trialEndsAtPtr,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			l.DebugContext(ctx, "No subscription for user")
			span.SetStatus(codes.Ok, "Subscription not found")
			return types.NotFound()
		}
		l.ErrorContext(ctx, "Failed to fetch subscription", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB query failed")
		return types.StoreError(fmt.Errorf("%w fetching subscription: %w", types.ErrDatabase, err))
	}
	sub.Tier = types.Tier(tier)
	sub.Status = types.SubscriptionStatus(status)
	sub.TrialEndsAt = trialEndsAtPtr

	span.SetStatus(codes.Ok, "Subscription fetched")
	return types.Found(&sub)
}

// EnsureTrial implements Store. Concurrent callers in this process share one
// attempt; callers in other processes are resolved by the unique constraint
// on user_id. The shared attempt is detached from any single caller's
// cancellation, and each caller stops waiting when its own ctx is done.
func (r *PostgresStore) EnsureTrial(ctx context.Context, userID string) (*types.Subscription, error) {
	if userID == "" {
		return nil, fmt.Errorf("ensure trial: %w", types.ErrUnauthenticated)
	}
	shared := context.WithoutCancel(ctx)
	ch := r.ensures.DoChan(userID, func() (any, error) {
		return r.ensureTrial(shared, userID)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("ensure trial: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		sub := *res.Val.(*types.Subscription)
		return &sub, nil
	}
}

func (r *PostgresStore) ensureTrial(ctx context.Context, userID string) (*types.Subscription, error) {
	ctx, span := otel.Tracer("SubscriptionStore").Start(ctx, "EnsureTrial", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "subscriptions"),
		attribute.String("user.id", userID),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "EnsureTrial"), slog.String("userID", userID))

	existing := r.Get(ctx, userID)
	switch existing.Outcome {
	case types.LookupFound:
		l.DebugContext(ctx, "Subscription already exists")
		span.SetStatus(codes.Ok, "Subscription exists")
		return existing.Subscription, nil
	case types.LookupStoreError:
		span.RecordError(existing.Err)
		span.SetStatus(codes.Error, "Lookup failed")
		return nil, existing.Err
	case types.LookupNotFound:
	}

	now := r.now().UTC()
	endsAt := now.Add(r.trialPeriod)
	sub := &types.Subscription{
		ID:          uuid.New(),
		UserID:      userID,
		Tier:        types.TierTrial,
		Status:      types.StatusActive,
		TrialEndsAt: &endsAt,
	}

	err := r.db.QueryRow(ctx, insertTrialQuery,
		sub.ID, userID, string(sub.Tier), string(sub.Status), endsAt, now,
	).Scan(&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			l.InfoContext(ctx, "Concurrent trial creation won by another caller, re-reading")
			winner := r.Get(ctx, userID)
			switch winner.Outcome {
			case types.LookupFound:
				span.SetStatus(codes.Ok, "Subscription created concurrently")
				return winner.Subscription, nil
			case types.LookupStoreError:
				span.RecordError(winner.Err)
				span.SetStatus(codes.Error, "Re-read failed")
				return nil, winner.Err
			case types.LookupNotFound:
			}
			span.SetStatus(codes.Error, "Conflicting row vanished")
			return nil, fmt.Errorf("trial subscription for %s: %w", userID, types.ErrConflict)
		}
		l.ErrorContext(ctx, "Failed to insert trial subscription", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB INSERT failed")
		return nil, fmt.Errorf("%w creating trial subscription: %w", types.ErrDatabase, err)
	}

	l.InfoContext(ctx, "Trial subscription created",
		slog.String("subscriptionID", sub.ID.String()),
		slog.Time("trialEndsAt", endsAt))
	span.SetAttributes(attribute.String("db.subscription.id", sub.ID.String()))
	span.SetStatus(codes.Ok, "Trial created")
	return sub, nil
}

// CountResourceUsage implements Store.
func (r *PostgresStore) CountResourceUsage(ctx context.Context, userID string, kind types.ResourceKind, period types.Period) (int, error) {
	ctx, span := otel.Tracer("SubscriptionStore").Start(ctx, "CountResourceUsage", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "resource_usage_events"),
		attribute.String("user.id", userID),
		attribute.String("resource.kind", string(kind)),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "CountResourceUsage"), slog.String("userID", userID), slog.String("kind", string(kind)))

	query, args, err := squirrel.Select("COALESCE(SUM(quantity), 0)").
		From("resource_usage_events").
		Where(squirrel.Eq{"user_id": userID, "resource_kind": string(kind)}).
		Where(squirrel.GtOrEq{"created_at": period.Start}).
		Where(squirrel.Lt{"created_at": period.End}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to build query")
		return 0, fmt.Errorf("failed to build usage count query: %w", err)
	}

	var total int64
	if err := r.db.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		l.ErrorContext(ctx, "Failed to count resource usage", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB query failed")
		return 0, fmt.Errorf("%w counting resource usage: %w", types.ErrDatabase, err)
	}

	span.SetAttributes(attribute.Int64("usage.count", total))
	span.SetStatus(codes.Ok, "Usage counted")
	return int(total), nil
}

// RecordResourceUsage implements Store.
func (r *PostgresStore) RecordResourceUsage(ctx context.Context, userID string, kind types.ResourceKind, quantity int) error {
	ctx, span := otel.Tracer("SubscriptionStore").Start(ctx, "RecordResourceUsage", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "resource_usage_events"),
		attribute.String("user.id", userID),
		attribute.String("resource.kind", string(kind)),
	))
	defer span.End()

	if userID == "" {
		return fmt.Errorf("record usage: %w", types.ErrUnauthenticated)
	}
	if quantity <= 0 {
		return fmt.Errorf("record usage quantity %d: %w", quantity, types.ErrBadRequest)
	}

	_, err := r.db.Exec(ctx, insertUsageQuery, uuid.New(), userID, string(kind), quantity, r.now().UTC())
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to record resource usage",
			slog.String("userID", userID), slog.String("kind", string(kind)), slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB INSERT failed")
		return fmt.Errorf("%w recording resource usage: %w", types.ErrDatabase, err)
	}

	span.SetStatus(codes.Ok, "Usage recorded")
	return nil
}

// ExpireDueTrials implements Store. The select and update happen in a single
// statement, so overlapping runs never expire a row twice.
func (r *PostgresStore) ExpireDueTrials(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	ctx, span := otel.Tracer("SubscriptionStore").Start(ctx, "ExpireDueTrials", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "subscriptions"),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "ExpireDueTrials"))

	now = now.UTC()
	query, args, err := squirrel.Update("subscriptions").
		PlaceholderFormat(squirrel.Dollar).
		Set("status", string(types.StatusExpired)).
		Set("updated_at", now).
		Where(squirrel.Eq{"tier": string(types.TierTrial), "status": string(types.StatusActive)}).
		Where(squirrel.Lt{"trial_ends_at": now}).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to build query")
		return nil, fmt.Errorf("failed to build expire query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		l.ErrorContext(ctx, "Failed to expire trials", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPDATE failed")
		return nil, fmt.Errorf("%w expiring trials: %w", types.ErrDatabase, err)
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			l.ErrorContext(ctx, "Failed to scan expired subscription id", slog.Any("error", err))
			span.RecordError(err)
			return nil, fmt.Errorf("%w scanning expired subscription: %w", types.ErrDatabase, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		l.ErrorContext(ctx, "Error iterating expired subscription rows", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPDATE failed")
		return nil, fmt.Errorf("%w reading expired trials: %w", types.ErrDatabase, err)
	}

	span.SetAttributes(attribute.Int("subscriptions.expired", len(ids)))
	span.SetStatus(codes.Ok, "Trials expired")
	return ids, nil
}
