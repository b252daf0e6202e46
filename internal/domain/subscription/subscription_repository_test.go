package subscription

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outcomesignal/entitlements-api/internal/types"
)

var subscriptionColumns = []string{"id", "user_id", "tier", "status", "trial_ends_at", "created_at", "updated_at"}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store := NewPostgresStore(mock, 7*24*time.Hour, newTestLogger())
	return store, mock
}

func TestPostgresStore_Get(t *testing.T) {
	now := time.Date(2025, 10, 22, 12, 0, 0, 0, time.UTC)
	endsAt := now.Add(72 * time.Hour)

	t.Run("found", func(t *testing.T) {
		store, mock := newMockStore(t)
		id := uuid.New()
		mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions")).
			WithArgs("user-1").
			WillReturnRows(pgxmock.NewRows(subscriptionColumns).
				AddRow(id, "user-1", "trial", "active", &endsAt, now, now))

		got := store.Get(context.Background(), "user-1")
		require.Equal(t, types.LookupFound, got.Outcome)
		assert.Equal(t, id, got.Subscription.ID)
		assert.Equal(t, types.TierTrial, got.Subscription.Tier)
		assert.Equal(t, types.StatusActive, got.Subscription.Status)
		require.NotNil(t, got.Subscription.TrialEndsAt)
		assert.True(t, endsAt.Equal(*got.Subscription.TrialEndsAt))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("paid tier without trial end", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions")).
			WithArgs("user-2").
			WillReturnRows(pgxmock.NewRows(subscriptionColumns).
				AddRow(uuid.New(), "user-2", "starter", "active", (*time.Time)(nil), now, now))

		got := store.Get(context.Background(), "user-2")
		require.Equal(t, types.LookupFound, got.Outcome)
		assert.Equal(t, types.TierStarter, got.Subscription.Tier)
		assert.Nil(t, got.Subscription.TrialEndsAt)
	})

	t.Run("not found", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions")).
			WithArgs("nobody").
			WillReturnError(pgx.ErrNoRows)

		got := store.Get(context.Background(), "nobody")
		assert.Equal(t, types.LookupNotFound, got.Outcome)
		assert.Nil(t, got.Subscription)
		assert.NoError(t, got.Err)
	})

	t.Run("store error", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions")).
			WithArgs("user-3").
			WillReturnError(errors.New("connection reset"))

		got := store.Get(context.Background(), "user-3")
		assert.Equal(t, types.LookupStoreError, got.Outcome)
		assert.ErrorIs(t, got.Err, types.ErrDatabase)
		assert.Nil(t, got.Subscription)
	})
}

func TestPostgresStore_EnsureTrial(t *testing.T) {
	now := time.Date(2025, 10, 22, 12, 0, 0, 0, time.UTC)

	t.Run("returns existing row without inserting", func(t *testing.T) {
		store, mock := newMockStore(t)
		id := uuid.New()
		mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions")).
			WithArgs("user-1").
			WillReturnRows(pgxmock.NewRows(subscriptionColumns).
				AddRow(id, "user-1", "professional", "active", (*time.Time)(nil), now, now))

		sub, err := store.EnsureTrial(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Equal(t, id, sub.ID)
		assert.Equal(t, types.TierProfessional, sub.Tier)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("creates trial", func(t *testing.T) {
		store, mock := newMockStore(t)
		store.now = func() time.Time { return now }

		mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions")).
			WithArgs("user-1").
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO subscriptions")).
			WithArgs(pgxmock.AnyArg(), "user-1", "trial", "active", now.Add(7*24*time.Hour), now).
			WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

		sub, err := store.EnsureTrial(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Equal(t, types.TierTrial, sub.Tier)
		assert.Equal(t, types.StatusActive, sub.Status)
		require.NotNil(t, sub.TrialEndsAt)
		assert.Equal(t, now.Add(7*24*time.Hour), *sub.TrialEndsAt)
		assert.Equal(t, now, sub.CreatedAt)
		assert.NotEqual(t, uuid.Nil, sub.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation re-reads winner", func(t *testing.T) {
		store, mock := newMockStore(t)
		winner := uuid.New()
		endsAt := now.Add(7 * 24 * time.Hour)

		mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions")).
			WithArgs("user-1").
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO subscriptions")).
			WithArgs(pgxmock.AnyArg(), "user-1", "trial", "active", pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})
		mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions")).
			WithArgs("user-1").
			WillReturnRows(pgxmock.NewRows(subscriptionColumns).
				AddRow(winner, "user-1", "trial", "active", &endsAt, now, now))

		sub, err := store.EnsureTrial(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Equal(t, winner, sub.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert failure", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions")).
			WithArgs("user-1").
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO subscriptions")).
			WithArgs(pgxmock.AnyArg(), "user-1", "trial", "active", pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(errors.New("disk full"))

		_, err := store.EnsureTrial(context.Background(), "user-1")
		assert.ErrorIs(t, err, types.ErrDatabase)
		assert.ErrorContains(t, err, "disk full")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty user", func(t *testing.T) {
		store, mock := newMockStore(t)
		_, err := store.EnsureTrial(context.Background(), "")
		assert.ErrorIs(t, err, types.ErrUnauthenticated)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// gatedDB holds every subscription lookup until release is closed, then
// answers with an existing row. A lookup whose ctx ends first fails the way
// pgx does.
type gatedDB struct {
	entered chan struct{}
	release chan struct{}
	sub     types.Subscription
	lookups atomic.Int32
}

func newGatedDB(sub types.Subscription) *gatedDB {
	return &gatedDB{entered: make(chan struct{}), release: make(chan struct{}), sub: sub}
}

type rowFunc func(dest ...any) error

func (f rowFunc) Scan(dest ...any) error { return f(dest...) }

func (g *gatedDB) QueryRow(ctx context.Context, sql string, _ ...any) pgx.Row {
	if !strings.Contains(sql, "FROM subscriptions") {
		return rowFunc(func(...any) error { return errors.New("unexpected statement") })
	}
	if g.lookups.Add(1) == 1 {
		close(g.entered)
	}
	select {
	case <-ctx.Done():
		return rowFunc(func(...any) error { return ctx.Err() })
	case <-g.release:
	}
	return rowFunc(func(dest ...any) error {
		*dest[0].(*uuid.UUID) = g.sub.ID
		*dest[1].(*string) = g.sub.UserID
		*dest[2].(*string) = string(g.sub.Tier)
		*dest[3].(*string) = string(g.sub.Status)
		*dest[4].(**time.Time) = g.sub.TrialEndsAt
		*dest[5].(*time.Time) = g.sub.CreatedAt
		*dest[6].(*time.Time) = g.sub.UpdatedAt
		return nil
	})
}

func (g *gatedDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("unexpected exec")
}

func (g *gatedDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("unexpected query")
}

type ensureResult struct {
	sub *types.Subscription
	err error
}

func TestPostgresStore_EnsureTrial_SharedAttemptOutlivesCanceledCaller(t *testing.T) {
	now := time.Date(2025, 10, 22, 12, 0, 0, 0, time.UTC)
	endsAt := now.Add(7 * 24 * time.Hour)
	db := newGatedDB(types.Subscription{
		ID:          uuid.New(),
		UserID:      "user-1",
		Tier:        types.TierTrial,
		Status:      types.StatusActive,
		TrialEndsAt: &endsAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	store := NewPostgresStore(db, 7*24*time.Hour, newTestLogger())

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()

	first := make(chan ensureResult, 1)
	go func() {
		sub, err := store.EnsureTrial(ctxA, "user-1")
		first <- ensureResult{sub, err}
	}()
	<-db.entered

	second := make(chan ensureResult, 1)
	go func() {
		sub, err := store.EnsureTrial(context.Background(), "user-1")
		second <- ensureResult{sub, err}
	}()

	cancelA()
	select {
	case res := <-first:
		assert.ErrorIs(t, res.err, context.Canceled)
		assert.Nil(t, res.sub)
	case <-time.After(time.Second):
		t.Fatal("canceled caller kept waiting on the shared attempt")
	}

	close(db.release)
	select {
	case res := <-second:
		require.NoError(t, res.err)
		require.NotNil(t, res.sub)
		assert.Equal(t, db.sub.ID, res.sub.ID)
		assert.Equal(t, types.TierTrial, res.sub.Tier)
	case <-time.After(time.Second):
		t.Fatal("second caller never returned")
	}
}

func TestPostgresStore_CountResourceUsage(t *testing.T) {
	period := types.Period{
		Start: time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC),
	}

	t.Run("sums quantity", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(quantity), 0) FROM resource_usage_events")).
			WithArgs("initiative", "user-1", period.Start, period.End).
			WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(int64(3)))

		n, err := store.CountResourceUsage(context.Background(), "user-1", types.ResourceInitiative, period)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query failure", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM resource_usage_events")).
			WithArgs("credit", "user-1", period.Start, period.End).
			WillReturnError(errors.New("timeout"))

		_, err := store.CountResourceUsage(context.Background(), "user-1", types.ResourceCredit, period)
		assert.ErrorIs(t, err, types.ErrDatabase)
		assert.ErrorContains(t, err, "timeout")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_RecordResourceUsage(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2025, 10, 22, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO resource_usage_events")).
		WithArgs(pgxmock.AnyArg(), "user-1", "credit", 2, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordResourceUsage(context.Background(), "user-1", types.ResourceCredit, 2))
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.ErrorIs(t, store.RecordResourceUsage(context.Background(), "user-1", types.ResourceCredit, 0), types.ErrBadRequest)
	assert.ErrorIs(t, store.RecordResourceUsage(context.Background(), "", types.ResourceCredit, 1), types.ErrUnauthenticated)
}

func TestPostgresStore_ExpireDueTrials(t *testing.T) {
	now := time.Date(2025, 10, 22, 12, 0, 0, 0, time.UTC)
	expireSQL := "UPDATE subscriptions SET status = $1, updated_at = $2 WHERE status = $3 AND tier = $4 AND trial_ends_at < $5 RETURNING id"

	t.Run("returns expired ids", func(t *testing.T) {
		store, mock := newMockStore(t)
		a, b := uuid.New(), uuid.New()
		mock.ExpectQuery(regexp.QuoteMeta(expireSQL)).
			WithArgs("expired", now, "active", "trial", now).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(a).AddRow(b))

		ids, err := store.ExpireDueTrials(context.Background(), now)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{a, b}, ids)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nothing due", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta(expireSQL)).
			WithArgs("expired", now, "active", "trial", now).
			WillReturnRows(pgxmock.NewRows([]string{"id"}))

		ids, err := store.ExpireDueTrials(context.Background(), now)
		require.NoError(t, err)
		assert.Empty(t, ids)
		assert.NotNil(t, ids)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("update failure", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta(expireSQL)).
			WithArgs("expired", now, "active", "trial", now).
			WillReturnError(errors.New("permission denied"))

		_, err := store.ExpireDueTrials(context.Background(), now)
		assert.ErrorIs(t, err, types.ErrDatabase)
		assert.ErrorContains(t, err, "permission denied")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
