package subscription

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgmock"
	"github.com/jackc/pgproto3/v2"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outcomesignal/entitlements-api/internal/types"
)

const (
	oidText        = 25
	oidInt8        = 20
	oidTimestamptz = 1184
	oidUUID        = 2950
)

// Two back-to-back expire passes against the same server: the second sees
// no due rows because the first already flipped them.
func TestPostgresStore_ExpireDueTrials_Wire(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	script := acceptScript(
		expectQuery(),
		sendRowDescription(field("id", oidUUID)),
		sendDataRow(a.String()),
		sendDataRow(b.String()),
		sendCommandComplete("UPDATE 2"),
		sendReady(),

		expectQuery(),
		sendRowDescription(field("id", oidUUID)),
		sendCommandComplete("UPDATE 0"),
		sendReady(),
	)

	conn := startMockConn(t, script)
	store := NewPostgresStore(conn, 7*24*time.Hour, newTestLogger())
	now := time.Now().UTC()

	first, err := store.ExpireDueTrials(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a, b}, first)

	second, err := store.ExpireDueTrials(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestPostgresStore_Get_Wire(t *testing.T) {
	id := uuid.New()
	created := time.Date(2025, 10, 1, 9, 30, 0, 0, time.UTC)
	endsAt := created.Add(7 * 24 * time.Hour)

	script := acceptScript(
		expectQuery(),
		sendRowDescription(subscriptionRowDesc()...),
		sendDataRow(id.String(), "user-1", "trial", "expired", formatTime(endsAt), formatTime(created), formatTime(endsAt)),
		sendCommandComplete("SELECT 1"),
		sendReady(),

		expectQuery(),
		sendRowDescription(subscriptionRowDesc()...),
		sendCommandComplete("SELECT 0"),
		sendReady(),
	)

	conn := startMockConn(t, script)
	store := NewPostgresStore(conn, 7*24*time.Hour, newTestLogger())

	got := store.Get(context.Background(), "user-1")
	require.Equal(t, types.LookupFound, got.Outcome, "err: %v", got.Err)
	assert.Equal(t, id, got.Subscription.ID)
	assert.Equal(t, types.StatusExpired, got.Subscription.Status)
	require.NotNil(t, got.Subscription.TrialEndsAt)
	assert.True(t, endsAt.Equal(*got.Subscription.TrialEndsAt))

	missing := store.Get(context.Background(), "user-2")
	assert.Equal(t, types.LookupNotFound, missing.Outcome)
}

func TestPostgresStore_CountResourceUsage_Wire(t *testing.T) {
	script := acceptScript(
		expectQuery(),
		sendRowDescription(field("coalesce", oidInt8)),
		sendDataRow("2"),
		sendCommandComplete("SELECT 1"),
		sendReady(),
	)

	conn := startMockConn(t, script)
	store := NewPostgresStore(conn, 7*24*time.Hour, newTestLogger())

	now := time.Now().UTC()
	n, err := store.CountResourceUsage(context.Background(), "user-1", types.ResourceInitiative, CurrentPeriod(now.Add(-time.Hour), now))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func acceptScript(steps ...pgmock.Step) *pgmock.Script {
	base := []pgmock.Step{
		pgmock.ExpectAnyMessage(&pgproto3.StartupMessage{ProtocolVersion: pgproto3.ProtocolVersionNumber, Parameters: map[string]string{}}),
		pgmock.SendMessage(&pgproto3.AuthenticationOk{}),
		pgmock.SendMessage(&pgproto3.ParameterStatus{Name: "client_encoding", Value: "UTF8"}),
		pgmock.SendMessage(&pgproto3.ParameterStatus{Name: "standard_conforming_strings", Value: "on"}),
		pgmock.SendMessage(&pgproto3.ParameterStatus{Name: "server_version", Value: "16"}),
		pgmock.SendMessage(&pgproto3.BackendKeyData{ProcessID: 0, SecretKey: 0}),
		pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: 'I'}),
	}
	s := &pgmock.Script{Steps: append(base, steps...)}
	s.Steps = append(s.Steps, pgmock.WaitForClose())
	return s
}

// The simple protocol interpolates arguments client side, so the text of
// the query is not asserted here; pgxmock covers the SQL shape.
func expectQuery() pgmock.Step {
	return pgmock.ExpectAnyMessage(&pgproto3.Query{})
}

func sendRowDescription(fields ...pgproto3.FieldDescription) pgmock.Step {
	return pgmock.SendMessage(&pgproto3.RowDescription{Fields: fields})
}

func sendDataRow(values ...string) pgmock.Step {
	row := make([][]byte, len(values))
	for i, v := range values {
		if v == "" {
			row[i] = nil
		} else {
			row[i] = []byte(v)
		}
	}
	return pgmock.SendMessage(&pgproto3.DataRow{Values: row})
}

func sendCommandComplete(tag string) pgmock.Step {
	return pgmock.SendMessage(&pgproto3.CommandComplete{CommandTag: []byte(tag)})
}

func sendReady() pgmock.Step {
	return pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: 'I'})
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05.999999-07")
}

func field(name string, oid uint32) pgproto3.FieldDescription {
	return pgproto3.FieldDescription{
		Name:        []byte(name),
		DataTypeOID: oid,
		Format:      0,
	}
}

func subscriptionRowDesc() []pgproto3.FieldDescription {
	return []pgproto3.FieldDescription{
		field("id", oidUUID),
		field("user_id", oidText),
		field("tier", oidText),
		field("status", oidText),
		field("trial_ends_at", oidTimestamptz),
		field("created_at", oidTimestamptz),
		field("updated_at", oidTimestamptz),
	}
}

func startMockConn(t *testing.T, script *pgmock.Script) *pgx.Conn {
	t.Helper()

	serverErr := make(chan error, 1)
	clientConn, serverConn := net.Pipe()
	go func() {
		defer close(serverErr)
		defer serverConn.Close()
		if err := serverConn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
			serverErr <- err
			return
		}
		backend := pgproto3.NewBackend(pgproto3.NewChunkReader(serverConn), serverConn)
		serverErr <- script.Run(backend)
	}()

	cfg, err := pgx.ParseConfig("user=postgres host=localhost dbname=postgres sslmode=disable")
	require.NoError(t, err)
	cfg.DialFunc = func(_ context.Context, _, _ string) (net.Conn, error) {
		return clientConn, nil
	}
	cfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	if cfg.RuntimeParams == nil {
		cfg.RuntimeParams = map[string]string{}
	}
	cfg.RuntimeParams["standard_conforming_strings"] = "on"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := pgx.ConnectConfig(ctx, cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close(context.Background())
		_ = clientConn.Close()
		if err := <-serverErr; err != nil {
			t.Errorf("mock server: %v", err)
		}
	})
	return conn
}
