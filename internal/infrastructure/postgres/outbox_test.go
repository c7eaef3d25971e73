package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-rxportal/internal/infrastructure/postgres"
	"github.com/drfirst/go-rxportal/internal/infrastructure/postgres/pgtest"
	"github.com/drfirst/go-rxportal/internal/observability/metrics"
)

type published struct {
	topic string
	key   string
	value []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	fail map[string]error
}

func (p *fakePublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail[key]; err != nil {
		return err
	}
	p.msgs = append(p.msgs, published{topic: topic, key: key, value: value})
	return nil
}

func entryRow(id int64, key, topic string, retries int, lastErr *string) []any {
	return []any{
		id, key, "submission", "RefillSubmitted", json.RawMessage(`{"kind":"refill"}`),
		topic, key, time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC), retries, lastErr,
	}
}

func lockedTx(acquired bool, rows [][]any) *pgtest.Tx {
	tx := &pgtest.Tx{}
	tx.OnQueryRow = func(sql string, args []any) pgx.Row {
		return pgtest.Row{Values: []any{acquired}}
	}
	tx.OnQuery = func(sql string, args []any) (pgx.Rows, error) {
		return &pgtest.Rows{Data: rows}, nil
	}
	return tx
}

func TestProcessBatchPublishesAndMarksProcessed(t *testing.T) {
	tx := lockedTx(true, [][]any{
		entryRow(1, "a", "submissions.refill", 0, nil),
		entryRow(2, "b", "submissions.transfer", 0, nil),
	})
	db := &pgtest.DB{Tx: tx}
	pub := &fakePublisher{}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	outbox := postgres.NewOutbox(db, pub, postgres.OutboxConfig{}, m, nil)
	n, err := outbox.ProcessBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.True(t, tx.Committed)
	require.Len(t, pub.msgs, 2)
	assert.Equal(t, "submissions.refill", pub.msgs[0].topic)
	assert.Equal(t, "a", pub.msgs[0].key)
	assert.JSONEq(t, `{"kind":"refill"}`, string(pub.msgs[0].value))
	assert.Equal(t, "submissions.transfer", pub.msgs[1].topic)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OutboxPublished))

	calls := tx.Calls()
	require.Len(t, calls, 4)
	assert.Contains(t, calls[0].SQL, "pg_try_advisory_xact_lock")
	assert.Contains(t, calls[1].SQL, "FOR UPDATE SKIP LOCKED")
	assert.Equal(t, []any{5, 100}, calls[1].Args)
	assert.Contains(t, calls[2].SQL, "SET processed_at = NOW()")
	assert.Equal(t, []any{int64(1)}, calls[2].Args)
}

func TestProcessBatchSkipsWhenLockHeld(t *testing.T) {
	tx := lockedTx(false, [][]any{entryRow(1, "a", "submissions.refill", 0, nil)})
	pub := &fakePublisher{}

	outbox := postgres.NewOutbox(&pgtest.DB{Tx: tx}, pub, postgres.OutboxConfig{}, nil, nil)
	n, err := outbox.ProcessBatch(context.Background())
	require.NoError(t, err)

	assert.Zero(t, n)
	assert.Empty(t, pub.msgs)
	assert.Len(t, tx.Calls(), 1)
	assert.True(t, tx.RolledBack)
}

func TestProcessBatchRecordsPublishFailure(t *testing.T) {
	tx := lockedTx(true, [][]any{
		entryRow(1, "a", "submissions.refill", 0, nil),
		entryRow(2, "b", "submissions.refill", 0, nil),
	})
	pub := &fakePublisher{fail: map[string]error{"a": errors.New("broker down")}}

	outbox := postgres.NewOutbox(&pgtest.DB{Tx: tx}, pub, postgres.OutboxConfig{}, nil, nil)
	n, err := outbox.ProcessBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.True(t, tx.Committed)

	calls := tx.Calls()
	require.Len(t, calls, 4)
	assert.Contains(t, calls[2].SQL, "retry_count = retry_count + 1")
	assert.Equal(t, []any{"broker down", int64(1)}, calls[2].Args)
	assert.Contains(t, calls[3].SQL, "SET processed_at = NOW()")
}

func TestProcessBatchBeginFailure(t *testing.T) {
	outbox := postgres.NewOutbox(&pgtest.DB{BeginErr: errors.New("no conn")}, &fakePublisher{}, postgres.OutboxConfig{}, nil, nil)
	_, err := outbox.ProcessBatch(context.Background())
	assert.ErrorContains(t, err, "no conn")
}

func TestMoveToDeadLetter(t *testing.T) {
	lastErr := "broker down"
	tx := &pgtest.Tx{}
	tx.OnQuery = func(sql string, args []any) (pgx.Rows, error) {
		return &pgtest.Rows{Data: [][]any{entryRow(7, "k", "submissions.contact", 5, &lastErr)}}, nil
	}
	pub := &fakePublisher{}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	outbox := postgres.NewOutbox(&pgtest.DB{Tx: tx}, pub, postgres.OutboxConfig{DeadLetterTopic: "dlq"}, m, nil)
	n, err := outbox.MoveToDeadLetter(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), n)
	assert.True(t, tx.Committed)
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "dlq", pub.msgs[0].topic)

	var dl map[string]any
	require.NoError(t, json.Unmarshal(pub.msgs[0].value, &dl))
	assert.Equal(t, "submissions.contact", dl["original_topic"])
	assert.Equal(t, "broker down", dl["last_error"])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxDeadLettered))
}

func TestCleanupProcessed(t *testing.T) {
	db := &pgtest.DB{}
	db.OnExec = func(sql string, args []any) (pgconn.CommandTag, error) {
		return pgconn.NewCommandTag("DELETE 3"), nil
	}

	outbox := postgres.NewOutbox(db, &fakePublisher{}, postgres.OutboxConfig{}, nil, nil)
	n, err := outbox.CleanupProcessed(context.Background(), time.Hour)
	require.NoError(t, err)

	assert.Equal(t, int64(3), n)
	calls := db.Calls()
	require.Len(t, calls, 1)
	assert.True(t, strings.HasPrefix(calls[0].SQL, "DELETE FROM outbox"))
	assert.Equal(t, []any{3600.0}, calls[0].Args)
}

func TestGetStats(t *testing.T) {
	oldest := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	db := &pgtest.DB{}
	db.OnQueryRow = func(sql string, args []any) pgx.Row {
		return pgtest.Row{Values: []any{int64(4), int64(1), &oldest}}
	}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	outbox := postgres.NewOutbox(db, &fakePublisher{}, postgres.OutboxConfig{}, m, nil)
	stats, err := outbox.GetStats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(4), stats.Pending)
	assert.Equal(t, int64(1), stats.Failed)
	require.NotNil(t, stats.OldestPending)
	assert.True(t, stats.OldestPending.Equal(oldest))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.OutboxPending))
}

func TestMigrateAppliesSchema(t *testing.T) {
	db := &pgtest.DB{}
	require.NoError(t, postgres.Migrate(context.Background(), db))

	calls := db.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].SQL, "CREATE TABLE IF NOT EXISTS submissions")
	assert.Contains(t, calls[0].SQL, "CREATE TABLE IF NOT EXISTS outbox")
}
