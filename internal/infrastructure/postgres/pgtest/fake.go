// Package pgtest provides in-memory stand-ins for pgx types in unit tests.
// Only the methods the portal calls are implemented; anything else panics
// through the embedded nil interface.
package pgtest

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Call records one statement
type Call struct {
	SQL  string
	Args []any
}

// Handlers answer statements; nil handlers succeed with no rows
type Handlers struct {
	OnExec     func(sql string, args []any) (pgconn.CommandTag, error)
	OnQuery    func(sql string, args []any) (pgx.Rows, error)
	OnQueryRow func(sql string, args []any) pgx.Row
}

type recorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *recorder) record(sql string, args []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{SQL: strings.Join(strings.Fields(sql), " "), Args: args})
}

// Calls returns every statement seen so far, whitespace collapsed
func (r *recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

func (h Handlers) exec(sql string, args []any) (pgconn.CommandTag, error) {
	if h.OnExec != nil {
		return h.OnExec(sql, args)
	}
	return pgconn.NewCommandTag("OK 1"), nil
}

func (h Handlers) query(sql string, args []any) (pgx.Rows, error) {
	if h.OnQuery != nil {
		return h.OnQuery(sql, args)
	}
	return &Rows{}, nil
}

func (h Handlers) queryRow(sql string, args []any) pgx.Row {
	if h.OnQueryRow != nil {
		return h.OnQueryRow(sql, args)
	}
	return Row{Err: pgx.ErrNoRows}
}

// DB fakes a connection pool
type DB struct {
	recorder
	Handlers
	// Tx is returned from Begin; a fresh one is created when nil
	Tx       *Tx
	BeginErr error
}

// Begin returns d.Tx
func (d *DB) Begin(ctx context.Context) (pgx.Tx, error) {
	if d.BeginErr != nil {
		return nil, d.BeginErr
	}
	if d.Tx == nil {
		d.Tx = &Tx{}
	}
	return d.Tx, nil
}

func (d *DB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.record(sql, args)
	return d.exec(sql, args)
}

func (d *DB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	d.record(sql, args)
	return d.query(sql, args)
}

func (d *DB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	d.record(sql, args)
	return d.queryRow(sql, args)
}

// Tx fakes a transaction
type Tx struct {
	pgx.Tx
	recorder
	Handlers
	CommitErr  error
	Committed  bool
	RolledBack bool
}

func (t *Tx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.record(sql, args)
	return t.exec(sql, args)
}

func (t *Tx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	t.record(sql, args)
	return t.query(sql, args)
}

func (t *Tx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	t.record(sql, args)
	return t.queryRow(sql, args)
}

func (t *Tx) Commit(ctx context.Context) error {
	if t.CommitErr != nil {
		return t.CommitErr
	}
	t.Committed = true
	return nil
}

// Rollback is a no-op after Commit, like pgx
func (t *Tx) Rollback(ctx context.Context) error {
	if !t.Committed {
		t.RolledBack = true
	}
	return nil
}

// Row is a single result row
type Row struct {
	Values []any
	Err    error
}

func (r Row) Scan(dest ...any) error {
	if r.Err != nil {
		return r.Err
	}
	return assign(dest, r.Values)
}

// Rows is a fixed result set
type Rows struct {
	pgx.Rows
	Data   [][]any
	ErrVal error
	pos    int
	Closed bool
}

func (r *Rows) Next() bool {
	if r.Closed || r.pos >= len(r.Data) {
		return false
	}
	r.pos++
	return true
}

func (r *Rows) Scan(dest ...any) error {
	return assign(dest, r.Data[r.pos-1])
}

func (r *Rows) Close() { r.Closed = true }

func (r *Rows) Err() error { return r.ErrVal }

func assign(dest []any, values []any) error {
	if len(dest) != len(values) {
		return fmt.Errorf("pgtest: scan %d destinations from %d values", len(dest), len(values))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		if values[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		v := reflect.ValueOf(values[i])
		if !v.Type().AssignableTo(target.Type()) {
			if !v.Type().ConvertibleTo(target.Type()) {
				return fmt.Errorf("pgtest: cannot scan %T into %s", values[i], target.Type())
			}
			v = v.Convert(target.Type())
		}
		target.Set(v)
	}
	return nil
}
