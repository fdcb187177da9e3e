package postgres_test

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// rowStub implements pgx.Row
type rowStub struct{ scan func(dest ...any) error }

func (r rowStub) Scan(dest ...any) error { return r.scan(dest...) }

// poolStub implements postgres.PgxPool and records the last statement.
type poolStub struct {
	execErr  error
	row      rowStub
	lastSQL  string
	lastArgs []any
	beginErr error
	tx       *txStub
}

func (p *poolStub) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.lastSQL, p.lastArgs = sql, args
	return pgconn.CommandTag{}, p.execErr
}

func (p *poolStub) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	p.lastSQL, p.lastArgs = sql, args
	if p.row.scan == nil {
		return rowStub{scan: func(_ ...any) error { return errors.New("no row configured") }}
	}
	return p.row
}

func (p *poolStub) Begin(context.Context) (pgx.Tx, error) {
	if p.beginErr != nil {
		return nil, p.beginErr
	}
	if p.tx == nil {
		p.tx = &txStub{}
	}
	return p.tx, nil
}

// txStub implements the pgx.Tx methods the store uses and records statements.
type txStub struct {
	pgx.Tx
	row        rowStub
	execErr    error
	sqls       []string
	args       [][]any
	committed  bool
	rolledBack bool
}

func (t *txStub) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.sqls = append(t.sqls, sql)
	t.args = append(t.args, args)
	return pgconn.CommandTag{}, t.execErr
}

func (t *txStub) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	t.sqls = append(t.sqls, sql)
	t.args = append(t.args, args)
	if t.row.scan == nil {
		return rowStub{scan: func(_ ...any) error { return pgx.ErrNoRows }}
	}
	return t.row
}

func (t *txStub) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *txStub) Rollback(context.Context) error {
	t.rolledBack = true
	return nil
}
