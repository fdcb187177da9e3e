package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ubtguoyi/writing/internal/domain"
)

// PgxPool is the subset of pgxpool the store needs.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const schema = `CREATE TABLE IF NOT EXISTS kv_store (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// KVStore persists values in the kv_store table.
type KVStore struct{ Pool PgxPool }

// NewKVStore constructs a KVStore with the given pool.
func NewKVStore(p PgxPool) *KVStore { return &KVStore{Pool: p} }

// Migrate creates the table when missing.
func (s *KVStore) Migrate(ctx domain.Context) error {
	if _, err := s.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("op=kv.migrate: %w", err)
	}
	return nil
}

// Get implements domain.KVStore.
func (s *KVStore) Get(ctx domain.Context, key string) (string, bool, error) {
	ctx, span := otel.Tracer("store.postgres").Start(ctx, "kv.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "kv_store"),
	)
	var v string
	err := s.Pool.QueryRow(ctx, `SELECT value FROM kv_store WHERE key=$1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("op=kv.get: %w", err)
	}
	return v, true, nil
}

// Set implements domain.KVStore as an upsert.
func (s *KVStore) Set(ctx domain.Context, key, value string) error {
	ctx, span := otel.Tracer("store.postgres").Start(ctx, "kv.Set")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "kv_store"),
	)
	q := `INSERT INTO kv_store (key, value, updated_at) VALUES ($1,$2,$3)
ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=EXCLUDED.updated_at`
	if _, err := s.Pool.Exec(ctx, q, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=kv.set: %w", err)
	}
	return nil
}

// Update implements domain.KVStore in one transaction. A transaction-scoped
// advisory lock on the key serializes writers, including the first write of
// a key that has no row to lock yet.
func (s *KVStore) Update(ctx domain.Context, key string, fn domain.KVUpdateFunc) (err error) {
	ctx, span := otel.Tracer("store.postgres").Start(ctx, "kv.Update")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT FOR UPDATE"),
		attribute.String("db.sql.table", "kv_store"),
	)
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("op=kv.update: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("op=kv.update: %w", err)
	}
	var cur string
	exists := true
	err = tx.QueryRow(ctx, `SELECT value FROM kv_store WHERE key=$1 FOR UPDATE`, key).Scan(&cur)
	if errors.Is(err, pgx.ErrNoRows) {
		exists, err = false, nil
	}
	if err != nil {
		return fmt.Errorf("op=kv.update: %w", err)
	}
	next, write, err := fn(cur, exists)
	if err != nil {
		return err
	}
	if write {
		q := `INSERT INTO kv_store (key, value, updated_at) VALUES ($1,$2,$3)
ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=EXCLUDED.updated_at`
		if _, err = tx.Exec(ctx, q, key, next, time.Now().UTC()); err != nil {
			return fmt.Errorf("op=kv.update: %w", err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=kv.update: %w", err)
	}
	return nil
}

// Ping runs a trivial query for readiness probes.
func (s *KVStore) Ping(ctx domain.Context) error {
	var one int
	if err := s.Pool.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("op=kv.ping: %w", err)
	}
	return nil
}
