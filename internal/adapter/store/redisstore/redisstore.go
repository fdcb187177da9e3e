// Package redisstore implements domain.KVStore on Redis strings.
package redisstore

import (
	"errors"
	"fmt"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ubtguoyi/writing/internal/domain"
)

const defaultPrefix = "writing:"

// maxUpdateRetries bounds optimistic transaction retries in Update.
const maxUpdateRetries = 20

// Store keeps each key as a plain Redis string under a namespace prefix.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
}

// New wraps an existing client. An empty prefix uses the default namespace.
func New(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

// NewFromURL parses a redis:// URL and builds a store on a fresh client.
func NewFromURL(url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("op=redisstore.NewFromURL: %w", err)
	}
	return New(redis.NewClient(opts), ""), nil
}

// Get implements domain.KVStore.
func (s *Store) Get(ctx domain.Context, key string) (string, bool, error) {
	ctx, span := otel.Tracer("store.redis").Start(ctx, "kv.Get")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "redis"), attribute.String("kv.key", key))

	v, err := s.rdb.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("op=redisstore.Get: %w", err)
	}
	return v, true, nil
}

// Set implements domain.KVStore. Values never expire.
func (s *Store) Set(ctx domain.Context, key, value string) error {
	ctx, span := otel.Tracer("store.redis").Start(ctx, "kv.Set")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "redis"), attribute.String("kv.key", key))

	if err := s.rdb.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("op=redisstore.Set: %w", err)
	}
	return nil
}

// Update implements domain.KVStore with WATCH/MULTI. A transaction aborted by
// a concurrent write is retried with fn re-run on the fresh value.
func (s *Store) Update(ctx domain.Context, key string, fn domain.KVUpdateFunc) error {
	ctx, span := otel.Tracer("store.redis").Start(ctx, "kv.Update")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "redis"), attribute.String("kv.key", key))

	k := s.prefix + key
	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, k).Result()
		exists := true
		if errors.Is(err, redis.Nil) {
			exists, err = false, nil
		}
		if err != nil {
			return err
		}
		next, write, err := fn(cur, exists)
		if err != nil || !write {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, k, next, 0)
			return nil
		})
		return err
	}
	attempts := 0
	op := func() error {
		attempts++
		err := s.rdb.Watch(ctx, txf, k)
		if errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Millisecond
	bo.MaxInterval = 200 * time.Millisecond
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, maxUpdateRetries), ctx))
	span.SetAttributes(attribute.Int("kv.attempts", attempts))
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("op=redisstore.Update: %w: %s contended", domain.ErrConflict, key)
	}
	if err != nil {
		return fmt.Errorf("op=redisstore.Update: %w", err)
	}
	return nil
}

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx domain.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the client.
func (s *Store) Close() error { return s.rdb.Close() }
