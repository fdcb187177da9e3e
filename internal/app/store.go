// Package app wires application components and startup helpers.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ubtguoyi/writing/internal/adapter/store/memory"
	"github.com/ubtguoyi/writing/internal/adapter/store/postgres"
	"github.com/ubtguoyi/writing/internal/adapter/store/redisstore"
	"github.com/ubtguoyi/writing/internal/config"
	"github.com/ubtguoyi/writing/internal/domain"
)

// Store is a KVStore that can be probed for readiness.
type Store interface {
	domain.KVStore
	Pinger
}

// OpenStore builds the KV backend selected by STORE_BACKEND. The returned
// close func is never nil.
func OpenStore(ctx context.Context, cfg config.Config) (Store, func(), error) {
	switch strings.ToLower(cfg.StoreBackend) {
	case config.StoreRedis:
		s, err := redisstore.NewFromURL(cfg.RedisURL)
		if err != nil {
			return nil, func() {}, fmt.Errorf("op=app.OpenStore: %w", err)
		}
		slog.Info("using redis store")
		return s, func() { _ = s.Close() }, nil
	case config.StorePostgres:
		pool, err := postgres.NewPool(ctx, cfg.DBURL)
		if err != nil {
			return nil, func() {}, fmt.Errorf("op=app.OpenStore: %w", err)
		}
		s := postgres.NewKVStore(pool)
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, func() {}, fmt.Errorf("op=app.OpenStore: %w", err)
		}
		slog.Info("using postgres store")
		return s, pool.Close, nil
	case config.StoreMemory, "":
		slog.Warn("using in-memory store; records are lost on restart")
		return memory.New(), func() {}, nil
	default:
		return nil, func() {}, fmt.Errorf("op=app.OpenStore: unknown store backend %q", cfg.StoreBackend)
	}
}
