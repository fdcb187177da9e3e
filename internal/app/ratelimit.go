package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/ubtguoyi/writing/internal/adapter/ratelimit"
	"github.com/ubtguoyi/writing/internal/adapter/workflow"
	"github.com/ubtguoyi/writing/internal/config"
)

// OpenWorkflowLimiter returns a nil limiter when WorkflowRatePerMin is not positive.
// The returned close func is never nil.
func OpenWorkflowLimiter(ctx context.Context, cfg config.Config) (workflow.Limiter, func(), error) {
	noop := func() {}
	if cfg.WorkflowRatePerMin <= 0 {
		return nil, noop, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, noop, fmt.Errorf("op=app.OpenWorkflowLimiter: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		// the limiter fails open, so an unreachable Redis only loses throttling
		slog.Warn("workflow rate limiter redis unreachable", slog.Any("error", err))
	}
	l := ratelimit.NewRedisLimiter(rdb, ratelimit.NewBucketConfigFromPerMinute(cfg.WorkflowRatePerMin))
	slog.Info("workflow rate limiter enabled", slog.Int("per_min", cfg.WorkflowRatePerMin))
	return l, func() { _ = rdb.Close() }, nil
}
