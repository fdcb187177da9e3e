package usecase

import (
	"context"
	"time"
)

const defaultCallTimeout = 120 * time.Second

func withCallTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = defaultCallTimeout
	}
	return context.WithTimeout(ctx, d)
}
