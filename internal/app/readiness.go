package app

import (
	"context"
	"fmt"

	httpserver "github.com/ubtguoyi/writing/internal/adapter/httpserver"
)

// Pinger is the minimal interface for a dependency capable of Ping.
type Pinger interface{ Ping(ctx context.Context) error }

// BuildReadinessChecks returns the store check and, when the queue can be
// probed, a queue check.
func BuildReadinessChecks(store Pinger, queue any) []httpserver.ReadyCheck {
	checks := []httpserver.ReadyCheck{{
		Name: "store",
		Check: func(ctx context.Context) error {
			if store == nil {
				return fmt.Errorf("store not configured")
			}
			return store.Ping(ctx)
		},
	}}
	if p, ok := queue.(Pinger); ok && p != nil {
		checks = append(checks, httpserver.ReadyCheck{Name: "queue", Check: p.Ping})
	}
	return checks
}
