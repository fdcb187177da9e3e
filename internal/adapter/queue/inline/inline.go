// Package inline runs correction tasks in-process on a bounded goroutine pool.
package inline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ubtguoyi/writing/internal/adapter/observability"
	"github.com/ubtguoyi/writing/internal/domain"
)

const jobType = "correction"

// ErrClosed is returned by EnqueueCorrection after Close.
var ErrClosed = errors.New("inline queue closed")

// Handler processes one task.
type Handler func(ctx context.Context, task domain.CorrectionTask) error

// Queue implements domain.Queue. Tasks run detached from the caller's
// cancellation but keep its values, such as the request id.
type Queue struct {
	handler Handler
	sem     chan struct{}

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a queue running at most concurrency tasks at once.
func New(concurrency int, h Handler) *Queue {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Queue{handler: h, sem: make(chan struct{}, concurrency)}
}

// SetHandler installs the handler; used when the handler depends on the queue itself.
func (q *Queue) SetHandler(h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler = h
}

// EnqueueCorrection implements domain.Queue.
func (q *Queue) EnqueueCorrection(ctx domain.Context, task domain.CorrectionTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("op=inline.EnqueueCorrection: %w", ErrClosed)
	}
	if q.handler == nil {
		return fmt.Errorf("op=inline.EnqueueCorrection: %w: no handler", domain.ErrInternal)
	}
	h := q.handler
	bg := context.WithoutCancel(ctx)
	q.wg.Add(1)
	observability.EnqueueJob(jobType)
	go func() {
		defer q.wg.Done()
		q.sem <- struct{}{}
		defer func() { <-q.sem }()
		defer func() {
			if r := recover(); r != nil {
				observability.LoggerFromContext(bg).Error("correction task panicked", slog.String("record_id", task.RecordID), slog.Any("panic", r))
			}
		}()
		if err := h(bg, task); err != nil {
			observability.LoggerFromContext(bg).Warn("correction task failed", slog.String("record_id", task.RecordID), slog.Any("error", err))
		}
	}()
	return nil
}

// Close stops accepting tasks and waits for running ones until ctx is done.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
