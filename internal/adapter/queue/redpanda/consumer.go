package redpanda

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/ubtguoyi/writing/internal/adapter/observability"
	"github.com/ubtguoyi/writing/internal/domain"
)

// Handler processes one task. Its error is logged; the offset is committed either way
// because the handler records failures on the correction record itself.
type Handler func(ctx context.Context, task domain.CorrectionTask) error

// Consumer reads correction tasks from a consumer group and runs them on a bounded pool.
type Consumer struct {
	client  *kgo.Client
	handler Handler
	workers int
}

// NewConsumer joins groupID on topic.
func NewConsumer(brokers []string, groupID, topic string, workers int, h Handler) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=redpanda.NewConsumer: no seed brokers provided")
	}
	if groupID == "" {
		return nil, fmt.Errorf("op=redpanda.NewConsumer: missing required group ID")
	}
	if h == nil {
		return nil, fmt.Errorf("op=redpanda.NewConsumer: handler is required")
	}
	if workers <= 0 {
		workers = 1
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.SessionTimeout(30*time.Second),
		kgo.HeartbeatInterval(3*time.Second),
		kgo.FetchMaxWait(5*time.Second),
		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(time.Second),
		kotelHooks(),
	)
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.NewConsumer: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := ensureTopic(ctx, client, topic, 1, 1); err != nil {
		slog.Warn("failed to ensure topic, it may already exist", slog.String("topic", topic), slog.Any("error", err))
	}
	slog.Info("redpanda consumer created", slog.String("group_id", groupID), slog.String("topic", topic), slog.Int("workers", workers))
	return &Consumer{client: client, handler: h, workers: workers}, nil
}

// Run polls until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	sem := make(chan struct{}, c.workers)
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			slog.Error("fetch error", slog.String("topic", topic), slog.Int("partition", int(partition)), slog.Any("error", err))
		})
		fetches.EachRecord(func(rec *kgo.Record) {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			wg.Add(1)
			go func() {
				defer func() { <-sem; wg.Done() }()
				c.handleRecord(ctx, rec)
				c.client.MarkCommitRecords(rec)
			}()
		})
	}
}

func (c *Consumer) handleRecord(ctx context.Context, rec *kgo.Record) {
	task, err := decodeTask(rec)
	if err != nil {
		slog.Error("dropping undecodable task", slog.Int64("offset", rec.Offset), slog.Any("error", err))
		return
	}
	ctx = observability.ContextWithRequestID(ctx, task.RequestID)
	lg := observability.LoggerFromContext(ctx).With(slog.String("record_id", task.RecordID), slog.String("task_id", task.TaskID))
	if err := c.handler(ctx, task); err != nil {
		lg.Warn("correction task failed", slog.Any("error", err))
		return
	}
	lg.Info("correction task handled")
}

// Close commits marked offsets and leaves the group.
func (c *Consumer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.client.CommitMarkedOffsets(ctx); err != nil {
		slog.Warn("commit on close failed", slog.Any("error", err))
	}
	c.client.Close()
	return nil
}
