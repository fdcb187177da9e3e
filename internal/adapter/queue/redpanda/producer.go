// Package redpanda carries correction tasks over a Kafka-compatible broker.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/ubtguoyi/writing/internal/adapter/observability"
	"github.com/ubtguoyi/writing/internal/domain"
)

const jobType = "correction"

// Producer publishes correction tasks and implements domain.Queue.
type Producer struct {
	client *kgo.Client
	topic  string
}

func kotelHooks() kgo.Opt {
	k := kotel.NewKotel(kotel.WithTracer(kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))))
	return kgo.WithHooks(k.Hooks()...)
}

// NewProducer connects an idempotent producer and makes sure the topic exists.
func NewProducer(brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=redpanda.NewProducer: no seed brokers provided")
	}
	if topic == "" {
		return nil, fmt.Errorf("op=redpanda.NewProducer: topic name cannot be empty")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1_000_000),
		kotelHooks(),
	)
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.NewProducer: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := ensureTopic(ctx, client, topic, 1, 1); err != nil {
		slog.Warn("failed to ensure topic, it may already exist", slog.String("topic", topic), slog.Any("error", err))
	}
	slog.Info("redpanda producer created", slog.Any("brokers", brokers), slog.String("topic", topic))
	return &Producer{client: client, topic: topic}, nil
}

// EnqueueCorrection publishes one task keyed by record id so redeliveries of
// the same record land on the same partition.
func (p *Producer) EnqueueCorrection(ctx domain.Context, task domain.CorrectionTask) error {
	rec, err := encodeTask(p.topic, task)
	if err != nil {
		return fmt.Errorf("op=redpanda.EnqueueCorrection: %w", err)
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		observability.LoggerFromContext(ctx).Error("failed to produce correction task",
			slog.String("record_id", task.RecordID), slog.String("topic", p.topic), slog.Any("error", err))
		return fmt.Errorf("op=redpanda.EnqueueCorrection: %w", err)
	}
	observability.EnqueueJob(jobType)
	observability.LoggerFromContext(ctx).Info("correction task enqueued",
		slog.String("record_id", task.RecordID), slog.String("task_id", task.TaskID))
	return nil
}

// Ping checks broker connectivity for readiness probes.
func (p *Producer) Ping(ctx domain.Context) error { return p.client.Ping(ctx) }

// Close flushes and closes the producer.
func (p *Producer) Close() error {
	if p.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = p.client.Flush(ctx)
	p.client.Close()
	return nil
}

func encodeTask(topic string, task domain.CorrectionTask) (*kgo.Record, error) {
	if task.RecordID == "" {
		return nil, fmt.Errorf("%w: record id missing", domain.ErrInvalidArgument)
	}
	b, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(task.RecordID),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "task_id", Value: []byte(task.TaskID)},
			{Key: "request_id", Value: []byte(task.RequestID)},
		},
	}, nil
}

func decodeTask(rec *kgo.Record) (domain.CorrectionTask, error) {
	var task domain.CorrectionTask
	if err := json.Unmarshal(rec.Value, &task); err != nil {
		return task, fmt.Errorf("decode task: %w", err)
	}
	if task.RecordID == "" {
		return task, fmt.Errorf("decode task: %w: record id missing", domain.ErrInvalidArgument)
	}
	return task, nil
}
