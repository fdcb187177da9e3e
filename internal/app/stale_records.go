package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ubtguoyi/writing/internal/adapter/observability"
	"github.com/ubtguoyi/writing/internal/domain"
	"github.com/ubtguoyi/writing/internal/usecase"
)

// StaleRecordSweeper marks correction records left in processing for too
// long as errors, so a crashed worker never leaves a record pending forever.
type StaleRecordSweeper struct {
	records  *usecase.RecordStore
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time
}

// NewStaleRecordSweeper returns nil when records is nil.
func NewStaleRecordSweeper(records *usecase.RecordStore, maxAge, interval time.Duration) *StaleRecordSweeper {
	if records == nil {
		return nil
	}
	if maxAge <= 0 {
		maxAge = 15 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &StaleRecordSweeper{records: records, maxAge: maxAge, interval: interval, now: time.Now}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *StaleRecordSweeper) Run(ctx context.Context) {
	if s == nil || s.records == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("stale record sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *StaleRecordSweeper) sweepOnce(ctx context.Context) int {
	ctx, span := otel.Tracer("records.sweeper").Start(ctx, "StaleRecordSweeper.sweepOnce")
	defer span.End()

	now := s.now()
	cutoff := now.Add(-s.maxAge)
	span.SetAttributes(attribute.Float64("records.max_processing_age_seconds", s.maxAge.Seconds()))

	swept, err := s.records.UpdateAll(ctx, func(r *domain.CorrectionRecord) bool {
		if r.Status != domain.StatusProcessing {
			return false
		}
		last, ok := r.UpdatedTime()
		if !ok || !last.Before(cutoff) {
			return false
		}
		r.Status = domain.StatusError
		r.ErrorKind = domain.ErrorKindStale
		r.Error = fmt.Sprintf("processing exceeded maximum age %v; marked as error by sweeper", s.maxAge)
		r.UpdatedAt = domain.FormatTimestamp(now)
		return true
	})
	if err != nil {
		span.RecordError(err)
		slog.Error("stale record sweep failed", slog.Any("error", err))
		return 0
	}
	for _, r := range swept {
		observability.FailJob("correction", string(domain.ErrorKindStale))
		slog.Warn("stale record marked as error", slog.String("record_id", r.ID))
	}
	span.SetAttributes(attribute.Int("records.total_marked_error", len(swept)))
	return len(swept)
}
