// Package usecase contains application business logic services.
package usecase

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/ubtguoyi/writing/internal/adapter/observability"
	"github.com/ubtguoyi/writing/internal/domain"
)

// Persistence keys.
const (
	KeyCorrectionRecords = "correctionRecords"
	KeyStoryQuestions    = "storyQuestions"
	KeyStoryTitle        = "storyTitle"
)

// RecordStore reads and writes the correction history as one JSON array.
// Every mutation is a single KVStore.Update, so writers in other processes
// sharing the store never drop each other's records.
type RecordStore struct {
	KV domain.KVStore
}

// NewRecordStore constructs a RecordStore over kv.
func NewRecordStore(kv domain.KVStore) *RecordStore { return &RecordStore{KV: kv} }

// List returns all records, newest first. A corrupt stored value is logged and treated as empty.
func (s *RecordStore) List(ctx domain.Context) ([]domain.CorrectionRecord, error) {
	ctx, span := otel.Tracer("usecase.records").Start(ctx, "records.List")
	defer span.End()
	return s.load(ctx)
}

func (s *RecordStore) load(ctx domain.Context) ([]domain.CorrectionRecord, error) {
	raw, ok, err := s.KV.Get(ctx, KeyCorrectionRecords)
	if err != nil {
		return nil, fmt.Errorf("op=records.load: %w", err)
	}
	recs, err := decodeRecords(raw, ok)
	if err != nil {
		observability.LoggerFromContext(ctx).Error("stored correction records unreadable", slog.Any("error", err))
		return []domain.CorrectionRecord{}, nil
	}
	return recs, nil
}

// decodeRecords parses the stored array. Unreadable data is an ErrInternal
// so that writers refuse to replace it.
func decodeRecords(raw string, exists bool) ([]domain.CorrectionRecord, error) {
	if !exists || raw == "" {
		return []domain.CorrectionRecord{}, nil
	}
	var recs []domain.CorrectionRecord
	if err := json.Unmarshal([]byte(raw), &recs); err != nil {
		return nil, fmt.Errorf("%w: stored correction records unreadable: %v", domain.ErrInternal, err)
	}
	if recs == nil {
		recs = []domain.CorrectionRecord{}
	}
	return recs, nil
}

// mutate runs fn over the stored array inside one atomic KV update. fn may
// run again when a concurrent writer wins; write=false stores nothing.
func (s *RecordStore) mutate(ctx domain.Context, op string, fn func([]domain.CorrectionRecord) ([]domain.CorrectionRecord, bool, error)) error {
	ctx, span := otel.Tracer("usecase.records").Start(ctx, "records."+op)
	defer span.End()
	err := s.KV.Update(ctx, KeyCorrectionRecords, func(cur string, exists bool) (string, bool, error) {
		recs, err := decodeRecords(cur, exists)
		if err != nil {
			return "", false, err
		}
		next, write, err := fn(recs)
		if err != nil || !write {
			return "", false, err
		}
		b, err := json.Marshal(next)
		if err != nil {
			return "", false, err
		}
		return string(b), true, nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("op=records.%s: %w", op, err)
	}
	return nil
}

// Get returns the record with id or domain.ErrNotFound.
func (s *RecordStore) Get(ctx domain.Context, id string) (domain.CorrectionRecord, error) {
	recs, err := s.List(ctx)
	if err != nil {
		return domain.CorrectionRecord{}, err
	}
	for _, r := range recs {
		if r.ID == id {
			return r, nil
		}
	}
	return domain.CorrectionRecord{}, fmt.Errorf("op=records.get: %w: %s", domain.ErrNotFound, id)
}

// Insert prepends rec. An existing id is a conflict.
func (s *RecordStore) Insert(ctx domain.Context, rec domain.CorrectionRecord) error {
	return s.mutate(ctx, "insert", func(recs []domain.CorrectionRecord) ([]domain.CorrectionRecord, bool, error) {
		for _, r := range recs {
			if r.ID == rec.ID {
				return nil, false, fmt.Errorf("%w: %s", domain.ErrConflict, rec.ID)
			}
		}
		return append([]domain.CorrectionRecord{rec}, recs...), true, nil
	})
}

// Update applies fn to the record with id in place and stores the result.
// When fn returns false nothing is written. fn may run more than once.
func (s *RecordStore) Update(ctx domain.Context, id string, fn func(*domain.CorrectionRecord) bool) (domain.CorrectionRecord, error) {
	var out domain.CorrectionRecord
	err := s.mutate(ctx, "update", func(recs []domain.CorrectionRecord) ([]domain.CorrectionRecord, bool, error) {
		for i := range recs {
			if recs[i].ID != id {
				continue
			}
			write := fn(&recs[i])
			out = recs[i]
			return recs, write, nil
		}
		return nil, false, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	})
	if err != nil {
		return domain.CorrectionRecord{}, err
	}
	return out, nil
}

// UpdateAll applies fn to every record and stores the array when any call
// returned true. It returns the records fn changed. fn may run more than once
// per record; only the run that was stored counts.
func (s *RecordStore) UpdateAll(ctx domain.Context, fn func(*domain.CorrectionRecord) bool) ([]domain.CorrectionRecord, error) {
	var changed []domain.CorrectionRecord
	err := s.mutate(ctx, "update_all", func(recs []domain.CorrectionRecord) ([]domain.CorrectionRecord, bool, error) {
		changed = changed[:0]
		for i := range recs {
			if fn(&recs[i]) {
				changed = append(changed, recs[i])
			}
		}
		return recs, len(changed) > 0, nil
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}
