package usecase

import (
	"github.com/ubtguoyi/writing/internal/domain"
	"github.com/ubtguoyi/writing/internal/normalize"
)

// ErrorBookService aggregates mistakes across the correction history.
type ErrorBookService struct {
	Records *RecordStore
}

// NewErrorBookService constructs an ErrorBookService.
func NewErrorBookService(records *RecordStore) ErrorBookService {
	return ErrorBookService{Records: records}
}

// List returns deduplicated entries, filtered by q when non-empty.
func (s ErrorBookService) List(ctx domain.Context, q string) ([]domain.ErrorBookEntry, error) {
	recs, err := s.Records.List(ctx)
	if err != nil {
		return nil, err
	}
	entries := normalize.Aggregate(recs)
	if q != "" {
		entries = normalize.Search(entries, q)
	}
	if entries == nil {
		entries = []domain.ErrorBookEntry{}
	}
	return entries, nil
}
