package app

import (
	"github.com/ubtguoyi/writing/internal/adapter/tokencount"
	"github.com/ubtguoyi/writing/internal/adapter/workflow"
	"github.com/ubtguoyi/writing/internal/config"
	"github.com/ubtguoyi/writing/internal/domain"
	"github.com/ubtguoyi/writing/internal/usecase"
)

// Services groups the usecases shared by the server and the worker.
type Services struct {
	Records     *usecase.RecordStore
	Corrections *usecase.CorrectionService
	Stories     *usecase.StoryService
	ErrorBook   usecase.ErrorBookService
}

// NewServices builds the usecases over kv and q, talking to the workflow API
// configured in cfg. limiter may be nil.
func NewServices(cfg config.Config, kv domain.KVStore, q domain.Queue, themes config.StoryThemes, limiter workflow.Limiter) Services {
	wf := workflow.New(cfg, nil)
	if limiter != nil {
		wf.WithLimiter(limiter)
	}
	records := usecase.NewRecordStore(kv)
	return Services{
		Records:     records,
		Corrections: usecase.NewCorrectionService(records, q, wf, wf, tokencount.NewCounter(cfg.TokenEncoding), cfg),
		Stories:     usecase.NewStoryService(kv, wf, themes, cfg),
		ErrorBook:   usecase.NewErrorBookService(records),
	}
}
