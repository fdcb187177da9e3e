package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/ubtguoyi/writing/internal/adapter/observability"
	"github.com/ubtguoyi/writing/internal/config"
	"github.com/ubtguoyi/writing/internal/domain"
	"github.com/ubtguoyi/writing/internal/normalize"
	"github.com/ubtguoyi/writing/pkg/textx"
)

const jobType = "correction"

// uploadConcurrency bounds parallel image uploads per submission.
const uploadConcurrency = 3

// TextTruncator trims essay text to a token budget.
type TextTruncator interface {
	Truncate(text string, budget int) (string, bool)
}

// Image is one uploaded essay photo.
type Image struct {
	Filename string
	Data     []byte
}

// SubmitInput is a validated essay submission.
type SubmitInput struct {
	Title     string
	Grade     domain.Grade
	WordCount int
	Images    []Image
}

// CorrectionService runs essay submissions through the OCR and grading workflows.
type CorrectionService struct {
	Records  *RecordStore
	Queue    domain.Queue
	Uploader domain.Uploader
	Workflow domain.WorkflowClient
	Tokens   TextTruncator
	Cfg      config.Config
	Now      func() time.Time

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewCorrectionService constructs a CorrectionService with its dependencies.
func NewCorrectionService(records *RecordStore, q domain.Queue, up domain.Uploader, wf domain.WorkflowClient, tokens TextTruncator, cfg config.Config) *CorrectionService {
	return &CorrectionService{
		Records:  records,
		Queue:    q,
		Uploader: up,
		Workflow: wf,
		Tokens:   tokens,
		Cfg:      cfg,
		Now:      time.Now,
		inflight: map[string]struct{}{},
	}
}

func (s *CorrectionService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Submit uploads the images, stores a processing record and enqueues the
// correction chain. It returns without waiting for the chain.
func (s *CorrectionService) Submit(ctx domain.Context, in SubmitInput) (domain.CorrectionRecord, error) {
	ctx, span := otel.Tracer("usecase.correction").Start(ctx, "correction.Submit")
	defer span.End()

	in.Title = strings.TrimSpace(in.Title)
	switch {
	case in.Title == "":
		return domain.CorrectionRecord{}, fmt.Errorf("%w: title required", domain.ErrInvalidArgument)
	case !in.Grade.Valid():
		return domain.CorrectionRecord{}, fmt.Errorf("%w: unknown grade %q", domain.ErrInvalidArgument, in.Grade)
	case in.WordCount < 0:
		return domain.CorrectionRecord{}, fmt.Errorf("%w: word count must not be negative", domain.ErrInvalidArgument)
	case len(in.Images) == 0:
		return domain.CorrectionRecord{}, fmt.Errorf("%w: at least one image required", domain.ErrInvalidArgument)
	case s.Cfg.MaxImages > 0 && len(in.Images) > s.Cfg.MaxImages:
		return domain.CorrectionRecord{}, fmt.Errorf("%w: at most %d images", domain.ErrInvalidArgument, s.Cfg.MaxImages)
	}

	lg := observability.LoggerFromContext(ctx)
	fileIDs := make([]string, len(in.Images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)
	for i, img := range in.Images {
		i, img := i, img
		g.Go(func() error {
			f, err := s.Uploader.Upload(gctx, img.Filename, img.Data)
			if err != nil {
				return err
			}
			fileIDs[i] = f.ID
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.CorrectionRecord{}, fmt.Errorf("op=correction.Submit: %w", err)
	}

	now := s.now()
	rec := domain.CorrectionRecord{
		ID:                   ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Title:                in.Title,
		Grade:                in.Grade,
		WordCountRequirement: in.WordCount,
		ImageCount:           len(in.Images),
		ImageFileIDs:         fileIDs,
		SubmittedAt:          domain.FormatTimestamp(now),
		Status:               domain.StatusProcessing,
		WrongChars:           []domain.WrongChar{},
		WrongSentences:       []domain.WrongSentence{},
		WrongWords:           []domain.WrongWord{},
		Improvements:         []domain.ImprovementItem{},
	}
	span.SetAttributes(attribute.String("record.id", rec.ID))
	if err := s.Records.Insert(ctx, rec); err != nil {
		return domain.CorrectionRecord{}, fmt.Errorf("op=correction.Submit: %w", err)
	}

	task := domain.CorrectionTask{TaskID: uuid.New().String(), RecordID: rec.ID, RequestID: observability.RequestIDFromContext(ctx)}
	if err := s.Queue.EnqueueCorrection(ctx, task); err != nil {
		lg.Error("enqueue failed", slog.String("record_id", rec.ID), slog.Any("error", err))
		failed, uerr := s.settle(ctx, rec.ID, fmt.Errorf("%w: enqueue: %v", domain.ErrExternalCall, err))
		if uerr == nil {
			rec = failed
		}
		return rec, fmt.Errorf("op=correction.Submit: %w", err)
	}
	lg.Info("correction submitted", slog.String("record_id", rec.ID), slog.Int("images", len(fileIDs)))
	return rec, nil
}

// Process runs the OCR then grading chain for task and settles the record.
// A second concurrent chain for the same record and a record that already
// left processing are both skipped.
func (s *CorrectionService) Process(ctx domain.Context, task domain.CorrectionTask) error {
	if !s.acquire(task.RecordID) {
		observability.LoggerFromContext(ctx).Info("chain already running", slog.String("record_id", task.RecordID))
		return nil
	}
	defer s.release(task.RecordID)

	ctx, span := otel.Tracer("usecase.correction").Start(ctx, "correction.Process")
	defer span.End()
	span.SetAttributes(attribute.String("record.id", task.RecordID))
	lg := observability.LoggerFromContext(ctx).With(slog.String("record_id", task.RecordID))

	rec, err := s.Records.Get(ctx, task.RecordID)
	if err != nil {
		return fmt.Errorf("op=correction.Process: %w", err)
	}
	if rec.Status != domain.StatusProcessing {
		lg.Info("record already settled; skipping", slog.String("status", string(rec.Status)))
		return nil
	}

	observability.StartProcessingJob(jobType)
	grading, text, err := s.runChain(ctx, rec)
	if err != nil {
		span.RecordError(err)
		kind := domain.ErrorKindOf(err)
		observability.FailJob(jobType, string(kind))
		lg.Warn("correction chain failed", slog.String("kind", string(kind)), slog.Any("error", err))
		if _, uerr := s.settle(ctx, rec.ID, err); uerr != nil {
			return fmt.Errorf("op=correction.Process: %w", uerr)
		}
		return fmt.Errorf("op=correction.Process: %w", err)
	}

	_, err = s.Records.Update(ctx, rec.ID, func(r *domain.CorrectionRecord) bool {
		if r.Status != domain.StatusProcessing {
			return false
		}
		r.Status = domain.StatusCompleted
		r.OriginalText = text
		r.Scores = grading.Scores
		r.WrongChars = grading.WrongChars
		r.WrongSentences = grading.WrongSentences
		r.WrongWords = grading.WrongWords
		r.Improvements = grading.Improvements
		r.Error, r.ErrorKind = "", ""
		r.UpdatedAt = domain.FormatTimestamp(s.now())
		return true
	})
	if err != nil {
		observability.FailJob(jobType, "store")
		return fmt.Errorf("op=correction.Process: %w", err)
	}
	observability.CompleteJob(jobType)
	observability.ObserveScores(map[string]float64{
		"content":      float64(grading.Scores.Content.Score),
		"structure":    float64(grading.Scores.Structure.Score),
		"language":     float64(grading.Scores.Language.Score),
		"theme":        float64(grading.Scores.Theme.Score),
		"presentation": float64(grading.Scores.Presentation.Score),
	})
	lg.Info("correction completed", slog.Int("total", grading.Scores.Total), slog.Any("recovered_fields", grading.RecoveredFields))
	return nil
}

func (s *CorrectionService) runChain(ctx domain.Context, rec domain.CorrectionRecord) (normalize.Grading, string, error) {
	lg := observability.LoggerFromContext(ctx).With(slog.String("record_id", rec.ID))

	ocrRaw, err := s.call(ctx, s.Cfg.OCRWorkflowID, ocrParams(rec))
	if err != nil {
		return normalize.Grading{}, "", fmt.Errorf("ocr: %w", err)
	}
	ocr := normalize.Unwrap(ocrRaw)
	observability.RecordPayloadShape(ocr.Kind.String(), ocr.Strategy)
	text, ok := normalize.OCRText(ocr)
	text = textx.SanitizeText(text)
	if !ok || text == "" {
		return normalize.Grading{}, "", fmt.Errorf("ocr: %w: no text in %s payload", domain.ErrUpstreamShapeUnrecognized, ocr.Kind)
	}

	essay := text
	if s.Tokens != nil {
		if cut, truncated := s.Tokens.Truncate(text, s.Cfg.GradingTokenBudget); truncated {
			lg.Warn("essay text truncated to token budget", slog.Int("budget", s.Cfg.GradingTokenBudget))
			essay = cut
		}
	}

	gradeRaw, err := s.call(ctx, s.Cfg.GradingWorkflowID, gradingParams(rec, essay))
	if err != nil {
		return normalize.Grading{}, "", fmt.Errorf("grading: %w", err)
	}
	gp := normalize.Unwrap(gradeRaw)
	observability.RecordPayloadShape(gp.Kind.String(), gp.Strategy)
	if gp.Kind != normalize.PayloadOutputs {
		return normalize.Grading{}, "", fmt.Errorf("grading: %w: got %s payload", domain.ErrUpstreamShapeUnrecognized, gp.Kind)
	}
	g := normalize.NormalizeGrading(gp.Outputs)
	for _, f := range g.RecoveredFields {
		observability.RecordFieldRecovered(f)
		lg.Warn("field recovered by repair", slog.String("field", f), slog.Any("error", domain.ErrFieldParse))
	}
	return g, text, nil
}

// call runs one workflow under its own deadline.
func (s *CorrectionService) call(ctx domain.Context, workflowID string, params map[string]any) (any, error) {
	cctx, cancel := withCallTimeout(ctx, s.Cfg.WorkflowCallTimeout)
	defer cancel()
	out, err := s.Workflow.Run(cctx, workflowID, params)
	if err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrUpstreamTimeout) {
		err = fmt.Errorf("%w: %w", domain.ErrUpstreamTimeout, err)
	}
	return out, err
}

func ocrParams(rec domain.CorrectionRecord) map[string]any {
	images := make([]string, 0, len(rec.ImageFileIDs))
	for _, id := range rec.ImageFileIDs {
		images = append(images, fmt.Sprintf(`{"file_id":%q}`, id))
	}
	return map[string]any{"images": images}
}

func gradingParams(rec domain.CorrectionRecord, essay string) map[string]any {
	return map[string]any{
		"essay":      essay,
		"title":      rec.Title,
		"grade":      rec.Grade.DisplayName(),
		"word_count": rec.WordCountRequirement,
	}
}

// settle marks the record as error with the kind derived from cause.
func (s *CorrectionService) settle(ctx domain.Context, id string, cause error) (domain.CorrectionRecord, error) {
	return s.Records.Update(ctx, id, func(r *domain.CorrectionRecord) bool {
		if r.Status != domain.StatusProcessing {
			return false
		}
		r.Status = domain.StatusError
		r.Error = cause.Error()
		r.ErrorKind = domain.ErrorKindOf(cause)
		r.UpdatedAt = domain.FormatTimestamp(s.now())
		return true
	})
}

func (s *CorrectionService) acquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if s.inflight == nil {
		s.inflight = map[string]struct{}{}
	}
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *CorrectionService) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// Get returns one record.
func (s *CorrectionService) Get(ctx domain.Context, id string) (domain.CorrectionRecord, error) {
	return s.Records.Get(ctx, id)
}

// List returns the history, newest first.
func (s *CorrectionService) List(ctx domain.Context) ([]domain.CorrectionRecord, error) {
	return s.Records.List(ctx)
}

// Report renders a completed record for display.
func (s *CorrectionService) Report(ctx domain.Context, id string) (domain.Report, error) {
	rec, err := s.Records.Get(ctx, id)
	if err != nil {
		return domain.Report{}, err
	}
	if rec.Status != domain.StatusCompleted {
		return domain.Report{}, fmt.Errorf("%w: record %s is %s", domain.ErrConflict, id, rec.Status)
	}
	return domain.Report{Record: rec, GradeName: rec.Grade.DisplayName(), Paragraphs: paragraphs(rec.OriginalText)}, nil
}

// paragraphs splits essay text on blank lines.
func paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	out := []string{}
	for _, block := range strings.Split(text, "\n\n") {
		if p := strings.TrimSpace(block); p != "" {
			out = append(out, p)
		}
	}
	return out
}
