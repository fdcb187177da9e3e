package usecase

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"

	"github.com/ubtguoyi/writing/internal/adapter/observability"
	"github.com/ubtguoyi/writing/internal/config"
	"github.com/ubtguoyi/writing/internal/domain"
	"github.com/ubtguoyi/writing/internal/normalize"
	"github.com/ubtguoyi/writing/pkg/textx"
)

// StoryView is the stored practice set.
type StoryView struct {
	Title      string                 `json:"title"`
	Theme      string                 `json:"theme,omitempty"`
	Questions  []domain.StoryQuestion `json:"questions"`
	Confidence normalize.Confidence   `json:"confidence,omitempty"`
	// Placeholder is set when Questions holds the single failure placeholder.
	Placeholder bool `json:"placeholder,omitempty"`
}

// AnswerResult is the outcome of choosing an option.
type AnswerResult struct {
	Correct  bool   `json:"correct"`
	Feedback string `json:"feedback"`
	// Assumed is set when correctness relied on the first-option convention.
	Assumed bool `json:"assumed,omitempty"`
}

// StoryService generates, stores and checks vocabulary practice questions.
type StoryService struct {
	KV       domain.KVStore
	Workflow domain.WorkflowClient
	Themes   config.StoryThemes
	Cfg      config.Config

	mu sync.Mutex
}

// NewStoryService constructs a StoryService with its dependencies.
func NewStoryService(kv domain.KVStore, wf domain.WorkflowClient, themes config.StoryThemes, cfg config.Config) *StoryService {
	return &StoryService{KV: kv, Workflow: wf, Themes: themes, Cfg: cfg}
}

// Generate runs the story workflow for theme (a random configured theme when
// empty) and stores the normalized questions. Upstream failures are not
// returned as errors; they become a single placeholder question.
func (s *StoryService) Generate(ctx domain.Context, theme string) (StoryView, error) {
	ctx, span := otel.Tracer("usecase.story").Start(ctx, "story.Generate")
	defer span.End()
	lg := observability.LoggerFromContext(ctx)

	theme = strings.TrimSpace(theme)
	if theme == "" {
		theme = s.Themes.Pick()
	}
	params := map[string]any{"theme": theme, "grade": s.Cfg.StoryGrade, "words": "[]"}

	cctx, cancel := withCallTimeout(ctx, s.Cfg.WorkflowCallTimeout)
	raw, err := s.Workflow.Run(cctx, s.Cfg.StoryWorkflowID, params)
	cancel()

	var res normalize.StoryResult
	if err != nil {
		span.RecordError(err)
		lg.Error("story workflow failed", slog.String("theme", theme), slog.Any("error", err))
		res = normalize.StoryQuestions(normalize.Payload{}, normalize.MsgParseError+err.Error())
	} else {
		p := normalize.Unwrap(raw)
		observability.RecordPayloadShape(p.Kind.String(), p.Strategy)
		res = normalize.StoryQuestions(p, normalize.MsgNoQuestionData+"主题: "+theme)
		if res.Placeholder {
			lg.Warn("story payload carried no questions", slog.String("kind", p.Kind.String()), slog.Any("error", domain.ErrUpstreamShapeUnrecognized))
		}
	}
	if res.Confidence == normalize.ConfidenceLow {
		observability.RecordFieldRecovered("storyQuestions")
	}
	if res.Title == "" {
		res.Title = theme
	}
	view := StoryView{Title: res.Title, Theme: theme, Questions: res.Questions, Confidence: res.Confidence, Placeholder: res.Placeholder}
	if err := s.save(ctx, view); err != nil {
		return StoryView{}, err
	}
	lg.Info("story generated", slog.String("theme", theme), slog.Int("questions", len(view.Questions)), slog.Bool("placeholder", view.Placeholder))
	return view, nil
}

// Parse normalizes a pasted raw payload and stores it. Unrecognized input
// stores the unsupported-shape placeholder.
func (s *StoryService) Parse(ctx domain.Context, raw string) (StoryView, error) {
	raw = textx.SanitizeText(raw)
	if raw == "" {
		return StoryView{}, fmt.Errorf("%w: payload required", domain.ErrInvalidArgument)
	}
	p := normalize.Unwrap(raw)
	observability.RecordPayloadShape(p.Kind.String(), p.Strategy)
	res := normalize.StoryQuestions(p, normalize.MsgUnsupportedShape)
	view := StoryView{Title: res.Title, Questions: res.Questions, Confidence: res.Confidence, Placeholder: res.Placeholder}
	if err := s.save(ctx, view); err != nil {
		return StoryView{}, err
	}
	return view, nil
}

// Load returns the stored questions and title; an empty store yields no questions.
func (s *StoryService) Load(ctx domain.Context) (StoryView, error) {
	view := StoryView{Questions: []domain.StoryQuestion{}}
	raw, ok, err := s.KV.Get(ctx, KeyStoryQuestions)
	if err != nil {
		return StoryView{}, fmt.Errorf("op=story.Load: %w", err)
	}
	if ok && raw != "" {
		var qs []domain.StoryQuestion
		if err := json.Unmarshal([]byte(raw), &qs); err != nil {
			observability.LoggerFromContext(ctx).Error("stored story questions unreadable", slog.Any("error", err))
		} else {
			view.Questions = qs
		}
	}
	title, _, err := s.KV.Get(ctx, KeyStoryTitle)
	if err != nil {
		return StoryView{}, fmt.Errorf("op=story.Load: %w", err)
	}
	view.Title = title
	view.Placeholder = len(view.Questions) == 1 && view.Questions[0].Placeholder
	return view, nil
}

// Answer checks option for the stored question id.
func (s *StoryService) Answer(ctx domain.Context, questionID, option int) (AnswerResult, error) {
	view, err := s.Load(ctx)
	if err != nil {
		return AnswerResult{}, err
	}
	for _, q := range view.Questions {
		if q.ID != questionID {
			continue
		}
		if option < 0 || option >= len(q.Options) {
			return AnswerResult{}, fmt.Errorf("%w: option %d out of range", domain.ErrInvalidArgument, option)
		}
		return AnswerResult{
			Correct:  option == q.CorrectIndex,
			Feedback: q.Options[option].Feedback,
			Assumed:  q.CorrectAssumed,
		}, nil
	}
	return AnswerResult{}, fmt.Errorf("%w: question %d", domain.ErrNotFound, questionID)
}

func (s *StoryService) save(ctx domain.Context, view StoryView) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := json.Marshal(view.Questions)
	if err != nil {
		return fmt.Errorf("op=story.save: %w", err)
	}
	if err := s.KV.Set(ctx, KeyStoryQuestions, string(b)); err != nil {
		return fmt.Errorf("op=story.save: %w", err)
	}
	if err := s.KV.Set(ctx, KeyStoryTitle, view.Title); err != nil {
		return fmt.Errorf("op=story.save: %w", err)
	}
	return nil
}
