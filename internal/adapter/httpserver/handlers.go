package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ubtguoyi/writing/internal/config"
	"github.com/ubtguoyi/writing/internal/domain"
	"github.com/ubtguoyi/writing/internal/usecase"
)

const (
	maxJSONBody   = 1 << 20
	maxQueryRunes = 200
)

// ReadyCheck is a named dependency probe used by /readyz.
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server aggregates handler dependencies.
type Server struct {
	Cfg         config.Config
	Corrections *usecase.CorrectionService
	Stories     *usecase.StoryService
	ErrorBook   usecase.ErrorBookService
	Checks      []ReadyCheck
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, corrections *usecase.CorrectionService, stories *usecase.StoryService, errorBook usecase.ErrorBookService, checks ...ReadyCheck) *Server {
	return &Server{Cfg: cfg, Corrections: corrections, Stories: stories, ErrorBook: errorBook, Checks: checks}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// validationDetails flattens validator errors into field -> tag.
func validationDetails(err error) map[string]string {
	out := map[string]string{}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			out[strings.ToLower(fe.Field())] = fe.Tag()
		}
	}
	return out
}

type submitForm struct {
	Title     string `validate:"required,max=200"`
	Grade     string `validate:"required"`
	WordCount int    `validate:"gte=0,lte=10000"`
	Images    int    `validate:"gte=1"`
}

// SubmitCorrectionHandler accepts a multipart essay submission and answers 202
// with the processing record.
func (s *Server) SubmitCorrectionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		if !strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
			writeError(w, r, fmt.Errorf("%w: content-type must be multipart/form-data", domain.ErrInvalidArgument), nil)
			return
		}
		maxBytes := s.Cfg.MaxUploadMB * 1024 * 1024
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) || strings.Contains(strings.ToLower(err.Error()), "too large") {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorEnvelope{Error: apiError{
					Code:    "INVALID_ARGUMENT",
					Message: "payload too large",
					Details: map[string]any{"max_mb": s.Cfg.MaxUploadMB},
				}})
				return
			}
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		files := imageHeaders(r.MultipartForm)
		form := submitForm{
			Title:  strings.TrimSpace(r.FormValue("title")),
			Grade:  strings.TrimSpace(r.FormValue("grade")),
			Images: len(files),
		}
		if wc := strings.TrimSpace(r.FormValue("word_count")); wc != "" {
			n, err := strconv.Atoi(wc)
			if err != nil {
				writeError(w, r, fmt.Errorf("%w: word_count must be an integer", domain.ErrInvalidArgument), map[string]string{"word_count": "integer"})
				return
			}
			form.WordCount = n
		}
		if err := getValidator().Struct(form); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
			return
		}

		images := make([]usecase.Image, 0, len(files))
		for _, fh := range files {
			data, err := readPart(fh)
			if err != nil {
				writeError(w, r, fmt.Errorf("%w: read %s: %v", domain.ErrInvalidArgument, fh.Filename, err), nil)
				return
			}
			if mt := mimetype.Detect(data); !strings.HasPrefix(mt.String(), "image/") {
				writeJSON(w, http.StatusUnsupportedMediaType, errorEnvelope{Error: apiError{
					Code:    "INVALID_ARGUMENT",
					Message: "unsupported media type",
					Details: map[string]any{"mime": mt.String(), "filename": fh.Filename},
				}})
				return
			}
			images = append(images, usecase.Image{Filename: fh.Filename, Data: data})
		}

		rec, err := s.Corrections.Submit(r.Context(), usecase.SubmitInput{
			Title:     form.Title,
			Grade:     domain.Grade(form.Grade),
			WordCount: form.WordCount,
			Images:    images,
		})
		if err != nil {
			if rec.ID != "" {
				writeError(w, r, err, map[string]string{"id": rec.ID})
				return
			}
			writeError(w, r, err, nil)
			return
		}
		w.Header().Set("Location", "/v1/corrections/"+rec.ID)
		writeJSON(w, http.StatusAccepted, rec)
	}
}

// imageHeaders accepts both "images[]" and "images" field names.
func imageHeaders(form *multipart.Form) []*multipart.FileHeader {
	if form == nil {
		return nil
	}
	out := append([]*multipart.FileHeader{}, form.File["images[]"]...)
	return append(out, form.File["images"]...)
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

// ListCorrectionsHandler returns the submission history, newest first.
func (s *Server) ListCorrectionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		recs, err := s.Corrections.List(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": recs})
	}
}

// GetCorrectionHandler returns one record.
func (s *Server) GetCorrectionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, r, fmt.Errorf("%w: id missing", domain.ErrInvalidArgument), nil)
			return
		}
		rec, err := s.Corrections.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// ReportHandler returns the display view of a completed record.
func (s *Server) ReportHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, r, fmt.Errorf("%w: id missing", domain.ErrInvalidArgument), nil)
			return
		}
		rep, err := s.Corrections.Report(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

// ErrorBookHandler returns aggregated mistakes, optionally filtered by q.
func (s *Server) ErrorBookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if len([]rune(q)) > maxQueryRunes {
			writeError(w, r, fmt.Errorf("%w: q too long", domain.ErrInvalidArgument), map[string]any{"max": maxQueryRunes})
			return
		}
		entries, err := s.ErrorBook.List(r.Context(), q)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": entries, "count": len(entries)})
	}
}

type generateStoryRequest struct {
	Theme string `json:"theme" validate:"max=50"`
}

// GenerateStoryHandler runs the story workflow. The body is optional.
func (s *Server) GenerateStoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		var req generateStoryRequest
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
			return
		}
		view, err := s.Stories.Generate(r.Context(), req.Theme)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// LoadStoryHandler returns the stored questions and title.
func (s *Server) LoadStoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		view, err := s.Stories.Load(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

type parseStoryRequest struct {
	Raw string `json:"raw" validate:"required"`
}

// ParseStoryHandler normalizes a pasted workflow payload. A text/plain body is
// taken verbatim; otherwise the payload is read from the "raw" JSON field.
func (s *Server) ParseStoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		var req parseStoryRequest
		if strings.HasPrefix(r.Header.Get("Content-Type"), "text/plain") {
			b, err := io.ReadAll(r.Body)
			if err != nil {
				writeError(w, r, fmt.Errorf("%w: read body: %v", domain.ErrInvalidArgument, err), nil)
				return
			}
			req.Raw = string(b)
		} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
			return
		}
		view, err := s.Stories.Parse(r.Context(), req.Raw)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

type answerRequest struct {
	Option *int `json:"option" validate:"required,gte=0"`
}

// AnswerStoryHandler checks the chosen option of one question.
func (s *Server) AnswerStoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		qid, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: question id must be an integer", domain.ErrInvalidArgument), nil)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		var req answerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
			return
		}
		res, err := s.Stories.Answer(r.Context(), qid, *req.Option)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// ReadyzHandler probes every configured dependency.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, len(s.Checks))
		st := http.StatusOK
		for _, c := range s.Checks {
			if c.Check == nil {
				continue
			}
			if err := c.Check(ctx); err != nil {
				checks = append(checks, check{Name: c.Name, Details: err.Error()})
				st = http.StatusServiceUnavailable
				continue
			}
			checks = append(checks, check{Name: c.Name, OK: true})
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}
