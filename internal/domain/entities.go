package domain

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrRateLimited       = errors.New("rate limited")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrExternalCall      = errors.New("external call failed")
	// ErrUpstreamShapeUnrecognized and ErrFieldParse are recovered locally and
	// only ever logged; they never reach an HTTP response.
	ErrUpstreamShapeUnrecognized = errors.New("upstream shape unrecognized")
	ErrFieldParse                = errors.New("field parse failure")
	ErrInternal                  = errors.New("internal error")
)

//go:generate mockery --name=KVStore --with-expecter --filename=kv_store_mock.go
//go:generate mockery --name=WorkflowClient --with-expecter --filename=workflow_client_mock.go
//go:generate mockery --name=Uploader --with-expecter --filename=uploader_mock.go
//go:generate mockery --name=Queue --with-expecter --filename=queue_mock.go

// RecordStatus is the lifecycle state of a CorrectionRecord.
type RecordStatus string

const (
	StatusProcessing RecordStatus = "processing"
	StatusCompleted  RecordStatus = "completed"
	StatusError      RecordStatus = "error"
)

// ErrorKind distinguishes why a record ended in StatusError.
type ErrorKind string

const (
	ErrorKindTimeout           ErrorKind = "timeout"
	ErrorKindExternalCall      ErrorKind = "external_call"
	ErrorKindShapeUnrecognized ErrorKind = "shape_unrecognized"
	ErrorKindStale             ErrorKind = "stale"
)

// ErrorKindOf classifies a chain error.
func ErrorKindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout
	case errors.Is(err, ErrUpstreamShapeUnrecognized):
		return ErrorKindShapeUnrecognized
	default:
		return ErrorKindExternalCall
	}
}

// DimensionScore is one 0..20 score with its rationale.
type DimensionScore struct {
	Score  int    `json:"score"`
	Reason string `json:"reason"`
}

// ScoreSet holds the five grading dimensions.
// Invariant: Total == sum of the dimension scores.
type ScoreSet struct {
	Content      DimensionScore `json:"content"`
	Structure    DimensionScore `json:"structure"`
	Language     DimensionScore `json:"language"`
	Theme        DimensionScore `json:"theme"`
	Presentation DimensionScore `json:"presentation"`
	Total        int            `json:"total"`
}

// Sum recomputes the total from the dimensions.
func (s ScoreSet) Sum() int {
	return s.Content.Score + s.Structure.Score + s.Language.Score + s.Theme.Score + s.Presentation.Score
}

// WrongChar is a miswritten character. Key: WrongChar.
type WrongChar struct {
	WrongChar   string `json:"wrongChar"`
	CorrectChar string `json:"correctChar"`
	WrongType   string `json:"wrongType"`
	Context     string `json:"context"`
	// Recovered marks best-effort data obtained through repair rather than strict parsing.
	Recovered bool `json:"recovered,omitempty"`
}

// WrongSentence is a faulty sentence. Key: Sentence.
type WrongSentence struct {
	Sentence   string `json:"sentence"`
	Correction string `json:"correction"`
	ErrorType  string `json:"errorType"`
	Analysis   string `json:"analysis"`
	Recovered  bool   `json:"recovered,omitempty"`
}

// WrongWord is a misused word. Key: WrongWords.
type WrongWord struct {
	WrongWords   string `json:"wrongWords"`
	CorrectWords string `json:"correctWords"`
	WrongType    string `json:"wrongType"`
	WrongReason  string `json:"wrongReason"`
	Sentence     string `json:"sentence"`
	Recovered    bool   `json:"recovered,omitempty"`
}

// ImprovementItem suggests a better word for a sentence.
type ImprovementItem struct {
	Sentence         string   `json:"sentence"`
	ImprovementWord  string   `json:"improvementWord"`
	ImprovementType  string   `json:"improvementType"`
	RecommendedWords []string `json:"recommendedWords"`
	ImprovedSentence string   `json:"improvedSentence"`
	WordClass        string   `json:"wordClass"`
	Recovered        bool     `json:"recovered,omitempty"`
}

// CorrectionRecord is one essay submission.
type CorrectionRecord struct {
	ID                   string            `json:"id"`
	Title                string            `json:"title"`
	Grade                Grade             `json:"grade"`
	WordCountRequirement int               `json:"wordCountRequirement"`
	ImageCount           int               `json:"imageCount"`
	ImageFileIDs         []string          `json:"imageFileIds,omitempty"`
	SubmittedAt          string            `json:"submittedAt"`
	UpdatedAt            string            `json:"updatedAt,omitempty"`
	Status               RecordStatus      `json:"status"`
	OriginalText         string            `json:"originalText"`
	Scores               ScoreSet          `json:"scores"`
	WrongChars           []WrongChar       `json:"wrongChars"`
	WrongSentences       []WrongSentence   `json:"wrongSentences"`
	WrongWords           []WrongWord       `json:"wrongWords"`
	Improvements         []ImprovementItem `json:"improvements"`
	Error                string            `json:"error,omitempty"`
	ErrorKind            ErrorKind         `json:"errorKind,omitempty"`
}

// timestamp layouts accepted for stored dates, most specific first
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"2006-01-02",
	"2006/1/2 15:04:05",
	"2006/1/2",
}

// ParseTimestamp parses a stored date. The bool is false for empty or unparsable input.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatTimestamp renders t the way records store it.
func FormatTimestamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

// SubmittedTime returns the parsed submission time.
func (r CorrectionRecord) SubmittedTime() (time.Time, bool) { return ParseTimestamp(r.SubmittedAt) }

// UpdatedTime returns the parsed last update time, falling back to the submission time.
func (r CorrectionRecord) UpdatedTime() (time.Time, bool) {
	if t, ok := ParseTimestamp(r.UpdatedAt); ok {
		return t, true
	}
	return r.SubmittedTime()
}

// StoryOption is one selectable answer of a StoryQuestion.
type StoryOption struct {
	Text     string `json:"text"`
	Feedback string `json:"feedback"`
}

// StoryQuestion is a generated vocabulary-practice item.
type StoryQuestion struct {
	ID           int           `json:"id"`
	ImageURL     string        `json:"imageUrl"`
	QuestionText string        `json:"questionText"`
	Options      []StoryOption `json:"options"`
	// CorrectIndex is -1 when there are no options.
	CorrectIndex int `json:"correctIndex"`
	// CorrectAssumed is set when no option carried positive feedback and index 0 was assumed.
	CorrectAssumed bool `json:"correctAssumed,omitempty"`
	Placeholder    bool `json:"placeholder,omitempty"`
}

// EntryKind enumerates error-book entry kinds.
type EntryKind string

const (
	EntryChar     EntryKind = "char"
	EntryWord     EntryKind = "word"
	EntrySentence EntryKind = "sentence"
)

// ErrorBookEntry is one deduplicated mistake across the essay history.
type ErrorBookEntry struct {
	Kind       EntryKind `json:"kind"`
	Original   string    `json:"original"`
	Correction string    `json:"correction"`
	Reason     string    `json:"reason"`
	ErrorType  string    `json:"errorType"`
	EssayTitle string    `json:"essay"`
	RecordID   string    `json:"recordId"`
	Date       string    `json:"date"`
}

// Report is the rendering view of a completed record.
type Report struct {
	Record     CorrectionRecord `json:"record"`
	GradeName  string           `json:"gradeName"`
	Paragraphs []string         `json:"paragraphs"`
}

// UploadedFile is the upload collaborator's answer. Both fields are opaque.
type UploadedFile struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// CorrectionTask is the queue payload that drives the OCR and grading chain.
type CorrectionTask struct {
	TaskID    string `json:"task_id"`
	RecordID  string `json:"record_id"`
	RequestID string `json:"request_id,omitempty"`
}

// Ports

// KVStore is the persistence collaborator: JSON strings under fixed keys.
type KVStore interface {
	// Get returns the stored value; ok is false when the key is absent.
	Get(ctx Context, key string) (value string, ok bool, err error)
	Set(ctx Context, key, value string) error
	// Update atomically replaces key with the value fn derives from the
	// current one. fn may run more than once when another writer races it.
	Update(ctx Context, key string, fn KVUpdateFunc) error
}

// KVUpdateFunc derives the next value of a key. exists is false when the key
// is absent. Returning write=false leaves the key untouched; a non-nil err
// aborts the update and is returned by KVStore.Update.
type KVUpdateFunc func(current string, exists bool) (next string, write bool, err error)

// WorkflowClient runs an external LLM workflow and returns its decoded response body.
// The body shape is not fixed.
type WorkflowClient interface {
	Run(ctx Context, workflowID string, params map[string]any) (any, error)
}

// Uploader relays an image to the upload collaborator.
type Uploader interface {
	Upload(ctx Context, filename string, data []byte) (UploadedFile, error)
}

// Queue (port)
type Queue interface {
	EnqueueCorrection(ctx Context, task CorrectionTask) error
}

// Context is an alias to keep adapters decoupled from the std import in signatures.
type Context = context.Context
