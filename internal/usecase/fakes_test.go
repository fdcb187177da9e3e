package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ubtguoyi/writing/internal/adapter/store/memory"
	"github.com/ubtguoyi/writing/internal/config"
	"github.com/ubtguoyi/writing/internal/domain"
)

type workflowCall struct {
	ID     string
	Params map[string]any
}

// fakeWorkflow answers Run from a per-workflow responder.
type fakeWorkflow struct {
	mu        sync.Mutex
	calls     []workflowCall
	responses map[string]func(ctx context.Context, params map[string]any) (any, error)
}

func newFakeWorkflow() *fakeWorkflow {
	return &fakeWorkflow{responses: map[string]func(context.Context, map[string]any) (any, error){}}
}

func (f *fakeWorkflow) on(id string, fn func(ctx context.Context, params map[string]any) (any, error)) *fakeWorkflow {
	f.responses[id] = fn
	return f
}

func (f *fakeWorkflow) Run(ctx domain.Context, workflowID string, params map[string]any) (any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, workflowCall{ID: workflowID, Params: params})
	fn := f.responses[workflowID]
	f.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("%w: no responder for %s", domain.ErrExternalCall, workflowID)
	}
	return fn(ctx, params)
}

func (f *fakeWorkflow) Calls() []workflowCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]workflowCall(nil), f.calls...)
}

func respond(v any) func(context.Context, map[string]any) (any, error) {
	return func(context.Context, map[string]any) (any, error) { return v, nil }
}

func fail(err error) func(context.Context, map[string]any) (any, error) {
	return func(context.Context, map[string]any) (any, error) { return nil, err }
}

type fakeUploader struct {
	mu  sync.Mutex
	n   int
	err error
}

func (u *fakeUploader) Upload(_ domain.Context, filename string, data []byte) (domain.UploadedFile, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return domain.UploadedFile{}, u.err
	}
	if len(data) == 0 {
		return domain.UploadedFile{}, fmt.Errorf("%w: empty %s", domain.ErrInvalidArgument, filename)
	}
	u.n++
	return domain.UploadedFile{ID: fmt.Sprintf("file-%d", u.n)}, nil
}

// recordingQueue keeps tasks so tests drive Process explicitly.
type recordingQueue struct {
	mu    sync.Mutex
	tasks []domain.CorrectionTask
	err   error
}

func (q *recordingQueue) EnqueueCorrection(_ domain.Context, task domain.CorrectionTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *recordingQueue) Tasks() []domain.CorrectionTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.CorrectionTask(nil), q.tasks...)
}

// failingKV fails every call.
type failingKV struct{}

func (failingKV) Get(domain.Context, string) (string, bool, error) {
	return "", false, errors.New("store down")
}
func (failingKV) Set(domain.Context, string, string) error { return errors.New("store down") }
func (failingKV) Update(domain.Context, string, domain.KVUpdateFunc) error {
	return errors.New("store down")
}

func testConfig() config.Config {
	return config.Config{
		AppEnv:              "test",
		OCRWorkflowID:       "ocr",
		GradingWorkflowID:   "grading",
		StoryWorkflowID:     "story",
		StoryGrade:          "三年级",
		WorkflowCallTimeout: time.Second,
		GradingTokenBudget:  6000,
		MaxImages:           3,
	}
}

type harness struct {
	kv       *memory.Store
	records  *RecordStore
	workflow *fakeWorkflow
	uploader *fakeUploader
	queue    *recordingQueue
	svc      *CorrectionService
}

func newHarness() *harness {
	h := &harness{
		kv:       memory.New(),
		workflow: newFakeWorkflow(),
		uploader: &fakeUploader{},
		queue:    &recordingQueue{},
	}
	h.records = NewRecordStore(h.kv)
	h.svc = NewCorrectionService(h.records, h.queue, h.uploader, h.workflow, nil, testConfig())
	h.svc.Now = func() time.Time { return time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC) }
	return h
}

func essayInput() SubmitInput {
	return SubmitInput{
		Title:     "我的妈妈",
		Grade:     domain.GradePrimary3,
		WordCount: 300,
		Images:    []Image{{Filename: "p1.jpg", Data: []byte{0xff, 0xd8, 0xff}}},
	}
}
