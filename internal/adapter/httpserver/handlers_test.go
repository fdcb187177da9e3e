package httpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpserver "github.com/ubtguoyi/writing/internal/adapter/httpserver"
	"github.com/ubtguoyi/writing/internal/adapter/store/memory"
	"github.com/ubtguoyi/writing/internal/app"
	"github.com/ubtguoyi/writing/internal/config"
	"github.com/ubtguoyi/writing/internal/domain"
	"github.com/ubtguoyi/writing/internal/usecase"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)

type stubWorkflow struct {
	byID map[string]any
	err  error
}

func (s stubWorkflow) Run(_ domain.Context, workflowID string, _ map[string]any) (any, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.byID[workflowID], nil
}

type stubUploader struct{ err error }

func (u stubUploader) Upload(_ domain.Context, filename string, _ []byte) (domain.UploadedFile, error) {
	if u.err != nil {
		return domain.UploadedFile{}, u.err
	}
	return domain.UploadedFile{ID: "id-" + filename}, nil
}

type memQueue struct {
	mu    sync.Mutex
	tasks []domain.CorrectionTask
}

func (q *memQueue) EnqueueCorrection(_ domain.Context, task domain.CorrectionTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

type fixture struct {
	handler     http.Handler
	corrections *usecase.CorrectionService
	queue       *memQueue
}

func newFixture(t *testing.T, wf stubWorkflow, up stubUploader) fixture {
	t.Helper()
	cfg := config.Config{
		AppEnv:              "test",
		MaxUploadMB:         1,
		MaxImages:           3,
		RateLimitPerMin:     1000,
		OCRWorkflowID:       "ocr",
		GradingWorkflowID:   "grading",
		StoryWorkflowID:     "story",
		WorkflowCallTimeout: time.Second,
	}
	kv := memory.New()
	records := usecase.NewRecordStore(kv)
	q := &memQueue{}
	corrections := usecase.NewCorrectionService(records, q, up, wf, nil, cfg)
	srv := httpserver.NewServer(cfg, corrections,
		usecase.NewStoryService(kv, wf, config.StoryThemes{Themes: []string{"森林探险"}}, cfg),
		usecase.NewErrorBookService(records),
		app.BuildReadinessChecks(kv, nil)...,
	)
	return fixture{handler: app.BuildRouter(cfg, srv), corrections: corrections, queue: q}
}

func defaultWorkflow() stubWorkflow {
	return stubWorkflow{byID: map[string]any{
		"ocr": map[string]any{"data": map[string]any{"outputs": map[string]any{"text": "第一段。\n\n天空下我们在天里玩。"}}},
		"grading": map[string]any{"data": map[string]any{"outputs": map[string]any{
			"base":       `{"score_sum":18}`,
			"wrong_char": "[{'wrong_char':'天','correct_char':'田'}]",
		}}},
		"story": map[string]any{"data": map[string]any{"output": []any{map[string]any{
			"question": "小兔子在___上吃草。",
			"selection_list": []any{
				map[string]any{"selection": "草地", "answer": "你真棒！"},
				map[string]any{"selection": "天空", "answer": "很遗憾~"},
			},
		}}}},
	}}
}

func multipartBody(t *testing.T, fields map[string]string, images map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for name, data := range images {
		fw, err := w.CreateFormFile("images[]", name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf, w.FormDataContentType()
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env.Error.Code
}

func submit(t *testing.T, f fixture) domain.CorrectionRecord {
	t.Helper()
	body, ct := multipartBody(t, map[string]string{"title": "我的妈妈", "grade": "primary3", "word_count": "300"}, map[string][]byte{"p1.png": pngBytes})
	req := httptest.NewRequest(http.MethodPost, "/v1/corrections", body)
	req.Header.Set("Content-Type", ct)
	rec := do(t, f.handler, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var got domain.CorrectionRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "/v1/corrections/"+got.ID, rec.Header().Get("Location"))
	return got
}

func TestSubmitCorrection_FullFlow(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultWorkflow(), stubUploader{})
	rec := submit(t, f)
	assert.Equal(t, domain.StatusProcessing, rec.Status)
	assert.Equal(t, []string{"id-p1.png"}, rec.ImageFileIDs)
	require.Len(t, f.queue.tasks, 1)

	// report is not available until the chain finishes
	res := do(t, f.handler, httptest.NewRequest(http.MethodGet, "/v1/corrections/"+rec.ID+"/report", nil))
	assert.Equal(t, http.StatusConflict, res.Code)

	require.NoError(t, f.corrections.Process(context.Background(), f.queue.tasks[0]))

	res = do(t, f.handler, httptest.NewRequest(http.MethodGet, "/v1/corrections/"+rec.ID, nil))
	require.Equal(t, http.StatusOK, res.Code)
	var got domain.CorrectionRecord
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &got))
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, 18, got.Scores.Total)

	res = do(t, f.handler, httptest.NewRequest(http.MethodGet, "/v1/corrections/"+rec.ID+"/report", nil))
	require.Equal(t, http.StatusOK, res.Code)
	var rep domain.Report
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &rep))
	assert.Equal(t, "三年级", rep.GradeName)
	assert.Equal(t, []string{"第一段。", "天空下我们在天里玩。"}, rep.Paragraphs)

	res = do(t, f.handler, httptest.NewRequest(http.MethodGet, "/v1/error-book?q=%E5%A4%A9", nil))
	require.Equal(t, http.StatusOK, res.Code)
	var book struct {
		Items []domain.ErrorBookEntry `json:"items"`
		Count int                     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &book))
	require.Equal(t, 1, book.Count)
	assert.Equal(t, "田", book.Items[0].Correction)

	res = do(t, f.handler, httptest.NewRequest(http.MethodGet, "/v1/corrections", nil))
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), rec.ID)
}

func TestSubmitCorrection_Rejections(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		fields   map[string]string
		images   map[string][]byte
		uploader stubUploader
		want     int
		code     string
	}{
		{"missing title", map[string]string{"grade": "primary3"}, map[string][]byte{"a.png": pngBytes}, stubUploader{}, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"no images", map[string]string{"title": "t", "grade": "primary3"}, nil, stubUploader{}, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"bad word count", map[string]string{"title": "t", "grade": "primary3", "word_count": "many"}, map[string][]byte{"a.png": pngBytes}, stubUploader{}, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"unknown grade", map[string]string{"title": "t", "grade": "college"}, map[string][]byte{"a.png": pngBytes}, stubUploader{}, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"not an image", map[string]string{"title": "t", "grade": "primary3"}, map[string][]byte{"a.txt": []byte("plain text essay")}, stubUploader{}, http.StatusUnsupportedMediaType, "INVALID_ARGUMENT"},
		{"upload failure", map[string]string{"title": "t", "grade": "primary3"}, map[string][]byte{"a.png": pngBytes}, stubUploader{err: fmt.Errorf("%w: upload", domain.ErrExternalCall)}, http.StatusBadGateway, "EXTERNAL_CALL"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, defaultWorkflow(), tt.uploader)
			body, ct := multipartBody(t, tt.fields, tt.images)
			req := httptest.NewRequest(http.MethodPost, "/v1/corrections", body)
			req.Header.Set("Content-Type", ct)
			rec := do(t, f.handler, req)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, errorCode(t, rec))
			assert.Empty(t, f.queue.tasks)
		})
	}
}

func TestSubmitCorrection_RequiresMultipart(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultWorkflow(), stubUploader{})
	req := httptest.NewRequest(http.MethodPost, "/v1/corrections", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := do(t, f.handler, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitCorrection_PayloadTooLarge(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultWorkflow(), stubUploader{})
	big := append(append([]byte{}, pngBytes...), bytes.Repeat([]byte("A"), 2<<20)...)
	body, ct := multipartBody(t, map[string]string{"title": "t", "grade": "primary3"}, map[string][]byte{"big.png": big})
	req := httptest.NewRequest(http.MethodPost, "/v1/corrections", body)
	req.Header.Set("Content-Type", ct)
	rec := do(t, f.handler, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestNotAcceptable(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultWorkflow(), stubUploader{})
	req := httptest.NewRequest(http.MethodGet, "/v1/corrections", nil)
	req.Header.Set("Accept", "text/html")
	rec := do(t, f.handler, req)
	assert.Equal(t, http.StatusNotAcceptable, rec.Code)
}

func TestErrorBook_QueryTooLong(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultWorkflow(), stubUploader{})
	rec := do(t, f.handler, httptest.NewRequest(http.MethodGet, "/v1/error-book?q="+strings.Repeat("a", 201), nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStories_GenerateLoadAnswer(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultWorkflow(), stubUploader{})

	rec := do(t, f.handler, httptest.NewRequest(http.MethodPost, "/v1/stories", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var view usecase.StoryView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "森林探险", view.Theme)
	require.Len(t, view.Questions, 1)

	rec = do(t, f.handler, httptest.NewRequest(http.MethodGet, "/v1/stories", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "小兔子在___上吃草。")

	answer := func(path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return do(t, f.handler, req)
	}
	rec = answer("/v1/stories/1/answer", `{"option":0}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"correct":true,"feedback":"你真棒！"}`, rec.Body.String())

	rec = answer("/v1/stories/1/answer", `{"option":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"correct":false,"feedback":"很遗憾~"}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, answer("/v1/stories/1/answer", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, answer("/v1/stories/1/answer", `{"option":-1}`).Code)
	assert.Equal(t, http.StatusBadRequest, answer("/v1/stories/1/answer", `{"option":5}`).Code)
	assert.Equal(t, http.StatusBadRequest, answer("/v1/stories/x/answer", `{"option":0}`).Code)
	assert.Equal(t, http.StatusNotFound, answer("/v1/stories/7/answer", `{"option":0}`).Code)
}

func TestStories_GenerateWithThemeAndWorkflowFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, stubWorkflow{err: fmt.Errorf("%w: boom", domain.ErrExternalCall)}, stubUploader{})
	req := httptest.NewRequest(http.MethodPost, "/v1/stories", strings.NewReader(`{"theme":"海底世界"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := do(t, f.handler, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var view usecase.StoryView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.True(t, view.Placeholder)
	assert.Equal(t, "海底世界", view.Title)

	bad := httptest.NewRequest(http.MethodPost, "/v1/stories", strings.NewReader(`{"theme":`))
	assert.Equal(t, http.StatusBadRequest, do(t, f.handler, bad).Code)
}

func TestStories_Parse(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultWorkflow(), stubUploader{})
	raw, err := json.Marshal(defaultWorkflow().byID["story"])
	require.NoError(t, err)

	body, err := json.Marshal(map[string]string{"raw": string(raw)})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/stories/parse", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := do(t, f.handler, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "小兔子在___上吃草。")

	req = httptest.NewRequest(http.MethodPost, "/v1/stories/parse", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	rec = do(t, f.handler, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "小兔子在___上吃草。")

	req = httptest.NewRequest(http.MethodPost, "/v1/stories/parse", strings.NewReader(`{"raw":""}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, do(t, f.handler, req).Code)
}
