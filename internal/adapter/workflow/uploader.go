package workflow

import (
	"bytes"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/otel"

	"github.com/ubtguoyi/writing/internal/adapter/observability"
	"github.com/ubtguoyi/writing/internal/domain"
)

// Upload relays one image to the file endpoint. Non-image content is rejected before any request.
func (c *Client) Upload(ctx domain.Context, filename string, data []byte) (domain.UploadedFile, error) {
	if len(data) == 0 {
		return domain.UploadedFile{}, fmt.Errorf("op=workflow.Upload: %w: empty file", domain.ErrInvalidArgument)
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return domain.UploadedFile{}, fmt.Errorf("op=workflow.Upload: %w: unsupported content type %s", domain.ErrInvalidArgument, mt.String())
	}
	if filename == "" {
		filename = "essay" + mt.Extension()
	}
	ctx, span := otel.Tracer("workflow.client").Start(ctx, "workflow.Upload")
	defer span.End()

	lg := observability.LoggerFromContext(ctx)
	endpoint := c.cfg.WorkflowBaseURL + uploadPath
	var out any
	op := func() error {
		if err := c.throttle(ctx, "upload"); err != nil {
			return backoff.Permanent(err)
		}
		start := time.Now()
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			return backoff.Permanent(err)
		}
		if _, err := fw.Write(data); err != nil {
			return backoff.Permanent(err)
		}
		if err := mw.Close(); err != nil {
			return backoff.Permanent(err)
		}
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
		if err != nil {
			return backoff.Permanent(err)
		}
		r.Header.Set("Authorization", "Bearer "+c.cfg.WorkflowAPIToken)
		r.Header.Set("Content-Type", mw.FormDataContentType())
		resp, err := c.hc.Do(r)
		observability.WorkflowRequestsTotal.WithLabelValues("files", "upload").Inc()
		observability.WorkflowRequestDuration.WithLabelValues("files", "upload").Observe(time.Since(start).Seconds())
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if err := c.checkStatus(lg, resp, "files", "upload"); err != nil {
			return err
		}
		out, err = decodeBody(resp.Body)
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := apiError(out); err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(c.backoffConfig(), ctx)); err != nil {
		span.RecordError(err)
		lg.Error("upload failed", slog.String("filename", filename), slog.Any("error", err))
		return domain.UploadedFile{}, fmt.Errorf("op=workflow.Upload: %w", classify(ctx, err))
	}

	f := uploadedFile(out)
	if f.ID == "" {
		return domain.UploadedFile{}, fmt.Errorf("op=workflow.Upload: %w: response carries no file id", domain.ErrExternalCall)
	}
	lg.Info("upload successful", slog.String("filename", filename), slog.String("file_id", f.ID), slog.String("mime", mt.String()))
	return f, nil
}

// uploadedFile reads {id, text} from the top level or from data.
func uploadedFile(body any) domain.UploadedFile {
	m, _ := body.(map[string]any)
	if m == nil {
		return domain.UploadedFile{}
	}
	f := domain.UploadedFile{ID: str(m["id"]), Text: str(m["text"])}
	if d, ok := m["data"].(map[string]any); ok {
		if f.ID == "" {
			f.ID = str(d["id"])
		}
		if f.Text == "" {
			f.Text = str(d["text"])
		}
	}
	return f
}

func str(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
