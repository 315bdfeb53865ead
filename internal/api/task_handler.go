package api

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/unwrap-qr/internal/api/shared"
	"github.com/phrazzld/unwrap-qr/internal/protocol"
	"github.com/phrazzld/unwrap-qr/internal/redact"
	"github.com/phrazzld/unwrap-qr/internal/task"
)

//go:embed templates/*.html
var templateFS embed.FS

// TaskService is the part of task.Service the HTTP layer depends on.
type TaskService interface {
	Submit(ctx context.Context, upload task.Upload) (task.Record, error)
	List() []task.Record
	Get(id protocol.CorrelationID) (task.Record, error)
}

// TaskResponse is the JSON form of a task record.
type TaskResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status"`
	Result    string    `json:"result,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	FileName  string    `json:"file_name,omitempty"`
	Size      int64     `json:"size"`
	Digest    string    `json:"digest"`
}

// PartialSubmitResponse is returned when an upload failed after some of its
// file parts were already queued. Submitted lists the ids of those tasks.
type PartialSubmitResponse struct {
	Error     string   `json:"error"`
	TraceID   string   `json:"trace_id,omitempty"`
	Submitted []string `json:"submitted"`
}

// TaskHandler serves the upload form, the task listing and the JSON API.
type TaskHandler struct {
	service        TaskService
	maxUploadBytes int64
	page           *template.Template
	logger         *slog.Logger
}

// NewTaskHandler creates a TaskHandler. Request bodies larger than
// maxUploadBytes are rejected with 413.
func NewTaskHandler(service TaskService, maxUploadBytes int64, logger *slog.Logger) (*TaskHandler, error) {
	if service == nil {
		return nil, errors.New("task service cannot be nil")
	}
	if maxUploadBytes <= 0 {
		return nil, fmt.Errorf("max upload bytes must be positive, got %d", maxUploadBytes)
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	page, err := template.ParseFS(templateFS, "templates/tasks.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse task template: %w", err)
	}

	return &TaskHandler{
		service:        service,
		maxUploadBytes: maxUploadBytes,
		page:           page,
		logger:         logger.With("component", "task_handler"),
	}, nil
}

// SubmitTasks handles POST /tasks. Every non-empty file part of the
// multipart body becomes one task; the client is redirected to the listing.
func (h *TaskHandler) SubmitTasks(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	// Read the whole body first so an oversized request submits nothing.
	uploads, err := readUploads(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var submitted []string
	for _, upload := range uploads {
		rec, err := h.service.Submit(r.Context(), upload)
		if err != nil {
			if len(submitted) > 0 {
				h.respondPartial(w, r, upload.FileName, submitted, err)
				return
			}
			h.respondError(w, r, err)
			return
		}
		submitted = append(submitted, rec.ID.String())
		h.logger.Debug("upload queued",
			"task_id", rec.ID,
			"file_name", rec.FileName,
			"trace_id", shared.GetTraceID(r.Context()))
	}

	http.Redirect(w, r, "/tasks", http.StatusFound)
}

// ListTasksPage handles GET /tasks with an HTML page.
func (h *TaskHandler) ListTasksPage(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Tasks []task.Record
	}{
		Tasks: h.service.List(),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.page.Execute(w, data); err != nil {
		h.logger.Error("failed to render task list",
			"error", redact.Error(err),
			"trace_id", shared.GetTraceID(r.Context()))
	}
}

// ListTasks handles GET /api/tasks.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	records := h.service.List()
	out := make([]TaskResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, recordToResponse(rec))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, out)
}

// GetTask handles GET /api/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id := protocol.CorrelationID(chi.URLParam(r, "id"))

	rec, err := h.service.Get(id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, recordToResponse(rec))
}

func (h *TaskHandler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
}

// respondPartial reports a failed upload whose earlier parts are already
// queued; those tasks exist and will complete.
func (h *TaskHandler) respondPartial(w http.ResponseWriter, r *http.Request, failedFile string, submitted []string, err error) {
	status := MapErrorToStatusCode(err)
	traceID := shared.GetTraceID(r.Context())

	h.logger.Error("upload partially submitted",
		"submitted_task_ids", submitted,
		"failed_file", failedFile,
		"status_code", status,
		"error", redact.Error(err),
		"trace_id", traceID)

	shared.RespondWithJSON(w, r, status, PartialSubmitResponse{
		Error:     fmt.Sprintf("%s; %d earlier file(s) were queued", GetSafeErrorMessage(err), len(submitted)),
		TraceID:   traceID,
		Submitted: submitted,
	})
}

// readUploads collects the file parts of a multipart request in order.
func readUploads(r *http.Request) ([]task.Upload, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedForm, err)
	}

	var uploads []task.Upload
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, classifyBodyError(err)
		}

		data, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			return nil, classifyBodyError(err)
		}
		if len(data) == 0 {
			continue
		}

		name := part.FileName()
		if name == "" {
			name = part.FormName()
		}
		uploads = append(uploads, task.Upload{FileName: name, Data: data})
	}

	if len(uploads) == 0 {
		return nil, ErrNoFiles
	}
	return uploads, nil
}

func classifyBodyError(err error) error {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) || strings.Contains(err.Error(), "request body too large") {
		return fmt.Errorf("%w: %v", ErrUploadTooBig, err)
	}
	return fmt.Errorf("%w: %v", ErrMalformedForm, err)
}

func recordToResponse(rec task.Record) TaskResponse {
	resp := TaskResponse{
		ID:        rec.ID.String(),
		CreatedAt: rec.CreatedAt,
		Status:    string(rec.Status.Kind),
		FileName:  rec.FileName,
		Size:      rec.Size,
		Digest:    rec.Digest,
	}
	switch rec.Status.Kind {
	case protocol.KindSuccess:
		resp.Result = rec.Status.Text
	case protocol.KindFailure:
		resp.Reason = rec.Status.Text
	}
	return resp
}
