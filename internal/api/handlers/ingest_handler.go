package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vectorflowhq/vectorflow/internal/core"
	"github.com/vectorflowhq/vectorflow/internal/services"
)

type IngestHandler struct {
	intake *services.IntakeService
}

func NewIngestHandler(intake *services.IntakeService) *IngestHandler {
	return &IngestHandler{intake: intake}
}

type requestUploadBody struct {
	FileName string `json:"file_name"`
	FileHash string `json:"file_hash"`
	UserID   string `json:"user_id,omitempty"`
}

// RequestUpload resolves dedup and hands out a presigned upload target.
func (h *IngestHandler) RequestUpload(w http.ResponseWriter, r *http.Request) {
	var body requestUploadBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	decision, err := h.intake.RequestUpload(r.Context(), body.FileName, body.FileHash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

type triggerProcessingBody struct {
	ObjectKey string `json:"object_key"`
	FileName  string `json:"file_name"`
	FileHash  string `json:"file_hash"`
	UserID    string `json:"user_id,omitempty"`
}

// TriggerProcessing enqueues an ingestion job for an uploaded object.
func (h *IngestHandler) TriggerProcessing(w http.ResponseWriter, r *http.Request) {
	var body triggerProcessingBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := h.intake.TriggerProcessing(r.Context(), body.ObjectKey, body.FileName, body.FileHash, body.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// UploadDocument is the one-shot multipart path: hash, dedup, store, enqueue.
func (h *IngestHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(52 << 20); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "invalid file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "read file", http.StatusBadRequest)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	res, err := h.intake.DirectUpload(r.Context(), header.Filename, contentType, data, r.FormValue("user_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// GetJobStatus returns queue-native state for polling clients.
func (h *IngestHandler) GetJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := h.intake.JobStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":             job.ID,
		"status":         job.Status,
		"progress":       job.Progress,
		"result":         job.ReturnValue,
		"failure_reason": job.FailureReason,
		"metadata": map[string]any{
			"file_name":    job.Payload.OriginalFilename,
			"content_hash": job.Payload.ContentHash,
			"attempts":     job.Attempts,
		},
	})
}

// RetryJob creates an independent new job for a terminal one.
func (h *IngestHandler) RetryJob(w http.ResponseWriter, r *http.Request) {
	res, err := h.intake.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// GetRecordByHash returns the upload record for a content hash.
func (h *IngestHandler) GetRecordByHash(w http.ResponseWriter, r *http.Request) {
	rec, err := h.intake.RecordByHash(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListRecords returns recently touched upload records.
func (h *IngestHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := h.intake.ListRecords(r.Context(), 50)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var vErr *core.ValidationError
	switch {
	case errors.As(err, &vErr):
		http.Error(w, vErr.Error(), http.StatusBadRequest)
	case errors.Is(err, core.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, core.ErrInvalidJobState):
		writeJSON(w, http.StatusConflict, map[string]string{
			"status":  "rejected",
			"message": "cannot retry: job is not in a terminal state",
		})
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
