package api

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/knollbase/knoll/internal/ingest"
	"github.com/knollbase/knoll/internal/log"
)

// documentHandler exposes ingestion and document management endpoints.
type documentHandler struct {
	pipeline  Enqueuer
	jobs      JobReader
	knowledge DocumentCatalog
	uploadDir string
	maxUpload int64
	logger    log.Logger
}

// enqueueResponse acknowledges an accepted ingestion job.
type enqueueResponse struct {
	JobID       string `json:"job_id"`
	DocumentRef string `json:"document_ref"`
	Status      string `json:"status"`
}

// upload accepts a multipart document upload, spools it to disk, and
// enqueues ingestion. Returns 202 immediately; extraction and
// embedding happen on the worker pool.
func (h *documentHandler) upload(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantIDFromPath(w, r, h.logger)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "upload exceeds size limit", h.logger)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_upload", "multipart field 'file' is required", h.logger)
		return
	}
	defer file.Close()

	ref := strings.TrimSpace(r.FormValue("ref"))
	if ref == "" {
		ref = filepath.Base(header.Filename)
	}
	if ref == "" || ref == "." {
		writeError(w, http.StatusBadRequest, "invalid_ref", "document ref is required", h.logger)
		return
	}

	spool, err := h.spoolUpload(file)
	if err != nil {
		h.logger.Error("failed to spool upload", "error", err, "tenant", tenantID)
		writeError(w, http.StatusInternalServerError, "spool_failed", "failed to store upload", h.logger)
		return
	}

	jobID, err := h.pipeline.Enqueue(r.Context(), ingest.Request{
		TenantID:     tenantID,
		DocumentRef:  ref,
		FilePath:     spool,
		DeclaredType: declaredType(header.Filename),
	})
	if err != nil {
		if !errors.Is(err, ingest.ErrQueueFull) {
			// The pipeline removes the spool itself on queue overflow.
			_ = os.Remove(spool)
		}
		h.writeEnqueueError(w, err, tenantID, ref)
		return
	}

	writeJSON(w, http.StatusAccepted, enqueueResponse{
		JobID:       jobID.String(),
		DocumentRef: ref,
		Status:      ingest.StatusQueued,
	}, h.logger)
}

type ingestURLRequest struct {
	URL string `json:"url"`
}

// uploadURL fetches a web page and enqueues its readable content.
// The fetch happens synchronously so the caller learns about an
// unreachable page right away; chunking and embedding stay async.
func (h *documentHandler) uploadURL(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantIDFromPath(w, r, h.logger)
	if !ok {
		return
	}

	var req ingestURLRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}
	if _, err := url.ParseRequestURI(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_url", "a valid http(s) URL is required", h.logger)
		return
	}

	jobID, err := h.pipeline.IngestURL(r.Context(), tenantID, req.URL)
	if err != nil {
		if errors.Is(err, ingest.ErrQueueFull) {
			h.writeEnqueueError(w, err, tenantID, req.URL)
			return
		}
		h.logger.Warn("failed to fetch page", "error", err, "tenant", tenantID, "url", req.URL)
		writeError(w, http.StatusBadGateway, "fetch_failed", "failed to fetch page", h.logger)
		return
	}

	writeJSON(w, http.StatusAccepted, enqueueResponse{
		JobID:       jobID.String(),
		DocumentRef: req.URL,
		Status:      ingest.StatusQueued,
	}, h.logger)
}

// documentJSON is the wire form of a stored document.
type documentJSON struct {
	Ref        string    `json:"ref"`
	Version    int64     `json:"version"`
	ChunkCount int64     `json:"chunk_count"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (h *documentHandler) list(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantIDFromPath(w, r, h.logger)
	if !ok {
		return
	}

	docs, err := h.knowledge.ListDocuments(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("failed to list documents", "error", err, "tenant", tenantID)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list documents", h.logger)
		return
	}

	out := make([]documentJSON, 0, len(docs))
	for _, d := range docs {
		out = append(out, documentJSON{
			Ref:        d.Ref,
			Version:    d.Version,
			ChunkCount: d.ChunkCount,
			UpdatedAt:  d.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": out, "total": len(out)}, h.logger)
}

// delete removes a document and its chunks. The ref is the trailing
// wildcard segment so refs containing slashes (URLs) stay addressable.
func (h *documentHandler) delete(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantIDFromPath(w, r, h.logger)
	if !ok {
		return
	}
	ref := r.PathValue("ref")
	if ref == "" {
		writeError(w, http.StatusBadRequest, "invalid_ref", "document ref is required", h.logger)
		return
	}

	removed, err := h.knowledge.DeleteDocument(r.Context(), tenantID, ref)
	if err != nil {
		h.logger.Error("failed to delete document", "error", err, "tenant", tenantID, "ref", ref)
		writeError(w, http.StatusInternalServerError, "delete_failed", "failed to delete document", h.logger)
		return
	}
	if removed == 0 {
		writeError(w, http.StatusNotFound, "not_found", "document not found", h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// jobJSON is the wire form of an ingestion job.
type jobJSON struct {
	ID          string    `json:"id"`
	DocumentRef string    `json:"document_ref"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	ChunkCount  int       `json:"chunk_count"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (h *documentHandler) jobStatus(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantIDFromPath(w, r, h.logger)
	if !ok {
		return
	}
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "job ID must be a UUID", h.logger)
		return
	}

	job, err := h.jobs.Get(r.Context(), tenantID, jobID)
	if err != nil {
		if errors.Is(err, ingest.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "job not found", h.logger)
			return
		}
		h.logger.Error("failed to get job", "error", err, "tenant", tenantID, "job", jobID)
		writeError(w, http.StatusInternalServerError, "get_failed", "failed to get job", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, jobJSON{
		ID:          job.ID.String(),
		DocumentRef: job.DocumentRef,
		Status:      job.Status,
		Attempts:    job.Attempts,
		ChunkCount:  job.ChunkCount,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}, h.logger)
}

// spoolUpload copies an upload into the spool directory and returns
// the file path. The pipeline removes the file at job completion.
func (h *documentHandler) spoolUpload(src io.Reader) (string, error) {
	f, err := os.CreateTemp(h.uploadDir, "upload-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func (h *documentHandler) writeEnqueueError(w http.ResponseWriter, err error, tenantID uuid.UUID, ref string) {
	if errors.Is(err, ingest.ErrQueueFull) {
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, "queue_full", "ingestion queue is full, retry later", h.logger)
		return
	}
	h.logger.Error("failed to enqueue ingestion", "error", err, "tenant", tenantID, "ref", ref)
	writeError(w, http.StatusInternalServerError, "enqueue_failed", "failed to enqueue ingestion", h.logger)
}

// declaredType maps a filename extension onto the ingestion type set.
// Unknown extensions return "" so extraction falls back to sniffing.
func declaredType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return ingest.TypePDF
	case ".docx":
		return ingest.TypeDOCX
	case ".md", ".markdown":
		return ingest.TypeMarkdown
	case ".html", ".htm":
		return ingest.TypeHTML
	case ".txt":
		return ingest.TypeText
	default:
		return ""
	}
}
