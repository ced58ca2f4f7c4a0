package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/sdsx/internal/pipeline"
	"github.com/kalambet/sdsx/internal/retrieval"
	"github.com/kalambet/sdsx/internal/storage"
)

const defaultMaxUploadSize = 50 << 20 // 50MB

var pdfMagic = []byte("%PDF-")

// DocumentPipeline runs extractions and searches for stored documents.
type DocumentPipeline interface {
	Run(ctx context.Context, documentName string) (*pipeline.DocumentRecord, error)
	Search(ctx context.Context, documentName, query string, topK int) ([]retrieval.ContextChunk, error)
	Forget(ctx context.Context, documentName string) error
}

// RecordLog stores extracted records.
type RecordLog interface {
	Append(rec *pipeline.DocumentRecord) error
	List() ([]*pipeline.DocumentRecord, error)
}

type AppDeps struct {
	Store         *storage.Store
	Pipeline      DocumentPipeline
	Results       RecordLog
	DocumentsDir  string
	Token         string
	MaxUploadSize int64 // bytes; 0 uses 50MB
}

// DocumentResponse is the JSON form of a stored document.
type DocumentResponse struct {
	Name       string    `json:"name"`
	SizeBytes  int64     `json:"size_bytes"`
	SHA256     string    `json:"sha256"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	SchemaVersion int    `json:"schema_version"`
}

// JobResponse is the JSON form of a queued extraction.
type JobResponse struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewAppHandler(deps AppDeps) http.Handler {
	if deps.MaxUploadSize <= 0 {
		deps.MaxUploadSize = defaultMaxUploadSize
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth(deps))

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/documents", handleUpload(deps))
		r.Get("/documents", handleListDocuments(deps))
		r.Post("/documents/{name}/extract", handleExtract(deps))
		r.Post("/documents/{name}/jobs", handleEnqueueExtract(deps))
		r.Get("/jobs/{id}", handleGetJob(deps))
		r.Get("/records", handleListRecords(deps))
	})

	return r
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		versions, err := deps.Store.AppliedMigrations()
		if err != nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "database unavailable: %v", err)
			return
		}
		resp := HealthResponse{Status: "ok"}
		if n := len(versions); n > 0 {
			resp.SchemaVersion = versions[n-1]
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func toDocumentResponse(d storage.Document) DocumentResponse {
	return DocumentResponse{
		Name:       d.Name,
		SizeBytes:  d.SizeBytes,
		SHA256:     d.SHA256,
		UploadedAt: d.UploadedAt,
	}
}

// validDocumentName accepts plain .pdf file names.
func validDocumentName(name string) bool {
	return name != "" &&
		name == filepath.Base(name) &&
		!strings.HasPrefix(name, ".") &&
		strings.EqualFold(filepath.Ext(name), ".pdf")
}

func handleUpload(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, deps.MaxUploadSize)
		defer r.Body.Close()

		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "multipart field \"file\" is required: %v", err)
			return
		}
		defer file.Close()

		name := filepath.Base(header.Filename)
		if !validDocumentName(name) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "file name %q must be a .pdf file name", header.Filename)
			return
		}

		doc, err := saveUpload(deps.DocumentsDir, name, file)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		prev, err := deps.Store.GetDocument(name)
		replaced := err == nil && prev.SHA256 != doc.SHA256
		if err := deps.Store.SaveDocument(doc); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to record document: %v", err)
			return
		}
		// New content under a known name invalidates the indexed chunks.
		if replaced {
			if err := deps.Pipeline.Forget(r.Context(), name); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to drop stale index: %v", err)
				return
			}
		}

		slog.Info("document uploaded", "document", doc.Name, "size_bytes", doc.SizeBytes)
		writeJSON(w, http.StatusCreated, toDocumentResponse(doc))
	}
}

// saveUpload writes src to dir/name through a temp file, checking the PDF
// header and hashing the content on the way.
func saveUpload(dir, name string, src io.Reader) (storage.Document, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return storage.Document{}, fmt.Errorf("creating documents dir: %w", err)
	}

	head := make([]byte, len(pdfMagic))
	n, _ := io.ReadFull(src, head)
	if !bytes.Equal(head[:n], pdfMagic) {
		return storage.Document{}, errors.New("file is not a PDF")
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return storage.Document{}, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), io.MultiReader(bytes.NewReader(head[:n]), src))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return storage.Document{}, fmt.Errorf("storing upload: %w", err)
	}

	path := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return storage.Document{}, fmt.Errorf("storing upload: %w", err)
	}
	return storage.Document{
		Name:       name,
		Path:       path,
		SizeBytes:  size,
		SHA256:     hex.EncodeToString(h.Sum(nil)),
		UploadedAt: time.Now().UTC().Truncate(time.Second),
	}, nil
}

func handleListDocuments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 500)

		docs, err := deps.Store.ListDocuments(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}

		out := make([]DocumentResponse, len(docs))
		for i, d := range docs {
			out[i] = toDocumentResponse(d)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// lookupDocument writes a 404 and returns false when name is not stored.
func lookupDocument(w http.ResponseWriter, store *storage.Store, name string) bool {
	_, err := store.GetDocument(name)
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "document %q not found", name)
		return false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to get document: %v", err)
		return false
	}
	return true
}

func handleExtract(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if !lookupDocument(w, deps.Store, name) {
			return
		}

		rec, err := deps.Pipeline.Run(r.Context(), name)
		if errors.Is(err, context.Canceled) {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "extraction interrupted: %v", err)
			return
		}
		var ierr *pipeline.IngestionError
		if errors.As(err, &ierr) {
			httpError(w, http.StatusUnprocessableEntity, "ingestion_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "extraction failed: %v", err)
			return
		}

		if err := deps.Results.Append(rec); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store record: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handleEnqueueExtract(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if !lookupDocument(w, deps.Store, name) {
			return
		}

		payload, err := json.Marshal(storage.ExtractJobPayload{DocumentName: name})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create job payload: %v", err)
			return
		}
		job := storage.Job{
			ID:          uuid.New().String(),
			Type:        storage.JobTypeExtract,
			PayloadJSON: string(payload),
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"id":     job.ID,
			"status": "pending",
		})
	}
}

func handleGetJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Store.GetJob(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, JobResponse{
			ID:        job.ID,
			Type:      job.Type,
			Status:    job.Status,
			Attempts:  job.Attempts,
			LastError: job.LastError,
			CreatedAt: job.CreatedAt,
			UpdatedAt: job.UpdatedAt,
		})
	}
}

func handleListRecords(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := deps.Results.List()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read records: %v", err)
			return
		}

		if doc := r.URL.Query().Get("document"); doc != "" {
			filtered := records[:0]
			for _, rec := range records {
				if rec.DocumentName == doc {
					filtered = append(filtered, rec)
				}
			}
			records = filtered
		}
		if records == nil {
			records = []*pipeline.DocumentRecord{}
		}
		writeJSON(w, http.StatusOK, records)
	}
}
