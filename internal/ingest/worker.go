package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/sdsx/internal/pipeline"
	"github.com/kalambet/sdsx/internal/storage"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// DocumentRunner extracts one stored document.
type DocumentRunner interface {
	Run(ctx context.Context, documentName string) (*pipeline.DocumentRecord, error)
}

// RecordSink stores extracted records.
type RecordSink interface {
	Append(rec *pipeline.DocumentRecord) error
}

// Worker processes extract_document jobs from the SQLite job queue.
type Worker struct {
	store   JobStore
	runner  DocumentRunner
	records RecordSink
	poll    time.Duration
	logger  *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, runner DocumentRunner, records RecordSink, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:   store,
		runner:  runner,
		records: records,
		poll:    pollInterval,
		logger:  slog.Default().With("component", "worker"),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single extract_document job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{storage.JobTypeExtract})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload storage.ExtractJobPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if payload.DocumentName == "" {
		return errors.New("payload has no document_name")
	}

	rec, err := w.runner.Run(ctx, payload.DocumentName)
	if err != nil {
		return fmt.Errorf("extracting %s: %w", payload.DocumentName, err)
	}
	if err := context.Cause(ctx); err != nil {
		return fmt.Errorf("extracting %s: %w", payload.DocumentName, err)
	}

	if err := w.records.Append(rec); err != nil {
		return fmt.Errorf("storing record for %s: %w", payload.DocumentName, err)
	}

	w.logger.Info("job completed", "job_id", job.ID, "document", payload.DocumentName,
		"sections", len(rec.Sections), "total_tokens", rec.TotalTokens)
	return nil
}
