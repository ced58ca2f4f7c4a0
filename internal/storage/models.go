package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document is an uploaded SDS file kept under the documents directory.
type Document struct {
	Name       string
	Path       string
	SizeBytes  int64
	SHA256     string
	UploadedAt time.Time
}

// JobTypeExtract is the job type for an asynchronous document extraction.
const JobTypeExtract = "extract_document"

// ExtractJobPayload is the payload of a JobTypeExtract job.
type ExtractJobPayload struct {
	DocumentName string `json:"document_name"`
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
