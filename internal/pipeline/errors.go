package pipeline

import (
	"errors"
	"fmt"
)

// ErrTimeout is wrapped by outcomes of sections that exceeded the task
// timeout.
var ErrTimeout = errors.New("section extraction timed out")

// IngestionError is fatal for a run: the document could not be turned into a
// searchable collection, so no section was extracted.
type IngestionError struct {
	Document   string
	Collection string
	Stage      string
	Err        error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingesting %s into %s: %s: %v", e.Document, e.Collection, e.Stage, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// AssemblyError means outcomes and the section registry disagree. It is a
// programming defect, never a per-document condition.
type AssemblyError struct {
	Key    string
	Reason string
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("assembling record: section %q: %s", e.Key, e.Reason)
}
