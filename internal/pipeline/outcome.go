package pipeline

import (
	"encoding/json"

	"github.com/kalambet/sdsx/internal/extract"
	"github.com/shopspring/decimal"
)

// Status is the terminal state of one section task.
type Status int

const (
	StatusSucceeded Status = iota + 1
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of extracting one section. Value, Cost and Tokens
// are set only on success; Err only on failure.
type Outcome struct {
	SectionKey string
	Status     Status
	Value      json.RawMessage
	Cost       decimal.Decimal
	Tokens     int
	Err        error
}

// Succeeded wraps an extractor result.
func Succeeded(key string, res extract.Result) Outcome {
	return Outcome{
		SectionKey: key,
		Status:     StatusSucceeded,
		Value:      res.Value,
		Cost:       res.Cost,
		Tokens:     res.Tokens,
	}
}

// Failed records a section failure. It contributes nothing to the totals.
func Failed(key string, err error) Outcome {
	return Outcome{
		SectionKey: key,
		Status:     StatusFailed,
		Cost:       decimal.Zero,
		Err:        err,
	}
}

func (o Outcome) OK() bool { return o.Status == StatusSucceeded }
