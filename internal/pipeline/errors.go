package pipeline

import (
	"errors"
	"fmt"

	"github.com/kiranshivaraju/casefile/pkg/models"
)

// Failure kinds. Every StageError unwraps to exactly one of these.
var (
	ErrSourceUnreadable = errors.New("source video unreadable")
	ErrExtraction       = errors.New("artifact extraction failed")
	ErrGeneration       = errors.New("generation failed")
	ErrPersistence      = errors.New("report persistence failed")
)

// StageError is a failure inside one pipeline stage. It unwraps to both its
// Kind and the underlying cause.
type StageError struct {
	Stage models.ReportStatus
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func stageErr(stage models.ReportStatus, kind, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}
