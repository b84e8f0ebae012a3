package analysis

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates no analysis result exists for the lookup.
var ErrNotFound = errors.New("analysis result not found")

// ErrAlreadyAnalyzed indicates the article already carries a result at the
// current version.
var ErrAlreadyAnalyzed = errors.New("article already analyzed")

// Workflow stages, carried on StageError for classification.
const (
	StageContent    = "content_analysis"
	StageValidation = "signal_validation"
)

// StageError wraps a stage failure together with the usage already spent,
// so the caller can charge the budget for a failed task.
type StageError struct {
	Stage   string
	CostUSD float64
	Tokens  int
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
