package search

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned when the caller abandons a request mid-pipeline.
var ErrCancelled = errors.New("search cancelled")

// ValidationError rejects malformed input before it enters the pipeline.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// DependencyError wraps a failure of an external capability. The pipeline
// degrades around it instead of failing the request.
type DependencyError struct {
	Component string
	Op        string
	Err       error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Component, e.Op, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// LearningError reports a failed write of learned state. It never reaches callers
// of the search path.
type LearningError struct {
	Op  string
	Err error
}

func (e *LearningError) Error() string {
	return fmt.Sprintf("learning %s: %v", e.Op, e.Err)
}

func (e *LearningError) Unwrap() error { return e.Err }

func Dependency(component, op string, err error) error {
	if err == nil {
		return nil
	}
	return &DependencyError{Component: component, Op: op, Err: err}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
