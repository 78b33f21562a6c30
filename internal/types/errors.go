package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures so callers can pick a policy.
type ErrorKind string

const (
	KindDataUnavailable ErrorKind = "data_unavailable"
	KindGateFailed      ErrorKind = "gate_failed"
	KindDependency      ErrorKind = "dependency"
	KindCompliance      ErrorKind = "compliance"
	KindPersistence     ErrorKind = "persistence"
)

// PipelineError tags an error with its kind and the stage that produced it.
type PipelineError struct {
	Kind  ErrorKind
	Stage string
	Key   string
	Err   error
}

func (e *PipelineError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s/%s", e.Stage, e.Kind)
	if e.Key != "" {
		msg += " " + e.Key
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PipelineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func NewError(kind ErrorKind, stage, key string, err error) error {
	return &PipelineError{Kind: kind, Stage: stage, Key: key, Err: err}
}

// KindOf returns the kind of the first PipelineError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
