package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Middleware computes one part of a candidate's validation.
type Middleware interface {
	Meta() MiddlewareMeta
	Handle(ctx context.Context, ac *AnalysisContext) error
}

// MiddlewareMeta places a middleware in the run. A failing Critical
// middleware aborts the remaining stages.
type MiddlewareMeta struct {
	Name     string
	Stage    int
	Critical bool
	Timeout  time.Duration
}

// StageError reports which middleware failed.
type StageError struct {
	Meta MiddlewareMeta
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %d %s: %v", e.Meta.Stage, e.Meta.Name, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// IsCritical reports whether err came from a critical middleware.
func IsCritical(err error) bool {
	var se *StageError
	return errors.As(err, &se) && se.Meta.Critical
}
