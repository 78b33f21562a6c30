package logger

import (
	"sync"
	"time"
)

// Failure is an unresolvable error that must stay visible after it is logged.
type Failure struct {
	Component string
	Kind      string
	Key       string
	Message   string
	At        time.Time
}

// FailureSink durably records failures. store/deadletter implements it.
type FailureSink interface {
	RecordFailure(f Failure) error
}

var (
	sinkMu sync.RWMutex
	sink   FailureSink
)

// SetFailureSink installs the dead-letter sink. Passing nil disables it.
func SetFailureSink(s FailureSink) {
	sinkMu.Lock()
	sink = s
	sinkMu.Unlock()
}

// DeadLetter logs err at error level and hands it to the installed sink.
// Nothing is recorded for a nil error.
func DeadLetter(component, kind, key string, err error) {
	if err == nil {
		return
	}
	f := Failure{
		Component: component,
		Kind:      kind,
		Key:       key,
		Message:   err.Error(),
		At:        time.Now().UTC(),
	}
	activeLogger().Error("dead letter",
		"component", component, "kind", kind, "key", key, "err", f.Message)
	sinkMu.RLock()
	s := sink
	sinkMu.RUnlock()
	if s == nil {
		return
	}
	if serr := s.RecordFailure(f); serr != nil {
		Errorf("dead-letter write failed (%s/%s): %v", component, kind, serr)
	}
}
