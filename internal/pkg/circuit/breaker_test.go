package circuit

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAndRecovers(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("yahoo", 2, time.Minute)
	cb.SetClock(func() time.Time { return now })
	boom := errors.New("boom")

	assert.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
	assert.Equal(t, StateOpen, cb.State())

	calls := 0
	err := cb.Execute(func() error { calls++; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.Zero(t, calls)

	now = now.Add(2 * time.Minute)
	assert.NoError(t, cb.Execute(func() error { calls++; return nil }))
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker("broker", 1, time.Second)
	cb.SetClock(func() time.Time { return now })
	cb.RecordFailure(errors.New("x"))
	assert.False(t, cb.Allow())

	now = now.Add(2 * time.Second)
	assert.True(t, cb.Allow())
	assert.False(t, cb.Allow(), "only one probe while half-open")
	cb.RecordFailure(errors.New("still down"))
	assert.Equal(t, StateOpen, cb.State())
}

func TestRegistryAlertsOncePerOpen(t *testing.T) {
	var alerts atomic.Int32
	done := make(chan struct{}, 4)
	reg := NewRegistry(1, time.Hour, func(name string, lastErr error) {
		alerts.Add(1)
		done <- struct{}{}
	})
	cb := reg.Get("feed")
	assert.Same(t, cb, reg.Get("feed"))

	for i := 0; i < 5; i++ {
		_ = cb.Execute(func() error { return errors.New("down") })
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected alert")
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), alerts.Load())
	assert.Equal(t, StateOpen, reg.Snapshot()["feed"])
}
