package logger

import (
	"bytes"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func capture(t *testing.T) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	SetOutput(buf)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		SetLevel("info")
	})
	return buf
}

type recordingSink struct{ got []Failure }

func (r *recordingSink) RecordFailure(f Failure) error {
	r.got = append(r.got, f)
	return nil
}

func TestComponentAttribute(t *testing.T) {
	buf := capture(t)
	Named("Trader").Infof("opened %s", "AAPL")
	assert.Contains(t, buf.String(), "component=Trader")
	assert.Contains(t, buf.String(), `msg="opened AAPL"`)
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t)
	SetLevel("warn")
	assert.Equal(t, "warn", Level())
	Named("X").Infof("hidden")
	Debugf("hidden too")
	Warnf("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	SetLevel("nonsense")
	assert.Equal(t, "info", Level())
}

func TestDeadLetterReachesSink(t *testing.T) {
	buf := capture(t)
	sink := &recordingSink{}
	SetFailureSink(sink)
	t.Cleanup(func() { SetFailureSink(nil) })

	DeadLetter("scorer", "predict", "AAPL", errors.New("model missing"))
	DeadLetter("scorer", "predict", "MSFT", nil)

	require.Len(t, sink.got, 1)
	assert.Equal(t, "AAPL", sink.got[0].Key)
	assert.Equal(t, "model missing", sink.got[0].Message)
	assert.Contains(t, buf.String(), "kind=predict")
}

func TestInfoBlockSplitsLines(t *testing.T) {
	buf := capture(t)
	InfoBlock("\n first\nsecond \n")
	out := buf.String()
	assert.Contains(t, out, "first")
	assert.Contains(t, out, "second")
	assert.Equal(t, 2, bytes.Count([]byte(out), []byte("level=INFO")))
}
