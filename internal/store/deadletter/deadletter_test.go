package deadletter

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"tradeloop/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndList(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "dl", "failures.db"))
	require.NoError(t, err)
	defer s.Close()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordFailure(logger.Failure{Component: "Scorer", Kind: "fetch", Key: "AAPL", Message: "timeout", At: base}))
	require.NoError(t, s.RecordFailure(logger.Failure{Component: "Executor", Kind: "persist", Key: "t1", Message: "disk full", At: base.Add(time.Minute)}))
	require.NoError(t, s.RecordFailure(logger.Failure{Component: "Scorer", Kind: "predict", Key: "MSFT", Message: "bad width", At: base.Add(2 * time.Minute)}))

	all, err := s.List(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "predict", all[0].Kind)
	assert.Equal(t, base.Add(2*time.Minute), all[0].At)

	scorer, err := s.List(context.Background(), "Scorer", 1)
	require.NoError(t, err)
	require.Len(t, scorer, 1)
	assert.Equal(t, "MSFT", scorer[0].Key)

	n, err := s.Prune(context.Background(), base.Add(90*time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestInstalledAsLoggerSink(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "failures.db"))
	require.NoError(t, err)
	defer s.Close()

	logger.SetFailureSink(s)
	defer logger.SetFailureSink(nil)

	logger.DeadLetter("Notifier", "delivery", "entry:AAPL", errors.New("telegram 502"))
	logger.DeadLetter("Notifier", "delivery", "ignored", nil)

	got, err := s.List(context.Background(), "Notifier", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "telegram 502", got[0].Message)
	assert.Equal(t, "entry:AAPL", got[0].Key)
}
