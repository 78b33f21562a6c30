package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tradeloop/internal/learning"
	"tradeloop/internal/logger"
	"tradeloop/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockText struct{ mock.Mock }

func (m *mockText) SendText(text string) error {
	args := m.Called(text)
	return args.Error(0)
}

type recordSink struct {
	mu  sync.Mutex
	got []logger.Failure
}

func (r *recordSink) RecordFailure(f logger.Failure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, f)
	return nil
}

func TestRenderingUsesSide(t *testing.T) {
	exit := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)
	tr := types.Trade{
		ID: "t1", Symbol: "TSLA", Side: types.SideShort, Quantity: 2, EntryPrice: 200, ExitPrice: 190,
		EntryTime: exit.Add(-2 * time.Hour), ExitTime: &exit, PnL: 20, PnLPct: 5, CloseReason: "target",
	}
	text := Exit(tr).Text()
	assert.Contains(t, text, "SHORT TSLA")
	assert.Contains(t, text, "P&L +20.00")

	text = Entry(types.Position{Symbol: "AAPL", Side: types.SideLong, Quantity: 3, EntryPrice: 50}).Text()
	assert.Contains(t, text, "LONG AAPL")

	a := learning.Adaptation{Learner: "adaptive_weights", Reason: "market performance",
		Changes: []learning.Change{{Key: "crypto", From: 1, To: 1.09}}}
	assert.Contains(t, WeightAdaptation(a).Text(), "crypto 1.000 -> 1.090")
}

func TestAsyncNeverBlocksAndDeadLettersDrops(t *testing.T) {
	sink := &recordSink{}
	logger.SetFailureSink(sink)
	defer logger.SetFailureSink(nil)

	out := &mockText{}
	a := NewAsync(out, 1)
	a.Notify(Alert("one", "x"))
	done := make(chan struct{})
	go func() {
		a.Notify(Alert("two", "x"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked")
	}
	sink.mu.Lock()
	require.Len(t, sink.got, 1)
	assert.Equal(t, "queue_full", sink.got[0].Kind)
	sink.mu.Unlock()
}

func TestAsyncDeliversAndRecordsFailures(t *testing.T) {
	sink := &recordSink{}
	logger.SetFailureSink(sink)
	defer logger.SetFailureSink(nil)

	out := &mockText{}
	out.On("SendText", mock.Anything).Return(errors.New("telegram down")).Once()
	out.On("SendText", mock.Anything).Return(nil)

	a := NewAsync(out, 8, KindAlert)
	a.Notify(Alert("first", "a"))
	a.Notify(Alert("second", "b"))
	a.Notify(Entry(types.Position{Symbol: "AAPL", Side: types.SideLong}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.Run(ctx))

	out.AssertNumberOfCalls(t, "SendText", 2)
	sink.mu.Lock()
	require.Len(t, sink.got, 1)
	assert.Equal(t, "delivery", sink.got[0].Kind)
	sink.mu.Unlock()
}

func TestTelegramRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "chat", body["chat_id"])
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := NewTelegram("token", "chat")
	tg.BaseURL = srv.URL
	tg.Policy.InitialInterval = time.Millisecond
	tg.Policy.MaxInterval = time.Millisecond
	require.NoError(t, tg.SendText("hello"))
	assert.Equal(t, int32(3), calls.Load())

	assert.Error(t, NewTelegram("", "").SendText("x"))
}

func TestLongMessageKeepsFenceClosed(t *testing.T) {
	lines := make([]string, 400)
	for i := range lines {
		lines[i] = strings.Repeat("x", 20)
	}
	text := Message{Title: "big", Sections: []Section{{Title: "rows", Lines: lines}}}.Markdown()
	assert.LessOrEqual(t, len(text), maxMessageLen+8)
	assert.Equal(t, 0, strings.Count(text, "```")%2)
	assert.True(t, strings.HasSuffix(text, "..."))
}

func TestEmptySectionsRenderHeaderOnly(t *testing.T) {
	text := Message{Icon: "!", Title: "ping", Sections: []Section{{Title: "none", Lines: []string{" ", ""}}}}.Markdown()
	assert.Equal(t, "! ping", text)
}
