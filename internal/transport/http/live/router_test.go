package livehttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tradeloop/internal/coordinator"
	"tradeloop/internal/logger"
	"tradeloop/internal/trader"
	"tradeloop/internal/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePipeline struct {
	top      []coordinator.Opportunity
	resolved map[string]bool
}

func (f *fakePipeline) Snapshot() *coordinator.View {
	return &coordinator.View{Mode: coordinator.ModeManual, TradingEnabled: true, Top: f.top}
}

func (f *fakePipeline) TopOpportunities(limit int) []coordinator.Opportunity {
	if limit < len(f.top) {
		return f.top[:limit]
	}
	return f.top
}

func (f *fakePipeline) PendingApprovals() []coordinator.Opportunity { return nil }

func (f *fakePipeline) Learning() coordinator.LearningView {
	return coordinator.LearningView{ModelVersion: 2}
}

func (f *fakePipeline) Resolve(_ context.Context, id string, approve bool) error {
	if id != "c1" {
		return coordinator.ErrUnknownApproval
	}
	f.resolved[id] = approve
	return nil
}

type fakeAccount struct{}

func (fakeAccount) Positions() []types.Position {
	return []types.Position{{Symbol: "AAPL"}}
}

func (fakeAccount) History(int) []types.Trade { return nil }

func (fakeAccount) PnL(time.Time) trader.PnLSummary { return trader.PnLSummary{Capital: 10000} }

type fakeFailures struct{ component string }

func (f *fakeFailures) List(_ context.Context, component string, limit int) ([]logger.Failure, error) {
	f.component = component
	return []logger.Failure{{Component: component, Kind: "save"}}, nil
}

func opp(id string, score float64) coordinator.Opportunity {
	var o coordinator.Opportunity
	o.ID = id
	o.Score = score
	o.Stage = types.StageRanked
	return o
}

func newTestServer(t *testing.T, account Account) (*fakePipeline, http.Handler) {
	t.Helper()
	p := &fakePipeline{top: []coordinator.Opportunity{opp("a", 0.9), opp("b", 0.8), opp("c", 0.7)}, resolved: map[string]bool{}}
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "tradeloop_test_total"}))
	srv, err := NewServer(ServerConfig{Pipeline: p, Account: account, Failures: &fakeFailures{}, Gatherer: reg})
	require.NoError(t, err)
	return p, srv.Handler()
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestOpportunitiesHonoursLimit(t *testing.T) {
	_, h := newTestServer(t, fakeAccount{})
	w := do(h, http.MethodGet, "/api/opportunities?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Opportunities []json.RawMessage `json:"opportunities"`
		Limit         int               `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Opportunities, 2)
	assert.Equal(t, 2, body.Limit)

	w = do(h, http.MethodGet, "/api/opportunities?limit=junk", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, defaultLimit, body.Limit)
}

func TestApprovalEndpoint(t *testing.T) {
	p, h := newTestServer(t, fakeAccount{})

	w := do(h, http.MethodPost, "/api/approvals/c1", `{"approve": false}`)
	assert.Equal(t, http.StatusOK, w.Code)
	approved, ok := p.resolved["c1"]
	assert.True(t, ok)
	assert.False(t, approved)

	assert.Equal(t, http.StatusNotFound, do(h, http.MethodPost, "/api/approvals/zz", `{"approve": true}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/approvals/c1", `{}`).Code)
}

func TestAccountRoutesNeedExecutor(t *testing.T) {
	_, h := newTestServer(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, do(h, http.MethodGet, "/api/positions", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(h, http.MethodGet, "/api/pnl", "").Code)

	_, h = newTestServer(t, fakeAccount{})
	w := do(h, http.MethodGet, "/api/pnl", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"capital":10000`)
}

func TestHealthMetricsAndFailures(t *testing.T) {
	_, h := newTestServer(t, fakeAccount{})
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/healthz", "").Code)

	w := do(h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tradeloop_test_total")

	w = do(h, http.MethodGet, "/api/failures?component=Coordinator", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Coordinator")

	w = do(h, http.MethodGet, "/api/status", "")
	assert.Contains(t, w.Body.String(), `"mode":"manual"`)
}
