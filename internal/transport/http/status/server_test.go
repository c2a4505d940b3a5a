package statushttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trailguard/internal/position"
	"trailguard/internal/volatility"
)

type fakeLedger struct {
	positions map[string]*position.Position
}

func (f *fakeLedger) Snapshot() map[string]*position.Position { return f.positions }

type fakeQueue struct{ depth int }

func (f *fakeQueue) Depth() int { return f.depth }

func testLedger(t *testing.T) *fakeLedger {
	t.Helper()
	pos, err := position.New("RELIANCE", "NSE", position.SideLong, 10, 2800, "CNC", 0.05)
	require.NoError(t, err)
	pos.StopPrice = 2700
	pos.Volatility = &volatility.Info{ATR: 56, ATRPercent: 2.0, Category: volatility.CategoryMedium, StopMultiplier: 1.5}
	return &fakeLedger{positions: map[string]*position.Position{"RELIANCE": pos}}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(ServerConfig{Ledger: testLedger(t), Queue: &fakeQueue{depth: 2}})
	require.NoError(t, err)
	return s
}

func doGet(s *Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	rec := doGet(newTestServer(t), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPositionsEndpoint(t *testing.T) {
	rec := doGet(newTestServer(t), "/api/status/positions")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count     int            `json:"count"`
		Positions []positionView `json:"positions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "RELIANCE", body.Positions[0].Ticker)
	assert.InDelta(t, 2700.0, body.Positions[0].StopPrice, 1e-9)
	require.NotNil(t, body.Positions[0].Volatility)
	assert.Equal(t, "MEDIUM", body.Positions[0].Volatility.Category)
}

func TestPositionDetailNotFound(t *testing.T) {
	rec := doGet(newTestServer(t), "/api/status/positions/TCS")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueueEndpoint(t *testing.T) {
	rec := doGet(newTestServer(t), "/api/status/queue")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Depth int `json:"depth"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Depth)
}

func TestAuditDisabled(t *testing.T) {
	rec := doGet(newTestServer(t), "/api/status/audit/RELIANCE")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequiresLedger(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}
