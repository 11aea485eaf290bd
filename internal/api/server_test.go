package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/kirillm/crystalbot/internal/audit"
	"github.com/kirillm/crystalbot/internal/domain"
	"github.com/kirillm/crystalbot/internal/orchestrator"
	"github.com/kirillm/crystalbot/internal/policy"
	"github.com/kirillm/crystalbot/pkg/utils"
)

type fakeStatus struct {
	report orchestrator.CycleReport
	cycles int
}

func (f fakeStatus) LastReport() (orchestrator.CycleReport, int) { return f.report, f.cycles }

type fakeCycles struct {
	records []domain.CycleRecord
	err     error
}

func (f fakeCycles) GetRecentCycles(_ context.Context, limit int) ([]domain.CycleRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.records) > limit {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func newTestServer(t *testing.T, status StatusSource, cycles CycleStore) (*Server, *audit.Chain) {
	t.Helper()
	chain, err := audit.Open(t.TempDir())
	require.NoError(t, err)
	logger := utils.NewLogger("error")
	return NewServer(logger, domain.ModePaper, status, chain, policy.NewKillSwitch(logger), cycles, 0), chain
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t, fakeStatus{}, nil)

	rec := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", gjson.Get(rec.Body.String(), "data.status").String())

	rec = do(t, s, http.MethodPost, "/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.False(t, gjson.Get(rec.Body.String(), "success").Bool())
}

func TestServer_Status(t *testing.T) {
	report := orchestrator.CycleReport{
		ID:         "c1",
		StartedAt:  time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2025, 3, 1, 10, 0, 5, 0, time.UTC),
		Decision:   domain.Hold("cycle degraded: boom", 0, domain.OutcomeDegraded),
		AuditHash:  "abc",
		Err:        errors.New("boom"),
	}
	s, chain := newTestServer(t, fakeStatus{report: report, cycles: 3}, nil)
	_, err := chain.Append(context.Background(), domain.Hold("quiet", 0.5, domain.OutcomeOK))
	require.NoError(t, err)

	body := do(t, s, http.MethodGet, "/status", "").Body.String()
	assert.Equal(t, "paper", gjson.Get(body, "data.mode").String())
	assert.Equal(t, int64(3), gjson.Get(body, "data.cycles").Int())
	assert.Equal(t, chain.Head(), gjson.Get(body, "data.audit_head").String())
	assert.False(t, gjson.Get(body, "data.kill_switch.active").Bool())
	assert.Equal(t, "c1", gjson.Get(body, "data.last_cycle.id").String())
	assert.True(t, gjson.Get(body, "data.last_cycle.degraded").Bool())
	assert.Equal(t, "boom", gjson.Get(body, "data.last_cycle.error").String())
	assert.Equal(t, "HOLD", gjson.Get(body, "data.last_cycle.decision.action").String())
}

func TestServer_AuditEndpoints(t *testing.T) {
	s, chain := newTestServer(t, fakeStatus{}, nil)
	ctx := context.Background()
	for _, pair := range []string{"BTCUSDT", "ETHUSDT", "BTCUSDT"} {
		_, err := chain.Append(ctx, domain.Decision{Action: domain.ActionBuy, Pair: pair, Amount: 10, Reasoning: "r", Confidence: 0.5})
		require.NoError(t, err)
	}

	body := do(t, s, http.MethodGet, "/audit/verify", "").Body.String()
	assert.True(t, gjson.Get(body, "data.valid").Bool())
	assert.Equal(t, int64(3), gjson.Get(body, "data.entries").Int())

	body = do(t, s, http.MethodGet, "/audit/history?pair=BTCUSDT&limit=5", "").Body.String()
	assert.Equal(t, int64(2), gjson.Get(body, "data.#").Int())
	assert.Equal(t, "BTCUSDT", gjson.Get(body, "data.0.pair").String())
}

func TestServer_Cycles(t *testing.T) {
	s, _ := newTestServer(t, fakeStatus{}, nil)
	rec := do(t, s, http.MethodGet, "/cycles", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s, _ = newTestServer(t, fakeStatus{}, fakeCycles{records: []domain.CycleRecord{{CycleID: "a"}, {CycleID: "b"}}})
	body := do(t, s, http.MethodGet, "/cycles?limit=1", "").Body.String()
	assert.Equal(t, int64(1), gjson.Get(body, "data.#").Int())

	s, _ = newTestServer(t, fakeStatus{}, fakeCycles{err: errors.New("db down")})
	rec = do(t, s, http.MethodGet, "/cycles", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, gjson.Get(rec.Body.String(), "error").String(), "db down")
}

func TestServer_KillSwitch(t *testing.T) {
	s, _ := newTestServer(t, fakeStatus{}, nil)

	tests := []struct {
		name       string
		body       string
		wantCode   int
		wantActive bool
	}{
		{"activate", `{"active":true,"reason":"manual stop"}`, http.StatusOK, true},
		{"reason required", `{"active":true}`, http.StatusBadRequest, true},
		{"bad body", `{`, http.StatusBadRequest, true},
		{"deactivate", `{"active":false}`, http.StatusOK, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/killswitch", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantActive, s.killSwitch.IsActive())
		})
	}
}
