package debugapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	storeauth "github.com/yanlnery/glowing-docs-portal-sub000"
	"github.com/yanlnery/glowing-docs-portal-sub000/monitor"
)

type fakeSource struct {
	snapshot  storeauth.Snapshot
	events    []monitor.Event
	lastLimit int
}

func (f *fakeSource) Snapshot() storeauth.Snapshot { return f.snapshot }

func (f *fakeSource) RecentSecurityEvents(limit int) []monitor.Event {
	f.lastLimit = limit
	if limit < len(f.events) {
		return f.events[len(f.events)-limit:]
	}
	return f.events
}

func (f *fakeSource) MetricsSnapshot() storeauth.MetricsSnapshot {
	return storeauth.MetricsSnapshot{
		Counters:   map[storeauth.MetricID]uint64{storeauth.MetricLoginSuccess: 4},
		Histograms: map[storeauth.MetricID][]uint64{},
	}
}

func (f *fakeSource) NotificationsDropped() uint64 { return 0 }

func serve(t *testing.T, src Source, target string) *httptest.ResponseRecorder {
	t.Helper()
	router, err := NewRouter(src, nil)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rec := serve(t, &fakeSource{}, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSessionOmitsTokens(t *testing.T) {
	exp := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	src := &fakeSource{snapshot: storeauth.Snapshot{
		IsAuthenticated: true,
		Phase:           storeauth.PhaseAuthenticated,
		User:            &storeauth.User{ID: "u1", Email: "ana@example.com"},
		Session: &storeauth.Session{
			AccessToken:  "secret-access",
			RefreshToken: "secret-refresh",
			ExpiresAt:    exp,
		},
		AuthError: &storeauth.AuthError{Kind: storeauth.KindRateLimited, Code: "rate_limited", Message: "slow down", RetryAfter: 1500 * time.Millisecond},
	}}

	rec := serve(t, src, "/session")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret-")

	var body sessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "u1", body.UserID)
	assert.True(t, body.IsAuthenticated)
	assert.Equal(t, storeauth.PhaseAuthenticated.String(), body.Phase)
	require.NotNil(t, body.ExpiresAt)
	assert.True(t, exp.Equal(*body.ExpiresAt))
	require.NotNil(t, body.AuthError)
	assert.Equal(t, 2, body.AuthError.RetryAfter)
}

func TestEventsLimit(t *testing.T) {
	src := &fakeSource{events: []monitor.Event{
		{Type: monitor.EventFailedLogin, Identity: "a@example.com"},
		{Type: monitor.EventFailedLogin, Identity: "b@example.com"},
		{Type: monitor.EventSuccessfulLogin, Identity: "c@example.com"},
	}}

	rec := serve(t, src, "/security/events?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Events []monitor.Event `json:"events"`
		Count  int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "c@example.com", body.Events[1].Identity)

	serve(t, src, "/security/events")
	assert.Equal(t, defaultEventLimit, src.lastLimit)

	serve(t, src, "/security/events?limit=999999")
	assert.Equal(t, maxEventLimit, src.lastLimit)

	rec = serve(t, src, "/security/events?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetrics(t *testing.T) {
	rec := serve(t, &fakeSource{}, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "storeauth_login_success_total 4")
}
