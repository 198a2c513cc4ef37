// Package debugapi serves a read-only HTTP view of a running controller:
// health, the current session phase, recent security events and metrics.
// Tokens are never rendered.
package debugapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	storeauth "github.com/yanlnery/glowing-docs-portal-sub000"
	promexport "github.com/yanlnery/glowing-docs-portal-sub000/metrics/export/prometheus"
	"github.com/yanlnery/glowing-docs-portal-sub000/monitor"
	"go.uber.org/zap"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
)

// Source is implemented by *storeauth.Controller.
type Source interface {
	Snapshot() storeauth.Snapshot
	RecentSecurityEvents(limit int) []monitor.Event
	MetricsSnapshot() storeauth.MetricsSnapshot
	NotificationsDropped() uint64
}

type handler struct {
	source Source
	logger *zap.Logger
}

// NewRouter returns the debug routes. logger may be nil.
func NewRouter(source Source, logger *zap.Logger) (http.Handler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{source: source, logger: logger}

	reg := prometheus.NewRegistry()
	if err := reg.Register(promexport.NewCollector(source)); err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", h.health)
	r.Get("/session", h.session)
	r.Get("/security/events", h.events)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return r, nil
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorView struct {
	Kind         string `json:"kind"`
	Code         string `json:"code,omitempty"`
	Message      string `json:"message"`
	RetryAfter   int    `json:"retry_after_seconds,omitempty"`
	AttemptsLeft int    `json:"attempts_left,omitempty"`
}

type sessionView struct {
	Phase           string             `json:"phase"`
	IsAuthenticated bool               `json:"is_authenticated"`
	IsLoading       bool               `json:"is_loading"`
	UserID          string             `json:"user_id,omitempty"`
	Email           string             `json:"email,omitempty"`
	ExpiresAt       *time.Time         `json:"expires_at,omitempty"`
	Profile         *storeauth.Profile `json:"profile,omitempty"`
	AuthError       *errorView         `json:"auth_error,omitempty"`
	ProfileError    *errorView         `json:"profile_error,omitempty"`
}

func (h *handler) session(w http.ResponseWriter, _ *http.Request) {
	s := h.source.Snapshot()
	view := sessionView{
		Phase:           s.Phase.String(),
		IsAuthenticated: s.IsAuthenticated,
		IsLoading:       s.IsLoading,
		Profile:         s.Profile,
		AuthError:       toErrorView(s.AuthError),
		ProfileError:    toErrorView(s.ProfileError),
	}
	if s.User != nil {
		view.UserID = s.User.ID
		view.Email = s.User.Email
	}
	if s.Session != nil {
		exp := s.Session.ExpiresAt
		view.ExpiresAt = &exp
	}
	h.writeJSON(w, http.StatusOK, view)
}

func toErrorView(e *storeauth.AuthError) *errorView {
	if e == nil {
		return nil
	}
	return &errorView{
		Kind:         e.Kind.String(),
		Code:         e.Code,
		Message:      e.Message,
		RetryAfter:   int((e.RetryAfter + time.Second - 1) / time.Second),
		AttemptsLeft: e.AttemptsLeft,
	}
}

func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxEventLimit)
	}

	events := h.source.RecentSecurityEvents(limit)
	if events == nil {
		events = []monitor.Event{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode debug response failed", zap.Error(err))
	}
}
