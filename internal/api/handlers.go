package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/AutiConnect/internal/flow"
	"github.com/BTreeMap/AutiConnect/internal/moderation"
	"github.com/BTreeMap/AutiConnect/internal/store"
)

// Server serves the operational HTTP endpoints.
type Server struct {
	st         store.Store
	flows      *flow.Engine
	moderation *moderation.Engine
	webhook    http.Handler
	started    time.Time
	now        func() time.Time
}

// NewServer creates a Server. webhook may be nil when the transport is not Twilio.
func NewServer(st store.Store, flows *flow.Engine, mod *moderation.Engine, webhook http.Handler) *Server {
	return &Server{
		st:         st,
		flows:      flows,
		moderation: mod,
		webhook:    webhook,
		started:    time.Now(),
		now:        time.Now,
	}
}

// Handler returns the routed mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/stats", s.statsHandler)
	mux.HandleFunc("/groups", s.groupsHandler)
	if s.webhook != nil {
		mux.Handle(TwilioWebhookPath, s.webhook)
	}
	return mux
}

// healthHandler reports liveness and whether the store answers (GET /health).
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DefaultHealthTimeout)
	defer cancel()

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"uptime":    s.now().Sub(s.started).Round(time.Second).String(),
	}
	if _, err := s.st.ListGroups(ctx); err != nil {
		slog.Warn("Server.healthHandler: store check failed", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = "Store unavailable"
	}

	statusCode := http.StatusOK
	if healthData["status"] == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, statusCode, healthData)
}

// statsHandler returns live session counts (GET /stats).
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.statsHandler invoked", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	groups, err := s.st.ListGroups(r.Context())
	if err != nil {
		slog.Error("Server.statsHandler: failed to list groups", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, Error("Failed to fetch groups"))
		return
	}
	linked := 0
	for _, g := range groups {
		if g.ChatID != "" {
			linked++
		}
	}
	stats := map[string]interface{}{
		"active_flow_sessions":  s.flows.Sessions(),
		"open_support_sessions": s.moderation.SupportSessions().Count(),
		"groups":                len(groups),
		"linked_groups":         linked,
	}
	writeJSONResponse(w, http.StatusOK, Success(stats))
}

// groupSummary is the public view of a group; member ids stay private.
type groupSummary struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Theme           string    `json:"theme"`
	Members         int       `json:"members"`
	MaxMembers      int       `json:"max_members"`
	MediatorEnabled bool      `json:"mediator_enabled"`
	ChatLinked      bool      `json:"chat_linked"`
	CreatedAt       time.Time `json:"created_at"`
}

// groupsHandler lists groups (GET /groups).
func (s *Server) groupsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	groups, err := s.st.ListGroups(r.Context())
	if err != nil {
		slog.Error("Server.groupsHandler: failed to list groups", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, Error("Failed to fetch groups"))
		return
	}
	out := make([]groupSummary, 0, len(groups))
	for _, g := range groups {
		out = append(out, groupSummary{
			ID:              g.ID,
			Name:            g.Name,
			Theme:           g.Theme,
			Members:         len(g.Members),
			MaxMembers:      g.MaxMembers,
			MediatorEnabled: g.MediatorEnabled,
			ChatLinked:      g.ChatID != "",
			CreatedAt:       g.CreatedAt,
		})
	}
	slog.Debug("Server.groupsHandler: groups listed", "count", len(out))
	writeJSONResponse(w, http.StatusOK, Success(out))
}
