package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/sahayak/internal/archive"
	"github.com/ent0n29/sahayak/internal/config"
	"github.com/ent0n29/sahayak/internal/events"
	"github.com/ent0n29/sahayak/internal/gateway"
	"github.com/ent0n29/sahayak/internal/observability"
	"github.com/ent0n29/sahayak/internal/session"
)

// Dependencies are the collaborators a Server routes requests to. History
// and Recorder are optional.
type Dependencies struct {
	Sessions *session.Manager
	Gateway  gateway.Gateway
	Hub      *events.Hub
	Metrics  *observability.Metrics
	History  archive.Store
	Recorder *archive.Recorder
}

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	gw       gateway.Gateway
	hub      *events.Hub
	metrics  *observability.Metrics
	history  archive.Store
	recorder *archive.Recorder
	loc      *time.Location
	upgrader websocket.Upgrader
}

func New(cfg config.Config, deps Dependencies) *Server {
	hub := deps.Hub
	if hub == nil {
		hub = events.NewHub(0)
	}
	loc := time.Local
	if strings.TrimSpace(cfg.Timezone) != "" {
		if l, err := cfg.Location(); err == nil {
			loc = l
		}
	}
	return &Server{
		cfg:      cfg,
		sessions: deps.Sessions,
		gw:       deps.Gateway,
		hub:      hub,
		metrics:  deps.Metrics,
		history:  deps.History,
		recorder: deps.Recorder,
		loc:      loc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only the portal's own pages may drive a citizen's microphone.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Post("/v1/assistant/session", s.handleCreateSession)
	r.Post("/v1/assistant/session/{id}/end", s.handleEndSession)
	r.Get("/v1/assistant/session/{id}/transcript", s.handleTranscript)
	r.Post("/v1/assistant/session/{id}/guidance", s.handleGuidance)
	r.Get("/v1/assistant/session/ws", s.handleSessionWS)
	r.Post("/v1/assistant/open", s.handleOpenSignal)

	r.Post("/v1/assistant/search", s.handleSearch)
	r.Post("/v1/assistant/eligibility", s.handleEligibility)
	r.Post("/v1/assistant/translate", s.handleTranslate)
	r.Post("/v1/assistant/suggest", s.handleSuggest)
	r.Get("/v1/assistant/history", s.handleHistory)

	r.Post("/v1/notifications", s.handleNotify)
	r.Get("/v1/notifications", s.handleListNotifications)
	r.Post("/v1/notifications/read", s.handleMarkNotificationsRead)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"active_panels": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.gw == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "gateway_unconfigured"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"history_enabled": s.history != nil,
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondGatewayError maps a classified gateway failure to a status code.
func respondGatewayError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	if errors.Is(err, gateway.ErrTimeout) {
		status = http.StatusGatewayTimeout
	}
	respondError(w, status, "gateway_"+gateway.KindLabel(err), err.Error())
}

func respondSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, session.ErrEnded):
		respondError(w, http.StatusGone, "session_ended", err.Error())
	case errors.Is(err, session.ErrNoAssistant):
		respondError(w, http.StatusConflict, "session_not_connected", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
