package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/sahayak/internal/events"
	"github.com/ent0n29/sahayak/internal/language"
	"github.com/ent0n29/sahayak/internal/session"
	"github.com/ent0n29/sahayak/internal/transcript"
)

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.CitizenID) == "" {
		req.CitizenID = "anonymous"
	}
	lang := s.defaultLanguage()
	if strings.TrimSpace(req.Language) != "" {
		parsed, ok := language.Parse(req.Language)
		if !ok {
			respondError(w, http.StatusBadRequest, "invalid_language", fmt.Sprintf("unsupported language %q", req.Language))
			return
		}
		lang = parsed
	}

	panel := s.sessions.Create(req.CitizenID, lang)
	s.metrics.ActivePanels.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("created").Inc()

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       panel.ID,
		CitizenID:       panel.CitizenID,
		Status:          panel.Status,
		Language:        panel.Language,
		LanguageLabel:   panel.Language.Label(),
		StartedAt:       panel.StartedAt,
		LastActivityAt:  panel.LastActivityAt,
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	panel, err := s.sessions.End(id)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	s.metrics.ActivePanels.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	respondJSON(w, http.StatusOK, panel)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	a, err := s.sessions.Assistant(chi.URLParam(r, "id"))
	if err != nil {
		respondSessionError(w, err)
		return
	}
	if len(a.Transcript()) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	now := time.Now().In(s.loc)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", transcript.Filename(now)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(a.Export(now)))
}

type guidanceRequest struct {
	Title     string `json:"title"`
	Procedure string `json:"procedure"`
}

// handleGuidance forwards a portal guidance trigger to the panel's live
// connection through the hub.
func (s *Server) handleGuidance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req guidanceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "title is required")
		return
	}
	panel, err := s.sessions.Get(id)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	if panel.Status != session.StatusActive {
		respondSessionError(w, session.ErrEnded)
		return
	}

	delivered := s.hub.RequestGuidance(events.GuidanceRequest{PanelID: id, Title: req.Title, Procedure: req.Procedure})
	if delivered == 0 {
		respondError(w, http.StatusConflict, "session_not_connected", "no client is connected to this session")
		return
	}
	s.metrics.SessionEvents.WithLabelValues("guidance").Inc()
	respondJSON(w, http.StatusAccepted, map[string]any{"delivered": delivered})
}

func (s *Server) handleOpenSignal(w http.ResponseWriter, _ *http.Request) {
	delivered := s.hub.RequestOpen()
	s.metrics.SessionEvents.WithLabelValues("open_signal").Inc()
	respondJSON(w, http.StatusAccepted, map[string]any{"delivered": delivered})
}

func (s *Server) defaultLanguage() language.Code {
	if s.cfg.DefaultLanguage == "" {
		return language.English
	}
	return s.cfg.DefaultLanguage
}
