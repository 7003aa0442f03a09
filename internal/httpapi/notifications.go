package httpapi

import (
	"errors"
	"net/http"

	"github.com/ent0n29/sahayak/internal/events"
)

type notifyRequest struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	n, err := s.hub.Notify(req.Title, req.Message, events.ParseType(req.Type))
	if errors.Is(err, events.ErrNotificationTitleRequired) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, n)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"notifications": s.hub.Recent(),
		"unread":        s.hub.UnreadCount(),
	})
}

func (s *Server) handleMarkNotificationsRead(w http.ResponseWriter, _ *http.Request) {
	s.hub.MarkAllRead()
	respondJSON(w, http.StatusOK, map[string]any{"unread": s.hub.UnreadCount()})
}
