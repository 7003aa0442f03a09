package session

import (
	"time"

	"github.com/ent0n29/sahayak/internal/language"
)

// CreateRequest defines payload for opening a new assistant panel.
type CreateRequest struct {
	CitizenID string `json:"citizen_id"`
	Language  string `json:"language"`
}

// CreateResponse returns created panel metadata.
type CreateResponse struct {
	SessionID       string        `json:"session_id"`
	CitizenID       string        `json:"citizen_id"`
	Status          Status        `json:"status"`
	Language        language.Code `json:"language"`
	LanguageLabel   string        `json:"language_label"`
	StartedAt       time.Time     `json:"started_at"`
	LastActivityAt  time.Time     `json:"last_activity_at"`
	InactivityTTLMS int64         `json:"inactivity_ttl_ms"`
}
