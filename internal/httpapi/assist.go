package httpapi

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ent0n29/sahayak/internal/gateway"
	"github.com/ent0n29/sahayak/internal/language"
)

type searchRequest struct {
	Query      string              `json:"query"`
	Candidates []gateway.Candidate `json:"candidates"`
}

type eligibilityRequest struct {
	ImageBase64 string   `json:"image_base64"`
	MIMEType    string   `json:"mime_type"`
	SchemeName  string   `json:"scheme_name"`
	Criteria    []string `json:"criteria"`
	Language    string   `json:"language,omitempty"`
}

type translateRequest struct {
	Text           string `json:"text"`
	TargetLanguage string `json:"target_language"`
}

type suggestRequest struct {
	Profile string `json:"profile"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" || len(req.Candidates) == 0 {
		respondJSON(w, http.StatusOK, map[string]any{"ids": []string{}})
		return
	}
	var ids []string
	if !s.callGateway(w, r.Context(), "search", func(ctx context.Context) (err error) {
		ids, err = s.gw.SemanticSearch(ctx, req.Query, req.Candidates)
		return err
	}) {
		return
	}
	if ids == nil {
		ids = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"ids": ids})
}

func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	var req eligibilityRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	image, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil || len(image) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_image", "image_base64 must be non-empty base64")
		return
	}
	if strings.TrimSpace(req.MIMEType) == "" {
		req.MIMEType = "image/jpeg"
	}
	if strings.TrimSpace(req.SchemeName) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "scheme_name is required")
		return
	}

	var verdict gateway.EligibilityVerdict
	if !s.callGateway(w, r.Context(), "eligibility", func(ctx context.Context) (err error) {
		verdict, err = s.gw.CheckEligibility(ctx, gateway.EligibilityRequest{
			Image:      gateway.Blob{Data: image, MIMEType: req.MIMEType},
			SchemeName: req.SchemeName,
			Criteria:   req.Criteria,
			Language:   language.ParseOrDefault(req.Language, s.defaultLanguage()),
		})
		return err
	}) {
		return
	}
	respondJSON(w, http.StatusOK, verdict)
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	target, ok := language.Parse(req.TargetLanguage)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_language", fmt.Sprintf("unsupported language %q", req.TargetLanguage))
		return
	}

	var text string
	if !s.callGateway(w, r.Context(), "translate", func(ctx context.Context) (err error) {
		text, err = s.gw.Translate(ctx, req.Text, target)
		return err
	}) {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"text": text, "language": target})
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	var req suggestRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Profile) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "profile is required")
		return
	}

	var suggestions []gateway.SchemeSuggestion
	if !s.callGateway(w, r.Context(), "suggest", func(ctx context.Context) (err error) {
		suggestions, err = s.gw.SuggestSchemes(ctx, req.Profile)
		return err
	}) {
		return
	}
	if suggestions == nil {
		suggestions = []gateway.SchemeSuggestion{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusServiceUnavailable, "history_disabled", "transcript archive is not configured")
		return
	}
	citizenID := strings.TrimSpace(r.URL.Query().Get("citizen_id"))
	if citizenID == "" {
		respondError(w, http.StatusBadRequest, "missing_citizen_id", "query parameter citizen_id is required")
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	records, err := s.history.Recent(r.Context(), citizenID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "history_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"citizen_id": citizenID, "entries": records})
}

// callGateway runs fn under the one-shot timeout, records its latency and
// writes the error response on failure. It reports whether fn succeeded.
func (s *Server) callGateway(w http.ResponseWriter, parent context.Context, op string, fn func(ctx context.Context) error) bool {
	if s.gw == nil {
		respondError(w, http.StatusServiceUnavailable, "gateway_unconfigured", "assistant gateway is not configured")
		return false
	}
	timeout := s.cfg.GatewayOneShotTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	s.metrics.ObserveOneShot(op, time.Since(start), gateway.KindLabel(err))
	if err != nil {
		respondGatewayError(w, err)
		return false
	}
	return true
}
