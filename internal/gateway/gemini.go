package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/ent0n29/sahayak/internal/language"
	"github.com/ent0n29/sahayak/internal/reliability"
)

const (
	DefaultChatModel = "gemini-3-pro-preview"
	DefaultFastModel = "gemini-3-flash-preview"
	DefaultLiveModel = "gemini-2.5-flash-native-audio-preview-12-2025"

	DefaultOneShotTimeout = 30 * time.Second
)

// GeminiConfig controls the Gemini-backed gateway.
type GeminiConfig struct {
	APIKey    string
	ChatModel string
	FastModel string
	LiveModel string

	// OneShotTimeout bounds every request/response call, retries included.
	OneShotTimeout time.Duration
	Retry          reliability.RetryPolicy
}

// Gemini implements Gateway over the Google Gen AI SDK.
type Gemini struct {
	client *genai.Client
	cfg    GeminiConfig
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.FastModel == "" {
		cfg.FastModel = DefaultFastModel
	}
	if cfg.LiveModel == "" {
		cfg.LiveModel = DefaultLiveModel
	}
	if cfg.OneShotTimeout <= 0 {
		cfg.OneShotTimeout = DefaultOneShotTimeout
	}
	if cfg.Retry.Base <= 0 {
		cfg.Retry.Base = 250 * time.Millisecond
	}
	if cfg.Retry.Cap <= 0 {
		cfg.Retry.Cap = 2 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{client: client, cfg: cfg}, nil
}

func (g *Gemini) SendOneShot(ctx context.Context, req OneShotRequest) (string, error) {
	parts := make([]*genai.Part, 0, 3)
	if req.Audio != nil && len(req.Audio.Data) > 0 {
		parts = append(parts, genai.NewPartFromBytes(req.Audio.Data, req.Audio.MIMEType))
	}
	if req.Image != nil && len(req.Image.Data) > 0 {
		parts = append(parts, genai.NewPartFromBytes(req.Image.Data, req.Image.MIMEType))
	}
	parts = append(parts, genai.NewPartFromText(oneShotUserText(req)))

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(oneShotInstruction(req.Language, req.Context), genai.RoleUser),
	}
	text, err := g.generate(ctx, "one_shot", g.cfg.ChatModel, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, cfg)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", &Error{Op: "one_shot", Kind: ErrService, Err: errors.New("empty reply")}
	}
	return text, nil
}

func (g *Gemini) CheckEligibility(ctx context.Context, req EligibilityRequest) (EligibilityVerdict, error) {
	mime := req.Image.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	parts := []*genai.Part{
		genai.NewPartFromBytes(req.Image.Data, mime),
		genai.NewPartFromText(eligibilityPrompt(req)),
	}
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"isEligible":           {Type: genai.TypeBoolean},
				"confidenceScore":      {Type: genai.TypeNumber},
				"detectedDocumentType": {Type: genai.TypeString},
				"observation":          {Type: genai.TypeString},
				"missingInformation":   {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
			},
			Required: []string{"isEligible", "observation", "detectedDocumentType"},
		},
	}
	text, err := g.generate(ctx, "eligibility", g.cfg.FastModel, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, cfg)
	if err != nil {
		return EligibilityVerdict{}, err
	}
	var v EligibilityVerdict
	if err := decodeStructured("eligibility", text, &v); err != nil {
		return EligibilityVerdict{}, err
	}
	return v, nil
}

func (g *Gemini) SemanticSearch(ctx context.Context, query string, candidates []Candidate) ([]string, error) {
	if strings.TrimSpace(query) == "" || len(candidates) == 0 {
		return []string{}, nil
	}
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type:  genai.TypeArray,
			Items: &genai.Schema{Type: genai.TypeString},
		},
	}
	text, err := g.generate(ctx, "search", g.cfg.FastModel, genai.Text(searchPrompt(query, candidates)), cfg)
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := decodeStructured("search", text, &ids); err != nil {
		// An unparsable ranking means nothing matched well.
		log.Printf("gateway: search answer discarded: %v", err)
		return []string{}, nil
	}
	return filterKnownIDs(ids, candidates), nil
}

func (g *Gemini) Translate(ctx context.Context, text string, target language.Code) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	out, err := g.generate(ctx, "translate", g.cfg.FastModel, genai.Text(translatePrompt(text, target)), nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (g *Gemini) SuggestSchemes(ctx context.Context, profile string) ([]SchemeSuggestion, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"schemeName": {Type: genai.TypeString},
					"reason":     {Type: genai.TypeString},
					"nextSteps":  {Type: genai.TypeString},
				},
				Required: []string{"schemeName", "reason"},
			},
		},
	}
	text, err := g.generate(ctx, "suggest", g.cfg.FastModel, genai.Text(suggestPrompt(profile)), cfg)
	if err != nil {
		return nil, err
	}
	out := []SchemeSuggestion{}
	if err := decodeStructured("suggest", text, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// generate runs one GenerateContent call under the one-shot deadline,
// retrying transient upstream failures.
func (g *Gemini) generate(ctx context.Context, op, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.OneShotTimeout)
	defer cancel()

	var text string
	err := reliability.Retry(ctx, g.cfg.Retry, isRetryable, func(ctx context.Context) error {
		resp, err := g.client.Models.GenerateContent(ctx, model, contents, cfg)
		if err != nil {
			return classify(ctx, op, err)
		}
		text = resp.Text()
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

func isRetryable(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Retryable()
}

// classify maps SDK, transport and context failures onto the gateway taxonomy.
func classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Op: op, Kind: ErrTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Op: op, Kind: ErrNetwork, Err: err}
	}

	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		apiErr = *apiErrPtr
	default:
		var netErr net.Error
		if errors.As(err, &netErr) {
			if netErr.Timeout() {
				return &Error{Op: op, Kind: ErrTimeout, Err: err, retryable: true}
			}
			return &Error{Op: op, Kind: ErrNetwork, Err: err, retryable: true}
		}
		return &Error{Op: op, Kind: ErrService, Err: err}
	}

	retryable := reliability.IsTransientAPIError(apiErr.Code, apiErr.Status)
	switch {
	case apiErr.Code == 401 || apiErr.Code == 403 || apiErr.Status == "PERMISSION_DENIED" || apiErr.Status == "UNAUTHENTICATED":
		return &Error{Op: op, Kind: ErrPermissionDenied, Err: err}
	case apiErr.Code == 504 || apiErr.Status == "DEADLINE_EXCEEDED":
		return &Error{Op: op, Kind: ErrTimeout, Err: err, retryable: true}
	default:
		return &Error{Op: op, Kind: ErrService, Err: err, retryable: retryable}
	}
}
