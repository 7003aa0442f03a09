package gateway

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// Config selects and configures the gateway implementation.
type Config struct {
	Provider string
	Gemini   GeminiConfig
}

// New builds the gateway named by cfg.Provider: auto, gemini or mock. Auto
// prefers Gemini and falls back to the mock when no API key is set.
func New(ctx context.Context, cfg Config) (Gateway, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if mode == "" {
		mode = "auto"
	}
	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.Gemini.APIKey) == "" {
			log.Printf("gateway: no api key configured, using mock replies")
			return NewMock(), nil
		}
		return NewGemini(ctx, cfg.Gemini)
	case "gemini":
		return NewGemini(ctx, cfg.Gemini)
	case "mock":
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unsupported gateway provider %q", cfg.Provider)
	}
}
