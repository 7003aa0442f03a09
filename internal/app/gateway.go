package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/sahayak/internal/config"
	"github.com/ent0n29/sahayak/internal/gateway"
	"github.com/ent0n29/sahayak/internal/reliability"
)

type gatewaySetup struct {
	gw               gateway.Gateway
	resolvedProvider string
	detail           string
}

func gatewayConfig(cfg config.Config) gateway.Config {
	return gateway.Config{
		Provider: cfg.GatewayProvider,
		Gemini: gateway.GeminiConfig{
			APIKey:         cfg.GeminiAPIKey,
			ChatModel:      cfg.GeminiChatModel,
			FastModel:      cfg.GeminiFastModel,
			LiveModel:      cfg.GeminiLiveModel,
			OneShotTimeout: cfg.GatewayOneShotTimeout,
			Retry: reliability.RetryPolicy{
				MaxRetries: cfg.GatewayMaxRetries,
				Base:       250 * time.Millisecond,
				Cap:        2 * time.Second,
			},
		},
	}
}

func resolveGateway(ctx context.Context, cfg config.Config) (gatewaySetup, error) {
	gcfg := gatewayConfig(cfg)
	gw, err := gateway.New(ctx, gcfg)
	if err != nil {
		return gatewaySetup{}, fmt.Errorf("gateway init failed: %w", err)
	}

	switch g := gw.(type) {
	case *gateway.Mock:
		detail := "mock"
		if strings.EqualFold(strings.TrimSpace(cfg.GatewayProvider), "auto") || strings.TrimSpace(cfg.GatewayProvider) == "" {
			detail = "mock (no gemini api key)"
		}
		return gatewaySetup{gw: g, resolvedProvider: "mock", detail: detail}, nil
	default:
		return gatewaySetup{
			gw:               gw,
			resolvedProvider: "gemini",
			detail:           fmt.Sprintf("gemini (chat %s, live %s)", orDefault(cfg.GeminiChatModel, gateway.DefaultChatModel), orDefault(cfg.GeminiLiveModel, gateway.DefaultLiveModel)),
		}, nil
	}
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// NewGateway builds the assistant gateway selected by cfg, for callers that
// drive a session locally rather than through the HTTP server.
func NewGateway(ctx context.Context, cfg config.Config) (gateway.Gateway, GatewayInfo, error) {
	setup, err := resolveGateway(ctx, cfg)
	if err != nil {
		return nil, GatewayInfo{}, err
	}
	return setup.gw, GatewayInfo{Provider: setup.resolvedProvider, Detail: setup.detail}, nil
}
