package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/ent0n29/sahayak/internal/archive"
	"github.com/ent0n29/sahayak/internal/config"
	"github.com/ent0n29/sahayak/internal/events"
	"github.com/ent0n29/sahayak/internal/gateway"
	"github.com/ent0n29/sahayak/internal/httpapi"
	"github.com/ent0n29/sahayak/internal/observability"
	"github.com/ent0n29/sahayak/internal/session"
)

type GatewayInfo struct {
	Provider string
	Detail   string
}

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Gateway  gateway.Gateway
	Hub      *events.Hub
	Archive  archive.Store
	Metrics  *observability.Metrics
	Info     GatewayInfo

	// Cleanup should be called on shutdown, after the HTTP server has
	// stopped, to flush the archive and release the database.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	return build(ctx, cfg, metrics)
}

func build(ctx context.Context, cfg config.Config, metrics *observability.Metrics) (*BuildResult, error) {
	store, err := archive.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("archive store init failed: %w", err)
	}

	setup, err := resolveGateway(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	cfg.GatewayProvider = setup.resolvedProvider

	recorder := archive.NewRecorder(store, 0, func(err error) {
		metrics.ArchiveFailures.Inc()
		log.Printf("archive: save failed: %v", err)
	})

	hub := events.NewHub(0)

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Panel) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActivePanels.Set(float64(sessions.ActiveCount()))
	})

	api := httpapi.New(cfg, httpapi.Dependencies{
		Sessions: sessions,
		Gateway:  setup.gw,
		Hub:      hub,
		Metrics:  metrics,
		History:  store,
		Recorder: recorder,
	})

	cleanup := func() error {
		var errs []string
		if n := sessions.CloseAll(); n > 0 {
			log.Printf("closed %d active panels", n)
		}
		recorder.Close()
		if c, ok := setup.gw.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Gateway:  setup.gw,
		Hub:      hub,
		Archive:  store,
		Metrics:  metrics,
		Info: GatewayInfo{
			Provider: setup.resolvedProvider,
			Detail:   setup.detail,
		},
		Cleanup: cleanup,
	}, nil
}
