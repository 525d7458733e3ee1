package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ent0n29/cleo/internal/collab"
	"github.com/ent0n29/cleo/internal/config"
	"github.com/ent0n29/cleo/internal/cost"
	"github.com/ent0n29/cleo/internal/httpapi"
	"github.com/ent0n29/cleo/internal/logging"
	"github.com/ent0n29/cleo/internal/observability"
	"github.com/ent0n29/cleo/internal/session"
	"github.com/ent0n29/cleo/internal/store"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Store    store.Store
	Metrics  *observability.Metrics
	Registry *prometheus.Registry

	// Cleanup should be called on shutdown to release the database pool.
	Cleanup func() error
}

// Build wires the collaborator and relay server.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	logger = logging.OrDiscard(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(cfg.MetricsNamespace, reg)

	st, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("voice store init failed: %w", err)
	}
	logger.Info("voice store ready", "mode", st.Mode())

	rates := cost.DefaultRates()
	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(s *session.Session) {
		metrics.ObserveSessionEvent("expired")
		metrics.SetActiveSessions(sessions.ActiveCount())
		expireStoredSession(st, rates, metrics, logger, s)
	})

	api := httpapi.New(cfg, httpapi.Deps{
		Sessions: sessions,
		Store:    st,
		Metrics:  metrics,
		Gatherer: reg,
		Rates:    &rates,
		Logger:   logger,
	})

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Store:    st,
		Metrics:  metrics,
		Registry: reg,
		Cleanup:  st.Close,
	}, nil
}

// expireStoredSession closes the persisted row of a session whose client
// went away without reporting. Only the wall time is known, so the cost is
// the per-minute estimate.
func expireStoredSession(st store.Store, rates cost.Rates, metrics *observability.Metrics, logger *slog.Logger, s *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	duration := s.LastActivityAt.Sub(s.StartedAt).Seconds()
	estimate := rates.Estimate(collab.SessionReport{DurationSeconds: duration})
	_, err := st.EndSession(ctx, s.ID, store.EndReport{
		DurationSeconds: duration,
		Cost:            estimate,
		EndedAt:         time.Now().UTC(),
	})
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		logger.Warn("end expired session failed", "session_id", s.ID, "error", err)
		return
	}
	metrics.AddSessionCost(estimate)
	logger.Info("voice session expired", "session_id", s.ID, "duration_seconds", duration)
}
