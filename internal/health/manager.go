// Package health runs periodic checks on the RCON server process: a
// connection and load snapshot for telemetry, and host load warnings.
package health

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/IT-Hock/source-rcon-library/internal/config"
	"github.com/IT-Hock/source-rcon-library/internal/events"
	"github.com/IT-Hock/source-rcon-library/internal/network"
	"github.com/IT-Hock/source-rcon-library/internal/util"
)

// ConnectionSource lists live RCON connections.
type ConnectionSource interface {
	Connections() []network.ConnectionInfo
}

// Manager runs periodic health checks.
type Manager struct {
	cfg      config.HealthConfig
	eventBus *events.EventBus
	conns    ConnectionSource

	// sample reads host load; replaced in tests
	sample func() util.HostStats
}

// NewManager creates a new health check manager.
func NewManager(cfg config.HealthConfig, eventBus *events.EventBus, conns ConnectionSource) *Manager {
	return &Manager{
		cfg:      cfg,
		eventBus: eventBus,
		conns:    conns,
		sample:   util.GetHostStats,
	}
}

// Start launches each check on its own ticker and blocks until ctx is
// cancelled.
func (m *Manager) Start(ctx context.Context) {
	checks := []struct {
		name     string
		interval int
		fn       func(context.Context)
	}{
		{"connection_stats", m.cfg.StatsInterval, m.reportStats},
		{"host_load", m.cfg.LoadCheckInterval, m.checkHostLoad},
	}

	started := 0
	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}
		started++

		check := check
		go func() {
			ticker := time.NewTicker(time.Duration(check.interval) * time.Second)
			defer ticker.Stop()

			log.Debug().Str("check", check.name).Msg("running initial health check")
			check.fn(ctx)

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					check.fn(ctx)
				}
			}
		}()
	}

	log.Info().Int("checks", started).Msg("health check manager started")

	<-ctx.Done()
	log.Info().Msg("health check manager stopped")
}

// reportStats publishes a snapshot of connections and host load.
func (m *Manager) reportStats(ctx context.Context) {
	conns := m.conns.Connections()
	authenticated := 0
	for _, c := range conns {
		if c.Authenticated {
			authenticated++
		}
	}
	stats := m.sample()

	log.Debug().
		Int("connections", len(conns)).
		Int("authenticated", authenticated).
		Float64("cpu_percent", stats.CPUPercent).
		Float64("mem_percent", stats.MemPercent).
		Msg("connection stats")

	m.eventBus.Emit(ctx, events.NewEvent(events.EventStatsReported, "health_check", events.StatsPayload{
		Connections:   len(conns),
		Authenticated: authenticated,
		Goroutines:    stats.Goroutines,
		CPUPercent:    stats.CPUPercent,
		MemPercent:    stats.MemPercent,
		ProcessRSSMB:  stats.ProcessRSSMB,
	}))
}

// checkHostLoad warns when CPU or memory use crosses its threshold.
func (m *Manager) checkHostLoad(ctx context.Context) {
	stats := m.sample()

	checks := []struct {
		resource  string
		percent   float64
		threshold float64
	}{
		{"cpu", stats.CPUPercent, m.cfg.CPUWarnPercent},
		{"memory", stats.MemPercent, m.cfg.MemoryWarnPercent},
	}

	for _, c := range checks {
		if c.threshold <= 0 || c.percent < c.threshold {
			continue
		}

		log.Warn().
			Str("resource", c.resource).
			Float64("percent", c.percent).
			Float64("threshold", c.threshold).
			Msg("high host load")

		m.eventBus.Emit(ctx, events.NewEvent(events.EventHostLoadHigh, "health_check", events.LoadPayload{
			Resource:  c.resource,
			Percent:   c.percent,
			Threshold: c.threshold,
		}))
	}
}
