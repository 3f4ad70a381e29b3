// Package health runs the periodic host checks: the status heartbeat,
// disk utilization of the data directories, and a watchdog on the reactor.
package health

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warhost-project/warhost/internal/config"
	"github.com/warhost-project/warhost/internal/events"
	"github.com/warhost-project/warhost/internal/server"
	"github.com/warhost-project/warhost/internal/util"
)

// Host is the part of the host the checks read.
type Host interface {
	Summary() server.Summary
}

// Manager runs the health checks.
type Manager struct {
	cfg      config.HealthConfig
	dirs     []string
	eventBus *events.EventBus
	host     Host
	lag      *server.LagMonitor
	logger   zerolog.Logger

	now       func() time.Time
	diskUsage func(path string) (*util.DiskUsage, error)

	// last reported state, so alerts fire on transitions only
	mu          sync.Mutex
	diskAlerted map[string]bool
	stalled     bool
	lastDisk    float64
}

// NewManager creates a health manager. lag may be nil.
func NewManager(cfg *config.Config, eventBus *events.EventBus, host Host, lag *server.LagMonitor) *Manager {
	dirs := []string{cfg.Maps.Directory}
	if db := filepath.Dir(cfg.Database.Path); db != cfg.Maps.Directory {
		dirs = append(dirs, db)
	}
	return &Manager{
		cfg:         cfg.Health,
		dirs:        dirs,
		eventBus:    eventBus,
		host:        host,
		lag:         lag,
		logger:      util.ComponentLogger("health"),
		now:         time.Now,
		diskUsage:   util.GetDiskUsage,
		diskAlerted: make(map[string]bool),
	}
}

// Start runs every enabled check on its own ticker and blocks until ctx is
// cancelled.
func (m *Manager) Start(ctx context.Context) {
	checks := []struct {
		name     string
		interval int
		fn       func(context.Context)
	}{
		{"disk_utilization", m.cfg.DiskCheckIntervalSec, m.CheckDisk},
		{"heartbeat", m.cfg.HeartbeatIntervalSec, m.Heartbeat},
		{"watchdog", m.cfg.StallTimeoutSec, m.CheckStall},
	}

	// the disk check runs first so the heartbeat can carry its result
	m.CheckDisk(ctx)

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

	if m.lag != nil && m.cfg.LagCheckIntervalSec > 0 {
		started++
		go m.lag.Start(ctx, time.Duration(m.cfg.LagCheckIntervalSec)*time.Second)
	}

	m.logger.Info().Int("checks", started).Msg("health checks started")
	<-ctx.Done()
	m.logger.Info().Msg("health checks stopped")
}

// Heartbeat publishes the host summary.
func (m *Manager) Heartbeat(ctx context.Context) {
	s := m.host.Summary()
	m.mu.Lock()
	disk := m.lastDisk
	m.mu.Unlock()
	payload := events.HeartbeatPayload{
		Lobbies:       s.Lobbies,
		Running:       s.Running,
		Players:       s.Players,
		GamesHosted:   s.GamesHosted,
		Reconnects:    s.Reconnects,
		RejectedJoins: s.RejectedJoins,
		DiskUsedPct:   disk,
	}
	if !s.StartedAt.IsZero() {
		payload.UptimeSec = int64(m.now().Sub(s.StartedAt) / time.Second)
	}
	m.eventBus.Emit(ctx, events.Event{
		Type:    events.EventHeartbeat,
		Source:  "health",
		Time:    m.now(),
		Payload: payload,
	})
}

// CheckDisk warns once when a data directory crosses DiskWarnPercent and
// again when it drops back below.
func (m *Manager) CheckDisk(ctx context.Context) {
	if m.cfg.DiskWarnPercent <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var highest float64
	for _, dir := range m.dirs {
		usage, err := m.diskUsage(dir)
		if err != nil {
			m.logger.Debug().Err(err).Str("path", dir).Msg("disk usage unavailable")
			continue
		}
		if usage.UsedPercent > highest {
			highest = usage.UsedPercent
		}
		over := usage.UsedPercent >= m.cfg.DiskWarnPercent
		if over == m.diskAlerted[dir] {
			continue
		}
		m.diskAlerted[dir] = over

		if !over {
			m.logger.Info().Str("path", dir).Float64("used_percent", usage.UsedPercent).Msg("disk usage back to normal")
			continue
		}
		msg := fmt.Sprintf("Disk holding %s at %.1f%% (%d GB free of %d GB)", dir, usage.UsedPercent, usage.Free, usage.Total)
		m.logger.Warn().Str("path", dir).Float64("used_percent", usage.UsedPercent).Msg("disk usage high")
		m.notify(ctx, "Disk Space Alert", msg, "warning")
	}
	m.lastDisk = highest
}

// CheckStall raises an error when the host has not published its state for
// longer than StallTimeoutSec. The reactor publishes at least every tick, so
// a stale summary means it is blocked.
func (m *Manager) CheckStall(ctx context.Context) {
	if m.cfg.StallTimeoutSec <= 0 {
		return
	}
	s := m.host.Summary()
	if s.UpdatedAt.IsZero() {
		return
	}
	age := m.now().Sub(s.UpdatedAt)
	stalled := age > time.Duration(m.cfg.StallTimeoutSec)*time.Second
	m.mu.Lock()
	changed := stalled != m.stalled
	m.stalled = stalled
	m.mu.Unlock()
	if !changed {
		return
	}
	if stalled {
		m.logger.Error().Dur("age", age).Msg("host reactor stalled")
		m.notify(ctx, "Host Stalled", fmt.Sprintf("No host update for %s", age.Truncate(time.Second)), "error")
		return
	}
	m.logger.Info().Msg("host reactor recovered")
	m.notify(ctx, "Host Recovered", "Host updates resumed", "info")
}

func (m *Manager) notify(ctx context.Context, title, msg, level string) {
	m.eventBus.Emit(ctx, events.Event{
		Type:   events.EventNotify,
		Source: "health",
		Time:   m.now(),
		Payload: events.NotifyPayload{
			Title:   title,
			Message: msg,
			Level:   level,
		},
	})
}
