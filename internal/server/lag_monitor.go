package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/warhost-project/warhost/internal/events"
)

const (
	// LagWarningThreshold is the number of lag screens per hour before a
	// game is reported.
	LagWarningThreshold = 10
	// LagCriticalThreshold is the number of lag screens per hour before
	// admins are notified.
	LagCriticalThreshold = 30

	maxLagHistory = 1000
)

// LagMonitor tracks lag screens across all hosted games from the event bus.
type LagMonitor struct {
	mu       sync.RWMutex
	eventBus *events.EventBus
	now      func() time.Time

	games map[string]*GameLagData

	warningThreshold  int
	criticalThreshold int
}

// GameLagData holds lag tracking data for one game.
type GameLagData struct {
	Game           string        `json:"game"`
	TotalEvents    int           `json:"total_events"`
	EventsThisHour int           `json:"events_this_hour"`
	Dropped        int           `json:"dropped"`
	Lagging        bool          `json:"lagging"`
	LastEventTime  time.Time     `json:"last_event_time"`
	MaxDuration    time.Duration `json:"max_duration"`
	AvgDuration    time.Duration `json:"avg_duration"`
	History        []LagEvent    `json:"history"`

	laggers []string
}

// LagEvent is one closed lag screen.
type LagEvent struct {
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
	Players   []string      `json:"players"`
	Dropped   bool          `json:"dropped"`
}

// NewLagMonitor creates a lag monitor subscribed to the lag events of bus.
func NewLagMonitor(eventBus *events.EventBus) *LagMonitor {
	lm := &LagMonitor{
		eventBus:          eventBus,
		now:               time.Now,
		games:             make(map[string]*GameLagData),
		warningThreshold:  LagWarningThreshold,
		criticalThreshold: LagCriticalThreshold,
	}
	eventBus.Subscribe(events.EventLagStart, "lag_monitor.start", lm.handleLagStart)
	eventBus.Subscribe(events.EventLagStop, "lag_monitor.stop", lm.handleLagStop)
	eventBus.Subscribe(events.EventGameDeleted, "lag_monitor.deleted", lm.handleGameDeleted)
	return lm
}

func (lm *LagMonitor) data(name string) *GameLagData {
	data, ok := lm.games[name]
	if !ok {
		data = &GameLagData{Game: name, History: make([]LagEvent, 0, 16)}
		lm.games[name] = data
	}
	return data
}

func (lm *LagMonitor) handleLagStart(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.LagPayload)
	if !ok {
		return nil
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()
	data := lm.data(payload.GameName)
	data.Lagging = true
	data.laggers = payload.Players
	return nil
}

func (lm *LagMonitor) handleLagStop(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.LagPayload)
	if !ok {
		return nil
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	data := lm.data(payload.GameName)
	if !data.Lagging {
		return nil
	}
	data.Lagging = false

	now := event.Time
	if now.IsZero() {
		now = lm.now()
	}
	players := payload.Players
	if len(players) == 0 {
		players = data.laggers
	}
	data.TotalEvents++
	data.LastEventTime = now
	data.History = append(data.History, LagEvent{
		Timestamp: now,
		Duration:  payload.Duration,
		Players:   players,
		Dropped:   payload.Dropped,
	})
	if payload.Dropped {
		data.Dropped++
	}
	if payload.Duration > data.MaxDuration {
		data.MaxDuration = payload.Duration
	}

	var total time.Duration
	for _, e := range data.History {
		total += e.Duration
	}
	data.AvgDuration = total / time.Duration(len(data.History))

	hourAgo := now.Add(-time.Hour)
	data.EventsThisHour = 0
	for _, e := range data.History {
		if e.Timestamp.After(hourAgo) {
			data.EventsThisHour++
		}
	}

	if len(data.History) > maxLagHistory {
		data.History = data.History[len(data.History)-maxLagHistory:]
	}
	return nil
}

func (lm *LagMonitor) handleGameDeleted(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.GamePayload)
	if !ok {
		return nil
	}
	lm.mu.Lock()
	delete(lm.games, payload.GameName)
	lm.mu.Unlock()
	return nil
}

// GameData returns lag data for one game.
func (lm *LagMonitor) GameData(name string) (GameLagData, bool) {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	data, ok := lm.games[name]
	if !ok {
		return GameLagData{}, false
	}
	return data.copy(), true
}

// AllGameData returns lag data for every game ordered by name.
func (lm *LagMonitor) AllGameData() []GameLagData {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	out := make([]GameLagData, 0, len(lm.games))
	for _, d := range lm.games {
		out = append(out, d.copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Game < out[j].Game })
	return out
}

func (d *GameLagData) copy() GameLagData {
	c := *d
	c.History = append([]LagEvent(nil), d.History...)
	c.laggers = nil
	return c
}

// LagAlert represents a lag threshold alert.
type LagAlert struct {
	Game    string `json:"game"`
	Level   string `json:"level"`
	Events  int    `json:"events"`
	Message string `json:"message"`
}

// CheckThresholds evaluates all games against the lag thresholds.
func (lm *LagMonitor) CheckThresholds() []LagAlert {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	var alerts []LagAlert
	for name, data := range lm.games {
		level := ""
		switch {
		case data.EventsThisHour >= lm.criticalThreshold:
			level = "critical"
		case data.EventsThisHour >= lm.warningThreshold:
			level = "warning"
		default:
			continue
		}
		alerts = append(alerts, LagAlert{
			Game:    name,
			Level:   level,
			Events:  data.EventsThisHour,
			Message: fmt.Sprintf("Game [%s]: %d lag screens in the last hour", name, data.EventsThisHour),
		})
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].Game < alerts[j].Game })
	return alerts
}

// Start begins periodic lag threshold checks.
func (lm *LagMonitor) Start(ctx context.Context, checkInterval time.Duration) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, alert := range lm.CheckThresholds() {
				log.Warn().
					Str("game", alert.Game).
					Str("level", alert.Level).
					Int("events", alert.Events).
					Msg("lag threshold alert")

				if alert.Level == "critical" {
					lm.eventBus.Emit(ctx, events.Event{
						Type:   events.EventNotify,
						Source: "lag_monitor:" + alert.Game,
						Time:   lm.now(),
						Payload: events.NotifyPayload{
							Title:   "Lag Alert - Critical",
							Message: alert.Message,
							Level:   "error",
						},
					})
				}
			}
		}
	}
}
