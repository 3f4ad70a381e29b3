// Package scheduler runs the host's periodic database maintenance:
// expired ban pruning and finished game retention.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/warhost-project/warhost/internal/config"
	"github.com/warhost-project/warhost/internal/db"
	"github.com/warhost-project/warhost/internal/events"
)

// retentionHour is the local hour the game retention job runs at.
const retentionHour = 4

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg      config.SchedulerConfig
	store    *db.Store
	eventBus *events.EventBus
	now      func() time.Time
}

// NewScheduler creates a new task scheduler.
func NewScheduler(cfg *config.Config, store *db.Store, eventBus *events.EventBus) *Scheduler {
	return &Scheduler{
		cfg:      cfg.Scheduler,
		store:    store,
		eventBus: eventBus,
		now:      time.Now,
	}
}

// Start runs the jobs until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	if s.cfg.BanPruneIntervalMin > 0 {
		go s.runBanPruneLoop(ctx, time.Duration(s.cfg.BanPruneIntervalMin)*time.Minute)
	}
	if s.cfg.GameRetentionDays > 0 {
		go s.runRetentionLoop(ctx)
	}

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runBanPruneLoop(ctx context.Context, interval time.Duration) {
	s.PruneBans()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.PruneBans()
		}
	}
}

// PruneBans deletes bans whose expiry has passed.
func (s *Scheduler) PruneBans() int64 {
	n, err := s.store.PruneExpiredBans(s.now())
	if err != nil {
		log.Warn().Err(err).Msg("ban pruning failed")
		return 0
	}
	if n > 0 {
		log.Info().Int64("removed", n).Msg("expired bans pruned")
	}
	return n
}

func (s *Scheduler) runRetentionLoop(ctx context.Context) {
	for {
		next := nextRun(s.now(), retentionHour)
		log.Info().Time("next_run", next).Msg("game retention scheduled")

		select {
		case <-ctx.Done():
			return
		case <-time.After(next.Sub(s.now())):
			s.PruneGames()
		}
	}
}

// PruneGames deletes finished games older than the retention period.
func (s *Scheduler) PruneGames() int64 {
	cutoff := s.now().AddDate(0, 0, -s.cfg.GameRetentionDays)
	n, err := s.store.PruneGames(cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("game retention failed")
		return 0
	}

	downloads, _ := s.store.DownloadCount()
	log.Info().
		Int64("removed_games", n).
		Time("cutoff", cutoff).
		Int("downloads", downloads).
		Msg("game retention completed")

	if n > 0 && s.eventBus != nil {
		s.eventBus.Emit(context.Background(), events.Event{
			Type:   events.EventNotify,
			Source: "scheduler",
			Time:   s.now(),
			Payload: events.NotifyPayload{
				Title:   "Game retention",
				Message: "old game records removed",
				Level:   "info",
			},
		})
	}
	return n
}

// nextRun returns the next time at hour:00 local time strictly after now.
func nextRun(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
