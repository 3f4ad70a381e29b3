package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/warhost-project/warhost/internal/config"
	"github.com/warhost-project/warhost/internal/db"
	"github.com/warhost-project/warhost/internal/events"
)

func newTestScheduler(t *testing.T, now time.Time) (*Scheduler, *db.Store) {
	t.Helper()
	store, err := db.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)
	s := NewScheduler(config.DefaultConfig(), store, bus)
	s.now = func() time.Time { return now }
	return s, store
}

func TestPruneBans(t *testing.T) {
	now := time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)
	s, store := newTestScheduler(t, now)
	store.AddBan(db.Ban{Name: "expired", ExpiresAt: now.Add(-time.Minute)})
	store.AddBan(db.Ban{Name: "later", ExpiresAt: now.Add(time.Hour)})
	store.AddBan(db.Ban{Name: "forever"})

	if n := s.PruneBans(); n != 1 {
		t.Fatalf("pruned %d", n)
	}
	if n := s.PruneBans(); n != 0 {
		t.Fatalf("pruned %d on second pass", n)
	}
	bans, _ := store.Bans("")
	if len(bans) != 2 {
		t.Fatalf("%d bans left", len(bans))
	}
}

func TestPruneGames(t *testing.T) {
	now := time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)
	s, store := newTestScheduler(t, now)
	s.cfg.GameRetentionDays = 30

	if _, err := store.SaveGame(db.GameRecord{GameName: "ancient", CreatedAt: now.AddDate(0, 0, -31)}, nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := store.SaveGame(db.GameRecord{GameName: "recent", CreatedAt: now.AddDate(0, 0, -1)}, nil, nil); err != nil {
		t.Fatal(err)
	}

	if n := s.PruneGames(); n != 1 {
		t.Fatalf("pruned %d", n)
	}
	games, err := store.RecentGames(10)
	if err != nil || len(games) != 1 || games[0].GameName != "recent" {
		t.Fatalf("games %+v, %v", games, err)
	}
}

func TestNextRun(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before", time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC), time.Date(2024, 5, 1, 4, 0, 0, 0, time.UTC)},
		{"exactly", time.Date(2024, 5, 1, 4, 0, 0, 0, time.UTC), time.Date(2024, 5, 2, 4, 0, 0, 0, time.UTC)},
		{"after", time.Date(2024, 5, 31, 22, 0, 0, 0, time.UTC), time.Date(2024, 6, 1, 4, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextRun(tt.now, 4); !got.Equal(tt.want) {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStartStops(t *testing.T) {
	s, _ := newTestScheduler(t, time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
