package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/warhost-project/warhost/internal/config"
	"github.com/warhost-project/warhost/internal/events"
	"github.com/warhost-project/warhost/internal/server"
	"github.com/warhost-project/warhost/internal/util"
)

type fakeHost struct{ summary server.Summary }

func (f *fakeHost) Summary() server.Summary { return f.summary }

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T) (*Manager, *fakeHost, chan events.Event) {
	t.Helper()
	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)
	got := make(chan events.Event, 16)
	record := func(ctx context.Context, e events.Event) error {
		got <- e
		return nil
	}
	bus.Subscribe(events.EventNotify, "test", record)
	bus.Subscribe(events.EventHeartbeat, "test", record)

	cfg := config.DefaultConfig()
	cfg.Maps.Directory = "maps"
	cfg.Database.Path = "data/warhost.db"
	host := &fakeHost{}
	m := NewManager(cfg, bus, host, nil)
	m.now = func() time.Time { return epoch }
	return m, host, got
}

func next(t *testing.T, ch chan events.Event) events.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
	return events.Event{}
}

func none(t *testing.T, ch chan events.Event) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHeartbeat(t *testing.T) {
	m, host, got := newTestManager(t)
	host.summary = server.Summary{
		Lobbies: 1, Running: 2, Players: 9, GamesHosted: 12, Reconnects: 3, RejectedJoins: 4,
		StartedAt: epoch.Add(-90 * time.Second),
	}
	m.lastDisk = 42.5

	m.Heartbeat(context.Background())
	e := next(t, got)
	want := events.HeartbeatPayload{
		Lobbies: 1, Running: 2, Players: 9, GamesHosted: 12, Reconnects: 3, RejectedJoins: 4,
		UptimeSec: 90, DiskUsedPct: 42.5,
	}
	if diff := cmp.Diff(want, e.Payload); diff != "" {
		t.Fatalf("heartbeat (-want +got):\n%s", diff)
	}
}

func TestDiskAlertOnTransition(t *testing.T) {
	m, _, got := newTestManager(t)
	used := map[string]float64{"maps": 50, "data": 50}
	m.diskUsage = func(path string) (*util.DiskUsage, error) {
		if path == "broken" {
			return nil, errors.New("no such path")
		}
		return &util.DiskUsage{Total: 100, Free: uint64(100 - used[path]), UsedPercent: used[path]}, nil
	}
	m.dirs = append(m.dirs, "broken")
	ctx := context.Background()

	m.CheckDisk(ctx)
	none(t, got)

	used["data"] = 95
	m.CheckDisk(ctx)
	e := next(t, got)
	p := e.Payload.(events.NotifyPayload)
	if p.Level != "warning" || p.Title != "Disk Space Alert" {
		t.Fatalf("payload %+v", p)
	}
	if m.lastDisk != 95 {
		t.Fatalf("lastDisk = %v", m.lastDisk)
	}

	// still high: no repeat
	m.CheckDisk(ctx)
	none(t, got)

	used["data"] = 60
	m.CheckDisk(ctx)
	none(t, got)
	if m.diskAlerted["data"] {
		t.Fatal("alert not cleared")
	}
}

func TestStallWatchdog(t *testing.T) {
	m, host, got := newTestManager(t)
	ctx := context.Background()

	m.CheckStall(ctx)
	none(t, got)

	host.summary.UpdatedAt = epoch.Add(-time.Second)
	m.CheckStall(ctx)
	none(t, got)

	host.summary.UpdatedAt = epoch.Add(-time.Minute)
	m.CheckStall(ctx)
	if p := next(t, got).Payload.(events.NotifyPayload); p.Level != "error" || p.Message != "No host update for 1m0s" {
		t.Fatalf("payload %+v", p)
	}
	m.CheckStall(ctx)
	none(t, got)

	host.summary.UpdatedAt = epoch
	m.CheckStall(ctx)
	if p := next(t, got).Payload.(events.NotifyPayload); p.Title != "Host Recovered" {
		t.Fatalf("payload %+v", p)
	}
}

func TestStartStops(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.diskUsage = func(string) (*util.DiskUsage, error) { return &util.DiskUsage{UsedPercent: 10}, nil }
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}
}
