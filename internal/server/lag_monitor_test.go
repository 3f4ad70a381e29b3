package server

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/warhost-project/warhost/internal/events"
)

func lagEvent(t events.EventType, at time.Time, p events.LagPayload) events.Event {
	return events.Event{Type: t, Source: p.GameName, Time: at, Payload: p}
}

func TestLagMonitorRecordsScreens(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()
	lm := NewLagMonitor(bus)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)

	lm.handleLagStart(ctx, lagEvent(events.EventLagStart, at, events.LagPayload{GameName: "dota", Players: []string{"A"}}))
	if d, ok := lm.GameData("dota"); !ok || !d.Lagging {
		t.Fatal("lag start not tracked")
	}
	lm.handleLagStop(ctx, lagEvent(events.EventLagStop, at.Add(4*time.Second), events.LagPayload{GameName: "dota", Duration: 4 * time.Second}))
	// A stop without a start is ignored.
	lm.handleLagStop(ctx, lagEvent(events.EventLagStop, at.Add(5*time.Second), events.LagPayload{GameName: "dota", Duration: time.Second}))

	lm.handleLagStart(ctx, lagEvent(events.EventLagStart, at.Add(time.Minute), events.LagPayload{GameName: "dota", Players: []string{"B"}}))
	lm.handleLagStop(ctx, lagEvent(events.EventLagStop, at.Add(2*time.Minute), events.LagPayload{GameName: "dota", Players: []string{"B"}, Duration: 60 * time.Second, Dropped: true}))

	d, _ := lm.GameData("dota")
	want := GameLagData{
		Game:           "dota",
		TotalEvents:    2,
		EventsThisHour: 2,
		Dropped:        1,
		LastEventTime:  at.Add(2 * time.Minute),
		MaxDuration:    60 * time.Second,
		AvgDuration:    32 * time.Second,
		History: []LagEvent{
			{Timestamp: at.Add(4 * time.Second), Duration: 4 * time.Second, Players: []string{"A"}},
			{Timestamp: at.Add(2 * time.Minute), Duration: 60 * time.Second, Players: []string{"B"}, Dropped: true},
		},
	}
	if diff := cmp.Diff(want, d, cmp.AllowUnexported(GameLagData{})); diff != "" {
		t.Fatalf("lag data mismatch (-want +got):\n%s", diff)
	}

	lm.handleGameDeleted(ctx, events.Event{Payload: events.GamePayload{GameName: "dota"}})
	if _, ok := lm.GameData("dota"); ok {
		t.Fatal("deleted game kept")
	}
}

func TestLagMonitorThresholds(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()
	lm := NewLagMonitor(bus)
	lm.warningThreshold = 2
	lm.criticalThreshold = 3
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)

	screens := map[string]int{"calm": 1, "choppy": 2, "broken": 3}
	for name, n := range screens {
		for i := 0; i < n; i++ {
			ts := at.Add(time.Duration(i) * time.Minute)
			lm.handleLagStart(ctx, lagEvent(events.EventLagStart, ts, events.LagPayload{GameName: name}))
			lm.handleLagStop(ctx, lagEvent(events.EventLagStop, ts.Add(time.Second), events.LagPayload{GameName: name, Duration: time.Second}))
		}
	}

	alerts := lm.CheckThresholds()
	if len(alerts) != 2 {
		t.Fatalf("alerts %+v", alerts)
	}
	if alerts[0].Game != "broken" || alerts[0].Level != "critical" || alerts[1].Game != "choppy" || alerts[1].Level != "warning" {
		t.Fatalf("alerts %+v", alerts)
	}
	if all := lm.AllGameData(); len(all) != 3 || all[0].Game != "broken" {
		t.Fatalf("all %+v", all)
	}
}
