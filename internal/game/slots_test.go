package game

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/warhost-project/warhost/internal/protocol"
	"github.com/warhost-project/warhost/internal/slot"
)

// checkColours fails when two occupied player slots share a colour.
func checkColours(t *testing.T, slots []slot.Slot) {
	t.Helper()
	seen := map[byte]int{}
	for i, s := range slots {
		if !s.IsOccupied() || s.IsObserver() {
			continue
		}
		if j, ok := seen[s.Colour]; ok {
			t.Fatalf("slots %d and %d share colour %d", j, i, s.Colour)
		}
		seen[s.Colour] = i
	}
}

func TestCustomForcesTeamChange(t *testing.T) {
	e := newEnv(t, parseMap(t, forcesMap), nil)
	a := e.mustJoin("A")
	e.mustJoin("B")

	slots := e.g.Slots()
	if slots[0].Team != 0 || slots[0].Colour != 0 || slots[1].Team != 0 || slots[1].Colour != 1 {
		t.Fatalf("custom forces seating changed the slots: %v", slots[:2])
	}

	a.request(protocol.ChatTeamChange, 1)
	e.step(1)
	slots = e.g.Slots()
	pid := a.player().pid
	if slots[2].PID != pid || slots[2].Team != 1 {
		t.Fatalf("A not moved to team 1: %s", slots[2])
	}
	if slots[0].Status != slot.StatusOpen || slots[0].Team != 0 {
		t.Fatalf("old slot %s", slots[0])
	}
	checkColours(t, slots)

	// A team with no open slot refuses the change.
	e.mustJoin("C")
	e.mustJoin("D")
	before := e.g.Slots()
	a.request(protocol.ChatTeamChange, 0)
	e.step(1)
	if diff := cmp.Diff(before, e.g.Slots()); diff != "" {
		t.Fatalf("slots changed (-want +got):\n%s", diff)
	}
}

func TestTeamChangeNonCustomForces(t *testing.T) {
	e := newEnv(t, parseMap(t, duelMap), nil)
	a := e.mustJoin("A")

	a.request(protocol.ChatTeamChange, slot.ObserverTeam)
	e.step(1)
	s := e.g.Slots()[0]
	if s.Team != slot.ObserverTeam || s.Colour != slot.ObserverTeam {
		t.Fatalf("observer change: %s", s)
	}

	a.request(protocol.ChatTeamChange, 1)
	e.step(1)
	s = e.g.Slots()[0]
	if s.Team != 1 || s.Colour == slot.ObserverTeam {
		t.Fatalf("back to players: %s", s)
	}

	// Teams past the map's player count are refused.
	a.request(protocol.ChatTeamChange, 5)
	e.step(1)
	if e.g.Slots()[0].Team != 1 {
		t.Fatal("invalid team accepted")
	}
}

func TestColourChange(t *testing.T) {
	e := newEnv(t, parseMap(t, duelMap), nil)
	a := e.mustJoin("A")
	b := e.mustJoin("B")

	// Colour 5 is free.
	a.request(protocol.ChatColourChange, 5)
	e.step(1)
	if c := e.g.Slots()[0].Colour; c != 5 {
		t.Fatalf("colour %d", c)
	}

	// B's colour is held by an occupant.
	b.request(protocol.ChatColourChange, 5)
	e.step(1)
	if c := e.g.Slots()[1].Colour; c == 5 {
		t.Fatal("took an occupied colour")
	}

	// Colours past 11 are rejected by the newtype.
	a.request(protocol.ChatColourChange, 12)
	e.step(1)
	if c := e.g.Slots()[0].Colour; c != 5 {
		t.Fatalf("colour %d", c)
	}
	checkColours(t, e.g.Slots())
}

func TestRaceAndHandicapChange(t *testing.T) {
	e := newEnv(t, parseMap(t, duelMap), nil)
	a := e.mustJoin("A")

	a.request(protocol.ChatRaceChange, slot.RaceOrc)
	a.request(protocol.ChatHandicapChange, 70)
	e.step(1)
	s := e.g.Slots()[0]
	if s.Race != slot.RaceOrc|slot.RaceSelectable || s.Handicap != 70 {
		t.Fatalf("slot %s", s)
	}

	a.request(protocol.ChatHandicapChange, 65)
	a.request(protocol.ChatRaceChange, 3)
	e.step(1)
	if got := e.g.Slots()[0]; got != s {
		t.Fatalf("invalid requests applied: %s", got)
	}
}

func TestSwapSlotsFixedSettings(t *testing.T) {
	e := newEnv(t, parseMap(t, `{
		"path": "Maps\\Download\\fixed.w3x",
		"crc": 1,
		"options": 96,
		"slots": [
			{"status": 0, "team": 0, "colour": 0, "race": 1},
			{"status": 0, "team": 1, "colour": 1, "race": 2}
		]
	}`), nil)
	a := e.mustJoin("A")
	if !e.g.SwapSlots(0, 1) {
		t.Fatal("swap refused")
	}
	s := e.g.Slots()
	if s[1].PID != a.player().pid {
		t.Fatal("occupant not moved")
	}
	if s[0].Team != 0 || s[0].Colour != 0 || s[0].Race != slot.RaceHuman {
		t.Fatalf("position settings moved: %s", s[0])
	}
	if s[1].Team != 1 || s[1].Colour != 1 || s[1].Race != slot.RaceOrc {
		t.Fatalf("position settings moved: %s", s[1])
	}
	if e.g.SwapSlots(0, 0) || e.g.SwapSlots(0, 7) {
		t.Fatal("invalid swap accepted")
	}
}

func TestOpenCloseComputer(t *testing.T) {
	e := newEnv(t, parseMap(t, duelMap), nil)
	a := e.mustJoin("A")
	a.drain()

	if !e.g.ComputerSlot(1, slot.ComputerInsane, false) {
		t.Fatal("computer refused")
	}
	s := e.g.Slots()[1]
	if !s.Computer || s.ComputerType != slot.ComputerInsane || s.DownloadStatus != 100 {
		t.Fatalf("computer slot %s", s)
	}
	if e.g.ComputerSlot(5, slot.ComputerEasy, false) {
		t.Fatal("computer placed in an observer slot")
	}

	if !e.g.CloseSlot(0, true) {
		t.Fatal("close refused")
	}
	if e.g.Slots()[0].Status != slot.StatusClosed {
		t.Fatal("slot not closed")
	}
	if left, _ := a.player().Left(); !left {
		t.Fatal("occupant not kicked")
	}
	if len(ofID(a.drain(), protocol.W3GSHeader, protocol.PktHostKickPlayer)) != 1 {
		t.Fatal("no kick packet")
	}
	if e.g.CloseSlot(0, false) {
		t.Fatal("closed slot closed again")
	}
	if !e.g.OpenSlot(0, false) || e.g.Slots()[0].Status != slot.StatusOpen {
		t.Fatal("slot not reopened")
	}
}

func TestSlotEditsFrozenAfterStart(t *testing.T) {
	e := newEnv(t, parseMap(t, duelMap), nil)
	e.mustJoin("A")
	e.mustJoin("B")
	e.start()
	if e.g.SwapSlots(0, 1) || e.g.OpenSlot(3, false) || e.g.ShuffleSlots() {
		t.Fatal("slot edit accepted after start")
	}
}

func TestShuffleKeepsPlayers(t *testing.T) {
	e := newEnv(t, parseMap(t, forcesMap), nil)
	for _, n := range []string{"A", "B", "C", "D"} {
		e.mustJoin(n)
	}
	before := e.g.Slots()
	if !e.g.ShuffleSlots() {
		t.Fatal("shuffle refused")
	}
	after := e.g.Slots()
	pids := map[byte]bool{}
	for i, s := range after {
		pids[s.PID] = true
		if s.Team != before[i].Team || s.Colour != before[i].Colour {
			t.Fatalf("custom forces position %d changed team or colour", i)
		}
	}
	if len(pids) != 4 {
		t.Fatalf("players lost in shuffle: %v", after)
	}
}

func TestRandomSlotEditsKeepColoursUnique(t *testing.T) {
	for _, tc := range []struct {
		name string
		raw  string
	}{
		{"duel", duelMap},
		{"pair", twoSlotMap},
		{"forces", forcesMap},
	} {
		t.Run(tc.name, func(t *testing.T) {
			for seed := int64(1); seed <= 50; seed++ {
				e := newEnv(t, parseMap(t, tc.raw), nil)
				e.mustJoin("A")
				e.mustJoin("B")
				rng := rand.New(rand.NewSource(seed))
				n := len(e.g.Slots())
				for op := 0; op < 60; op++ {
					sid := rng.Intn(n)
					switch rng.Intn(6) {
					case 0:
						e.g.SwapSlots(sid, rng.Intn(n))
					case 1:
						e.g.ColourSlot(sid, slot.Colour(rng.Intn(slot.NumColours)))
					case 2:
						e.g.OpenSlot(sid, false)
					case 3:
						e.g.CloseSlot(sid, false)
					case 4:
						e.g.ComputerSlot(sid, byte(rng.Intn(int(slot.ComputerInsane)+1)), false)
					case 5:
						e.g.ShuffleSlots()
					}
					checkColours(t, e.g.Slots())
				}
			}
		})
	}
}
