package maps

import (
	"errors"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/warhost-project/warhost/internal/slot"
)

const twoPlayerObs = `{
	"path": "Maps\\Download\\duel.w3x",
	"file": "duel.w3x",
	"crc": 305419896,
	"sha1": "0102030405060708090a0b0c0d0e0f1011121314",
	"width": 64, "height": 64,
	"observers": 3,
	"options": 96,
	"slots": [
		{"status": 0, "team": 0, "colour": 0, "race": 32},
		{"status": 0, "team": 1, "colour": 1, "race": 32}
	]
}`

func TestParsePadsObservers(t *testing.T) {
	m, err := Parse([]byte(twoPlayerObs))
	if err != nil {
		t.Fatal(err)
	}
	slots := m.Slots()
	if len(slots) != slot.MaxSlots {
		t.Fatalf("got %d slots, want 12", len(slots))
	}
	for i, s := range slots[2:] {
		if s.Team != slot.ObserverTeam || s.Colour != slot.ObserverTeam {
			t.Errorf("slot %d not an observer: %s", i+2, s)
		}
	}
	if m.NumPlayers() != 2 || m.NumTeams() != 2 {
		t.Fatalf("players=%d teams=%d", m.NumPlayers(), m.NumTeams())
	}
	if m.PlayersPerTeam(0) != 1 {
		t.Fatalf("PlayersPerTeam(0) = %d", m.PlayersPerTeam(0))
	}
	if m.LayoutStyle() != 3 {
		t.Fatalf("LayoutStyle = %d", m.LayoutStyle())
	}
	// Fixed player settings keep races unselectable.
	if slots[0].Race&slot.RaceSelectable != 0 {
		t.Fatal("race selectable on a fixed settings map")
	}
	if len(m.SHA1()) != 20 {
		t.Fatal("sha1 not parsed")
	}
}

func TestParseMelee(t *testing.T) {
	m, err := Parse([]byte(`{
		"path": "Maps\\(2)Lost.w3x",
		"options": 4,
		"slots": [{"team": 5, "colour": 0}, {"team": 5, "colour": 1}]
	}`))
	if err != nil {
		t.Fatal(err)
	}
	s := m.Slots()
	if s[0].Team != 0 || s[1].Team != 1 {
		t.Fatalf("melee teams not per slot: %v", s)
	}
	if s[0].Race != slot.RaceRandom|slot.RaceSelectable {
		t.Fatalf("race = %d", s[0].Race)
	}
	if m.LayoutStyle() != 0 {
		t.Fatalf("LayoutStyle = %d", m.LayoutStyle())
	}
	if m.GameType(false)&GameTypeMelee == 0 || m.GameType(true)&GameTypePrivate == 0 {
		t.Fatalf("GameType = %x", m.GameType(true))
	}
}

func TestParseRejects(t *testing.T) {
	tests := map[string]string{
		"no path":      `{"slots": [{}]}`,
		"bad prefix":   `{"path": "foo.w3x", "slots": [{}]}`,
		"no slots":     `{"path": "Maps\\a.w3x"}`,
		"bad colour":   `{"path": "Maps\\a.w3x", "slots": [{"colour": 13}]}`,
		"bad sha1":     `{"path": "Maps\\a.w3x", "sha1": "zz", "slots": [{}]}`,
		"bad speed":    `{"path": "Maps\\a.w3x", "speed": 9, "slots": [{}]}`,
		"obs mismatch": `{"path": "Maps\\a.w3x", "slots": [{"team": 12, "colour": 3}]}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(raw)); !errors.Is(err, ErrInvalidMap) {
				t.Fatal("expected error")
			}
		})
	}
}

func TestGameFlags(t *testing.T) {
	m, err := Parse([]byte(twoPlayerObs))
	if err != nil {
		t.Fatal(err)
	}
	// fast, default visibility, observers allowed, teams together, fixed teams
	want := uint32(0x00000002 | 0x00000800 | 0x00003000 | 0x00004000 | 0x00060000)
	if got := m.GameFlags(); got != want {
		t.Fatalf("GameFlags = %08x, want %08x", got, want)
	}
}

func TestLoadAndData(t *testing.T) {
	cfgDir := t.TempDir()
	mapDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(cfgDir, "duel.json"), []byte(twoPlayerObs), 0644); err != nil {
		t.Fatal(err)
	}
	m, err := Load(cfgDir, "duel")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Data(); !errors.Is(err, ErrNoMapData) {
		t.Fatalf("Data before load: %v", err)
	}
	if err := m.LoadData(mapDir); err == nil {
		t.Fatal("missing map file accepted")
	}

	content := make([]byte, 5000)
	for i := range content {
		content[i] = byte(i)
	}
	if err := os.WriteFile(filepath.Join(mapDir, "duel.w3x"), content, 0644); err != nil {
		t.Fatal(err)
	}
	if err := m.LoadData(mapDir); err != nil {
		t.Fatal(err)
	}
	if m.Size() != 5000 || m.Info() != crc32.ChecksumIEEE(content) {
		t.Fatalf("size=%d info=%08x", m.Size(), m.Info())
	}

	part, err := m.Part(4000, 1442)
	if err != nil || len(part) != 1000 || part[0] != content[4000] {
		t.Fatalf("Part tail: %d bytes, %v", len(part), err)
	}
	if part, _ := m.Part(5000, 10); part != nil {
		t.Fatal("Part past the end returned data")
	}
}

func TestLoadDataSizeMismatch(t *testing.T) {
	mapDir := t.TempDir()
	m, err := Parse([]byte(`{"path": "Maps\\a.w3x", "file": "a.w3x", "size": 10, "slots": [{}]}`))
	if err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(mapDir, "a.w3x"), []byte("abc"), 0644)
	if err := m.LoadData(mapDir); !errors.Is(err, ErrInvalidMap) {
		t.Fatalf("err = %v", err)
	}
}
