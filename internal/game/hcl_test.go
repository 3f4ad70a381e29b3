package game

import (
	"errors"
	"testing"

	"github.com/warhost-project/warhost/internal/slot"
)

func TestHCLEncodingSkipsSelectableHandicaps(t *testing.T) {
	for i, v := range hclEncoding {
		if v == 0 || slot.ValidHandicap(v) {
			t.Fatalf("hclEncoding[%d] = %d", i, v)
		}
	}
	if hclEncoding[0] != 1 || hclEncoding[48] != 49 || hclEncoding[49] != 51 {
		t.Fatalf("table start %d %d %d", hclEncoding[0], hclEncoding[48], hclEncoding[49])
	}
}

func TestEncodeHCL(t *testing.T) {
	slots := []slot.Slot{
		slot.New(slot.StatusOccupied, 0, 0, slot.RaceRandom),
		slot.New(slot.StatusOpen, 1, 1, slot.RaceRandom),
		slot.New(slot.StatusOccupied, 1, 2, slot.RaceRandom),
		slot.New(slot.StatusOccupied, 1, 3, slot.RaceRandom),
	}
	slots[2].Handicap = 50
	slots[3].Handicap = 100

	if err := EncodeHCL(slots, "ab"); err != nil {
		t.Fatal(err)
	}
	// handicap 100 is index 5; 'a' is character 0.
	if slots[0].Handicap != 6 {
		t.Fatalf("slot 0 handicap %d", slots[0].Handicap)
	}
	if slots[1].Handicap != 100 {
		t.Fatal("open slot encoded")
	}
	// handicap 50 is index 0; 'b' is character 1, so entry 6.
	if slots[2].Handicap != hclEncoding[6] {
		t.Fatalf("slot 2 handicap %d", slots[2].Handicap)
	}
	if slots[3].Handicap != 100 {
		t.Fatal("slot past the command changed")
	}
}

func TestCheckHCL(t *testing.T) {
	tests := []struct {
		cmd      string
		occupied int
		want     error
	}{
		{"ar", 2, nil},
		{"", 0, nil},
		{"ap sd", 5, nil},
		{"abc", 2, ErrHCLTooLong},
		{"AB", 2, ErrHCLChar},
		{"a!", 2, ErrHCLChar},
	}
	for _, tt := range tests {
		if err := CheckHCL(tt.cmd, tt.occupied); !errors.Is(err, tt.want) {
			t.Errorf("CheckHCL(%q, %d) = %v, want %v", tt.cmd, tt.occupied, err, tt.want)
		}
	}
}

func TestHCLTooLongProceedsWithWarning(t *testing.T) {
	e := newEnv(t, parseMap(t, duelMap), nil)
	e.mustJoin("A")
	e.mustJoin("B")
	e.g.hcl = "abc"

	// A normal start refuses, a forced one starts with handicaps untouched.
	if e.g.startCountDown(false) {
		t.Fatal("countdown started with an overlong HCL")
	}
	e.start()
	for i, s := range e.g.Slots()[:2] {
		if s.Handicap != 100 {
			t.Fatalf("slot %d handicap %d", i, s.Handicap)
		}
	}
}
