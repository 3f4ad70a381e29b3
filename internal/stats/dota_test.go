package stats

import (
	"encoding/binary"
	"testing"

	"github.com/warhost-project/warhost/internal/slot"
)

func record(ns, key string, value uint32) []byte {
	b := append([]byte{}, marker...)
	b = append(b, ns...)
	b = append(b, 0)
	b = append(b, key...)
	b = append(b, 0)
	return binary.LittleEndian.AppendUint32(b, value)
}

func TestHeroKill(t *testing.T) {
	d := NewDotA("test")
	action := append([]byte{0x6b, 0x10, 0x00}, record("Data", "Hero3", 8)...)
	if d.ProcessAction(action) {
		t.Fatal("winner reported early")
	}
	s := d.Summary()
	if len(s.Players) != 2 {
		t.Fatalf("players = %+v", s.Players)
	}
	for _, p := range s.Players {
		switch p.Colour {
		case 3:
			if p.Deaths != 1 {
				t.Errorf("victim deaths = %d", p.Deaths)
			}
		case 8:
			if p.Kills != 1 {
				t.Errorf("killer kills = %d", p.Kills)
			}
		default:
			t.Errorf("unexpected colour %d", p.Colour)
		}
	}
}

func TestWinnerAndMultipleRecords(t *testing.T) {
	d := NewDotA("test")
	var action []byte
	action = append(action, record("Global", "m", 42)...)
	action = append(action, record("Global", "s", 7)...)
	action = append(action, record("Global", "Winner", WinnerScourge)...)
	if !d.ProcessAction(action) {
		t.Fatal("winner not reported")
	}
	s := d.Summary()
	if s.Winner != WinnerScourge || s.Minutes != 42 || s.Seconds != 7 {
		t.Fatalf("summary = %+v", s)
	}
}

func TestPlayerNamespace(t *testing.T) {
	d := NewDotA("test")
	var action []byte
	action = append(action, record("2", "1", 11)...)
	action = append(action, record("2", "4", 13)...)
	action = append(action, record("2", "9", 0x4830304A)...) // H00J
	action = append(action, record("2", "8_3", 0x49303030)...)
	action = append(action, record("7", "id", 6)...)
	action = append(action, record("6", "1", 99)...)  // colour 6 is not a hero
	action = append(action, record("12", "1", 99)...) // out of range
	d.ProcessAction(action)

	s := d.Summary()
	if len(s.Players) != 2 {
		t.Fatalf("players = %+v", s.Players)
	}
	p := s.Players[0]
	if p.Colour != 2 || p.Kills != 11 || p.CreepDenies != 13 || p.Hero != "H00J" || p.Items[3] != "I000" {
		t.Fatalf("colour 2 = %+v", p)
	}
	if s.Players[1].NewColour != slot.Colour(7) {
		t.Fatalf("id remap = %d", s.Players[1].NewColour)
	}
}

func TestTruncatedRecordsNeverFault(t *testing.T) {
	full := record("Data", "Hero1", 2)
	for n := 0; n < len(full); n++ {
		d := NewDotA("test")
		d.ProcessAction(full[:n])
		if len(d.Summary().Players) != 0 {
			t.Fatalf("truncated record at %d produced stats", n)
		}
	}

	// a partial marker before a record is skipped
	d := NewDotA("test")
	action := append([]byte{1, 2, 3, 0x6b, 0x64}, record("Data", "Assist5", 0)...)
	d.ProcessAction(action)
	s := d.Summary()
	if len(s.Players) != 1 || s.Players[0].Assists != 1 {
		t.Fatalf("players = %+v", s.Players)
	}
}

func TestInvalidWinnerIgnored(t *testing.T) {
	d := NewDotA("test")
	if d.ProcessAction(record("Global", "Winner", 7)) {
		t.Fatal("invalid winner accepted")
	}
}
