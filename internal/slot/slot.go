// Package slot models the lobby roster entries of a hosted game and their
// 9-byte wire encoding.
package slot

import (
	"encoding/binary"
	"fmt"
)

// Status of a slot.
const (
	StatusOpen     byte = 0
	StatusClosed   byte = 1
	StatusOccupied byte = 2
)

// Race bits. Selectable marks a race the occupant may change.
const (
	RaceHuman      byte = 1
	RaceOrc        byte = 2
	RaceNightElf   byte = 4
	RaceUndead     byte = 8
	RaceRandom     byte = 32
	RaceSelectable byte = 64
)

// Computer difficulty.
const (
	ComputerEasy   byte = 0
	ComputerNormal byte = 1
	ComputerInsane byte = 2
)

const (
	// NoPID marks a slot without an occupant.
	NoPID byte = 255

	// DownloadUnknown is the download status of a slot whose occupant has not
	// reported map progress.
	DownloadUnknown byte = 255

	// ObserverTeam is the team (and colour) reserved for observers.
	ObserverTeam byte = 12

	// EncodedSize is the wire size of one slot.
	EncodedSize = 9

	// MaxSlots is the largest slot table a game may have.
	MaxSlots = 12
)

// ValidHandicaps lists every handicap a client may select.
var ValidHandicaps = []byte{50, 60, 70, 80, 90, 100}

// Slot is one entry of the lobby roster.
type Slot struct {
	PID            byte `json:"pid"`
	DownloadStatus byte `json:"download_status"`
	Status         byte `json:"status"`
	Computer       bool `json:"computer"`
	Team           byte `json:"team"`
	Colour         byte `json:"colour"`
	Race           byte `json:"race"`
	ComputerType   byte `json:"computer_type"`
	Handicap       byte `json:"handicap"`
}

// Default returns the slot used when an encoding cannot be decoded.
func Default() Slot {
	return Slot{
		DownloadStatus: DownloadUnknown,
		Status:         StatusOpen,
		Race:           RaceRandom,
		ComputerType:   ComputerNormal,
		Handicap:       100,
	}
}

// New builds an empty slot (no occupant) with the given position attributes.
func New(status, team, colour, race byte) Slot {
	return Slot{
		PID:            0,
		DownloadStatus: DownloadUnknown,
		Status:         status,
		Team:           team,
		Colour:         colour,
		Race:           race,
		ComputerType:   ComputerNormal,
		Handicap:       100,
	}
}

// IsOccupied reports whether a human or computer holds the slot.
func (s Slot) IsOccupied() bool { return s.Status == StatusOccupied }

// IsObserver reports whether the slot sits on the observer team.
func (s Slot) IsObserver() bool { return s.Team == ObserverTeam }

// IsHuman reports whether a human player occupies the slot.
func (s Slot) IsHuman() bool { return s.Status == StatusOccupied && !s.Computer }

// Encode returns the 9-byte wire form.
func (s Slot) Encode() []byte {
	computer := byte(0)
	if s.Computer {
		computer = 1
	}
	return []byte{s.PID, s.DownloadStatus, s.Status, computer, s.Team, s.Colour, s.Race, s.ComputerType, s.Handicap}
}

// Decode parses the 9-byte wire form. Any other length yields Default().
func Decode(b []byte) Slot {
	if len(b) != EncodedSize {
		return Default()
	}
	return Slot{
		PID:            b[0],
		DownloadStatus: b[1],
		Status:         b[2],
		Computer:       b[3] != 0,
		Team:           b[4],
		Colour:         b[5],
		Race:           b[6],
		ComputerType:   b[7],
		Handicap:       b[8],
	}
}

// String is used in operator logs.
func (s Slot) String() string {
	return fmt.Sprintf("slot{pid=%d dl=%d status=%d comp=%t team=%d colour=%d race=%d type=%d hc=%d}",
		s.PID, s.DownloadStatus, s.Status, s.Computer, s.Team, s.Colour, s.Race, s.ComputerType, s.Handicap)
}

// EncodeInfo builds the slot-info block carried by SLOTINFO and SLOTINFOJOIN:
// [count][9*count slot bytes][LE random seed][layout style][player slots].
func EncodeInfo(slots []Slot, randomSeed uint32, layoutStyle, playerSlots byte) []byte {
	out := make([]byte, 0, 1+len(slots)*EncodedSize+6)
	out = append(out, byte(len(slots)))
	for _, s := range slots {
		out = append(out, s.Encode()...)
	}
	out = binary.LittleEndian.AppendUint32(out, randomSeed)
	out = append(out, layoutStyle, playerSlots)
	return out
}

// Info is a decoded slot-info block.
type Info struct {
	Slots       []Slot
	RandomSeed  uint32
	LayoutStyle byte
	PlayerSlots byte
}

// DecodeInfo parses a slot-info block. ok is false when the block is truncated.
func DecodeInfo(b []byte) (Info, bool) {
	if len(b) < 1 {
		return Info{}, false
	}
	n := int(b[0])
	if len(b) != 1+n*EncodedSize+6 {
		return Info{}, false
	}
	info := Info{Slots: make([]Slot, 0, n)}
	off := 1
	for i := 0; i < n; i++ {
		info.Slots = append(info.Slots, Decode(b[off:off+EncodedSize]))
		off += EncodedSize
	}
	info.RandomSeed = binary.LittleEndian.Uint32(b[off:])
	info.LayoutStyle = b[off+4]
	info.PlayerSlots = b[off+5]
	return info, true
}

// ValidHandicap reports whether h is a selectable handicap.
func ValidHandicap(h byte) bool {
	for _, v := range ValidHandicaps {
		if v == h {
			return true
		}
	}
	return false
}

// ValidRace reports whether r is a single race a player may pick.
func ValidRace(r byte) bool {
	switch r {
	case RaceHuman, RaceOrc, RaceNightElf, RaceUndead, RaceRandom:
		return true
	}
	return false
}
