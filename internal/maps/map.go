// Package maps loads map descriptors: the metadata a lobby advertises and
// checks against clients, the initial slot table and the optional map file
// bytes served to downloaders.
package maps

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/warhost-project/warhost/internal/slot"
)

// Game speed.
const (
	SpeedSlow   byte = 1
	SpeedNormal byte = 2
	SpeedFast   byte = 3
)

// Visibility.
const (
	VisHideTerrain   byte = 1
	VisExplored      byte = 2
	VisAlwaysVisible byte = 3
	VisDefault       byte = 4
)

// Observer modes.
const (
	ObsNone     byte = 1
	ObsOnDefeat byte = 2
	ObsAllowed  byte = 3
	ObsReferees byte = 4
)

// Game flags selectable in the lobby.
const (
	FlagTeamsTogether uint32 = 1
	FlagFixedTeams    uint32 = 2
	FlagUnitShare     uint32 = 4
	FlagRandomHero    uint32 = 8
	FlagRandomRaces   uint32 = 16
)

// Map options from the map's info file.
const (
	OptHideMinimap          uint32 = 1 << 0
	OptModifyAllyPriorities uint32 = 1 << 1
	OptMelee                uint32 = 1 << 2
	OptRevealTerrain        uint32 = 1 << 4
	OptFixedPlayerSettings  uint32 = 1 << 5
	OptCustomForces         uint32 = 1 << 6
	OptCustomTechTree       uint32 = 1 << 7
	OptCustomAbilities      uint32 = 1 << 8
	OptCustomUpgrades       uint32 = 1 << 9
)

// Game type bits advertised in GAMEINFO.
const (
	GameTypeCustom      uint32 = 1 << 0
	GameTypePrivate     uint32 = 1 << 11
	GameTypeMakerUser   uint32 = 1 << 13
	GameTypeMelee       uint32 = 1 << 15
	GameTypeScenario    uint32 = 1 << 16
	GameTypeSizeSmall   uint32 = 1 << 17
	GameTypeSizeMedium  uint32 = 1 << 18
	GameTypeSizeLarge   uint32 = 1 << 19
	GameTypeObsFull     uint32 = 1 << 20
	GameTypeObsOnDefeat uint32 = 1 << 21
	GameTypeObsNone     uint32 = 1 << 22
)

// Map area thresholds for the size bits.
const (
	gameTypeSizeMediumAt = 128 * 128
	gameTypeSizeLargeAt  = 176 * 176
)

var (
	// ErrNoMapData is returned when map bytes are needed but were not loaded.
	ErrNoMapData = errors.New("map data not loaded")

	// ErrInvalidMap is wrapped by every descriptor validation failure.
	ErrInvalidMap = errors.New("invalid map")
)

// descriptor is the JSON form of a map config file.
type descriptor struct {
	Path       string      `json:"path"`
	File       string      `json:"file"`
	Size       uint32      `json:"size"`
	Info       uint32      `json:"info"`
	CRC        uint32      `json:"crc"`
	SHA1       string      `json:"sha1"`
	Width      uint16      `json:"width"`
	Height     uint16      `json:"height"`
	Speed      byte        `json:"speed"`
	Visibility byte        `json:"visibility"`
	Observers  byte        `json:"observers"`
	Flags      uint32      `json:"flags"`
	Options    uint32      `json:"options"`
	NumPlayers int         `json:"num_players"`
	NumTeams   int         `json:"num_teams"`
	Type       string      `json:"type"`
	DefaultHCL string      `json:"default_hcl"`
	Slots      []slot.Slot `json:"slots"`
}

// Map is a loaded map descriptor.
type Map struct {
	cfgPath    string
	path       string
	file       string
	size       uint32
	info       uint32
	crc        uint32
	sha1       []byte
	width      uint16
	height     uint16
	speed      byte
	visibility byte
	observers  byte
	flags      uint32
	options    uint32
	numPlayers int
	numTeams   int
	mapType    string
	defaultHCL string
	slots      []slot.Slot
	data       []byte
}

// Load reads the descriptor named name from configDir. A ".json" suffix is
// added when missing.
func Load(configDir, name string) (*Map, error) {
	if !strings.HasSuffix(strings.ToLower(name), ".json") {
		name += ".json"
	}
	cfgPath := filepath.Join(configDir, filepath.Base(name))
	raw, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read map config %s: %w", cfgPath, err)
	}
	m, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("map config %s: %w", cfgPath, err)
	}
	m.cfgPath = cfgPath
	return m, nil
}

// Parse builds a Map from descriptor JSON. The slot table is completed the
// way clients expect: melee maps get one team per slot, races become
// selectable unless player settings are fixed, and observer slots pad the
// table to 12 when observers or referees are allowed.
func Parse(raw []byte) (*Map, error) {
	d := descriptor{
		Speed:      SpeedFast,
		Visibility: VisDefault,
		Observers:  ObsNone,
		Flags:      FlagTeamsTogether | FlagFixedTeams,
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("failed to parse map config: %w", err)
	}

	m := &Map{
		path:       d.Path,
		file:       d.File,
		size:       d.Size,
		info:       d.Info,
		crc:        d.CRC,
		width:      d.Width,
		height:     d.Height,
		speed:      d.Speed,
		visibility: d.Visibility,
		observers:  d.Observers,
		flags:      d.Flags,
		options:    d.Options,
		numPlayers: d.NumPlayers,
		numTeams:   d.NumTeams,
		mapType:    strings.ToLower(d.Type),
		defaultHCL: d.DefaultHCL,
	}
	if d.SHA1 != "" {
		sum, err := hex.DecodeString(strings.ReplaceAll(d.SHA1, " ", ""))
		if err != nil || len(sum) != 20 {
			return nil, fmt.Errorf("%w: sha1 must be 20 hex bytes", ErrInvalidMap)
		}
		m.sha1 = sum
	}

	slots := append([]slot.Slot(nil), d.Slots...)
	for i := range slots {
		if slots[i].Status != slot.StatusOccupied {
			slots[i].PID = 0
		}
		if slots[i].DownloadStatus == 0 {
			slots[i].DownloadStatus = slot.DownloadUnknown
		}
		if slots[i].Handicap == 0 {
			slots[i].Handicap = 100
		}
		if slots[i].Race == 0 {
			slots[i].Race = slot.RaceRandom
		}
	}
	if m.options&OptMelee != 0 {
		for i := range slots {
			if slots[i].IsObserver() {
				continue
			}
			slots[i].Team = byte(i)
			slots[i].Race = slot.RaceRandom
		}
	}
	if m.options&OptFixedPlayerSettings == 0 {
		for i := range slots {
			slots[i].Race |= slot.RaceSelectable
		}
	}
	if m.observers == ObsAllowed || m.observers == ObsReferees {
		for len(slots) < slot.MaxSlots {
			slots = append(slots, slot.New(slot.StatusOpen, slot.ObserverTeam, slot.ObserverTeam, slot.RaceRandom))
		}
	}
	m.slots = slots

	if m.numPlayers == 0 {
		for _, s := range d.Slots {
			if !s.IsObserver() {
				m.numPlayers++
			}
		}
	}
	if m.numTeams == 0 {
		teams := map[byte]bool{}
		for _, s := range m.slots {
			if !s.IsObserver() {
				teams[s.Team] = true
			}
		}
		m.numTeams = len(teams)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks the descriptor for values clients would reject.
func (m *Map) Validate() error {
	switch {
	case m.path == "":
		return fmt.Errorf("%w: path is empty", ErrInvalidMap)
	case !strings.HasPrefix(strings.ToLower(m.path), `maps\`):
		return fmt.Errorf("%w: path %q must start with Maps\\", ErrInvalidMap, m.path)
	case len(m.slots) == 0 || len(m.slots) > slot.MaxSlots:
		return fmt.Errorf("%w: %d slots", ErrInvalidMap, len(m.slots))
	case m.numPlayers < 1 || m.numPlayers > slot.MaxSlots:
		return fmt.Errorf("%w: %d players", ErrInvalidMap, m.numPlayers)
	case m.speed < SpeedSlow || m.speed > SpeedFast:
		return fmt.Errorf("%w: speed %d", ErrInvalidMap, m.speed)
	case m.visibility < VisHideTerrain || m.visibility > VisDefault:
		return fmt.Errorf("%w: visibility %d", ErrInvalidMap, m.visibility)
	case m.observers < ObsNone || m.observers > ObsReferees:
		return fmt.Errorf("%w: observers %d", ErrInvalidMap, m.observers)
	}
	for i, s := range m.slots {
		if s.Team > slot.ObserverTeam || s.Colour > slot.ObserverTeam {
			return fmt.Errorf("%w: slot %d team %d colour %d", ErrInvalidMap, i, s.Team, s.Colour)
		}
		if s.IsObserver() != (s.Colour == slot.ObserverTeam) {
			return fmt.Errorf("%w: slot %d mixes observer team and colour", ErrInvalidMap, i)
		}
		if s.Status > slot.StatusOccupied || !slot.ValidHandicap(s.Handicap) {
			return fmt.Errorf("%w: slot %d: %s", ErrInvalidMap, i, s)
		}
	}
	return nil
}

// Path is the map path clients see, e.g. Maps\Download\map.w3x.
func (m *Map) Path() string { return m.path }

// ConfigPath is the descriptor file the map was loaded from.
func (m *Map) ConfigPath() string { return m.cfgPath }

// File is the map file name inside the local map directory.
func (m *Map) File() string { return m.file }

// Size is the map file size in bytes.
func (m *Map) Size() uint32 { return m.size }

// Info is the CRC32 of the map file.
func (m *Map) Info() uint32 { return m.info }

// CRC is the script checksum clients verify.
func (m *Map) CRC() uint32 { return m.crc }

// SHA1 is the script hash newer clients verify. Nil when unknown.
func (m *Map) SHA1() []byte { return m.sha1 }

func (m *Map) Width() uint16  { return m.width }
func (m *Map) Height() uint16 { return m.height }

func (m *Map) Speed() byte      { return m.speed }
func (m *Map) Visibility() byte { return m.visibility }
func (m *Map) Observers() byte  { return m.observers }
func (m *Map) Flags() uint32    { return m.flags }
func (m *Map) Options() uint32  { return m.options }

// NumPlayers is the number of player slots the map declares.
func (m *Map) NumPlayers() int { return m.numPlayers }

// NumTeams is the number of non-observer teams.
func (m *Map) NumTeams() int { return m.numTeams }

// Type is the map family, e.g. "dota". Empty for ordinary maps.
func (m *Map) Type() string { return m.mapType }

// DefaultHCL is the HCL string a new game starts with.
func (m *Map) DefaultHCL() string { return m.defaultHCL }

// FixedPlayerSettings reports whether team, colour and race are pinned to slots.
func (m *Map) FixedPlayerSettings() bool { return m.options&OptFixedPlayerSettings != 0 }

// CustomForces reports whether teams are pinned to slots.
func (m *Map) CustomForces() bool { return m.options&OptCustomForces != 0 }

// Slots returns a copy of the initial slot table.
func (m *Map) Slots() []slot.Slot {
	return append([]slot.Slot(nil), m.slots...)
}

// PlayersPerTeam counts the non-observer slots of team in the initial table.
func (m *Map) PlayersPerTeam(team byte) int {
	n := 0
	for _, s := range m.slots {
		if s.Team == team && !s.IsObserver() {
			n++
		}
	}
	return n
}

// LayoutStyle is sent with every slot info block: 0 melee, 1 custom
// forces, 3 custom forces with fixed player settings.
func (m *Map) LayoutStyle() byte {
	if m.options&OptCustomForces == 0 {
		return 0
	}
	if m.options&OptFixedPlayerSettings == 0 {
		return 1
	}
	return 3
}

// GameFlags is the flag word of the stat string.
func (m *Map) GameFlags() uint32 {
	var f uint32
	switch m.speed {
	case SpeedSlow:
		f = 0x00000000
	case SpeedNormal:
		f = 0x00000001
	default:
		f = 0x00000002
	}

	switch m.visibility {
	case VisHideTerrain:
		f |= 0x00000100
	case VisExplored:
		f |= 0x00000200
	case VisAlwaysVisible:
		f |= 0x00000400
	default:
		f |= 0x00000800
	}

	switch m.observers {
	case ObsOnDefeat:
		f |= 0x00002000
	case ObsAllowed:
		f |= 0x00003000
	case ObsReferees:
		f |= 0x40000000
	}

	if m.flags&FlagTeamsTogether != 0 {
		f |= 0x00004000
	}
	if m.flags&FlagFixedTeams != 0 {
		f |= 0x00060000
	}
	if m.flags&FlagUnitShare != 0 {
		f |= 0x01000000
	}
	if m.flags&FlagRandomHero != 0 {
		f |= 0x02000000
	}
	if m.flags&FlagRandomRaces != 0 {
		f |= 0x04000000
	}
	return f
}

// GameType is the game type word of GAMEINFO.
func (m *Map) GameType(private bool) uint32 {
	t := GameTypeCustom | GameTypeMakerUser
	if m.options&OptMelee != 0 {
		t |= GameTypeMelee
	} else {
		t |= GameTypeScenario
	}

	area := int(m.width) * int(m.height)
	switch {
	case area >= gameTypeSizeLargeAt:
		t |= GameTypeSizeLarge
	case area >= gameTypeSizeMediumAt:
		t |= GameTypeSizeMedium
	default:
		t |= GameTypeSizeSmall
	}

	switch m.observers {
	case ObsAllowed, ObsReferees:
		t |= GameTypeObsFull
	case ObsOnDefeat:
		t |= GameTypeObsOnDefeat
	default:
		t |= GameTypeObsNone
	}

	if private {
		t |= GameTypePrivate
	}
	return t
}

// Data returns the map file bytes. ErrNoMapData when they were not loaded.
func (m *Map) Data() ([]byte, error) {
	if len(m.data) == 0 {
		return nil, ErrNoMapData
	}
	return m.data, nil
}

// HasData reports whether the map file can be served to downloaders.
func (m *Map) HasData() bool { return len(m.data) > 0 }
