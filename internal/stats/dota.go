// Package stats extracts the telemetry DotA maps embed in game actions.
package stats

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/warhost-project/warhost/internal/slot"
)

// Winner values reported by the map.
const (
	WinnerUnknown  = 0
	WinnerSentinel = 1
	WinnerScourge  = 2
)

var marker = []byte{0x6b, 0x64, 0x72, 0x2e, 0x78, 0x00} // "kdr.x\0"

// PlayerStats is one colour's tally.
type PlayerStats struct {
	Colour       slot.Colour `json:"colour"`
	NewColour    slot.Colour `json:"new_colour"`
	Hero         string      `json:"hero"`
	Kills        uint32      `json:"kills"`
	Deaths       uint32      `json:"deaths"`
	Assists      uint32      `json:"assists"`
	CreepKills   uint32      `json:"creep_kills"`
	CreepDenies  uint32      `json:"creep_denies"`
	NeutralKills uint32      `json:"neutral_kills"`
	TowerKills   uint32      `json:"tower_kills"`
	RaxKills     uint32      `json:"rax_kills"`
	CourierKills uint32      `json:"courier_kills"`
	Gold         uint32      `json:"gold"`
	Items        [6]string   `json:"items"`
	seen         bool
}

// Summary is the collector's result at game end.
type Summary struct {
	Winner  int           `json:"winner"`
	Minutes uint32        `json:"minutes"`
	Seconds uint32        `json:"seconds"`
	Mode    string        `json:"mode"`
	Players []PlayerStats `json:"players"`
}

// DotA collects stats from the actions of one game. It is fed every relayed
// action and only reads them.
type DotA struct {
	players [slot.NumColours]PlayerStats
	winner  int
	min     uint32
	sec     uint32
	mode    string
	logger  zerolog.Logger
}

// NewDotA creates a collector for the named game.
func NewDotA(gameName string) *DotA {
	d := &DotA{
		logger: log.With().Str("component", "stats").Str("game", gameName).Logger(),
	}
	for i := range d.players {
		d.players[i].Colour = slot.Colour(i)
		d.players[i].NewColour = slot.Colour(i)
	}
	return d
}

// ProcessAction scans one action for stat records. It returns true once
// the map has reported a winner.
func (d *DotA) ProcessAction(action []byte) bool {
	i := 0
	for len(action) >= i+len(marker) {
		if !bytes.Equal(action[i:i+len(marker)], marker) {
			i++
			continue
		}
		n, ok := d.record(action[i+len(marker):])
		if !ok {
			i++
			continue
		}
		i += len(marker) + n
	}
	return d.winner != WinnerUnknown
}

// record parses [namespace\0][key\0][LE uint32] and returns the bytes used.
func (d *DotA) record(b []byte) (int, bool) {
	nsEnd := bytes.IndexByte(b, 0)
	if nsEnd < 0 {
		return 0, false
	}
	keyEnd := bytes.IndexByte(b[nsEnd+1:], 0)
	if keyEnd < 0 {
		return 0, false
	}
	keyEnd += nsEnd + 1
	if len(b) < keyEnd+1+4 {
		return 0, false
	}

	ns := string(b[:nsEnd])
	key := string(b[nsEnd+1 : keyEnd])
	value := binary.LittleEndian.Uint32(b[keyEnd+1:])
	d.apply(ns, key, value)
	return keyEnd + 1 + 4, true
}

func (d *DotA) apply(ns, key string, value uint32) {
	switch {
	case ns == "Data":
		d.applyData(key, value)
	case ns == "Global":
		switch key {
		case "Winner":
			if value == WinnerSentinel || value == WinnerScourge {
				d.winner = int(value)
				d.logger.Info().Int("winner", d.winner).Msg("winner reported")
			}
		case "m":
			d.min = value
		case "s":
			d.sec = value
		}
	case len(ns) <= 2 && ns != "" && ns[0] >= '0' && ns[0] <= '9':
		id, err := strconv.ParseUint(ns, 10, 8)
		if err != nil {
			return
		}
		c, err := slot.ParseColour(uint32(id))
		if err != nil || !dotaColour(c) {
			return
		}
		d.applyPlayer(c, key, value)
	}
}

func (d *DotA) applyData(key string, value uint32) {
	switch {
	case strings.HasPrefix(key, "Hero"):
		victim, ok := parseColour(key[4:])
		killer, err := slot.ParseColour(value)
		if !ok || err != nil {
			return
		}
		d.touch(victim).Deaths++
		if killer != victim && dotaColour(killer) {
			d.touch(killer).Kills++
		}
	case strings.HasPrefix(key, "Assist"):
		if c, ok := parseColour(key[6:]); ok {
			d.touch(c).Assists++
		}
	case strings.HasPrefix(key, "Courier"):
		if killer, err := slot.ParseColour(value); err == nil && dotaColour(killer) {
			d.touch(killer).CourierKills++
		}
	case strings.HasPrefix(key, "Tower"):
		if killer, err := slot.ParseColour(value); err == nil && dotaColour(killer) {
			d.touch(killer).TowerKills++
		}
	case strings.HasPrefix(key, "Rax"):
		if killer, err := slot.ParseColour(value); err == nil && dotaColour(killer) {
			d.touch(killer).RaxKills++
		}
	case strings.HasPrefix(key, "Mode"):
		d.mode = key[4:]
	}
}

func (d *DotA) applyPlayer(c slot.Colour, key string, value uint32) {
	p := d.touch(c)
	switch key {
	case "1":
		p.Kills = value
	case "2":
		p.Deaths = value
	case "3":
		p.CreepKills = value
	case "4":
		p.CreepDenies = value
	case "5":
		p.Assists = value
	case "6":
		p.Gold = value
	case "7":
		p.NeutralKills = value
	case "9":
		p.Hero = objectID(value)
	case "id":
		// 1-5 sentinel, 6-10 scourge; scourge colours skip 6.
		if value >= 6 {
			value++
		}
		if nc, err := slot.ParseColour(value); err == nil && dotaColour(nc) {
			p.NewColour = nc
		}
	default:
		if strings.HasPrefix(key, "8_") {
			idx, err := strconv.Atoi(key[2:])
			if err == nil && idx >= 0 && idx < len(p.Items) {
				p.Items[idx] = objectID(value)
			}
		}
	}
}

func (d *DotA) touch(c slot.Colour) *PlayerStats {
	p := &d.players[c]
	p.seen = true
	return p
}

// Winner returns the reported winner, WinnerUnknown until the map sends it.
func (d *DotA) Winner() int { return d.winner }

// Summary returns the tallies of every colour the map reported on.
func (d *DotA) Summary() Summary {
	s := Summary{Winner: d.winner, Minutes: d.min, Seconds: d.sec, Mode: d.mode}
	for _, p := range d.players {
		if p.seen {
			s.Players = append(s.Players, p)
		}
	}
	return s
}

// dotaColour reports whether c is a hero colour: 1-5 and 7-11.
func dotaColour(c slot.Colour) bool {
	return c.Valid() && c != 0 && c != 6
}

func parseColour(s string) (slot.Colour, bool) {
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, false
	}
	c, err := slot.ParseColour(uint32(v))
	if err != nil || !dotaColour(c) {
		return 0, false
	}
	return c, true
}

// objectID renders a four character object id such as "H00A".
func objectID(v uint32) string {
	if v == 0 {
		return ""
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return string(b[:])
}
