package game

import (
	"github.com/warhost-project/warhost/internal/maps"
	"github.com/warhost-project/warhost/internal/protocol"
	"github.com/warhost-project/warhost/internal/slot"
)

// Slot edits are only allowed until loading begins. Every successful edit
// pushes the new table to the lobby.

func (g *Game) slotsEditable() bool {
	return !g.gameLoading && !g.gameLoaded && !g.over
}

func (g *Game) validSID(sid int) bool {
	return sid >= 0 && sid < len(g.slots)
}

// SwapSlots exchanges the occupants of two slots. With fixed player settings
// team, colour, race and handicap stay with the position; with custom forces
// the team does, and the colour too when either slot is an observer slot.
func (g *Game) SwapSlots(a, b int) bool {
	if !g.slotsEditable() || !g.validSID(a) || !g.validSID(b) || a == b {
		return false
	}
	s1, s2 := g.slots[a], g.slots[b]
	n1, n2 := s2, s1
	switch {
	case g.m.FixedPlayerSettings():
		n1.Team, n2.Team = s1.Team, s2.Team
		n1.Colour, n2.Colour = s1.Colour, s2.Colour
		n1.Race, n2.Race = s1.Race, s2.Race
		n1.Handicap, n2.Handicap = s1.Handicap, s2.Handicap
	case g.m.CustomForces():
		n1.Team, n2.Team = s1.Team, s2.Team
		if s1.IsObserver() || s2.IsObserver() {
			n1.Colour, n2.Colour = s1.Colour, s2.Colour
		}
	}
	g.slots[a], g.slots[b] = n1, n2
	g.sendAllSlotInfo()
	return true
}

// ColourSlot gives slot sid the colour c. A colour held by an unoccupied
// slot is swapped over; a colour held by an occupant is refused.
func (g *Game) ColourSlot(sid int, c slot.Colour) bool {
	if !g.slotsEditable() || !g.validSID(sid) || !c.Valid() || g.slots[sid].IsObserver() {
		return false
	}
	colour := byte(c)
	taken := -1
	for i, s := range g.slots {
		if s.Colour == colour {
			taken = i
			break
		}
	}
	switch {
	case taken == sid:
		return false
	case taken < 0:
		g.slots[sid].Colour = colour
	case !g.slots[taken].IsOccupied():
		g.slots[taken].Colour = g.slots[sid].Colour
		g.slots[sid].Colour = colour
	default:
		return false
	}
	g.sendAllSlotInfo()
	return true
}

// ShuffleSlots randomly reorders the human non-observer occupants. Under
// custom forces team, colour and race stay with the position.
func (g *Game) ShuffleSlots() bool {
	if !g.slotsEditable() {
		return false
	}
	var idx []int
	for i, s := range g.slots {
		if s.IsHuman() && !s.IsObserver() {
			idx = append(idx, i)
		}
	}
	orig := append([]slot.Slot(nil), g.slots...)
	perm := g.rng.Perm(len(idx))
	for k, i := range idx {
		src := orig[idx[perm[k]]]
		if g.m.CustomForces() {
			dst := orig[i]
			src.Team, src.Colour, src.Race = dst.Team, dst.Colour, dst.Race
		}
		g.slots[i] = src
	}
	g.sendAllSlotInfo()
	return true
}

// OpenSlot empties slot sid, keeping its team, colour and race. With kick
// set the occupant is removed from the game.
func (g *Game) OpenSlot(sid int, kick bool) bool {
	return g.resetSlot(sid, slot.StatusOpen, kick)
}

// CloseSlot closes slot sid. Closing a closed slot does nothing.
func (g *Game) CloseSlot(sid int, kick bool) bool {
	if g.validSID(sid) && g.slots[sid].Status == slot.StatusClosed {
		return false
	}
	return g.resetSlot(sid, slot.StatusClosed, kick)
}

func (g *Game) resetSlot(sid int, status byte, kick bool) bool {
	if !g.slotsEditable() || !g.validSID(sid) {
		return false
	}
	g.evict(sid, kick, "was kicked when opening a slot")
	s := g.slots[sid]
	g.slots[sid] = slot.New(status, s.Team, s.Colour, s.Race)
	g.sendAllSlotInfo()
	return true
}

// ComputerSlot seats a computer of the given skill in sid. Observer slots
// cannot hold computers.
func (g *Game) ComputerSlot(sid int, skill byte, kick bool) bool {
	if !g.slotsEditable() || !g.validSID(sid) || skill > slot.ComputerInsane || g.slots[sid].IsObserver() {
		return false
	}
	g.evict(sid, kick, "was kicked when creating a computer in a slot")
	s := g.slots[sid]
	g.slots[sid] = slot.Slot{
		PID:            0,
		DownloadStatus: 100,
		Status:         slot.StatusOccupied,
		Computer:       true,
		Team:           s.Team,
		Colour:         s.Colour,
		Race:           s.Race,
		ComputerType:   skill,
		Handicap:       s.Handicap,
	}
	g.sendAllSlotInfo()
	return true
}

func (g *Game) evict(sid int, kick bool, reason string) {
	g.removeFakeFromSlot(sid)
	if !kick {
		return
	}
	if p := g.playerFromSID(sid); p != nil {
		p.setLeft(reason, protocol.LeaveLobby, g.tick)
		g.send(p, protocol.HostKickPlayer(protocol.LeaveLobby))
		p.logger.Info().Str("reason", reason).Msg("player kicked")
	}
}

// openSlotOf opens the lobby slot of a player who is leaving.
func (g *Game) openSlotOf(p *Player) {
	if g.gameLoading || g.gameLoaded {
		return
	}
	if sid := g.sidFromPID(p.pid); sid >= 0 {
		g.OpenSlot(sid, false)
	}
}

// ---- change requests sent by lobby clients ----

func (g *Game) eventPlayerChangeTeam(p *Player, team byte) {
	if g.m.FixedPlayerSettings() {
		return
	}
	sid := g.sidFromPID(p.pid)
	if sid < 0 {
		return
	}
	if g.m.CustomForces() {
		if target := g.emptySlotForTeam(team, p.pid); target >= 0 {
			g.SwapSlots(sid, target)
		}
		return
	}

	if team > slot.ObserverTeam {
		return
	}
	if team == slot.ObserverTeam {
		if g.m.Observers() != maps.ObsAllowed && g.m.Observers() != maps.ObsReferees {
			return
		}
	} else {
		if int(team) >= g.m.NumPlayers() {
			return
		}
		others := 0
		for i, s := range g.slots {
			if i != sid && s.IsOccupied() && !s.IsObserver() {
				others++
			}
		}
		if others >= g.m.NumPlayers() {
			return
		}
	}

	s := &g.slots[sid]
	s.Team = team
	switch {
	case team == slot.ObserverTeam:
		s.Colour = slot.ObserverTeam
	case s.Colour == slot.ObserverTeam:
		s.Colour = g.newColour()
	}
	g.sendAllSlotInfo()
}

func (g *Game) eventPlayerChangeColour(p *Player, value byte) {
	c, err := slot.ParseColour(uint32(value))
	if err != nil || g.m.FixedPlayerSettings() {
		return
	}
	sid := g.sidFromPID(p.pid)
	if sid < 0 || g.slots[sid].IsObserver() {
		return
	}
	g.ColourSlot(sid, c)
}

func (g *Game) eventPlayerChangeRace(p *Player, race byte) {
	if g.m.FixedPlayerSettings() || g.m.Flags()&maps.FlagRandomRaces != 0 || !slot.ValidRace(race) {
		return
	}
	if sid := g.sidFromPID(p.pid); sid >= 0 {
		g.slots[sid].Race = race | slot.RaceSelectable
		g.sendAllSlotInfo()
	}
}

func (g *Game) eventPlayerChangeHandicap(p *Player, handicap byte) {
	if g.m.FixedPlayerSettings() || !slot.ValidHandicap(handicap) {
		return
	}
	if sid := g.sidFromPID(p.pid); sid >= 0 {
		g.slots[sid].Handicap = handicap
		g.sendAllSlotInfo()
	}
}
