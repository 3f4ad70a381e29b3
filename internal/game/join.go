package game

import (
	"fmt"
	"net"
	"strings"

	"github.com/warhost-project/warhost/internal/events"
	"github.com/warhost-project/warhost/internal/maps"
	"github.com/warhost-project/warhost/internal/protocol"
	"github.com/warhost-project/warhost/internal/slot"
)

// EventPlayerJoined admits or rejects the potential player that sent req.
// Either way pp is done afterwards.
func (g *Game) EventPlayerJoined(pp *PotentialPlayer, req *protocol.ReqJoin) {
	now := g.ctx.now()
	g.tick = now
	log := pp.logger.With().Str("player", req.Name).Logger()

	if !g.validName(req.Name) {
		log.Info().Msg("join rejected, invalid or duplicate name")
		pp.Reject(protocol.RejectFull)
		return
	}
	if !g.InLobby() {
		log.Info().Msg("join rejected, game already started")
		pp.Reject(protocol.RejectStarted)
		return
	}

	realmID := req.HostCounterID()
	realmName := ""
	if realmID != 0 {
		name, ok := g.dir.RealmForHostCounterID(realmID)
		if !ok {
			log.Info().Uint8("realm_id", realmID).Msg("join rejected, unknown realm")
			pp.Reject(protocol.RejectFull)
			return
		}
		realmName = name
	} else if req.EntryKey != g.entryKey {
		log.Info().Msg("join rejected, wrong entry key")
		pp.Reject(protocol.RejectWrongPassword)
		return
	}

	if g.cfg.BanMethod != 0 {
		if reason, banned := g.dir.BannedName(realmName, req.Name); banned {
			g.rejectBanned(pp, req.Name, realmName, reason)
			return
		}
	}

	admin := g.dir.IsAdmin(realmName, req.Name) || g.dir.IsRootAdmin(realmName, req.Name)
	reserved := g.isReserved(req.Name) || (g.cfg.ReserveAdmins && admin) || g.isOwner(req.Name)

	sid := g.emptySlot(false)
	if sid < 0 && reserved {
		sid = g.emptySlot(true)
		if kicked := g.playerFromSID(sid); kicked != nil {
			g.kickForRoom(kicked, fmt.Sprintf("was kicked to make room for a reserved player [%s]", req.Name))
		}
	}
	if sid < 0 && g.isOwner(req.Name) {
		for i, s := range g.slots {
			if s.IsHuman() {
				sid = i
				break
			}
		}
		if kicked := g.playerFromSID(sid); kicked != nil {
			g.kickForRoom(kicked, "was kicked to make room for the owner player ["+req.Name+"]")
		} else if sid >= 0 {
			g.removeFakeFromSlot(sid)
		}
	}
	if sid < 0 {
		log.Info().Msg("join rejected, game is full")
		pp.Reject(protocol.RejectFull)
		return
	}

	if g.numPlayers() >= slot.MaxSlots-1 {
		g.deleteVirtualHost()
	}

	p := newPlayer(pp.promote(), g.newPID(), realmName, req, reserved, now, g.cfg.ReplayBufferLimit)
	if realmName == "" && g.cfg.SpoofCheckLAN {
		p.spoofed = true
	}
	g.players = append(g.players, p)
	g.seat(sid, p)

	g.send(p, protocol.SlotInfoJoin(p.pid, remotePort(p), p.externalIP, g.slotInfo()))
	if g.virtualHostPID != slot.NoPID {
		g.send(p, protocol.PlayerInfo(g.virtualHostPID, g.virtualHostName, nil, nil))
	}
	for _, f := range g.fakes {
		g.send(p, protocol.PlayerInfo(f.pid, f.name, nil, nil))
	}
	for _, o := range g.players {
		if o == p || o.leftMessageSent {
			continue
		}
		g.send(o, g.playerInfo(p))
		g.send(p, g.playerInfo(o))
	}
	g.send(p, protocol.MapCheck(g.m.Path(), g.m.Size(), g.m.Info(), g.m.CRC(), g.m.SHA1()))
	g.sendAllSlotInfo()

	p.logger.Info().
		Int("sid", sid).
		Str("realm", realmLabel(realmName)).
		Bool("reserved", reserved).
		Str("ip", p.externalIP.String()).
		Msg("player joined")
	if g.cfg.WelcomeMessage != "" {
		for _, line := range strings.Split(g.cfg.WelcomeMessage, "\n") {
			g.sendChat(p, line)
		}
	}
	g.emit(events.EventPlayerJoined, g.playerPayload(p, "", 0))

	if g.cfg.AutoLock && g.isOwner(p.name) {
		g.locked = true
		g.sendAllChat("Game locked. Only the game owner and root admins can run game commands")
	}
}

// rejectBanned turns a banned player away. The client is sent a join answer
// that is never followed up so it stops retrying, then the socket closes.
func (g *Game) rejectBanned(pp *PotentialPlayer, name, realmName, reason string) {
	key := strings.ToLower(name)
	if !g.ignoredNames[key] {
		g.sendAllChat(fmt.Sprintf("%s is trying to join the game but is banned by name", name))
		g.sendAllChat(fmt.Sprintf("User [%s] was banned on server [%s] because [%s]", name, realmLabel(realmName), reason))
		g.ignoredNames[key] = true
	}
	pp.logger.Info().Str("player", name).Str("reason", reason).Msg("banned player tried to join")
	info := slot.EncodeInfo(g.m.Slots(), 0, g.m.LayoutStyle(), byte(g.m.NumPlayers()))
	pp.conn.Send(protocol.SlotInfoJoin(1, 0, pp.conn.RemoteIP(), info))
	pp.conn.CloseAfterFlush()
	pp.done = true
}

// validName rejects empty, overlong and taken names and the characters
// clients use as separators.
func (g *Game) validName(name string) bool {
	if name == "" || len(name) > MaxNameLength || strings.ContainsAny(name, " |") {
		return false
	}
	if strings.EqualFold(name, g.virtualHostName) || g.playerFromName(name) != nil {
		return false
	}
	for _, f := range g.fakes {
		if strings.EqualFold(f.name, name) {
			return false
		}
	}
	return true
}

func remotePort(p *Player) uint16 {
	if tcp, ok := p.conn.RemoteAddr().(*net.TCPAddr); ok {
		return uint16(tcp.Port)
	}
	return 0
}

// kickForRoom removes a player whose slot is being handed to someone else.
// The leave is announced at once because the slot is reused immediately.
func (g *Game) kickForRoom(p *Player, reason string) {
	p.setLeft(reason, protocol.LeaveLobby, g.tick)
	g.send(p, protocol.HostKickPlayer(protocol.LeaveLobby))
	g.sendAll(protocol.PlayerLeaveOthers(p.pid, protocol.LeaveLobby))
	p.leftMessageSent = true
	p.logger.Info().Str("reason", reason).Msg("player kicked")
}

// seat places p in slot sid. Custom forces maps keep the slot's team,
// colour and race; otherwise the player gets a free team and colour while
// the map's player count allows, else the observer team.
func (g *Game) seat(sid int, p *Player) {
	old := g.slots[sid]
	if g.m.CustomForces() {
		g.slots[sid] = slot.Slot{
			PID:            p.pid,
			DownloadStatus: slot.DownloadUnknown,
			Status:         slot.StatusOccupied,
			Team:           old.Team,
			Colour:         old.Colour,
			Race:           old.Race,
			ComputerType:   slot.ComputerNormal,
			Handicap:       old.Handicap,
		}
		return
	}

	race := slot.RaceRandom | slot.RaceSelectable
	if g.m.Flags()&maps.FlagRandomRaces != 0 {
		race = slot.RaceRandom
	}
	g.slots[sid] = slot.Slot{
		PID:            p.pid,
		DownloadStatus: slot.DownloadUnknown,
		Status:         slot.StatusOccupied,
		Team:           slot.ObserverTeam,
		Colour:         slot.ObserverTeam,
		Race:           race,
		ComputerType:   slot.ComputerNormal,
		Handicap:       100,
	}
	if g.nonObservers() < g.m.NumPlayers() {
		if sid < g.m.NumPlayers() {
			g.slots[sid].Team = byte(sid)
		} else {
			g.slots[sid].Team = 0
		}
		g.slots[sid].Colour = g.newColour()
	}
}

func (g *Game) nonObservers() int {
	n := 0
	for _, s := range g.slots {
		if s.IsOccupied() && !s.IsObserver() {
			n++
		}
	}
	return n
}

// emptySlot returns the first open slot. For reserved joiners it falls back
// to a closed slot, then to the slot of the non-reserved player with the
// least map downloaded, then to any non-reserved player. It returns -1 when
// nothing qualifies.
func (g *Game) emptySlot(reserved bool) int {
	for i, s := range g.slots {
		if s.Status == slot.StatusOpen {
			return i
		}
	}
	if !reserved {
		return -1
	}
	for i, s := range g.slots {
		if s.Status == slot.StatusClosed {
			return i
		}
	}
	least, leastSID := byte(101), -1
	for i, s := range g.slots {
		if p := g.playerFromSID(i); p != nil && !p.reserved && s.DownloadStatus < least {
			least, leastSID = s.DownloadStatus, i
		}
	}
	if leastSID >= 0 {
		return leastSID
	}
	for i := range g.slots {
		if p := g.playerFromSID(i); p != nil && !p.reserved {
			return i
		}
	}
	return -1
}

// emptySlotForTeam finds an open slot on team for the player pid, searching
// forward from the player's own slot when it is already on that team.
func (g *Game) emptySlotForTeam(team byte, pid byte) int {
	start := g.sidFromPID(pid)
	if start < 0 {
		return -1
	}
	if g.slots[start].Team != team {
		start = 0
	}
	for i := start; i < len(g.slots); i++ {
		if g.slots[i].Status == slot.StatusOpen && g.slots[i].Team == team {
			return i
		}
	}
	for i := 0; i < start; i++ {
		if g.slots[i].Status == slot.StatusOpen && g.slots[i].Team == team {
			return i
		}
	}
	return -1
}
