package game

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/warhost-project/warhost/internal/events"
	"github.com/warhost-project/warhost/internal/network"
	"github.com/warhost-project/warhost/internal/protocol"
)

// updatePlayer drains the player's socket and checks it for errors and
// timeouts.
func (g *Game) updatePlayer(p *Player, now time.Time) {
	if p.disconnected {
		g.playerDisconnected(p, "", now)
		return
	}

	for _, pkt := range p.conn.Packets() {
		if p.deleteMe {
			break
		}
		p.lastReceived = now
		switch pkt.Header {
		case protocol.W3GSHeader:
			p.received++
			g.handlePacket(p, pkt, now)
		case protocol.GPSHeader:
			g.handleGPS(p, pkt, now)
		}
	}
	if p.deleteMe {
		return
	}

	switch err := p.conn.Err(); {
	case p.conn.Stalled():
		g.playerError(p, "has lost the connection (protocol error - bad header constant)")
		return
	case errors.Is(err, network.ErrOverflow):
		g.playerError(p, "has lost the connection (protocol error - receive buffer overflow)")
		return
	case err != nil:
		g.playerDisconnected(p, fmt.Sprintf("has lost the connection (connection error - %v)", err), now)
		return
	case p.conn.Closed():
		g.playerDisconnected(p, "has lost the connection (connection closed by remote host)", now)
		return
	case now.Sub(p.lastReceived) >= playerTimeout:
		g.playerDisconnected(p, "has lost the connection (timed out)", now)
		return
	}

	if p.gproxy && now.Sub(p.lastAck) >= gproxyAckInterval {
		p.sendGPS(protocol.GPSAck(p.received))
		p.lastAck = now
	}
}

// playerError removes a player whose stream cannot be parsed any more.
func (g *Game) playerError(p *Player, reason string) {
	p.logger.Warn().Str("reason", reason).Msg("player stream error")
	p.conn.Close()
	p.setLeft(reason, protocol.LeaveDisconnect, g.tick)
	g.openSlotOf(p)
}

// playerDisconnected handles a lost socket. GProxy players in a running game
// are kept and wait for a reconnect; everyone else is removed.
func (g *Game) playerDisconnected(p *Player, reason string, now time.Time) {
	if p.gproxy && g.gameLoaded {
		if !p.disconnected {
			p.disconnected = true
			p.conn.Close()
			p.logger.Info().Str("reason", reason).Msg("player disconnected, waiting for reconnect")
		}
		if !p.noticeSent {
			g.sendAllChat(p.name + " has lost the connection but is using GProxy++ and may reconnect")
			p.noticeSent = true
			p.lastWait = now
		}
		if now.Sub(p.lastWait) >= gproxyWaitNotice {
			total := g.lagWait()
			remaining := total
			if g.lagging {
				remaining = total - now.Sub(g.startedLagging)
				if remaining < 0 || remaining > total {
					remaining = total
				}
			}
			g.sendAllChatFrom(p.pid, fmt.Sprintf("Please wait for me to reconnect (%d seconds remain)", int(remaining/time.Second)))
			p.lastWait = now
		}
		return
	}
	p.setLeft(reason, protocol.LeaveDisconnect, now)
	g.openSlotOf(p)
}

func (g *Game) handlePacket(p *Player, pkt protocol.Packet, now time.Time) {
	msg, err := protocol.Parse(pkt, p.pid)
	if err != nil {
		p.logger.Debug().Err(err).Msg("dropping packet")
		return
	}
	switch m := msg.(type) {
	case *protocol.LeaveGameRequest:
		g.eventPlayerLeft(p, m.Reason)
	case *protocol.GameLoaded:
		g.eventPlayerLoaded(p, now)
	case *protocol.IncomingAction:
		g.eventPlayerAction(p, m, now)
	case *protocol.KeepAliveReport:
		g.eventPlayerKeepAlive(p, m.Checksum)
	case *protocol.ChatToHost:
		g.eventPlayerChatToHost(p, m)
	case *protocol.DropRequest:
		g.eventPlayerDropRequest(p)
	case *protocol.MapSize:
		g.eventPlayerMapSize(p, m, now)
	case *protocol.Pong:
		g.eventPlayerPong(p, m.Ticks, now)
	case *protocol.MapPartAck:
	case *protocol.ReqJoin:
		p.logger.Debug().Msg("ignoring repeated join request")
	}
}

func (g *Game) eventPlayerLeft(p *Player, reason uint32) {
	msg := "has left the game voluntarily"
	if reason == protocol.LeaveGProxy {
		msg = "was unrecoverably dropped from GProxy++"
	}
	p.logger.Info().Uint32("reason", reason).Msg("player left")
	p.setLeft(msg, protocol.LeaveLost, g.tick)
	g.openSlotOf(p)
}

// eventPlayerDeleted announces a removed player to the others.
func (g *Game) eventPlayerDeleted(p *Player, now time.Time) {
	p.logger.Info().Str("reason", p.leftReason).Msg("deleting player")
	if g.gameLoading || g.gameLoaded {
		g.recordPlayer(p, now)
		g.lastLeaver = &banCandidate{name: p.name, realm: p.joinedRealm, ip: p.externalIP.String()}
	}
	if !p.leftMessageSent {
		if g.gameLoaded {
			g.sendAllChat(p.name + " " + p.leftReason + ".")
		}
		if p.lagging {
			g.sendAll(protocol.StopLag(p.pid, uint32(now.Sub(p.startedLag)/time.Millisecond)))
		}
		g.sendAll(protocol.PlayerLeaveOthers(p.pid, p.leftCode))
		p.leftMessageSent = true
	}

	if g.countDownStarted && !g.gameLoading && !g.gameLoaded {
		g.sendAllChat("Countdown aborted!")
		g.countDownStarted = false
	}
	if g.kickVotePlayer != "" && strings.EqualFold(g.kickVotePlayer, p.name) {
		g.sendAllChat(fmt.Sprintf("A votekick against player [%s] has been cancelled", g.kickVotePlayer))
		g.kickVotePlayer = ""
	}

	p.close()
	g.emit(events.EventPlayerLeft, g.playerPayload(p, p.leftReason, p.leftCode))
}

func (g *Game) eventPlayerLoaded(p *Player, now time.Time) {
	if !g.gameLoading || p.finishedLoading {
		return
	}
	p.finishedLoading = true
	p.finishedLoadingAt = now
	p.logger.Info().Dur("load_time", now.Sub(g.startedLoading)).Msg("player finished loading")
	g.sendAll(protocol.GameLoadedOthers(p.pid))
}

func (g *Game) eventPlayerAction(p *Player, m *protocol.IncomingAction, now time.Time) {
	if !g.gameLoaded {
		return
	}
	g.actions = append(g.actions, protocol.Action{PID: p.pid, Data: m.Action})
	if g.stats != nil && g.stats.ProcessAction(m.Action) && g.gameOverTime.IsZero() {
		g.logger.Info().Int("winner", g.stats.Winner()).Msg("gameover timer started, stats reported a winner")
		g.gameOverTime = now
	}
}

// eventPlayerKeepAlive records a checksum and compares the front checksum of
// every player once all of them have one.
func (g *Game) eventPlayerKeepAlive(p *Player, checksum uint32) {
	if !g.gameLoaded {
		return
	}
	p.checksums = append(p.checksums, checksum)
	p.syncCounter++

	for _, o := range g.players {
		if !o.deleteMe && len(o.checksums) == 0 {
			return
		}
	}

	var first uint32
	firstSet, mismatch := false, false
	fronts := make(map[string]uint32)
	for _, o := range g.players {
		if o.deleteMe {
			continue
		}
		c := o.checksums[0]
		fronts[o.name] = c
		if !firstSet {
			first, firstSet = c, true
		} else if c != first {
			mismatch = true
		}
	}
	if mismatch {
		if !g.desynced {
			g.logger.Warn().Interface("checksums", fronts).Msg("desync detected")
		}
		g.desynced = true
		for i := 0; i < 3; i++ {
			g.sendAllChat("Warning! Desync detected!")
		}
		g.emit(events.EventDesync, events.DesyncPayload{GameName: g.name, Checksums: fronts})
	}
	for _, o := range g.players {
		if !o.deleteMe && len(o.checksums) > 0 {
			o.checksums = o.checksums[1:]
		}
	}
}

func (g *Game) eventPlayerDropRequest(p *Player) {
	if !g.lagging || p.dropVote {
		return
	}
	p.dropVote = true
	p.logger.Info().Msg("player voted to drop laggers")
	g.sendAllChat(fmt.Sprintf("Player [%s] voted to drop laggers", p.name))

	votes, total := 0, 0
	for _, o := range g.players {
		if o.deleteMe {
			continue
		}
		total++
		if o.dropVote {
			votes++
		}
	}
	if total > 0 && votes*100 > total*49 {
		g.stopLaggers("lagged out (dropped by vote)")
	}
}

func (g *Game) eventPlayerPong(p *Player, ticks uint32, now time.Time) {
	downloading := !g.cfg.PingDuringDownloads && g.isDownloading()
	p.recordPong(ticks, now, downloading)

	if !g.InLobby() || p.reserved || g.cfg.AutoKickPing <= 0 || p.NumPings() < 3 {
		return
	}
	ping := p.Ping(g.cfg.LCPings)
	if ping > uint32(g.cfg.AutoKickPing) {
		g.sendAllChat(fmt.Sprintf("Autokicking player [%s] for excessive ping of %d", p.name, ping))
		p.setLeft(fmt.Sprintf("was autokicked for excessive ping of %d", ping), protocol.LeaveLobby, now)
		g.send(p, protocol.HostKickPlayer(protocol.LeaveLobby))
		g.openSlotOf(p)
	}
}

// ---- chat ----

func (g *Game) eventPlayerChatToHost(p *Player, m *protocol.ChatToHost) {
	if m.FromPID != p.pid {
		return
	}
	if !m.IsMessage() {
		if g.countDownStarted || g.gameLoading || g.gameLoaded {
			return
		}
		switch m.Flag {
		case protocol.ChatTeamChange:
			g.eventPlayerChangeTeam(p, m.Value)
		case protocol.ChatColourChange:
			g.eventPlayerChangeColour(p, m.Value)
		case protocol.ChatRaceChange:
			g.eventPlayerChangeRace(p, m.Value)
		case protocol.ChatHandicapChange:
			g.eventPlayerChangeHandicap(p, m.Value)
		}
		return
	}

	inGame := m.Flag == protocol.ChatMessageExtra
	audience := "all"
	relay := !p.muted
	if inGame && len(m.ExtraFlags) > 0 {
		switch m.ExtraFlags[0] {
		case 0:
			if g.muteAll {
				relay = false
			}
		case 2:
			audience = "observers"
		default:
			audience = "allies"
		}
	} else if g.muteLobby {
		relay = false
	}

	if relay {
		pkt := protocol.ChatFromHost(m.FromPID, m.ToPIDs, m.Flag, m.ExtraFlags, m.Message)
		for _, pid := range m.ToPIDs {
			if to := g.playerFromPID(pid); to != nil && !to.deleteMe {
				g.send(to, pkt)
			}
		}
	}

	isCommand := strings.HasPrefix(m.Message, g.trigger) && len(m.Message) > len(g.trigger)
	p.logger.Info().Str("audience", audience).Bool("relayed", relay).Str("message", m.Message).Msg("chat")
	g.emit(events.EventChat, events.ChatPayload{
		GameName:  g.name,
		Realm:     p.joinedRealm,
		From:      p.name,
		Message:   m.Message,
		InGame:    inGame,
		Audience:  audience,
		IsCommand: isCommand,
	})

	if isCommand {
		g.eventPlayerBotCommand(p, m.Message[len(g.trigger):])
	}
}

// ---- countdown, loading ----

// startCountDown begins the countdown. Unless force is set it refuses while
// players are downloading, unconfirmed or have too few ping samples.
func (g *Game) startCountDown(force bool) bool {
	if !g.InLobby() {
		return false
	}
	if !force {
		if g.hcl != "" && errors.Is(CheckHCL(g.hcl, g.slotsOccupied()), ErrHCLTooLong) {
			g.sendAllChat("The HCL command string is too long. Use 'force' to start anyway")
			return false
		}
		var downloading, unspoofed, unpinged []string
		for _, p := range g.players {
			if p.deleteMe {
				continue
			}
			if sid := g.sidFromPID(p.pid); sid >= 0 && g.slots[sid].DownloadStatus != 100 {
				downloading = append(downloading, p.name)
			}
			if !p.spoofed {
				unspoofed = append(unspoofed, p.name)
			}
			if !p.reserved && p.NumPings() < 3 {
				unpinged = append(unpinged, p.name)
			}
		}
		if len(downloading) > 0 {
			g.sendAllChat("Players still downloading the map: " + strings.Join(downloading, ", "))
		}
		if len(unspoofed) > 0 {
			g.sendAllChat("Players that are not spoof checked: " + strings.Join(unspoofed, ", "))
		}
		if len(unpinged) > 0 {
			g.sendAllChat("Players that have not been pinged 3 times: " + strings.Join(unpinged, ", "))
		}
		if len(downloading)+len(unspoofed)+len(unpinged) > 0 {
			return false
		}
	}
	g.countDownStarted = true
	g.countDownCounter = countdownTicks
	g.lastCountDown = time.Time{}
	g.logger.Info().Bool("force", force).Msg("countdown started")
	return true
}

func (g *Game) eventGameStarted(now time.Time) {
	g.logger.Info().Int("players", g.numHumanPlayers()).Msg("started loading")

	g.applyHCL()
	if g.slotInfoChanged {
		g.sendAllSlotInfo()
	}
	g.deleteVirtualHost()
	g.sendAll(protocol.CountdownStart())
	g.sendAll(protocol.CountdownEnd())

	g.gameLoading = true
	g.startedLoading = now
	g.lastLagScreenReset = now
	for _, f := range g.fakes {
		g.sendAll(protocol.GameLoadedOthers(f.pid))
	}

	g.startPlayers = 0
	g.banCandidates = nil
	for _, p := range g.players {
		if p.deleteMe {
			continue
		}
		if sid := g.sidFromPID(p.pid); sid >= 0 && !g.slots[sid].IsObserver() {
			g.startPlayers++
		}
		g.banCandidates = append(g.banCandidates, banCandidate{name: p.name, realm: p.joinedRealm, ip: p.externalIP.String()})
	}

	g.unadvertise()
	if g.cfg.MuteAllOnStart {
		g.muteAll = true
	}
	g.emit(events.EventGameStarted, g.gamePayload())
}

func (g *Game) eventGameLoaded(now time.Time) {
	g.gameLoading = false
	g.gameLoaded = true
	g.loadedAt = now
	g.lastActionSent = now
	g.logger.Info().Int("players", g.numHumanPlayers()).Dur("load_time", now.Sub(g.startedLoading)).Msg("finished loading")

	loaders := g.Players()
	sort.Slice(loaders, func(i, j int) bool { return loaders[i].finishedLoadingAt.Before(loaders[j].finishedLoadingAt) })
	if len(loaders) > 0 {
		secs := func(p *Player) float64 { return p.finishedLoadingAt.Sub(g.startedLoading).Seconds() }
		first, last := loaders[0], loaders[len(loaders)-1]
		g.sendAllChat(fmt.Sprintf("Shortest load by player [%s] was %.2f seconds", first.name, secs(first)))
		g.sendAllChat(fmt.Sprintf("Longest load by player [%s] was %.2f seconds", last.name, secs(last)))
		for _, p := range loaders {
			g.sendChat(p, fmt.Sprintf("Your load time was %.2f seconds", secs(p)))
		}
	}
	g.emit(events.EventGameLoaded, g.gamePayload())
}

// stopPlayers removes every player with reason.
func (g *Game) stopPlayers(reason string) {
	for _, p := range g.players {
		p.setLeft(reason, protocol.LeaveLost, g.tick)
	}
}
