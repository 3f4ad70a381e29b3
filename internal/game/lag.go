package game

import (
	"fmt"
	"time"

	"github.com/warhost-project/warhost/internal/events"
	"github.com/warhost-project/warhost/internal/protocol"
)

// deficit is how many sync frames p is behind the host.
func (g *Game) deficit(p *Player) int64 {
	return int64(g.syncCounter) - int64(p.syncCounter)
}

func (g *Game) usingGProxy() bool {
	for _, p := range g.players {
		if p.gproxy && !p.deleteMe {
			return true
		}
	}
	return false
}

// lagWait is how long the lag screen stays up before laggers are dropped.
func (g *Game) lagWait() time.Duration {
	if g.usingGProxy() {
		return time.Duration(g.cfg.GProxyEmptyActions+1) * lagGrace
	}
	return lagGrace
}

func (g *Game) laggers(now time.Time) []protocol.Lagger {
	var out []protocol.Lagger
	for _, p := range g.players {
		if p.lagging && !p.deleteMe {
			out = append(out, protocol.Lagger{PID: p.pid, LagTime: uint32(now.Sub(p.startedLag) / time.Millisecond)})
		}
	}
	return out
}

func (g *Game) lagPayload(now time.Time, dropped bool) events.LagPayload {
	p := events.LagPayload{GameName: g.name, Dropped: dropped, Duration: now.Sub(g.startedLagging)}
	for _, pl := range g.players {
		if pl.lagging {
			p.Players = append(p.Players, pl.name)
		}
	}
	return p
}

// updateLag raises the lag screen for players more than SyncLimit frames
// behind, keeps it alive, and lowers it per player once they are back
// within half the limit.
func (g *Game) updateLag(now time.Time) {
	limit := int64(g.syncLimit)
	if !g.lagging {
		for _, p := range g.players {
			if !p.deleteMe && g.deficit(p) > limit {
				p.lagging = true
				p.startedLag = now
				g.lagging = true
			}
		}
		if !g.lagging {
			return
		}
		g.startedLagging = now
		g.lastLagScreenReset = now
		for _, p := range g.players {
			p.dropVote = false
		}
		g.sendAll(protocol.StartLag(g.laggers(now)))
		payload := g.lagPayload(now, false)
		g.logger.Info().Strs("players", payload.Players).Msg("started lagging")
		g.emit(events.EventLagStart, payload)
	}

	wait := g.lagWait()
	if now.Sub(g.startedLagging) >= wait {
		g.emit(events.EventLagStop, g.lagPayload(now, true))
		g.stopLaggers(fmt.Sprintf("was automatically dropped after %d seconds", int(wait/time.Second)))
	}

	if now.Sub(g.lastLagScreenReset) >= lagScreenReset {
		laggers := g.laggers(now)
		gproxy := g.usingGProxy()
		empty := protocol.IncomingActionPacket(0, nil)
		for _, p := range g.players {
			if p.deleteMe {
				continue
			}
			for _, l := range laggers {
				g.send(p, protocol.StopLag(l.PID, l.LagTime))
			}
			if gproxy && !p.gproxy {
				for i := 0; i < g.cfg.GProxyEmptyActions; i++ {
					g.send(p, empty)
				}
			}
			g.send(p, empty)
			g.send(p, protocol.StartLag(laggers))
		}
		g.lastLagScreenReset = now
		g.logger.Debug().Msg("reset lag screen")
	}

	stillLagging := false
	for _, p := range g.players {
		if !p.lagging || p.deleteMe {
			continue
		}
		if g.deficit(p) < limit/2 {
			g.sendAll(protocol.StopLag(p.pid, uint32(now.Sub(p.startedLag)/time.Millisecond)))
			p.lagging = false
			p.logger.Info().Msg("stopped lagging")
			continue
		}
		stillLagging = true
	}
	if !stillLagging && g.lagging {
		g.logger.Info().Dur("duration", now.Sub(g.startedLagging)).Msg("lag screen closed")
		g.emit(events.EventLagStop, g.lagPayload(now, false))
	}
	g.lagging = stillLagging
	g.lastActionSent = now
}

// stopLaggers removes every lagging player.
func (g *Game) stopLaggers(reason string) {
	for _, p := range g.players {
		if p.lagging {
			p.setLeft(reason, protocol.LeaveDisconnect, g.tick)
		}
	}
}

// sendAllActions relays the queued actions as one sync frame and tracks how
// late the frame went out so the next one can catch up.
func (g *Game) sendAllActions(now time.Time) {
	g.syncCounter++
	interval := uint16(g.latency / time.Millisecond)
	for _, pkt := range protocol.ActionBatchPackets(g.actions, interval) {
		g.sendAll(pkt)
	}
	g.actions = nil

	expected := g.latency - g.lastActionLateBy
	lateBy := now.Sub(g.lastActionSent) - expected
	if lateBy > g.latency {
		g.logger.Warn().
			Dur("latency", g.latency).
			Dur("late_by", lateBy).
			Msg("action frame starved, the host is overloaded")
		lateBy = g.latency
	}
	if lateBy < 0 {
		lateBy = 0
	}
	g.lastActionLateBy = lateBy
	g.lastActionSent = now
}
