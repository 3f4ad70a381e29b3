package game

import (
	"errors"
	"time"

	"github.com/warhost-project/warhost/internal/events"
	"github.com/warhost-project/warhost/internal/network"
	"github.com/warhost-project/warhost/internal/protocol"
)

var (
	// ErrReconnectNotFound means no player of this game matches the
	// reconnect request.
	ErrReconnectNotFound = errors.New("gproxy: no matching player")
	// ErrReplayIncomplete means packets the client never acknowledged have
	// already been dropped from the replay buffer.
	ErrReplayIncomplete = errors.New("gproxy: replay buffer no longer holds the requested packets")
)

func (g *Game) handleGPS(p *Player, pkt protocol.Packet, now time.Time) {
	msg, err := protocol.ParseGPS(pkt)
	if err != nil {
		p.logger.Debug().Err(err).Msg("dropping GProxy packet")
		return
	}
	switch m := msg.(type) {
	case *protocol.GPSInitRequest:
		if !g.host.Reconnect || p.gproxy {
			return
		}
		p.gproxy = true
		p.lastAck = now
		p.sendGPS(protocol.GPSInit(uint16(g.host.ReconnectPort), p.pid, p.reconnectKey, byte(g.cfg.GProxyEmptyActions)))
		p.logger.Info().Uint32("version", m.Version).Msg("player is using GProxy++")
	case *protocol.GPSAckMsg:
		p.replay.Ack(m.LastPacket)
	case *protocol.GPSReconnectRequest:
		p.logger.Debug().Msg("reconnect request on the game port")
	}
}

// EventGProxyReconnect hands conn to the player req names if the key
// matches and every packet the client missed can be replayed. The replay is
// written to conn ahead of any new traffic.
func (g *Game) EventGProxyReconnect(conn *network.Connection, req *protocol.GPSReconnectRequest) error {
	now := g.ctx.now()
	g.tick = now
	if !g.gameLoaded {
		return ErrReconnectNotFound
	}
	var p *Player
	for _, o := range g.players {
		if o.pid == req.PID && o.gproxy && !o.deleteMe && o.reconnectKey == req.ReconnectKey {
			p = o
			break
		}
	}
	if p == nil {
		return ErrReconnectNotFound
	}

	packets, complete := p.replay.Replay(req.LastPacket)
	if !complete {
		p.logger.Warn().Uint32("last_packet", req.LastPacket).Msg("reconnect refused, replay incomplete")
		return ErrReplayIncomplete
	}

	if p.conn != nil && p.conn != conn {
		p.conn.Close()
	}
	p.conn = conn
	p.externalIP = conn.RemoteIP()
	p.disconnected = false
	p.noticeSent = false
	p.lastReceived = now
	p.lastAck = now

	conn.Send(protocol.GPSReconnect(p.received))
	for _, pkt := range packets {
		conn.Send(pkt)
	}

	p.logger.Info().Int("replayed", len(packets)).Msg("player reconnected")
	g.sendAllChat(p.name + " has reconnected successfully!")
	g.emit(events.EventPlayerReconnected, g.playerPayload(p, "", 0))
	return nil
}
