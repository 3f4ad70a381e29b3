package game

import (
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/warhost-project/warhost/internal/network"
	"github.com/warhost-project/warhost/internal/protocol"
	"github.com/warhost-project/warhost/internal/util"
)

const (
	// MaxNameLength is the longest player name clients can send.
	MaxNameLength = 15

	maxPings          = 10
	pingGracePeriod   = 5 * time.Second
	playerTimeout     = 30 * time.Second
	potentialTimeout  = 10 * time.Second
	gproxyAckInterval = 10 * time.Second
	gproxyWaitNotice  = 20 * time.Second
)

// PotentialPlayer is a connection that has not been admitted to a game. It
// waits for the client's join request; the game then either promotes it to
// a Player, keeping the socket, or rejects it.
type PotentialPlayer struct {
	conn     *network.Connection
	accepted time.Time
	done     bool
	logger   zerolog.Logger
}

// NewPotentialPlayer wraps a freshly accepted connection.
func NewPotentialPlayer(conn *network.Connection, now time.Time) *PotentialPlayer {
	return &PotentialPlayer{
		conn:     conn,
		accepted: now,
		logger:   conn.Logger().With().Str("stage", "join").Logger(),
	}
}

// Conn returns the underlying connection.
func (pp *PotentialPlayer) Conn() *network.Connection { return pp.conn }

// Poll returns the join request once it has arrived. Anything the client
// sends before it is dropped; anything after it stays buffered for the
// player the request turns into.
func (pp *PotentialPlayer) Poll() *protocol.ReqJoin {
	if pp.done {
		return nil
	}
	for {
		pkt, ok := pp.conn.Next()
		if !ok {
			return nil
		}
		if pkt.Header != protocol.W3GSHeader || pkt.ID != protocol.PktReqJoin {
			pp.logger.Debug().Uint8("header", pkt.Header).Uint8("id", pkt.ID).Msg("dropping packet before join request")
			continue
		}
		if req := protocol.DecodeReqJoin(pkt.Data); req != nil {
			return req
		}
		pp.logger.Debug().Msg("malformed join request")
	}
}

// Reject refuses the join and closes the connection once the reject is
// written.
func (pp *PotentialPlayer) Reject(reason uint32) {
	if pp.done {
		return
	}
	pp.conn.Send(protocol.RejectJoin(reason))
	pp.conn.CloseAfterFlush()
	pp.done = true
}

// Done reports whether the join was resolved.
func (pp *PotentialPlayer) Done() bool { return pp.done }

// Expired reports whether the connection should be dropped without an
// answer: it broke, sent garbage or never asked to join.
func (pp *PotentialPlayer) Expired(now time.Time) bool {
	return pp.conn.Closed() || pp.conn.Err() != nil || pp.conn.Stalled() ||
		now.Sub(pp.accepted) >= potentialTimeout
}

// Close drops a connection that never joined.
func (pp *PotentialPlayer) Close() {
	if pp.done {
		return
	}
	pp.conn.Close()
	pp.done = true
}

func (pp *PotentialPlayer) promote() *network.Connection {
	pp.done = true
	return pp.conn
}

// Player is an admitted client. The game that admitted it owns it.
type Player struct {
	conn   *network.Connection
	logger zerolog.Logger

	pid         byte
	name        string
	internalIP  net.IP
	externalIP  net.IP
	joinedRealm string
	joinedAt    time.Time

	spoofed      bool
	spoofedRealm string
	reserved     bool
	muted        bool

	lastReceived time.Time

	downloadAllowed     bool
	downloadStarted     bool
	downloadFinished    bool
	startedDownloading  time.Time
	finishedDownloading time.Time
	lastMapPartSent     uint32
	lastMapPartAcked    uint32

	finishedLoading   bool
	finishedLoadingAt time.Time

	pongSeen bool
	pings    []uint32

	checksums    []uint32
	syncCounter  uint32
	lagging      bool
	startedLag   time.Time
	dropVote     bool
	kickVote     bool
	statsSentAt  time.Time
	gproxy       bool
	reconnectKey uint32
	replay       *network.ReplayBuffer
	received     uint32
	lastAck      time.Time
	disconnected bool
	noticeSent   bool
	lastWait     time.Time

	deleteMe        bool
	leftReason      string
	leftCode        uint32
	leftMessageSent bool
	leftAt          time.Time
}

func newPlayer(conn *network.Connection, pid byte, realm string, req *protocol.ReqJoin, reserved bool, now time.Time, replayLimit int) *Player {
	return &Player{
		conn:         conn,
		logger:       conn.Logger().With().Str("player", req.Name).Uint8("pid", pid).Logger(),
		pid:          pid,
		name:         req.Name,
		internalIP:   req.InternalIP,
		externalIP:   conn.RemoteIP(),
		joinedRealm:  realm,
		joinedAt:     now,
		reserved:     reserved,
		lastReceived: now,
		reconnectKey: util.RandomUint32(),
		replay:       network.NewReplayBuffer(replayLimit),
	}
}

// PID returns the player id.
func (p *Player) PID() byte { return p.pid }

// Name returns the player name.
func (p *Player) Name() string { return p.name }

// JoinedRealm returns the realm the player joined through, empty for LAN.
func (p *Player) JoinedRealm() string { return p.joinedRealm }

// Spoofed reports whether the player's identity was confirmed.
func (p *Player) Spoofed() bool { return p.spoofed }

// Reserved reports whether the player holds a reserved slot.
func (p *Player) Reserved() bool { return p.reserved }

// GProxy reports whether the player negotiated GProxy reconnects.
func (p *Player) GProxy() bool { return p.gproxy }

// ExternalIP returns the address the player connected from.
func (p *Player) ExternalIP() net.IP { return p.externalIP }

// Left reports whether the player is being removed, and why.
func (p *Player) Left() (bool, string) { return p.deleteMe, p.leftReason }

// is reports whether the player is called name.
func (p *Player) is(name string) bool { return strings.EqualFold(p.name, name) }

// send queues data for the player. The packet is counted for GProxy and
// kept for replay when keep is set and the player uses GProxy.
func (p *Player) send(data []byte, keep bool) {
	p.replay.Sent(data, keep && p.gproxy)
	if p.disconnected {
		return
	}
	p.conn.Send(data)
}

// sendGPS sends a GProxy control packet. These are not counted.
func (p *Player) sendGPS(data []byte) {
	if p.disconnected {
		return
	}
	p.conn.Send(data)
}

func (p *Player) setLeft(reason string, code uint32, now time.Time) {
	if p.deleteMe {
		return
	}
	p.deleteMe = true
	p.leftReason = reason
	p.leftCode = code
	p.leftAt = now
}

// recordPong adds a round trip sample. downloading reports whether any map
// transfer is running in the game.
func (p *Player) recordPong(ticks uint32, now time.Time, downloading bool) {
	if ticks == 1 || !p.pongSeen {
		p.pongSeen = true
		return
	}
	if p.downloadStarted && (!p.downloadFinished || now.Sub(p.finishedDownloading) < pingGracePeriod) {
		return
	}
	if downloading {
		return
	}
	p.pings = append(p.pings, util.Ticks(now)-ticks)
	if len(p.pings) > maxPings {
		p.pings = p.pings[len(p.pings)-maxPings:]
	}
}

// Ping returns the mean of the recent samples, halved when lc is set.
func (p *Player) Ping(lc bool) uint32 {
	if len(p.pings) == 0 {
		return 0
	}
	var sum uint64
	for _, v := range p.pings {
		sum += uint64(v)
	}
	avg := uint32(sum / uint64(len(p.pings)))
	if lc {
		return avg / 2
	}
	return avg
}

// NumPings returns the number of samples held.
func (p *Player) NumPings() int { return len(p.pings) }

func (p *Player) close() {
	if p.conn != nil {
		p.conn.CloseAfterFlush()
	}
}
