// Package lan advertises hosted lobbies on the local network: GameInfo
// broadcasts from the games and answers to clients searching for games.
package lan

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/warhost-project/warhost/internal/network"
	"github.com/warhost-project/warhost/internal/util"
)

// DefaultPort is the port game clients listen and search on.
const DefaultPort = 6112

const writeBufferSize = 64 * 1024

// Broadcaster sends datagrams to the broadcast address of the local
// network. Broadcast may be called from any goroutine.
type Broadcaster struct {
	conn   net.PacketConn
	target net.Addr
	logger zerolog.Logger

	sent   atomic.Uint64
	failed atomic.Uint64
}

// NewBroadcaster opens a broadcast socket sending to port on
// 255.255.255.255.
func NewBroadcaster(ctx context.Context, port int) (*Broadcaster, error) {
	if port == 0 {
		port = DefaultPort
	}
	lc := network.ReuseAddrListenConfig(true)
	pc, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("failed to open LAN broadcast socket: %w", err)
	}
	b := newBroadcaster(pc, &net.UDPAddr{IP: net.IPv4bcast, Port: port})
	if uc, ok := pc.(*net.UDPConn); ok {
		if err := uc.SetWriteBuffer(writeBufferSize); err != nil {
			b.logger.Debug().Err(err).Msg("failed to set write buffer")
		}
	}
	return b, nil
}

func newBroadcaster(conn net.PacketConn, target net.Addr) *Broadcaster {
	b := &Broadcaster{
		conn:   conn,
		target: target,
		logger: util.ComponentLogger("lan").With().Str("target", target.String()).Logger(),
	}
	b.logger.Info().Msg("LAN broadcaster started")
	return b
}

// Broadcast sends packet to the local network. Failures are logged and
// otherwise ignored; the next ping cycle repeats the advert.
func (b *Broadcaster) Broadcast(packet []byte) {
	if _, err := b.conn.WriteTo(packet, b.target); err != nil {
		b.failed.Add(1)
		b.logger.Debug().Err(err).Int("bytes", len(packet)).Msg("LAN broadcast failed")
		return
	}
	b.sent.Add(1)
}

// Stats returns how many datagrams were sent and how many failed.
func (b *Broadcaster) Stats() (sent, failed uint64) {
	return b.sent.Load(), b.failed.Load()
}

// Close closes the socket.
func (b *Broadcaster) Close() error {
	return b.conn.Close()
}
