package lan

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/nielsAD/gowarcraft3/network"
	"github.com/nielsAD/gowarcraft3/protocol/w3gs"
	"github.com/rs/zerolog"

	warnet "github.com/warhost-project/warhost/internal/network"
	"github.com/warhost-project/warhost/internal/util"
)

// Lobbies returns the raw GameInfo packets of every lobby currently
// advertised on the LAN. It is called from the responder goroutine.
type Lobbies func() [][]byte

// Responder answers SearchGame queries with the GameInfo of each lobby.
// Queries for another product or version are ignored.
type Responder struct {
	network.EventEmitter
	network.W3GSPacketConn

	version w3gs.GameVersion
	lobbies Lobbies
	logger  zerolog.Logger
}

// ListenResponder binds the search port on bindAddress and returns a
// responder for version.
func ListenResponder(ctx context.Context, bindAddress string, port int, version w3gs.GameVersion, lobbies Lobbies) (*Responder, error) {
	if port == 0 {
		port = DefaultPort
	}
	lc := warnet.ReuseAddrListenConfig(true)
	addr := net.JoinHostPort(bindAddress, strconv.Itoa(port))
	pc, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for LAN searches on %s: %w", addr, err)
	}
	return NewResponder(pc, version, lobbies), nil
}

// NewResponder answers searches arriving on conn.
func NewResponder(conn net.PacketConn, version w3gs.GameVersion, lobbies Lobbies) *Responder {
	r := &Responder{
		version: version,
		lobbies: lobbies,
		logger:  util.ComponentLogger("lan").With().Str("listen", conn.LocalAddr().String()).Logger(),
	}
	r.SetConn(conn, w3gs.NewFactoryCache(w3gs.DefaultFactory), w3gs.Encoding{})
	r.On(&w3gs.SearchGame{}, r.onSearchGame)
	return r
}

// Addr returns the address searches are read from.
func (r *Responder) Addr() net.Addr {
	return r.Conn().LocalAddr()
}

// Run reads searches until ctx is cancelled.
func (r *Responder) Run(ctx context.Context) error {
	r.logger.Info().Str("product", r.version.Product.String()).Uint32("version", r.version.Version).Msg("LAN responder started")

	done := make(chan error, 1)
	go func() {
		done <- r.W3GSPacketConn.Run(&r.EventEmitter, 0)
	}()

	select {
	case <-ctx.Done():
		r.Close()
		<-done
		r.logger.Info().Msg("LAN responder stopping")
		return nil
	case err := <-done:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("LAN responder: %w", err)
	}
}

func (r *Responder) onSearchGame(ev *network.Event) {
	search, ok := ev.Arg.(*w3gs.SearchGame)
	if !ok || len(ev.Opt) == 0 {
		return
	}
	addr, ok := ev.Opt[0].(net.Addr)
	if !ok {
		return
	}
	if search.Product != r.version.Product || search.Version != r.version.Version {
		r.logger.Trace().
			Str("from", addr.String()).
			Str("product", search.Product.String()).
			Uint32("version", search.Version).
			Msg("ignoring search for another version")
		return
	}

	lobbies := r.lobbies()
	r.logger.Trace().Str("from", addr.String()).Int("lobbies", len(lobbies)).Msg("answering LAN search")
	for _, pkt := range lobbies {
		if _, err := r.Conn().WriteTo(pkt, addr); err != nil {
			r.logger.Debug().Err(err).Str("to", addr.String()).Msg("failed to answer LAN search")
		}
	}
}

// Version returns the game version searches must ask for.
func Version(tft bool, minor uint32) w3gs.GameVersion {
	v := w3gs.GameVersion{Product: w3gs.ProductROC, Version: minor}
	if tft {
		v.Product = w3gs.ProductTFT
	}
	return v
}
