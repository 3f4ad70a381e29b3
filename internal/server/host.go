package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/warhost-project/warhost/internal/config"
	"github.com/warhost-project/warhost/internal/db"
	"github.com/warhost-project/warhost/internal/events"
	"github.com/warhost-project/warhost/internal/game"
	"github.com/warhost-project/warhost/internal/maps"
	"github.com/warhost-project/warhost/internal/network"
	"github.com/warhost-project/warhost/internal/protocol"
	"github.com/warhost-project/warhost/internal/realm"
	"github.com/warhost-project/warhost/internal/util"
)

const (
	// MaxTick is the longest the reactor sleeps between updates.
	MaxTick = 50 * time.Millisecond

	reconnectTimeout  = 10 * time.Second
	limiterPruneEvery = time.Minute
	limiterIdle       = 10 * time.Minute
)

var (
	// ErrStopped is returned by control requests when the reactor is not
	// running.
	ErrStopped = errors.New("host is not running")
	// ErrTooManyGames is returned when MaxGames games are already hosted.
	ErrTooManyGames = errors.New("too many games hosted")
	// ErrGameNotFound is returned for an unknown host counter.
	ErrGameNotFound = errors.New("game not found")
	// ErrNoMap is returned when no map was named and no default is set.
	ErrNoMap = errors.New("no map given and no default map configured")
)

// Deps are the services the host shares with its games. Store, Bus and LAN
// may be nil.
type Deps struct {
	Hub        *realm.Hub
	Store      *db.Store
	Bus        *events.EventBus
	LAN        game.Broadcaster
	Now        func() time.Time
	ExternalIP net.IP
	Version    string
}

// CreateRequest describes a game to host.
type CreateRequest struct {
	Name    string `json:"name"`
	Map     string `json:"map"` // map config name, empty for the default map
	Owner   string `json:"owner"`
	Realm   string `json:"realm"`
	Creator string `json:"creator"`
	Private bool   `json:"private"`
}

type request struct {
	fn   func(now time.Time) error
	done chan error
}

type pendingReconnect struct {
	conn     *network.Connection
	accepted time.Time
}

// Host is the reactor. One goroutine, Run, owns every game and every
// connection that has not joined one yet. Other goroutines talk to it
// through the control methods and read the published State.
type Host struct {
	cfg     *config.Config
	hub     *realm.Hub
	bus     *events.EventBus
	gctx    *game.Context
	counter *HostCounter
	state   *State
	limiter *network.IPLimiter
	logger  zerolog.Logger

	games      []*game.Game
	pending    []*game.PotentialPlayer
	reconnects []pendingReconnect

	gameListener *network.Listener
	gpsListener  *network.Listener

	control chan request
	running atomic.Bool
	stopped chan struct{}
}

// NewHost creates a host. Listeners are bound by Listen.
func NewHost(cfg *config.Config, deps Deps) *Host {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	host := cfg.GetHost()
	counter := NewHostCounter(host.HostCounterStart)

	gctx := &game.Context{
		Config:      cfg,
		Directory:   deps.Hub,
		Bus:         deps.Bus,
		HostCounter: counter,
		LAN:         deps.LAN,
		Now:         now,
		MapDir:      cfg.Maps.Directory,
		ExternalIP:  deps.ExternalIP,
		Version:     deps.Version,
	}
	if deps.Store != nil {
		gctx.Store = deps.Store
	}

	rate := host.AcceptRate
	if rate <= 0 {
		rate = 5
	}
	return &Host{
		cfg:     cfg,
		hub:     deps.Hub,
		bus:     deps.Bus,
		gctx:    gctx,
		counter: counter,
		state:   NewState(now()),
		limiter: network.NewIPLimiter(float64(rate), rate),
		logger:  util.ComponentLogger("host"),
		control: make(chan request),
		stopped: make(chan struct{}),
	}
}

// State returns the published state.
func (h *Host) State() *State { return h.state }

// Games returns the published games.
func (h *Host) Games() []game.Snapshot { return h.state.Games() }

// Game returns one published game.
func (h *Host) Game(hostCounter uint32) (game.Snapshot, bool) { return h.state.Game(hostCounter) }

// Summary returns the published counters.
func (h *Host) Summary() Summary { return h.state.Summary() }

// Listen binds the game port, and the reconnect port when GProxy
// reconnects are enabled.
func (h *Host) Listen(ctx context.Context) error {
	host := h.cfg.GetHost()
	h.gameListener = network.NewListener("game", net.JoinHostPort(host.BindAddress, strconv.Itoa(host.GamePort)), h.limiter)
	if err := h.gameListener.Listen(ctx); err != nil {
		return err
	}
	if host.Reconnect {
		h.gpsListener = network.NewListener("reconnect", net.JoinHostPort(host.BindAddress, strconv.Itoa(host.ReconnectPort)), h.limiter)
		if err := h.gpsListener.Listen(ctx); err != nil {
			h.gameListener.Stop()
			return err
		}
	}
	return nil
}

// GameAddr returns the bound game port address, nil before Listen.
func (h *Host) GameAddr() net.Addr {
	if h.gameListener == nil {
		return nil
	}
	return h.gameListener.Addr()
}

// ReconnectAddr returns the bound reconnect port address, nil when
// reconnects are disabled.
func (h *Host) ReconnectAddr() net.Addr {
	if h.gpsListener == nil {
		return nil
	}
	return h.gpsListener.Addr()
}

// Run is the reactor loop. It returns after ctx is cancelled and every game
// has been torn down.
func (h *Host) Run(ctx context.Context) error {
	if !h.running.CompareAndSwap(false, true) {
		return errors.New("host is already running")
	}
	defer close(h.stopped)

	var joins, gps <-chan *network.Connection
	if h.gameListener != nil {
		joins = h.gameListener.Accepted()
		go h.serve(ctx, h.gameListener)
	}
	if h.gpsListener != nil {
		gps = h.gpsListener.Accepted()
		go h.serve(ctx, h.gpsListener)
	}

	h.logger.Info().Int("max_games", h.cfg.GetHost().MaxGames).Msg("host started")

	timer := time.NewTimer(0)
	defer timer.Stop()
	lastPrune := h.gctx.Now()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return nil
		case conn := <-joins:
			h.accept(conn)
		case conn := <-gps:
			h.acceptReconnect(conn)
		case req := <-h.control:
			req.done <- req.fn(h.gctx.Now())
		case <-timer.C:
			now := h.gctx.Now()
			h.update(now)
			if now.Sub(lastPrune) >= limiterPruneEvery {
				h.limiter.Prune(limiterIdle)
				lastPrune = now
			}
			timer.Reset(h.sleep(h.gctx.Now()))
		}
	}
}

func (h *Host) serve(ctx context.Context, l *network.Listener) {
	if err := l.Serve(ctx); err != nil {
		h.logger.Error().Err(err).Msg("listener failed")
	}
}

// sleep returns how long the reactor may wait before the next update.
func (h *Host) sleep(now time.Time) time.Duration {
	d := MaxTick
	for _, g := range h.games {
		if until := g.NextDeadline().Sub(now); until < d {
			d = until
		}
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

func (h *Host) accept(conn *network.Connection) {
	h.pending = append(h.pending, game.NewPotentialPlayer(conn, h.gctx.Now()))
}

func (h *Host) acceptReconnect(conn *network.Connection) {
	h.reconnects = append(h.reconnects, pendingReconnect{conn: conn, accepted: h.gctx.Now()})
}

// update runs one reactor tick.
func (h *Host) update(now time.Time) {
	if h.hub != nil {
		for _, sc := range h.hub.TakeSpoofChecks() {
			for _, g := range h.games {
				g.EventSpoofCheck(sc.Realm, sc.Name)
			}
		}
		h.hub.Flush()
	}

	rejected := h.updatePending(now)
	reconnected := h.updateReconnects(now)

	finished := 0
	kept := h.games[:0]
	for _, g := range h.games {
		if g.Update(now) {
			finished++
			continue
		}
		kept = append(kept, g)
	}
	for i := len(kept); i < len(h.games); i++ {
		h.games[i] = nil
	}
	h.games = kept

	h.state.count(0, finished, reconnected, rejected)
	h.publish(now)
}

// updatePending routes join requests to their game. Joins for an unknown
// host counter are refused as full.
func (h *Host) updatePending(now time.Time) (rejected int) {
	kept := h.pending[:0]
	for _, pp := range h.pending {
		if pp.Done() {
			continue
		}
		req := pp.Poll()
		if req == nil {
			if pp.Expired(now) {
				pp.Close()
				continue
			}
			kept = append(kept, pp)
			continue
		}
		g := h.gameByCounter(req.HostCounter & HostCounterMask)
		if g == nil {
			h.logger.Info().
				Str("player", req.Name).
				Uint32("host_counter", req.HostCounter).
				Str("remote", pp.Conn().RemoteAddr().String()).
				Msg("join rejected, no such game")
			pp.Reject(protocol.RejectFull)
			rejected++
			continue
		}
		g.EventPlayerJoined(pp, req)
	}
	for i := len(kept); i < len(h.pending); i++ {
		h.pending[i] = nil
	}
	h.pending = kept
	return rejected
}

// updateReconnects hands GProxy reconnect requests to the game holding the
// player.
func (h *Host) updateReconnects(now time.Time) (reconnected int) {
	kept := h.reconnects[:0]
	for _, rc := range h.reconnects {
		conn := rc.conn
		if conn.Closed() || conn.Err() != nil || conn.Stalled() || now.Sub(rc.accepted) >= reconnectTimeout {
			conn.Close()
			continue
		}
		pkt, ok := conn.Next()
		if !ok {
			kept = append(kept, rc)
			continue
		}
		var req *protocol.GPSReconnectRequest
		if pkt.Header == protocol.GPSHeader && pkt.ID == protocol.GPSReconnectID {
			req = protocol.DecodeGPSReconnect(pkt.Data)
		}
		if req == nil {
			conn.Logger().Debug().Uint8("header", pkt.Header).Uint8("id", pkt.ID).Msg("unexpected packet on the reconnect port")
			conn.Close()
			continue
		}
		if h.reconnect(conn, req) {
			reconnected++
		}
	}
	for i := len(kept); i < len(h.reconnects); i++ {
		h.reconnects[i] = pendingReconnect{}
	}
	h.reconnects = kept
	return reconnected
}

func (h *Host) reconnect(conn *network.Connection, req *protocol.GPSReconnectRequest) bool {
	reason := protocol.GPSRejectNotFound
	for _, g := range h.games {
		err := g.EventGProxyReconnect(conn, req)
		if err == nil {
			return true
		}
		if errors.Is(err, game.ErrReplayIncomplete) {
			reason = protocol.GPSRejectInvalid
			break
		}
	}
	conn.Logger().Info().
		Uint8("pid", req.PID).
		Uint32("reason", reason).
		Msg("reconnect rejected")
	conn.Send(protocol.GPSReject(reason))
	conn.CloseAfterFlush()
	return false
}

func (h *Host) gameByCounter(hostCounter uint32) *game.Game {
	for _, g := range h.games {
		if g.HostCounter() == hostCounter {
			return g
		}
	}
	return nil
}

// publish copies the games into the shared state.
func (h *Host) publish(now time.Time) {
	snaps := make([]game.Snapshot, 0, len(h.games))
	var lobbies [][]byte
	for _, g := range h.games {
		s := g.Snapshot()
		snaps = append(snaps, s)
		if g.InLobby() && !s.Private {
			pkt, err := g.GameInfo(now)
			if err != nil {
				h.logger.Warn().Err(err).Str("game", s.Name).Msg("failed to build LAN game info")
				continue
			}
			lobbies = append(lobbies, pkt)
		}
	}
	h.state.publish(snaps, lobbies, len(h.pending)+len(h.reconnects), now)
}

func (h *Host) shutdown() {
	h.logger.Info().Int("games", len(h.games)).Msg("host stopping")
	if h.bus != nil && len(h.games) > 0 {
		h.bus.Emit(context.Background(), events.Event{
			Type:   events.EventNotify,
			Source: "host",
			Payload: events.NotifyPayload{
				Title:   "Host stopping",
				Message: fmt.Sprintf("%d game(s) closed", len(h.games)),
				Level:   "warning",
			},
		})
	}
	for _, g := range h.games {
		g.Close()
	}
	h.games = nil
	for _, pp := range h.pending {
		pp.Close()
	}
	h.pending = nil
	for _, rc := range h.reconnects {
		rc.conn.Close()
	}
	h.reconnects = nil
	if h.gameListener != nil {
		h.gameListener.Stop()
	}
	if h.gpsListener != nil {
		h.gpsListener.Stop()
	}
	h.publish(h.gctx.Now())
}

// do runs fn on the reactor goroutine and waits for its result.
func (h *Host) do(ctx context.Context, fn func(now time.Time) error) error {
	if !h.running.Load() {
		return ErrStopped
	}
	req := request{fn: fn, done: make(chan error, 1)}
	select {
	case h.control <- req:
	case <-h.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateGame hosts a new lobby and returns its host counter.
func (h *Host) CreateGame(ctx context.Context, req CreateRequest) (uint32, error) {
	var hc uint32
	err := h.do(ctx, func(now time.Time) error {
		g, err := h.createGame(req)
		if err != nil {
			return err
		}
		hc = g.HostCounter()
		h.publish(now)
		return nil
	})
	return hc, err
}

func (h *Host) createGame(req CreateRequest) (*game.Game, error) {
	if limit := h.cfg.GetHost().MaxGames; limit > 0 && len(h.games) >= limit {
		return nil, fmt.Errorf("%w: %d", ErrTooManyGames, limit)
	}
	name := req.Map
	if name == "" {
		name = h.cfg.Maps.Default
	}
	if name == "" {
		return nil, ErrNoMap
	}
	m, err := maps.Load(h.cfg.Maps.ConfigDirectory, name)
	if err != nil {
		return nil, err
	}
	if err := m.LoadData(h.cfg.Maps.Directory); err != nil {
		if errors.Is(err, maps.ErrInvalidMap) {
			return nil, err
		}
		h.logger.Warn().Err(err).Str("map", m.Path()).Msg("no local map data, downloads are unavailable")
	}

	g, err := game.New(h.gctx, game.Options{
		Name:    strings.TrimSpace(req.Name),
		Map:     m,
		Owner:   req.Owner,
		Realm:   req.Realm,
		Creator: req.Creator,
		Private: req.Private,
	})
	if err != nil {
		return nil, err
	}
	h.games = append(h.games, g)
	h.state.count(1, 0, 0, 0)
	return g, nil
}

// Unhost tears a game down.
func (h *Host) Unhost(ctx context.Context, hostCounter uint32) error {
	return h.do(ctx, func(now time.Time) error {
		g := h.gameByCounter(hostCounter)
		if g == nil {
			return fmt.Errorf("%w: %d", ErrGameNotFound, hostCounter)
		}
		g.Exit()
		return nil
	})
}

// Command runs a chat command in a game as the operator. The command
// trigger may be omitted.
func (h *Host) Command(ctx context.Context, hostCounter uint32, text string) error {
	return h.do(ctx, func(now time.Time) error {
		g := h.gameByCounter(hostCounter)
		if g == nil {
			return fmt.Errorf("%w: %d", ErrGameNotFound, hostCounter)
		}
		if !g.RunCommand(text) {
			return fmt.Errorf("unknown command %q", text)
		}
		return nil
	})
}

// Say sends an operator message to a game, or to every game when
// hostCounter is zero.
func (h *Host) Say(ctx context.Context, hostCounter uint32, message string) error {
	return h.do(ctx, func(now time.Time) error {
		if hostCounter == 0 {
			for _, g := range h.games {
				g.Announce(message)
			}
			return nil
		}
		g := h.gameByCounter(hostCounter)
		if g == nil {
			return fmt.Errorf("%w: %d", ErrGameNotFound, hostCounter)
		}
		g.Announce(message)
		return nil
	})
}
