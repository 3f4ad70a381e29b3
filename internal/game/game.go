package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/warhost-project/warhost/internal/config"
	"github.com/warhost-project/warhost/internal/db"
	"github.com/warhost-project/warhost/internal/events"
	"github.com/warhost-project/warhost/internal/maps"
	"github.com/warhost-project/warhost/internal/protocol"
	"github.com/warhost-project/warhost/internal/realm"
	"github.com/warhost-project/warhost/internal/slot"
	"github.com/warhost-project/warhost/internal/stats"
	"github.com/warhost-project/warhost/internal/util"
)

const (
	pingInterval          = 5 * time.Second
	downloadInterval      = 100 * time.Millisecond
	downloadResetInterval = time.Second
	countdownInterval     = 500 * time.Millisecond
	countdownTicks        = 5
	lagScreenReset        = 60 * time.Second
	lagGrace              = 60 * time.Second
	voteKickExpiry        = 60 * time.Second
	autoStartInterval     = 10 * time.Second

	minLatency   = 10
	maxLatency   = 500
	minSyncLimit = 10
	maxSyncLimit = 10000

	// MaxGameNameLength is the longest game name clients display.
	MaxGameNameLength = 31

	fakePlayerName = "FakePlayer"
)

var (
	// ErrNoMap is returned when a game is created without a map.
	ErrNoMap = errors.New("game: no map")
	// ErrGameName is returned for an empty or overlong game name.
	ErrGameName = errors.New("game: invalid game name")
)

// Options describes a game to host.
type Options struct {
	Name    string
	Map     *maps.Map
	Owner   string
	Realm   string // realm the game was requested from, empty for operator games
	Creator string
	Private bool
}

type fakePlayer struct {
	pid  byte
	name string
}

// banCandidate remembers a player of a started game so admins can still ban
// them after they left.
type banCandidate struct {
	name  string
	realm string
	ip    string
}

// Game is one hosted match from lobby to teardown.
type Game struct {
	ctx    *Context
	dir    Directory
	logger zerolog.Logger
	rng    *rand.Rand

	cfg      config.GameConfig
	host     config.HostConfig
	download config.DownloadConfig

	m           *maps.Map
	name        string
	owner       string
	realm       string
	creator     string
	private     bool
	hostCounter uint32
	entryKey    uint32
	randomSeed  uint32
	createdAt   time.Time
	tick        time.Time

	slots   []slot.Slot
	players []*Player
	fakes   []fakePlayer

	virtualHostPID  byte
	virtualHostName string
	trigger         string

	latency   time.Duration
	syncLimit uint32

	locked           bool
	muteAll          bool
	muteLobby        bool
	hcl              string
	autoStartPlayers int
	reservedNames    []string
	ignoredNames     map[string]bool
	banCandidates    []banCandidate
	lastLeaver       *banCandidate

	slotInfoChanged bool

	lastPing          time.Time
	lastDownloadTick  time.Time
	lastDownloadReset time.Time
	downloadCounter   uint32
	lastAutoStart     time.Time
	lastReservedSeen  time.Time

	countDownStarted bool
	countDownCounter int
	lastCountDown    time.Time

	gameLoading    bool
	gameLoaded     bool
	startedLoading time.Time
	loadedAt       time.Time
	startPlayers   int

	actions          []protocol.Action
	syncCounter      uint32
	lastActionSent   time.Time
	lastActionLateBy time.Duration

	lagging            bool
	startedLagging     time.Time
	lastLagScreenReset time.Time

	desynced bool

	kickVotePlayer    string
	kickVoteStarted   time.Time
	kickVoteThreshold int

	gameOverTime time.Time
	stats        *stats.DotA
	records      []db.GamePlayerRecord

	exiting bool
	over    bool
}

// New creates a lobby for opts.Map and advertises it. The host counter is
// taken from ctx.HostCounter.
func New(ctx *Context, opts Options) (*Game, error) {
	if opts.Map == nil {
		return nil, ErrNoMap
	}
	if opts.Name == "" || len(opts.Name) > MaxGameNameLength {
		return nil, fmt.Errorf("%w: %q", ErrGameName, opts.Name)
	}

	now := ctx.now()
	g := &Game{
		ctx:             ctx,
		dir:             ctx.directory(),
		rng:             rand.New(rand.NewSource(int64(util.RandomUint32()))),
		cfg:             ctx.Config.GetGame(),
		host:            ctx.Config.GetHost(),
		download:        ctx.Config.GetDownload(),
		m:               opts.Map,
		name:            opts.Name,
		owner:           opts.Owner,
		realm:           opts.Realm,
		creator:         opts.Creator,
		private:         opts.Private,
		hostCounter:     ctx.HostCounter.Next(),
		entryKey:        util.RandomUint32(),
		randomSeed:      util.RandomUint32(),
		createdAt:       now,
		tick:            now,
		slots:           opts.Map.Slots(),
		virtualHostPID:  slot.NoPID,
		ignoredNames:    make(map[string]bool),
		hcl:             opts.Map.DefaultHCL(),
	}
	g.lastReservedSeen = now
	g.logger = util.GameLogger(g.name, g.hostCounter)
	g.virtualHostName = g.host.VirtualHostName
	if g.virtualHostName == "" {
		g.virtualHostName = "|cFF4080C0warhost"
	}
	g.trigger = g.host.CommandTrigger
	if g.trigger == "" {
		g.trigger = "!"
	}
	g.latency = time.Duration(clamp(g.cfg.Latency, minLatency, maxLatency)) * time.Millisecond
	g.syncLimit = uint32(clamp(g.cfg.SyncLimit, minSyncLimit, maxSyncLimit))
	g.autoStartPlayers = g.cfg.AutoStartPlayers
	if strings.EqualFold(opts.Map.Type(), "dota") {
		g.stats = stats.NewDotA(g.name)
	}

	g.logger.Info().
		Str("map", g.m.Path()).
		Str("owner", g.owner).
		Bool("private", g.private).
		Msg("lobby created")
	g.advertise()
	g.emit(events.EventGameCreated, g.gamePayload())
	return g, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Name returns the game name.
func (g *Game) Name() string { return g.name }

// HostCounter returns the counter identifying this game to joining clients.
func (g *Game) HostCounter() uint32 { return g.hostCounter }

// EntryKey returns the key LAN clients must present.
func (g *Game) EntryKey() uint32 { return g.entryKey }

// Owner returns the owner's name.
func (g *Game) Owner() string { return g.owner }

// Map returns the hosted map.
func (g *Game) Map() *maps.Map { return g.m }

// Slots returns a copy of the slot table.
func (g *Game) Slots() []slot.Slot { return append([]slot.Slot(nil), g.slots...) }

// Locked reports whether only the owner and root admins may run commands.
func (g *Game) Locked() bool { return g.locked }

// Lagging reports whether the lag screen is up.
func (g *Game) Lagging() bool { return g.lagging }

// Desynced reports whether a checksum mismatch was ever seen.
func (g *Game) Desynced() bool { return g.desynced }

// StartPlayers returns the number of non-observer players when loading began.
func (g *Game) StartPlayers() int { return g.startPlayers }

// Latency returns the action relay interval.
func (g *Game) Latency() time.Duration { return g.latency }

// SyncLimit returns the keepalive deficit that triggers the lag screen.
func (g *Game) SyncLimit() uint32 { return g.syncLimit }

// Players returns the players that have not left.
func (g *Game) Players() []*Player {
	var out []*Player
	for _, p := range g.players {
		if !p.deleteMe {
			out = append(out, p)
		}
	}
	return out
}

// Phase returns the game's current phase.
func (g *Game) Phase() events.GamePhase {
	switch {
	case g.over:
		return events.PhaseOver
	case g.gameLoaded:
		return events.PhaseRunning
	case g.gameLoading:
		return events.PhaseLoading
	default:
		return events.PhaseLobby
	}
}

// InLobby reports whether the game still accepts joins.
func (g *Game) InLobby() bool {
	return !g.countDownStarted && !g.gameLoading && !g.gameLoaded && !g.over
}

// Exit marks the game for teardown on the next update.
func (g *Game) Exit() {
	g.exiting = true
}

// NextDeadline returns the earliest time Update has work to do.
func (g *Game) NextDeadline() time.Time {
	next := g.lastPing.Add(pingInterval)
	earlier := func(t time.Time) {
		if t.Before(next) {
			next = t
		}
	}
	if g.InLobby() {
		earlier(g.lastDownloadTick.Add(downloadInterval))
	}
	if g.countDownStarted && !g.gameLoading && !g.gameLoaded {
		earlier(g.lastCountDown.Add(countdownInterval))
	}
	if g.gameLoaded && !g.lagging {
		earlier(g.lastActionSent.Add(g.latency - g.lastActionLateBy))
	}
	return next
}

// Update runs every timer of the game. It returns true once the game is over
// and torn down.
func (g *Game) Update(now time.Time) bool {
	if g.over {
		return true
	}
	g.tick = now

	for _, p := range g.players {
		if !p.deleteMe {
			g.updatePlayer(p, now)
		}
	}
	g.removeDeleted(now)

	if g.exiting {
		g.logger.Info().Msg("game is exiting")
		g.teardown(now)
		return true
	}

	if now.Sub(g.lastPing) >= pingInterval {
		g.sendAll(protocol.PingFromHost(util.Ticks(now)))
		if g.InLobby() {
			g.broadcastLAN(now)
			g.advertise()
		}
		g.lastPing = now
	}

	if !g.gameLoading && !g.gameLoaded && g.numPlayers() < slot.MaxSlots {
		g.createVirtualHost()
	}

	if !g.gameLoading && !g.gameLoaded {
		g.updateDownloads(now)
	}

	if g.InLobby() && g.autoStartPlayers > 0 && now.Sub(g.lastAutoStart) >= autoStartInterval {
		if g.numHumanPlayers() >= g.autoStartPlayers {
			g.logger.Info().Int("players", g.numHumanPlayers()).Msg("auto starting")
			g.startCountDown(false)
		}
		g.lastAutoStart = now
	}

	if g.countDownStarted && !g.gameLoading && !g.gameLoaded && now.Sub(g.lastCountDown) >= countdownInterval {
		if g.countDownCounter > 0 {
			g.sendAllChat(fmt.Sprintf("%d. . .", g.countDownCounter))
			g.countDownCounter--
		} else {
			g.eventGameStarted(now)
		}
		g.lastCountDown = now
	}

	if g.InLobby() {
		if g.lobbyAbandoned(now) {
			g.teardown(now)
			return true
		}
		if g.locked && g.playerFromName(g.owner) == nil {
			g.locked = false
			g.sendAllChat("Game unlocked. All admins can run game commands")
		}
	}

	if g.gameLoading && g.allLoaded() {
		g.eventGameLoaded(now)
	}

	if g.gameLoaded {
		g.updateLag(now)
		if !g.lagging && now.Sub(g.lastActionSent) >= g.latency-g.lastActionLateBy {
			g.sendAllActions(now)
		}
	}

	if g.kickVotePlayer != "" && now.Sub(g.kickVoteStarted) >= voteKickExpiry {
		g.logger.Info().Str("target", g.kickVotePlayer).Msg("votekick expired")
		g.sendAllChat(fmt.Sprintf("A votekick against player [%s] has expired", g.kickVotePlayer))
		g.kickVotePlayer = ""
	}

	if g.gameLoading || g.gameLoaded {
		if g.gameOverTime.IsZero() && g.numHumanPlayers() == 1 && len(g.fakes) == 0 {
			g.logger.Info().Msg("gameover timer started, one player left")
			g.gameOverTime = now
		}
		if !g.gameOverTime.IsZero() && now.Sub(g.gameOverTime) >= g.gameOverGrace() && g.numHumanPlayers() > 0 {
			g.logger.Info().Msg("gameover timer finished")
			g.stopPlayers("was disconnected (gameover timer finished)")
		}
		if len(g.players) == 0 {
			g.logger.Info().Msg("game is over, no players left")
			g.teardown(now)
			return true
		}
	}
	return false
}

func (g *Game) gameOverGrace() time.Duration {
	if g.cfg.GameOverGrace <= 0 {
		return 60 * time.Second
	}
	return time.Duration(g.cfg.GameOverGrace) * time.Second
}

func (g *Game) lobbyAbandoned(now time.Time) bool {
	if g.cfg.LobbyTimeLimit <= 0 || g.autoStartPlayers > 0 {
		return false
	}
	for _, p := range g.players {
		if p.reserved && !p.deleteMe {
			g.lastReservedSeen = now
			return false
		}
	}
	limit := time.Duration(g.cfg.LobbyTimeLimit) * time.Minute
	if now.Sub(g.lastReservedSeen) < limit {
		return false
	}
	g.logger.Info().Dur("limit", limit).Msg("lobby abandoned, no reserved player")
	g.emit(events.EventLobbyAbandoned, g.gamePayload())
	return true
}

// removeDeleted drops every player marked for deletion.
func (g *Game) removeDeleted(now time.Time) {
	kept := g.players[:0]
	var gone []*Player
	for _, p := range g.players {
		if p.deleteMe {
			gone = append(gone, p)
			continue
		}
		kept = append(kept, p)
	}
	for i := len(kept); i < len(g.players); i++ {
		g.players[i] = nil
	}
	g.players = kept
	for _, p := range gone {
		g.eventPlayerDeleted(p, now)
	}
}

// Close tears the game down immediately.
func (g *Game) Close() {
	g.teardown(g.ctx.now())
}

func (g *Game) teardown(now time.Time) {
	if g.over {
		return
	}
	started := g.gameLoading || g.gameLoaded
	for _, p := range g.players {
		if started {
			g.recordPlayer(p, now)
		}
		p.close()
	}
	if !started {
		g.unadvertise()
	}
	g.over = true

	if started {
		g.saveGame(now)
	}
	g.logger.Info().Dur("duration", g.duration(now)).Msg("game deleted")
	g.emit(events.EventGameDeleted, g.gamePayload())
}

func (g *Game) duration(now time.Time) time.Duration {
	if g.loadedAt.IsZero() {
		return 0
	}
	return now.Sub(g.loadedAt)
}

func (g *Game) saveGame(now time.Time) {
	winner := 0
	var dota *db.DotAGameRecord
	if g.stats != nil {
		s := g.stats.Summary()
		winner = s.Winner
		dota = &db.DotAGameRecord{Winner: s.Winner, Minutes: s.Minutes, Seconds: s.Seconds}
		for _, ps := range s.Players {
			dota.Players = append(dota.Players, db.DotAPlayerRecord{
				Colour:       uint8(ps.Colour),
				NewColour:    uint8(ps.NewColour),
				Hero:         ps.Hero,
				Kills:        ps.Kills,
				Deaths:       ps.Deaths,
				Assists:      ps.Assists,
				CreepKills:   ps.CreepKills,
				CreepDenies:  ps.CreepDenies,
				NeutralKills: ps.NeutralKills,
				TowerKills:   ps.TowerKills,
				RaxKills:     ps.RaxKills,
				CourierKills: ps.CourierKills,
				Gold:         ps.Gold,
				Items:        ps.Items,
			})
		}
	}

	summary := events.GameOverPayload{
		GameName:    g.name,
		HostCounter: g.hostCounter,
		MapPath:     g.m.Path(),
		Duration:    g.duration(now),
		Winner:      winner,
	}
	for _, r := range g.records {
		summary.Players = append(summary.Players, events.PlayerSummary{
			Name: r.Name, Team: r.Team, Colour: r.Colour, Left: r.LeftReason,
		})
	}
	g.emit(events.EventGameOver, summary)

	if g.ctx.Store == nil {
		return
	}
	rec := db.GameRecord{
		Server:      g.realm,
		Map:         g.m.Path(),
		GameName:    g.name,
		OwnerName:   g.owner,
		CreatorName: g.creator,
		Duration:    g.duration(now),
		Private:     g.private,
		Winner:      winner,
		CreatedAt:   g.createdAt,
	}
	id, err := g.ctx.Store.SaveGame(rec, g.records, dota)
	if err != nil {
		g.logger.Error().Err(err).Msg("failed to save game")
		return
	}
	g.logger.Info().Str("id", id).Int("players", len(g.records)).Msg("game saved")
}

func (g *Game) recordPlayer(p *Player, now time.Time) {
	var team, colour byte
	if sid := g.sidFromPID(p.pid); sid >= 0 {
		team, colour = g.slots[sid].Team, g.slots[sid].Colour
	}
	var loading time.Duration
	if p.finishedLoading {
		loading = p.finishedLoadingAt.Sub(g.startedLoading)
	}
	reason := p.leftReason
	if reason == "" {
		reason = "was disconnected (game ended)"
	}
	g.records = append(g.records, db.GamePlayerRecord{
		Name:        p.name,
		IP:          p.externalIP.String(),
		Spoofed:     p.spoofed,
		Realm:       p.spoofedRealm,
		Reserved:    p.reserved,
		LoadingTime: loading,
		Left:        g.duration(now),
		LeftReason:  reason,
		Team:        team,
		Colour:      colour,
	})
}

// ---- sending ----

// sendAll sends data to every player that has not left. Once the game is
// loaded the packet is kept for GProxy replay.
func (g *Game) sendAll(data []byte) {
	for _, p := range g.players {
		if !p.deleteMe {
			p.send(data, g.gameLoaded)
		}
	}
}

func (g *Game) send(p *Player, data []byte) {
	p.send(data, g.gameLoaded)
}

// sendChat whispers message to one player from the host.
func (g *Game) sendChat(p *Player, message string) {
	if g.gameLoading || g.gameLoaded {
		extra := []byte{3, 0, 0, 0}
		if sid := g.sidFromPID(p.pid); sid >= 0 {
			extra[0] = 3 + g.slots[sid].Colour
		}
		g.send(p, protocol.ChatFromHost(g.hostPID(), []byte{p.pid}, protocol.ChatMessageExtra, extra, truncate(message, 127)))
		return
	}
	g.send(p, protocol.ChatFromHost(g.hostPID(), []byte{p.pid}, protocol.ChatMessage, nil, truncate(message, 254)))
}

func (g *Game) sendAllChat(message string) {
	g.sendAllChatFrom(g.hostPID(), message)
}

// Announce sends an operator message to everyone in the game.
func (g *Game) Announce(message string) {
	g.tick = g.ctx.now()
	g.sendAllChat(message)
}

// sendAllChatFrom sends a public message shown as coming from fromPID.
func (g *Game) sendAllChatFrom(fromPID byte, message string) {
	if g.numHumanPlayers() == 0 {
		return
	}
	g.logger.Debug().Str("message", message).Msg("host chat")
	if g.gameLoading || g.gameLoaded {
		g.sendAll(protocol.ChatFromHost(fromPID, g.pids(), protocol.ChatMessageExtra, []byte{0, 0, 0, 0}, truncate(message, 127)))
		return
	}
	g.sendAll(protocol.ChatFromHost(fromPID, g.pids(), protocol.ChatMessage, nil, truncate(message, 254)))
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func (g *Game) slotInfo() []byte {
	return slot.EncodeInfo(g.slots, g.randomSeed, g.m.LayoutStyle(), byte(g.m.NumPlayers()))
}

// sendAllSlotInfo pushes the slot table. It is a no-op once loading began.
func (g *Game) sendAllSlotInfo() {
	if g.gameLoading || g.gameLoaded {
		return
	}
	g.sendAll(protocol.SlotInfo(g.slotInfo()))
	g.slotInfoChanged = false
	g.emit(events.EventSlotsChanged, g.gamePayload())
}

func (g *Game) playerInfo(p *Player) []byte {
	if g.cfg.HideIPs {
		return protocol.PlayerInfo(p.pid, p.name, nil, nil)
	}
	return protocol.PlayerInfo(p.pid, p.name, p.externalIP, p.internalIP)
}

func (g *Game) externalIP() net.IP {
	if g.ctx.ExternalIP != nil {
		return g.ctx.ExternalIP
	}
	return net.IPv4zero
}

// ---- lookups ----

func (g *Game) pids() []byte {
	var out []byte
	for _, p := range g.players {
		if !p.deleteMe {
			out = append(out, p.pid)
		}
	}
	return out
}

// hostPID returns the PID host messages are sent from: the virtual host,
// else a fake player, else the first player.
func (g *Game) hostPID() byte {
	if g.virtualHostPID != slot.NoPID {
		return g.virtualHostPID
	}
	if len(g.fakes) > 0 {
		return g.fakes[0].pid
	}
	for _, p := range g.players {
		if !p.leftMessageSent {
			return p.pid
		}
	}
	return slot.NoPID
}

// newPID returns the lowest PID not held by anyone.
func (g *Game) newPID() byte {
	for pid := byte(1); pid < slot.NoPID; pid++ {
		if g.pidInUse(pid) {
			continue
		}
		return pid
	}
	return slot.NoPID
}

func (g *Game) pidInUse(pid byte) bool {
	if pid == g.virtualHostPID {
		return true
	}
	for _, f := range g.fakes {
		if f.pid == pid {
			return true
		}
	}
	for _, p := range g.players {
		if p.pid == pid {
			return true
		}
	}
	return false
}

// newColour returns the lowest colour no slot carries.
func (g *Game) newColour() byte {
	for c := byte(0); c < slot.NumColours; c++ {
		used := false
		for _, s := range g.slots {
			if s.Colour == c {
				used = true
				break
			}
		}
		if !used {
			return c
		}
	}
	return slot.ObserverTeam
}

func (g *Game) sidFromPID(pid byte) int {
	for i, s := range g.slots {
		if s.PID == pid && s.IsOccupied() && !s.Computer {
			return i
		}
	}
	return -1
}

func (g *Game) playerFromPID(pid byte) *Player {
	for _, p := range g.players {
		if p.pid == pid && !p.leftMessageSent {
			return p
		}
	}
	return nil
}

func (g *Game) playerFromSID(sid int) *Player {
	if sid < 0 || sid >= len(g.slots) || !g.slots[sid].IsHuman() {
		return nil
	}
	return g.playerFromPID(g.slots[sid].PID)
}

func (g *Game) playerFromName(name string) *Player {
	for _, p := range g.players {
		if !p.leftMessageSent && p.is(name) {
			return p
		}
	}
	return nil
}

// playerFromNamePartial resolves an abbreviated name. It returns the number
// of matches and the last one; an exact match wins outright.
func (g *Game) playerFromNamePartial(name string) (int, *Player) {
	name = strings.ToLower(name)
	matches := 0
	var found *Player
	for _, p := range g.players {
		if p.leftMessageSent {
			continue
		}
		lower := strings.ToLower(p.name)
		if lower == name {
			return 1, p
		}
		if strings.Contains(lower, name) {
			matches++
			found = p
		}
	}
	return matches, found
}

func (g *Game) numHumanPlayers() int {
	n := 0
	for _, p := range g.players {
		if !p.deleteMe {
			n++
		}
	}
	return n
}

func (g *Game) numPlayers() int {
	return g.numHumanPlayers() + len(g.fakes)
}

func (g *Game) slotsOccupied() int {
	n := 0
	for _, s := range g.slots {
		if s.IsOccupied() {
			n++
		}
	}
	return n
}

func (g *Game) slotsOpen() int {
	n := 0
	for _, s := range g.slots {
		if s.Status == slot.StatusOpen {
			n++
		}
	}
	return n
}

func (g *Game) isOwner(name string) bool {
	return g.owner != "" && strings.EqualFold(g.owner, name)
}

func (g *Game) isReserved(name string) bool {
	for _, r := range g.reservedNames {
		if strings.EqualFold(r, name) {
			return true
		}
	}
	return false
}

func (g *Game) isDownloading() bool {
	for _, p := range g.players {
		if p.downloadStarted && !p.downloadFinished {
			return true
		}
	}
	return false
}

func (g *Game) allLoaded() bool {
	for _, p := range g.players {
		if !p.finishedLoading {
			return false
		}
	}
	return true
}

// ---- virtual host and fake players ----

func (g *Game) createVirtualHost() {
	if g.virtualHostPID != slot.NoPID {
		return
	}
	g.virtualHostPID = g.newPID()
	g.sendAll(protocol.PlayerInfo(g.virtualHostPID, g.virtualHostName, nil, nil))
}

func (g *Game) deleteVirtualHost() {
	if g.virtualHostPID == slot.NoPID {
		return
	}
	g.sendAll(protocol.PlayerLeaveOthers(g.virtualHostPID, protocol.LeaveLobby))
	g.virtualHostPID = slot.NoPID
}

// createFakePlayer seats a placeholder player in the first open slot.
func (g *Game) createFakePlayer() bool {
	sid := g.emptySlot(false)
	if sid < 0 || g.numPlayers() >= slot.MaxSlots {
		return false
	}
	if g.numPlayers() >= slot.MaxSlots-1 {
		g.deleteVirtualHost()
	}
	f := fakePlayer{pid: g.newPID()}
	f.name = fmt.Sprintf("%s%d", fakePlayerName, f.pid)
	g.sendAll(protocol.PlayerInfo(f.pid, f.name, nil, nil))

	s := g.slots[sid]
	s.PID = f.pid
	s.DownloadStatus = 100
	s.Status = slot.StatusOccupied
	s.Computer = false
	g.slots[sid] = s
	g.fakes = append(g.fakes, f)
	g.sendAllSlotInfo()
	g.logger.Info().Str("name", f.name).Int("sid", sid).Msg("fake player created")
	return true
}

func (g *Game) deleteFakePlayers() int {
	n := len(g.fakes)
	for _, f := range g.fakes {
		for i, s := range g.slots {
			if s.IsHuman() && s.PID == f.pid {
				g.slots[i] = slot.New(slot.StatusOpen, s.Team, s.Colour, s.Race)
			}
		}
		g.sendAll(protocol.PlayerLeaveOthers(f.pid, protocol.LeaveLobby))
	}
	g.fakes = nil
	if n > 0 {
		g.sendAllSlotInfo()
	}
	return n
}

// removeFakeFromSlot drops the fake player seated in sid, if any.
func (g *Game) removeFakeFromSlot(sid int) {
	s := g.slots[sid]
	if !s.IsHuman() {
		return
	}
	for i, f := range g.fakes {
		if f.pid == s.PID {
			g.sendAll(protocol.PlayerLeaveOthers(f.pid, protocol.LeaveLobby))
			g.fakes = append(g.fakes[:i], g.fakes[i+1:]...)
			return
		}
	}
}

// ---- adverts ----

func (g *Game) gameInfoParams(now time.Time) *protocol.GameInfoParams {
	version, _ := config.ParseVersion(g.host.War3Version)
	hostName := g.owner
	if hostName == "" {
		hostName = g.host.Name
	}
	return &protocol.GameInfoParams{
		TFT:         g.host.TFT,
		War3Version: byte(version),
		MapGameType: g.m.GameType(g.private),
		MapFlags:    g.m.GameFlags(),
		MapWidth:    g.m.Width(),
		MapHeight:   g.m.Height(),
		GameName:    g.name,
		HostName:    hostName,
		UpTime:      uint32(now.Sub(g.createdAt) / time.Second),
		MapPath:     g.m.Path(),
		MapCRC:      g.m.CRC(),
		SlotsTotal:  uint32(len(g.slots)),
		SlotsOpen:   uint32(g.slotsOpen()),
		Port:        uint16(g.host.GamePort),
		HostCounter: g.hostCounter,
		EntryKey:    g.entryKey,
	}
}

// GameInfo builds the LAN GAMEINFO answer for this lobby.
func (g *Game) GameInfo(now time.Time) ([]byte, error) {
	return protocol.GameInfo(g.gameInfoParams(now))
}

func (g *Game) broadcastLAN(now time.Time) {
	if g.ctx.LAN == nil || !g.host.LANBroadcast || g.private {
		return
	}
	pkt, err := g.GameInfo(now)
	if err != nil {
		g.logger.Warn().Err(err).Msg("cannot build game info")
		return
	}
	g.ctx.LAN.Broadcast(pkt)
}

func (g *Game) advertise() {
	g.dir.Advertise(realm.Advert{
		HostCounter: g.hostCounter,
		GameName:    g.name,
		MapPath:     g.m.Path(),
		Owner:       g.owner,
		Private:     g.private,
		Phase:       g.Phase(),
		SlotsUsed:   g.slotsOccupied(),
		SlotsTotal:  len(g.slots),
	})
}

func (g *Game) unadvertise() {
	g.dir.Unadvertise(g.hostCounter)
	if g.ctx.LAN != nil && g.host.LANBroadcast {
		g.ctx.LAN.Broadcast(protocol.DecreateGame(g.hostCounter))
	}
}

// ---- events ----

func (g *Game) emit(t events.EventType, payload interface{}) {
	if g.ctx.Bus == nil {
		return
	}
	g.ctx.Bus.Emit(context.Background(), events.Event{
		Type:    t,
		Source:  g.name,
		Time:    g.tick,
		Payload: payload,
	})
}

func (g *Game) gamePayload() events.GamePayload {
	p := events.GamePayload{
		GameName:    g.name,
		HostCounter: g.hostCounter,
		MapPath:     g.m.Path(),
		Owner:       g.owner,
		Phase:       g.Phase(),
		SlotsOpen:   g.slotsOpen(),
		SlotsTotal:  len(g.slots),
	}
	for _, pl := range g.players {
		if !pl.deleteMe {
			p.Players = append(p.Players, pl.name)
		}
	}
	return p
}

func (g *Game) playerPayload(p *Player, reason string, code uint32) events.PlayerPayload {
	return events.PlayerPayload{
		GameName:    g.name,
		HostCounter: g.hostCounter,
		Name:        p.name,
		PID:         p.pid,
		Realm:       p.joinedRealm,
		IP:          p.externalIP.String(),
		Reason:      reason,
		LeftCode:    code,
		GProxy:      p.gproxy,
	}
}

// EventSpoofCheck confirms that name is logged on to realm.
func (g *Game) EventSpoofCheck(realmName, name string) {
	g.tick = g.ctx.now()
	p := g.playerFromName(name)
	if p == nil || p.spoofed || p.joinedRealm != realmName {
		return
	}
	p.spoofed = true
	p.spoofedRealm = realmName
	p.logger.Info().Str("realm", realmName).Msg("spoof check passed")
	g.sendChat(p, fmt.Sprintf("Spoof check by %s accepted", realmLabel(realmName)))
}

func realmLabel(r string) string {
	if r == "" {
		return "LAN"
	}
	return r
}
