package game

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/warhost-project/warhost/internal/db"
	"github.com/warhost-project/warhost/internal/events"
	"github.com/warhost-project/warhost/internal/maps"
	"github.com/warhost-project/warhost/internal/protocol"
	"github.com/warhost-project/warhost/internal/slot"
	"github.com/warhost-project/warhost/internal/util"
)

// Command is a chat command.
type Command int

const (
	CmdUnknown Command = iota
	CmdAbort
	CmdAutoStart
	CmdBan
	CmdBanLast
	CmdCheck
	CmdCheckMe
	CmdClearHCL
	CmdClose
	CmdCloseAll
	CmdComp
	CmdCompColour
	CmdCompHandicap
	CmdCompRace
	CmdCompTeam
	CmdDeleteFake
	CmdDownload
	CmdDrop
	CmdEnd
	CmdFakePlayer
	CmdFrom
	CmdHCL
	CmdHold
	CmdKick
	CmdLatency
	CmdLock
	CmdMute
	CmdMuteAll
	CmdOpen
	CmdOpenAll
	CmdOwner
	CmdPing
	CmdPriv
	CmdPub
	CmdSay
	CmdShuffle
	CmdSpoofCheck
	CmdStart
	CmdStats
	CmdStatsDotA
	CmdSwap
	CmdSyncLimit
	CmdUnhost
	CmdUnlock
	CmdUnmute
	CmdUnmuteAll
	CmdVersion
	CmdVoteCancel
	CmdVoteKick
	CmdWhisper
	CmdYes
)

// commandTable maps every accepted spelling to its command.
var commandTable = map[string]Command{
	"a":            CmdAbort,
	"abort":        CmdAbort,
	"autostart":    CmdAutoStart,
	"ban":          CmdBan,
	"addban":       CmdBan,
	"banlast":      CmdBanLast,
	"check":        CmdCheck,
	"checkme":      CmdCheckMe,
	"clearhcl":     CmdClearHCL,
	"close":        CmdClose,
	"closeall":     CmdCloseAll,
	"comp":         CmdComp,
	"compcolour":   CmdCompColour,
	"compcolor":    CmdCompColour,
	"comphandicap": CmdCompHandicap,
	"comprace":     CmdCompRace,
	"compteam":     CmdCompTeam,
	"deletefake":   CmdDeleteFake,
	"download":     CmdDownload,
	"dl":           CmdDownload,
	"drop":         CmdDrop,
	"end":          CmdEnd,
	"fakeplayer":   CmdFakePlayer,
	"from":         CmdFrom,
	"f":            CmdFrom,
	"hcl":          CmdHCL,
	"hold":         CmdHold,
	"kick":         CmdKick,
	"k":            CmdKick,
	"latency":      CmdLatency,
	"lock":         CmdLock,
	"mute":         CmdMute,
	"muteall":      CmdMuteAll,
	"open":         CmdOpen,
	"openall":      CmdOpenAll,
	"owner":        CmdOwner,
	"ping":         CmdPing,
	"p":            CmdPing,
	"priv":         CmdPriv,
	"pub":          CmdPub,
	"say":          CmdSay,
	"shuffle":      CmdShuffle,
	"sp":           CmdSpoofCheck,
	"start":        CmdStart,
	"s":            CmdStart,
	"stats":        CmdStats,
	"statsdota":    CmdStatsDotA,
	"sd":           CmdStatsDotA,
	"swap":         CmdSwap,
	"synclimit":    CmdSyncLimit,
	"unhost":       CmdUnhost,
	"uh":           CmdUnhost,
	"unlock":       CmdUnlock,
	"unmute":       CmdUnmute,
	"unmuteall":    CmdUnmuteAll,
	"version":      CmdVersion,
	"votecancel":   CmdVoteCancel,
	"votekick":     CmdVoteKick,
	"w":            CmdWhisper,
	"yes":          CmdYes,
}

// ParseCommand splits text (without the trigger) into a command and its
// payload. Unknown commands return CmdUnknown.
func ParseCommand(text string) (Command, string) {
	name, payload, _ := strings.Cut(strings.TrimSpace(text), " ")
	cmd, ok := commandTable[strings.ToLower(name)]
	if !ok {
		return CmdUnknown, ""
	}
	return cmd, strings.TrimSpace(payload)
}

// AdminOnly reports whether the command needs the admin tier.
func (c Command) AdminOnly() bool {
	switch c {
	case CmdCheckMe, CmdStats, CmdStatsDotA, CmdVersion, CmdVoteKick, CmdYes, CmdUnknown:
		return false
	}
	return true
}

func (c Command) String() string {
	best := ""
	for name, cmd := range commandTable {
		if cmd == c && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return "unknown"
	}
	return best
}

// invocation is one command run. player is nil for operator commands.
type invocation struct {
	player  *Player
	user    string
	realm   string
	root    bool
	owner   bool
	payload string
}

func (g *Game) reply(inv *invocation, msg string) {
	if inv.player != nil {
		g.sendChat(inv.player, msg)
		return
	}
	g.logger.Info().Str("reply", msg).Msg("operator command")
}

// RunCommand runs text as the host operator, with full rights. The trigger
// prefix is optional.
func (g *Game) RunCommand(text string) bool {
	g.tick = g.ctx.now()
	cmd, payload := ParseCommand(strings.TrimPrefix(text, g.trigger))
	if cmd == CmdUnknown {
		return false
	}
	g.logger.Info().Str("command", cmd.String()).Str("payload", payload).Msg("operator command")
	g.runCommand(cmd, &invocation{user: "operator", root: true, owner: true, payload: payload})
	return true
}

// eventPlayerBotCommand checks the caller's tier and runs a chat command.
func (g *Game) eventPlayerBotCommand(p *Player, text string) {
	cmd, payload := ParseCommand(text)
	if cmd == CmdUnknown {
		return
	}
	dir := g.dir
	root := dir.IsRootAdmin(p.joinedRealm, p.name)
	admin := root || dir.IsAdmin(p.joinedRealm, p.name)
	owner := g.isOwner(p.name)
	inv := &invocation{player: p, user: p.name, realm: p.joinedRealm, root: root, owner: owner, payload: payload}
	log := p.logger.With().Str("command", cmd.String()).Str("payload", payload).Logger()

	if cmd.AdminOnly() {
		if !p.spoofed || !(admin || owner) {
			log.Debug().Msg("admin command refused")
			return
		}
		if g.locked && !root && !owner {
			log.Info().Msg("admin command refused, game is locked")
			g.sendChat(p, "Error: only the game owner and root admins can run game commands when the game is locked")
			return
		}
		log.Info().Msg("admin command")
		g.runCommand(cmd, inv)
		return
	}

	if !p.spoofed {
		return
	}
	if !(admin || owner) && dir.Queued(p.joinedRealm) >= 3 {
		log.Info().Msg("command ignored, realm chat queue is full")
		return
	}
	g.runCommand(cmd, inv)
}

func (g *Game) runCommand(cmd Command, inv *invocation) {
	switch cmd {
	case CmdAbort:
		g.cmdAbort()
	case CmdAutoStart:
		g.cmdAutoStart(inv)
	case CmdBan:
		g.cmdBan(inv)
	case CmdBanLast:
		g.cmdBanLast(inv)
	case CmdCheck:
		g.cmdCheck(inv)
	case CmdCheckMe:
		if inv.player != nil {
			g.sendChat(inv.player, g.checkLine(inv.player))
		}
	case CmdClearHCL:
		if g.InLobby() {
			g.hcl = ""
			g.sendAllChat("Clearing HCL command string")
		}
	case CmdClose:
		g.forSlots(inv, func(sid int) { g.CloseSlot(sid, true) })
	case CmdCloseAll:
		for i, s := range g.slots {
			if s.Status == slot.StatusOpen {
				g.CloseSlot(i, false)
			}
		}
	case CmdComp, CmdCompColour, CmdCompHandicap, CmdCompRace, CmdCompTeam:
		g.cmdComputer(cmd, inv)
	case CmdDeleteFake:
		if g.InLobby() {
			g.deleteFakePlayers()
		}
	case CmdDownload:
		g.cmdDownload(inv)
	case CmdDrop:
		if g.gameLoaded {
			g.stopLaggers("lagged out (dropped by admin)")
		}
	case CmdEnd:
		if g.gameLoaded {
			g.logger.Info().Str("admin", inv.user).Msg("game ended by admin")
			g.stopPlayers("was disconnected (admin ended game)")
		}
	case CmdFakePlayer:
		if g.InLobby() && !g.createFakePlayer() {
			g.reply(inv, "Unable to create a fake player, the game is full")
		}
	case CmdFrom:
		g.cmdFrom()
	case CmdHCL:
		g.cmdHCL(inv)
	case CmdHold:
		g.cmdHold(inv)
	case CmdKick:
		g.cmdKick(inv)
	case CmdLatency:
		g.cmdLatency(inv)
	case CmdLock:
		if inv.root || inv.owner {
			g.locked = true
			g.sendAllChat("Game locked. Only the game owner and root admins can run game commands")
		}
	case CmdUnlock:
		if inv.root || inv.owner {
			g.locked = false
			g.sendAllChat("Game unlocked. All admins can run game commands")
		}
	case CmdMute, CmdUnmute:
		g.cmdMute(inv, cmd == CmdMute)
	case CmdMuteAll, CmdUnmuteAll:
		g.cmdMuteAll(cmd == CmdMuteAll)
	case CmdOpen:
		g.forSlots(inv, func(sid int) { g.OpenSlot(sid, true) })
	case CmdOpenAll:
		for i, s := range g.slots {
			if s.Status == slot.StatusClosed {
				g.OpenSlot(i, false)
			}
		}
	case CmdOwner:
		g.cmdOwner(inv)
	case CmdPing:
		g.cmdPing(inv)
	case CmdPriv, CmdPub:
		g.cmdRehost(inv, cmd == CmdPriv)
	case CmdSay:
		if inv.payload != "" {
			g.dir.QueueChat("", inv.payload, "")
		}
	case CmdShuffle:
		if g.InLobby() {
			g.ShuffleSlots()
		}
	case CmdSpoofCheck:
		g.cmdSpoofCheck()
	case CmdStart:
		if g.InLobby() {
			g.startCountDown(strings.EqualFold(inv.payload, "force"))
		}
	case CmdStats:
		g.cmdStats(inv, false)
	case CmdStatsDotA:
		g.cmdStats(inv, true)
	case CmdSwap:
		g.cmdSwap(inv)
	case CmdSyncLimit:
		g.cmdSyncLimit(inv)
	case CmdUnhost:
		if g.InLobby() {
			g.logger.Info().Str("admin", inv.user).Msg("unhosted by admin")
			g.exiting = true
		}
	case CmdVersion:
		g.reply(inv, "Version: "+g.ctx.Version)
	case CmdVoteCancel:
		if g.kickVotePlayer != "" {
			g.sendAllChat(fmt.Sprintf("A votekick against player [%s] has been cancelled", g.kickVotePlayer))
			g.kickVotePlayer = ""
		}
	case CmdVoteKick:
		g.cmdVoteKick(inv)
	case CmdWhisper:
		if name, msg, ok := strings.Cut(inv.payload, " "); ok && msg != "" {
			g.dir.QueueChat("", msg, name)
		}
	case CmdYes:
		g.cmdYes(inv)
	}
}

// parseNumber parses a command argument, logging and replying on failure.
func (g *Game) parseNumber(inv *invocation, s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil {
		g.logger.Info().Err(err).Str("user", inv.user).Msg("bad number in command")
		g.reply(inv, fmt.Sprintf("Invalid number [%s]", s))
		return 0, false
	}
	return n, true
}

// forSlots runs fn for every 1-based slot number in the payload.
func (g *Game) forSlots(inv *invocation, fn func(sid int)) {
	if !g.InLobby() {
		return
	}
	for _, f := range strings.Fields(inv.payload) {
		n, ok := g.parseNumber(inv, f)
		if !ok {
			return
		}
		if n < 1 || n > len(g.slots) {
			g.reply(inv, fmt.Sprintf("Invalid slot [%d]", n))
			continue
		}
		fn(n - 1)
	}
}

// findPlayer resolves a partial name, replying when it is ambiguous or
// unknown.
func (g *Game) findPlayer(inv *invocation, name string) *Player {
	n, p := g.playerFromNamePartial(name)
	switch {
	case n == 0:
		g.reply(inv, fmt.Sprintf("No match found for [%s]", name))
		return nil
	case n > 1:
		g.reply(inv, fmt.Sprintf("Found more than one match for [%s]", name))
		return nil
	}
	return p
}

func (g *Game) cmdAbort() {
	if g.countDownStarted && !g.gameLoading && !g.gameLoaded {
		g.sendAllChat("Countdown aborted!")
		g.countDownStarted = false
	}
}

func (g *Game) cmdAutoStart(inv *invocation) {
	if !g.InLobby() {
		return
	}
	if inv.payload == "" || strings.EqualFold(inv.payload, "off") {
		g.autoStartPlayers = 0
		g.sendAllChat("Auto start disabled")
		return
	}
	n, ok := g.parseNumber(inv, inv.payload)
	if !ok {
		return
	}
	if n < 1 || n > slot.MaxSlots {
		g.reply(inv, fmt.Sprintf("Invalid player count [%d]", n))
		return
	}
	g.autoStartPlayers = n
	g.sendAllChat(fmt.Sprintf("Auto start enabled, the game starts when %d players have joined", n))
}

func (g *Game) cmdBan(inv *invocation) {
	name, reason, _ := strings.Cut(inv.payload, " ")
	if name == "" {
		return
	}
	var victim banCandidate
	if g.gameLoading || g.gameLoaded {
		matches := 0
		for _, c := range g.banCandidates {
			if strings.EqualFold(c.name, name) {
				victim, matches = c, 1
				break
			}
			if strings.Contains(strings.ToLower(c.name), strings.ToLower(name)) {
				victim = c
				matches++
			}
		}
		if matches != 1 {
			g.reply(inv, fmt.Sprintf("Unable to ban player [%s], %d matches", name, matches))
			return
		}
	} else {
		p := g.findPlayer(inv, name)
		if p == nil {
			return
		}
		victim = banCandidate{name: p.name, realm: p.joinedRealm, ip: p.externalIP.String()}
	}
	g.ban(inv, victim, strings.TrimSpace(reason))
}

func (g *Game) cmdBanLast(inv *invocation) {
	if g.lastLeaver == nil {
		g.reply(inv, "Unable to ban, no player has left the game yet")
		return
	}
	g.ban(inv, *g.lastLeaver, inv.payload)
}

func (g *Game) ban(inv *invocation, victim banCandidate, reason string) {
	if err := g.dir.AddBan(victim.realm, victim.name, victim.ip, g.name, inv.user, reason); err != nil {
		g.logger.Error().Err(err).Str("victim", victim.name).Msg("failed to add ban")
		g.reply(inv, fmt.Sprintf("Unable to ban player [%s]", victim.name))
		return
	}
	g.logger.Info().Str("victim", victim.name).Str("admin", inv.user).Str("reason", reason).Msg("player banned")
	g.sendAllChat(fmt.Sprintf("Player [%s] was banned by player [%s] on server [%s]", victim.name, inv.user, realmLabel(victim.realm)))
	g.emit(events.EventPlayerBanned, events.PlayerPayload{
		GameName:    g.name,
		HostCounter: g.hostCounter,
		Name:        victim.name,
		Realm:       victim.realm,
		IP:          victim.ip,
		Reason:      reason,
	})
}

func (g *Game) checkLine(p *Player) string {
	yes := func(b bool) string {
		if b {
			return "Yes"
		}
		return "No"
	}
	ping := "N/A"
	if p.NumPings() > 0 {
		ping = fmt.Sprintf("%dms", p.Ping(g.cfg.LCPings))
	}
	admin := g.dir.IsAdmin(p.joinedRealm, p.name) || g.dir.IsRootAdmin(p.joinedRealm, p.name)
	return fmt.Sprintf("Checked player [%s]. Ping: %s, From: %s, Admin: %s, Owner: %s, Spoof Checked: %s, Realm: %s, Reserved: %s, GProxy++: %s",
		p.name, ping, p.externalIP, yes(admin), yes(g.isOwner(p.name)), yes(p.spoofed),
		realmLabel(p.joinedRealm), yes(p.reserved), yes(p.gproxy))
}

func (g *Game) cmdCheck(inv *invocation) {
	if inv.payload == "" {
		if inv.player != nil {
			g.reply(inv, g.checkLine(inv.player))
		}
		return
	}
	if p := g.findPlayer(inv, inv.payload); p != nil {
		g.reply(inv, g.checkLine(p))
	}
}

// cmdComputer handles the computer slot edits. Slots are 1-based.
func (g *Game) cmdComputer(cmd Command, inv *invocation) {
	if !g.InLobby() {
		return
	}
	args := strings.Fields(inv.payload)
	if len(args) == 0 {
		return
	}
	n, ok := g.parseNumber(inv, args[0])
	if !ok {
		return
	}
	sid := n - 1
	if !g.validSID(sid) {
		g.reply(inv, fmt.Sprintf("Invalid slot [%d]", n))
		return
	}

	if cmd == CmdComp {
		skill := slot.ComputerNormal
		if len(args) > 1 {
			v, ok := g.parseNumber(inv, args[1])
			if !ok {
				return
			}
			skill = byte(v)
		}
		g.ComputerSlot(sid, skill, true)
		return
	}

	if len(args) < 2 || !g.slots[sid].Computer {
		return
	}
	arg := strings.ToLower(strings.Join(args[1:], " "))
	s := &g.slots[sid]
	switch cmd {
	case CmdCompColour:
		c, ok := slot.ColourFromName(arg)
		if !ok {
			v, ok := g.parseNumber(inv, arg)
			if !ok {
				return
			}
			parsed, err := slot.ParseColour(uint32(v - 1))
			if err != nil || v < 1 {
				g.reply(inv, fmt.Sprintf("Invalid colour [%s]", arg))
				return
			}
			c = parsed
		}
		if g.m.FixedPlayerSettings() {
			return
		}
		g.ColourSlot(sid, c)
	case CmdCompHandicap:
		v, ok := g.parseNumber(inv, arg)
		if !ok {
			return
		}
		if v < 0 || v > 255 || !slot.ValidHandicap(byte(v)) {
			g.reply(inv, fmt.Sprintf("Invalid handicap [%d]", v))
			return
		}
		s.Handicap = byte(v)
		g.sendAllSlotInfo()
	case CmdCompRace:
		races := map[string]byte{
			"human":     slot.RaceHuman,
			"orc":       slot.RaceOrc,
			"night elf": slot.RaceNightElf,
			"nightelf":  slot.RaceNightElf,
			"undead":    slot.RaceUndead,
			"random":    slot.RaceRandom,
		}
		race, ok := races[arg]
		if !ok || g.m.FixedPlayerSettings() || g.m.Flags()&maps.FlagRandomRaces != 0 {
			return
		}
		s.Race = race | slot.RaceSelectable
		g.sendAllSlotInfo()
	case CmdCompTeam:
		v, ok := g.parseNumber(inv, arg)
		if !ok {
			return
		}
		if v < 1 || v > int(slot.ObserverTeam) || g.m.FixedPlayerSettings() {
			g.reply(inv, fmt.Sprintf("Invalid team [%d]", v))
			return
		}
		s.Team = byte(v - 1)
		g.sendAllSlotInfo()
	}
}

func (g *Game) cmdDownload(inv *invocation) {
	if !g.InLobby() || inv.payload == "" {
		return
	}
	p := g.findPlayer(inv, inv.payload)
	if p == nil || p.downloadStarted || !g.m.HasData() {
		return
	}
	sid := g.sidFromPID(p.pid)
	if sid >= 0 && g.slots[sid].DownloadStatus == 100 {
		return
	}
	p.downloadAllowed = true
	p.downloadStarted = true
	p.startedDownloading = g.tick
	g.send(p, protocol.StartDownload(g.hostPID()))
	g.sendAllChat(fmt.Sprintf("Player [%s] is downloading the map", p.name))
}

func (g *Game) cmdFrom() {
	var parts []string
	for _, p := range g.Players() {
		parts = append(parts, fmt.Sprintf("%s: %s", p.name, realmLabel(p.joinedRealm)))
	}
	if len(parts) > 0 {
		g.sendAllChat(strings.Join(parts, ", "))
	}
}

func (g *Game) cmdHCL(inv *invocation) {
	if inv.payload == "" {
		if g.hcl == "" {
			g.reply(inv, "The HCL command string is empty")
		} else {
			g.reply(inv, fmt.Sprintf("The HCL command string is [%s]", g.hcl))
		}
		return
	}
	if !g.InLobby() {
		return
	}
	if err := CheckHCL(inv.payload, len(g.slots)); err != nil {
		g.reply(inv, fmt.Sprintf("Unable to set HCL command string: %v", err))
		return
	}
	g.hcl = inv.payload
	g.sendAllChat(fmt.Sprintf("Setting HCL command string to [%s]", g.hcl))
}

func (g *Game) cmdHold(inv *invocation) {
	if !g.InLobby() {
		return
	}
	for _, name := range strings.Fields(inv.payload) {
		if !g.isReserved(name) {
			g.reservedNames = append(g.reservedNames, name)
		}
		if p := g.playerFromName(name); p != nil {
			p.reserved = true
		}
		g.sendAllChat(fmt.Sprintf("Added player [%s] to the hold list", name))
	}
}

func (g *Game) cmdKick(inv *invocation) {
	if inv.payload == "" {
		return
	}
	p := g.findPlayer(inv, inv.payload)
	if p == nil {
		return
	}
	reason := fmt.Sprintf("was kicked by player [%s]", inv.user)
	if g.gameLoading || g.gameLoaded {
		p.setLeft(reason, protocol.LeaveLost, g.tick)
	} else {
		p.setLeft(reason, protocol.LeaveLobby, g.tick)
		g.send(p, protocol.HostKickPlayer(protocol.LeaveLobby))
		g.openSlotOf(p)
	}
	p.logger.Info().Str("admin", inv.user).Msg("player kicked")
	g.emit(events.EventPlayerKicked, g.playerPayload(p, reason, p.leftCode))
}

func (g *Game) cmdLatency(inv *invocation) {
	if inv.payload == "" {
		g.reply(inv, fmt.Sprintf("The game latency is %d ms", g.latency/time.Millisecond))
		return
	}
	n, ok := g.parseNumber(inv, inv.payload)
	if !ok {
		return
	}
	n = clamp(n, minLatency, maxLatency)
	g.latency = time.Duration(n) * time.Millisecond
	g.sendAllChat(fmt.Sprintf("Setting game latency to %d ms", n))
}

func (g *Game) cmdSyncLimit(inv *invocation) {
	if inv.payload == "" {
		g.reply(inv, fmt.Sprintf("The sync limit is %d packets", g.syncLimit))
		return
	}
	n, ok := g.parseNumber(inv, inv.payload)
	if !ok {
		return
	}
	n = clamp(n, minSyncLimit, maxSyncLimit)
	g.syncLimit = uint32(n)
	g.sendAllChat(fmt.Sprintf("Setting sync limit to %d packets", n))
}

func (g *Game) cmdMute(inv *invocation, mute bool) {
	p := g.findPlayer(inv, inv.payload)
	if p == nil {
		return
	}
	p.muted = mute
	if mute {
		g.sendAllChat(fmt.Sprintf("Player [%s] was muted by player [%s]", p.name, inv.user))
	} else {
		g.sendAllChat(fmt.Sprintf("Player [%s] was unmuted by player [%s]", p.name, inv.user))
	}
}

func (g *Game) cmdMuteAll(mute bool) {
	if g.gameLoaded {
		g.muteAll = mute
	} else {
		g.muteLobby = mute
	}
	if mute {
		g.sendAllChat("Global chat muted")
	} else {
		g.sendAllChat("Global chat unmuted")
	}
}

func (g *Game) cmdOwner(inv *invocation) {
	name := inv.payload
	if name == "" {
		name = inv.user
	}
	if name == "" || len(name) > MaxNameLength {
		return
	}
	g.owner = name
	if p := g.playerFromName(name); p != nil {
		p.reserved = true
	}
	g.sendAllChat(fmt.Sprintf("Setting game owner to [%s]", name))
}

func (g *Game) cmdPing(inv *invocation) {
	kickAbove := 0
	if inv.payload != "" {
		n, ok := g.parseNumber(inv, inv.payload)
		if !ok {
			return
		}
		kickAbove = n
	}
	players := g.Players()
	sort.Slice(players, func(i, j int) bool {
		return players[i].Ping(g.cfg.LCPings) > players[j].Ping(g.cfg.LCPings)
	})
	var parts []string
	kicked := 0
	for _, p := range players {
		if p.NumPings() == 0 {
			parts = append(parts, p.name+": N/A")
			continue
		}
		ping := p.Ping(g.cfg.LCPings)
		parts = append(parts, fmt.Sprintf("%s: %dms", p.name, ping))
		if kickAbove > 0 && g.InLobby() && !p.reserved && ping > uint32(kickAbove) {
			p.setLeft(fmt.Sprintf("was kicked for excessive ping %d > %d", ping, kickAbove), protocol.LeaveLobby, g.tick)
			g.send(p, protocol.HostKickPlayer(protocol.LeaveLobby))
			g.openSlotOf(p)
			kicked++
		}
	}
	if len(parts) > 0 {
		g.sendAllChat(strings.Join(parts, ", "))
	}
	if kicked > 0 {
		g.sendAllChat(fmt.Sprintf("Kicking %d players with pings greater than %d", kicked, kickAbove))
	}
}

// cmdRehost renames the lobby and advertises it under a new host counter.
func (g *Game) cmdRehost(inv *invocation, private bool) {
	if !g.InLobby() {
		return
	}
	name := inv.payload
	if name == "" || len(name) > MaxGameNameLength {
		g.reply(inv, "Unable to create game, the game name is invalid")
		return
	}
	g.unadvertise()
	old := g.hostCounter
	g.hostCounter = g.ctx.HostCounter.Next()
	g.name = name
	g.private = private
	g.logger = util.GameLogger(g.name, g.hostCounter)
	g.advertise()
	g.broadcastLAN(g.tick)
	g.logger.Info().Uint32("old_host_counter", old).Bool("private", private).Msg("game rehosted")
	g.sendAllChat(fmt.Sprintf("Trying to rehost as %s game [%s]", map[bool]string{true: "private", false: "public"}[private], name))
}

func (g *Game) cmdSpoofCheck() {
	for _, p := range g.Players() {
		if !p.spoofed && p.joinedRealm != "" {
			g.dir.QueueChat(p.joinedRealm, "/whois "+p.name, "")
		}
	}
}

func (g *Game) cmdStats(inv *invocation, dota bool) {
	name := inv.payload
	if name == "" {
		name = inv.user
	}
	if p := inv.player; p != nil {
		if g.tick.Sub(p.statsSentAt) < 5*time.Second {
			return
		}
		p.statsSentAt = g.tick
	}
	if g.ctx.Store == nil {
		g.reply(inv, "No stats database is configured")
		return
	}
	if dota {
		s, err := g.ctx.Store.DotASummary(name)
		if err != nil {
			g.statsError(inv, name, err)
			return
		}
		g.reply(inv, fmt.Sprintf("[%s] has played %d DotA games (W/L: %d/%d). Hero K/D/A: %d/%d/%d. Creep K/D: %d/%d. Neutral kills: %d. Tower/Rax/Courier kills: %d/%d/%d",
			s.Name, s.Games, s.Wins, s.Losses, s.Kills, s.Deaths, s.Assists, s.CreepKills, s.CreepDenies,
			s.NeutralKills, s.TowerKills, s.RaxKills, s.CourierKills))
		return
	}
	s, err := g.ctx.Store.PlayerSummary(name)
	if err != nil {
		g.statsError(inv, name, err)
		return
	}
	g.reply(inv, fmt.Sprintf("[%s] has played %d games. Average loading time: %.2f seconds. Average stay: %.0f percent",
		s.Name, s.Games, s.AvgLoadingTime.Seconds(), s.AvgLeftPercent))
}

func (g *Game) statsError(inv *invocation, name string, err error) {
	if errors.Is(err, db.ErrNotFound) {
		g.reply(inv, fmt.Sprintf("[%s] hasn't played any games here", name))
		return
	}
	g.logger.Error().Err(err).Str("name", name).Msg("stats query failed")
}

func (g *Game) cmdSwap(inv *invocation) {
	if !g.InLobby() {
		return
	}
	args := strings.Fields(inv.payload)
	if len(args) != 2 {
		return
	}
	a, ok := g.parseNumber(inv, args[0])
	if !ok {
		return
	}
	b, ok := g.parseNumber(inv, args[1])
	if !ok {
		return
	}
	if !g.SwapSlots(a-1, b-1) {
		g.reply(inv, fmt.Sprintf("Unable to swap slots [%d] and [%d]", a, b))
	}
}
