// Package cli implements the operator console read from stdin.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/warhost-project/warhost/internal/config"
	"github.com/warhost-project/warhost/internal/db"
	"github.com/warhost-project/warhost/internal/events"
	"github.com/warhost-project/warhost/internal/game"
	"github.com/warhost-project/warhost/internal/server"
)

// Host is what the console drives.
type Host interface {
	Games() []game.Snapshot
	Game(hostCounter uint32) (game.Snapshot, bool)
	Summary() server.Summary
	CreateGame(ctx context.Context, req server.CreateRequest) (uint32, error)
	Unhost(ctx context.Context, hostCounter uint32) error
	Command(ctx context.Context, hostCounter uint32, text string) error
	Say(ctx context.Context, hostCounter uint32, message string) error
}

// errQuit ends the console loop.
var errQuit = errors.New("quit")

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	host     Host
	store    *db.Store

	out io.Writer
}

// NewCLI creates a new CLI handler writing to out.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, host Host, store *db.Store, out io.Writer) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		host:     host,
		store:    store,
		out:      out,
	}
}

// Start reads commands from in until EOF, quit or ctx is cancelled.
func (c *CLI) Start(ctx context.Context, in io.Reader) {
	fmt.Fprintln(c.out, "warhost console ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := c.Execute(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return
				}
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
		}
	}
}

// Execute runs one console line.
func (c *CLI) Execute(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "games", "g":
		c.printGames()
	case "game":
		return c.printGame(args)
	case "players", "p":
		return c.printPlayers(args)
	case "bans":
		return c.printBans(args)
	case "host":
		return c.cmdHost(ctx, args)
	case "unhost":
		return c.cmdUnhost(ctx, args)
	case "cmd":
		return c.cmdCommand(ctx, args)
	case "say":
		return c.cmdSay(ctx, args)
	case "ban":
		return c.cmdBan(ctx, args)
	case "unban":
		return c.cmdUnban(args)
	case "set":
		return c.cmdSet(ctx, args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down warhost...")
		c.eventBus.Emit(ctx, events.Event{Type: events.EventShutdown, Source: "cli"})
		return errQuit
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Fprint(c.out, `
  status                      host counters
  games                       list hosted games
  game <hc>                   show one game and its slots
  players [hc]                list players
  bans [server]               list bans ("lan" for LAN, all when omitted)
  host <map> <name...>        host a new lobby
  unhost <hc>                 close a game
  cmd <hc> <text...>          run a chat command as the host
  say <hc|all> <message...>   send a message
  ban <server> <name> [hours] [reason...]
  unban <server> <name>
  set <game key> <value>      change a game setting
  quit                        shut down
`)
}

func (c *CLI) table(header []string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func (c *CLI) printStatus() {
	s := c.host.Summary()
	fmt.Fprintf(c.out, "  Lobbies:        %d\n", s.Lobbies)
	fmt.Fprintf(c.out, "  Running:        %d\n", s.Running)
	fmt.Fprintf(c.out, "  Players:        %d\n", s.Players)
	fmt.Fprintf(c.out, "  Pending joins:  %d\n", s.PendingJoins)
	fmt.Fprintf(c.out, "  Games hosted:   %d\n", s.GamesHosted)
	fmt.Fprintf(c.out, "  Games finished: %d\n", s.GamesFinished)
	fmt.Fprintf(c.out, "  Reconnects:     %d\n", s.Reconnects)
	fmt.Fprintf(c.out, "  Rejected joins: %d\n", s.RejectedJoins)
	if !s.StartedAt.IsZero() {
		fmt.Fprintf(c.out, "  Uptime:         %s\n", time.Since(s.StartedAt).Truncate(time.Second))
	}
}

func flags(g game.Snapshot) string {
	var f []string
	if g.Private {
		f = append(f, "private")
	}
	if g.Locked {
		f = append(f, "locked")
	}
	if g.Lagging {
		f = append(f, "lag")
	}
	if g.Desynced {
		f = append(f, "desync")
	}
	return strings.Join(f, ",")
}

func (c *CLI) printGames() {
	games := c.host.Games()
	if len(games) == 0 {
		fmt.Fprintln(c.out, "No games hosted.")
		return
	}
	tw := c.table([]string{"HC", "Name", "Map", "Phase", "Owner", "Players", "Open", "Latency", "Duration", "Flags"})
	for _, g := range games {
		tw.Append([]string{
			strconv.FormatUint(uint64(g.HostCounter), 10),
			g.Name,
			g.Map,
			g.Phase.String(),
			g.Owner,
			strconv.Itoa(len(g.Players)),
			strconv.Itoa(g.SlotsOpen),
			g.Latency.String(),
			g.Duration.Truncate(time.Second).String(),
			flags(g),
		})
	}
	tw.Render()
}

func (c *CLI) printGame(args []string) error {
	hc, err := parseHostCounter(args)
	if err != nil {
		return err
	}
	g, ok := c.host.Game(hc)
	if !ok {
		return fmt.Errorf("game %d not found", hc)
	}
	fmt.Fprintf(c.out, "  Game:     %s (%d)\n", g.Name, g.HostCounter)
	fmt.Fprintf(c.out, "  Map:      %s\n", g.Map)
	fmt.Fprintf(c.out, "  Phase:    %s\n", g.Phase)
	fmt.Fprintf(c.out, "  Owner:    %s\n", g.Owner)
	if g.HCL != "" {
		fmt.Fprintf(c.out, "  HCL:      %s\n", g.HCL)
	}
	fmt.Fprintf(c.out, "  Latency:  %s, sync limit %d\n", g.Latency, g.SyncLimit)

	names := make(map[byte]string, len(g.Players))
	for _, p := range g.Players {
		names[p.PID] = p.Name
	}
	tw := c.table([]string{"SID", "Player", "Status", "Team", "Colour", "Race", "Handicap", "Download"})
	for sid, s := range g.Slots {
		name := names[s.PID]
		if s.Computer {
			name = "Computer"
		}
		tw.Append([]string{
			strconv.Itoa(sid),
			name,
			strconv.Itoa(int(s.Status)),
			strconv.Itoa(int(s.Team) + 1),
			strconv.Itoa(int(s.Colour)),
			strconv.Itoa(int(s.Race)),
			strconv.Itoa(int(s.Handicap)),
			strconv.Itoa(int(s.DownloadStatus)),
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) printPlayers(args []string) error {
	games := c.host.Games()
	if len(args) > 0 {
		hc, err := parseHostCounter(args)
		if err != nil {
			return err
		}
		g, ok := c.host.Game(hc)
		if !ok {
			return fmt.Errorf("game %d not found", hc)
		}
		games = []game.Snapshot{g}
	}

	tw := c.table([]string{"Game", "PID", "Name", "Realm", "IP", "Ping", "GProxy", "Loaded"})
	for _, g := range games {
		for _, p := range g.Players {
			realm := p.Realm
			if realm == "" {
				realm = "LAN"
			}
			tw.Append([]string{
				g.Name,
				strconv.Itoa(int(p.PID)),
				p.Name,
				realm,
				p.IP,
				fmt.Sprintf("%dms", p.Ping),
				strconv.FormatBool(p.GProxy),
				strconv.FormatBool(p.Loaded),
			})
		}
	}
	tw.Render()
	return nil
}

func (c *CLI) printBans(args []string) error {
	if c.store == nil {
		return errors.New("database unavailable")
	}
	realm := "*"
	if len(args) > 0 {
		realm = realmArg(args[0])
	}
	bans, err := c.store.Bans(realm)
	if err != nil {
		return err
	}
	tw := c.table([]string{"Server", "Name", "Admin", "Reason", "Created", "Expires"})
	for _, b := range bans {
		expires := "never"
		if !b.ExpiresAt.IsZero() {
			expires = b.ExpiresAt.Format("2006-01-02 15:04")
		}
		tw.Append([]string{
			orLAN(b.Server),
			b.Name,
			b.Admin,
			b.Reason,
			b.CreatedAt.Format("2006-01-02 15:04"),
			expires,
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdHost(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: host <map> <name...>")
	}
	hc, err := c.host.CreateGame(ctx, server.CreateRequest{
		Map:     args[0],
		Name:    strings.Join(args[1:], " "),
		Creator: "console",
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Game hosted with host counter %d\n", hc)
	return nil
}

func (c *CLI) cmdUnhost(ctx context.Context, args []string) error {
	hc, err := parseHostCounter(args)
	if err != nil {
		return err
	}
	if err := c.host.Unhost(ctx, hc); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Game %d unhosted\n", hc)
	return nil
}

func (c *CLI) cmdCommand(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: cmd <hc> <text...>")
	}
	hc, err := parseHostCounter(args)
	if err != nil {
		return err
	}
	return c.host.Command(ctx, hc, strings.Join(args[1:], " "))
}

func (c *CLI) cmdSay(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: say <hc|all> <message...>")
	}
	var hc uint32
	if !strings.EqualFold(args[0], "all") {
		v, err := parseHostCounter(args)
		if err != nil {
			return err
		}
		hc = v
	}
	return c.host.Say(ctx, hc, strings.Join(args[1:], " "))
}

func (c *CLI) cmdBan(ctx context.Context, args []string) error {
	if c.store == nil {
		return errors.New("database unavailable")
	}
	if len(args) < 2 {
		return errors.New("usage: ban <server> <name> [hours] [reason...]")
	}
	ban := db.Ban{Server: realmArg(args[0]), Name: args[1], Admin: "console"}
	rest := args[2:]
	if len(rest) > 0 {
		if hours, err := strconv.Atoi(rest[0]); err == nil {
			if hours > 0 {
				ban.ExpiresAt = time.Now().Add(time.Duration(hours) * time.Hour)
			}
			rest = rest[1:]
		}
	}
	ban.Reason = strings.Join(rest, " ")
	if err := c.store.AddBan(ban); err != nil {
		return err
	}
	c.eventBus.Emit(ctx, events.Event{
		Type:    events.EventPlayerBanned,
		Source:  "cli",
		Payload: events.PlayerPayload{Name: ban.Name, Realm: ban.Server, Reason: ban.Reason},
	})
	fmt.Fprintf(c.out, "Banned %s on %s\n", ban.Name, orLAN(ban.Server))
	return nil
}

func (c *CLI) cmdUnban(args []string) error {
	if c.store == nil {
		return errors.New("database unavailable")
	}
	if len(args) < 2 {
		return errors.New("usage: unban <server> <name>")
	}
	if err := c.store.RemoveBan(realmArg(args[0]), args[1]); err != nil {
		return fmt.Errorf("unban %s: %w", args[1], err)
	}
	fmt.Fprintf(c.out, "Unbanned %s\n", args[1])
	return nil
}

func (c *CLI) cmdSet(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: set <game key> <value>")
	}
	key := args[0]
	raw := strings.Join(args[1:], " ")

	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		value = raw
	}
	if err := c.cfg.UpdateGameField(key, value); err != nil {
		return err
	}
	if c.cfg.Path() != "" {
		if err := c.cfg.Save(); err != nil {
			log.Warn().Err(err).Msg("failed to save config")
		}
	}
	c.eventBus.Emit(ctx, events.Event{
		Type:    events.EventConfigChanged,
		Source:  "cli",
		Payload: events.ConfigChangedPayload{Section: "game", Key: key, Value: value},
	})
	fmt.Fprintf(c.out, "Config updated: %s = %s\n", key, raw)
	return nil
}

func parseHostCounter(args []string) (uint32, error) {
	if len(args) < 1 {
		return 0, errors.New("host counter required")
	}
	v, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid host counter: %s", args[0])
	}
	return uint32(v), nil
}

// realmArg maps the console's "lan" to the empty LAN server name.
func realmArg(s string) string {
	if strings.EqualFold(s, "lan") {
		return ""
	}
	return s
}

func orLAN(server string) string {
	if server == "" {
		return "LAN"
	}
	return server
}
