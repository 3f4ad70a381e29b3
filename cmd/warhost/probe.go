package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/nielsAD/gowarcraft3/network"
	"github.com/nielsAD/gowarcraft3/protocol/w3gs"
	"github.com/olekukonko/tablewriter"
	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/warhost-project/warhost/internal/config"
	"github.com/warhost-project/warhost/internal/lan"
	warnet "github.com/warhost-project/warhost/internal/network"
)

var errNoHosts = errors.New("at least one host required")

func newProbeCommand() *ffcli.Command {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	timeout := fs.Duration("timeout", 3*time.Second, "Response timeout")
	versionStr := fs.String("version", config.DefaultWar3Version, "Game version, e.g. 1.26 or 26")
	roc := fs.Bool("roc", false, "Search for Reign of Chaos games instead of The Frozen Throne")
	port := fs.Int("port", lan.DefaultPort, "Search port")

	return &ffcli.Command{
		Name:       "probe",
		ShortUsage: "warhost probe [flags] <host> [host...]",
		ShortHelp:  "Search hosts for advertised games",
		LongHelp: `Send a SearchGame query to each host and list the lobbies that answer.
Use 255.255.255.255 to search the local network.`,
		FlagSet: fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return errNoHosts
			}
			minor, err := config.ParseVersion(*versionStr)
			if err != nil {
				return err
			}
			p := prober{
				version: lan.Version(!*roc, minor),
				port:    *port,
				timeout: *timeout,
				out:     os.Stdout,
			}
			return p.run(ctx, args)
		},
	}
}

type prober struct {
	version w3gs.GameVersion
	port    int
	timeout time.Duration
	out     io.Writer
}

type probeResult struct {
	from *net.UDPAddr
	info *w3gs.GameInfo
}

func (p *prober) run(ctx context.Context, hosts []string) error {
	lc := warnet.ReuseAddrListenConfig(true)
	pc, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return fmt.Errorf("failed to create socket: %w", err)
	}
	conn := pc.(*net.UDPConn)
	defer conn.Close()
	if err := conn.SetWriteBuffer(64 * 1024); err != nil {
		return err
	}

	w3 := &network.W3GSPacketConn{}
	w3.SetConn(conn, w3gs.NewFactoryCache(w3gs.DefaultFactory), w3gs.Encoding{})

	search := &w3gs.SearchGame{GameVersion: p.version}
	for _, host := range hosts {
		addr, err := p.resolve(ctx, host)
		if err != nil {
			fmt.Fprintf(p.out, "%s: %v\n", host, err)
			continue
		}
		if _, err := w3.Send(addr, search); err != nil {
			fmt.Fprintf(p.out, "%s: %v\n", addr, err)
		}
	}

	results, err := p.collect(conn)
	if err != nil {
		return err
	}
	p.print(results)
	return nil
}

func (p *prober) resolve(ctx context.Context, host string) (*net.UDPAddr, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		if v4 := a.IP.To4(); v4 != nil {
			return &net.UDPAddr{IP: v4, Port: p.port}, nil
		}
	}
	return nil, errors.New("no IPv4 address")
}

func (p *prober) collect(conn *net.UDPConn) ([]probeResult, error) {
	if err := conn.SetReadDeadline(time.Now().Add(p.timeout)); err != nil {
		return nil, err
	}
	dec := w3gs.NewDecoder(w3gs.Encoding{}, w3gs.NewFactoryCache(w3gs.DefaultFactory))

	var results []probeResult
	buf := make([]byte, 2048)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return results, nil
			}
			return results, fmt.Errorf("read error: %w", err)
		}
		pkt, _, err := dec.Deserialize(buf[:n])
		if err != nil {
			continue
		}
		if gi, ok := pkt.(*w3gs.GameInfo); ok {
			results = append(results, probeResult{from: from, info: gi})
		}
	}
}

func (p *prober) print(results []probeResult) {
	if len(results) == 0 {
		fmt.Fprintln(p.out, "No games found.")
		return
	}
	tw := tablewriter.NewWriter(p.out)
	tw.SetHeader([]string{"From", "Game", "Map", "Slots", "Port", "Host Counter"})
	tw.SetAutoWrapText(false)
	for _, r := range results {
		gi := r.info
		tw.Append([]string{
			r.from.IP.String(),
			gi.GameName,
			gi.GameSettings.MapPath,
			fmt.Sprintf("%d/%d", gi.SlotsUsed, gi.SlotsTotal),
			strconv.Itoa(int(gi.GamePort)),
			fmt.Sprintf("%08X", gi.HostCounter),
		})
	}
	tw.Render()
}
