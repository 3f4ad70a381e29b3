// warhost hosts Warcraft III games on the LAN and on configured realms,
// with GProxy reconnect support, a REST API, MQTT telemetry and an
// interactive console.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/peterbourgon/ff/v3/ffcli"
)

const envPrefix = "WARHOST"

func main() {
	runCmd := newRunCommand()

	root := &ffcli.Command{
		ShortUsage: "warhost <subcommand> [flags]",
		ShortHelp:  "Warcraft III game host with GProxy reconnect",
		Subcommands: []*ffcli.Command{
			runCmd,
			newProbeCommand(),
			newCheckMapCommand(),
			newSetupCommand(),
			newVersionCommand(),
		},
		Exec: func(ctx context.Context, args []string) error {
			// no subcommand: host
			return runCmd.ParseAndRun(ctx, args)
		},
	}

	err := root.ParseAndRun(context.Background(), os.Args[1:])
	if err != nil && !errors.Is(err, flag.ErrHelp) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
