package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/warhost-project/warhost/internal/config"
	"github.com/warhost-project/warhost/internal/maps"
)

var errNoMapName = errors.New("map config name required")

func newCheckMapCommand() *ffcli.Command {
	fs := flag.NewFlagSet("checkmap", flag.ExitOnError)
	configDir := fs.String("config", config.DefaultConfigDir, "Configuration directory")

	return &ffcli.Command{
		Name:       "checkmap",
		ShortUsage: "warhost checkmap [flags] <map config> [map config...]",
		ShortHelp:  "Validate map configs and their map files",
		FlagSet:    fs,
		Options:    []ff.Option{ff.WithEnvVarPrefix(envPrefix)},
		Exec: func(_ context.Context, args []string) error {
			if len(args) == 0 {
				return errNoMapName
			}
			cfg, err := config.Load(*configDir)
			if err != nil {
				return err
			}
			failed := 0
			for _, name := range args {
				if err := checkMap(cfg.Maps, name); err != nil {
					fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d map configs failed", failed, len(args))
			}
			return nil
		},
	}
}

func checkMap(mc config.MapsConfig, name string) error {
	m, err := maps.Load(mc.ConfigDirectory, name)
	if err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return err
	}
	var data string
	if err := m.LoadData(mc.Directory); err != nil {
		if errors.Is(err, maps.ErrInvalidMap) {
			return err
		}
		data = err.Error()
	} else {
		data = fmt.Sprintf("%d bytes", m.Size())
	}

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Field", "Value"})
	tw.SetAutoWrapText(false)
	tw.AppendBulk([][]string{
		{"Config", m.ConfigPath()},
		{"Path", m.Path()},
		{"Type", orDash(m.Type())},
		{"Size", fmt.Sprint(m.Size())},
		{"Info", fmt.Sprintf("%08X", m.Info())},
		{"CRC", fmt.Sprintf("%08X", m.CRC())},
		{"SHA1", fmt.Sprintf("%X", m.SHA1())},
		{"Dimensions", fmt.Sprintf("%dx%d", m.Width(), m.Height())},
		{"Players", fmt.Sprintf("%d in %d teams", m.NumPlayers(), m.NumTeams())},
		{"Slots", fmt.Sprint(len(m.Slots()))},
		{"Game flags", fmt.Sprintf("%08X", m.GameFlags())},
		{"Default HCL", orDash(m.DefaultHCL())},
		{"Map data", data},
	})
	tw.Render()
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
