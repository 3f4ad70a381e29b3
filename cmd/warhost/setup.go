package main

import (
	"context"
	"flag"
	"os"

	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/warhost-project/warhost/internal/config"
)

func newSetupCommand() *ffcli.Command {
	fs := flag.NewFlagSet("setup", flag.ExitOnError)
	configDir := fs.String("config", config.DefaultConfigDir, "Configuration directory")

	return &ffcli.Command{
		Name:       "setup",
		ShortUsage: "warhost setup [flags]",
		ShortHelp:  "Answer a few questions and write the configuration",
		FlagSet:    fs,
		Exec: func(_ context.Context, _ []string) error {
			cfg, err := config.Load(*configDir)
			if err != nil {
				return err
			}
			return config.RunSetupWizard(cfg, os.Stdin, os.Stdout)
		},
	}
}
