package main

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/peterbourgon/ff/v3/ffcli"
)

// version is set at link time with -ldflags "-X main.version=...".
var version = "dev"

const shortCommitLen = 7

type buildInfo struct {
	Version  string
	Commit   string
	Modified bool
	GoVer    string
}

func getBuildInfo() buildInfo {
	info := buildInfo{Version: version}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	info.GoVer = bi.GoVersion
	for _, setting := range bi.Settings {
		switch setting.Key {
		case "vcs.revision":
			info.Commit = setting.Value
			if len(info.Commit) > shortCommitLen {
				info.Commit = info.Commit[:shortCommitLen]
			}
		case "vcs.modified":
			info.Modified = setting.Value == "true"
		}
	}
	return info
}

func (i buildInfo) String() string {
	if i.Commit == "" {
		return i.Version
	}
	s := i.Version + "+" + i.Commit
	if i.Modified {
		s += "-dirty"
	}
	return s
}

func newVersionCommand() *ffcli.Command {
	return &ffcli.Command{
		Name:       "version",
		ShortUsage: "warhost version",
		ShortHelp:  "Print version information",
		Exec: func(_ context.Context, _ []string) error {
			v := getBuildInfo()
			fmt.Printf("warhost %s\n", v)
			if v.GoVer != "" {
				fmt.Printf("  go: %s\n", v.GoVer)
			}
			return nil
		},
	}
}
