package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadCreatesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.GetHost().GamePort != DefaultGamePort {
		t.Fatalf("GamePort = %d", cfg.GetHost().GamePort)
	}
	if _, err := os.Stat(filepath.Join(dir, DefaultConfigFile)); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if r := Validate(cfg); !r.IsValid() {
		t.Fatalf("defaults invalid: %v", r.Errors)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	data := `{"game": {"latency_ms": 150}, "realms": [{"name": "europe", "host_counter_id": 2}]}`
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.GetGame().Latency != 150 {
		t.Fatalf("Latency = %d", cfg.GetGame().Latency)
	}
	if cfg.GetGame().SyncLimit != 50 {
		t.Fatalf("SyncLimit default lost: %d", cfg.GetGame().SyncLimit)
	}
	if realms := cfg.GetRealms(); len(realms) != 1 || realms[0].HostCounterID != 2 {
		t.Fatalf("realms = %+v", realms)
	}
}

func TestValidateRealms(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Realms = []RealmConfig{
		{Name: "a", HostCounterID: 1},
		{Name: "b", HostCounterID: 1},
		{Name: "c", HostCounterID: 16},
	}
	r := Validate(cfg)
	if r.IsValid() {
		t.Fatal("expected errors")
	}
	if len(r.Errors) != 2 {
		t.Fatalf("got %d errors: %v", len(r.Errors), r.Errors)
	}
}

func TestValidateGameBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Game.Latency = 5
	cfg.Game.VoteKickPercentage = 0
	cfg.Download.Allow = 3
	r := Validate(cfg)
	fields := map[string]bool{}
	for _, e := range r.Errors {
		fields[e.Field] = true
	}
	for _, f := range []string{"game.latency_ms", "game.vote_kick_percentage", "download.allow"} {
		if !fields[f] {
			t.Errorf("missing error for %s", f)
		}
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    uint32
		wantErr bool
	}{
		{"1.26", 26, false},
		{"26", 26, false},
		{" 1.28 ", 28, false},
		{"1.x", 0, true},
		{"1.300", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseVersion(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseVersion(%q) = %d, %v", tt.in, got, err)
		}
	}
}

func TestUpdateGameField(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.UpdateGameField("latency_ms", 200); err != nil {
		t.Fatal(err)
	}
	if cfg.GetGame().Latency != 200 {
		t.Fatalf("Latency = %d", cfg.GetGame().Latency)
	}
	if err := cfg.UpdateGameField("nope", 1); err == nil {
		t.Fatal("unknown key accepted")
	}
}

func TestSetupWizard(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SetPath(filepath.Join(t.TempDir(), DefaultConfigFile))

	answers := strings.Join([]string{
		"lan party", // name
		"6200",      // game port
		"",          // reconnect
		"",          // reconnect port
		"1.27",      // version
		"",          // tft
		"",          // lan
		"admin",     // root admins
		"", "", "dota.json",
		"2", "",
		"", "", "secret",
		"",
	}, "\n") + "\n"

	var out bytes.Buffer
	if err := RunSetupWizard(cfg, strings.NewReader(answers), &out); err != nil {
		t.Fatalf("wizard failed: %v\n%s", err, out.String())
	}
	h := cfg.GetHost()
	if h.Name != "lan party" || h.GamePort != 6200 || h.War3Version != "1.27" {
		t.Fatalf("host = %+v", h)
	}
	if cfg.Maps.Default != "dota.json" || cfg.Download.Allow != 2 || cfg.API.Token != "secret" {
		t.Fatalf("unexpected config %+v %+v %+v", cfg.Maps, cfg.Download, cfg.API)
	}
}
