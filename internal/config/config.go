// Package config handles configuration loading, validation, and persistence
// for the warhost game host.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/warhost-project/warhost/internal/util"
)

const (
	DefaultConfigDir     = "config"
	DefaultConfigFile    = "warhost.json"
	DefaultGamePort      = 6112
	DefaultReconnectPort = 6113
	DefaultAPIPort       = 5000
	DefaultWar3Version   = "1.26"
)

// Download modes.
const (
	DownloadNever      = 0
	DownloadAuto       = 1
	DownloadPermission = 2
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Host      HostConfig      `json:"host"`
	Game      GameConfig      `json:"game"`
	Download  DownloadConfig  `json:"download"`
	Realms    []RealmConfig   `json:"realms"`
	Maps      MapsConfig      `json:"maps"`
	Database  DatabaseConfig  `json:"database"`
	API       APIConfig       `json:"api"`
	MQTT      MQTTConfig      `json:"mqtt"`
	Webhook   WebhookConfig   `json:"webhook"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Health    HealthConfig    `json:"health"`
	Logging   util.LogConfig  `json:"logging"`
}

// HostConfig holds the listener and identity settings.
type HostConfig struct {
	Name             string `json:"name"`
	BindAddress      string `json:"bind_address"`
	ExternalIP       string `json:"external_ip"`
	GamePort         int    `json:"game_port"`
	ReconnectPort    int    `json:"reconnect_port"`
	Reconnect        bool   `json:"reconnect"`
	LANBroadcast     bool   `json:"lan_broadcast"`
	LANPort          int    `json:"lan_port"`
	War3Version      string `json:"war3_version"`
	TFT              bool   `json:"tft"`
	VirtualHostName  string `json:"virtual_host_name"`
	CommandTrigger   string `json:"command_trigger"`
	HostCounterStart uint32 `json:"host_counter_start"`
	MaxGames         int    `json:"max_games"`
	AcceptRate       int    `json:"accept_rate_per_sec"`
	RootAdmins       string `json:"root_admins"`
}

// GameConfig holds the per-game behaviour settings.
type GameConfig struct {
	Latency             int    `json:"latency_ms"`
	SyncLimit           int    `json:"sync_limit"`
	AutoLock            bool   `json:"auto_lock"`
	VoteKickAllowed     bool   `json:"vote_kick_allowed"`
	VoteKickPercentage  int    `json:"vote_kick_percentage"`
	LobbyTimeLimit      int    `json:"lobby_time_limit_min"`
	AutoKickPing        int    `json:"auto_kick_ping"`
	LCPings             bool   `json:"lc_pings"`
	AutoStartPlayers    int    `json:"auto_start_players"`
	GameOverGrace       int    `json:"game_over_grace_sec"`
	GProxyEmptyActions  int    `json:"gproxy_empty_actions"`
	HideIPs             bool   `json:"hide_ips"`
	ReserveAdmins       bool   `json:"reserve_admins"`
	BanMethod           int    `json:"ban_method"`
	ReplayBufferLimit   int    `json:"replay_buffer_limit"`
	PingDuringDownloads bool   `json:"ping_during_downloads"`
	MuteAllOnStart      bool   `json:"mute_all_on_start"`
	SpoofCheckLAN       bool   `json:"spoof_check_lan"`
	WelcomeMessage      string `json:"welcome_message"`
}

// DownloadConfig holds the map transfer policy.
type DownloadConfig struct {
	Allow          int `json:"allow"` // 0 never, 1 automatic, 2 with permission
	MaxDownloaders int `json:"max_downloaders"`
	MaxSpeed       int `json:"max_speed_kbps"`
}

// RealmConfig describes a realm games are advertised on. HostCounterID is
// the top nibble of the host counter joins from this realm carry.
type RealmConfig struct {
	Name           string   `json:"name"`
	Server         string   `json:"server"`
	HostCounterID  uint8    `json:"host_counter_id"`
	CommandTrigger string   `json:"command_trigger"`
	Admins         []string `json:"admins"`
	RootAdmins     []string `json:"root_admins"`
}

// MapsConfig holds map file locations.
type MapsConfig struct {
	Directory       string `json:"directory"`
	ConfigDirectory string `json:"config_directory"`
	Default         string `json:"default"`
}

// DatabaseConfig holds the sqlite settings.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// APIConfig holds the REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	BindAddress    string   `json:"bind_address"`
	Port           int      `json:"port"`
	Token          string   `json:"token"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// WebhookConfig holds the chat webhook notifier settings.
type WebhookConfig struct {
	URL             string `json:"url"`
	NotifyDesync    bool   `json:"notify_desync"`
	NotifyGameOver  bool   `json:"notify_game_over"`
	NotifyAbandoned bool   `json:"notify_abandoned"`
}

// SchedulerConfig holds the maintenance job intervals.
type SchedulerConfig struct {
	BanPruneIntervalMin int `json:"ban_prune_interval_min"`
	GameRetentionDays   int `json:"game_retention_days"`
}

// HealthConfig holds the watchdog intervals. An interval of 0 disables
// that check.
type HealthConfig struct {
	HeartbeatIntervalSec int     `json:"heartbeat_interval_sec"`
	DiskCheckIntervalSec int     `json:"disk_check_interval_sec"`
	DiskWarnPercent      float64 `json:"disk_warn_percent"`
	LagCheckIntervalSec  int     `json:"lag_check_interval_sec"`
	StallTimeoutSec      int     `json:"stall_timeout_sec"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Host: HostConfig{
			Name:             "warhost",
			BindAddress:      "0.0.0.0",
			GamePort:         DefaultGamePort,
			ReconnectPort:    DefaultReconnectPort,
			Reconnect:        true,
			LANBroadcast:     true,
			LANPort:          6112,
			War3Version:      DefaultWar3Version,
			TFT:              true,
			VirtualHostName:  "|cFF4080C0warhost",
			CommandTrigger:   "!",
			HostCounterStart: 1,
			MaxGames:         5,
			AcceptRate:       5,
		},
		Game: GameConfig{
			Latency:            100,
			SyncLimit:          50,
			AutoLock:           false,
			VoteKickAllowed:    true,
			VoteKickPercentage: 100,
			LobbyTimeLimit:     10,
			AutoKickPing:       400,
			LCPings:            true,
			GameOverGrace:      60,
			GProxyEmptyActions: 0,
			HideIPs:            false,
			ReserveAdmins:      true,
			BanMethod:          1,
			ReplayBufferLimit:  20000,
			SpoofCheckLAN:      true,
		},
		Download: DownloadConfig{
			Allow:          DownloadAuto,
			MaxDownloaders: 3,
			MaxSpeed:       100,
		},
		Maps: MapsConfig{
			Directory:       "maps",
			ConfigDirectory: "mapcfgs",
		},
		Database: DatabaseConfig{
			Path: filepath.Join("data", "warhost.db"),
		},
		API: APIConfig{
			Enabled:      true,
			BindAddress:  "127.0.0.1",
			Port:         DefaultAPIPort,
			RateLimitRPS: 20,
		},
		MQTT: MQTTConfig{
			Port:        1883,
			TopicPrefix: "warhost",
		},
		Scheduler: SchedulerConfig{
			BanPruneIntervalMin: 60,
			GameRetentionDays:   90,
		},
		Health: HealthConfig{
			HeartbeatIntervalSec: 60,
			DiskCheckIntervalSec: 600,
			DiskWarnPercent:      90,
			LagCheckIntervalSec:  60,
			StallTimeoutSec:      10,
		},
		Logging: util.DefaultLogConfig(),
	}
}

// Load reads configuration from the JSON file in configDir, writing the
// defaults when it does not exist yet.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}
	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so new fields show up in the file.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}
	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		return fmt.Errorf("config has no path")
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetHost returns a copy of the host section.
func (c *Config) GetHost() HostConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Host
}

// GetGame returns a copy of the game section.
func (c *Config) GetGame() GameConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Game
}

// GetDownload returns a copy of the download section.
func (c *Config) GetDownload() DownloadConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Download
}

// GetRealms returns a copy of the realm list.
func (c *Config) GetRealms() []RealmConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]RealmConfig, len(c.Realms))
	copy(out, c.Realms)
	return out
}

// SetGame replaces the game section. Games hosted afterwards use it.
func (c *Config) SetGame(g GameConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Game = g
}

// UpdateGameField sets one field of the game section by its JSON key.
func (c *Config) UpdateGameField(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, _ := json.Marshal(c.Game)
	m := make(map[string]interface{})
	json.Unmarshal(data, &m)
	if _, ok := m[key]; !ok {
		return fmt.Errorf("unknown game setting %q", key)
	}
	m[key] = value

	updated, _ := json.Marshal(m)
	var g GameConfig
	if err := json.Unmarshal(updated, &g); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	c.Game = g
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// SetPath sets the file Save writes to.
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// LatencyDuration returns the configured action interval.
func (g GameConfig) LatencyDuration() time.Duration {
	return time.Duration(g.Latency) * time.Millisecond
}

// ParseVersion parses a game version like "1.26" or "26" into its minor
// number.
func ParseVersion(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if after, found := strings.CutPrefix(s, "1."); found {
		s = after
	}
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", s, err)
	}
	return uint32(v), nil
}

// FormatVersion formats a minor version number as "1.XX".
func FormatVersion(v uint32) string {
	return fmt.Sprintf("1.%d", v)
}
