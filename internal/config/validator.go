package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate checks the whole configuration.
func Validate(cfg *Config) *ValidationResult {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	result := &ValidationResult{}
	validateHost(&cfg.Host, result)
	validateGame(&cfg.Game, result)
	validateDownload(&cfg.Download, result)
	validateRealms(cfg.Realms, result)
	validateServices(cfg, result)
	return result
}

func validateHost(h *HostConfig, result *ValidationResult) {
	validatePort(h.GamePort, "host.game_port", result)
	if h.Reconnect {
		validatePort(h.ReconnectPort, "host.reconnect_port", result)
		if h.ReconnectPort == h.GamePort {
			result.AddError("host.reconnect_port", "reconnect port must differ from the game port")
		}
	}
	if h.LANBroadcast {
		validatePort(h.LANPort, "host.lan_port", result)
	}
	if _, err := ParseVersion(h.War3Version); err != nil {
		result.AddError("host.war3_version", err.Error())
	}
	if h.ExternalIP != "" && net.ParseIP(h.ExternalIP).To4() == nil {
		result.AddError("host.external_ip", fmt.Sprintf("not an IPv4 address: %s", h.ExternalIP))
	}
	if len(h.CommandTrigger) != 1 {
		result.AddError("host.command_trigger", "command trigger must be a single character")
	}
	if strings.TrimSpace(h.VirtualHostName) == "" || len(h.VirtualHostName) > 15+10 {
		result.AddWarning("host.virtual_host_name", "virtual host name is empty or long")
	}
	if h.HostCounterStart == 0 || h.HostCounterStart >= 1<<28 {
		result.AddError("host.host_counter_start", "host counter must be between 1 and 2^28-1")
	}
	if h.MaxGames < 1 {
		result.AddError("host.max_games", "must allow at least 1 game")
	}
	if h.AcceptRate < 1 {
		result.AddWarning("host.accept_rate_per_sec", "accept rate limiting is disabled")
	}
}

func validateGame(g *GameConfig, result *ValidationResult) {
	if g.Latency < 10 || g.Latency > 500 {
		result.AddError("game.latency_ms", fmt.Sprintf("latency %d out of range 10-500", g.Latency))
	}
	if g.SyncLimit < 10 || g.SyncLimit > 10000 {
		result.AddError("game.sync_limit", fmt.Sprintf("sync limit %d out of range 10-10000", g.SyncLimit))
	}
	if g.VoteKickPercentage < 1 || g.VoteKickPercentage > 100 {
		result.AddError("game.vote_kick_percentage", "percentage must be 1-100")
	}
	if g.AutoStartPlayers < 0 || g.AutoStartPlayers > 12 {
		result.AddError("game.auto_start_players", "must be 0-12")
	}
	if g.GProxyEmptyActions < 0 || g.GProxyEmptyActions > 9 {
		result.AddError("game.gproxy_empty_actions", "must be 0-9")
	}
	if g.LobbyTimeLimit == 0 {
		result.AddWarning("game.lobby_time_limit_min", "abandoned lobbies are never closed")
	}
	if g.GameOverGrace < 0 {
		result.AddError("game.game_over_grace_sec", "must not be negative")
	}
	if g.ReplayBufferLimit < 100 {
		result.AddWarning("game.replay_buffer_limit", "a small replay buffer makes reconnects fail")
	}
}

func validateDownload(d *DownloadConfig, result *ValidationResult) {
	if d.Allow < DownloadNever || d.Allow > DownloadPermission {
		result.AddError("download.allow", "must be 0, 1 or 2")
	}
	if d.MaxDownloaders < 0 {
		result.AddError("download.max_downloaders", "must not be negative")
	}
	if d.MaxSpeed < 1 {
		result.AddError("download.max_speed_kbps", "must be at least 1")
	}
}

func validateRealms(realms []RealmConfig, result *ValidationResult) {
	ids := make(map[uint8]string)
	names := make(map[string]bool)
	for i, r := range realms {
		field := fmt.Sprintf("realms[%d]", i)
		if strings.TrimSpace(r.Name) == "" {
			result.AddError(field+".name", "realm name is required")
		}
		if names[strings.ToLower(r.Name)] {
			result.AddError(field+".name", fmt.Sprintf("duplicate realm %s", r.Name))
		}
		names[strings.ToLower(r.Name)] = true
		if r.HostCounterID < 1 || r.HostCounterID > 15 {
			result.AddError(field+".host_counter_id", "must be 1-15")
		}
		if other, ok := ids[r.HostCounterID]; ok {
			result.AddError(field+".host_counter_id", fmt.Sprintf("id %d already used by %s", r.HostCounterID, other))
		}
		ids[r.HostCounterID] = r.Name
	}
}

func validateServices(cfg *Config, result *ValidationResult) {
	if cfg.API.Enabled {
		validatePort(cfg.API.Port, "api.port", result)
		if cfg.API.Token == "" {
			result.AddWarning("api.token", "no API token, control routes are disabled")
		}
		if cfg.API.RateLimitRPS < 1 {
			result.AddWarning("api.rate_limit_rps", "rate limit is disabled (0 RPS), this may expose the API to abuse")
		}
	}
	if cfg.MQTT.Enabled {
		if strings.TrimSpace(cfg.MQTT.BrokerURL) == "" {
			result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if cfg.MQTT.Port < 1 || cfg.MQTT.Port > 65535 {
			result.AddError("mqtt.port", "invalid MQTT port")
		}
	}
	if cfg.Webhook.URL != "" && !strings.HasPrefix(cfg.Webhook.URL, "https://") {
		result.AddWarning("webhook.url", "webhook URL is not https")
	}
	if strings.TrimSpace(cfg.Database.Path) == "" {
		result.AddError("database.path", "database path is required")
	}
	if cfg.Health.DiskWarnPercent < 0 || cfg.Health.DiskWarnPercent > 100 {
		result.AddError("health.disk_warn_percent", "must be between 0 and 100")
	}
	if cfg.Health.HeartbeatIntervalSec < 0 || cfg.Health.DiskCheckIntervalSec < 0 ||
		cfg.Health.LagCheckIntervalSec < 0 || cfg.Health.StallTimeoutSec < 0 {
		result.AddError("health", "intervals cannot be negative")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field, fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}
