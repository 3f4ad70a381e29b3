// Package events defines the events hosted games publish and the bus that
// carries them to telemetry, notifications and persistence.
package events

import "time"

// EventType names an event published on the EventBus.
type EventType string

const (
	// Game lifecycle
	EventGameCreated    EventType = "game_created"
	EventGameStarted    EventType = "game_started" // countdown finished, loading
	EventGameLoaded     EventType = "game_loaded"
	EventGameOver       EventType = "game_over"
	EventGameDeleted    EventType = "game_deleted"
	EventLobbyAbandoned EventType = "lobby_abandoned"
	EventSlotsChanged   EventType = "slots_changed"

	// Players
	EventPlayerJoined      EventType = "player_joined"
	EventPlayerLeft        EventType = "player_left"
	EventPlayerReconnected EventType = "player_reconnected"
	EventPlayerKicked      EventType = "player_kicked"
	EventPlayerBanned      EventType = "player_banned"

	// In game
	EventChat     EventType = "chat"
	EventLagStart EventType = "lag_start"
	EventLagStop  EventType = "lag_stop"
	EventDesync   EventType = "desync"

	// Realm
	EventRealmChat EventType = "realm_chat"

	// Notifications and system
	EventNotify        EventType = "notify"
	EventHeartbeat     EventType = "heartbeat"
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// GamePhase is the phase of a hosted game. Exactly one holds at a time.
type GamePhase int

const (
	PhaseLobby GamePhase = iota
	PhaseLoading
	PhaseRunning
	PhaseOver
)

var gamePhaseStrings = map[GamePhase]string{
	PhaseLobby:   "lobby",
	PhaseLoading: "loading",
	PhaseRunning: "running",
	PhaseOver:    "over",
}

// String returns the string representation of GamePhase.
func (p GamePhase) String() string {
	if str, ok := gamePhaseStrings[p]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes GamePhase as a JSON string (e.g. "lobby").
func (p GamePhase) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string // game name or component
	Time    time.Time
	Payload interface{}
}

// GamePayload describes a game at a lifecycle transition.
type GamePayload struct {
	GameName    string    `json:"game_name"`
	HostCounter uint32    `json:"host_counter"`
	MapPath     string    `json:"map_path"`
	Owner       string    `json:"owner"`
	Phase       GamePhase `json:"phase"`
	Players     []string  `json:"players"`
	SlotsOpen   int       `json:"slots_open"`
	SlotsTotal  int       `json:"slots_total"`
}

// PlayerPayload describes a player joining, leaving or being kicked.
type PlayerPayload struct {
	GameName    string `json:"game_name"`
	HostCounter uint32 `json:"host_counter"`
	Name        string `json:"name"`
	PID         uint8  `json:"pid"`
	Realm       string `json:"realm"`
	IP          string `json:"ip,omitempty"`
	Reason      string `json:"reason,omitempty"`
	LeftCode    uint32 `json:"left_code,omitempty"`
	GProxy      bool   `json:"gproxy"`
}

// ChatPayload is a chat line inside a game or sent to a realm.
type ChatPayload struct {
	GameName  string `json:"game_name"`
	Realm     string `json:"realm,omitempty"`
	From      string `json:"from"`
	To        string `json:"to,omitempty"` // whisper target
	Message   string `json:"message"`
	InGame    bool   `json:"in_game"`
	Audience  string `json:"audience,omitempty"` // all, allies, observers
	IsCommand bool   `json:"is_command"`
}

// LagPayload lists the players on the lag screen.
type LagPayload struct {
	GameName string        `json:"game_name"`
	Players  []string      `json:"players"`
	Duration time.Duration `json:"duration"`
	Dropped  bool          `json:"dropped"`
}

// DesyncPayload reports mismatching keepalive checksums.
type DesyncPayload struct {
	GameName  string            `json:"game_name"`
	Checksums map[string]uint32 `json:"checksums"`
}

// PlayerSummary is one player's result in a GameOverPayload.
type PlayerSummary struct {
	Name     string `json:"name"`
	Team     uint8  `json:"team"`
	Colour   uint8  `json:"colour"`
	Left     string `json:"left"`
	LeftCode uint32 `json:"left_code"`
}

// GameOverPayload summarises a finished game.
type GameOverPayload struct {
	GameName    string          `json:"game_name"`
	HostCounter uint32          `json:"host_counter"`
	MapPath     string          `json:"map_path"`
	Duration    time.Duration   `json:"duration"`
	Winner      int             `json:"winner"` // 0 unknown, 1 sentinel, 2 scourge
	Players     []PlayerSummary `json:"players"`
}

// NotifyPayload is a human readable notification for the webhook.
type NotifyPayload struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Level   string `json:"level"` // "info", "warning", "error"
}

// HeartbeatPayload is the periodic host status.
type HeartbeatPayload struct {
	Lobbies       int     `json:"lobbies"`
	Running       int     `json:"running"`
	Players       int     `json:"players"`
	GamesHosted   int     `json:"games_hosted"`
	Reconnects    int     `json:"reconnects"`
	RejectedJoins int     `json:"rejected_joins"`
	UptimeSec     int64   `json:"uptime_sec"`
	DiskUsedPct   float64 `json:"disk_used_percent,omitempty"`
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string      `json:"section"`
	Key     string      `json:"key"`
	Value   interface{} `json:"value"`
}
