package game

import (
	"time"

	"github.com/warhost-project/warhost/internal/events"
	"github.com/warhost-project/warhost/internal/slot"
)

// Snapshot is a read-only copy of a game's state, safe to hand to other
// goroutines.
type Snapshot struct {
	Name         string           `json:"name"`
	HostCounter  uint32           `json:"host_counter"`
	Map          string           `json:"map"`
	Owner        string           `json:"owner"`
	Creator      string           `json:"creator,omitempty"`
	Realm        string           `json:"realm,omitempty"`
	Private      bool             `json:"private"`
	Phase        events.GamePhase `json:"phase"`
	Locked       bool             `json:"locked"`
	Lagging      bool             `json:"lagging"`
	Desynced     bool             `json:"desynced"`
	HCL          string           `json:"hcl,omitempty"`
	Latency      time.Duration    `json:"latency"`
	SyncLimit    uint32           `json:"sync_limit"`
	CreatedAt    time.Time        `json:"created_at"`
	Duration     time.Duration    `json:"duration"`
	StartPlayers int              `json:"start_players"`
	SlotsOpen    int              `json:"slots_open"`
	Slots        []slot.Slot      `json:"slots"`
	Players      []PlayerSnapshot `json:"players"`
}

// PlayerSnapshot describes one player of a Snapshot.
type PlayerSnapshot struct {
	PID        byte   `json:"pid"`
	Name       string `json:"name"`
	Realm      string `json:"realm,omitempty"`
	IP         string `json:"ip,omitempty"`
	Ping       uint32 `json:"ping"`
	Spoofed    bool   `json:"spoofed"`
	Reserved   bool   `json:"reserved"`
	Muted      bool   `json:"muted"`
	GProxy     bool   `json:"gproxy"`
	Lagging    bool   `json:"lagging"`
	Loaded     bool   `json:"loaded"`
	Downloaded byte   `json:"downloaded"`
}

// Snapshot copies the game's current state.
func (g *Game) Snapshot() Snapshot {
	s := Snapshot{
		Name:         g.name,
		HostCounter:  g.hostCounter,
		Map:          g.m.Path(),
		Owner:        g.owner,
		Creator:      g.creator,
		Realm:        g.realm,
		Private:      g.private,
		Phase:        g.Phase(),
		Locked:       g.locked,
		Lagging:      g.lagging,
		Desynced:     g.desynced,
		HCL:          g.hcl,
		Latency:      g.latency,
		SyncLimit:    g.syncLimit,
		CreatedAt:    g.createdAt,
		Duration:     g.duration(g.tick),
		StartPlayers: g.startPlayers,
		SlotsOpen:    g.slotsOpen(),
		Slots:        g.Slots(),
	}
	for _, p := range g.Players() {
		ps := PlayerSnapshot{
			PID:        p.pid,
			Name:       p.name,
			Realm:      p.joinedRealm,
			Ping:       p.Ping(g.cfg.LCPings),
			Spoofed:    p.spoofed,
			Reserved:   p.reserved,
			Muted:      p.muted,
			GProxy:     p.gproxy,
			Lagging:    p.lagging,
			Loaded:     p.finishedLoading,
			Downloaded: slot.DownloadUnknown,
		}
		if !g.cfg.HideIPs {
			ps.IP = p.externalIP.String()
		}
		if sid := g.sidFromPID(p.pid); sid >= 0 {
			ps.Downloaded = g.slots[sid].DownloadStatus
		}
		s.Players = append(s.Players, ps)
	}
	return s
}
