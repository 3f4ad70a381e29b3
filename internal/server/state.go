// Package server runs the host: the reactor goroutine that owns every game,
// the listeners feeding it connections, and the published state the API and
// CLI read.
package server

import (
	"sort"
	"sync"
	"time"

	"github.com/warhost-project/warhost/internal/events"
	"github.com/warhost-project/warhost/internal/game"
)

// State is the last snapshot of every hosted game. The reactor publishes it
// once per tick; readers on other goroutines get copies.
type State struct {
	mu sync.RWMutex

	games     []game.Snapshot
	lobbies   [][]byte // raw LAN GameInfo of the public lobbies
	pending   int
	updatedAt time.Time

	// Totals since start
	hosted     int
	finished   int
	reconnects int
	rejected   int
	startedAt  time.Time
}

// NewState creates an empty state.
func NewState(now time.Time) *State {
	return &State{startedAt: now}
}

func (s *State) publish(games []game.Snapshot, lobbies [][]byte, pending int, now time.Time) {
	sort.Slice(games, func(i, j int) bool { return games[i].HostCounter < games[j].HostCounter })
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games = games
	s.lobbies = lobbies
	s.pending = pending
	s.updatedAt = now
}

func (s *State) count(hosted, finished, reconnects, rejected int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosted += hosted
	s.finished += finished
	s.reconnects += reconnects
	s.rejected += rejected
}

// Games returns every hosted game ordered by host counter.
func (s *State) Games() []game.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]game.Snapshot, len(s.games))
	copy(out, s.games)
	return out
}

// Game returns the game with the given host counter.
func (s *State) Game(hostCounter uint32) (game.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.games {
		if g.HostCounter == hostCounter {
			return g, true
		}
	}
	return game.Snapshot{}, false
}

// Lobbies returns the LAN GameInfo packets of the public lobbies.
func (s *State) Lobbies() [][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([][]byte, len(s.lobbies))
	copy(out, s.lobbies)
	return out
}

// Summary is an overview of the host for the API and telemetry.
type Summary struct {
	Lobbies       int       `json:"lobbies"`
	Running       int       `json:"running"`
	Players       int       `json:"players"`
	PendingJoins  int       `json:"pending_joins"`
	GamesHosted   int       `json:"games_hosted"`
	GamesFinished int       `json:"games_finished"`
	Reconnects    int       `json:"reconnects"`
	RejectedJoins int       `json:"rejected_joins"`
	StartedAt     time.Time `json:"started_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Summary counts the current games and players.
func (s *State) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := Summary{
		PendingJoins:  s.pending,
		GamesHosted:   s.hosted,
		GamesFinished: s.finished,
		Reconnects:    s.reconnects,
		RejectedJoins: s.rejected,
		StartedAt:     s.startedAt,
		UpdatedAt:     s.updatedAt,
	}
	for _, g := range s.games {
		if g.Phase == events.PhaseLobby {
			sum.Lobbies++
		} else {
			sum.Running++
		}
		sum.Players += len(g.Players)
	}
	return sum
}
