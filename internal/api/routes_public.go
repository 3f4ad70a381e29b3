package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/warhost-project/warhost/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "warhost",
		"version": s.deps.Version,
	})
}

// handleInfo returns host counters and machine information.
func (s *Server) handleInfo(c *gin.Context) {
	hostCfg := s.cfg.GetHost()
	c.JSON(http.StatusOK, gin.H{
		"name":           hostCfg.Name,
		"version":        s.deps.Version,
		"war3_version":   hostCfg.War3Version,
		"tft":            hostCfg.TFT,
		"game_port":      hostCfg.GamePort,
		"reconnect":      hostCfg.Reconnect,
		"reconnect_port": hostCfg.ReconnectPort,
		"summary":        s.deps.Games.Summary(),
		"system":         util.GetSystemInfo(),
	})
}

// handleGames lists hosted games, optionally filtered by ?phase=.
func (s *Server) handleGames(c *gin.Context) {
	phase := strings.ToLower(c.Query("phase"))
	games := s.deps.Games.Games()
	if phase != "" {
		filtered := games[:0]
		for _, g := range games {
			if g.Phase.String() == phase {
				filtered = append(filtered, g)
			}
		}
		games = filtered
	}
	c.JSON(http.StatusOK, gin.H{
		"games": games,
		"total": len(games),
	})
}

// handleGame returns one game by host counter.
func (s *Server) handleGame(c *gin.Context) {
	hc, ok := parseHostCounter(c)
	if !ok {
		return
	}
	g, found := s.deps.Games.Game(hc)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "game not found", "host_counter": hc})
		return
	}
	c.JSON(http.StatusOK, g)
}

type playerEntry struct {
	Game        string `json:"game"`
	HostCounter uint32 `json:"host_counter"`
	Name        string `json:"name"`
	Realm       string `json:"realm,omitempty"`
	Ping        uint32 `json:"ping"`
	GProxy      bool   `json:"gproxy"`
}

// handlePlayers lists every player across all games.
func (s *Server) handlePlayers(c *gin.Context) {
	players := make([]playerEntry, 0)
	for _, g := range s.deps.Games.Games() {
		for _, p := range g.Players {
			players = append(players, playerEntry{
				Game:        g.Name,
				HostCounter: g.HostCounter,
				Name:        p.Name,
				Realm:       p.Realm,
				Ping:        p.Ping,
				GProxy:      p.GProxy,
			})
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"players": players,
		"total":   len(players),
	})
}

func parseHostCounter(c *gin.Context) (uint32, bool) {
	v, err := strconv.ParseUint(c.Param("hc"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid host counter"})
		return 0, false
	}
	return uint32(v), true
}
