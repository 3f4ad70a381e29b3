package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/warhost-project/warhost/internal/db"
	"github.com/warhost-project/warhost/internal/server"
)

const maxHistory = 100

// handleLag returns lag screen statistics and active alerts.
func (s *Server) handleLag(c *gin.Context) {
	if s.deps.Lag == nil {
		c.JSON(http.StatusOK, gin.H{"games": []server.GameLagData{}, "alerts": []server.LagAlert{}})
		return
	}
	alerts := s.deps.Lag.CheckThresholds()
	if alerts == nil {
		alerts = []server.LagAlert{}
	}
	c.JSON(http.StatusOK, gin.H{
		"games":  s.deps.Lag.AllGameData(),
		"alerts": alerts,
	})
}

// handleHistory returns the newest finished games.
func (s *Server) handleHistory(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	if limit > maxHistory {
		limit = maxHistory
	}
	games, err := s.deps.Store.RecentGames(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if games == nil {
		games = []db.GameRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"games": games, "total": len(games)})
}

// handleStats returns a player's game and DotA summaries.
func (s *Server) handleStats(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	name := c.Param("name")
	summary, err := s.deps.Store.PlayerSummary(name)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no games recorded", "name": name})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"player": summary}
	if dota, err := s.deps.Store.DotASummary(name); err == nil {
		resp["dota"] = dota
	}
	c.JSON(http.StatusOK, resp)
}
