package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/warhost-project/warhost/internal/db"
	"github.com/warhost-project/warhost/internal/events"
	"github.com/warhost-project/warhost/internal/server"
)

// controlStatus maps host control errors to HTTP status codes.
func controlStatus(err error) int {
	switch {
	case errors.Is(err, server.ErrGameNotFound):
		return http.StatusNotFound
	case errors.Is(err, server.ErrTooManyGames):
		return http.StatusConflict
	case errors.Is(err, server.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

// handleCreateGame hosts a new game.
func (s *Server) handleCreateGame(c *gin.Context) {
	var req server.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "game name is required"})
		return
	}
	if req.Creator == "" {
		req.Creator = "api"
	}

	hc, err := s.deps.Control.CreateGame(c.Request.Context(), req)
	if err != nil {
		log.Warn().Err(err).Str("game", req.Name).Msg("API: failed to create game")
		c.JSON(controlStatus(err), gin.H{"error": err.Error()})
		return
	}

	log.Info().Str("game", req.Name).Uint32("host_counter", hc).Msg("API: game created")
	c.JSON(http.StatusCreated, gin.H{
		"status":       "created",
		"host_counter": hc,
	})
}

// handleUnhost closes a game.
func (s *Server) handleUnhost(c *gin.Context) {
	hc, ok := parseHostCounter(c)
	if !ok {
		return
	}
	if err := s.deps.Control.Unhost(c.Request.Context(), hc); err != nil {
		c.JSON(controlStatus(err), gin.H{"error": err.Error(), "host_counter": hc})
		return
	}
	log.Info().Uint32("host_counter", hc).Msg("API: game unhosted")
	c.JSON(http.StatusOK, gin.H{"status": "unhosted", "host_counter": hc})
}

type commandRequest struct {
	Text string `json:"text" binding:"required"`
}

// handleCommand runs a chat command in a game as the host.
func (s *Server) handleCommand(c *gin.Context) {
	hc, ok := parseHostCounter(c)
	if !ok {
		return
	}
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.deps.Control.Command(c.Request.Context(), hc, req.Text); err != nil {
		c.JSON(controlStatus(err), gin.H{"error": err.Error()})
		return
	}
	log.Info().Uint32("host_counter", hc).Str("command", req.Text).Msg("API: command run")
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type sayRequest struct {
	HostCounter uint32 `json:"host_counter"`
	Message     string `json:"message" binding:"required"`
}

// handleSay sends a message to one game, or to all of them when
// host_counter is zero.
func (s *Server) handleSay(c *gin.Context) {
	var req sayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.deps.Control.Say(c.Request.Context(), req.HostCounter, req.Message); err != nil {
		c.JSON(controlStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

// handleGetBans lists bans of ?server=, every realm when it is "*".
func (s *Server) handleGetBans(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	bans, err := s.deps.Store.Bans(c.DefaultQuery("server", "*"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if bans == nil {
		bans = []db.Ban{}
	}
	c.JSON(http.StatusOK, gin.H{"bans": bans, "total": len(bans)})
}

type banRequest struct {
	Server   string `json:"server"`
	Name     string `json:"name" binding:"required"`
	Reason   string `json:"reason"`
	Hours    int    `json:"hours"` // 0: permanent
	Admin    string `json:"admin"`
	GameName string `json:"game_name"`
}

// handleAddBan bans a name on a realm.
func (s *Server) handleAddBan(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	var req banRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ban := db.Ban{
		Server:   req.Server,
		Name:     req.Name,
		GameName: req.GameName,
		Admin:    req.Admin,
		Reason:   req.Reason,
	}
	if ban.Admin == "" {
		ban.Admin = "api"
	}
	if req.Hours > 0 {
		ban.ExpiresAt = time.Now().Add(time.Duration(req.Hours) * time.Hour)
	}
	if err := s.deps.Store.AddBan(ban); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.eventBus.Emit(c.Request.Context(), events.Event{
		Type:   events.EventPlayerBanned,
		Source: "api",
		Payload: events.PlayerPayload{
			GameName: req.GameName,
			Name:     req.Name,
			Realm:    req.Server,
			Reason:   req.Reason,
		},
	})
	log.Info().Str("name", req.Name).Str("server", req.Server).Msg("API: player banned")
	c.JSON(http.StatusCreated, gin.H{"status": "banned", "name": req.Name})
}

// handleRemoveBan lifts the ban of ?name= on ?server=.
func (s *Server) handleRemoveBan(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	err := s.deps.Store.RemoveBan(c.Query("server"), name)
	switch {
	case errors.Is(err, db.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "ban not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		log.Info().Str("name", name).Msg("API: ban removed")
		c.JSON(http.StatusOK, gin.H{"status": "unbanned", "name": name})
	}
}

func (s *Server) requireStore(c *gin.Context) bool {
	if s.deps.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database unavailable"})
		return false
	}
	return true
}
