package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/warhost-project/warhost/internal/config"
	"github.com/warhost-project/warhost/internal/events"
)

// handleGetConfig returns the configuration without credentials.
func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"host":     s.cfg.GetHost(),
		"game":     s.cfg.GetGame(),
		"download": s.cfg.GetDownload(),
		"realms":   s.cfg.GetRealms(),
	})
}

type gameFieldRequest struct {
	Key   string      `json:"key" binding:"required"`
	Value interface{} `json:"value"`
}

// handleSetGameField changes one game setting. Games hosted afterwards use
// the new value.
func (s *Server) handleSetGameField(c *gin.Context) {
	var req gameFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	prev := s.cfg.GetGame()
	if err := s.cfg.UpdateGameField(req.Key, req.Value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var problems []string
	for _, e := range config.Validate(s.cfg).Errors {
		if strings.HasPrefix(e.Field, "game.") {
			problems = append(problems, e.Error())
		}
	}
	if len(problems) > 0 {
		s.cfg.SetGame(prev)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid game setting", "details": problems})
		return
	}

	if s.cfg.Path() != "" {
		if err := s.cfg.Save(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
			return
		}
	}

	s.eventBus.Emit(c.Request.Context(), events.Event{
		Type:   events.EventConfigChanged,
		Source: "api",
		Payload: events.ConfigChangedPayload{
			Section: "game",
			Key:     req.Key,
			Value:   req.Value,
		},
	})
	log.Info().Str("key", req.Key).Interface("value", req.Value).Msg("API: game setting updated")

	c.JSON(http.StatusOK, gin.H{"status": "updated", "game": s.cfg.GetGame()})
}
