package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/IT-Hock/source-rcon-library/internal/events"
)

type execRequest struct {
	Command string `json:"command" binding:"required"`
}

// handleExec runs a command line through the RCON command registry, with
// the same custom handler fallback RCON connections use.
func (s *Server) handleExec(c *gin.Context) {
	var req execRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Command) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command is required"})
		return
	}

	start := time.Now()
	result, known := s.backend.Registry().Dispatch(req.Command, s.backend.Fallback())
	elapsed := time.Since(start)

	log.Info().
		Str("client_ip", c.ClientIP()).
		Str("command", req.Command).
		Bool("known", known).
		Msg("API: command executed")

	s.eventBus.Emit(c.Request.Context(), events.NewEvent(events.EventCommandExecuted, "api", events.CommandPayload{
		RemoteAddr: c.ClientIP(),
		Command:    req.Command,
		Known:      known,
		Output:     result,
		Duration:   elapsed,
	}))

	c.JSON(http.StatusOK, gin.H{
		"result": result,
		"known":  known,
	})
}

// handleKick closes one RCON connection by id.
func (s *Server) handleKick(c *gin.Context) {
	id := c.Param("id")
	if !s.backend.Kick(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
		return
	}

	log.Info().Str("connection", id).Str("client_ip", c.ClientIP()).Msg("API: connection kicked")
	c.JSON(http.StatusOK, gin.H{"message": "connection closed", "id": id})
}
