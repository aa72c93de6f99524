package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/IT-Hock/source-rcon-library/internal/config"
)

// handleGetServerConfig returns the RCON server settings, without the
// password, plus any validation findings.
func (s *Server) handleGetServerConfig(c *gin.Context) {
	cfg := s.backend.Config()
	if cfg.Password != "" {
		cfg.Password = "********"
	}
	result := &config.ValidationResult{}
	config.ValidateServer(s.backend.Config(), result)

	c.JSON(http.StatusOK, gin.H{
		"server":   cfg,
		"valid":    result.IsValid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}
