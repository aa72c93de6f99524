package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/IT-Hock/source-rcon-library/internal/util"
)

// handleGetConnections lists the live RCON connections, oldest first.
func (s *Server) handleGetConnections(c *gin.Context) {
	conns := s.backend.Connections()
	authenticated := 0
	for _, info := range conns {
		if info.Authenticated {
			authenticated++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"connections":   conns,
		"total":         len(conns),
		"authenticated": authenticated,
	})
}

// handleGetCommands lists the registered commands.
func (s *Server) handleGetCommands(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"commands": s.backend.Registry().Commands(),
	})
}

// handleGetSystem returns host and process resource usage.
func (s *Server) handleGetSystem(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"system": util.GetSystemInfo(),
		"stats":  util.GetHostStats(),
	})
}
