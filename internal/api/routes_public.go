package api

import (
	"net/http"
	"runtime"

	"github.com/gin-gonic/gin"

	"github.com/IT-Hock/source-rcon-library/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "rcon",
		"version": util.Version,
	})
}

func (s *Server) handleGetVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":    util.Version,
		"go_version": runtime.Version(),
		"platform":   util.GetPlatform(),
	})
}
