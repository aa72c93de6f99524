package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/IT-Hock/source-rcon-library/internal/command"
	"github.com/IT-Hock/source-rcon-library/internal/config"
	"github.com/IT-Hock/source-rcon-library/internal/events"
	intnet "github.com/IT-Hock/source-rcon-library/internal/network"
	"github.com/IT-Hock/source-rcon-library/internal/util"
)

// Backend is the RCON listener state the API exposes.
type Backend interface {
	Connections() []intnet.ConnectionInfo
	Registry() *command.Registry
	Fallback() command.HandlerFunc
	Config() config.ServerConfig
	Kick(id string) bool
}

// Server is the HTTP status and admin API.
type Server struct {
	cfg      config.APIConfig
	backend  Backend
	eventBus *events.EventBus

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server.
func NewServer(cfg config.APIConfig, backend Backend, eventBus *events.EventBus, logLevel string) *Server {
	if logLevel == "debug" || logLevel == "trace" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		backend:  backend,
		eventBus: eventBus,
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the router, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.Addr()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if s.cfg.TLSEnabled {
		cert, err := s.loadCertificate()
		if err != nil {
			return err
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}

	// SO_REUSEADDR for immediate rebinding after restart
	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Bool("tls", s.cfg.TLSEnabled).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if s.httpServer.TLSConfig != nil {
		ln = tls.NewListener(ln, s.httpServer.TLSConfig)
	}
	err = s.httpServer.Serve(ln)
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// loadCertificate loads the configured key pair, or generates a
// self-signed one in the temp directory when none is configured.
func (s *Server) loadCertificate() (tls.Certificate, error) {
	certFile, keyFile := s.cfg.TLSCertFile, s.cfg.TLSKeyFile
	if certFile == "" && keyFile == "" {
		dir := filepath.Join(os.TempDir(), "rcon-api")
		if err := os.MkdirAll(dir, 0700); err != nil {
			return tls.Certificate{}, fmt.Errorf("failed to create certificate directory: %w", err)
		}
		certFile = filepath.Join(dir, "cert.pem")
		keyFile = filepath.Join(dir, "key.pem")
		if err := util.GenerateSelfSignedCert(certFile, keyFile, hostsFor(s.cfg.Address)); err != nil {
			return tls.Certificate{}, err
		}
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to load API TLS certificate: %w", err)
	}
	return cert, nil
}

func hostsFor(address string) []string {
	hosts := []string{"localhost", "127.0.0.1"}
	if address != "" && net.ParseIP(address) != nil && !net.ParseIP(address).IsUnspecified() {
		hosts = append(hosts, address)
	}
	return hosts
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	router.Use(IPWhitelist(s.cfg.AllowedIPs))

	rateLimiter := NewRateLimiter(s.cfg.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	auth := NewAuthMiddleware(s.cfg.Token)

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/version", s.handleGetVersion)
	}

	protected := router.Group("/api")
	protected.Use(auth.RequireAuth())

	monitor := protected.Group("/monitor")
	{
		monitor.GET("/connections", s.handleGetConnections)
		monitor.GET("/commands", s.handleGetCommands)
		monitor.GET("/system", s.handleGetSystem)
	}

	control := protected.Group("/control")
	{
		control.POST("/exec", s.handleExec)
		control.DELETE("/connections/:id", s.handleKick)
	}

	configure := protected.Group("/configure")
	{
		configure.GET("/server", s.handleGetServerConfig)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "RCON admin API is running"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
