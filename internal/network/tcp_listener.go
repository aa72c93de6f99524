package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/IT-Hock/source-rcon-library/internal/command"
	"github.com/IT-Hock/source-rcon-library/internal/config"
	"github.com/IT-Hock/source-rcon-library/internal/events"
	"github.com/IT-Hock/source-rcon-library/internal/util"
	"github.com/IT-Hock/source-rcon-library/internal/whitelist"
)

// ErrNotListening is returned by Serve when Listen has not succeeded.
var ErrNotListening = errors.New("listener is not bound")

// Listener accepts RCON clients, applies the IP whitelist and serves each
// accepted socket in its own goroutine.
type Listener struct {
	cfg       config.ServerConfig
	registry  *command.Registry
	eventBus  *events.EventBus
	whitelist whitelist.Whitelist
	conns     *ConnectionRegistry
	logger    zerolog.Logger

	mu       sync.RWMutex
	listener net.Listener
	custom   command.HandlerFunc
}

// NewListener creates a listener. cfg is copied; every accepted connection
// gets its own snapshot of it. eventBus may be nil.
func NewListener(cfg config.ServerConfig, registry *command.Registry, eventBus *events.EventBus) *Listener {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &Listener{
		cfg:       cfg.Clone(),
		registry:  registry,
		eventBus:  eventBus,
		whitelist: whitelist.New(cfg.IPWhitelist),
		conns:     NewConnectionRegistry(),
		logger:    util.ComponentLogger("rcon_listener"),
	}
}

// Start binds the listen socket and runs the accept loop until ctx is
// cancelled or StopListening is called.
func (l *Listener) Start(ctx context.Context) error {
	if err := l.Listen(ctx); err != nil {
		return err
	}
	return l.Serve(ctx)
}

// Listen binds the listen socket without accepting yet.
func (l *Listener) Listen(ctx context.Context) error {
	addr := l.cfg.Addr()

	// SO_REUSEADDR allows immediate rebinding after a restart
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start RCON listener on %s: %w", addr, err)
	}

	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()

	l.logger.Info().
		Str("addr", ln.Addr().String()).
		Bool("whitelist", l.cfg.EnableIPWhitelist).
		Bool("utf8", l.cfg.UseUTF8).
		Msg("RCON listener started")

	l.eventBus.Emit(ctx, events.NewEvent(events.EventListenerStarted, "listener", events.ListenerPayload{
		Addr: ln.Addr().String(),
	}))
	return nil
}

// Serve runs the accept loop on a socket bound by Listen.
func (l *Listener) Serve(ctx context.Context) error {
	l.mu.RLock()
	ln := l.listener
	l.mu.RUnlock()
	if ln == nil {
		return ErrNotListening
	}

	stop := context.AfterFunc(ctx, func() {
		ln.Close()
	})
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				l.logger.Info().Msg("RCON listener stopping")
				return nil
			}
			l.logger.Error().Err(err).Msg("failed to accept connection")
			continue
		}

		l.accept(ctx, conn)
	}
}

// accept runs the whitelist check synchronously, then hands the socket to
// a connection goroutine.
func (l *Listener) accept(ctx context.Context, rawConn net.Conn) {
	remote := rawConn.RemoteAddr()

	if l.cfg.EnableIPWhitelist && !l.whitelist.AllowedAddr(remote) {
		l.logger.Warn().
			Str("remote", remote.String()).
			Msg("connection rejected by IP whitelist")
		rawConn.Close()

		l.eventBus.Emit(ctx, events.NewEvent(events.EventConnectionRejected, "listener", events.ConnectionPayload{
			RemoteAddr: remote.String(),
			Reason:     "ip not whitelisted",
		}))
		return
	}

	conn := NewConnection(rawConn, l.cfg, l.registry)
	conn.ctx = ctx
	conn.bus = l.eventBus
	conn.custom = l.customHandler
	conn.onClose = func(c *Connection) {
		l.conns.Remove(c.ID())
	}

	l.conns.Register(conn)

	l.logger.Info().
		Str("conn_id", conn.ID()).
		Str("remote", remote.String()).
		Msg("connection accepted")

	l.eventBus.Emit(ctx, events.NewEvent(events.EventConnectionAccepted, "listener", events.ConnectionPayload{
		ConnectionID: conn.ID(),
		RemoteAddr:   remote.String(),
	}))

	go conn.Serve(ctx)
}

// StopListening closes the accept socket. Connections that are already
// open keep running; use CloseAll to drop them as well.
func (l *Listener) StopListening() error {
	l.mu.Lock()
	ln := l.listener
	l.listener = nil
	l.mu.Unlock()

	if ln == nil {
		return nil
	}
	l.logger.Info().Msg("RCON listener closed")
	return ln.Close()
}

// CloseAll closes every open connection and returns how many were closed.
func (l *Listener) CloseAll() int {
	return l.conns.CloseAll()
}

// Addr returns the bound address, or nil when not listening.
func (l *Listener) Addr() net.Addr {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Connections returns a snapshot of the open connections, oldest first.
func (l *Listener) Connections() []ConnectionInfo {
	conns := l.conns.GetAll()
	result := make([]ConnectionInfo, 0, len(conns))
	for _, c := range conns {
		result = append(result, c.Info())
	}
	return result
}

// ConnectionCount returns the number of open connections.
func (l *Listener) ConnectionCount() int {
	return l.conns.Count()
}

// Kick closes the connection with the given id. It reports whether such
// a connection was open.
func (l *Listener) Kick(id string) bool {
	conn, ok := l.conns.Get(id)
	if !ok {
		return false
	}
	l.logger.Info().Str("conn_id", id).Msg("connection closed by operator")
	conn.Close()
	return true
}

// SetCustomCommandHandler installs the handler used for commands missing
// from the registry when UseCustomCommandHandler is enabled. It applies to
// open connections too.
func (l *Listener) SetCustomCommandHandler(fn command.HandlerFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.custom = fn
}

func (l *Listener) customHandler() command.HandlerFunc {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.custom
}

// Fallback returns the handler for commands missing from the registry, or
// nil when UseCustomCommandHandler is off or no handler is set.
func (l *Listener) Fallback() command.HandlerFunc {
	if !l.cfg.UseCustomCommandHandler {
		return nil
	}
	return l.customHandler()
}

// Config returns a copy of the listener configuration.
func (l *Listener) Config() config.ServerConfig {
	return l.cfg.Clone()
}

// Registry returns the command registry connections dispatch to.
func (l *Listener) Registry() *command.Registry {
	return l.registry
}
