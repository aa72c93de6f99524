// Package network implements the RCON server side: the per-socket
// connection state machine and the listener that accepts sockets.
package network

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/IT-Hock/source-rcon-library/internal/command"
	"github.com/IT-Hock/source-rcon-library/internal/config"
	"github.com/IT-Hock/source-rcon-library/internal/events"
	"github.com/IT-Hock/source-rcon-library/internal/protocol"
)

// ErrTooManyAuthTries is returned when a client exhausts MaxPasswordTries.
var ErrTooManyAuthTries = errors.New("too many authentication attempts")

const (
	// WriteTimeout bounds a single packet write to a client.
	WriteTimeout = 10 * time.Second

	// maxLoggedOutput caps command output copied into events.
	maxLoggedOutput = 256
)

// Connection is one accepted RCON socket. Its authentication state is
// driven only by the goroutine running Serve; the atomics exist so other
// goroutines (API snapshots) can observe it.
type Connection struct {
	id       string
	conn     net.Conn
	cfg      config.ServerConfig
	codec    protocol.Codec
	registry *command.Registry
	logger   zerolog.Logger

	ctx     context.Context
	bus     *events.EventBus
	custom  func() command.HandlerFunc
	onClose func(*Connection)

	authTries     uint
	authenticated atomic.Bool

	connectedAt  time.Time
	lastActivity atomic.Int64

	mu     sync.Mutex
	closed bool
}

// NewConnection wraps an accepted net.Conn. cfg is copied; later changes to
// the listener configuration do not affect this connection.
func NewConnection(conn net.Conn, cfg config.ServerConfig, registry *command.Registry) *Connection {
	id := uuid.NewString()
	now := time.Now()

	c := &Connection{
		id:          id,
		conn:        conn,
		cfg:         cfg.Clone(),
		codec:       protocol.Codec{UTF8: cfg.UseUTF8},
		registry:    registry,
		ctx:         context.Background(),
		connectedAt: now,
		logger: log.With().
			Str("component", "connection").
			Str("conn_id", id).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
	}
	c.lastActivity.Store(now.UnixNano())
	return c
}

// Serve reads packets until the peer disconnects, a packet causes a kick,
// or ctx is cancelled. It always closes the connection before returning.
func (c *Connection) Serve(ctx context.Context) {
	defer c.Close()

	stop := context.AfterFunc(ctx, func() {
		c.Close()
	})
	defer stop()

	c.logger.Debug().Msg("serving connection")

	buf := make([]byte, protocol.MaxPacketSize)
	for {
		raw, err := protocol.ReadRaw(c.conn, buf)
		if err != nil {
			switch {
			case c.IsClosed(), errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				c.logger.Debug().Err(err).Msg("peer disconnected")
			default:
				c.logger.Warn().Err(err).Msg("read error, closing connection")
			}
			return
		}
		if raw == nil {
			// zero-byte read: nothing arrived yet
			continue
		}

		c.lastActivity.Store(time.Now().UnixNano())

		if err := c.handleSafely(raw); err != nil {
			c.kick(err, raw)
			return
		}
	}
}

// handleSafely runs HandlePacket, turning a panic into an error.
func (c *Connection) handleSafely(raw []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while handling packet: %v", r)
		}
	}()
	return c.HandlePacket(raw)
}

// HandlePacket decodes one raw packet and advances the state machine,
// writing any replies. A non-nil error means the client must be kicked.
func (c *Connection) HandlePacket(raw []byte) error {
	pkt, err := c.codec.Decode(raw)
	if err != nil {
		return err
	}

	c.logger.Trace().
		Int32("id", pkt.ID).
		Str("type", pkt.Type.String()).
		Int("size", int(pkt.Size)).
		Msg("packet received")

	if !c.authenticated.Load() {
		return c.handleAuth(pkt)
	}
	return c.handleCommand(pkt)
}

func (c *Connection) handleAuth(pkt protocol.Packet) error {
	if pkt.Type != protocol.TypeAuth {
		return fmt.Errorf("%w: received %s before authenticating", protocol.ErrNotAuthenticated, pkt.Type)
	}

	c.authTries++
	auth := events.AuthPayload{
		ConnectionID: c.id,
		RemoteAddr:   c.conn.RemoteAddr().String(),
		RequestID:    pkt.ID,
		Tries:        c.authTries,
	}

	if subtle.ConstantTimeCompare([]byte(pkt.Payload), []byte(c.cfg.Password)) == 1 {
		c.authenticated.Store(true)
		c.logger.Info().Uint("tries", c.authTries).Msg("client authenticated")
		c.bus.Emit(c.ctx, events.NewEvent(events.EventAuthSucceeded, c.id, auth))

		if !c.cfg.SendAuthImmediately {
			if err := c.writePacket(pkt.ID, protocol.TypeResponseValue, ""); err != nil {
				return err
			}
		}
		return c.writePacket(pkt.ID, protocol.TypeExecCommand, "")
	}

	c.logger.Warn().
		Uint("tries", c.authTries).
		Uint("max_tries", c.cfg.MaxPasswordTries).
		Msg("authentication failed")
	c.bus.Emit(c.ctx, events.NewEvent(events.EventAuthFailed, c.id, auth))

	if c.authTries >= c.cfg.MaxPasswordTries {
		return fmt.Errorf("%w: %d of %d", ErrTooManyAuthTries, c.authTries, c.cfg.MaxPasswordTries)
	}

	if !c.cfg.SendAuthImmediately {
		if err := c.writePacket(pkt.ID, protocol.TypeResponseValue, ""); err != nil {
			return err
		}
	}
	return c.writePacket(protocol.AuthFailedID, protocol.TypeExecCommand, "")
}

func (c *Connection) handleCommand(pkt protocol.Packet) error {
	if pkt.Type != protocol.TypeExecCommand {
		if c.cfg.InvalidPacketKick {
			return fmt.Errorf("%w: %s is not allowed after authentication", protocol.ErrInvalidPacketType, pkt.Type)
		}
		c.logger.Debug().Str("type", pkt.Type.String()).Msg("ignoring unexpected packet")
		return nil
	}

	if pkt.Payload == "" {
		if c.cfg.EmptyPayloadKick {
			return fmt.Errorf("%w: id %d", protocol.ErrEmptyPacketPayload, pkt.ID)
		}
		c.logger.Debug().Int32("id", pkt.ID).Msg("ignoring empty command")
		return nil
	}

	start := time.Now()
	result, known, err := c.dispatch(pkt.Payload)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	c.logger.Info().
		Int32("id", pkt.ID).
		Str("command", pkt.Payload).
		Bool("known", known).
		Dur("took", elapsed).
		Msg("command executed")

	c.bus.Emit(c.ctx, events.NewEvent(events.EventCommandExecuted, c.id, events.CommandPayload{
		ConnectionID: c.id,
		RemoteAddr:   c.conn.RemoteAddr().String(),
		RequestID:    pkt.ID,
		Command:      pkt.Payload,
		Known:        known,
		Output:       clip(result, maxLoggedOutput),
		Duration:     elapsed,
	}))

	return c.writePacket(pkt.ID, protocol.TypeResponseValue, result)
}

// dispatch runs the command line through the registry, falling back to the
// custom handler when it is enabled. A panicking handler is an error.
func (c *Connection) dispatch(payload string) (result string, known bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command handler panicked on %q: %v", payload, r)
		}
	}()

	var fallback command.HandlerFunc
	if c.cfg.UseCustomCommandHandler && c.custom != nil {
		fallback = c.custom()
	}

	result, known = c.registry.Dispatch(payload, fallback)
	return result, known, nil
}

// writePacket encodes and sends one packet. Null bytes become '?' and
// replies that do not fit in a single packet are truncated.
func (c *Connection) writePacket(id int32, t protocol.PacketType, payload string) error {
	if clean := protocol.Sanitize(payload); clean != payload {
		c.logger.Debug().Int32("id", id).Msg("reply contains null bytes, replacing")
		payload = clean
	}
	data, err := c.codec.Encode(id, t, payload)
	if errors.Is(err, protocol.ErrPacketTooLong) {
		c.logger.Warn().Int32("id", id).Int("bytes", len(payload)).Msg("reply too long, truncating")
		data, err = c.codec.Encode(id, t, c.codec.Truncate(payload))
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("connection is closed")
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := protocol.WriteRaw(c.conn, data); err != nil {
		return err
	}

	c.lastActivity.Store(time.Now().UnixNano())
	return nil
}

// kick logs the reason a client is dropped and closes the socket.
func (c *Connection) kick(reason error, raw []byte) {
	c.logger.Warn().Err(reason).Msg("kicking client")
	if e := c.logger.Trace(); e.Enabled() {
		e.Msg("offending packet:\n" + protocol.HexDump(raw))
	}

	c.bus.Emit(c.ctx, events.NewEvent(events.EventClientKicked, c.id, events.KickPayload{
		ConnectionID: c.id,
		RemoteAddr:   c.conn.RemoteAddr().String(),
		Reason:       reason.Error(),
	}))
	c.Close()
}

// Close closes the connection. It is safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	err := c.conn.Close()
	c.mu.Unlock()

	c.logger.Info().
		Dur("connected_for", time.Since(c.connectedAt)).
		Msg("connection closed")

	c.bus.Emit(c.ctx, events.NewEvent(events.EventConnectionClosed, c.id, events.ConnectionPayload{
		ConnectionID: c.id,
		RemoteAddr:   c.conn.RemoteAddr().String(),
	}))

	if c.onClose != nil {
		c.onClose(c)
	}
	return err
}

// IsClosed returns whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ID returns the connection's unique id.
func (c *Connection) ID() string {
	return c.id
}

// RemoteAddr returns the remote address of the connection.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Authenticated reports whether the client has sent the correct password.
func (c *Connection) Authenticated() bool {
	return c.authenticated.Load()
}

// ConnectedAt returns the time the connection was accepted.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// LastActivity returns the time of the last read or write.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// ConnectionInfo is a point-in-time view of a connection.
type ConnectionInfo struct {
	ID            string    `json:"id"`
	RemoteAddr    string    `json:"remote_addr"`
	Authenticated bool      `json:"authenticated"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastActivity  time.Time `json:"last_activity"`
}

// Info returns a snapshot of the connection.
func (c *Connection) Info() ConnectionInfo {
	return ConnectionInfo{
		ID:            c.id,
		RemoteAddr:    c.conn.RemoteAddr().String(),
		Authenticated: c.Authenticated(),
		ConnectedAt:   c.connectedAt,
		LastActivity:  c.LastActivity(),
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
