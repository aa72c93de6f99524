// Package client implements an RCON client session: connect, authenticate
// and run commands, correlating each response to its request by packet id.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/IT-Hock/source-rcon-library/internal/config"
	"github.com/IT-Hock/source-rcon-library/internal/protocol"
	"github.com/IT-Hock/source-rcon-library/internal/util"
)

var (
	// ErrNotConnected is returned when the session has no open connection.
	ErrNotConnected = errors.New("rcon client is not connected")

	// ErrAlreadyConnected is returned by Connect on an open session.
	ErrAlreadyConnected = errors.New("rcon client is already connected")

	// ErrAlreadyAuthenticated is returned by Authenticate once the server
	// has accepted the password; servers treat a second auth as a protocol
	// violation.
	ErrAlreadyAuthenticated = errors.New("rcon client is already authenticated")
)

// State is the connection state reported to a StateFunc.
type State int

const (
	StateDisconnected State = iota
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

type (
	// ResultFunc receives the response to one command.
	ResultFunc func(result string)

	// AuthResultFunc receives the outcome of one Authenticate call.
	AuthResultFunc func(ok bool)

	// StateFunc is told when the connection opens or is lost.
	StateFunc func(state State)
)

// Option configures a Client.
type Option func(*Client)

// WithUTF8 makes the session exchange UTF-8 payloads instead of ASCII.
func WithUTF8(enabled bool) Option {
	return func(c *Client) { c.codec.UTF8 = enabled }
}

// WithAuthResultHandler sets the callback fired once per Authenticate call.
func WithAuthResultHandler(fn AuthResultFunc) Option {
	return func(c *Client) { c.onAuth = fn }
}

// WithConnectionStateHandler sets the callback fired on connect and on
// connection loss.
func WithConnectionStateHandler(fn StateFunc) Option {
	return func(c *Client) { c.onState = fn }
}

// WithDialTimeout bounds how long Connect waits for the TCP handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) { c.dialTimeout = d }
}

// Client is a single RCON session. One goroutine reads responses; the
// exported methods are safe for concurrent use. There is no automatic
// reconnect: after a disconnect, call Connect again.
type Client struct {
	codec       protocol.Codec
	dialTimeout time.Duration
	onAuth      AuthResultFunc
	onState     StateFunc
	logger      zerolog.Logger

	writeMu sync.Mutex

	mu            sync.Mutex
	conn          net.Conn
	done          chan struct{}
	authenticated bool
	nextID        int32
	pending       map[int32]ResultFunc
	// one entry per Authenticate call awaiting its ack; the channel is nil
	// unless the caller is blocked in AuthenticateWait
	authQueue []chan bool
}

// New creates a disconnected client.
func New(opts ...Option) *Client {
	c := &Client{
		dialTimeout: config.DefaultDialTimeout,
		pending:     make(map[int32]ResultFunc),
		logger:      util.ComponentLogger("rcon_client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig creates a client using the UTF-8 and timeout settings of cfg.
func NewFromConfig(cfg config.ClientConfig, opts ...Option) *Client {
	base := []Option{WithUTF8(cfg.UseUTF8)}
	if cfg.DialTimeout > 0 {
		base = append(base, WithDialTimeout(cfg.DialTimeout))
	}
	return New(append(base, opts...)...)
}

// Connect dials host:port and starts reading responses.
func (c *Client) Connect(ctx context.Context, host string, port int) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyConnected
	}
	c.conn = conn
	c.done = make(chan struct{})
	c.authenticated = false
	c.mu.Unlock()

	c.logger.Info().Str("addr", addr).Msg("connected")
	go c.readLoop(conn)

	c.notifyState(StateConnected)
	return nil
}

// Authenticate sends the password. The result arrives asynchronously
// through the auth result handler, exactly once for this call.
func (c *Client) Authenticate(password string) error {
	return c.authenticate(password, nil)
}

// AuthenticateWait sends the password and blocks until the server accepts
// or rejects it. The auth result handler fires as well.
func (c *Client) AuthenticateWait(ctx context.Context, password string) (bool, error) {
	result := make(chan bool, 1)

	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if err := c.authenticate(password, result); err != nil {
		return false, err
	}

	select {
	case ok := <-result:
		return ok, nil
	case <-done:
		return false, ErrNotConnected
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (c *Client) authenticate(password string, result chan bool) error {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.authenticated {
		c.mu.Unlock()
		return ErrAlreadyAuthenticated
	}

	id := c.allocID()
	data, err := c.codec.Encode(id, protocol.TypeAuth, password)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.authQueue = append(c.authQueue, result)
	conn := c.conn
	c.mu.Unlock()

	// a failed write tears the session down, which clears authQueue
	if err := c.write(conn, data); err != nil {
		return err
	}

	c.logger.Debug().Int32("id", id).Msg("auth request sent")
	return nil
}

// SendCommand sends text as a command. onResult, if non-nil, is called with
// the server's response from the reader goroutine.
func (c *Client) SendCommand(text string, onResult ResultFunc) error {
	_, err := c.sendCommand(text, onResult)
	return err
}

func (c *Client) sendCommand(text string, onResult ResultFunc) (int32, error) {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return 0, ErrNotConnected
	}
	if !c.authenticated {
		c.mu.Unlock()
		return 0, protocol.ErrNotAuthenticated
	}

	id := c.allocID()
	data, err := c.codec.Encode(id, protocol.TypeExecCommand, text)
	if err != nil {
		c.mu.Unlock()
		return 0, err
	}
	if onResult != nil {
		c.pending[id] = onResult
	}
	conn := c.conn
	c.mu.Unlock()

	if err := c.write(conn, data); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return 0, err
	}

	c.logger.Debug().Int32("id", id).Str("command", text).Msg("command sent")
	return id, nil
}

// Exec sends a command and waits for its response.
func (c *Client) Exec(ctx context.Context, text string) (string, error) {
	result := make(chan string, 1)

	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	id, err := c.sendCommand(text, func(r string) { result <- r })
	if err != nil {
		return "", err
	}

	select {
	case r := <-result:
		return r, nil
	case <-done:
		return "", ErrNotConnected
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return "", ctx.Err()
	}
}

// Disconnect closes the connection. Pending commands are dropped.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return c.teardown(conn, nil)
}

// Connected reports whether the session has an open connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Authenticated reports whether the server accepted the password.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// PendingCount returns the number of commands awaiting a response.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// allocID returns the next packet id. Ids stay positive so they never
// collide with the auth failure id. c.mu must be held.
func (c *Client) allocID() int32 {
	if c.nextID == math.MaxInt32 {
		c.nextID = 0
	}
	c.nextID++
	return c.nextID
}

func (c *Client) write(conn net.Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := protocol.WriteRaw(conn, data); err != nil {
		c.teardown(conn, err)
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

func (c *Client) readLoop(conn net.Conn) {
	frames := protocol.NewFrameReader(conn)
	for {
		raw, err := frames.ReadFrame()
		if err != nil {
			c.teardown(conn, err)
			return
		}

		pkt, err := c.codec.Decode(raw)
		if err != nil {
			c.logger.Warn().Err(err).Msg("malformed packet from server, closing session")
			if e := c.logger.Trace(); e.Enabled() {
				e.Msg("malformed packet:\n" + protocol.HexDump(raw))
			}
			c.teardown(conn, err)
			return
		}

		c.handlePacket(pkt)
	}
}

// handlePacket routes one packet. Callbacks run without c.mu held.
func (c *Client) handlePacket(pkt protocol.Packet) {
	c.mu.Lock()

	if pkt.Type == protocol.TypeExecCommand && len(c.authQueue) > 0 {
		waiter := c.authQueue[0]
		c.authQueue = c.authQueue[1:]
		ok := pkt.ID != protocol.AuthFailedID
		if ok {
			c.authenticated = true
		}
		c.mu.Unlock()

		c.logger.Info().Bool("ok", ok).Msg("authentication result")
		if waiter != nil {
			waiter <- ok
		}
		if c.onAuth != nil {
			c.onAuth(ok)
		}
		return
	}

	if !c.authenticated || pkt.Type != protocol.TypeResponseValue {
		c.mu.Unlock()
		c.logger.Trace().Int32("id", pkt.ID).Str("type", pkt.Type.String()).Msg("ignoring packet")
		return
	}

	cb, ok := c.pending[pkt.ID]
	if ok {
		delete(c.pending, pkt.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug().Int32("id", pkt.ID).Msg("response without a pending request")
		return
	}
	cb(pkt.Payload)
}

// teardown ends the session on conn once. A nil cause means a local
// Disconnect.
func (c *Client) teardown(conn net.Conn, cause error) error {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return nil
	}
	c.conn = nil
	c.authenticated = false
	c.authQueue = nil
	dropped := len(c.pending)
	c.pending = make(map[int32]ResultFunc)
	close(c.done)
	c.mu.Unlock()

	err := conn.Close()

	switch {
	case cause == nil:
		c.logger.Info().Int("dropped", dropped).Msg("disconnected")
	case errors.Is(cause, io.EOF), errors.Is(cause, net.ErrClosed):
		c.logger.Info().Int("dropped", dropped).Msg("connection closed by server")
	default:
		c.logger.Warn().Err(cause).Int("dropped", dropped).Msg("connection lost")
	}

	c.notifyState(StateDisconnected)
	return err
}

func (c *Client) notifyState(s State) {
	if c.onState != nil {
		c.onState(s)
	}
}
