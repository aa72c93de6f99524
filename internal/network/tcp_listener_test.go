package network

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/IT-Hock/source-rcon-library/internal/config"
	"github.com/IT-Hock/source-rcon-library/internal/events"
	"github.com/IT-Hock/source-rcon-library/internal/protocol"
)

func startListener(t *testing.T, cfg config.ServerConfig, bus *events.EventBus) *Listener {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	l := NewListener(cfg, testRegistry(), bus)
	if err := l.Listen(ctx); err != nil {
		cancel()
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve: %v", err)
		}
		l.CloseAll()
	})
	return l
}

// tcpClient reads with a FrameReader because the server's two auth replies
// may arrive in one TCP segment.
type tcpClient struct {
	net.Conn
	frames *protocol.FrameReader
}

func dial(t *testing.T, l *Listener) *tcpClient {
	t.Helper()
	c, err := net.DialTimeout("tcp", l.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return &tcpClient{Conn: c, frames: protocol.NewFrameReader(c)}
}

func (c *tcpClient) next(t *testing.T) protocol.Packet {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	raw, err := c.frames.ReadFrame()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	p, err := protocol.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return p
}

func (c *tcpClient) login(t *testing.T) {
	t.Helper()
	send(t, c, 1, protocol.TypeAuth, testPassword)
	if p := c.next(t); p.Type != protocol.TypeResponseValue || p.ID != 1 {
		t.Fatalf("unexpected auth reply: %+v", p)
	}
	if p := c.next(t); p.Type != protocol.TypeExecCommand || p.ID != 1 {
		t.Fatalf("unexpected auth ack: %+v", p)
	}
}

func (c *tcpClient) exec(t *testing.T, id int32, cmd string) string {
	t.Helper()
	send(t, c, id, protocol.TypeExecCommand, cmd)
	p := c.next(t)
	if p.ID != id || p.Type != protocol.TypeResponseValue {
		t.Fatalf("unexpected reply: %+v", p)
	}
	return p.Payload
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestListenerServesClients(t *testing.T) {
	l := startListener(t, testConfig(), nil)

	a := dial(t, l)
	b := dial(t, l)
	a.login(t)
	b.login(t)

	if got := a.exec(t, 10, "hello"); got != "world" {
		t.Fatalf("a: %q", got)
	}
	if got := b.exec(t, 11, "testing"); !strings.Contains(got, `Invalid command "testing"`) {
		t.Fatalf("b: %q", got)
	}

	waitFor(t, func() bool { return l.ConnectionCount() == 2 })
	for _, info := range l.Connections() {
		if !info.Authenticated || info.ID == "" {
			t.Fatalf("unexpected snapshot: %+v", info)
		}
	}
}

func TestListenerWhitelistRejects(t *testing.T) {
	cfg := testConfig()
	cfg.IPWhitelist = []string{"10.*.*.*"}
	l := startListener(t, cfg, nil)

	c := dial(t, l)
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := c.Read(make([]byte, 16))
	if err == nil {
		t.Fatal("rejected connection stayed open")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		t.Fatal("server did not close the rejected connection")
	}
	if l.ConnectionCount() != 0 {
		t.Fatal("rejected connection was registered")
	}
}

func TestListenerWhitelistDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.EnableIPWhitelist = false
	cfg.IPWhitelist = nil
	l := startListener(t, cfg, nil)

	c := dial(t, l)
	c.login(t)
	if got := c.exec(t, 2, "hello"); got != "world" {
		t.Fatalf("got %q", got)
	}
}

func TestStopListeningKeepsOpenConnections(t *testing.T) {
	l := startListener(t, testConfig(), nil)

	c := dial(t, l)
	c.login(t)
	addr := l.Addr().String()

	if err := l.StopListening(); err != nil {
		t.Fatal(err)
	}
	if l.Addr() != nil {
		t.Fatal("Addr still set after StopListening")
	}

	if got := c.exec(t, 2, "hello"); got != "world" {
		t.Fatalf("open connection broken after StopListening: %q", got)
	}

	if conn, err := net.DialTimeout("tcp", addr, time.Second); err == nil {
		conn.Close()
		t.Fatal("new connection accepted after StopListening")
	}
}

func TestCloseAll(t *testing.T) {
	l := startListener(t, testConfig(), nil)

	c := dial(t, l)
	c.login(t)
	waitFor(t, func() bool { return l.ConnectionCount() == 1 })

	if n := l.CloseAll(); n != 1 {
		t.Fatalf("closed %d connections", n)
	}
	if l.ConnectionCount() != 0 {
		t.Fatal("registry not emptied")
	}

	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := c.Read(make([]byte, 16)); err == nil {
		t.Fatal("connection still open")
	}
}

func TestKick(t *testing.T) {
	l := startListener(t, testConfig(), nil)

	c := dial(t, l)
	c.login(t)
	waitFor(t, func() bool { return l.ConnectionCount() == 1 })

	id := l.Connections()[0].ID
	if !l.Kick(id) {
		t.Fatal("Kick did not find the connection")
	}
	if l.Kick(id) {
		t.Fatal("Kick found a closed connection")
	}
}

func TestListenerCustomHandler(t *testing.T) {
	cfg := testConfig()
	cfg.UseCustomCommandHandler = true
	l := startListener(t, cfg, nil)

	c := dial(t, l)
	c.login(t)

	// no handler installed yet
	if got := c.exec(t, 2, "status2"); got != `Invalid command "status2"` {
		t.Fatalf("got %q", got)
	}

	l.SetCustomCommandHandler(func(name string, args []string) string {
		return "handled " + name
	})
	if got := c.exec(t, 3, "status2"); got != "handled status2" {
		t.Fatalf("got %q", got)
	}
	if fb := l.Fallback(); fb == nil || fb("x", nil) != "handled x" {
		t.Fatal("Fallback does not return the installed handler")
	}

	off := NewListener(testConfig(), testRegistry(), nil)
	off.SetCustomCommandHandler(func(string, []string) string { return "unused" })
	if off.Fallback() != nil {
		t.Fatal("Fallback set while UseCustomCommandHandler is off")
	}
}

func TestListenerEmitsEvents(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()

	got := make(chan events.Event, 8)
	for _, et := range []events.EventType{events.EventConnectionAccepted, events.EventAuthSucceeded, events.EventCommandExecuted} {
		bus.Subscribe(et, "test", func(_ context.Context, e events.Event) error {
			got <- e
			return nil
		})
	}

	l := startListener(t, testConfig(), bus)
	c := dial(t, l)
	c.login(t)
	c.exec(t, 2, "hello")

	seen := map[events.EventType]events.Event{}
	timeout := time.After(2 * time.Second)
	for len(seen) < 3 {
		select {
		case e := <-got:
			seen[e.Type] = e
		case <-timeout:
			t.Fatalf("only saw %d event types", len(seen))
		}
	}

	cmd, ok := seen[events.EventCommandExecuted].Payload.(events.CommandPayload)
	if !ok || cmd.Command != "hello" || cmd.Output != "world" || !cmd.Known {
		t.Fatalf("unexpected command payload: %+v", seen[events.EventCommandExecuted].Payload)
	}
}

func TestServeWithoutListen(t *testing.T) {
	l := NewListener(testConfig(), nil, nil)
	if err := l.Serve(context.Background()); !errors.Is(err, ErrNotListening) {
		t.Fatalf("got %v", err)
	}
}
