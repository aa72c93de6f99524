package client

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/IT-Hock/source-rcon-library/internal/command"
	"github.com/IT-Hock/source-rcon-library/internal/config"
	"github.com/IT-Hock/source-rcon-library/internal/network"
	"github.com/IT-Hock/source-rcon-library/internal/protocol"
)

const testPassword = "supersecretpassword"

func startServer(t *testing.T, mutate func(*config.ServerConfig)) (string, int, *network.Listener) {
	t.Helper()

	cfg := config.DefaultServerConfig()
	cfg.Address = "127.0.0.1"
	cfg.Port = 0
	cfg.Password = testPassword
	if mutate != nil {
		mutate(&cfg)
	}

	reg := command.NewRegistry()
	reg.Add("hello", "", "", func(string, []string) string { return "world" })
	reg.Add("echo", "", "", func(_ string, args []string) string { return strings.Join(args, " ") })

	ctx, cancel := context.WithCancel(context.Background())
	l := network.NewListener(cfg, reg, nil)
	if err := l.Listen(ctx); err != nil {
		cancel()
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		l.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		l.CloseAll()
	})

	host, portStr, err := net.SplitHostPort(l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(portStr)
	return host, port, l
}

func connect(t *testing.T, host string, port int, opts ...Option) *Client {
	t.Helper()
	c := New(append([]Option{WithDialTimeout(2 * time.Second)}, opts...)...)
	if err := c.Connect(context.Background(), host, port); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Disconnect() })
	return c
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestAuthenticateAndExec(t *testing.T) {
	host, port, _ := startServer(t, nil)

	var mu sync.Mutex
	var results []bool
	c := connect(t, host, port, WithAuthResultHandler(func(ok bool) {
		mu.Lock()
		results = append(results, ok)
		mu.Unlock()
	}))

	ok, err := c.AuthenticateWait(testCtx(t), testPassword)
	if err != nil || !ok {
		t.Fatalf("auth: ok=%v err=%v", ok, err)
	}
	if !c.Authenticated() {
		t.Fatal("Authenticated() false after success")
	}

	out, err := c.Exec(testCtx(t), "hello")
	if err != nil || out != "world" {
		t.Fatalf("Exec = %q, %v", out, err)
	}

	out, err = c.Exec(testCtx(t), "testing")
	if err != nil || !strings.Contains(out, `Invalid command "testing"`) {
		t.Fatalf("Exec = %q, %v", out, err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(results) != 1 || !results[0] {
		t.Fatalf("auth callback fired %v", results)
	}
}

func TestAuthenticateWrongPassword(t *testing.T) {
	host, port, _ := startServer(t, nil)
	c := connect(t, host, port)

	ok, err := c.AuthenticateWait(testCtx(t), "wrong")
	if err != nil {
		t.Fatal(err)
	}
	if ok || c.Authenticated() {
		t.Fatal("wrong password accepted")
	}

	if err := c.SendCommand("hello", nil); !errors.Is(err, protocol.ErrNotAuthenticated) {
		t.Fatalf("SendCommand before auth: %v", err)
	}

	ok, err = c.AuthenticateWait(testCtx(t), testPassword)
	if err != nil || !ok {
		t.Fatalf("retry: ok=%v err=%v", ok, err)
	}
	if err := c.Authenticate(testPassword); !errors.Is(err, ErrAlreadyAuthenticated) {
		t.Fatalf("second auth: %v", err)
	}
}

func TestAuthenticateAsyncCallback(t *testing.T) {
	host, port, _ := startServer(t, func(cfg *config.ServerConfig) {
		cfg.SendAuthImmediately = true
	})

	result := make(chan bool, 2)
	c := connect(t, host, port, WithAuthResultHandler(func(ok bool) { result <- ok }))

	if err := c.Authenticate(testPassword); err != nil {
		t.Fatal(err)
	}
	select {
	case ok := <-result:
		if !ok {
			t.Fatal("auth rejected")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("auth callback never fired")
	}

	select {
	case <-result:
		t.Fatal("auth callback fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPendingRemovedOnMatch(t *testing.T) {
	host, port, _ := startServer(t, nil)
	c := connect(t, host, port)

	if ok, err := c.AuthenticateWait(testCtx(t), testPassword); err != nil || !ok {
		t.Fatalf("auth: %v %v", ok, err)
	}

	for i := 0; i < 5; i++ {
		want := "round " + strconv.Itoa(i)
		got, err := c.Exec(testCtx(t), "echo "+want)
		if err != nil || got != want {
			t.Fatalf("Exec = %q, %v", got, err)
		}
	}
	if n := c.PendingCount(); n != 0 {
		t.Fatalf("%d pending entries left after all responses arrived", n)
	}
}

func TestSendCommandCallback(t *testing.T) {
	host, port, _ := startServer(t, nil)
	c := connect(t, host, port)
	if ok, err := c.AuthenticateWait(testCtx(t), testPassword); err != nil || !ok {
		t.Fatalf("auth: %v %v", ok, err)
	}

	got := make(chan string, 1)
	if err := c.SendCommand("hello", func(r string) { got <- r }); err != nil {
		t.Fatal(err)
	}
	select {
	case r := <-got:
		if r != "world" {
			t.Fatalf("got %q", r)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no response")
	}

	if err := c.SendCommand(strings.Repeat("x", protocol.MaxPacketSize), nil); !errors.Is(err, protocol.ErrPacketTooLong) {
		t.Fatalf("oversized command: %v", err)
	}
}

func TestNotConnected(t *testing.T) {
	c := New()
	if err := c.SendCommand("hello", nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SendCommand: %v", err)
	}
	if err := c.Authenticate("pw"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Authenticate: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect on idle client: %v", err)
	}
}

func TestDisconnectAndStateChanges(t *testing.T) {
	host, port, _ := startServer(t, nil)

	states := make(chan State, 4)
	c := connect(t, host, port, WithConnectionStateHandler(func(s State) { states <- s }))
	if ok, err := c.AuthenticateWait(testCtx(t), testPassword); err != nil || !ok {
		t.Fatalf("auth: %v %v", ok, err)
	}

	if err := c.Connect(context.Background(), host, port); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("second Connect: %v", err)
	}

	if err := c.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if c.Connected() || c.Authenticated() {
		t.Fatal("state not reset after Disconnect")
	}
	if err := c.SendCommand("hello", nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SendCommand after Disconnect: %v", err)
	}

	for _, want := range []State{StateConnected, StateDisconnected} {
		select {
		case s := <-states:
			if s != want {
				t.Fatalf("state %s, want %s", s, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing %s notification", want)
		}
	}

	// reconnecting is the caller's job and works on the same client
	if err := c.Connect(context.Background(), host, port); err != nil {
		t.Fatal(err)
	}
	if ok, err := c.AuthenticateWait(testCtx(t), testPassword); err != nil || !ok {
		t.Fatalf("re-auth: %v %v", ok, err)
	}
}

func TestServerDropEndsSession(t *testing.T) {
	host, port, l := startServer(t, nil)

	lost := make(chan struct{}, 1)
	c := connect(t, host, port, WithConnectionStateHandler(func(s State) {
		if s == StateDisconnected {
			lost <- struct{}{}
		}
	}))
	if ok, err := c.AuthenticateWait(testCtx(t), testPassword); err != nil || !ok {
		t.Fatalf("auth: %v %v", ok, err)
	}

	l.CloseAll()

	select {
	case <-lost:
	case <-time.After(3 * time.Second):
		t.Fatal("connection loss not reported")
	}
	if _, err := c.Exec(testCtx(t), "hello"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Exec after server drop: %v", err)
	}
}

func TestAuthenticateWaitKicked(t *testing.T) {
	host, port, _ := startServer(t, func(cfg *config.ServerConfig) {
		cfg.MaxPasswordTries = 1
	})
	c := connect(t, host, port)

	// the server closes without replying on the last allowed try
	ok, err := c.AuthenticateWait(testCtx(t), "wrong")
	if ok || !errors.Is(err, ErrNotConnected) {
		t.Fatalf("got ok=%v err=%v", ok, err)
	}
}

func TestUTF8Session(t *testing.T) {
	host, port, _ := startServer(t, func(cfg *config.ServerConfig) {
		cfg.UseUTF8 = true
	})
	c := connect(t, host, port, WithUTF8(true))
	if ok, err := c.AuthenticateWait(testCtx(t), testPassword); err != nil || !ok {
		t.Fatalf("auth: %v %v", ok, err)
	}

	got, err := c.Exec(testCtx(t), "echo grüße 世界")
	if err != nil || got != "grüße 世界" {
		t.Fatalf("Exec = %q, %v", got, err)
	}
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.DefaultClientConfig()
	cfg.UseUTF8 = true
	cfg.DialTimeout = time.Second

	c := NewFromConfig(cfg)
	if !c.codec.UTF8 || c.dialTimeout != time.Second {
		t.Fatalf("options not applied: utf8=%v timeout=%s", c.codec.UTF8, c.dialTimeout)
	}
}
