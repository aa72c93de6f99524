package cli

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/IT-Hock/source-rcon-library/internal/command"
	"github.com/IT-Hock/source-rcon-library/internal/config"
	"github.com/IT-Hock/source-rcon-library/internal/network"
)

const testPassword = "console-password"

func startServer(t *testing.T) (string, int) {
	t.Helper()

	cfg := config.DefaultServerConfig()
	cfg.Address = "127.0.0.1"
	cfg.Port = 0
	cfg.Password = testPassword

	reg := command.NewRegistry()
	command.RegisterBuiltins(reg)

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
	return host, port
}

func newShell(t *testing.T) *Shell {
	t.Helper()
	cfg := config.DefaultClientConfig()
	cfg.DialTimeout = 2 * time.Second
	s := NewShell(cfg)
	s.PasswordPrompt = func() (string, error) { return "", errors.New("no terminal in tests") }
	t.Cleanup(func() { s.Disconnect() })
	return s
}

func TestShellSession(t *testing.T) {
	host, port := startServer(t)
	s := newShell(t)

	if !strings.HasPrefix(s.Prompt(), "rcon »") {
		t.Fatalf("prompt %q", s.Prompt())
	}

	if err := s.Connect(context.Background(), host, port); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(s.Prompt(), "unauthenticated") {
		t.Fatalf("prompt %q", s.Prompt())
	}

	if err := s.Authenticate(context.Background(), "wrong"); err == nil {
		t.Fatal("wrong password accepted")
	}
	if err := s.Authenticate(context.Background(), testPassword); err != nil {
		t.Fatal(err)
	}

	out, err := s.Exec(context.Background(), JoinArgs([]string{"echo", "two words", "x"}))
	if err != nil {
		t.Fatal(err)
	}
	if out != "two words x" {
		t.Fatalf("echo = %q", out)
	}

	status := s.Status()
	if !strings.Contains(status, net.JoinHostPort(host, strconv.Itoa(port))) || !strings.Contains(status, "true") {
		t.Fatalf("status:\n%s", status)
	}

	if err := s.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if s.Client().Connected() {
		t.Fatal("still connected")
	}
}

func TestShellPromptsForPassword(t *testing.T) {
	host, port := startServer(t)
	s := newShell(t)

	prompted := false
	s.PasswordPrompt = func() (string, error) {
		prompted = true
		return testPassword, nil
	}

	if err := s.Connect(context.Background(), host, port); err != nil {
		t.Fatal(err)
	}
	if err := s.Authenticate(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	if !prompted {
		t.Fatal("password prompt not used")
	}
}

func TestJoinArgs(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"status"}, "status"},
		{[]string{"say", "hello world"}, `say "hello world"`},
		{[]string{"kick", ""}, `kick ""`},
		{[]string{"say", `a "b" c`}, `say "a 'b' c"`},
	}
	for _, tt := range tests {
		if got := JoinArgs(tt.args); got != tt.want {
			t.Errorf("JoinArgs(%q) = %q, want %q", tt.args, got, tt.want)
		}
	}
}
