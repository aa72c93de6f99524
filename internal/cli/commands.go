// Package cli implements the interactive RCON console: connect to a server,
// authenticate, and run commands with history and tab completion.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/desertbit/grumble"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/IT-Hock/source-rcon-library/internal/client"
	"github.com/IT-Hock/source-rcon-library/internal/config"
)

// ExecTimeout bounds how long a console command waits for its response.
const ExecTimeout = 10 * time.Second

// Shell holds the console's RCON session.
type Shell struct {
	cfg    config.ClientConfig
	client *client.Client

	// PasswordPrompt reads a password when none was given on the command
	// line. Defaults to reading from the terminal without echo.
	PasswordPrompt func() (string, error)
}

// NewShell creates a shell for cfg. Nothing is dialled until Connect.
func NewShell(cfg config.ClientConfig) *Shell {
	s := &Shell{PasswordPrompt: readPassword}
	s.Configure(cfg)
	return s
}

// Configure replaces the session settings, dropping any open connection.
func (s *Shell) Configure(cfg config.ClientConfig) {
	if s.client != nil {
		s.client.Disconnect()
	}
	s.cfg = cfg
	s.client = client.NewFromConfig(cfg, client.WithConnectionStateHandler(func(st client.State) {
		if st == client.StateDisconnected {
			log.Warn().Str("addr", cfg.Addr()).Msg("disconnected from server")
		}
	}))
}

// Client returns the underlying session.
func (s *Shell) Client() *client.Client {
	return s.client
}

// Connect opens the session. Empty host or zero port keep the configured
// values.
func (s *Shell) Connect(ctx context.Context, host string, port int) error {
	if host != "" {
		s.cfg.Host = host
	}
	if port != 0 {
		s.cfg.Port = port
	}
	return s.client.Connect(ctx, s.cfg.Host, s.cfg.Port)
}

// Authenticate sends password, or the configured one when password is
// empty, prompting as a last resort.
func (s *Shell) Authenticate(ctx context.Context, password string) error {
	if password == "" {
		password = s.cfg.Password
	}
	if password == "" {
		p, err := s.PasswordPrompt()
		if err != nil {
			return err
		}
		password = p
	}

	ctx, cancel := context.WithTimeout(ctx, ExecTimeout)
	defer cancel()

	ok, err := s.client.AuthenticateWait(ctx, password)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("authentication failed: wrong password")
	}
	s.cfg.Password = password
	return nil
}

// Exec runs one command line and returns the server's reply.
func (s *Shell) Exec(ctx context.Context, line string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ExecTimeout)
	defer cancel()
	return s.client.Exec(ctx, line)
}

// Disconnect closes the session.
func (s *Shell) Disconnect() error {
	return s.client.Disconnect()
}

// Status renders the session state as a table.
func (s *Shell) Status() string {
	var sb strings.Builder

	tw := tablewriter.NewWriter(&sb)
	tw.SetHeader([]string{"Server", "Connected", "Authenticated", "Pending", "UTF-8"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	tw.Append([]string{
		s.cfg.Addr(),
		strconv.FormatBool(s.client.Connected()),
		strconv.FormatBool(s.client.Authenticated()),
		strconv.Itoa(s.client.PendingCount()),
		strconv.FormatBool(s.cfg.UseUTF8),
	})
	tw.Render()

	return sb.String()
}

// Prompt is the console prompt for the current session state.
func (s *Shell) Prompt() string {
	switch {
	case s.client.Authenticated():
		return "rcon@" + s.cfg.Addr() + " » "
	case s.client.Connected():
		return "rcon@" + s.cfg.Addr() + " (unauthenticated) » "
	default:
		return "rcon » "
	}
}

// JoinArgs rebuilds a command line from arguments the console has already
// split, quoting arguments that contain whitespace.
func JoinArgs(args []string) string {
	parts := make([]string, len(args))
	for i, a := range args {
		if a == "" || strings.ContainsAny(a, " \t") {
			a = `"` + strings.ReplaceAll(a, `"`, `'`) + `"`
		}
		parts[i] = a
	}
	return strings.Join(parts, " ")
}

func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no password given and stdin is not a terminal")
	}
	fmt.Print("Password: ")
	b, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(b), nil
}

// AddCommands registers the console commands with app.
func (s *Shell) AddCommands(app *grumble.App) {
	app.AddCommand(&grumble.Command{
		Name:    "connect",
		Aliases: []string{"open"},
		Help:    "connect to an RCON server",
		Args: func(a *grumble.Args) {
			a.String("host", "server host", grumble.Default(""))
			a.Int("port", "server port", grumble.Default(0))
		},
		Run: func(c *grumble.Context) error {
			if err := s.Connect(context.Background(), c.Args.String("host"), c.Args.Int("port")); err != nil {
				return err
			}
			c.App.Println("connected to " + s.cfg.Addr())
			c.App.SetPrompt(s.Prompt())
			return nil
		},
	})

	app.AddCommand(&grumble.Command{
		Name:    "auth",
		Aliases: []string{"login"},
		Help:    "authenticate with the RCON password",
		Args: func(a *grumble.Args) {
			a.String("password", "RCON password, prompted when omitted", grumble.Default(""))
		},
		Run: func(c *grumble.Context) error {
			if err := s.Authenticate(context.Background(), c.Args.String("password")); err != nil {
				return err
			}
			c.App.Println("authenticated")
			c.App.SetPrompt(s.Prompt())
			return nil
		},
	})

	app.AddCommand(&grumble.Command{
		Name:    "exec",
		Aliases: []string{"x", "run"},
		Help:    "run a command on the server",
		Args: func(a *grumble.Args) {
			a.StringList("command", "command line to run")
		},
		Run: func(c *grumble.Context) error {
			args := c.Args.StringList("command")
			if len(args) == 0 {
				return errors.New("usage: exec <command> [args...]")
			}
			out, err := s.Exec(context.Background(), JoinArgs(args))
			if err != nil {
				return err
			}
			c.App.Println(out)
			return nil
		},
	})

	app.AddCommand(&grumble.Command{
		Name:    "disconnect",
		Aliases: []string{"close"},
		Help:    "close the connection",
		Run: func(c *grumble.Context) error {
			if err := s.Disconnect(); err != nil {
				return err
			}
			c.App.SetPrompt(s.Prompt())
			return nil
		},
	})

	app.AddCommand(&grumble.Command{
		Name: "status",
		Help: "show the session state",
		Run: func(c *grumble.Context) error {
			c.App.Println(s.Status())
			return nil
		},
	})
}
