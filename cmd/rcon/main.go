// rcon is an interactive Source RCON console.
//
//	rcon -a 10.0.0.5 -p 27015
//	rcon -a 10.0.0.5 -P secret exec status
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/desertbit/grumble"
	"github.com/rs/zerolog/log"

	"github.com/IT-Hock/source-rcon-library/internal/cli"
	"github.com/IT-Hock/source-rcon-library/internal/config"
	"github.com/IT-Hock/source-rcon-library/internal/util"
)

const banner = `
  ____   ____ ___  _   _
 |  _ \ / ___/ _ \| \ | |
 | |_) | |  | | | |  \| |
 |  _ <| |__| |_| | |\  |
 |_| \_\\____\___/|_| \_|  console v%s

`

func main() {
	logCfg := util.DefaultLogConfig()
	logCfg.AppName = "rcon-console"
	logCfg.Level = "warn"
	if err := util.InitLogger(logCfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	shell := cli.NewShell(config.DefaultClientConfig())
	app := setupCLI(shell)
	shell.AddCommands(app)

	if err := app.Run(); err != nil {
		log.Fatal().Msg(err.Error())
	}
}

// setupCLI creates the grumble app. The shell is configured in OnInit, once
// the global flags are parsed.
func setupCLI(shell *cli.Shell) *grumble.App {
	var histFile string
	home, err := os.UserHomeDir()
	if err != nil {
		histFile = ".rcon_history"
	} else {
		histFile = filepath.Join(home, ".rcon_history")
	}

	defaults := config.DefaultClientConfig()

	app := grumble.New(&grumble.Config{
		Name:        "rcon",
		Description: "Source RCON console",
		HistoryFile: histFile,
		Prompt:      "rcon » ",
		Flags: func(f *grumble.Flags) {
			f.String("a", "address", "", "server host to connect to on start")
			f.Int("p", "port", defaults.Port, "server port")
			f.String("P", "password", "", "RCON password, prompted when needed")
			f.Bool("u", "utf8", false, "exchange UTF-8 instead of ASCII payloads")
			f.Duration("t", "timeout", defaults.DialTimeout, "dial timeout")
		},
	})

	app.SetPrintASCIILogo(func(a *grumble.App) {
		fmt.Printf(banner, util.Version)
	})

	app.OnInit(func(a *grumble.App, flags grumble.FlagMap) error {
		cfg := config.DefaultClientConfig()
		cfg.Port = flags.Int("port")
		cfg.Password = flags.String("password")
		cfg.UseUTF8 = flags.Bool("utf8")
		cfg.DialTimeout = flags.Duration("timeout")
		if env, ok := os.LookupEnv(config.EnvPrefix + "PASSWORD"); ok && cfg.Password == "" {
			cfg.Password = env
		}

		shell.Configure(cfg)

		host := flags.String("address")
		if host == "" {
			return nil
		}

		ctx := context.Background()
		if err := shell.Connect(ctx, host, cfg.Port); err != nil {
			return err
		}
		if cfg.Password != "" {
			if err := shell.Authenticate(ctx, cfg.Password); err != nil {
				return err
			}
		}
		a.SetPrompt(shell.Prompt())
		return nil
	})

	return app
}
