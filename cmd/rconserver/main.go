// rconserver runs a Source RCON server with the stock console commands,
// an optional HTTP admin API and optional MQTT telemetry.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/IT-Hock/source-rcon-library/internal/api"
	"github.com/IT-Hock/source-rcon-library/internal/command"
	"github.com/IT-Hock/source-rcon-library/internal/config"
	"github.com/IT-Hock/source-rcon-library/internal/events"
	"github.com/IT-Hock/source-rcon-library/internal/health"
	"github.com/IT-Hock/source-rcon-library/internal/network"
	"github.com/IT-Hock/source-rcon-library/internal/telemetry"
	"github.com/IT-Hock/source-rcon-library/internal/util"
)

const Banner = `
  ____   ____ ___  _   _
 |  _ \ / ___/ _ \| \ | |
 | |_) | |  | | | |  \| |
 |  _ <| |__| |_| | |\  |
 |_| \_\\____\___/|_| \_|  v%s
 Source RCON Server
`

type flags struct {
	configPath string
	setup      bool
	address    string
	port       int
	password   string
	logLevel   string
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.configPath, "config", config.DefaultConfigFile, "path to the JSON config file")
	flag.BoolVar(&f.setup, "setup", false, "run the setup wizard and exit")
	flag.StringVar(&f.address, "address", "", "listen address (overrides config)")
	flag.IntVar(&f.port, "port", 0, "listen port (overrides config)")
	flag.StringVar(&f.password, "password", "", "RCON password (overrides config)")
	flag.StringVar(&f.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	flag.Parse()
	return f
}

func main() {
	f := parseFlags()

	fmt.Printf(Banner, util.Version)
	fmt.Println()

	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", util.Version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Msg("starting RCON server")

	cfg, err := config.Load(f.configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.ApplyEnv(); err != nil {
		log.Fatal().Err(err).Msg("invalid environment configuration")
	}
	applyFlags(cfg, f)

	logCfg := util.DefaultLogConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Directory = cfg.Logging.Directory
	logCfg.MaxBackups = cfg.Logging.MaxBackups
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	if f.setup || (cfg.IsFirstRun() && term.IsTerminal(int(os.Stdin.Fd()))) {
		log.Info().Msg("launching setup wizard")
		if err := config.RunSetupWizard(cfg, os.Stdin, os.Stdout); err != nil {
			log.Fatal().Err(err).Msg("setup wizard failed")
		}
		if f.setup {
			return
		}
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()

	registry := command.NewRegistry()
	command.RegisterBuiltins(registry)

	serverCfg := cfg.GetServer()
	listener := network.NewListener(serverCfg, registry, eventBus)
	if serverCfg.UseCustomCommandHandler {
		listener.SetCustomCommandHandler(func(name string, args []string) string {
			log.Debug().Str("command", name).Strs("args", args).Msg("unknown command")
			return fmt.Sprintf("Unknown command %q, try help", name)
		})
	}

	var apiServer *api.Server
	if apiCfg := cfg.GetAPI(); apiCfg.Enabled {
		apiServer = api.NewServer(apiCfg, listener, eventBus, cfg.Logging.Level)
	}

	healthMgr := health.NewManager(cfg.GetHealth(), eventBus, listener)

	var mqttHandler *telemetry.MQTTHandler
	mqttHandler, err = telemetry.NewMQTTHandler(cfg.GetMQTT(), eventBus)
	if err != nil {
		if !errors.Is(err, telemetry.ErrDisabled) {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
		mqttHandler = nil
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := startWithRetry(ctx, "RCON listener", listener.Listen, 5); err != nil {
			errCh <- fmt.Errorf("rcon listener: %w", err)
			return
		}
		if err := listener.Serve(ctx); err != nil {
			errCh <- fmt.Errorf("rcon listener: %w", err)
		}
	}()

	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		healthMgr.Start(ctx)
	}()

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")

	eventBus.EmitSync(ctx, events.NewEvent(events.EventShutdown, "main", nil))
	cancel()

	closed := listener.CloseAll()
	log.Info().Int("connections", closed).Msg("closed RCON connections")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("shutdown timed out after 15 seconds, forcing exit")
	}

	eventBus.Stop()
	log.Info().Msg("RCON server stopped")
}

func applyFlags(cfg *config.Config, f flags) {
	s := cfg.GetServer()
	if f.address != "" {
		s.Address = f.address
	}
	if f.port != 0 {
		s.Port = f.port
	}
	if f.password != "" {
		s.Password = f.password
	}
	cfg.SetServer(s)

	if f.logLevel != "" {
		cfg.Logging.Level = strings.ToLower(f.logLevel)
	}
}

// startWithRetry retries startFn on bind errors with a fixed 3-second
// interval, returning the last error once maxRetries is exhausted.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil || errors.Is(lastErr, context.Canceled) {
			return lastErr
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-time.After(3 * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}
