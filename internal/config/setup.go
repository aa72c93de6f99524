package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// RunSetupWizard asks for the essential server settings on in, writing
// prompts to out, then validates and saves the configuration.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	w := &wizard{reader: bufio.NewReader(in), out: out}

	fmt.Fprintln(out, "╔══════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║          RCON Server - First Run Setup       ║")
	fmt.Fprintln(out, "╚══════════════════════════════════════════════╝")
	fmt.Fprintln(out)

	cfg.mu.Lock()

	fmt.Fprintln(out, "── RCON Listener ──")
	cfg.Server.Address = w.promptString("Listen address", cfg.Server.Address)
	cfg.Server.Port = w.promptInt("Listen port", cfg.Server.Port)
	cfg.Server.Password = w.promptPassword("RCON password", cfg.Server.Password)
	cfg.Server.MaxPasswordTries = uint(w.promptInt("Password tries before disconnect", int(cfg.Server.MaxPasswordTries)))
	cfg.Server.UseUTF8 = w.promptBool("Use UTF-8 payloads", cfg.Server.UseUTF8)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── IP Whitelist ──")
	cfg.Server.EnableIPWhitelist = w.promptBool("Enable IP whitelist", cfg.Server.EnableIPWhitelist)
	if cfg.Server.EnableIPWhitelist {
		list := w.promptString("Allowed patterns (comma separated, * is a wildcard)", strings.Join(cfg.Server.IPWhitelist, ","))
		cfg.Server.IPWhitelist = splitList(list)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Admin API ──")
	cfg.API.Enabled = w.promptBool("Enable admin API", cfg.API.Enabled)
	if cfg.API.Enabled {
		cfg.API.Port = w.promptInt("Admin API port", cfg.API.Port)
		cfg.API.Token = w.promptPassword("Admin API token (empty allows local requests only)", cfg.API.Token)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── MQTT Telemetry ──")
	cfg.MQTT.Enabled = w.promptBool("Enable MQTT telemetry", cfg.MQTT.Enabled)
	if cfg.MQTT.Enabled {
		cfg.MQTT.BrokerURL = w.promptString("MQTT broker host", cfg.MQTT.BrokerURL)
		cfg.MQTT.Port = w.promptInt("MQTT broker port", cfg.MQTT.Port)
	}

	cfg.mu.Unlock()

	result := Validate(cfg)
	if !result.IsValid() {
		fmt.Fprintln(out, "\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		if w.promptBool("Would you like to try again?", true) && !w.eof {
			return RunSetupWizard(cfg, w.reader, out)
		}
		return fmt.Errorf("configuration validation failed")
	}

	for _, warn := range result.Warnings {
		log.Warn().Str("field", warn.Field).Msg(warn.Message)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "✓ Configuration saved to %s\n", cfg.Path())
	fmt.Fprintln(out)

	return nil
}

type wizard struct {
	reader *bufio.Reader
	out    io.Writer
	eof    bool
}

func (w *wizard) readLine() string {
	input, err := w.reader.ReadString('\n')
	if err != nil {
		w.eof = true
	}
	return strings.TrimSpace(input)
}

func (w *wizard) promptString(prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(w.out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(w.out, "  %s: ", prompt)
	}

	input := w.readLine()
	if input == "" {
		return defaultVal
	}
	return input
}

// promptPassword never echoes the current value.
func (w *wizard) promptPassword(prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(w.out, "  %s [keep current]: ", prompt)
	} else {
		fmt.Fprintf(w.out, "  %s: ", prompt)
	}

	input := w.readLine()
	if input == "" {
		return defaultVal
	}
	return input
}

func (w *wizard) promptInt(prompt string, defaultVal int) int {
	fmt.Fprintf(w.out, "  %s [%d]: ", prompt, defaultVal)

	input := w.readLine()
	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(w.out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func (w *wizard) promptBool(prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Fprintf(w.out, "  %s [%s]: ", prompt, defaultStr)

	input := strings.ToLower(w.readLine())
	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
