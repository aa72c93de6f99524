// Package config holds the configuration of the RCON server, client, admin
// API and telemetry. Values come from code defaults, overlaid by a JSON
// config file, environment variables and command-line flags, in that order.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultAddress          = "0.0.0.0"
	DefaultPort             = 27015
	DefaultAPIPort          = 27016
	DefaultPassword         = "changeme"
	DefaultMaxPasswordTries = 3
	DefaultDialTimeout      = 10 * time.Second
	DefaultConfigFile       = "rcon.json"

	// EnvPrefix prefixes every environment variable read by ApplyEnv.
	EnvPrefix = "RCON_"
)

// DefaultIPWhitelist is the whitelist used when none is configured.
var DefaultIPWhitelist = []string{"127.0.0.1", "192.*.*.*"}

// Config is the root configuration for the RCON server process.
type Config struct {
	mu   sync.RWMutex
	path string

	Server  ServerConfig  `json:"server"`
	API     APIConfig     `json:"api"`
	MQTT    MQTTConfig    `json:"mqtt"`
	Health  HealthConfig  `json:"health"`
	Logging LoggingConfig `json:"logging"`
}

// ServerConfig is the RCON listener configuration. It is a plain value:
// every connection receives its own copy when it is accepted.
type ServerConfig struct {
	Address  string `json:"address"`
	Port     int    `json:"port"`
	Password string `json:"password"`

	// MaxPasswordTries is how many wrong passwords a client may send
	// before it is disconnected. Zero disconnects after the first try.
	MaxPasswordTries uint `json:"max_password_tries"`

	// SendAuthImmediately skips the empty RESPONSE_VALUE packet that is
	// normally sent before the auth reply, for clients that do not expect it.
	SendAuthImmediately bool `json:"send_auth_immediately"`

	// InvalidPacketKick disconnects an authenticated client that sends a
	// packet other than EXECCOMMAND.
	InvalidPacketKick bool `json:"invalid_packet_kick"`

	// EmptyPayloadKick disconnects a client that sends an empty command.
	EmptyPayloadKick bool `json:"empty_payload_kick"`

	EnableIPWhitelist bool     `json:"enable_ip_whitelist"`
	IPWhitelist       []string `json:"ip_whitelist"`

	UseUTF8 bool `json:"use_utf8"`

	// UseCustomCommandHandler routes commands missing from the registry to
	// the listener's custom handler instead of replying "Invalid command".
	UseCustomCommandHandler bool `json:"use_custom_command_handler"`
}

// ClientConfig is the configuration of an outbound RCON session.
type ClientConfig struct {
	Host        string        `json:"host"`
	Port        int           `json:"port"`
	Password    string        `json:"password"`
	UseUTF8     bool          `json:"use_utf8"`
	DialTimeout time.Duration `json:"dial_timeout"`
}

// APIConfig configures the HTTP status/admin API.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Address        string   `json:"address"`
	Port           int      `json:"port"`
	Token          string   `json:"token"`
	AllowedOrigins []string `json:"allowed_origins"`
	// AllowedIPs are wildcard patterns as in the RCON whitelist; empty
	// allows every address.
	AllowedIPs     []string `json:"allowed_ips"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
}

// HealthConfig controls the periodic stats report and host load checks.
// Intervals are in seconds; zero disables the check.
type HealthConfig struct {
	StatsInterval     int     `json:"stats_interval"`
	LoadCheckInterval int     `json:"load_check_interval"`
	CPUWarnPercent    float64 `json:"cpu_warn_percent"`
	MemoryWarnPercent float64 `json:"memory_warn_percent"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultServerConfig returns the listener defaults.
func DefaultServerConfig() ServerConfig {
	wl := make([]string, len(DefaultIPWhitelist))
	copy(wl, DefaultIPWhitelist)

	return ServerConfig{
		Address:           DefaultAddress,
		Port:              DefaultPort,
		Password:          DefaultPassword,
		MaxPasswordTries:  DefaultMaxPasswordTries,
		InvalidPacketKick: true,
		EmptyPayloadKick:  true,
		EnableIPWhitelist: true,
		IPWhitelist:       wl,
	}
}

// DefaultClientConfig returns the client defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Host:        "127.0.0.1",
		Port:        DefaultPort,
		DialTimeout: DefaultDialTimeout,
	}
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: DefaultServerConfig(),
		API: APIConfig{
			Enabled:      false,
			Address:      "127.0.0.1",
			Port:         DefaultAPIPort,
			RateLimitRPS: 20,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			Port:        1883,
			TopicPrefix: "rcon",
		},
		Health: HealthConfig{
			StatsInterval:     60,
			LoadCheckInterval: 300,
			CPUWarnPercent:    90,
			MemoryWarnPercent: 90,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxBackups: 5,
		},
	}
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Address, strconv.Itoa(s.Port))
}

// Clone returns a deep copy, so the whitelist slice is not shared.
func (s ServerConfig) Clone() ServerConfig {
	cp := s
	cp.IPWhitelist = make([]string, len(s.IPWhitelist))
	copy(cp.IPWhitelist, s.IPWhitelist)
	return cp
}

// Addr returns the dial address in host:port form.
func (c ClientConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Addr returns the API listen address in host:port form.
func (a APIConfig) Addr() string {
	return net.JoinHostPort(a.Address, strconv.Itoa(a.Port))
}

// Load reads the configuration file at path over the defaults. A missing
// file is created with the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", path).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = path
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.path = path
	log.Info().Str("path", path).Msg("configuration loaded")
	return cfg, nil
}

// Path returns the file the configuration is saved to.
func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// SetPath changes the file the configuration is saved to.
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// Save writes the configuration to its file. The file holds the RCON
// password, so it is created owner-readable only.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		return fmt.Errorf("config has no file path")
	}
	if dir := filepath.Dir(c.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// IsFirstRun reports whether the RCON password is still the stock default.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server.Password == DefaultPassword || c.Server.Password == ""
}

// GetServer returns a copy of the server configuration.
func (c *Config) GetServer() ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server.Clone()
}

// SetServer replaces the server configuration.
func (c *Config) SetServer(s ServerConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Server = s.Clone()
}

// GetAPI returns a copy of the API configuration.
func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.API
}

// GetHealth returns a copy of the health check configuration.
func (c *Config) GetHealth() HealthConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Health
}

// GetMQTT returns a copy of the MQTT configuration.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

// ApplyEnv overlays RCON_* environment variables onto the configuration.
// Unset variables leave the current value; malformed ones are an error.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := envReader{lookup: lookup}

	e.str("ADDRESS", &c.Server.Address)
	e.int("PORT", &c.Server.Port)
	e.str("PASSWORD", &c.Server.Password)
	e.uint("MAX_PASSWORD_TRIES", &c.Server.MaxPasswordTries)
	e.bool("SEND_AUTH_IMMEDIATELY", &c.Server.SendAuthImmediately)
	e.bool("INVALID_PACKET_KICK", &c.Server.InvalidPacketKick)
	e.bool("EMPTY_PAYLOAD_KICK", &c.Server.EmptyPayloadKick)
	e.bool("ENABLE_IP_WHITELIST", &c.Server.EnableIPWhitelist)
	e.list("IP_WHITELIST", &c.Server.IPWhitelist)
	e.bool("USE_UTF8", &c.Server.UseUTF8)

	e.bool("API_ENABLED", &c.API.Enabled)
	e.str("API_ADDRESS", &c.API.Address)
	e.int("API_PORT", &c.API.Port)
	e.str("API_TOKEN", &c.API.Token)
	e.list("API_ALLOWED_ORIGINS", &c.API.AllowedOrigins)
	e.list("API_ALLOWED_IPS", &c.API.AllowedIPs)
	e.int("API_RATE_LIMIT_RPS", &c.API.RateLimitRPS)

	e.bool("MQTT_ENABLED", &c.MQTT.Enabled)
	e.str("MQTT_BROKER_URL", &c.MQTT.BrokerURL)
	e.int("MQTT_PORT", &c.MQTT.Port)
	e.bool("MQTT_USE_TLS", &c.MQTT.UseTLS)
	e.str("MQTT_CLIENT_ID", &c.MQTT.ClientID)
	e.str("MQTT_USERNAME", &c.MQTT.Username)
	e.str("MQTT_PASSWORD", &c.MQTT.Password)
	e.str("MQTT_TOPIC_PREFIX", &c.MQTT.TopicPrefix)

	e.int("HEALTH_STATS_INTERVAL", &c.Health.StatsInterval)
	e.int("HEALTH_LOAD_CHECK_INTERVAL", &c.Health.LoadCheckInterval)

	e.str("LOG_LEVEL", &c.Logging.Level)
	e.str("LOG_DIRECTORY", &c.Logging.Directory)

	if e.err != nil {
		return e.err
	}
	if e.applied > 0 {
		log.Debug().Int("count", e.applied).Msg("applied environment overrides")
	}
	return nil
}

// envReader parses RCON_* variables, keeping the first error.
type envReader struct {
	lookup  func(string) (string, bool)
	err     error
	applied int
}

func (e *envReader) get(key string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	v, ok := e.lookup(EnvPrefix + key)
	if ok {
		e.applied++
	}
	return v, ok
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			e.err = fmt.Errorf("invalid %s%s %q: %w", EnvPrefix, key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) uint(key string, dst *uint) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
		if err != nil {
			e.err = fmt.Errorf("invalid %s%s %q: %w", EnvPrefix, key, v, err)
			return
		}
		*dst = uint(n)
	}
}

func (e *envReader) bool(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			e.err = fmt.Errorf("invalid %s%s %q: %w", EnvPrefix, key, v, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) list(key string, dst *[]string) {
	if v, ok := e.get(key); ok {
		*dst = splitList(v)
	}
}
