package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/IT-Hock/source-rcon-library/internal/whitelist"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs validation of the whole configuration.
func Validate(cfg *Config) *ValidationResult {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	result := &ValidationResult{}

	ValidateServer(cfg.Server, result)
	validateAPI(&cfg.API, result)
	validateMQTT(&cfg.MQTT, result)

	if cfg.API.Enabled && cfg.API.Port == cfg.Server.Port {
		result.AddError("api.port", fmt.Sprintf("port conflict: API and RCON both use %d", cfg.API.Port))
	}

	return result
}

// ValidateServer checks a listener configuration.
func ValidateServer(s ServerConfig, result *ValidationResult) {
	if net.ParseIP(s.Address) == nil && s.Address != "" && s.Address != "localhost" {
		result.AddError("server.address", fmt.Sprintf("not an IP address: %s", s.Address))
	}

	validatePort(s.Port, "server.port", result)

	if s.Password == "" {
		result.AddError("server.password", "RCON password is required")
	} else if s.Password == DefaultPassword {
		result.AddWarning("server.password", "RCON password is the default, change it before exposing the server")
	}

	if s.MaxPasswordTries == 0 {
		result.AddWarning("server.max_password_tries", "clients are disconnected after the first wrong password")
	}

	if s.EnableIPWhitelist {
		if len(s.IPWhitelist) == 0 {
			result.AddWarning("server.ip_whitelist", "whitelist is enabled but empty, every connection will be rejected")
		}
		for _, p := range s.IPWhitelist {
			if !whitelist.ValidPattern(p) {
				result.AddError("server.ip_whitelist", fmt.Sprintf("invalid pattern %q (expected four octets or *)", p))
			}
		}
	} else {
		result.AddWarning("server.enable_ip_whitelist", "IP whitelist is disabled, any host may attempt to authenticate")
	}
}

func validateAPI(api *APIConfig, result *ValidationResult) {
	if !api.Enabled {
		return
	}

	validatePort(api.Port, "api.port", result)

	if api.Token == "" && !isLoopback(api.Address) {
		result.AddError("api.token", "an API token is required when the API listens on a non-loopback address")
	}

	for _, p := range api.AllowedIPs {
		if !whitelist.ValidPattern(p) {
			result.AddError("api.allowed_ips", fmt.Sprintf("invalid IP pattern: %s", p))
		}
	}

	if api.TLSEnabled && (strings.TrimSpace(api.TLSCertFile) == "") != (strings.TrimSpace(api.TLSKeyFile) == "") {
		result.AddError("api.tls", "tls_cert_file and tls_key_file must be set together")
	}

	if api.RateLimitRPS < 1 {
		result.AddWarning("api.rate_limit_rps", "rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
}

func validateMQTT(m *MQTTConfig, result *ValidationResult) {
	if !m.Enabled {
		return
	}
	if strings.TrimSpace(m.BrokerURL) == "" {
		result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
	}
	if m.Port < 1 || m.Port > 65535 {
		result.AddError("mqtt.port", "invalid MQTT port")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 0 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 0-65535)", port))
		return
	}
	if port > 0 && port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

func isLoopback(address string) bool {
	if address == "localhost" {
		return true
	}
	ip := net.ParseIP(address)
	return ip != nil && ip.IsLoopback()
}
