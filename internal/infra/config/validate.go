package config

import (
	"fmt"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateClient(cfg, ve)
	validateReconnect(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validAuthModes = map[string]bool{
	AuthModeQuery: true,
	AuthModeLogin: true,
	AuthModeToken: true,
	AuthModeNone:  true,
}

func validateClient(cfg *Config, ve *ValidationError) {
	c := cfg.Client
	if c.Host == "" {
		ve.Add("client.host must not be empty")
	}
	if strings.Contains(c.Host, "://") {
		ve.Add("client.host %q must not include a scheme", c.Host)
	}
	if !strings.HasPrefix(c.Path, "/") {
		ve.Add("client.path %q must start with /", c.Path)
	}
	if !validAuthModes[c.AuthMode] {
		ve.Add("client.auth_mode %q is not one of query, login, token, none", c.AuthMode)
	}
	if validAuthModes[c.AuthMode] && c.AuthMode != AuthModeNone && c.SessionToken == "" {
		ve.Add("client.session_token must be set when auth_mode is %q", c.AuthMode)
	}
	if c.DialTimeout <= 0 {
		ve.Add("client.dial_timeout must be > 0")
	}
	if c.WriteTimeout <= 0 {
		ve.Add("client.write_timeout must be > 0")
	}
	if c.SendRate < 0 {
		ve.Add("client.send_rate must be >= 0")
	}
	if c.SendRate > 0 && c.SendBurst <= 0 {
		ve.Add("client.send_burst must be > 0 when send_rate is set")
	}
}

func validateReconnect(cfg *Config, ve *ValidationError) {
	r := cfg.Reconnect
	if !r.Enabled {
		return
	}
	if r.MaxAttempts <= 0 {
		ve.Add("reconnect.max_attempts must be > 0 when reconnect is enabled")
	}
	if r.BaseDelay <= 0 {
		ve.Add("reconnect.base_delay must be > 0")
	}
	if r.MaxDelay < r.BaseDelay {
		ve.Add("reconnect.max_delay must be >= base_delay")
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is not one of text, json", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is not one of noop, stdout", cfg.Tracer.Exporter)
	}
}
