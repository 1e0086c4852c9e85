package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Client.Host = ""
	cfg.Client.Path = "connect"
	cfg.Client.AuthMode = "magic"
	cfg.Logger.Format = "xml"

	err := Validate(cfg)
	require.Error(t, err)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Errors, 4)
	assert.True(t, strings.HasPrefix(err.Error(), "config validation failed:"))
}

func TestValidateTokenRequiredForAuthMode(t *testing.T) {
	for _, mode := range []string{AuthModeQuery, AuthModeLogin, AuthModeToken} {
		cfg := Defaults()
		cfg.Client.AuthMode = mode
		err := Validate(cfg)
		require.Error(t, err, mode)
		assert.Contains(t, err.Error(), "session_token", mode)

		cfg.Client.SessionToken = "t"
		assert.NoError(t, Validate(cfg), mode)
	}
}

func TestValidateReconnect(t *testing.T) {
	cfg := Defaults()
	cfg.Reconnect.Enabled = true
	cfg.Reconnect.MaxAttempts = 0
	cfg.Reconnect.MaxDelay = cfg.Reconnect.BaseDelay / 2

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_attempts")
	assert.Contains(t, err.Error(), "max_delay")

	// Disabled policy is not checked.
	cfg.Reconnect.Enabled = false
	assert.NoError(t, Validate(cfg))
}

func TestValidateHostScheme(t *testing.T) {
	cfg := Defaults()
	cfg.Client.Host = "ws://example.com"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheme")
}

func TestValidateRateLimiter(t *testing.T) {
	cfg := Defaults()
	cfg.Client.SendRate = 10
	cfg.Client.SendBurst = 0
	assert.Error(t, Validate(cfg))

	cfg.Client.SendBurst = 4
	assert.NoError(t, Validate(cfg))
}

func TestValidateTracerExporter(t *testing.T) {
	cfg := Defaults()
	cfg.Tracer.Enabled = true
	cfg.Tracer.Exporter = "jaeger"
	assert.Error(t, Validate(cfg))
}
