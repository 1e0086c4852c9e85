package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"graphlink/internal/adapter/graphclient"
	"graphlink/internal/infra/config"
	"graphlink/internal/infra/logger"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

func runDoctor() error {
	cfgPath := configPath()
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Session token", Fn: checkSessionToken},
		{Name: "Reconnect policy", Fn: checkReconnect},
		{Name: "Graph service", Fn: checkConnectivity},
	}

	fmt.Println("graphlink doctor")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Printf("  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Printf("      Fix: %s\n", result.Fix)
		}
		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)
	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return textSuccess.Render("[PASS]")
	case StatusWarn:
		return textWarning.Render("[WARN]")
	case StatusFail:
		return textError.Render("[FAIL]")
	default:
		return "[????]"
	}
}

// checkConfigFile reports whether the config file exists and loads. A
// missing file is only a warning since defaults and env vars may suffice.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Check " + cfgPath + " syntax and file permissions (0600)",
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults and environment", cfgPath),
			}
		}
		return CheckResult{Status: StatusPass, Message: "config loaded from " + cfgPath}
	}
}

func checkSessionToken(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "config not loaded"}
	}
	c := cfg.Client
	if c.AuthMode == config.AuthModeNone {
		return CheckResult{Status: StatusWarn, Message: "auth_mode is none; the server must allow anonymous sessions"}
	}
	if c.SessionToken == "" {
		return CheckResult{
			Status:  StatusFail,
			Message: "no session token for auth_mode " + c.AuthMode,
			Fix:     "Set GRAPHLINK_SESSION_TOKEN or client.session_token",
		}
	}
	return CheckResult{Status: StatusPass, Message: "session token present (" + c.AuthMode + ")"}
}

func checkReconnect(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "config not loaded"}
	}
	if !cfg.Reconnect.Enabled {
		return CheckResult{Status: StatusWarn, Message: "disabled; subscriptions end when the connection drops"}
	}
	r := cfg.Reconnect
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("up to %d attempts, %s to %s backoff", r.MaxAttempts, r.BaseDelay, r.MaxDelay),
	}
}

// checkConnectivity opens a session and closes it again.
func checkConnectivity(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "config not loaded"}
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Client.DialTimeout+5*time.Second)
	defer cancel()

	rt := &app{cfg: cfg, log: logger.Discard()}
	start := time.Now()
	conn, err := graphclient.Dial(ctx, endpointFor(cfg.Client), clientOptions(rt)...)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot open session with %s: %v", cfg.Client.Host, err),
			Fix:     "Check client.host, client.path and that the service is running",
		}
	}
	_ = conn.Close()
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("session opened with %s in %s", cfg.Client.Host, time.Since(start).Round(time.Millisecond)),
	}
}
