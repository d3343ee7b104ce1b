// Package config provides configuration loading and validation for the
// headend, split into two layers:
//
//   - Env: the five environment variables spec.md §6 fixes as the
//     process's deployment contract (bind addresses, catalogue path,
//     journal DSN, reset flag). Read once at startup; never hot-reloaded.
//   - OpsConfig: an optional YAML file for operational tuning knobs that
//     are safe to change without a restart (mailbox capacity, heartbeat
//     staleness threshold, log level/format). Reloaded on SIGHUP; an
//     invalid reload is logged and the prior OpsConfig is retained
//     rather than crashing the process. A reload replaces the stored
//     OpsConfig only: components built from it at startup (logger,
//     rate limiter) keep their original settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected by the build via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Env is the environment-sourced deployment configuration from spec.md
// §6. AssetsPath is mandatory; both bind addresses have defaults and the
// rest are optional.
type Env struct {
	// AssetsPath is the path to the YAML asset/site catalogue.
	AssetsPath string
	// GRPCAddr is the agent-link bind address, e.g. ":7443".
	GRPCAddr string
	// HTTPAddr is the operator HTTP/JSON API bind address, e.g. ":8080".
	HTTPAddr string
	// DatabaseURL is an opaque path/DSN for the optional journal. Empty
	// means the headend runs without persistence.
	DatabaseURL string
	// ResetDB truncates the journal on startup when true.
	ResetDB bool
}

const (
	defaultGRPCAddr = ":7443"
	defaultHTTPAddr = ":8080"
)

// LoadEnv reads and validates the process environment. A missing
// ASSETS_PATH is a fatal startup error; bind addresses fall back to
// defaults if unset.
func LoadEnv() (Env, error) {
	e := Env{
		AssetsPath:  os.Getenv("ASSETS_PATH"),
		GRPCAddr:    os.Getenv("HEADEND_GRPC_ADDR"),
		HTTPAddr:    os.Getenv("HEADEND_HTTP_ADDR"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
	}
	if e.GRPCAddr == "" {
		e.GRPCAddr = defaultGRPCAddr
	}
	if e.HTTPAddr == "" {
		e.HTTPAddr = defaultHTTPAddr
	}
	if raw := os.Getenv("RESET_DB"); raw != "" {
		truthy, err := strconv.ParseBool(raw)
		if err != nil {
			return Env{}, fmt.Errorf("config.LoadEnv: RESET_DB=%q is not a boolean: %w", raw, err)
		}
		e.ResetDB = truthy
	}

	if e.AssetsPath == "" {
		return Env{}, fmt.Errorf("config.LoadEnv: ASSETS_PATH must be set")
	}
	return e, nil
}

// AgentEnv is the field agent's deployment configuration. Unlike the
// headend's Env, nothing here is specified by spec.md §6 — the wire
// protocol the agent speaks is fixed, but how a given agent process is
// told which assets to simulate and how to dial the headend is left to
// the deployment.
type AgentEnv struct {
	// HeadendAddr is the agent-link gRPC address to dial.
	HeadendAddr string
	// AssetsPath is the same catalogue file the headend loads; the agent
	// reads it to learn each simulated asset's physical parameters.
	AssetsPath string
	// AssetIDs restricts simulation to these catalogue ids. Empty means
	// "every asset in the catalogue" — a single process standing in for
	// every field device, useful for demos and integration tests.
	AssetIDs []string

	TickInterval      time.Duration
	HeartbeatInterval time.Duration

	LogLevel  string
	LogFormat string
}

const (
	defaultTickInterval      = 5 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
)

// LoadAgentEnv reads the agent's environment. ASSETS_PATH and
// AGENT_HEADEND_ADDR are mandatory; everything else defaults.
func LoadAgentEnv() (AgentEnv, error) {
	e := AgentEnv{
		HeadendAddr: os.Getenv("AGENT_HEADEND_ADDR"),
		AssetsPath:  os.Getenv("ASSETS_PATH"),
		LogLevel:    os.Getenv("AGENT_LOG_LEVEL"),
		LogFormat:   os.Getenv("AGENT_LOG_FORMAT"),
	}
	if e.HeadendAddr == "" {
		return AgentEnv{}, fmt.Errorf("config.LoadAgentEnv: AGENT_HEADEND_ADDR must be set")
	}
	if e.AssetsPath == "" {
		return AgentEnv{}, fmt.Errorf("config.LoadAgentEnv: ASSETS_PATH must be set")
	}
	if raw := os.Getenv("AGENT_ASSET_IDS"); raw != "" {
		e.AssetIDs = strings.Split(raw, ",")
	}

	e.TickInterval = defaultTickInterval
	if raw := os.Getenv("AGENT_TICK_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return AgentEnv{}, fmt.Errorf("config.LoadAgentEnv: AGENT_TICK_INTERVAL=%q: %w", raw, err)
		}
		e.TickInterval = d
	}
	e.HeartbeatInterval = defaultHeartbeatInterval
	if raw := os.Getenv("AGENT_HEARTBEAT_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return AgentEnv{}, fmt.Errorf("config.LoadAgentEnv: AGENT_HEARTBEAT_INTERVAL=%q: %w", raw, err)
		}
		e.HeartbeatInterval = d
	}
	if e.LogLevel == "" {
		e.LogLevel = "info"
	}
	if e.LogFormat == "" {
		e.LogFormat = "json"
	}

	return e, nil
}

// OpsConfig holds the operational tuning knobs that are safe to
// hot-reload without restarting the process.
type OpsConfig struct {
	// MailboxCapacity is validated to be >= 32 (spec.md §5). Stream
	// mailboxes are sized by the fixed streamregistry.MailboxCapacity,
	// not by this field.
	MailboxCapacity int `yaml:"mailbox_capacity"`

	// HeartbeatStaleAfter is purely diagnostic (spec.md §5: heartbeat
	// absence never triggers automatic failover). It is validated on
	// load; no component reads it, and the operator /agents listing
	// reports no staleness.
	HeartbeatStaleAfter time.Duration `yaml:"heartbeat_stale_after"`

	// DispatchRateLimitPerSite bounds operator dispatch submissions per
	// site per RateLimitRefillPeriod.
	DispatchRateLimitPerSite int           `yaml:"dispatch_rate_limit_per_site"`
	RateLimitRefillPeriod    time.Duration `yaml:"rate_limit_refill_period"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Defaults returns an OpsConfig populated with conservative defaults.
func Defaults() OpsConfig {
	return OpsConfig{
		MailboxCapacity:          32,
		HeartbeatStaleAfter:      90 * time.Second,
		DispatchRateLimitPerSite: 60,
		RateLimitRefillPeriod:    time.Minute,
		LogLevel:                 "info",
		LogFormat:                "json",
	}
}

// LoadOpsConfig reads an OpsConfig from path, applying Defaults() first
// so an omitted field keeps its default rather than zeroing out. An
// empty path is not an error — it returns Defaults() unchanged, since
// the YAML ops-config file is itself optional.
func LoadOpsConfig(path string) (OpsConfig, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return OpsConfig{}, fmt.Errorf("config.LoadOpsConfig: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return OpsConfig{}, fmt.Errorf("config.LoadOpsConfig: parse %q: %w", path, err)
	}
	if err := Validate(&cfg); err != nil {
		return OpsConfig{}, fmt.Errorf("config.LoadOpsConfig: validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks OpsConfig fields for correctness, returning a single
// error listing every violation found.
func Validate(cfg *OpsConfig) error {
	var errs []string

	if cfg.MailboxCapacity < 32 {
		errs = append(errs, fmt.Sprintf("mailbox_capacity must be >= 32, got %d", cfg.MailboxCapacity))
	}
	if cfg.HeartbeatStaleAfter <= 0 {
		errs = append(errs, fmt.Sprintf("heartbeat_stale_after must be > 0, got %s", cfg.HeartbeatStaleAfter))
	}
	if cfg.DispatchRateLimitPerSite < 1 {
		errs = append(errs, fmt.Sprintf("dispatch_rate_limit_per_site must be >= 1, got %d", cfg.DispatchRateLimitPerSite))
	}
	if cfg.RateLimitRefillPeriod <= 0 {
		errs = append(errs, fmt.Sprintf("rate_limit_refill_period must be > 0, got %s", cfg.RateLimitRefillPeriod))
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log_level must be one of debug/info/warn/error, got %q", cfg.LogLevel))
	}
	switch cfg.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("log_format must be json or console, got %q", cfg.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("ops-config validation errors:\n  - %s", joinStrings(errs, "\n  - "))
	}
	return nil
}

func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}
