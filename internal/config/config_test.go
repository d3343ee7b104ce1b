package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadEnvRequiresAssetsPath(t *testing.T) {
	t.Setenv("ASSETS_PATH", "")
	_, err := LoadEnv()
	require.Error(t, err)
}

func TestLoadEnvAppliesAddrDefaults(t *testing.T) {
	t.Setenv("ASSETS_PATH", "/tmp/assets.yaml")
	t.Setenv("HEADEND_GRPC_ADDR", "")
	t.Setenv("HEADEND_HTTP_ADDR", "")
	t.Setenv("RESET_DB", "")

	env, err := LoadEnv()
	require.NoError(t, err)
	require.Equal(t, defaultGRPCAddr, env.GRPCAddr)
	require.Equal(t, defaultHTTPAddr, env.HTTPAddr)
	require.False(t, env.ResetDB)
}

func TestLoadEnvParsesResetDB(t *testing.T) {
	t.Setenv("ASSETS_PATH", "/tmp/assets.yaml")
	t.Setenv("RESET_DB", "true")

	env, err := LoadEnv()
	require.NoError(t, err)
	require.True(t, env.ResetDB)
}

func TestLoadEnvRejectsUnparseableResetDB(t *testing.T) {
	t.Setenv("ASSETS_PATH", "/tmp/assets.yaml")
	t.Setenv("RESET_DB", "maybe")

	_, err := LoadEnv()
	require.Error(t, err)
}

func TestLoadAgentEnvRequiresHeadendAddr(t *testing.T) {
	t.Setenv("AGENT_HEADEND_ADDR", "")
	t.Setenv("ASSETS_PATH", "/tmp/assets.yaml")
	_, err := LoadAgentEnv()
	require.Error(t, err)
}

func TestLoadAgentEnvAppliesDefaults(t *testing.T) {
	t.Setenv("AGENT_HEADEND_ADDR", "localhost:7443")
	t.Setenv("ASSETS_PATH", "/tmp/assets.yaml")
	t.Setenv("AGENT_ASSET_IDS", "")
	t.Setenv("AGENT_TICK_INTERVAL", "")
	t.Setenv("AGENT_HEARTBEAT_INTERVAL", "")

	env, err := LoadAgentEnv()
	require.NoError(t, err)
	require.Equal(t, defaultTickInterval, env.TickInterval)
	require.Equal(t, defaultHeartbeatInterval, env.HeartbeatInterval)
	require.Nil(t, env.AssetIDs)
	require.Equal(t, "info", env.LogLevel)
}

func TestLoadAgentEnvParsesAssetIDsAndIntervals(t *testing.T) {
	t.Setenv("AGENT_HEADEND_ADDR", "localhost:7443")
	t.Setenv("ASSETS_PATH", "/tmp/assets.yaml")
	t.Setenv("AGENT_ASSET_IDS", "a,b,c")
	t.Setenv("AGENT_TICK_INTERVAL", "2s")

	env, err := LoadAgentEnv()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, env.AssetIDs)
	require.Equal(t, 2*time.Second, env.TickInterval)
}

func TestLoadOpsConfigEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadOpsConfig("")
	require.NoError(t, err)
	require.Equal(t, Defaults(), cfg)
}

func TestLoadOpsConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ops.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mailbox_capacity: 64\nlog_level: debug\n"), 0o600))

	cfg, err := LoadOpsConfig(path)
	require.NoError(t, err)
	require.Equal(t, 64, cfg.MailboxCapacity)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, Defaults().HeartbeatStaleAfter, cfg.HeartbeatStaleAfter, "unset fields keep defaults")
}

func TestValidateRejectsSmallMailboxCapacity(t *testing.T) {
	cfg := Defaults()
	cfg.MailboxCapacity = 1
	require.Error(t, Validate(&cfg))
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "verbose"
	require.Error(t, Validate(&cfg))
}
