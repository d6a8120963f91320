package config

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	BindFlags(cmd.Flags())
	return cmd
}

func TestLoad_UsesDefaultsWhenUnset(t *testing.T) {
	cfg, err := Load(newTestCommand(), "")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "localhost:6379", cfg.RedisURL)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.VisibilityTimeout)
}

func TestLoad_FlagOverridesDefault(t *testing.T) {
	cmd := newTestCommand()
	require.NoError(t, cmd.Flags().Set("listen-addr", ":9090"))
	require.NoError(t, cmd.Flags().Set("concurrency", "10"))

	cfg, err := Load(cmd, "")
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, 10, cfg.Concurrency)
}

func TestLoad_EnvVarOverridesDefault(t *testing.T) {
	t.Setenv("JOBCTL_REDIS_URL", "redis.internal:6379")
	cfg, err := Load(newTestCommand(), "")
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6379", cfg.RedisURL)
}
