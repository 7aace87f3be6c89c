package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func resetViper() {
	viper.Reset()
}

func TestLoadConfigFromEnvAppliesDefaults(t *testing.T) {
	resetViper()
	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "memory", cfg.Cache.Backend)
	require.True(t, cfg.SSRF.BlockAlternateEncoding)
	require.Equal(t, 3, cfg.Verification.MaxConcurrentVerifications)
}

func TestLoadConfigFromEnvHonorsLiteralEnvNames(t *testing.T) {
	resetViper()
	require.NoError(t, os.Setenv("WEB_FETCH_ALLOW_PRIVATE_IPS", "true"))
	defer os.Unsetenv("WEB_FETCH_ALLOW_PRIVATE_IPS")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	require.True(t, cfg.SSRF.WebFetchAllowPrivateIPs)
}

func TestValidateRejectsBadPort(t *testing.T) {
	resetViper()
	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	cfg.Server.Port = 0
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownCacheBackend(t *testing.T) {
	resetViper()
	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	cfg.Cache.Backend = "postgres"
	require.Error(t, cfg.Validate())
}
