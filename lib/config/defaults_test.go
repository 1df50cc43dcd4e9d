package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, 10*time.Minute, cfg.Registry.CleanupInterval)

	assert.Equal(t, 30*time.Second, cfg.Reader.OperationTimeout)
	assert.Equal(t, time.Second, cfg.Reader.ReconnectInterval)
	assert.Equal(t, 1, cfg.Reader.ReconnectBurst)
	assert.Equal(t, 30*time.Second, cfg.Reader.ReconnectTimeout)

	assert.False(t, cfg.Verification.SkipVerifiedThisSession)
	assert.False(t, cfg.Verification.AllowDevMode)
	assert.Empty(t, cfg.Verification.TrustedPublicKeys)

	assert.Equal(t, uint64(64*1024), cfg.Parser.MaxIntegrityBlockSize)
	assert.Equal(t, uint64(16*1024*1024), cfg.Parser.MaxMetadataSize)
	assert.Equal(t, 100000, cfg.Parser.MaxEntries)

	assert.Equal(t, "localhost:7680", cfg.Serve.Address)
	assert.Empty(t, cfg.Serve.Bundles)

	require.NoError(t, Validate(cfg))
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ConfigDefaults)
		message string
	}{
		{
			name:    "cleanup interval",
			mutate:  func(c *ConfigDefaults) { c.Registry.CleanupInterval = 500 * time.Millisecond },
			message: "Registry.CleanupInterval must be at least 1 second",
		},
		{
			name:    "operation timeout",
			mutate:  func(c *ConfigDefaults) { c.Reader.OperationTimeout = 0 },
			message: "Reader.OperationTimeout must be at least 1 second",
		},
		{
			name:    "reconnect burst",
			mutate:  func(c *ConfigDefaults) { c.Reader.ReconnectBurst = 0 },
			message: "Reader.ReconnectBurst must be at least 1",
		},
		{
			name:    "reconnect timeout",
			mutate:  func(c *ConfigDefaults) { c.Reader.ReconnectTimeout = 100 * time.Millisecond },
			message: "Reader.ReconnectTimeout must be >= ReconnectInterval",
		},
		{
			name:    "trusted key",
			mutate:  func(c *ConfigDefaults) { c.Verification.TrustedPublicKeys = []string{"abcd"} },
			message: "Verification.TrustedPublicKeys entries must be 64 hex characters",
		},
		{
			name:    "trusted key not hex",
			mutate:  func(c *ConfigDefaults) { c.Verification.TrustedPublicKeys = []string{strings.Repeat("zz", 32)} },
			message: "Verification.TrustedPublicKeys entries must be 64 hex characters",
		},
		{
			name:    "max entries",
			mutate:  func(c *ConfigDefaults) { c.Parser.MaxEntries = 0 },
			message: "Parser.MaxEntries must be at least 1",
		},
		{
			name:    "serve bundle",
			mutate:  func(c *ConfigDefaults) { c.Serve.Bundles = []BundleSource{{Path: "/app.swbn"}} },
			message: "Serve.Bundles entries need both a path and an id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Equal(t, "configuration validation failed: "+tt.message, err.Error())
		})
	}
}

func TestValidateAcceptsTrustedKeys(t *testing.T) {
	cfg := Defaults()
	cfg.Verification.TrustedPublicKeys = []string{strings.Repeat("aB", 32)}
	assert.NoError(t, Validate(cfg))
}
