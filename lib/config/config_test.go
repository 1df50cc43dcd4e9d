package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	CfgFile = ""
	t.Cleanup(func() {
		viper.Reset()
		CfgFile = ""
	})
}

// TestDefaultsRoundTrip verifies that every default set by setDefaults is
// read back under the same key.
func TestDefaultsRoundTrip(t *testing.T) {
	resetViper(t)
	setDefaults()

	cfg, err := NewBundleConfigFromViper()
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestInitConfigReadsFile(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()
	CfgFile = filepath.Join(dir, "swbn.yaml")
	require.NoError(t, os.WriteFile(CfgFile, []byte(`
registry:
  cleanup_interval: 2m
verification:
  skip_verified_this_session: true
serve:
  address: 127.0.0.1:9000
  bundles:
    - path: /srv/app.swbn
      id: aerugqztij5biqquuk3mfwpsaibuegaqcitgfchwuosuofdjabzqaaic
`), StandardFilePermissions))

	require.NoError(t, InitConfig())
	cfg, err := NewBundleConfigFromViper()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, cfg.Registry.CleanupInterval)
	assert.True(t, cfg.Verification.SkipVerifiedThisSession)
	assert.Equal(t, "127.0.0.1:9000", cfg.Serve.Address)
	require.Len(t, cfg.Serve.Bundles, 1)
	assert.Equal(t, BundleSource{
		Path: "/srv/app.swbn",
		ID:   "aerugqztij5biqquuk3mfwpsaibuegaqcitgfchwuosuofdjabzqaaic",
	}, cfg.Serve.Bundles[0])
	assert.Equal(t, 30*time.Second, cfg.Reader.OperationTimeout)
}

func TestEnvironmentOverrides(t *testing.T) {
	resetViper(t)
	t.Setenv("SWBN_READER_RECONNECT_BURST", "4")
	dir := t.TempDir()
	CfgFile = filepath.Join(dir, "swbn.yaml")
	require.NoError(t, os.WriteFile(CfgFile, []byte("parser:\n  max_entries: 10\n"), StandardFilePermissions))

	require.NoError(t, InitConfig())
	cfg, err := NewBundleConfigFromViper()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Reader.ReconnectBurst)
	assert.Equal(t, 10, cfg.Parser.MaxEntries)
}

func TestInitConfigMissingExplicitFile(t *testing.T) {
	resetViper(t)
	CfgFile = filepath.Join(t.TempDir(), "missing.yaml")
	assert.Error(t, InitConfig())
}

func TestInvalidFileIsRejected(t *testing.T) {
	resetViper(t)
	CfgFile = filepath.Join(t.TempDir(), "swbn.yaml")
	require.NoError(t, os.WriteFile(CfgFile, []byte("registry:\n  cleanup_interval: 10ms\n"), StandardFilePermissions))
	require.NoError(t, InitConfig())

	_, err := NewBundleConfigFromViper()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Registry.CleanupInterval")
}

func TestBuildConfigDirPath(t *testing.T) {
	assert.Equal(t, GOSWBN_BASE_DIR, filepath.Base(BuildConfigDirPath()))
}
