package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-i2p/go-swbn/lib/bundle/reader"
	"github.com/go-i2p/go-swbn/lib/config"
)

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Registry.CleanupInterval = time.Minute
	cfg.Verification.SkipVerifiedThisSession = true

	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, opts.CleanupInterval)
	assert.True(t, opts.SkipVerifiedThisSession)
	assert.Equal(t, cfg.Reader.OperationTimeout, opts.OperationTimeout)
	assert.NotNil(t, opts.Files)
	assert.NotNil(t, opts.Parsers)
	assert.NotNil(t, opts.Verifier)
	assert.NotNil(t, opts.Validator)

	cfg.Verification.TrustedPublicKeys = []string{"not hex"}
	_, err = OptionsFromConfig(cfg)
	assert.Error(t, err)
}

func TestDefaultCollaboratorsServeBundleFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.swbn")
	mem := afero.NewMemMapFs()
	id := writeBundle(t, mem, "/app.swbn", bundleSpec{})
	data, err := afero.ReadFile(mem, "/app.swbn")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, config.StandardFilePermissions))

	opts, err := OptionsFromConfig(config.Defaults())
	require.NoError(t, err)
	reg, err := New(opts)
	require.NoError(t, err)
	defer reg.Close()

	request, err := reader.NewRequest(id.URL().String() + "app.js")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	resp, err := reg.Fetch(ctx, path, id, request)
	require.NoError(t, err)
	assert.Equal(t, "main()", readBody(t, resp))
}
