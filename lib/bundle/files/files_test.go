package files

import (
	"errors"
	"io"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAferoProviderOpenAndDuplicate(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/bundles/app.swbn", []byte("0123456789"), 0o644))

	p := NewAferoProvider(fs)
	f, err := p.Open("/bundles/app.swbn")
	require.NoError(t, err)
	defer f.Close()

	dup, err := p.Duplicate(f)
	require.NoError(t, err)

	// Closing the duplicate must not affect the original handle.
	require.NoError(t, dup.Close())

	buf := make([]byte, 4)
	n, err := f.ReadAt(buf, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "3456", string(buf))

	size, err := Size(f)
	require.NoError(t, err)
	assert.EqualValues(t, 10, size)
}

func TestAferoProviderOpenMissingFile(t *testing.T) {
	p := NewAferoProvider(afero.NewMemMapFs())
	_, err := p.Open("/missing.swbn")
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist), "os error must stay inspectable: %v", err)
}

func TestAferoProviderRejectsDirectories(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/bundles", 0o755))

	_, err := NewAferoProvider(fs).Open("/bundles")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is a directory")
}

func TestAferoProviderIsReadOnly(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/app.swbn", []byte("abc"), 0o644))

	f, err := NewAferoProvider(fs).Open("/app.swbn")
	require.NoError(t, err)
	defer f.Close()

	w, ok := f.(io.Writer)
	require.True(t, ok)
	_, err = w.Write([]byte("x"))
	assert.Error(t, err, "bundle handles must not be writable")
}

func TestDuplicateNil(t *testing.T) {
	_, err := NewAferoProvider(afero.NewMemMapFs()).Duplicate(nil)
	assert.Error(t, err)
}
