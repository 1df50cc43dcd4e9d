package util

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserHomeReturnsValidPath(t *testing.T) {
	home := UserHome()
	require.NotEmpty(t, home)

	info, err := os.Stat(home)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestCheckFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.swbn")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	assert.True(t, CheckFileExists(path))
	assert.True(t, CheckFileExists(dir))
	assert.False(t, CheckFileExists(filepath.Join(dir, "missing")))
}

func TestCheckRegularFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "key.yaml")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	assert.True(t, CheckRegularFile(path))
	assert.False(t, CheckRegularFile(dir), "directories are not regular files")
	assert.False(t, CheckRegularFile(filepath.Join(dir, "missing")))
}

type recordingCloser struct {
	name  string
	order *[]string
	err   error
}

func (c *recordingCloser) Close() error {
	*c.order = append(*c.order, c.name)
	return c.err
}

func TestRegisterAndCloseAll(t *testing.T) {
	var order []string
	RegisterCloser("first", &recordingCloser{name: "first", order: &order})
	RegisterCloser("second", &recordingCloser{name: "second", order: &order, err: errors.New("boom")})
	RegisterCloser("third", &recordingCloser{name: "third", order: &order})

	err := CloseAll()
	assert.Equal(t, []string{"third", "second", "first"}, order, "closers run in reverse order, errors do not stop the sweep")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close second")
	assert.Contains(t, err.Error(), "boom")

	assert.NoError(t, CloseAll())
	assert.Len(t, order, 3, "list is cleared after CloseAll")
}

func TestContextReader(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewContextReader(ctx, strings.NewReader("bundle bytes"))

	buf := make([]byte, 6)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "bundle", string(buf[:n]))

	cancel()
	_, err = r.Read(buf)
	assert.ErrorIs(t, err, context.Canceled)
}
