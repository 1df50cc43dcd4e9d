package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/go-i2p/go-swbn/lib/bundle/identity"
	"github.com/go-i2p/go-swbn/lib/bundle/registry"
	"github.com/go-i2p/go-swbn/lib/config"
)

type workspace struct {
	t       *testing.T
	dir     string
	cfgFile string
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	dir := t.TempDir()
	w := &workspace{t: t, dir: dir, cfgFile: filepath.Join(dir, "config.yaml")}
	require.NoError(t, os.WriteFile(w.cfgFile, []byte("registry:\n  cleanup_interval: 1m\n"), config.StandardFilePermissions))

	site := filepath.Join(dir, "site")
	require.NoError(t, os.MkdirAll(filepath.Join(site, "js"), config.StandardDirPermissions))
	require.NoError(t, os.WriteFile(filepath.Join(site, "index.html"), []byte("<h1>home</h1>"), config.StandardFilePermissions))
	require.NoError(t, os.WriteFile(filepath.Join(site, "js", "app.js"), []byte("start()"), config.StandardFilePermissions))
	t.Cleanup(func() {
		viper.Reset()
		config.CfgFile = ""
	})
	return w
}

func (w *workspace) path(name string) string { return filepath.Join(w.dir, name) }

func (w *workspace) run(args ...string) (string, error) {
	w.t.Helper()
	viper.Reset()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", w.cfgFile}, args...))
	err := root.Execute()
	return out.String(), err
}

func (w *workspace) keygenAndBuild() identity.BundleID {
	w.t.Helper()
	out, err := w.run("keygen", "--out", w.path("key.yaml"))
	require.NoError(w.t, err)
	id, err := identity.Parse(strings.TrimSpace(out))
	require.NoError(w.t, err)

	_, err = w.run("build", "--key", w.path("key.yaml"), "--dir", w.path("site"), "--out", w.path("app.swbn"))
	require.NoError(w.t, err)
	return id
}

func TestKeygenRefusesToOverwrite(t *testing.T) {
	w := newWorkspace(t)
	_, err := w.run("keygen", "--out", w.path("key.yaml"))
	require.NoError(t, err)
	info, err := os.Stat(w.path("key.yaml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(config.SecureFilePermissions), info.Mode().Perm())

	_, err = w.run("keygen", "--out", w.path("key.yaml"))
	assert.Error(t, err)
	_, err = w.run("keygen", "--out", w.path("key.yaml"), "--force")
	assert.NoError(t, err)
}

func TestKeyFileRoundTrip(t *testing.T) {
	w := newWorkspace(t)
	out, err := w.run("keygen", "--out", w.path("key.yaml"))
	require.NoError(t, err)

	signer, err := loadKeyFile(w.path("key.yaml"))
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSpace(out), identity.FromEd25519PublicKey(signer.PublicKey()).String())

	require.NoError(t, os.WriteFile(w.path("bad.yaml"), []byte("private_key: zz\n"), config.SecureFilePermissions))
	_, err = loadKeyFile(w.path("bad.yaml"))
	assert.Error(t, err)
}

func TestBuildInspectAndCat(t *testing.T) {
	w := newWorkspace(t)
	id := w.keygenAndBuild()

	out, err := w.run("inspect", w.path("app.swbn"))
	require.NoError(t, err)
	var report inspectReport
	require.NoError(t, yaml.Unmarshal([]byte(out), &report))
	assert.Equal(t, id.String(), report.BundleID)
	assert.Equal(t, "2b", report.IntegrityBlock.Version)
	assert.Equal(t, id.String(), report.IntegrityBlock.WebBundleID)
	require.Len(t, report.IntegrityBlock.Signatures, 1)
	assert.Equal(t, id.String(), report.IntegrityBlock.Signatures[0].DerivedID)
	assert.Equal(t, id.URL().String(), report.PrimaryURL)
	var urls []string
	for _, e := range report.Entries {
		urls = append(urls, e.URL)
	}
	origin := id.URL().String()
	assert.Equal(t, []string{origin, origin + "index.html", origin + "js/app.js"}, urls)
	assert.True(t, report.Verified)
	assert.True(t, report.Valid)
	assert.Empty(t, report.Problems)

	out, err = w.run("cat", w.path("app.swbn"), "/js/app.js", "--id", id.String())
	require.NoError(t, err)
	assert.Equal(t, "start()", out)

	_, err = w.run("cat", w.path("app.swbn"), "/nope.css", "--id", id.String())
	require.Error(t, err)
	assert.Equal(t, "Failed to read response: no response found for "+origin+"nope.css", err.Error())
}

func TestInspectReportsWrongID(t *testing.T) {
	w := newWorkspace(t)
	w.keygenAndBuild()
	other := identity.MustParse("aerugqztij5biqquuk3mfwpsaibuegaqcitgfchwuosuofdjabzqaaic")

	out, err := w.run("inspect", w.path("app.swbn"), "--id", other.String())
	require.NoError(t, err)
	var report inspectReport
	require.NoError(t, yaml.Unmarshal([]byte(out), &report))
	assert.True(t, report.Verified)
	assert.False(t, report.Valid)
	require.NotEmpty(t, report.Problems)
	assert.True(t, strings.HasPrefix(report.Problems[0], registry.UntrustedKeysPrefix), report.Problems[0])
}

func TestCatRejectsUntrustedBundle(t *testing.T) {
	w := newWorkspace(t)
	w.keygenAndBuild()
	other := identity.MustParse("aerugqztij5biqquuk3mfwpsaibuegaqcitgfchwuosuofdjabzqaaic")

	_, err := w.run("cat", w.path("app.swbn"), "/", "--id", other.String())
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "Public keys of the Isolated Web App are untrusted: "), err.Error())
}

func TestBuildFailsOnEmptyDirectory(t *testing.T) {
	w := newWorkspace(t)
	_, err := w.run("keygen", "--out", w.path("key.yaml"))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(w.path("empty"), config.StandardDirPermissions))

	_, err = w.run("build", "--key", w.path("key.yaml"), "--dir", w.path("empty"), "--out", w.path("app.swbn"))
	assert.Error(t, err)
}
