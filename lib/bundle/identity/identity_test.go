package identity

import (
	"bytes"
	"net/url"
	"strings"
	"testing"

	"github.com/go-i2p/common/base32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-i2p/go-swbn/lib/bundle/integrity"
)

var testKeyBytes = []byte{
	0x01, 0x23, 0x43, 0x43, 0x33, 0x42, 0x7A, 0x14, 0x42, 0x14, 0xa2, 0xb6, 0xc2, 0xd9, 0xf2, 0x02,
	0x03, 0x42, 0x18, 0x10, 0x12, 0x26, 0x62, 0x88, 0xf6, 0xa3, 0xa5, 0x47, 0x14, 0x69, 0x00, 0x73,
}

const testKeyID = "aerugqztij5biqquuk3mfwpsaibuegaqcitgfchwuosuofdjabzqaaic"

func TestFromEd25519PublicKey(t *testing.T) {
	key, err := integrity.NewEd25519PublicKey(testKeyBytes)
	require.NoError(t, err)

	id := FromEd25519PublicKey(key)
	assert.Equal(t, testKeyID, id.String())
	assert.Equal(t, TypeEd25519PublicKey, id.Type())

	back, ok := id.Ed25519PublicKey()
	require.True(t, ok)
	assert.Equal(t, key, back)

	other, err := integrity.NewEd25519PublicKey(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	assert.Equal(t, "a4dqobyha4dqobyha4dqobyha4dqobyha4dqobyha4dqobyha4dqaaic", FromEd25519PublicKey(other).String())
}

func TestEncodingMatchesI2PBase32(t *testing.T) {
	raw := append(append([]byte{}, testKeyBytes...), ed25519Suffix...)
	encoded := base32.EncodeToString(raw)
	assert.Equal(t, testKeyID, encoded)
	assert.Len(t, encoded, EncodedLength)
	assert.NotContains(t, encoded, "=")

	decoded, err := base32.DecodeString(testKeyID)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)
}

func TestParse(t *testing.T) {
	id, err := Parse(testKeyID)
	require.NoError(t, err)
	assert.Equal(t, TypeEd25519PublicKey, id.Type())
	assert.Equal(t, MustParse(testKeyID), id, "IDs must be comparable with ==")

	proxy, err := Parse("aaaqeayeaudaocajbifqydiob4ibceqtcqkrmfyydenbwha5dypqaaac")
	require.NoError(t, err)
	assert.Equal(t, TypeProxyMode, proxy.Type())
	_, ok := proxy.Ed25519PublicKey()
	assert.False(t, ok)

	tests := []struct {
		name     string
		input    string
		contains string
	}{
		{"empty", "", "exactly 56 characters"},
		{"too short", testKeyID[:55], "exactly 56 characters"},
		{"too long", testKeyID + "a", "exactly 56 characters"},
		{"upper case", strings.ToUpper(testKeyID), "lowercase"},
		{"padding", testKeyID[:54] + "==", "lowercase"},
		{"invalid digit", testKeyID[:55] + "1", "lowercase"},
		{"unknown suffix", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaad", "unknown type suffix"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestNewProxyModeID(t *testing.T) {
	id, err := NewProxyModeID(make([]byte, 32))
	require.NoError(t, err)
	assert.Equal(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaac", id.String())
	assert.Equal(t, TypeProxyMode, id.Type())

	_, err = NewProxyModeID(make([]byte, 31))
	assert.Error(t, err)
}

func TestURLRoundTrip(t *testing.T) {
	id := MustParse(testKeyID)
	assert.Equal(t, "isolated-app://"+testKeyID+"/", id.URL().String())

	u, err := url.Parse("isolated-app://" + testKeyID + "/index.html?x=1#top")
	require.NoError(t, err)
	got, err := FromURL(u)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestFromURLErrors(t *testing.T) {
	https, err := url.Parse("https://" + testKeyID + "/")
	require.NoError(t, err)
	_, err = FromURL(https)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheme must be isolated-app")

	badHost, err := url.Parse("isolated-app://example/")
	require.NoError(t, err)
	_, err = FromURL(badHost)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a valid Signed Web Bundle ID")

	_, err = FromURL(nil)
	assert.Error(t, err)
}

func TestZeroValue(t *testing.T) {
	var id BundleID
	assert.True(t, id.IsZero())
	assert.False(t, MustParse(testKeyID).IsZero())
	assert.Panics(t, func() { MustParse("nope") })
}
