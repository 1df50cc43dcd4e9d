// Package identity implements the Signed Web Bundle ID: a lowercase base32
// string naming an Isolated Web App, and its isolated-app:// origin.
package identity

import (
	"bytes"
	"net/url"

	"github.com/go-i2p/common/base32"
	"github.com/samber/oops"

	"github.com/go-i2p/go-swbn/lib/bundle/integrity"
)

// Scheme is the URL scheme of Isolated Web App origins.
const Scheme = "isolated-app"

const (
	// EncodedLength is the length of the textual form of an ID.
	EncodedLength = 56
	decodedLength = 35
	suffixLength  = 3
)

// Type tells what the 32 identity bytes of an ID are.
type Type int

const (
	// TypeEd25519PublicKey IDs carry the Ed25519 public key of the signer.
	TypeEd25519PublicKey Type = iota
	// TypeProxyMode IDs are random and used for apps served from a dev proxy.
	TypeProxyMode
)

func (t Type) String() string {
	switch t {
	case TypeEd25519PublicKey:
		return "ed25519"
	case TypeProxyMode:
		return "proxy-mode"
	default:
		return "unknown"
	}
}

var (
	ed25519Suffix   = []byte{0x00, 0x01, 0x02}
	proxyModeSuffix = []byte{0x00, 0x00, 0x02}
)

// BundleID is an immutable Signed Web Bundle ID. The zero value is invalid.
// BundleIDs are comparable with ==.
type BundleID struct {
	encoded string
	typ     Type
}

// Parse validates s and returns the ID it encodes.
func Parse(s string) (BundleID, error) {
	if len(s) != EncodedLength {
		return BundleID{}, oops.Errorf("The signed web bundle ID must be exactly %d characters long, but was %d characters long.", EncodedLength, len(s))
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z' || c >= '2' && c <= '7') {
			return BundleID{}, oops.Errorf("The signed web bundle ID must only contain lowercase ASCII characters and digits between 2 and 7 (without any padding).")
		}
	}
	decoded, err := base32.DecodeString(s)
	if err != nil || len(decoded) != decodedLength {
		return BundleID{}, oops.Errorf("The signed web bundle ID could not be decoded from its base32 representation.")
	}
	suffix := decoded[decodedLength-suffixLength:]
	switch {
	case bytes.Equal(suffix, ed25519Suffix):
		return BundleID{encoded: s, typ: TypeEd25519PublicKey}, nil
	case bytes.Equal(suffix, proxyModeSuffix):
		return BundleID{encoded: s, typ: TypeProxyMode}, nil
	default:
		return BundleID{}, oops.Errorf("The signed web bundle ID has an unknown type suffix %x.", suffix)
	}
}

// MustParse is Parse for constants; it panics on error.
func MustParse(s string) BundleID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// FromEd25519PublicKey derives the ID of the app signed by key.
func FromEd25519PublicKey(key integrity.Ed25519PublicKey) BundleID {
	return fromBytes(key.Bytes(), ed25519Suffix, TypeEd25519PublicKey)
}

// NewProxyModeID builds a proxy-mode ID from 32 random bytes.
func NewProxyModeID(random []byte) (BundleID, error) {
	if len(random) != decodedLength-suffixLength {
		return BundleID{}, oops.Errorf("proxy-mode ID needs %d bytes, got %d", decodedLength-suffixLength, len(random))
	}
	return fromBytes(random, proxyModeSuffix, TypeProxyMode), nil
}

func fromBytes(body, suffix []byte, typ Type) BundleID {
	raw := make([]byte, 0, decodedLength)
	raw = append(raw, body...)
	raw = append(raw, suffix...)
	return BundleID{encoded: base32.EncodeToString(raw), typ: typ}
}

// FromURL extracts the ID from an isolated-app:// URL.
func FromURL(u *url.URL) (BundleID, error) {
	if u == nil {
		return BundleID{}, oops.Errorf("The URL is empty.")
	}
	if u.Scheme != Scheme {
		return BundleID{}, oops.Errorf("The URL scheme must be %s, but was %s", Scheme, u.Scheme)
	}
	id, err := Parse(u.Host)
	if err != nil {
		return BundleID{}, oops.Wrapf(err, "The host of the URL is not a valid Signed Web Bundle ID")
	}
	return id, nil
}

func (id BundleID) String() string { return id.encoded }

func (id BundleID) Type() Type { return id.typ }

// IsZero reports whether id is the zero value.
func (id BundleID) IsZero() bool { return id.encoded == "" }

// URL returns the origin of the app, isolated-app://<id>/.
func (id BundleID) URL() *url.URL {
	return &url.URL{Scheme: Scheme, Host: id.encoded, Path: "/"}
}

// Ed25519PublicKey returns the key an Ed25519-type ID was derived from.
func (id BundleID) Ed25519PublicKey() (integrity.Ed25519PublicKey, bool) {
	if id.typ != TypeEd25519PublicKey {
		return integrity.Ed25519PublicKey{}, false
	}
	decoded, err := base32.DecodeString(id.encoded)
	if err != nil || len(decoded) != decodedLength {
		return integrity.Ed25519PublicKey{}, false
	}
	key, err := integrity.NewEd25519PublicKey(decoded[:integrity.Ed25519PublicKeySize])
	return key, err == nil
}
