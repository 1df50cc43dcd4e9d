package validator

import (
	"encoding/hex"

	"github.com/samber/oops"

	"github.com/go-i2p/go-swbn/lib/bundle/identity"
	"github.com/go-i2p/go-swbn/lib/bundle/integrity"
)

// TrustChecker decides whether a signature stack is trusted for an ID.
type TrustChecker interface {
	CheckTrust(id identity.BundleID, keys []integrity.Ed25519PublicKey) error
}

// AllowAll trusts every signature stack.
type AllowAll struct{}

func (AllowAll) CheckTrust(identity.BundleID, []integrity.Ed25519PublicKey) error {
	return nil
}

// KeyDerivedTrust trusts a stack when one of its keys derives the ID, or when
// one of its keys is explicitly trusted. Proxy-mode IDs are trusted only in
// dev mode.
type KeyDerivedTrust struct {
	trusted      map[integrity.Ed25519PublicKey]struct{}
	allowDevMode bool
}

var _ TrustChecker = (*KeyDerivedTrust)(nil)

// NewKeyDerivedTrust builds a checker from hex encoded trusted keys.
func NewKeyDerivedTrust(trustedKeys []string, allowDevMode bool) (*KeyDerivedTrust, error) {
	t := &KeyDerivedTrust{
		trusted:      make(map[integrity.Ed25519PublicKey]struct{}, len(trustedKeys)),
		allowDevMode: allowDevMode,
	}
	for _, encoded := range trustedKeys {
		raw, err := hex.DecodeString(encoded)
		if err != nil {
			return nil, oops.Wrapf(err, "trusted public key %q is not hex", encoded)
		}
		key, err := integrity.NewEd25519PublicKey(raw)
		if err != nil {
			return nil, err
		}
		t.trusted[key] = struct{}{}
	}
	return t, nil
}

func (t *KeyDerivedTrust) CheckTrust(id identity.BundleID, keys []integrity.Ed25519PublicKey) error {
	switch id.Type() {
	case identity.TypeProxyMode:
		if t.allowDevMode {
			return nil
		}
	case identity.TypeEd25519PublicKey:
		for _, key := range keys {
			if identity.FromEd25519PublicKey(key) == id {
				return nil
			}
		}
	}
	for _, key := range keys {
		if _, ok := t.trusted[key]; ok {
			return nil
		}
	}
	return oops.Errorf("None of the %d public key(s) in the signature stack are trusted for %s.", len(keys), id)
}
