// Package integrity holds the validated value types of a Signed Web Bundle
// integrity block and builds the payload its signatures cover.
package integrity

import (
	"encoding/hex"

	"github.com/samber/oops"
)

const (
	Ed25519PublicKeySize = 32
	Ed25519SignatureSize = 64
)

// Ed25519PublicKey is a public key of exactly 32 bytes.
type Ed25519PublicKey struct {
	key [Ed25519PublicKeySize]byte
}

// NewEd25519PublicKey validates the length of b and copies it.
func NewEd25519PublicKey(b []byte) (Ed25519PublicKey, error) {
	var k Ed25519PublicKey
	if len(b) != Ed25519PublicKeySize {
		return k, oops.Errorf("Invalid public key size: expected %d bytes, got %d", Ed25519PublicKeySize, len(b))
	}
	copy(k.key[:], b)
	return k, nil
}

// Bytes returns a copy of the key.
func (k Ed25519PublicKey) Bytes() []byte {
	out := make([]byte, Ed25519PublicKeySize)
	copy(out, k.key[:])
	return out
}

func (k Ed25519PublicKey) String() string {
	return hex.EncodeToString(k.key[:])
}

// Ed25519Signature is a signature of exactly 64 bytes.
type Ed25519Signature struct {
	sig [Ed25519SignatureSize]byte
}

// NewEd25519Signature validates the length of b and copies it.
func NewEd25519Signature(b []byte) (Ed25519Signature, error) {
	var s Ed25519Signature
	if len(b) != Ed25519SignatureSize {
		return s, oops.Errorf("Invalid signature size: expected %d bytes, got %d", Ed25519SignatureSize, len(b))
	}
	copy(s.sig[:], b)
	return s, nil
}

// Bytes returns a copy of the signature.
func (s Ed25519Signature) Bytes() []byte {
	out := make([]byte, Ed25519SignatureSize)
	copy(out, s.sig[:])
	return out
}
