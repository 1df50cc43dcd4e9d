package builder

import (
	"github.com/go-i2p/crypto/ed25519"
	"github.com/go-i2p/crypto/types"
	"github.com/samber/oops"

	"github.com/go-i2p/go-swbn/lib/bundle/integrity"
)

// Signer produces the signature of one signature stack entry.
type Signer interface {
	PublicKey() integrity.Ed25519PublicKey
	Sign(payload []byte) ([]byte, error)
}

// Ed25519Signer signs with an Ed25519 private key.
type Ed25519Signer struct {
	public  integrity.Ed25519PublicKey
	private []byte
	signer  types.Signer
}

var _ Signer = (*Ed25519Signer)(nil)

// GenerateEd25519Signer creates a signer with a fresh key pair.
func GenerateEd25519Signer() (*Ed25519Signer, error) {
	var (
		pub  types.SigningPublicKey
		priv types.SigningPrivateKey
		err  error
	)
	pub, priv, err = ed25519.GenerateEd25519KeyPair()
	if err != nil {
		return nil, oops.Wrapf(err, "failed to generate Ed25519 key pair")
	}
	raw, ok := priv.(interface{ Bytes() []byte })
	if !ok {
		return nil, oops.Errorf("signing private key does not support Bytes()")
	}
	signer, err := priv.NewSigner()
	if err != nil {
		return nil, oops.Wrapf(err, "failed to create signer")
	}
	public, err := integrity.NewEd25519PublicKey(pub.Bytes())
	if err != nil {
		return nil, err
	}
	return &Ed25519Signer{public: public, private: raw.Bytes(), signer: signer}, nil
}

// NewEd25519Signer loads a signer from private key bytes as returned by
// PrivateKeyBytes.
func NewEd25519Signer(privateKey []byte) (*Ed25519Signer, error) {
	key, err := ed25519.NewEd25519PrivateKey(privateKey)
	if err != nil {
		return nil, oops.Wrapf(err, "failed to load Ed25519 private key")
	}
	signer, err := key.NewSigner()
	if err != nil {
		return nil, oops.Wrapf(err, "failed to create signer")
	}
	pub, err := key.Public()
	if err != nil {
		return nil, oops.Wrapf(err, "failed to derive public key")
	}
	public, err := integrity.NewEd25519PublicKey(pub.Bytes())
	if err != nil {
		return nil, err
	}
	return &Ed25519Signer{public: public, private: append([]byte(nil), privateKey...), signer: signer}, nil
}

func (s *Ed25519Signer) PublicKey() integrity.Ed25519PublicKey {
	return s.public
}

func (s *Ed25519Signer) Sign(payload []byte) ([]byte, error) {
	return s.signer.Sign(payload)
}

// PrivateKeyBytes returns a copy of the private key.
func (s *Ed25519Signer) PrivateKeyBytes() []byte {
	return append([]byte(nil), s.private...)
}
