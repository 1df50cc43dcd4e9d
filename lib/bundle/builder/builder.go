// Package builder writes Signed Web Bundles: a web bundle of responses
// followed by an integrity block carrying one signature per signer.
package builder

import (
	"crypto/sha512"
	"net/url"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"

	"github.com/go-i2p/go-swbn/lib/bundle/identity"
	"github.com/go-i2p/go-swbn/lib/bundle/integrity"
	"github.com/go-i2p/go-swbn/lib/bundle/parser"
)

var log = logger.GetGoI2PLogger()

// Builder collects responses for a web bundle. The first error encountered
// is reported by Build.
type Builder struct {
	primaryURL *string
	responses  map[string][]byte
	err        error
}

func New() *Builder {
	return &Builder{responses: make(map[string][]byte)}
}

// SetPrimaryURL sets the primary URL of the bundle.
func (b *Builder) SetPrimaryURL(u string) *Builder {
	b.primaryURL = &u
	return b
}

// AddResponse adds the response served for rawURL. rawURL is stored in its
// url.URL.String form; a later response for the same URL replaces the earlier one.
func (b *Builder) AddResponse(rawURL string, status int, headers map[string]string, body []byte) *Builder {
	if b.err != nil {
		return b
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		b.err = oops.Wrapf(err, "invalid response URL %q", rawURL)
		return b
	}
	item, err := parser.EncodeResponse(status, headers, body)
	if err != nil {
		b.err = err
		return b
	}
	b.responses[u.String()] = item
	return b
}

// Len returns the number of responses added so far.
func (b *Builder) Len() int {
	return len(b.responses)
}

// Build returns the unsigned web bundle.
func (b *Builder) Build() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	return parser.EncodeWebBundle(b.primaryURL, b.responses)
}

// Sign prepends a v2 integrity block for id, signed by signers in order,
// to webBundle.
func Sign(webBundle []byte, id identity.BundleID, signers ...Signer) ([]byte, error) {
	if id.IsZero() {
		return nil, oops.Errorf("a v2 integrity block needs a web bundle ID")
	}
	return sign(webBundle, parser.IntegrityBlockV2, id.String(), signers)
}

// SignV1 prepends a v1 integrity block, which has no attributes, to webBundle.
func SignV1(webBundle []byte, signers ...Signer) ([]byte, error) {
	return sign(webBundle, parser.IntegrityBlockV1, "", signers)
}

func sign(webBundle []byte, version, webBundleID string, signers []Signer) ([]byte, error) {
	if len(signers) == 0 {
		return nil, oops.Errorf("at least one signer is required")
	}
	hash := sha512.Sum512(webBundle)
	header, err := parser.EncodeIntegrityBlock(version, webBundleID, nil)
	if err != nil {
		return nil, err
	}
	entries := make([][]byte, 0, len(signers))
	for i, signer := range signers {
		attributes, err := parser.EncodeSignatureAttributes(signer.PublicKey().Bytes())
		if err != nil {
			return nil, err
		}
		signature, err := signer.Sign(integrity.SignaturePayload(hash[:], header, attributes))
		if err != nil {
			return nil, oops.Wrapf(err, "signer %d failed", i)
		}
		entry, err := parser.EncodeSignatureStackEntry(attributes, signature)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	block, err := parser.EncodeIntegrityBlock(version, webBundleID, entries)
	if err != nil {
		return nil, err
	}
	log.WithFields(logger.Fields{
		"at":         "builder.sign",
		"version":    version,
		"signatures": len(entries),
		"size":       len(block) + len(webBundle),
	}).Debug("signed web bundle")
	return append(block, webBundle...), nil
}
