// Package validator decides whether a Signed Web Bundle may be served under a
// claimed Signed Web Bundle ID: whether its signers are trusted for that ID
// and whether its metadata only names URLs inside the app's origin.
package validator

import (
	"net/url"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"

	"github.com/go-i2p/go-swbn/lib/bundle/identity"
	"github.com/go-i2p/go-swbn/lib/bundle/integrity"
)

var log = logger.GetGoI2PLogger()

// Validator validates the two untrusted parts of a bundle.
type Validator interface {
	ValidateIntegrityBlock(id identity.BundleID, keys []integrity.Ed25519PublicKey) error
	ValidateMetadata(id identity.BundleID, primaryURL *url.URL, entryURLs []*url.URL) error
}

// BundleValidator is the default Validator.
type BundleValidator struct {
	trust TrustChecker
}

var _ Validator = (*BundleValidator)(nil)

// New returns a validator that consults trust for the signature stack.
func New(trust TrustChecker) *BundleValidator {
	if trust == nil {
		trust = AllowAll{}
	}
	return &BundleValidator{trust: trust}
}

// ValidateIntegrityBlock checks that the bundle is signed and that the
// signers are trusted for id.
func (v *BundleValidator) ValidateIntegrityBlock(id identity.BundleID, keys []integrity.Ed25519PublicKey) error {
	if len(keys) == 0 {
		return oops.Errorf("The Signed Web Bundle must have at least one signature.")
	}
	if err := v.trust.CheckTrust(id, keys); err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"at":         "(BundleValidator) ValidateIntegrityBlock",
			"bundle_id":  id.String(),
			"signatures": len(keys),
		}).Warn("signature stack is not trusted")
		return err
	}
	return nil
}

// ValidateMetadata checks the primary URL and every entry URL against id.
func (v *BundleValidator) ValidateMetadata(id identity.BundleID, primaryURL *url.URL, entryURLs []*url.URL) error {
	expected := id.URL()
	if primaryURL == nil || primaryURL.String() != expected.String() {
		actual := "<none>"
		if primaryURL != nil {
			actual = primaryURL.String()
		}
		return oops.Errorf("Invalid metadata: Primary URL must be %s, but was %s", expected, actual)
	}

	for _, entry := range entryURLs {
		entryID, err := identity.FromURL(entry)
		if err != nil {
			return oops.Errorf("Invalid metadata: The URL of an exchange is invalid: %s: %s", entry, err.Error())
		}
		if entryID != id {
			return oops.Errorf("Invalid metadata: The URL of an exchange contains the wrong Signed Web Bundle ID: %s (expected %s)", entry, id)
		}
		if entry.Fragment != "" || entry.RawFragment != "" {
			return oops.Errorf("Invalid metadata: The URL of an exchange is invalid: URLs must not have a fragment part: %s", entry)
		}
		if entry.RawQuery != "" || entry.ForceQuery {
			return oops.Errorf("Invalid metadata: The URL of an exchange is invalid: URLs must not have a query part: %s", entry)
		}
	}
	return nil
}
