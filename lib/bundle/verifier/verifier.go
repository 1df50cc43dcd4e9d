// Package verifier checks the signatures of a Signed Web Bundle against the
// bytes of the bundle file.
package verifier

import (
	"context"
	"crypto/sha512"
	"io"

	"github.com/go-i2p/crypto/ed25519"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"golang.org/x/sync/errgroup"

	"github.com/go-i2p/go-swbn/lib/bundle/files"
	"github.com/go-i2p/go-swbn/lib/bundle/integrity"
	"github.com/go-i2p/go-swbn/lib/util"
)

var log = logger.GetGoI2PLogger()

// SignatureVerifier verifies every signature of an integrity block.
type SignatureVerifier interface {
	VerifySignatures(ctx context.Context, file files.File, block *integrity.IntegrityBlock) error
}

// Ed25519Verifier verifies Ed25519 signature stacks. Entries are checked
// concurrently; verification fails if any entry fails.
type Ed25519Verifier struct {
	// Concurrency bounds the number of entries checked at once. Zero means
	// no bound.
	Concurrency int
}

var _ SignatureVerifier = (*Ed25519Verifier)(nil)

// NewEd25519Verifier returns a verifier with no concurrency bound.
func NewEd25519Verifier() *Ed25519Verifier {
	return &Ed25519Verifier{}
}

// VerifySignatures implements SignatureVerifier.
func (v *Ed25519Verifier) VerifySignatures(ctx context.Context, file files.File, block *integrity.IntegrityBlock) error {
	if block == nil {
		return oops.Errorf("no integrity block to verify")
	}
	hash, err := HashWebBundle(ctx, file, block.Size())
	if err != nil {
		return err
	}
	header, err := block.Header()
	if err != nil {
		return err
	}

	stack := block.SignatureStack()
	failures := make([]error, len(stack))
	g, gctx := errgroup.WithContext(ctx)
	if v.Concurrency > 0 {
		g.SetLimit(v.Concurrency)
	}
	for i, entry := range stack {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			payload := integrity.SignaturePayload(hash, header, entry.AttributesBytes())
			if err := verifyEntry(entry, payload); err != nil {
				failures[i] = oops.Errorf("Failed to verify signature %d: %v", i, err)
				return failures[i]
			}
			return nil
		})
	}
	waitErr := g.Wait()
	for _, failure := range failures {
		if failure != nil {
			log.WithError(failure).WithFields(logger.Fields{
				"at":         "(Ed25519Verifier) VerifySignatures",
				"signatures": len(stack),
			}).Warn("signature verification failed")
			return failure
		}
	}
	if waitErr != nil {
		return waitErr
	}

	log.WithFields(logger.Fields{
		"at":         "(Ed25519Verifier) VerifySignatures",
		"signatures": len(stack),
	}).Debug("all signatures verified")
	return nil
}

func verifyEntry(entry integrity.SignatureStackEntry, payload []byte) error {
	verifier, err := ed25519.Ed25519PublicKey(entry.PublicKey().Bytes()).NewVerifier()
	if err != nil {
		return err
	}
	return verifier.Verify(payload, entry.Signature().Bytes())
}

// HashWebBundle returns the SHA-512 of the bytes of file after the
// integrity block.
func HashWebBundle(ctx context.Context, file files.File, integrityBlockSize uint64) ([]byte, error) {
	size, err := files.Size(file)
	if err != nil {
		return nil, err
	}
	if integrityBlockSize > uint64(size) {
		return nil, oops.Errorf("integrity block size %d exceeds file size %d", integrityBlockSize, size)
	}
	h := sha512.New()
	section := io.NewSectionReader(file, int64(integrityBlockSize), size-int64(integrityBlockSize))
	if _, err := io.Copy(h, util.NewContextReader(ctx, section)); err != nil {
		return nil, oops.Wrapf(err, "hashing web bundle")
	}
	return h.Sum(nil), nil
}
