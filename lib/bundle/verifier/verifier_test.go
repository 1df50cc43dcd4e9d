package verifier

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-i2p/go-swbn/lib/bundle/builder"
	"github.com/go-i2p/go-swbn/lib/bundle/files"
	"github.com/go-i2p/go-swbn/lib/bundle/identity"
	"github.com/go-i2p/go-swbn/lib/bundle/integrity"
	"github.com/go-i2p/go-swbn/lib/bundle/parser"
)

// brokenSigner claims a real public key but signs with zeros.
type brokenSigner struct {
	builder.Signer
}

func (brokenSigner) Sign([]byte) ([]byte, error) {
	return make([]byte, 64), nil
}

func signedBundle(t *testing.T, signers ...builder.Signer) []byte {
	t.Helper()
	id := identity.FromEd25519PublicKey(signers[0].PublicKey())
	webBundle, err := builder.New().
		SetPrimaryURL(id.URL().String()).
		AddResponse(id.URL().String(), 200, map[string]string{"content-type": "text/plain"}, []byte("hello")).
		Build()
	require.NoError(t, err)
	signed, err := builder.Sign(webBundle, id, signers...)
	require.NoError(t, err)
	return signed
}

func openBlock(t *testing.T, data []byte) (files.File, *integrity.IntegrityBlock) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/app.swbn", data, 0o644))
	provider := files.NewAferoProvider(fs)

	parserFile, err := provider.Open("/app.swbn")
	require.NoError(t, err)
	factory, err := parser.NewCBORFactory(parser.DefaultLimits())
	require.NoError(t, err)
	p, err := factory.Open(context.Background(), parserFile)
	require.NoError(t, err)
	defer p.Close()
	raw, err := p.ParseIntegrityBlock(context.Background())
	require.NoError(t, err)
	block, err := integrity.NewIntegrityBlock(raw)
	require.NoError(t, err)

	f, err := provider.Open("/app.swbn")
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f, block
}

func newSigner(t *testing.T) *builder.Ed25519Signer {
	t.Helper()
	s, err := builder.GenerateEd25519Signer()
	require.NoError(t, err)
	return s
}

func TestVerifySignatures(t *testing.T) {
	f, block := openBlock(t, signedBundle(t, newSigner(t), newSigner(t), newSigner(t)))
	assert.NoError(t, NewEd25519Verifier().VerifySignatures(context.Background(), f, block))

	limited := &Ed25519Verifier{Concurrency: 1}
	assert.NoError(t, limited.VerifySignatures(context.Background(), f, block))
}

func TestVerifySignaturesDetectsTampering(t *testing.T) {
	data := signedBundle(t, newSigner(t))
	data[len(data)-1] ^= 0xff

	f, block := openBlock(t, data)
	err := NewEd25519Verifier().VerifySignatures(context.Background(), f, block)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to verify signature 0: ")
}

func TestVerifySignaturesReportsFailingEntry(t *testing.T) {
	good := newSigner(t)
	bad := brokenSigner{Signer: newSigner(t)}
	f, block := openBlock(t, signedBundle(t, good, bad))

	err := NewEd25519Verifier().VerifySignatures(context.Background(), f, block)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to verify signature 1: ")
}

func TestVerifySignaturesCancelled(t *testing.T) {
	f, block := openBlock(t, signedBundle(t, newSigner(t)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewEd25519Verifier().VerifySignatures(ctx, f, block)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHashWebBundle(t *testing.T) {
	data := signedBundle(t, newSigner(t))
	f, block := openBlock(t, data)

	hash, err := HashWebBundle(context.Background(), f, block.Size())
	require.NoError(t, err)
	assert.Len(t, hash, 64)

	_, err = HashWebBundle(context.Background(), f, uint64(len(data)+1))
	assert.Error(t, err)
}
