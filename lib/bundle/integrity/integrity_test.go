package integrity

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-i2p/go-swbn/lib/bundle/parser"
)

func rawEntry(keyLen, sigLen int) parser.RawSignatureStackEntry {
	return parser.RawSignatureStackEntry{
		PublicKey:       bytes.Repeat([]byte{0xAA}, keyLen),
		Signature:       bytes.Repeat([]byte{0xBB}, sigLen),
		EntryBytes:      []byte{0x82},
		AttributesBytes: []byte{0xA1},
	}
}

func TestNewEd25519PublicKey(t *testing.T) {
	for _, n := range []int{0, 31, 33, 64} {
		_, err := NewEd25519PublicKey(make([]byte, n))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Invalid public key size: expected 32 bytes, got")
	}

	in := bytes.Repeat([]byte{7}, 32)
	k, err := NewEd25519PublicKey(in)
	require.NoError(t, err)
	out := k.Bytes()
	assert.Equal(t, in, out)

	out[0] = 0
	assert.Equal(t, byte(7), k.Bytes()[0], "Bytes must return a copy")
	in[1] = 0
	assert.Equal(t, byte(7), k.Bytes()[1], "constructor must copy its input")
}

func TestNewEd25519Signature(t *testing.T) {
	_, err := NewEd25519Signature(make([]byte, 63))
	require.Error(t, err)
	assert.Equal(t, "Invalid signature size: expected 64 bytes, got 63", err.Error())

	s, err := NewEd25519Signature(make([]byte, 64))
	require.NoError(t, err)
	assert.Len(t, s.Bytes(), 64)
}

func TestNewIntegrityBlockInvariants(t *testing.T) {
	_, err := NewIntegrityBlock(&parser.RawIntegrityBlock{Size: 0, SignatureStack: []parser.RawSignatureStackEntry{rawEntry(32, 64)}})
	require.Error(t, err)
	assert.Equal(t, "Cannot create integrity block with a size of 0.", err.Error())

	_, err = NewIntegrityBlock(&parser.RawIntegrityBlock{Size: 10})
	require.Error(t, err)
	assert.Equal(t, "Cannot create integrity block with an empty signature stack.", err.Error())

	_, err = NewIntegrityBlock(&parser.RawIntegrityBlock{Size: 10, SignatureStack: []parser.RawSignatureStackEntry{rawEntry(31, 64)}})
	require.Error(t, err)
	assert.Equal(t, "Invalid public key size: expected 32 bytes, got 31", err.Error())

	_, err = NewIntegrityBlock(&parser.RawIntegrityBlock{Size: 10, SignatureStack: []parser.RawSignatureStackEntry{rawEntry(32, 65)}})
	require.Error(t, err)
	assert.Equal(t, "Invalid signature size: expected 64 bytes, got 65", err.Error())
}

func TestNewIntegrityBlock(t *testing.T) {
	block, err := NewIntegrityBlock(&parser.RawIntegrityBlock{
		Size:           120,
		Version:        parser.IntegrityBlockV2,
		WebBundleID:    "some-id",
		SignatureStack: []parser.RawSignatureStackEntry{rawEntry(32, 64), rawEntry(32, 64)},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 120, block.Size())
	assert.Equal(t, "some-id", block.WebBundleID())
	assert.Len(t, block.SignatureStack(), 2)
	assert.Len(t, block.PublicKeys(), 2)
	assert.Equal(t, []byte{0xA1}, block.SignatureStack()[0].AttributesBytes())

	header, err := block.Header()
	require.NoError(t, err)
	expected, err := parser.EncodeIntegrityBlock(parser.IntegrityBlockV2, "some-id", nil)
	require.NoError(t, err)
	assert.Equal(t, expected, header)
}

func TestSignaturePayload(t *testing.T) {
	payload := SignaturePayload([]byte("hash"), []byte("hd"), []byte("a"))
	require.Len(t, payload, 3*8+4+2+1)

	assert.EqualValues(t, 4, binary.BigEndian.Uint64(payload[0:8]))
	assert.Equal(t, "hash", string(payload[8:12]))
	assert.EqualValues(t, 2, binary.BigEndian.Uint64(payload[12:20]))
	assert.Equal(t, "hd", string(payload[20:22]))
	assert.EqualValues(t, 1, binary.BigEndian.Uint64(payload[22:30]))
	assert.Equal(t, "a", string(payload[30:31]))
}
