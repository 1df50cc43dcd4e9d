package integrity

import (
	"bytes"
	"encoding/binary"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"

	"github.com/go-i2p/go-swbn/lib/bundle/parser"
)

var log = logger.GetGoI2PLogger()

// SignatureStackEntry is one signer of the bundle.
type SignatureStackEntry struct {
	publicKey       Ed25519PublicKey
	signature       Ed25519Signature
	entryBytes      []byte
	attributesBytes []byte
}

// NewSignatureStackEntry validates a raw entry produced by the parser.
func NewSignatureStackEntry(raw parser.RawSignatureStackEntry) (SignatureStackEntry, error) {
	publicKey, err := NewEd25519PublicKey(raw.PublicKey)
	if err != nil {
		return SignatureStackEntry{}, err
	}
	signature, err := NewEd25519Signature(raw.Signature)
	if err != nil {
		return SignatureStackEntry{}, err
	}
	return SignatureStackEntry{
		publicKey:       publicKey,
		signature:       signature,
		entryBytes:      bytes.Clone(raw.EntryBytes),
		attributesBytes: bytes.Clone(raw.AttributesBytes),
	}, nil
}

func (e SignatureStackEntry) PublicKey() Ed25519PublicKey { return e.publicKey }
func (e SignatureStackEntry) Signature() Ed25519Signature { return e.signature }
func (e SignatureStackEntry) EntryBytes() []byte          { return bytes.Clone(e.entryBytes) }
func (e SignatureStackEntry) AttributesBytes() []byte     { return bytes.Clone(e.attributesBytes) }

// IntegrityBlock is a validated integrity block: its size is positive and its
// signature stack is not empty. Index 0 of the stack is the innermost signer.
type IntegrityBlock struct {
	size        uint64
	version     string
	webBundleID string
	stack       []SignatureStackEntry
}

// NewIntegrityBlock validates raw and builds an IntegrityBlock from it.
func NewIntegrityBlock(raw *parser.RawIntegrityBlock) (*IntegrityBlock, error) {
	if raw == nil || raw.Size == 0 {
		return nil, oops.Errorf("Cannot create integrity block with a size of 0.")
	}
	if len(raw.SignatureStack) == 0 {
		return nil, oops.Errorf("Cannot create integrity block with an empty signature stack.")
	}
	stack := make([]SignatureStackEntry, 0, len(raw.SignatureStack))
	for i, rawEntry := range raw.SignatureStack {
		entry, err := NewSignatureStackEntry(rawEntry)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{
				"at":    "NewIntegrityBlock",
				"entry": i,
			}).Debug("invalid signature stack entry")
			return nil, err
		}
		stack = append(stack, entry)
	}
	return &IntegrityBlock{
		size:        raw.Size,
		version:     raw.Version,
		webBundleID: raw.WebBundleID,
		stack:       stack,
	}, nil
}

// Size is the number of bytes the block occupies at the start of the file.
func (b *IntegrityBlock) Size() uint64 { return b.size }

func (b *IntegrityBlock) Version() string { return b.version }

// WebBundleID is the "webBundleId" attribute; empty for v1 blocks.
func (b *IntegrityBlock) WebBundleID() string { return b.webBundleID }

// SignatureStack returns a copy of the stack.
func (b *IntegrityBlock) SignatureStack() []SignatureStackEntry {
	return append([]SignatureStackEntry(nil), b.stack...)
}

// PublicKeys returns the public keys of the stack in stack order.
func (b *IntegrityBlock) PublicKeys() []Ed25519PublicKey {
	keys := make([]Ed25519PublicKey, len(b.stack))
	for i, entry := range b.stack {
		keys[i] = entry.publicKey
	}
	return keys
}

// Header returns the CBOR encoding of the block with an empty signature stack.
func (b *IntegrityBlock) Header() ([]byte, error) {
	return parser.EncodeIntegrityBlock(b.version, b.webBundleID, nil)
}

// SignaturePayload builds the message a signature stack entry signs: the
// SHA-512 of the web bundle, the integrity block header and the entry
// attributes, each prefixed with its length as a big-endian uint64.
func SignaturePayload(webBundleHash, header, attributes []byte) []byte {
	fields := [][]byte{webBundleHash, header, attributes}
	size := 0
	for _, field := range fields {
		size += 8 + len(field)
	}
	payload := make([]byte, 0, size)
	for _, field := range fields {
		payload = binary.BigEndian.AppendUint64(payload, uint64(len(field)))
		payload = append(payload, field...)
	}
	return payload
}
