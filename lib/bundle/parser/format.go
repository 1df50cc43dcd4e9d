package parser

import (
	"bytes"
	"errors"
	"io"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/samber/oops"
)

// Magic bytes and versions of the two top-level bundle structures.
var (
	IntegrityBlockMagic = []byte{0xF0, 0x9F, 0x96, 0x8B, 0xF0, 0x9F, 0x93, 0xA6}
	WebBundleMagic      = []byte{0xF0, 0x9F, 0x8C, 0x90, 0xF0, 0x9F, 0x93, 0xA6}
)

const (
	IntegrityBlockV1 = "1b\x00\x00"
	IntegrityBlockV2 = "2b\x00\x00"
	WebBundleVersion = "b2\x00\x00"
)

// Attribute keys.
const (
	AttributeWebBundleID      = "webBundleId"
	AttributeEd25519PublicKey = "ed25519PublicKey"
)

// encMode produces Core Deterministic Encoding (RFC 8949 §4.2), so the same
// logical structure always yields the same bytes.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("parser: CBOR encoder initialization failed: " + err.Error())
	}
}

// Limits bounds the resources a parser session spends on untrusted input.
type Limits struct {
	MaxIntegrityBlockSize uint64
	MaxMetadataSize       uint64
	MaxEntries            int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxIntegrityBlockSize: 64 * 1024,
		MaxMetadataSize:       16 * 1024 * 1024,
		MaxEntries:            100000,
	}
}

// minContainerLimit is the smallest container limit the CBOR decoder accepts.
const minContainerLimit = 16

func (l Limits) decMode() (cbor.DecMode, error) {
	maxEntries := l.MaxEntries
	if maxEntries < minContainerLimit {
		maxEntries = minContainerLimit
	}
	return cbor.DecOptions{
		MaxArrayElements: maxEntries,
		MaxMapPairs:      maxEntries,
		MaxNestedLevels:  16,
		IndefLength:      cbor.IndefLengthForbidden,
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		TagsMd:           cbor.TagsForbidden,
		BignumTag:        cbor.BignumTagForbidden,
	}.DecMode()
}

// EncodeSignatureAttributes encodes the attributes map of a signature stack entry.
func EncodeSignatureAttributes(publicKey []byte) ([]byte, error) {
	data, err := encMode.Marshal(map[string][]byte{AttributeEd25519PublicKey: publicKey})
	if err != nil {
		return nil, oops.Wrapf(err, "encoding signature attributes")
	}
	return data, nil
}

// EncodeSignatureStackEntry encodes [attributes, signature]. attributes must
// already be CBOR, typically from EncodeSignatureAttributes.
func EncodeSignatureStackEntry(attributes, signature []byte) ([]byte, error) {
	data, err := encMode.Marshal([]interface{}{cbor.RawMessage(attributes), signature})
	if err != nil {
		return nil, oops.Wrapf(err, "encoding signature stack entry")
	}
	return data, nil
}

// EncodeIntegrityBlock encodes an integrity block from already encoded stack
// entries. With no entries the result is the block header that signatures
// cover. webBundleID is ignored for v1 blocks.
func EncodeIntegrityBlock(version, webBundleID string, entries [][]byte) ([]byte, error) {
	stack := make([]cbor.RawMessage, 0, len(entries))
	for _, entry := range entries {
		stack = append(stack, cbor.RawMessage(entry))
	}
	var block []interface{}
	switch version {
	case IntegrityBlockV1:
		block = []interface{}{IntegrityBlockMagic, []byte(version), stack}
	case IntegrityBlockV2:
		attributes := map[string]string{AttributeWebBundleID: webBundleID}
		block = []interface{}{IntegrityBlockMagic, []byte(version), attributes, stack}
	default:
		return nil, oops.Errorf("unsupported integrity block version %q", version)
	}
	data, err := encMode.Marshal(block)
	if err != nil {
		return nil, oops.Wrapf(err, "encoding integrity block")
	}
	return data, nil
}

// EncodeMetadata encodes the metadata item. Locations are relative to the end
// of the metadata item. A nil primaryURL is encoded as null.
func EncodeMetadata(primaryURL *string, index map[string]ResponseLocation) ([]byte, error) {
	encoded := make(map[string][]uint64, len(index))
	for u, loc := range index {
		encoded[u] = []uint64{loc.Offset, loc.Length}
	}
	data, err := encMode.Marshal([]interface{}{WebBundleMagic, []byte(WebBundleVersion), primaryURL, encoded})
	if err != nil {
		return nil, oops.Wrapf(err, "encoding metadata")
	}
	return data, nil
}

// EncodeResponse encodes one response item.
func EncodeResponse(status int, headers map[string]string, payload []byte) ([]byte, error) {
	if headers == nil {
		headers = map[string]string{}
	}
	if payload == nil {
		payload = []byte{}
	}
	data, err := encMode.Marshal([]interface{}{uint64(status), headers, payload})
	if err != nil {
		return nil, oops.Wrapf(err, "encoding response")
	}
	return data, nil
}

// EncodeWebBundle lays out a complete web bundle (metadata followed by the
// responses in lexical URL order) and returns it.
func EncodeWebBundle(primaryURL *string, responses map[string][]byte) ([]byte, error) {
	urls := make([]string, 0, len(responses))
	for u := range responses {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	index := make(map[string]ResponseLocation, len(urls))
	var body bytes.Buffer
	for _, u := range urls {
		item := responses[u]
		index[u] = ResponseLocation{Offset: uint64(body.Len()), Length: uint64(len(item))}
		body.Write(item)
	}
	metadata, err := EncodeMetadata(primaryURL, index)
	if err != nil {
		return nil, err
	}
	return append(metadata, body.Bytes()...), nil
}

// readItemHead decodes the initial byte and argument of a definite-length
// CBOR data item. It returns the major type, the argument and the number of
// header bytes, or io.ErrUnexpectedEOF when data ends inside the header.
func readItemHead(data []byte) (major byte, arg uint64, n int, err error) {
	if len(data) == 0 {
		return 0, 0, 0, io.ErrUnexpectedEOF
	}
	major = data[0] >> 5
	info := data[0] & 0x1f
	switch {
	case info < 24:
		return major, uint64(info), 1, nil
	case info <= 27:
		size := 1 << (info - 24)
		if len(data) < 1+size {
			return 0, 0, 0, io.ErrUnexpectedEOF
		}
		for _, b := range data[1 : 1+size] {
			arg = arg<<8 | uint64(b)
		}
		return major, arg, 1 + size, nil
	default:
		return 0, 0, 0, errIndefiniteOrReserved
	}
}

var errIndefiniteOrReserved = errors.New("indefinite length or reserved additional information")

const (
	majorByteString = 2
	majorArray      = 4
)
