package parser

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"net/url"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"

	"github.com/go-i2p/go-swbn/lib/bundle/files"
)

// initialReadWindow is the first read size when looking for a CBOR item of
// unknown length. The window grows until the item fits or a limit is hit.
const initialReadWindow = 4096

// CBORFactory opens CBOR parser sessions.
type CBORFactory struct {
	limits Limits
	dm     cbor.DecMode
}

var _ Factory = (*CBORFactory)(nil)

// NewCBORFactory returns a factory whose sessions enforce limits.
func NewCBORFactory(limits Limits) (*CBORFactory, error) {
	if limits.MaxIntegrityBlockSize == 0 || limits.MaxMetadataSize == 0 || limits.MaxEntries <= 0 {
		return nil, oops.Errorf("parser limits must be positive: %+v", limits)
	}
	dm, err := limits.decMode()
	if err != nil {
		return nil, oops.Wrapf(err, "building CBOR decoder")
	}
	return &CBORFactory{limits: limits, dm: dm}, nil
}

// Open starts a session over file. The session closes file when it ends.
func (f *CBORFactory) Open(ctx context.Context, file files.File) (Parser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	size, err := files.Size(file)
	if err != nil {
		return nil, oops.Wrapf(err, "opening parser session")
	}
	log.WithFields(logger.Fields{
		"at":   "(CBORFactory) Open",
		"file": file.Name(),
		"size": size,
	}).Debug("parser session opened")
	return &cborParser{
		file:   file,
		size:   uint64(size),
		limits: f.limits,
		dm:     f.dm,
		done:   make(chan struct{}),
	}, nil
}

type cborParser struct {
	mu     sync.Mutex
	file   files.File
	size   uint64
	limits Limits
	dm     cbor.DecMode

	done      chan struct{}
	closeOnce sync.Once
}

func (p *cborParser) Done() <-chan struct{} {
	return p.done
}

func (p *cborParser) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.file.Close()
	})
	return err
}

func (p *cborParser) closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// begin serializes calls and rejects calls on a dead session.
func (p *cborParser) begin(ctx context.Context) *ParseError {
	p.mu.Lock()
	if p.closed() {
		p.mu.Unlock()
		return &ParseError{Type: ParseErrorInternal, Message: ErrDisconnected.Error(), Err: ErrDisconnected}
	}
	if err := ctx.Err(); err != nil {
		p.mu.Unlock()
		return wrapParseError(ParseErrorInternal, err, "parser call cancelled")
	}
	return nil
}

// end releases the call slot. An internal error means the file handle can
// no longer be trusted, so the session disconnects.
func (p *cborParser) end(method string, perr **ParseError) {
	if r := recover(); r != nil {
		log.WithFields(logger.Fields{
			"at":    method,
			"panic": r,
		}).Error("recovered from panic while parsing bundle")
		*perr = newParseError(ParseErrorFormat, "malformed bundle: %v", r)
	}
	p.mu.Unlock()
	if *perr != nil && (*perr).Type == ParseErrorInternal {
		log.WithError(*perr).WithFields(logger.Fields{
			"at":     method,
			"reason": "internal parser error",
		}).Warn("disconnecting parser session")
		_ = p.Close()
	}
}

func (p *cborParser) ParseIntegrityBlock(ctx context.Context) (*RawIntegrityBlock, error) {
	if perr := p.begin(ctx); perr != nil {
		return nil, perr
	}
	block, perr := p.parseIntegrityBlock()
	if perr != nil {
		return nil, perr
	}
	return block, nil
}

func (p *cborParser) parseIntegrityBlock() (block *RawIntegrityBlock, perr *ParseError) {
	defer p.end("(cborParser) ParseIntegrityBlock", &perr)

	var items []cbor.RawMessage
	size, perr := p.readFirstItem(0, p.limits.MaxIntegrityBlockSize, "integrity block", &items)
	if perr != nil {
		return nil, perr
	}
	if len(items) < 3 {
		return nil, newParseError(ParseErrorFormat, "integrity block must be an array of at least 3 items, got %d", len(items))
	}
	var magic []byte
	if err := p.dm.Unmarshal(items[0], &magic); err != nil || !bytes.Equal(magic, IntegrityBlockMagic) {
		return nil, newParseError(ParseErrorFormat, "integrity block has wrong magic bytes")
	}
	var version []byte
	if err := p.dm.Unmarshal(items[1], &version); err != nil {
		return nil, wrapParseError(ParseErrorFormat, err, "integrity block version must be a byte string")
	}

	block = &RawIntegrityBlock{Size: size, Version: string(version)}
	var stack cbor.RawMessage
	switch block.Version {
	case IntegrityBlockV1:
		if len(items) != 3 {
			return nil, newParseError(ParseErrorFormat, "v1 integrity block must be an array of 3 items, got %d", len(items))
		}
		stack = items[2]
	case IntegrityBlockV2:
		if len(items) != 4 {
			return nil, newParseError(ParseErrorFormat, "v2 integrity block must be an array of 4 items, got %d", len(items))
		}
		var attributes map[string]cbor.RawMessage
		if err := p.dm.Unmarshal(items[2], &attributes); err != nil {
			return nil, wrapParseError(ParseErrorFormat, err, "integrity block attributes must be a map")
		}
		rawID, ok := attributes[AttributeWebBundleID]
		if !ok {
			return nil, newParseError(ParseErrorFormat, "integrity block attributes lack %q", AttributeWebBundleID)
		}
		if err := p.dm.Unmarshal(rawID, &block.WebBundleID); err != nil {
			return nil, wrapParseError(ParseErrorFormat, err, "%q must be a text string", AttributeWebBundleID)
		}
		stack = items[3]
	default:
		return nil, newParseError(ParseErrorVersion, "unsupported integrity block version %x", version)
	}

	var entries []cbor.RawMessage
	if err := p.dm.Unmarshal(stack, &entries); err != nil {
		return nil, wrapParseError(ParseErrorFormat, err, "signature stack must be an array")
	}
	block.SignatureStack = make([]RawSignatureStackEntry, 0, len(entries))
	for i, raw := range entries {
		entry, perr := p.parseSignatureStackEntry(i, raw)
		if perr != nil {
			return nil, perr
		}
		block.SignatureStack = append(block.SignatureStack, entry)
	}

	log.WithFields(logger.Fields{
		"at":         "(cborParser) ParseIntegrityBlock",
		"size":       block.Size,
		"signatures": len(block.SignatureStack),
	}).Debug("parsed integrity block")
	return block, nil
}

func (p *cborParser) parseSignatureStackEntry(i int, raw cbor.RawMessage) (RawSignatureStackEntry, *ParseError) {
	var parts []cbor.RawMessage
	if err := p.dm.Unmarshal(raw, &parts); err != nil {
		return RawSignatureStackEntry{}, wrapParseError(ParseErrorFormat, err, "signature stack entry %d must be an array", i)
	}
	if len(parts) != 2 {
		return RawSignatureStackEntry{}, newParseError(ParseErrorFormat, "signature stack entry %d must have 2 items, got %d", i, len(parts))
	}
	var attributes map[string]cbor.RawMessage
	if err := p.dm.Unmarshal(parts[0], &attributes); err != nil {
		return RawSignatureStackEntry{}, wrapParseError(ParseErrorFormat, err, "signature stack entry %d attributes must be a map", i)
	}
	rawKey, ok := attributes[AttributeEd25519PublicKey]
	if !ok {
		return RawSignatureStackEntry{}, newParseError(ParseErrorFormat, "signature stack entry %d has an unsupported signature type", i)
	}
	entry := RawSignatureStackEntry{
		EntryBytes:      []byte(raw),
		AttributesBytes: []byte(parts[0]),
	}
	if err := p.dm.Unmarshal(rawKey, &entry.PublicKey); err != nil {
		return RawSignatureStackEntry{}, wrapParseError(ParseErrorFormat, err, "signature stack entry %d public key must be a byte string", i)
	}
	if err := p.dm.Unmarshal(parts[1], &entry.Signature); err != nil {
		return RawSignatureStackEntry{}, wrapParseError(ParseErrorFormat, err, "signature stack entry %d signature must be a byte string", i)
	}
	return entry, nil
}

func (p *cborParser) ParseMetadata(ctx context.Context, offset uint64) (*Metadata, error) {
	if perr := p.begin(ctx); perr != nil {
		return nil, perr
	}
	metadata, perr := p.parseMetadata(offset)
	if perr != nil {
		return nil, perr
	}
	return metadata, nil
}

func (p *cborParser) parseMetadata(offset uint64) (metadata *Metadata, perr *ParseError) {
	defer p.end("(cborParser) ParseMetadata", &perr)

	var items []cbor.RawMessage
	size, perr := p.readFirstItem(offset, p.limits.MaxMetadataSize, "metadata", &items)
	if perr != nil {
		return nil, perr
	}
	if len(items) < 2 {
		return nil, newParseError(ParseErrorFormat, "metadata must be an array of 4 items, got %d", len(items))
	}
	var magic []byte
	if err := p.dm.Unmarshal(items[0], &magic); err != nil || !bytes.Equal(magic, WebBundleMagic) {
		return nil, newParseError(ParseErrorFormat, "metadata has wrong magic bytes")
	}
	var version []byte
	if err := p.dm.Unmarshal(items[1], &version); err != nil {
		return nil, wrapParseError(ParseErrorFormat, err, "web bundle version must be a byte string")
	}
	if string(version) != WebBundleVersion {
		return nil, newParseError(ParseErrorVersion, "unsupported web bundle version %x", version)
	}
	if len(items) != 4 {
		return nil, newParseError(ParseErrorFormat, "metadata must be an array of 4 items, got %d", len(items))
	}

	metadata = &Metadata{Version: string(version)}
	var primary *string
	if err := p.dm.Unmarshal(items[2], &primary); err != nil {
		return nil, wrapParseError(ParseErrorFormat, err, "primary URL must be a text string or null")
	}
	if primary != nil {
		u, err := url.Parse(*primary)
		if err != nil {
			return nil, wrapParseError(ParseErrorFormat, err, "invalid primary URL")
		}
		metadata.PrimaryURL = u
	}

	var index map[string][]uint64
	if err := p.dm.Unmarshal(items[3], &index); err != nil {
		return nil, wrapParseError(ParseErrorFormat, err, "index must map URLs to [offset, length]")
	}
	if len(index) > p.limits.MaxEntries {
		return nil, newParseError(ParseErrorFormat, "index has %d entries, more than the maximum of %d", len(index), p.limits.MaxEntries)
	}

	base := offset + size
	metadata.Requests = make(map[string]ResponseLocation, len(index))
	for raw, loc := range index {
		if len(loc) != 2 {
			return nil, newParseError(ParseErrorFormat, "index entry for %s must be [offset, length]", raw)
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, wrapParseError(ParseErrorFormat, err, "invalid request URL in index")
		}
		if loc[0] > math.MaxUint64-base || loc[1] > math.MaxUint64-base-loc[0] {
			return nil, newParseError(ParseErrorFormat, "index entry for %s overflows", raw)
		}
		location := ResponseLocation{Offset: base + loc[0], Length: loc[1]}
		if location.Offset+location.Length > p.size {
			return nil, newParseError(ParseErrorFormat, "response for %s lies outside the file", raw)
		}
		metadata.Requests[u.String()] = location
	}

	log.WithFields(logger.Fields{
		"at":      "(cborParser) ParseMetadata",
		"offset":  offset,
		"size":    size,
		"entries": len(metadata.Requests),
	}).Debug("parsed metadata")
	return metadata, nil
}

func (p *cborParser) ParseResponse(ctx context.Context, location ResponseLocation) (*ResponseHead, error) {
	if perr := p.begin(ctx); perr != nil {
		return nil, perr
	}
	head, perr := p.parseResponse(location)
	if perr != nil {
		return nil, perr
	}
	return head, nil
}

func (p *cborParser) parseResponse(location ResponseLocation) (head *ResponseHead, perr *ParseError) {
	defer p.end("(cborParser) ParseResponse", &perr)

	if location.Length == 0 || location.Offset > p.size || location.Length > p.size-location.Offset {
		return nil, newParseError(ParseErrorFormat, "response location [%d, +%d) lies outside the file", location.Offset, location.Length)
	}
	window := min(location.Length, uint64(initialReadWindow))
	for {
		buf, perr := p.readAt(location.Offset, window)
		if perr != nil {
			return nil, perr
		}
		head, err := p.decodeResponseHead(buf, location)
		if errors.Is(err, io.ErrUnexpectedEOF) && window < location.Length {
			window = min(window*4, location.Length)
			continue
		}
		if err != nil {
			return nil, wrapParseError(ParseErrorFormat, err, "malformed response")
		}
		return head, nil
	}
}

func (p *cborParser) decodeResponseHead(buf []byte, location ResponseLocation) (*ResponseHead, error) {
	major, count, n, err := readItemHead(buf)
	if err != nil {
		return nil, err
	}
	if major != majorArray || count != 3 {
		return nil, errors.New("response must be an array of 3 items")
	}
	var status uint64
	rest, err := p.dm.UnmarshalFirst(buf[n:], &status)
	if err != nil {
		return nil, err
	}
	if status < 100 || status > 599 {
		return nil, oops.Errorf("invalid status code %d", status)
	}
	var headers map[string]string
	rest, err = p.dm.UnmarshalFirst(rest, &headers)
	if err != nil {
		return nil, err
	}
	major, length, n, err := readItemHead(rest)
	if err != nil {
		return nil, err
	}
	if major != majorByteString {
		return nil, errors.New("response payload must be a byte string")
	}
	headerLength := uint64(len(buf)-len(rest)) + uint64(n)
	if length != location.Length-headerLength {
		return nil, oops.Errorf("payload of %d bytes does not fill the response item of %d bytes", length, location.Length)
	}
	if headers == nil {
		headers = map[string]string{}
	}
	return &ResponseHead{
		StatusCode:    int(status),
		Headers:       headers,
		PayloadOffset: location.Offset + headerLength,
		PayloadLength: length,
	}, nil
}

// readFirstItem decodes the first CBOR item at offset into v, reading at
// most max bytes, and returns the encoded size of that item.
func (p *cborParser) readFirstItem(offset, max uint64, what string, v interface{}) (uint64, *ParseError) {
	if offset >= p.size {
		return 0, newParseError(ParseErrorFormat, "%s: unexpected end of file at offset %d", what, offset)
	}
	available := p.size - offset
	limit := min(available, max)
	window := min(limit, uint64(initialReadWindow))
	for {
		buf, perr := p.readAt(offset, window)
		if perr != nil {
			return 0, perr
		}
		rest, err := p.dm.UnmarshalFirst(buf, v)
		if err == nil {
			return uint64(len(buf) - len(rest)), nil
		}
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, wrapParseError(ParseErrorFormat, err, "malformed %s", what)
		}
		if window < limit {
			window = min(window*4, limit)
			continue
		}
		if limit < available {
			return 0, newParseError(ParseErrorFormat, "%s exceeds the maximum size of %d bytes", what, max)
		}
		return 0, newParseError(ParseErrorFormat, "%s is truncated", what)
	}
}

func (p *cborParser) readAt(offset, length uint64) ([]byte, *ParseError) {
	buf := make([]byte, length)
	n, err := p.file.ReadAt(buf, int64(offset))
	if err != nil && !(errors.Is(err, io.EOF) && n == len(buf)) {
		return nil, wrapParseError(ParseErrorInternal, err, "reading %d bytes at offset %d", length, offset)
	}
	return buf, nil
}
