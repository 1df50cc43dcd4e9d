package parser

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/go-i2p/go-swbn/lib/bundle/files"
)

// ErrDisconnected is wrapped by errors returned from a session that has been
// closed or has lost its connection.
var ErrDisconnected = errors.New("parser disconnected")

// ParseErrorType classifies parser failures.
type ParseErrorType int

const (
	// ParseErrorInternal is an I/O failure or a failure of the parser itself.
	ParseErrorInternal ParseErrorType = iota
	// ParseErrorFormat means the bytes are not a well-formed bundle.
	ParseErrorFormat
	// ParseErrorVersion means the bundle uses an unsupported version.
	ParseErrorVersion
)

func (t ParseErrorType) String() string {
	switch t {
	case ParseErrorInternal:
		return "internal"
	case ParseErrorFormat:
		return "format"
	case ParseErrorVersion:
		return "version"
	default:
		return fmt.Sprintf("ParseErrorType(%d)", int(t))
	}
}

// ParseError is the only error type returned by a Parser.
type ParseError struct {
	Type    ParseErrorType
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	return e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func newParseError(t ParseErrorType, format string, args ...interface{}) *ParseError {
	return &ParseError{Type: t, Message: fmt.Sprintf(format, args...)}
}

func wrapParseError(t ParseErrorType, err error, format string, args ...interface{}) *ParseError {
	return &ParseError{Type: t, Message: fmt.Sprintf(format, args...) + ": " + err.Error(), Err: err}
}

// RawSignatureStackEntry is one signature stack entry exactly as found in the
// file. Lengths are not validated here.
type RawSignatureStackEntry struct {
	// PublicKey is the value of the "ed25519PublicKey" attribute.
	PublicKey []byte
	// Signature is the signature byte string.
	Signature []byte
	// EntryBytes is the CBOR encoding of the whole [attributes, signature] entry.
	EntryBytes []byte
	// AttributesBytes is the CBOR encoding of the attributes map.
	AttributesBytes []byte
}

// RawIntegrityBlock is the integrity block as found in the file.
type RawIntegrityBlock struct {
	// Size is the number of bytes the integrity block occupies at the start of the file.
	Size uint64
	// Version is IntegrityBlockV1 or IntegrityBlockV2.
	Version string
	// WebBundleID is the "webBundleId" attribute. Empty for v1 blocks.
	WebBundleID    string
	SignatureStack []RawSignatureStackEntry
}

// ResponseLocation is the absolute position of one response item in the file.
type ResponseLocation struct {
	Offset uint64
	Length uint64
}

// Metadata is the parsed web bundle index.
type Metadata struct {
	Version string
	// PrimaryURL is nil when the bundle does not declare one.
	PrimaryURL *url.URL
	// Requests maps a request URL (url.URL.String form) to its response.
	Requests map[string]ResponseLocation
}

// ResponseHead is a parsed response without its payload.
type ResponseHead struct {
	StatusCode    int
	Headers       map[string]string
	PayloadOffset uint64
	PayloadLength uint64
}

// Parser is one parser session over one file handle.
// Implementations serve one call at a time; concurrent calls are serialized.
type Parser interface {
	ParseIntegrityBlock(ctx context.Context) (*RawIntegrityBlock, error)
	ParseMetadata(ctx context.Context, offset uint64) (*Metadata, error)
	ParseResponse(ctx context.Context, location ResponseLocation) (*ResponseHead, error)
	// Done is closed once the session can no longer serve calls.
	Done() <-chan struct{}
	// Close ends the session and releases the file handle it was opened with.
	Close() error
}

// Factory opens parser sessions. The session takes ownership of file.
type Factory interface {
	Open(ctx context.Context, file files.File) (Parser, error)
}
