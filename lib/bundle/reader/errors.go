package reader

import (
	"errors"
	"fmt"

	"github.com/go-i2p/go-swbn/lib/bundle/parser"
)

// ErrorKind classifies reader errors.
type ErrorKind int

const (
	KindOpenFile ErrorKind = iota
	KindIntegrityBlockParse
	KindAbortedByCaller
	KindSignatureVerification
	KindMetadataParse
	KindMetadataValidation
	KindResponseNotFound
	KindResponseParse
	KindBodyRead
	KindShutdown
)

// Sentinels matched by errors.Is against an *Error of the same kind.
var (
	ErrOpenFile              = errors.New("open file error")
	ErrIntegrityBlockParse   = errors.New("integrity block parse error")
	ErrAbortedByCaller       = errors.New("aborted by caller")
	ErrSignatureVerification = errors.New("signature verification error")
	ErrMetadataParse         = errors.New("metadata parse error")
	ErrMetadataValidation    = errors.New("metadata validation error")
	ErrResponseNotFound      = errors.New("response not found")
	ErrResponseParse         = errors.New("response parse error")
	ErrBodyRead              = errors.New("body read failure")
	ErrShutdown              = errors.New("shut down")
)

var kindSentinels = [...]error{
	KindOpenFile:              ErrOpenFile,
	KindIntegrityBlockParse:   ErrIntegrityBlockParse,
	KindAbortedByCaller:       ErrAbortedByCaller,
	KindSignatureVerification: ErrSignatureVerification,
	KindMetadataParse:         ErrMetadataParse,
	KindMetadataValidation:    ErrMetadataValidation,
	KindResponseNotFound:      ErrResponseNotFound,
	KindResponseParse:         ErrResponseParse,
	KindBodyRead:              ErrBodyRead,
	KindShutdown:              ErrShutdown,
}

func (k ErrorKind) String() string {
	if int(k) >= 0 && int(k) < len(kindSentinels) {
		return kindSentinels[k].Error()
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// IsFatal reports whether errors of this kind end the reader.
func (k ErrorKind) IsFatal() bool {
	switch k {
	case KindResponseNotFound, KindResponseParse, KindBodyRead:
		return false
	default:
		return true
	}
}

// Error is the error type of every failure reported by a Reader and by the
// registry built on it. Message is the human readable text callers show.
type Error struct {
	Kind ErrorKind
	// ParseErrorType is meaningful for the parse kinds only.
	ParseErrorType parser.ParseErrorType
	Message        string
	Err            error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	return int(e.Kind) >= 0 && int(e.Kind) < len(kindSentinels) && target == kindSentinels[e.Kind]
}

// NewError builds an *Error with an explicit message.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func newParseKindError(kind ErrorKind, prefix string, err error) *Error {
	t, message := parseErrorDetails(err)
	return &Error{Kind: kind, ParseErrorType: t, Message: prefix + message, Err: err}
}

func parseErrorDetails(err error) (parser.ParseErrorType, string) {
	var perr *parser.ParseError
	if errors.As(err, &perr) {
		return perr.Type, perr.Message
	}
	return parser.ParseErrorInternal, err.Error()
}
