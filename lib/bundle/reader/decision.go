package reader

import "github.com/go-i2p/go-swbn/lib/bundle/integrity"

type decisionAction int

const (
	actionAbort decisionAction = iota
	actionVerify
	actionSkipVerification
)

// Decision is the answer to an IntegrityBlockCallback.
type Decision struct {
	action  decisionAction
	message string
}

// Abort stops reading; the reader fails with message verbatim.
func Abort(message string) Decision {
	return Decision{action: actionAbort, message: message}
}

// ContinueAndVerifySignatures verifies every signature before reading metadata.
func ContinueAndVerifySignatures() Decision {
	return Decision{action: actionVerify}
}

// ContinueAndSkipSignatureVerification reads metadata without verifying.
// Only meant for bundles whose signatures were already verified.
func ContinueAndSkipSignatureVerification() Decision {
	return Decision{action: actionSkipVerification}
}

func (d Decision) String() string {
	switch d.action {
	case actionAbort:
		return "abort"
	case actionVerify:
		return "verify"
	default:
		return "skip-verification"
	}
}

// IntegrityBlockCallback sees the public keys of the signature stack before
// anything else is read and answers through decide, exactly once, from any
// goroutine.
type IntegrityBlockCallback func(keys []integrity.Ed25519PublicKey, decide func(Decision))

// DoneCallback receives nil once the reader is Initialized, or the *Error
// that moved it to Error.
type DoneCallback func(err error)

// ResponseCallback receives the response head, or an *Error.
type ResponseCallback func(resp *Response, err error)
