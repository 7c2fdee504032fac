package channel

import (
	"errors"
	"fmt"
)

// Kind is a stable category for programmatic error handling.
//
// Callers should branch on Kind/RuleID rather than matching error strings.
// Use errors.As to extract *Error for structured handling.
type Kind string

const (
	KindProtocol      Kind = "Protocol"
	KindAuthorization Kind = "Authorization"
	KindCrypto        Kind = "Crypto"
	KindTransport     Kind = "Transport"
	KindState         Kind = "State"
)

// Error is the package's structured error type.
//
// RuleID is a stable identifier (e.g. STREAMS-PROTO-001) naming the violated
// rule. Message is intended for humans; do not match on it.
type Error struct {
	Kind    Kind
	RuleID  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil && e.Kind != KindAuthorization {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ErrNotAuthorized is the single denial returned for every failed access
// check: missing group key, unknown signer, bad signature, failed decryption
// or exclusion from a keyload. It carries no detail about which check failed.
var ErrNotAuthorized error = &Error{
	Kind:    KindAuthorization,
	RuleID:  "STREAMS-AUTH-001",
	Message: "not authorized",
}

const (
	ruleContentType    = "STREAMS-PROTO-001"
	ruleLinkPosition   = "STREAMS-PROTO-002"
	ruleMalformed      = "STREAMS-PROTO-003"
	ruleForeignLink    = "STREAMS-PROTO-004"
	ruleNoAnnouncement = "STREAMS-STATE-001"
	ruleOtherChannel   = "STREAMS-STATE-002"
	ruleNoGroupKey     = "STREAMS-STATE-003"
	ruleUnknownID      = "STREAMS-STATE-004"
	ruleCrypto         = "STREAMS-CRYPTO-001"
	ruleTransport      = "STREAMS-TRANSPORT-001"
)

func newError(kind Kind, ruleID, msg string) error {
	return &Error{Kind: kind, RuleID: ruleID, Message: msg}
}

func wrapError(kind Kind, ruleID, msg string, cause error) error {
	if cause == nil {
		return newError(kind, ruleID, msg)
	}
	return &Error{Kind: kind, RuleID: ruleID, Message: msg, Cause: cause}
}

func cryptoError(op string, cause error) error {
	return wrapError(KindCrypto, ruleCrypto, op, cause)
}

func transportError(op string, cause error) error {
	return wrapError(KindTransport, ruleTransport, op, cause)
}

func contentTypeError(want, got fmt.Stringer) error {
	return newError(KindProtocol, ruleContentType, fmt.Sprintf("expected %s, got %s", want, got))
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// RuleID returns the stable RuleID for a structured error, or "" if unknown.
func RuleID(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.RuleID
}
