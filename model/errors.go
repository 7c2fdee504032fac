package model

import "fmt"

type ErrorCode string

const (
	ErrProtocol      ErrorCode = "PROTOCOL"
	ErrNotAuthorized ErrorCode = "NOT_AUTHORIZED"
	ErrCrypto        ErrorCode = "CRYPTO"
	ErrTransport     ErrorCode = "TRANSPORT"
	ErrState         ErrorCode = "STATE"
	ErrNotFound      ErrorCode = "NOT_FOUND"
	ErrInternal      ErrorCode = "INTERNAL"
)

// CodedError is a stable error with a machine-readable code and a human message.
type CodedError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *CodedError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewError(code ErrorCode, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}
