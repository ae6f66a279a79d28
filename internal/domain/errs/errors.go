package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidURL is returned when a request URL is malformed
	ErrInvalidURL = errors.New("invalid url")

	// ErrTransport is matched by every *TransportError
	ErrTransport = errors.New("transport error")

	// ErrEmptyResponse is returned when a request succeeds without a body
	ErrEmptyResponse = errors.New("empty response")

	// ErrInvalidResponse is returned when a response body has the wrong shape
	ErrInvalidResponse = errors.New("invalid response format")

	// ErrDecode is matched by every *DecodeError
	ErrDecode = errors.New("decode error")

	// ErrUnknown is the fallback when no specific cause is known
	ErrUnknown = errors.New("unknown error")

	// ErrNotFound is returned when an item index is out of range
	ErrNotFound = errors.New("resource not found")
)

// Error codes exposed to consumers.
const (
	CodeInvalidURL      = "INVALID_URL"
	CodeTransport       = "TRANSPORT_ERROR"
	CodeEmptyResponse   = "EMPTY_RESPONSE"
	CodeInvalidResponse = "INVALID_RESPONSE"
	CodeDecode          = "DECODE_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeUnknown         = "UNKNOWN"
)

// TransportError wraps a failure of the underlying HTTP round trip.
type TransportError struct {
	Cause error
}

// NewTransportError wraps cause as a transport failure.
func NewTransportError(cause error) *TransportError {
	return &TransportError{Cause: cause}
}

func (e *TransportError) Error() string {
	if e.Cause == nil {
		return ErrTransport.Error()
	}
	return fmt.Sprintf("%s: %s", ErrTransport.Error(), e.Cause.Error())
}

// Unwrap exposes both the sentinel and the cause to errors.Is/As.
func (e *TransportError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrTransport}
	}
	return []error{ErrTransport, e.Cause}
}

// StatusError is the transport cause for a non-2xx HTTP response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// DecodeKind classifies a decode failure.
type DecodeKind string

// Decode failure kinds.
const (
	DecodeMissingField DecodeKind = "missing_field"
	DecodeWrongType    DecodeKind = "wrong_type"
	DecodeInvalidImage DecodeKind = "invalid_image"
)

// DecodeError describes a failed record or image decode.
// Index is the record position in a list response, or -1 when not applicable.
type DecodeError struct {
	Kind  DecodeKind
	Field string
	Index int
	Cause error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("%s: %s", ErrDecode.Error(), e.Kind)
	if e.Field != "" {
		msg += fmt.Sprintf(" field %q", e.Field)
	}
	if e.Index >= 0 {
		msg += fmt.Sprintf(" at index %d", e.Index)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel and the cause to errors.Is/As.
func (e *DecodeError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrDecode}
	}
	return []error{ErrDecode, e.Cause}
}

// CodeOf maps an error to a stable code string.
func CodeOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidURL):
		return CodeInvalidURL
	case errors.Is(err, ErrTransport):
		return CodeTransport
	case errors.Is(err, ErrEmptyResponse):
		return CodeEmptyResponse
	case errors.Is(err, ErrInvalidResponse):
		return CodeInvalidResponse
	case errors.Is(err, ErrDecode):
		return CodeDecode
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	default:
		return CodeUnknown
	}
}
