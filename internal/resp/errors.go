package resp

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrDisconnected is returned by Read when the stream ends cleanly before the first byte of a value
	ErrDisconnected = errors.New("peer disconnected")

	// ErrInvalidSimpleString means a simple string or error payload contains CR or LF
	ErrInvalidSimpleString = errors.New("simple string must not contain CR or LF")

	ErrInvalidEnding   = &ProtocolError{Msg: "invalid line ending"}
	ErrUnexpectedEnd   = &ProtocolError{Msg: "unexpected end of stream"}
	ErrBulkLenMismatch = &ProtocolError{Msg: "bulk string length mismatch"}
)

// ProtocolError describes a malformed frame. The connection stays usable after it
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string {
	return "Protocol error: " + e.Msg
}

func protocolErrorf(format string, args ...any) error {
	return &ProtocolError{Msg: fmt.Sprintf(format, args...)}
}

// UnsupportedTypeError is returned when a value cannot be serialized.
// Type names the offending Go type or wire type byte
type UnsupportedTypeError struct {
	Type string
}

func (e *UnsupportedTypeError) Error() string {
	return "Unrecognized type: " + e.Type
}

// IsEncodeError reports a serialization failure. Nothing was written to the
// stream, so the connection stays in sync
func IsEncodeError(err error) bool {
	var typeErr *UnsupportedTypeError
	return errors.As(err, &typeErr) || errors.Is(err, ErrInvalidSimpleString)
}
