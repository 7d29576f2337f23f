package resp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
)

// scratch buffers above this size are released after use
const maxRetainedScratch = 64 * 1024

// Encoder handles the serialization of RESP Value objects into an output stream
type Encoder struct {
	writer  *bufio.Writer
	scratch []byte
}

// NewEncoder initializes an Encoder with a buffered writer
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		writer: bufio.NewWriter(w)}
}

// Write serializes a RESP Value, writes it to the underlying stream and flushes.
// A value that cannot be serialized leaves the stream untouched
func (e *Encoder) Write(v Value) error {
	if err := e.Buffer(v); err != nil {
		return err
	}

	return e.writer.Flush()
}

// Buffer serializes a RESP Value into the output buffer without flushing
func (e *Encoder) Buffer(v Value) error {
	b, err := appendValue(e.scratch[:0], v)
	if err != nil {
		return err
	}

	_, err = e.writer.Write(b)

	if cap(b) > maxRetainedScratch {
		e.scratch = nil
	} else {
		e.scratch = b[:0]
	}

	return err
}

// Flush sends all buffered data to the underlying stream
func (e *Encoder) Flush() error {
	return e.writer.Flush()
}

// Encode returns the wire form of v
func Encode(v Value) ([]byte, error) {
	return appendValue(nil, v)
}

func appendValue(b []byte, v Value) ([]byte, error) {
	var err error

	switch v.Type {
	case TypeInteger:
		b = appendHeader(b, TypeInteger, v.Integer)

	case TypeSimpleString, TypeError:
		if bytes.ContainsAny(v.String, "\r\n") {
			return b, ErrInvalidSimpleString
		}
		b = append(b, v.Type)
		b = append(b, v.String...)
		b = append(b, '\r', '\n')

	case TypeBulkString:
		if v.IsNull {
			b = append(b, "$-1\r\n"...)
			break
		}
		b = appendHeader(b, TypeBulkString, int64(len(v.String)))
		b = append(b, v.String...)
		b = append(b, '\r', '\n')

	case TypeArray:
		if v.IsNull {
			b = append(b, "*-1\r\n"...)
			break
		}
		b = appendHeader(b, TypeArray, int64(len(v.Array)))
		for _, el := range v.Array {
			if b, err = appendValue(b, el); err != nil {
				return b, err
			}
		}

	case TypeMap:
		b = appendHeader(b, TypeMap, int64(len(v.Map)))
		for _, p := range v.Map {
			if b, err = appendValue(b, p.Key); err != nil {
				return b, err
			}
			if b, err = appendValue(b, p.Value); err != nil {
				return b, err
			}
		}

	default:
		return b, &UnsupportedTypeError{Type: fmt.Sprintf("wire type %q", v.Type)}
	}

	return b, nil
}

// appendHeader writes the type prefix, numeric value, and CRLF
func appendHeader(b []byte, prefix byte, n int64) []byte {
	b = append(b, prefix)
	b = strconv.AppendInt(b, n, 10)
	return append(b, '\r', '\n')
}
