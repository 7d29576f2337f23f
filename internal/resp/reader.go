package resp

import (
	"bufio"
	"bytes"
	"io"
	"strconv"

	"github.com/pkg/errors"
)

// preallocation cap for compound values, the declared count is not trusted
const maxPrealloc = 1024

// MaxBulkLenCeiling is the largest bulk length accepted even when MaxBulkLen is unset
const MaxBulkLenCeiling = 1 << 40

// Limits bounds the memory a single frame may claim. Zero fields mean no limit
type Limits struct {
	MaxDepth    int   // nesting depth of arrays and maps
	MaxElements int64 // element count of one array or pair count of one map
	MaxBulkLen  int64 // bytes in one bulk string
	MaxLineLen  int64 // bytes in one simple string, error, integer or header line
}

// DefaultLimits are applied by NewDecoder
var DefaultLimits = Limits{
	MaxDepth:    32,
	MaxElements: 1 << 20,
	MaxBulkLen:  512 << 20,
	MaxLineLen:  1 << 20,
}

// Decoder reads RESP values from a buffered stream
type Decoder struct {
	rd     *bufio.Reader
	limits Limits

	// what is left of the frame that failed last
	skipLine bool // the rest of the current line
	drain    bool // an unknown number of bytes
}

// NewDecoder initializes a Decoder with DefaultLimits
func NewDecoder(rd io.Reader) *Decoder {
	return NewDecoderWithLimits(rd, DefaultLimits)
}

// NewDecoderWithLimits initializes a Decoder that rejects frames exceeding limits
func NewDecoderWithLimits(rd io.Reader, limits Limits) *Decoder {
	return &Decoder{
		rd:     bufio.NewReader(rd),
		limits: limits,
	}
}

// Read decodes the next value from the stream.
// It returns ErrDisconnected if the stream ends at a value boundary,
// a *ProtocolError for malformed input, and any other transport error as is
func (d *Decoder) Read() (Value, error) {
	d.skipLine, d.drain = false, false

	tag, err := d.rd.ReadByte()
	if err != nil {
		if err == io.EOF {
			return Value{}, ErrDisconnected
		}
		return Value{}, err
	}

	return d.readValue(tag, 0)
}

// Buffered returns the number of bytes that can be read from the current buffer
func (d *Decoder) Buffered() int {
	return d.rd.Buffered()
}

// Discard drops all input already buffered
func (d *Decoder) Discard() {
	d.rd.Discard(d.rd.Buffered()) //nolint:errcheck
}

// Recover consumes the remainder of the frame that made the last Read fail
// with a *ProtocolError, when its end can be found on the wire. It reports
// whether the end is unknown, the caller then has to drain the input with
// Discard and Fill until the client goes quiet
func (d *Decoder) Recover() (drain bool, err error) {
	skipLine, drain := d.skipLine, d.drain
	d.skipLine, d.drain = false, false

	if skipLine {
		for {
			_, err = d.rd.ReadSlice('\n')
			if err != bufio.ErrBufferFull {
				break
			}
		}
		if err != nil {
			return drain, err
		}
	}

	return drain, nil
}

// Fill blocks until more input is buffered or the underlying reader fails
func (d *Decoder) Fill() error {
	_, err := d.rd.Peek(1)
	return err
}

func (d *Decoder) readNested(depth int) (Value, error) {
	tag, err := d.rd.ReadByte()
	if err != nil {
		return Value{}, midValueError(err)
	}

	return d.readValue(tag, depth)
}

func (d *Decoder) readValue(tag byte, depth int) (Value, error) {
	switch tag {
	case TypeSimpleString, TypeError:
		str, err := d.readLine()
		if err != nil {
			return Value{}, err
		}
		if bytes.IndexByte(str, '\r') >= 0 {
			return Value{}, protocolErrorf("%s contains CR", TypeName(tag))
		}
		return Value{Type: tag, String: str}, nil

	case TypeInteger:
		num, err := d.readInteger("integer")
		if err != nil {
			return Value{}, err
		}
		return Value{Type: TypeInteger, Integer: num}, nil

	case TypeBulkString:
		return d.readBulkString()

	case TypeArray:
		return d.readArray(depth)

	case TypeMap:
		return d.readMap(depth)
	}

	d.skipLine = true
	return Value{}, protocolErrorf("unexpected type byte %q", tag)
}

// readLine reads one CRLF-terminated line and strips the terminator.
// A line longer than MaxLineLen is rejected before it is fully buffered
func (d *Decoder) readLine() ([]byte, error) {
	limit := d.limits.MaxLineLen

	var line []byte
	for {
		frag, err := d.rd.ReadSlice('\n')
		line = append(line, frag...)
		if err == nil {
			break
		}
		if err != bufio.ErrBufferFull {
			return nil, midValueError(err)
		}
		if limit > 0 && int64(len(line)) > limit+2 {
			d.skipLine = true
			return nil, protocolErrorf("line exceeds limit %d", limit)
		}
	}

	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, ErrInvalidEnding
	}

	line = line[:len(line)-2]
	if limit > 0 && int64(len(line)) > limit {
		return nil, protocolErrorf("line exceeds limit %d", limit)
	}

	return line, nil
}

func (d *Decoder) readInteger(field string) (int64, error) {
	line, err := d.readLine()
	if err != nil {
		return 0, err
	}

	num, err := strconv.ParseInt(string(line), 10, 64)
	if err != nil {
		return 0, protocolErrorf("invalid %s %q", field, line)
	}

	return num, nil
}

func (d *Decoder) readBulkString() (Value, error) {
	size, err := d.readInteger("bulk length")
	if err != nil {
		return Value{}, err
	}

	if size == -1 {
		return MakeNilBulkString(), nil
	}
	if size < 0 {
		return Value{}, protocolErrorf("invalid bulk length %d", size)
	}
	if d.limits.MaxBulkLen > 0 && size > d.limits.MaxBulkLen {
		d.drain = true
		return Value{}, protocolErrorf("bulk length %d exceeds limit %d", size, d.limits.MaxBulkLen)
	}
	if size > MaxBulkLenCeiling {
		d.drain = true
		return Value{}, protocolErrorf("bulk length %d exceeds limit %d", size, int64(MaxBulkLenCeiling))
	}

	buf := make([]byte, size+2)
	if _, err := io.ReadFull(d.rd, buf); err != nil {
		return Value{}, midValueError(err)
	}

	if buf[size] != '\r' || buf[size+1] != '\n' {
		// the payload ran past its declared length, skip to the next line break
		d.skipLine = buf[size+1] != '\n'
		return Value{}, ErrBulkLenMismatch
	}

	return Value{Type: TypeBulkString, String: buf[:size:size]}, nil
}

func (d *Decoder) readCount(kind string, depth int) (int64, error) {
	n, err := d.readInteger(kind + " length")
	if err != nil {
		return 0, err
	}

	if d.limits.MaxElements > 0 && n > d.limits.MaxElements {
		d.drain = true
		return 0, protocolErrorf("%s length %d exceeds limit %d", kind, n, d.limits.MaxElements)
	}
	if d.limits.MaxDepth > 0 && depth >= d.limits.MaxDepth {
		d.drain = n > 0
		return 0, protocolErrorf("nesting depth exceeds limit %d", d.limits.MaxDepth)
	}

	return n, nil
}

func (d *Decoder) readArray(depth int) (Value, error) {
	n, err := d.readCount("array", depth)
	if err != nil {
		return Value{}, err
	}

	if n == -1 {
		return MakeNilArray(), nil
	}
	if n < 0 {
		return Value{}, protocolErrorf("invalid array length %d", n)
	}

	values := make([]Value, 0, min(n, maxPrealloc))
	for i := int64(0); i < n; i++ {
		v, err := d.readNested(depth + 1)
		if err != nil {
			d.drain = d.drain || i+1 < n
			return Value{}, err
		}
		values = append(values, v)
	}

	return Value{Type: TypeArray, Array: values}, nil
}

// readMap pairs consecutive values positionally. Duplicate keys are kept as sent
func (d *Decoder) readMap(depth int) (Value, error) {
	n, err := d.readCount("map", depth)
	if err != nil {
		return Value{}, err
	}

	if n < 0 {
		return Value{}, protocolErrorf("invalid map length %d", n)
	}

	pairs := make([]Pair, 0, min(n, maxPrealloc))
	for i := int64(0); i < n; i++ {
		key, err := d.readNested(depth + 1)
		if err != nil {
			d.drain = true
			return Value{}, err
		}

		val, err := d.readNested(depth + 1)
		if err != nil {
			d.drain = d.drain || i+1 < n
			return Value{}, err
		}

		pairs = append(pairs, Pair{Key: key, Value: val})
	}

	return Value{Type: TypeMap, Map: pairs}, nil
}

// midValueError maps an end of stream inside a value to a protocol error
func midValueError(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrUnexpectedEnd
	}
	return errors.Wrap(err, "read value")
}
