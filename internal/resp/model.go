package resp

import "bytes"

const (
	TypeSimpleString = '+'
	TypeError        = '-'
	TypeInteger      = ':'
	TypeBulkString   = '$'
	TypeArray        = '*'
	TypeMap          = '%'
)

// Value is a single decoded or encodable unit of the wire protocol.
// It never owns a connection or storage reference
type Value struct {
	String  []byte  // SimpleString, Error, BulkString
	Array   []Value // Array
	Map     []Pair  // Map, in wire order
	Integer int64   // Integer
	Type    byte
	IsNull  bool // For nil BulkString and nil Array
}

// Pair is a single key/value entry of a Map value
type Pair struct {
	Key   Value
	Value Value
}

// IsError reports whether the value is an error reply
func (v Value) IsError() bool {
	return v.Type == TypeError
}

// IsText reports whether the value carries a non-null string payload
func (v Value) IsText() bool {
	return (v.Type == TypeSimpleString || v.Type == TypeBulkString) && !v.IsNull
}

// Equal reports whether two values carry the same content.
// Nil and empty compound payloads are considered equal
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type || v.IsNull != o.IsNull {
		return false
	}

	switch v.Type {
	case TypeSimpleString, TypeError, TypeBulkString:
		return bytes.Equal(v.String, o.String)
	case TypeInteger:
		return v.Integer == o.Integer
	case TypeArray:
		if len(v.Array) != len(o.Array) {
			return false
		}
		for i := range v.Array {
			if !v.Array[i].Equal(o.Array[i]) {
				return false
			}
		}
		return true
	case TypeMap:
		if len(v.Map) != len(o.Map) {
			return false
		}
		for i := range v.Map {
			if !v.Map[i].Key.Equal(o.Map[i].Key) || !v.Map[i].Value.Equal(o.Map[i].Value) {
				return false
			}
		}
		return true
	}

	return false
}

// TypeName returns a human-readable name of a wire type byte
func TypeName(t byte) string {
	switch t {
	case TypeSimpleString:
		return "simple-string"
	case TypeError:
		return "error"
	case TypeInteger:
		return "integer"
	case TypeBulkString:
		return "bulk-string"
	case TypeArray:
		return "array"
	case TypeMap:
		return "map"
	}
	return "unknown"
}
