package resp

import (
	"fmt"
	"math"
	"sort"
)

// ValueOf converts a native Go value into a Value.
//
// The mapping is: string to simple string, []byte to bulk string, integers and
// bools to integer, nil to null bulk string, error to error, slices to array,
// []Pair and map[string]any (sorted by key) to map. Values are passed through.
// Anything else yields an *UnsupportedTypeError naming the Go type
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return MakeNilBulkString(), nil
	case Value:
		return t, nil
	case *Value:
		if t == nil {
			return MakeNilBulkString(), nil
		}
		return *t, nil
	case string:
		return MakeSimpleString(t), nil
	case []byte:
		return MakeBulkBytes(t), nil
	case error:
		return MakeError(t.Error()), nil
	case bool:
		return MakeBool(t), nil
	case int:
		return MakeInteger(int64(t)), nil
	case int8:
		return MakeInteger(int64(t)), nil
	case int16:
		return MakeInteger(int64(t)), nil
	case int32:
		return MakeInteger(int64(t)), nil
	case int64:
		return MakeInteger(t), nil
	case uint8:
		return MakeInteger(int64(t)), nil
	case uint16:
		return MakeInteger(int64(t)), nil
	case uint32:
		return MakeInteger(int64(t)), nil
	case uint:
		return unsignedValue(uint64(t), x)
	case uint64:
		return unsignedValue(t, x)
	case []Value:
		return MakeArray(t), nil
	case []string:
		vals := make([]Value, len(t))
		for i, s := range t {
			vals[i] = MakeSimpleString(s)
		}
		return MakeArray(vals), nil
	case [][]byte:
		vals := make([]Value, len(t))
		for i, b := range t {
			vals[i] = MakeBulkBytes(b)
		}
		return MakeArray(vals), nil
	case []any:
		vals := make([]Value, len(t))
		for i, el := range t {
			v, err := ValueOf(el)
			if err != nil {
				return Value{}, err
			}
			vals[i] = v
		}
		return MakeArray(vals), nil
	case []Pair:
		return MakeMap(t), nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		pairs := make([]Pair, len(keys))
		for i, k := range keys {
			v, err := ValueOf(t[k])
			if err != nil {
				return Value{}, err
			}
			pairs[i] = Pair{Key: MakeSimpleString(k), Value: v}
		}
		return MakeMap(pairs), nil
	}

	return Value{}, &UnsupportedTypeError{Type: fmt.Sprintf("%T", x)}
}

func unsignedValue(n uint64, x any) (Value, error) {
	if n > math.MaxInt64 {
		return Value{}, &UnsupportedTypeError{Type: fmt.Sprintf("%T out of int64 range", x)}
	}
	return MakeInteger(int64(n)), nil
}
