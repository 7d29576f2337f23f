package server

import (
	"github.com/eternalApril/moonkv/internal/resp"
	"github.com/eternalApril/moonkv/internal/storage"
)

// keyArg returns the key carried by a string-typed argument
func keyArg(v resp.Value) (string, error) {
	if !v.IsText() {
		return "", commandErrorf("invalid key: expected string, got %s", resp.TypeName(v.Type))
	}
	return string(v.String), nil
}

func keyArgs(vals []resp.Value) ([]string, error) {
	keys := make([]string, len(vals))
	for i, v := range vals {
		key, err := keyArg(v)
		if err != nil {
			return nil, err
		}
		keys[i] = key
	}
	return keys, nil
}

// get returns the stored value or a null bulk string
func get(req *request) (resp.Value, error) {
	key, err := keyArg(req.args[0])
	if err != nil {
		return resp.Value{}, err
	}

	val, ok := req.storage.Get(key)
	if !ok {
		return resp.MakeNilBulkString(), nil
	}

	return val, nil
}

// set stores the value as sent, whatever its type
func set(req *request) (resp.Value, error) {
	key, err := keyArg(req.args[0])
	if err != nil {
		return resp.Value{}, err
	}

	req.storage.Set(key, req.args[1])

	return resp.MakeInteger(1), nil
}

func del(req *request) (resp.Value, error) {
	key, err := keyArg(req.args[0])
	if err != nil {
		return resp.Value{}, err
	}

	return resp.MakeBool(req.storage.Delete(key)), nil
}

func flush(req *request) (resp.Value, error) {
	return resp.MakeInteger(int64(req.storage.Clear())), nil
}

func mget(req *request) (resp.Value, error) {
	keys, err := keyArgs(req.args)
	if err != nil {
		return resp.Value{}, err
	}

	items := req.storage.MGet(keys)

	vals := make([]resp.Value, len(items))
	for i, it := range items {
		if it.Found {
			vals[i] = it.Value
		} else {
			vals[i] = resp.MakeNilBulkString()
		}
	}

	return resp.MakeArray(vals), nil
}

// mset writes pairs taken two at a time. A trailing key without a value is dropped
func mset(req *request) (resp.Value, error) {
	entries := make([]storage.Entry, 0, len(req.args)/2)
	for i := 0; i+1 < len(req.args); i += 2 {
		key, err := keyArg(req.args[i])
		if err != nil {
			return resp.Value{}, err
		}
		entries = append(entries, storage.Entry{Key: key, Value: req.args[i+1]})
	}

	return resp.MakeInteger(int64(req.storage.MSet(entries))), nil
}
