package resp

// MakeCommand builds a command invocation: the name followed by positional arguments
func MakeCommand(name string, args []Value) Value {
	elements := make([]Value, 1+len(args))

	elements[0] = MakeBulkString(name)

	copy(elements[1:], args)

	return MakeArray(elements)
}

// CommandArgs converts native arguments of a command invocation.
// Strings are sent as bulk strings so arbitrary text is binary-safe,
// everything else follows ValueOf
func CommandArgs(args ...any) ([]Value, error) {
	vals := make([]Value, len(args))
	for i, arg := range args {
		if s, ok := arg.(string); ok {
			vals[i] = MakeBulkString(s)
			continue
		}

		v, err := ValueOf(arg)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

// SerializeCommand uses a standard Encoder to convert the command to bytes
func SerializeCommand(cmd string, args []Value) ([]byte, error) {
	return Encode(MakeCommand(cmd, args))
}
