package server

type commandID uint8

const (
	cmdGet commandID = iota + 1
	cmdSet
	cmdDelete
	cmdFlush
	cmdMGet
	cmdMSet

	numCommands = int(cmdMSet) + 1
)

type commandMetadata struct {
	name       string
	arity      int      // Arity includes the command name itself, negative means "at least"
	flags      []string // readonly, write, fast
	summary    string
	complexity string
}

// commandTable is indexed by commandID
var commandTable = [numCommands]commandMetadata{
	cmdGet: {
		name:       "GET",
		arity:      2,
		flags:      []string{"readonly", "fast"},
		summary:    "Get the value of a key.",
		complexity: "O(1)",
	},
	cmdSet: {
		name:       "SET",
		arity:      3,
		flags:      []string{"write"},
		summary:    "Set the value of a key.",
		complexity: "O(1)",
	},
	cmdDelete: {
		name:       "DELETE",
		arity:      2,
		flags:      []string{"write", "fast"},
		summary:    "Delete a key.",
		complexity: "O(1)",
	},
	cmdFlush: {
		name:       "FLUSH",
		arity:      1,
		flags:      []string{"write"},
		summary:    "Remove all keys and return how many were removed.",
		complexity: "O(N) where N is the number of keys.",
	},
	cmdMGet: {
		name:       "MGET",
		arity:      -1,
		flags:      []string{"readonly"},
		summary:    "Get the values of all the given keys.",
		complexity: "O(N) where N is the number of keys to retrieve.",
	},
	cmdMSet: {
		name:       "MSET",
		arity:      -1,
		flags:      []string{"write"},
		summary:    "Set multiple keys to multiple values. A trailing key without a value is ignored.",
		complexity: "O(N) where N is the number of keys to set.",
	},
}

// commandNames maps the upper-cased command name to its identifier
var commandNames = func() map[string]commandID {
	names := make(map[string]commandID, numCommands)
	for id, meta := range commandTable {
		if meta.name != "" {
			names[meta.name] = commandID(id)
		}
	}
	return names
}()

// lookupCommand resolves an upper-cased name
func lookupCommand(name string) (commandID, bool) {
	id, ok := commandNames[name]
	return id, ok
}

// checkArity reports whether argc (command name included) matches the command arity
func (m commandMetadata) checkArity(argc int) bool {
	if m.arity < 0 {
		return argc >= -m.arity
	}
	return argc == m.arity
}

func (m commandMetadata) isWrite() bool {
	for _, f := range m.flags {
		if f == "write" {
			return true
		}
	}
	return false
}
