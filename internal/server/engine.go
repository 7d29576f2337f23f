package server

import (
	"bytes"
	"strings"

	"github.com/eternalApril/moonkv/internal/resp"
	"github.com/eternalApril/moonkv/internal/storage"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Engine interprets decoded values as command invocations and runs them
// against the shared storage
type Engine struct {
	commands [numCommands]command // indexed by commandID
	storage  storage.Storage      // Interface to the underlying KV storage
	metrics  *Metrics
	logger   *zap.Logger
}

// NewEngine initializes the engine and fills the command table. metrics may be nil
func NewEngine(s storage.Storage, metrics *Metrics, logger *zap.Logger) *Engine {
	engine := Engine{
		storage: s,
		metrics: metrics,
		logger:  logger,
	}
	engine.registerBasicCommand()

	return &engine
}

// register binds a handler to a command identifier
func (e *Engine) register(id commandID, cmd command) {
	e.commands[id] = cmd
}

// registerBasicCommand fills the registry with standard commands
func (e *Engine) registerBasicCommand() {
	e.register(cmdGet, commandFunc(get))
	e.register(cmdSet, commandFunc(set))
	e.register(cmdDelete, commandFunc(del))
	e.register(cmdFlush, commandFunc(flush))
	e.register(cmdMGet, commandFunc(mget))
	e.register(cmdMSet, commandFunc(mset))
}

// Execute runs one request and returns its reply.
// A request-level failure is returned as *CommandError
func (e *Engine) Execute(req resp.Value) (resp.Value, error) {
	parts, err := invocation(req)
	if err != nil {
		return resp.Value{}, err
	}

	if len(parts) == 0 {
		return resp.Value{}, &CommandError{Msg: "Missing command"}
	}

	if !parts[0].IsText() {
		return resp.Value{}, commandErrorf("Unrecognized command: <%s>", resp.TypeName(parts[0].Type))
	}

	name := strings.ToUpper(string(parts[0].String))

	id, ok := lookupCommand(name)
	if !ok {
		return resp.Value{}, commandErrorf("Unrecognized command: %s", name)
	}

	meta := commandTable[id]
	if !meta.checkArity(len(parts)) {
		return resp.Value{}, commandErrorf("wrong number of arguments for '%s' command", meta.name)
	}

	if e.logger.Core().Enabled(zap.DebugLevel) {
		// Log the command name and number of args
		e.logger.Debug("executing command",
			zap.String("cmd", name),
			zap.Int("args_count", len(parts)-1),
			zap.Bool("write", meta.isWrite()),
		)
	}

	e.metrics.command(meta.name)

	return e.commands[id].execute(&request{
		args:    parts[1:],
		storage: e.storage,
	})
}

// Dispatch is Execute with request-level failures turned into error replies
func (e *Engine) Dispatch(req resp.Value) (resp.Value, error) {
	reply, err := e.Execute(req)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			e.metrics.commandError()
			return resp.MakeError(cmdErr.Msg), nil
		}
		return resp.Value{}, err
	}
	return reply, nil
}

// invocation normalizes a request into command name and arguments.
// Text requests are split on whitespace
func invocation(req resp.Value) ([]resp.Value, error) {
	if req.Type == resp.TypeArray && !req.IsNull {
		return req.Array, nil
	}

	if req.IsText() {
		fields := bytes.Fields(req.String)
		parts := make([]resp.Value, len(fields))
		for i, f := range fields {
			parts[i] = resp.MakeBulkBytes(f)
		}
		return parts, nil
	}

	return nil, &CommandError{Msg: "Request must be list or simple string."}
}
