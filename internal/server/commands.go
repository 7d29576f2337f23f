package server

import (
	"fmt"

	"github.com/eternalApril/moonkv/internal/resp"
	"github.com/eternalApril/moonkv/internal/storage"
)

// CommandError is a request-level failure. It is reported to the client as an
// error reply and the connection stays open
type CommandError struct {
	Msg string
}

func (e *CommandError) Error() string {
	return e.Msg
}

func commandErrorf(format string, args ...any) error {
	return &CommandError{Msg: fmt.Sprintf(format, args...)}
}

// request carries the positional arguments of one invocation
type request struct {
	args    []resp.Value
	storage storage.Storage
}

type command interface {
	execute(req *request) (resp.Value, error)
}

type commandFunc func(req *request) (resp.Value, error)

func (c commandFunc) execute(req *request) (resp.Value, error) {
	return c(req)
}
