package client

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/eternalApril/moonkv/internal/resp"
	"github.com/pkg/errors"
)

// DefaultAddr is where the server listens unless configured otherwise
const DefaultAddr = "127.0.0.1:31337"

// ErrBroken is returned once a transport failure left the connection
// in an unknown state
var ErrBroken = errors.New("client connection is broken")

// CommandError carries the message of an error reply
type CommandError struct {
	Message string
}

func (e *CommandError) Error() string {
	return e.Message
}

// Client sends one command at a time over a single connection and waits for its reply
type Client struct {
	conn   net.Conn
	reader resp.Reader
	writer resp.Writer

	mu     sync.Mutex
	broken bool
}

// Dial connects to a server at addr
func Dial(addr string) (*Client, error) {
	return DialContext(context.Background(), addr)
}

// DialContext connects to a server at addr, ctx bounds the connection attempt
func DialContext(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	return NewClient(conn), nil
}

// NewClient wraps an established connection
func NewClient(conn net.Conn) *Client {
	return &Client{
		conn:   conn,
		reader: resp.NewDecoder(conn),
		writer: resp.NewEncoder(conn),
	}
}

// Execute sends the command and returns the decoded reply.
// String arguments go out as bulk strings, everything else through resp.ValueOf.
// An error reply is returned as *CommandError and leaves the connection usable
func (c *Client) Execute(ctx context.Context, name string, args ...any) (resp.Value, error) {
	vals, err := resp.CommandArgs(args...)
	if err != nil {
		return resp.Value{}, err
	}
	cmd := resp.MakeCommand(name, vals)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken {
		return resp.Value{}, ErrBroken
	}

	reply, err := c.roundTrip(ctx, cmd)
	if err != nil {
		if resp.IsEncodeError(err) {
			return resp.Value{}, err
		}

		c.broken = true
		c.conn.Close() //nolint:errcheck
		if ctxErr := ctx.Err(); ctxErr != nil {
			return resp.Value{}, ctxErr
		}
		return resp.Value{}, errors.Wrapf(err, "execute %s", name)
	}

	if reply.IsError() {
		return resp.Value{}, &CommandError{Message: string(reply.String)}
	}
	return reply, nil
}

func (c *Client) roundTrip(ctx context.Context, cmd resp.Value) (resp.Value, error) {
	// cancellation unblocks a pending read or write
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Unix(1, 0)) //nolint:errcheck
		close(fired)
	})
	defer func() {
		if !stop() {
			<-fired
			c.conn.SetDeadline(time.Time{}) //nolint:errcheck
		}
	}()

	if err := c.writer.Write(cmd); err != nil {
		return resp.Value{}, err
	}
	return c.reader.Read()
}

// Broken reports whether a transport failure closed the connection
func (c *Client) Broken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broken
}

// Close closes the connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.broken = true
	return c.conn.Close()
}

// Get returns the stored value, IsNull is set when the key is absent
func (c *Client) Get(ctx context.Context, key string) (resp.Value, error) {
	return c.Execute(ctx, "GET", key)
}

// Set stores value under key. Values are converted with resp.ValueOf,
// so nested slices are stored as arrays
func (c *Client) Set(ctx context.Context, key string, value any) error {
	_, err := c.Execute(ctx, "SET", key, value)
	return err
}

// Delete reports whether the key existed
func (c *Client) Delete(ctx context.Context, key string) (bool, error) {
	reply, err := c.Execute(ctx, "DELETE", key)
	if err != nil {
		return false, err
	}
	return reply.Integer == 1, nil
}

// Flush removes every key and returns how many were removed
func (c *Client) Flush(ctx context.Context) (int64, error) {
	reply, err := c.Execute(ctx, "FLUSH")
	if err != nil {
		return 0, err
	}
	return reply.Integer, nil
}

// MGet returns one value per key in request order
func (c *Client) MGet(ctx context.Context, keys ...string) ([]resp.Value, error) {
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	reply, err := c.Execute(ctx, "MGET", args...)
	if err != nil {
		return nil, err
	}
	return reply.Array, nil
}

// MSet writes alternating key/value items and returns the number of pairs written
func (c *Client) MSet(ctx context.Context, items ...any) (int64, error) {
	reply, err := c.Execute(ctx, "MSET", items...)
	if err != nil {
		return 0, err
	}
	return reply.Integer, nil
}
