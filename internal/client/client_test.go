package client

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/eternalApril/moonkv/internal/resp"
	"github.com/eternalApril/moonkv/internal/server"
	"github.com/eternalApril/moonkv/internal/storage"
)

func startServer(t *testing.T) string {
	t.Helper()

	s, err := storage.New(4)
	require.NoError(t, err)

	log := zaptest.NewLogger(t)
	srv := server.NewServer(server.NewEngine(s, nil, log), server.Options{}, nil, log)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(listener) //nolint:errcheck

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx) //nolint:errcheck
	})

	return listener.Addr().String()
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestClientCommands(t *testing.T) {
	ctx := testContext(t)

	c, err := DialContext(ctx, startServer(t))
	require.NoError(t, err)
	defer c.Close() //nolint:errcheck

	n, err := c.MSet(ctx, "k1", "v1", "k2", []any{"v2-0", 1, "v2-2"}, "k3", "v3")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	v, err := c.Get(ctx, "k3")
	require.NoError(t, err)
	assert.Equal(t, "v3", string(v.String))

	v, err = c.Get(ctx, "k2")
	require.NoError(t, err)
	want := resp.MakeArray([]resp.Value{
		resp.MakeSimpleString("v2-0"),
		resp.MakeInteger(1),
		resp.MakeSimpleString("v2-2"),
	})
	assert.True(t, want.Equal(v), "got %+v", v)

	vals, err := c.MGet(ctx, "k1", "missing")
	require.NoError(t, err)
	require.Len(t, vals, 2)
	assert.Equal(t, "v1", string(vals[0].String))
	assert.True(t, vals[1].IsNull)

	existed, err := c.Delete(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = c.Delete(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, existed)

	require.NoError(t, c.Set(ctx, "k4", int64(42)))
	v, err = c.Get(ctx, "k4")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Integer)

	removed, err := c.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	v, err = c.Get(ctx, "k3")
	require.NoError(t, err)
	assert.True(t, v.IsNull)
}

func TestClientCommandError(t *testing.T) {
	ctx := testContext(t)

	c, err := DialContext(ctx, startServer(t))
	require.NoError(t, err)
	defer c.Close() //nolint:errcheck

	_, err = c.Execute(ctx, "FOO")

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "Unrecognized command: FOO", cmdErr.Message)
	assert.False(t, c.Broken())

	require.NoError(t, c.Set(ctx, "k", "still usable"))
}

func TestClientUnsupportedArgument(t *testing.T) {
	ctx := testContext(t)

	c, err := DialContext(ctx, startServer(t))
	require.NoError(t, err)
	defer c.Close() //nolint:errcheck

	err = c.Set(ctx, "k", struct{}{})

	var typeErr *resp.UnsupportedTypeError
	require.ErrorAs(t, err, &typeErr)
	assert.False(t, c.Broken())

	require.NoError(t, c.Set(ctx, "k", "v"))
}

func TestClientContextCancel(t *testing.T) {
	// a listener that accepts but never answers
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close() //nolint:errcheck

	accepted := make(chan net.Conn, 1)
	go func() {
		if conn, err := listener.Accept(); err == nil {
			accepted <- conn
		}
	}()
	defer func() {
		(<-accepted).Close() //nolint:errcheck
	}()

	c, err := Dial(listener.Addr().String())
	require.NoError(t, err)
	defer c.Close() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = c.Get(ctx, "k")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, c.Broken())

	_, err = c.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrBroken)
}

func TestClientServerGone(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	c := NewClient(clientConn)

	go func() {
		buf := make([]byte, 64)
		serverConn.Read(buf) //nolint:errcheck
		serverConn.Close()   //nolint:errcheck
	}()

	_, err := c.Get(testContext(t), "k")
	require.Error(t, err)

	var cmdErr *CommandError
	assert.NotErrorAs(t, err, &cmdErr)
	assert.True(t, c.Broken())
}

func TestPool(t *testing.T) {
	ctx := testContext(t)

	p := NewPool(ctx, startServer(t), 4)
	defer p.Close(ctx)

	const workers = 16

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			key := string(rune('a' + i))
			_, err := p.Execute(ctx, "SET", key, i)
			assert.NoError(t, err)

			v, err := p.Execute(ctx, "GET", key)
			assert.NoError(t, err)
			assert.Equal(t, int64(i), v.Integer)
		}(i)
	}
	wg.Wait()

	err := p.With(ctx, func(c *Client) error {
		n, err := c.Flush(ctx)
		assert.Equal(t, int64(workers), n)
		return err
	})
	require.NoError(t, err)
}

func TestPoolDiscardsBrokenConnection(t *testing.T) {
	ctx := testContext(t)

	p := NewPool(ctx, startServer(t), 1)
	defer p.Close(ctx)

	var first *Client
	require.NoError(t, p.With(ctx, func(c *Client) error {
		first = c
		return c.Close()
	}))

	require.NoError(t, p.With(ctx, func(c *Client) error {
		assert.NotSame(t, first, c)
		return c.Set(ctx, "k", "v")
	}))

	v, err := p.Execute(ctx, "GET", "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(v.String))
}
