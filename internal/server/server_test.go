package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/eternalApril/moonkv/internal/resp"
	"github.com/eternalApril/moonkv/internal/storage"
)

func startServer(t *testing.T, opts Options) (*Server, string) {
	t.Helper()
	return startServerWith(t, opts, nil)
}

// startServerWith lets setup adjust the engine before the first connection is accepted
func startServerWith(t *testing.T, opts Options, setup func(*Engine)) (*Server, string) {
	t.Helper()

	s, err := storage.NewShardedMapStorage(8)
	require.NoError(t, err)

	log := zaptest.NewLogger(t)
	m := NewMetrics()
	engine := NewEngine(s, m, log)
	if setup != nil {
		setup(engine)
	}
	srv := NewServer(engine, opts, m, log)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go srv.Serve(listener) //nolint:errcheck

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, srv.Shutdown(ctx))
	})

	return srv, listener.Addr().String()
}

type rawConn struct {
	net.Conn
	dec *resp.Decoder
}

func dial(t *testing.T, addr string) *rawConn {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() }) //nolint:errcheck

	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))

	return &rawConn{Conn: conn, dec: resp.NewDecoder(conn)}
}

func (c *rawConn) send(t *testing.T, raw string) {
	t.Helper()
	_, err := io.WriteString(c.Conn, raw)
	require.NoError(t, err)
}

func (c *rawConn) call(t *testing.T, args ...string) resp.Value {
	t.Helper()

	vals := make([]resp.Value, len(args)-1)
	for i, a := range args[1:] {
		vals[i] = resp.MakeBulkString(a)
	}

	b, err := resp.SerializeCommand(args[0], vals)
	require.NoError(t, err)
	c.send(t, string(b))

	return c.read(t)
}

func (c *rawConn) read(t *testing.T) resp.Value {
	t.Helper()
	v, err := c.dec.Read()
	require.NoError(t, err)
	return v
}

func TestServerScenario(t *testing.T) {
	_, addr := startServer(t, Options{})
	c := dial(t, addr)

	assert.Equal(t, int64(2), c.call(t, "MSET", "k1", "v1", "k2", "v2").Integer)
	assert.Equal(t, "v2", string(c.call(t, "GET", "k2").String))

	res := c.call(t, "MGET", "k1", "k3")
	require.Len(t, res.Array, 2)
	assert.Equal(t, "v1", string(res.Array[0].String))
	assert.True(t, res.Array[1].IsNull)

	assert.Equal(t, int64(1), c.call(t, "DELETE", "k1").Integer)
	assert.Equal(t, int64(0), c.call(t, "DELETE", "k1").Integer)

	c.call(t, "SET", "k3", "v3")
	c.call(t, "SET", "k4", "v4")
	assert.Equal(t, int64(3), c.call(t, "FLUSH").Integer)
	assert.True(t, c.call(t, "GET", "k2").IsNull)
}

func TestServerUnknownCommand(t *testing.T) {
	_, addr := startServer(t, Options{})
	c := dial(t, addr)

	res := c.call(t, "FOO")
	require.True(t, res.IsError())
	assert.Contains(t, string(res.String), "FOO")

	// connection stays usable
	assert.Equal(t, int64(1), c.call(t, "SET", "k", "v").Integer)
}

func TestServerEmptyInvocationKeepsConnection(t *testing.T) {
	_, addr := startServer(t, Options{})
	c := dial(t, addr)

	c.send(t, "*0\r\n")
	res := c.read(t)
	require.True(t, res.IsError())
	assert.Equal(t, "Missing command", string(res.String))

	assert.Equal(t, int64(1), c.call(t, "SET", "k", "v").Integer)
	assert.Equal(t, "v", string(c.call(t, "GET", "k").String))
}

func TestServerInlineText(t *testing.T) {
	_, addr := startServer(t, Options{})
	c := dial(t, addr)

	c.send(t, "+SET k hello\r\n")
	assert.Equal(t, int64(1), c.read(t).Integer)

	c.send(t, "+GET k\r\n")
	assert.Equal(t, "hello", string(c.read(t).String))
}

func TestServerProtocolErrors(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"Unknown type byte", "!GET k\r\n"},
		{"Bad bulk length", "*2\r\n$x\r\nGET\r\n$1\r\nk\r\n"},
		{"Bulk length mismatch", "*2\r\n$3\r\nGET\r\n$1\r\nkey\r\n"},
		{"Bad array count", "*two\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, addr := startServer(t, Options{})
			c := dial(t, addr)

			c.send(t, tt.frame)
			res := c.read(t)
			require.True(t, res.IsError(), "got %+v", res)
			assert.True(t, strings.HasPrefix(string(res.String), "Protocol error"), "got %q", res.String)

			// exactly one error reply, then the connection serves again
			assert.Equal(t, int64(1), c.call(t, "SET", "k", "v").Integer)
		})
	}
}

func TestServerMalformedFrameLargerThanBuffer(t *testing.T) {
	payload := strings.Repeat("a", 10000)

	tests := []struct {
		name  string
		frame string
	}{
		{"Bulk length mismatch", "$3\r\n" + payload + "\r\n"},
		{"Mismatch in the last element", "*2\r\n$3\r\nGET\r\n$5\r\n" + payload + "\r\n"},
		{"Unknown type byte", "!" + payload + "\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, addr := startServer(t, Options{})
			c := dial(t, addr)

			c.send(t, tt.frame+"*1\r\n$5\r\nFLUSH\r\n")

			res := c.read(t)
			require.True(t, res.IsError(), "got %+v", res)
			assert.True(t, strings.HasPrefix(string(res.String), "Protocol error"), "got %q", res.String)

			// the pipelined command right after the bad frame is answered next
			res = c.read(t)
			require.Equal(t, byte(resp.TypeInteger), res.Type, "got %+v", res)
			assert.Equal(t, int64(0), res.Integer)

			assert.Equal(t, int64(1), c.call(t, "SET", "k", "v").Integer)
		})
	}
}

func TestServerOversizedLineKeepsConnection(t *testing.T) {
	_, addr := startServer(t, Options{Limits: resp.Limits{MaxDepth: 4, MaxElements: 8, MaxBulkLen: 16, MaxLineLen: 16}})
	c := dial(t, addr)

	c.send(t, "+"+strings.Repeat("a", 1<<20)+"\r\n")

	res := c.read(t)
	require.True(t, res.IsError(), "got %+v", res)
	assert.Contains(t, string(res.String), "line exceeds limit")

	assert.Equal(t, int64(1), c.call(t, "SET", "k", "v").Integer)
}

func TestServerOversizedBulkDrainsFrame(t *testing.T) {
	_, addr := startServer(t, Options{Limits: resp.Limits{MaxDepth: 4, MaxElements: 8, MaxBulkLen: 16, MaxLineLen: 64}})
	c := dial(t, addr)

	c.send(t, "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$100000\r\n"+strings.Repeat("a", 100000)+"\r\n")

	res := c.read(t)
	require.True(t, res.IsError(), "got %+v", res)
	assert.Contains(t, string(res.String), "exceeds limit")

	// nothing else arrives for the dropped frame
	require.NoError(t, c.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, err := c.dec.Read()
	require.Error(t, err)

	require.NoError(t, c.SetDeadline(time.Now().Add(5*time.Second)))
	assert.Equal(t, int64(1), c.call(t, "SET", "k", "v").Integer)
}

func TestServerCleanDisconnect(t *testing.T) {
	srv, addr := startServer(t, Options{})
	c := dial(t, addr)

	assert.Equal(t, int64(1), c.call(t, "SET", "k", "v").Integer)

	require.NoError(t, c.Conn.(*net.TCPConn).CloseWrite())

	// nothing is sent for the absent request, the server closes its side
	rest, err := io.ReadAll(c.Conn)
	require.NoError(t, err)
	assert.Empty(t, rest)

	assert.Eventually(t, func() bool {
		return srv.peers.Size() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServerUnsupportedReplyKeepsConnection(t *testing.T) {
	srv, addr := startServer(t, Options{})

	// a value the encoder rejects, stored directly behind the engine
	srv.engine.storage.Set("bad", resp.Value{Type: '?'})

	c := dial(t, addr)

	res := c.call(t, "GET", "bad")
	require.True(t, res.IsError())
	assert.Contains(t, string(res.String), "Unrecognized type")

	assert.Equal(t, int64(1), c.call(t, "SET", "k", "v").Integer)
}

func TestServerConcurrentSessions(t *testing.T) {
	_, addr := startServer(t, Options{MaxClients: 16})

	const sessions = 16
	const rounds = 100

	var wg sync.WaitGroup
	errs := make(chan error, sessions)

	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			conn, err := net.Dial("tcp", addr)
			if err != nil {
				errs <- err
				return
			}
			defer conn.Close() //nolint:errcheck

			enc := resp.NewEncoder(conn)
			dec := resp.NewDecoder(conn)

			for r := 0; r < rounds; r++ {
				k1 := fmt.Sprintf("s%d-a", id)
				k2 := fmt.Sprintf("s%d-b", id)
				val := fmt.Sprintf("%d-%d", id, r)

				if err := enc.Write(resp.MakeCommand("MSET", []resp.Value{
					resp.MakeBulkString(k1), resp.MakeBulkString(val),
					resp.MakeBulkString(k2), resp.MakeBulkString(val),
				})); err != nil {
					errs <- err
					return
				}
				if reply, err := dec.Read(); err != nil || reply.Integer != 2 {
					errs <- fmt.Errorf("MSET reply %+v, %v", reply, err)
					return
				}

				if err := enc.Write(resp.MakeCommand("MGET", []resp.Value{
					resp.MakeBulkString(k1), resp.MakeBulkString(k2),
				})); err != nil {
					errs <- err
					return
				}
				reply, err := dec.Read()
				if err != nil || len(reply.Array) != 2 {
					errs <- fmt.Errorf("MGET reply %+v, %v", reply, err)
					return
				}
				if !bytes.Equal(reply.Array[0].String, []byte(val)) || !bytes.Equal(reply.Array[1].String, []byte(val)) {
					errs <- fmt.Errorf("session %d round %d lost an update: %+v", id, r, reply.Array)
					return
				}
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestServerMaxClientsQueuesAtListener(t *testing.T) {
	_, addr := startServer(t, Options{MaxClients: 1})

	first := dial(t, addr)
	assert.Equal(t, int64(1), first.call(t, "SET", "k", "v").Integer)

	second := dial(t, addr)
	second.send(t, "*2\r\n$3\r\nGET\r\n$1\r\nk\r\n")

	require.NoError(t, second.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, err := second.dec.Read()
	require.Error(t, err, "second client must wait while the only slot is busy")

	require.NoError(t, first.Close())

	// the waiting client is served once the slot frees up
	require.NoError(t, second.SetReadDeadline(time.Now().Add(5*time.Second)))
	assert.Equal(t, "v", string(second.read(t).String))
}

func TestServerShutdownClosesPeers(t *testing.T) {
	s, err := storage.NewShardedMapStorage(2)
	require.NoError(t, err)

	log := zaptest.NewLogger(t)
	srv := NewServer(NewEngine(s, nil, log), Options{}, nil, log)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- srv.Serve(listener) }()

	c := dial(t, listener.Addr().String())
	assert.Equal(t, int64(1), c.call(t, "SET", "k", "v").Integer)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, <-served)

	_, err = c.dec.Read()
	assert.Error(t, err)
}

func TestServerShutdownBeforeServe(t *testing.T) {
	s, err := storage.NewShardedMapStorage(2)
	require.NoError(t, err)

	log := zaptest.NewLogger(t)
	srv := NewServer(NewEngine(s, nil, log), Options{}, nil, log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- srv.Serve(listener) }()

	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve kept accepting after Shutdown")
	}

	_, err = net.DialTimeout("tcp", listener.Addr().String(), time.Second)
	assert.Error(t, err, "listener must be closed")
}

func TestMetricsExport(t *testing.T) {
	srv, addr := startServer(t, Options{})
	c := dial(t, addr)

	c.call(t, "SET", "k", "v")
	c.call(t, "NOPE")

	var buf bytes.Buffer
	srv.metrics.WritePrometheus(&buf)

	out := buf.String()
	assert.Contains(t, out, `moonkv_commands_total{command="SET"} 1`)
	assert.Contains(t, out, "moonkv_command_errors_total 1")
	assert.Contains(t, out, "moonkv_active_connections 1")
}

func TestServerPanicClosesOnlyThatConnection(t *testing.T) {
	srv, addr := startServerWith(t, Options{}, func(e *Engine) {
		e.register(cmdFlush, commandFunc(func(*request) (resp.Value, error) {
			panic("boom")
		}))
	})

	other := dial(t, addr)
	assert.Equal(t, int64(1), other.call(t, "SET", "k", "v").Integer)

	c := dial(t, addr)
	c.send(t, "*1\r\n$5\r\nFLUSH\r\n")
	_, err := c.dec.Read()
	require.Error(t, err, "the panicking connection is closed without a reply")

	assert.Equal(t, "v", string(other.call(t, "GET", "k").String))

	var buf bytes.Buffer
	srv.metrics.WritePrometheus(&buf)
	assert.Contains(t, buf.String(), "moonkv_connection_panics_total 1")
}
