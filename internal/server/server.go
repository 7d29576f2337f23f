package server

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eternalApril/moonkv/internal/resp"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// DefaultMaxClients bounds concurrent connections when Options leaves it unset
const DefaultMaxClients = 64

// Options tunes the connection loop
type Options struct {
	MaxClients int        // concurrent connection tasks, extra clients wait at the listener
	Limits     resp.Limits // decoder limits applied to every request, zero selects resp.DefaultLimits
}

// Server accepts connections and runs one request/response loop per connection.
// No request timeout is applied: a stalled client holds its slot until it disconnects
type Server struct {
	engine  *Engine
	opts    Options
	metrics *Metrics
	logger  *zap.Logger

	peers   *xsync.MapOf[uint64, *Peer] // live connections, closed on shutdown
	nextID  atomic.Uint64
	closing atomic.Bool

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
}

// NewServer creates a server that executes requests on engine. metrics may be nil
func NewServer(engine *Engine, opts Options, metrics *Metrics, logger *zap.Logger) *Server {
	if opts.MaxClients <= 0 {
		opts.MaxClients = DefaultMaxClients
	}
	if opts.Limits == (resp.Limits{}) {
		opts.Limits = resp.DefaultLimits
	}

	s := &Server{
		engine:  engine,
		opts:    opts,
		metrics: metrics,
		logger:  logger,
		peers:   xsync.NewMapOf[uint64, *Peer](),
		done:    make(chan struct{}),
	}
	metrics.trackActive(func() float64 {
		return float64(s.peers.Size())
	})

	return s
}

// ListenAndServe listens on the TCP address and calls Serve
func (s *Server) ListenAndServe(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", address)
	}
	return s.Serve(listener)
}

// Serve accepts connections on listener until Shutdown is called.
// At most MaxClients connections are served at once, the accept loop
// blocks while the pool is full
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return errors.New("server already serving")
	}
	s.listener = listener
	s.mu.Unlock()

	defer close(s.done)

	// Shutdown ran before Serve
	if s.closing.Load() {
		listener.Close() //nolint:errcheck
		return nil
	}

	s.logger.Info("listening on", zap.String("address", listener.Addr().String()),
		zap.Int("max_clients", s.opts.MaxClients))

	workers := pool.New().WithMaxGoroutines(s.opts.MaxClients)
	defer workers.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("accept error", zap.Error(err))
			time.Sleep(5 * time.Millisecond)
			continue
		}

		workers.Go(func() {
			s.handleConnection(conn)
		})
	}
}

// Shutdown stops accepting, closes every live connection and waits for the
// connection tasks to return or ctx to expire
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	if listener == nil {
		return nil
	}
	listener.Close() //nolint:errcheck

	s.peers.Range(func(_ uint64, p *Peer) bool {
		p.Close() //nolint:errcheck
		return true
	})

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleConnection handles a connection for a single client
func (s *Server) handleConnection(conn net.Conn) {
	peer := NewPeer(s.nextID.Add(1), conn, s.opts.Limits)
	if s.closing.Load() {
		peer.Close() //nolint:errcheck
		return
	}

	s.peers.Store(peer.id, peer)
	s.metrics.connectionOpened()

	// Shutdown may have swept the registry before Store
	if s.closing.Load() {
		s.peers.Delete(peer.id)
		peer.Close() //nolint:errcheck
		return
	}

	if s.logger.Core().Enabled(zap.DebugLevel) {
		s.logger.Debug("client connected", zap.String("addr", peer.RemoteAddr()))
	}

	defer func() {
		if r := recover(); r != nil {
			s.metrics.recovered()
			s.logger.Error("connection task panicked",
				zap.String("addr", peer.RemoteAddr()),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}

		s.peers.Delete(peer.id)
		peer.Close() //nolint:errcheck

		// log connection close
		if s.logger.Core().Enabled(zap.DebugLevel) {
			s.logger.Debug("client disconnected", zap.String("addr", peer.RemoteAddr()))
		}
	}()

	s.serve(peer)
}

// serve runs the read-execute-write cycle until the client disconnects.
// Exactly one reply is written per decoded request or malformed frame
func (s *Server) serve(peer *Peer) {
	for {
		req, err := peer.ReadCommand()
		if err != nil {
			if errors.Is(err, resp.ErrDisconnected) {
				return
			}

			var protoErr *resp.ProtocolError
			if !errors.As(err, &protoErr) {
				if !s.closing.Load() {
					s.logger.Warn("read command failed", zap.String("addr", peer.RemoteAddr()), zap.Error(err))
				}
				return
			}

			s.metrics.protocolError()
			s.logger.Debug("malformed request", zap.String("addr", peer.RemoteAddr()), zap.Error(err))

			if err = peer.Resync(); err != nil {
				s.logger.Debug("resync failed", zap.String("addr", peer.RemoteAddr()), zap.Error(err))
			}

			if err = peer.Send(resp.MakeError(protoErr.Error())); err != nil {
				return
			}
			continue
		}

		reply, err := s.engine.Dispatch(req)
		if err != nil {
			s.logger.Error("command failed", zap.String("addr", peer.RemoteAddr()), zap.Error(err))
			return
		}

		if err = peer.Send(reply); err != nil {
			if !resp.IsEncodeError(err) {
				if !s.closing.Load() {
					s.logger.Warn("error writing response", zap.String("addr", peer.RemoteAddr()), zap.Error(err))
				}
				return
			}

			s.metrics.encodeError()
			s.logger.Error("reply cannot be encoded", zap.String("addr", peer.RemoteAddr()), zap.Error(err))

			if err = peer.Send(resp.MakeError("internal error: " + err.Error())); err != nil {
				return
			}
		}
	}
}
