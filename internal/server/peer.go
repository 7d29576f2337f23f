package server

import (
	"net"
	"os"
	"sync"
	"time"

	"github.com/eternalApril/moonkv/internal/resp"
	"github.com/pkg/errors"
)

const (
	// input arriving closer together than this still belongs to a malformed frame
	resyncQuiet = 50 * time.Millisecond
	// upper bound on skipping a malformed frame
	resyncTimeout = time.Second
)

// Peer represents a connected client.
// It wraps a network connection and provides synchronized methods for reading and writing RESP-encoded data
type Peer struct {
	id     uint64
	conn   net.Conn
	reader *resp.Decoder
	writer *resp.Encoder
	mu     sync.Mutex
}

// NewPeer initializes a new client peer from a network connection
func NewPeer(id uint64, conn net.Conn, limits resp.Limits) *Peer {
	return &Peer{
		id:     id,
		conn:   conn,
		reader: resp.NewDecoderWithLimits(conn, limits),
		writer: resp.NewEncoder(conn),
	}
}

// Send encodes, writes and flushes a RESP value to the client.
// This method is thread-safe and can be called from multiple goroutines
func (p *Peer) Send(v resp.Value) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writer.Write(v)
}

// ReadCommand reads and decodes the next RESP value from the client's input stream
func (p *Peer) ReadCommand() (resp.Value, error) {
	return p.reader.Read()
}

// Resync skips the rest of a frame rejected with a *resp.ProtocolError, so the
// next ReadCommand starts at a frame boundary. When the frame end is unknown,
// input is dropped until the client stays quiet for resyncQuiet
func (p *Peer) Resync() error {
	deadline := time.Now().Add(resyncTimeout)
	if err := p.conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	defer p.conn.SetReadDeadline(time.Time{}) //nolint:errcheck

	drain, err := p.reader.Recover()
	if err != nil || !drain {
		return quietErr(err)
	}

	for {
		p.reader.Discard()

		quiet := time.Now().Add(resyncQuiet)
		if quiet.After(deadline) {
			return nil
		}
		if err = p.conn.SetReadDeadline(quiet); err != nil {
			return err
		}
		if err = p.reader.Fill(); err != nil {
			return quietErr(err)
		}
	}
}

// quietErr treats an expired read deadline as the end of the input
func quietErr(err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return nil
	}
	return err
}

// RemoteAddr returns the client network address
func (p *Peer) RemoteAddr() string {
	return p.conn.RemoteAddr().String()
}

// Close terminates the underlying network connection
func (p *Peer) Close() error {
	return p.conn.Close()
}
