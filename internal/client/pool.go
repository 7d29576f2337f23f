package client

import (
	"context"

	commonspool "github.com/jolestar/go-commons-pool/v2"
	"github.com/pkg/errors"

	"github.com/eternalApril/moonkv/internal/resp"
)

// connectionFactory dials pooled clients for one server address
type connectionFactory struct {
	addr string
}

func (f *connectionFactory) MakeObject(ctx context.Context) (*commonspool.PooledObject, error) {
	c, err := DialContext(ctx, f.addr)
	if err != nil {
		return nil, err
	}
	return commonspool.NewPooledObject(c), nil
}

func (f *connectionFactory) DestroyObject(ctx context.Context, object *commonspool.PooledObject) error {
	c, ok := object.Object.(*Client)
	if !ok {
		return errors.New("type mismatch")
	}
	return c.Close()
}

func (f *connectionFactory) ValidateObject(ctx context.Context, object *commonspool.PooledObject) bool {
	c, ok := object.Object.(*Client)
	return ok && !c.Broken()
}

func (f *connectionFactory) ActivateObject(ctx context.Context, object *commonspool.PooledObject) error {
	return nil
}

func (f *connectionFactory) PassivateObject(ctx context.Context, object *commonspool.PooledObject) error {
	return nil
}

// Pool shares a bounded number of connections between goroutines.
// A connection broken by a transport failure is discarded instead of returned
type Pool struct {
	objects *commonspool.ObjectPool
}

// NewPool creates a pool of at most size connections to addr. Connections are dialed lazily
func NewPool(ctx context.Context, addr string, size int) *Pool {
	if size <= 0 {
		size = 1
	}

	cfg := commonspool.NewDefaultPoolConfig()
	cfg.MaxTotal = size
	cfg.MaxIdle = size
	cfg.TestOnBorrow = true

	return &Pool{
		objects: commonspool.NewObjectPool(ctx, &connectionFactory{addr: addr}, cfg),
	}
}

// With borrows a connection for the duration of fn. Borrowing blocks while
// every connection is in use, until one is returned or ctx is done
func (p *Pool) With(ctx context.Context, fn func(*Client) error) error {
	obj, err := p.objects.BorrowObject(ctx)
	if err != nil {
		return errors.Wrap(err, "borrow connection")
	}
	c := obj.(*Client)

	defer func() {
		// the connection goes back even when fn was cancelled
		ctx := context.WithoutCancel(ctx)
		if c.Broken() {
			p.objects.InvalidateObject(ctx, c) //nolint:errcheck
			return
		}
		p.objects.ReturnObject(ctx, c) //nolint:errcheck
	}()

	return fn(c)
}

// Execute runs a single command on a pooled connection
func (p *Pool) Execute(ctx context.Context, name string, args ...any) (resp.Value, error) {
	var reply resp.Value
	err := p.With(ctx, func(c *Client) error {
		var err error
		reply, err = c.Execute(ctx, name, args...)
		return err
	})
	return reply, err
}

// Close closes every idle connection and rejects further borrows
func (p *Pool) Close(ctx context.Context) {
	p.objects.Close(ctx)
}
