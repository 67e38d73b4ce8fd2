package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"connector-rpc/codec"
)

// Dialer opens connections to connector servers and bounds how many are open
// to one address at a time. Each address gets a buffered channel of slots: a
// slot is taken before dialing and given back when the Conn is closed, so
// callers beyond the limit block until a call on that address finishes.
type Dialer struct {
	Timeout  time.Duration
	MaxConns int

	reg   *codec.Registry
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewDialer returns a Dialer. maxConns <= 0 means no limit.
func NewDialer(reg *codec.Registry, timeout time.Duration, maxConns int) *Dialer {
	return &Dialer{
		Timeout:  timeout,
		MaxConns: maxConns,
		reg:      reg,
		slots:    make(map[string]chan struct{}),
	}
}

// Dial connects to addr over TCP.
func (d *Dialer) Dial(ctx context.Context, addr string) (*Conn, error) {
	release, err := d.acquire(ctx, addr)
	if err != nil {
		return nil, err
	}

	nd := net.Dialer{Timeout: d.Timeout}
	nc, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		release()
		return nil, err
	}
	c := NewConn(nc, d.reg)
	c.release = release
	return c, nil
}

// InUse returns the number of open connections to addr.
func (d *Dialer) InUse(addr string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.slots[addr]; ok {
		return len(ch)
	}
	return 0
}

func (d *Dialer) acquire(ctx context.Context, addr string) (func(), error) {
	if d.MaxConns <= 0 {
		return func() {}, nil
	}
	d.mu.Lock()
	ch, ok := d.slots[addr]
	if !ok {
		ch = make(chan struct{}, d.MaxConns)
		d.slots[addr] = ch
	}
	d.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
