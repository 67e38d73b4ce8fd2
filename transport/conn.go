// Package transport carries codec messages over a byte stream.
//
// The protocol is half duplex: one side writes a whole top-level message,
// the other reads it, and only one call is ever in flight on a connection.
// Concurrency comes from opening more connections, which Dialer bounds per
// server address.
package transport

import (
	"bufio"
	"net"
	"sync"
	"time"

	"connector-rpc/codec"
)

// Conn sends and receives one top-level message at a time.
// A Conn is not safe for concurrent use.
type Conn struct {
	nc  net.Conn
	bw  *bufio.Writer
	enc *codec.Encoder
	dec *codec.Decoder

	release   func()
	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps nc. Both directions share the registry.
func NewConn(nc net.Conn, reg *codec.Registry) *Conn {
	bw := bufio.NewWriter(nc)
	return &Conn{
		nc:  nc,
		bw:  bw,
		enc: codec.NewEncoder(bw, reg),
		dec: codec.NewDecoder(bufio.NewReader(nc), reg),
	}
}

// WriteObject encodes v as one message and flushes it.
func (c *Conn) WriteObject(v any) error {
	if err := c.enc.Encode(v); err != nil {
		return err
	}
	return c.bw.Flush()
}

// ReadObject blocks for the next message. It returns io.EOF when the peer
// closed the stream between messages.
func (c *Conn) ReadObject() (any, error) {
	return c.dec.Decode()
}

// SetDeadline sets the read and write deadline of the underlying connection.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.nc.SetDeadline(t)
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}

func (c *Conn) LocalAddr() net.Addr {
	return c.nc.LocalAddr()
}

// Close closes the connection and frees its Dialer slot, if any. It may be
// called more than once and from another goroutine to abort a blocked read.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.nc.Close()
		if c.release != nil {
			c.release()
		}
	})
	return c.closeErr
}
