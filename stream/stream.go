// Package stream implements the flow control used for streamed results.
//
// The producer sends one OperationResponsePart per item and, every threshold
// items, an OperationResponsePause. It then waits for the consumer to answer
// with OperationRequestMoreData or OperationRequestStopData. Either way the
// exchange ends with OperationResponseEnd, so a stopped stream leaves the
// connection in a clean state.
package stream

import (
	"errors"
	"sync"

	"connector-rpc/message"
	"connector-rpc/metrics"
	"connector-rpc/protocol"
)

// DefaultThreshold is the number of items sent between pauses when the call
// does not ask for another value.
const DefaultThreshold = 100

// Conn is the message stream a producer or consumer runs on.
type Conn interface {
	WriteObject(v any) error
	ReadObject() (any, error)
}

// Producer feeds streamed items to the far side. Its Handle method is passed
// to the connector as the results handler.
//
// Handle and Finish may be called from different goroutines: once Finish has
// run, late Handle calls write nothing and return false.
type Producer struct {
	conn      Conn
	threshold int

	mu       sync.Mutex
	sent     int
	stopped  bool
	finished bool
	err      error
	// encodeErr is an item that could not be encoded. Nothing was written
	// for it, so the stream can still end cleanly.
	encodeErr error
}

// NewProducer returns a Producer pausing every threshold items. A threshold
// <= 0 uses DefaultThreshold.
func NewProducer(conn Conn, threshold int) *Producer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Producer{conn: conn, threshold: threshold}
}

// Handle sends one item. It returns false once the consumer asked to stop or
// the connection failed; the connector should stop producing then.
func (p *Producer) Handle(item any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || p.finished || p.err != nil || p.encodeErr != nil {
		return false
	}
	if err := p.conn.WriteObject(&message.OperationResponsePart{Result: item}); err != nil {
		if errors.Is(err, protocol.ErrProtocol) {
			p.encodeErr = err
		} else {
			p.err = err
		}
		return false
	}
	p.sent++
	metrics.StreamItem(metrics.SideServer)
	if p.sent%p.threshold != 0 {
		return true
	}

	metrics.StreamPause()
	if p.err = p.conn.WriteObject(&message.OperationResponsePause{}); p.err != nil {
		return false
	}
	reply, err := p.conn.ReadObject()
	if err != nil {
		p.err = err
		return false
	}
	switch reply.(type) {
	case *message.OperationRequestMoreData:
		return true
	case *message.OperationRequestStopData:
		metrics.StreamStop()
		p.stopped = true
		return false
	default:
		p.err = protocol.Errorf("expected MoreData or StopData, got %T", reply)
		return false
	}
}

// Finish closes the stream. A non-nil failure, or an item that could not be
// encoded, is sent as a final part before the end marker. Finish returns the
// connection error that interrupted the stream, if any; nothing is written in
// that case.
func (p *Producer) Finish(failure error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return nil
	}
	p.finished = true
	if p.err != nil {
		return p.err
	}
	if failure == nil {
		failure = p.encodeErr
	}
	if failure != nil {
		if err := p.conn.WriteObject(&message.OperationResponsePart{Exception: failure}); err != nil {
			return err
		}
	}
	return p.conn.WriteObject(&message.OperationResponseEnd{})
}

// Sent returns the number of items written.
func (p *Producer) Sent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}

// Stopped reports whether the consumer asked to stop.
func (p *Producer) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Err returns the connection error that interrupted the stream.
func (p *Producer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
