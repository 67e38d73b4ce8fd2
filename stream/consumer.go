package stream

import (
	"context"

	"connector-rpc/message"
	"connector-rpc/metrics"
	"connector-rpc/objects"
	"connector-rpc/protocol"
)

// Consumer reads a streamed response and hands each item to a results
// handler.
type Consumer struct {
	conn    Conn
	handler objects.ResultsHandler

	delivered int
	discarded int
	stopped   bool
}

// NewConsumer returns a Consumer delivering items to handler.
func NewConsumer(conn Conn, handler objects.ResultsHandler) *Consumer {
	return &Consumer{conn: conn, handler: handler}
}

// Run reads until OperationResponseEnd. Items that arrive after the handler
// returned false are discarded; the stop is signalled at the next pause. A
// part carrying an exception, or an ErrorResponse, ends the call with that
// error. Once ctx is done no further item reaches the handler and Run
// returns ctx.Err().
func (c *Consumer) Run(ctx context.Context) error {
	for {
		v, err := c.conn.ReadObject()
		if err != nil {
			return err
		}
		switch m := v.(type) {
		case *message.OperationResponsePart:
			if m.Exception != nil {
				return m.Exception
			}
			if c.stopped {
				c.discarded++
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			c.delivered++
			metrics.StreamItem(metrics.SideClient)
			if !c.handler(m.Result) {
				c.stopped = true
			}
		case *message.OperationResponsePause:
			var reply any = &message.OperationRequestMoreData{}
			if c.stopped {
				reply = &message.OperationRequestStopData{}
			}
			if err := c.conn.WriteObject(reply); err != nil {
				return err
			}
		case *message.OperationResponseEnd:
			return nil
		case *message.ErrorResponse:
			if m.Exception == nil {
				return protocol.Errorf("error response without an exception")
			}
			return m.Exception
		default:
			return protocol.Errorf("unexpected %T in streamed response", v)
		}
	}
}

// Delivered returns the number of items passed to the handler.
func (c *Consumer) Delivered() int { return c.delivered }

// Discarded returns the number of items dropped after the handler stopped.
func (c *Consumer) Discarded() int { return c.discarded }

// Stopped reports whether the handler asked to stop.
func (c *Consumer) Stopped() bool { return c.stopped }
