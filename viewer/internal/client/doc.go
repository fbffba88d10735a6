// Package client is the viewer side of the fanstage wire protocol.
//
// Client.Run() dials the hub, sends join_stream and then runs two loops on
// the connection: a read goroutine that decodes hub events and hands them to
// the EventHandler, and a write loop that drains the outbox.
//
// Chat(), Like() and RequestCount() are non-blocking: messages are encoded and
// placed in a bounded outbox. When the outbox is full the oldest message is
// evicted. Messages queued while disconnected are sent after the next join.
//
// On connection loss Run reconnects with truncated exponential backoff
// (configurable bounds, ±25% jitter) and joins the stream again.
//
// The dialFn field is injectable for testing.
package client
