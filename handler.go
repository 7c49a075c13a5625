package quic

import (
	"net"

	"github.com/yinhail/quincy/transport"
)

// Connection-level events, surfaced to a Handler alongside the
// transport.Event stream-level events (spec.md §6, "Stream listener
// capability", extended here with connection lifecycle notifications an
// endpoint needs to report).
const (
	EventConnAccept = "conn_accept"
	EventConnClose  = "conn_close"
)

// Conn is the application-facing handle to one QUIC connection, wrapping
// the transport.Conn state machine with the peer address an endpoint
// routes datagrams by.
type Conn interface {
	// Stream returns the stream identified by id, creating it if this
	// endpoint is the one that would have opened it.
	Stream(id uint64) *transport.Stream
	RemoteAddr() net.Addr
}

// Handler reacts to connection and stream events raised while an endpoint
// drives its connections (spec.md §6, StreamListener capability).
type Handler interface {
	Serve(c Conn, events []transport.Event)
}
