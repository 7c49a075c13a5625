package quic

import (
	"net"

	"github.com/yinhail/quincy/transport"
)

// remoteConn binds one transport.Conn state machine to the peer address
// an endpoint routes its datagrams by. spec.md's Non-goals exclude
// connection migration beyond a peer-address update, so keying routing on
// the UDP peer address (rather than connection ID) is sufficient here and
// is what endpoint.dispatch does.
type remoteConn struct {
	scid []byte
	addr net.Addr
	conn *transport.Conn

	// kick wakes the connection's pump goroutine after new data has been
	// fed in, so it can flush any resulting outbound packets without
	// waiting for its next idle-timeout tick.
	kick chan struct{}
}

func newRemoteConn(scid []byte, addr net.Addr, conn *transport.Conn) *remoteConn {
	return &remoteConn{scid: scid, addr: addr, conn: conn, kick: make(chan struct{}, 1)}
}

func (c *remoteConn) Stream(id uint64) *transport.Stream {
	st, err := c.conn.Stream(id)
	if err != nil {
		return nil
	}
	return st
}

func (c *remoteConn) RemoteAddr() net.Addr { return c.addr }

func (c *remoteConn) wake() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}
