package quic

import (
	"crypto/rand"
	"io"
	"net"

	"github.com/yinhail/quincy/transport"
)

// Client drives client-role connections: it dials one or more servers and
// surfaces their events to a Handler (spec.md §4.2, client connection
// state machine: BeforeInitial → BeforeHello → Established).
type Client struct {
	ep *endpoint
}

// NewClient returns a Client that will use config for every connection it
// dials. A nil config uses transport.NewConfig's defaults.
func NewClient(config *transport.Config) *Client {
	return &Client{ep: newEndpoint(true, config)}
}

func (c *Client) SetHandler(h Handler) { c.ep.SetHandler(h) }

func (c *Client) SetLogger(level int, w io.Writer) { c.ep.SetLogger(level, w) }

// ListenAndServe binds the local UDP socket subsequent Connect calls will
// send and receive from.
func (c *Client) ListenAndServe(addr string) error {
	return c.ep.listen(addr)
}

// Connect dials addr, creating a new client connection and starting its
// handshake.
func (c *Client) Connect(addr string) error {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	scid := make([]byte, 16)
	if _, err := rand.Read(scid); err != nil {
		return err
	}
	tconn, err := transport.Connect(scid, c.ep.config)
	if err != nil {
		return err
	}
	rc := newRemoteConn(scid, raddr, tconn)
	c.ep.register(rc)
	rc.wake()
	return nil
}

func (c *Client) Close() error { return c.ep.close() }
