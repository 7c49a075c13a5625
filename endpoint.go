package quic

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/yinhail/quincy/transport"
)

// maxRoutingTable bounds the number of concurrently tracked connections,
// so a flood of spoofed Initial packets can only ever evict long-idle
// entries rather than grow the routing table without limit.
const maxRoutingTable = 4096

// endpoint is the UDP socket plumbing shared by Client and Server: one
// goroutine reads datagrams and routes each to a remoteConn by peer
// address, and one pump goroutine per connection flushes its outbound
// packets and retransmissions (spec.md §5, connections are driven
// cooperatively rather than by a dedicated OS thread each).
type endpoint struct {
	isClient bool
	config   *transport.Config
	logger   *logger

	mu      sync.Mutex
	handler Handler
	socket  net.PacketConn
	conns   *lru.Cache[string, *remoteConn]

	group  *errgroup.Group
	cancel context.CancelFunc

	derivedRetryKey []byte
}

func newEndpoint(isClient bool, config *transport.Config) *endpoint {
	if config == nil {
		config = transport.NewConfig()
	}
	e := &endpoint{
		isClient: isClient,
		config:   config,
		logger:   newLogger(),
	}
	conns, err := lru.NewWithEvict[string, *remoteConn](maxRoutingTable, func(_ string, c *remoteConn) {
		c.conn.Close(false, uint64(transport.ConnectionRefused), "evicted")
	})
	if err != nil {
		// Only returned for a non-positive size, which maxRoutingTable never is.
		panic(err)
	}
	e.conns = conns
	return e
}

func (e *endpoint) SetHandler(h Handler) {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
}

func (e *endpoint) SetLogger(level int, w io.Writer) {
	e.logger.configure(logLevel(level), w)
}

// listen binds the local UDP socket and starts the read loop.
func (e *endpoint) listen(addr string) error {
	socket, err := net.ListenPacket("udp", addr)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	e.mu.Lock()
	e.socket = socket
	e.cancel = cancel
	e.group = g
	e.mu.Unlock()

	g.Go(func() error { return e.readLoop(ctx, socket) })
	return nil
}

func (e *endpoint) readLoop(ctx context.Context, socket net.PacketConn) error {
	buf := make([]byte, transport.MaxPacketSize)
	for ctx.Err() == nil {
		socket.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := socket.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		e.dispatch(addr, append([]byte(nil), buf[:n]...))
	}
	return nil
}

func (e *endpoint) dispatch(addr net.Addr, b []byte) {
	key := addr.String()
	e.mu.Lock()
	rc, ok := e.conns.Get(key)
	e.mu.Unlock()
	if !ok {
		if e.isClient {
			return // Unsolicited datagram from an address we never dialed.
		}
		var err error
		rc, err = e.accept(addr, b)
		if err != nil {
			e.logger.log(levelError, "accept failed", "addr", key, "err", err)
			return
		}
		if rc == nil {
			return // A Retry was sent, or the datagram wasn't a usable Initial.
		}
	}
	if _, err := rc.conn.Write(b); err != nil {
		e.logger.log(levelError, "packet rejected", "addr", key, "err", err)
	}
	rc.wake()
}

// accept creates a server-side connection for a first-seen peer address.
// When the endpoint requires address validation (spec.md §4.3), an
// Initial without a valid token gets a Retry instead of a Conn.
func (e *endpoint) accept(addr net.Addr, b []byte) (*remoteConn, error) {
	var odcid []byte
	if e.config.RequireAddressValidation {
		version, initDCID, initSCID, token, ok := transport.PeekInitial(b)
		if !ok {
			return nil, nil
		}
		if len(token) == 0 {
			e.sendRetry(addr, version, initDCID, initSCID)
			return nil, nil
		}
		validated, valid := transport.ValidateRetryToken(e.retryTokenKey(), token, addr.String(), e.config.RetryTokenLifetime, time.Now())
		if !valid {
			e.sendRetry(addr, version, initDCID, initSCID)
			return nil, nil
		}
		odcid = validated
	}
	scid := make([]byte, 16)
	if _, err := rand.Read(scid); err != nil {
		return nil, err
	}
	tconn, err := transport.Accept(scid, odcid, e.config)
	if err != nil {
		return nil, err
	}
	rc := newRemoteConn(scid, addr, tconn)
	e.register(rc)
	e.dispatchEvents(rc, []transport.Event{{Type: EventConnAccept}})
	return rc, nil
}

// sendRetry issues a stateless Retry for a client Initial that arrived
// without a valid address-validation token (spec.md §4.3). initDCID is
// the Initial's destination connection id (the odcid the Retry's
// integrity tag authenticates and the token binds); initSCID is the
// client's chosen source connection id, echoed back as the Retry's
// destination connection id.
func (e *endpoint) sendRetry(addr net.Addr, version uint32, initDCID, initSCID []byte) {
	newCID := make([]byte, 16)
	if _, err := rand.Read(newCID); err != nil {
		return
	}
	token := transport.NewRetryToken(e.retryTokenKey(), initDCID, addr.String(), time.Now())
	pkt := transport.BuildRetryPacket(version, initSCID, newCID, initDCID, token)

	e.mu.Lock()
	socket := e.socket
	e.mu.Unlock()
	if socket == nil {
		return
	}
	if _, err := socket.WriteTo(pkt, addr); err != nil {
		e.logger.log(levelError, "retry send failed", "addr", addr.String(), "err", err)
	}
}

// retryTokenKey returns the configured RetryTokenKey, deriving and caching
// one from the TLS certificate on first use if none was configured
// (spec.md §4.3; transport.Config.RetryTokenKey doc comment).
func (e *endpoint) retryTokenKey() []byte {
	if len(e.config.RetryTokenKey) > 0 {
		return e.config.RetryTokenKey
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.derivedRetryKey != nil {
		return e.derivedRetryKey
	}
	var seed []byte
	if e.config.TLS != nil && len(e.config.TLS.Certificates) > 0 && len(e.config.TLS.Certificates[0].Certificate) > 0 {
		seed = e.config.TLS.Certificates[0].Certificate[0]
	} else {
		seed = make([]byte, 32)
		_, _ = rand.Read(seed)
	}
	sum := sha256.Sum256(seed)
	e.derivedRetryKey = sum[:]
	return e.derivedRetryKey
}

func (e *endpoint) register(rc *remoteConn) {
	e.logger.attachLogger(rc)
	e.mu.Lock()
	e.conns.Add(rc.addr.String(), rc)
	group := e.group
	e.mu.Unlock()
	group.Go(func() error { return e.pump(rc) })
}

// pump flushes a connection's outbound packets whenever it is kicked (new
// data arrived, or the application wrote to a stream) or its internal
// timer fires, until the connection closes.
func (e *endpoint) pump(rc *remoteConn) error {
	buf := make([]byte, transport.MaxPacketSize)
	for {
		for {
			n, err := rc.conn.Read(buf)
			if err != nil {
				e.closeConn(rc, err)
				return nil
			}
			if n == 0 {
				break
			}
			e.mu.Lock()
			socket := e.socket
			e.mu.Unlock()
			if _, err := socket.WriteTo(buf[:n], rc.addr); err != nil {
				e.closeConn(rc, err)
				return nil
			}
		}
		e.dispatchEvents(rc, nil)
		if rc.conn.IsClosed() {
			e.closeConn(rc, nil)
			return nil
		}
		var timer <-chan time.Time
		if timeout := rc.conn.Timeout(); timeout >= 0 {
			timer = time.After(timeout)
		}
		select {
		case <-rc.kick:
		case <-timer:
		}
	}
}

func (e *endpoint) dispatchEvents(rc *remoteConn, extra []transport.Event) {
	e.mu.Lock()
	h := e.handler
	e.mu.Unlock()
	if h == nil {
		return
	}
	events := rc.conn.Events(extra)
	if len(events) > 0 {
		h.Serve(rc, events)
	}
}

func (e *endpoint) closeConn(rc *remoteConn, err error) {
	if err != nil {
		e.logger.log(levelError, "connection closed", "addr", rc.addr.String(), "err", err)
	}
	e.mu.Lock()
	e.conns.Remove(rc.addr.String())
	e.mu.Unlock()
	e.logger.detachLogger(rc)
	e.dispatchEvents(rc, []transport.Event{{Type: EventConnClose}})
}

func (e *endpoint) close() error {
	e.mu.Lock()
	cancel, socket, group := e.cancel, e.socket, e.group
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	var err error
	if socket != nil {
		err = socket.Close()
	}
	if group != nil {
		group.Wait()
	}
	return err
}
