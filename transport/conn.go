package transport

import (
	"crypto/rand"
	"io"
	"time"
)

// connectionState is where a Conn sits in the lifecycle QUIC draft-18 §4.1
// describes: an attempted handshake becomes either active or, on failure,
// draining before it's finally closed and safe to discard.
type connectionState uint8

const (
	stateAttempted connectionState = iota
	stateHandshake
	stateActive
	stateDraining
	stateClosed
)

// Conn drives one QUIC connection end to end: the handshake, per-space
// packet protection and loss recovery, and the streams multiplexed over
// it. Callers push received datagrams in through Write and pull packets to
// send back out through Read; everything else (timers, events, stream
// I/O) is reached through the Conn itself. The receive pipeline lives in
// conn_recv.go, the send pipeline in conn_send.go, and version
// negotiation / Retry / the TLS handshake glue in conn_handshake.go — this
// file holds the struct and the lifecycle surface callers use directly.
type Conn struct {
	isClient bool
	version  uint32

	scid  []byte // Our source connection ID, fixed for the life of the connection.
	dcid  []byte // Current destination connection ID; replaced by a Retry and by the first peer Initial.
	odcid []byte // Original destination CID the client's first Initial targeted.
	rscid []byte // Retry source CID, set only when a Retry round trip happened.
	token []byte // Address-validation token carried on the client's post-Retry Initial.

	packetNumberSpaces [packetSpaceCount]packetNumberSpace
	streams            streamMap

	localParams Parameters
	peerParams  Parameters

	handshake tlsHandshake
	recovery  lossRecovery
	flow      flowControl

	state                 connectionState
	gotPeerCID            bool
	didRetry              bool
	didVersionNegotiation bool
	ackElicitingSent      bool // An ack-eliciting packet has gone out since we last received one.
	handshakeConfirmed    bool // Client: HANDSHAKE_DONE seen. Server: HANDSHAKE_DONE sent.
	derivedInitialSecrets bool
	updateMaxData         bool // A MAX_DATA update is owed to the peer.

	closeFrame *connectionCloseFrame // Pending CONNECTION_CLOSE, set by Close.

	idleTimer     time.Time
	drainingTimer time.Time

	events     []Event
	logEventFn func(LogEvent)
}

// Connect starts a client-side connection attempt. scid is the connection
// ID the client chooses for itself; the destination CID is picked at
// random per spec.md §4.2.
func Connect(scid []byte, config *Config) (*Conn, error) {
	return newConn(config, scid, nil, true)
}

// Accept starts a server-side connection for a peer that has already
// presented a usable Initial packet. odcid is non-empty only once a Retry
// round trip validated the peer's address (spec.md §4.3); passing it here
// rather than re-deriving it inside Conn is what lets an endpoint decide
// whether to Retry before any Conn exists at all.
func Accept(scid, odcid []byte, config *Config) (*Conn, error) {
	return newConn(config, scid, odcid, false)
}

func newConn(config *Config, scid, odcid []byte, isClient bool) (*Conn, error) {
	if config == nil {
		return nil, newError(InternalError, "config required")
	}
	if len(scid) > MaxCIDLength || len(odcid) > MaxCIDLength {
		return nil, newError(ProtocolViolation, "cid too long")
	}

	c := &Conn{
		version:     config.version(),
		isClient:    isClient,
		localParams: config.Params,
		state:       stateAttempted,
	}
	c.handshake.init(c, config.TLS)

	now := c.time() // After handshake.init: time() may read config.TLS.Time.
	for i := range c.packetNumberSpaces {
		c.packetNumberSpaces[i].init()
	}
	c.streams.init(c.localParams.InitialMaxStreamsBidi, c.localParams.InitialMaxStreamsUni)
	c.recovery.init(now)
	c.flow.init(c.localParams.InitialMaxData, 0)

	if len(scid) > 0 {
		c.scid = append(c.scid[:0], scid...)
	}
	c.localParams.InitialSourceCID = c.scid

	if len(odcid) > 0 {
		c.odcid = append(c.odcid[:0], odcid...)
		c.localParams.OriginalDestinationCID = c.odcid
		c.localParams.RetrySourceCID = c.scid
		c.didRetry = true // Our own odcid is already final; recvPacketInitial must not overwrite it.
	} else {
		c.localParams.OriginalDestinationCID = nil
		c.localParams.RetrySourceCID = nil
	}

	if isClient {
		c.localParams.StatelessResetToken = nil // Clients never send one.
		c.dcid = make([]byte, MaxCIDLength)
		if err := c.rand(c.dcid); err != nil {
			return nil, err
		}
		c.deriveInitialKeyMaterial(c.dcid)
	}
	c.handshake.setTransportParams(&c.localParams)
	return c, nil
}

// Write feeds datagrams received from the peer into the connection. It
// stops short of consuming everything in b once the connection starts
// closing, since nothing received after that point changes the outcome.
func (c *Conn) Write(b []byte) (int, error) {
	now := c.time()
	consumed := 0
	for consumed < len(b) {
		if c.isClosing() {
			break
		}
		n, err := c.recv(b[consumed:], now)
		if err != nil {
			return consumed, err
		}
		consumed += n
	}
	c.checkTimeout(now)
	return consumed, nil
}

func (c *Conn) isClosing() bool {
	return !c.drainingTimer.IsZero() || c.closeFrame != nil
}

// Close schedules a CONNECTION_CLOSE to go out on the next Read and moves
// the connection into the draining state (spec.md §4.1, "draining").
func (c *Conn) Close(app bool, errCode uint64, reason string) {
	if c.isClosing() {
		return
	}
	debug("set close code=%d", errCode)
	c.closeFrame = &connectionCloseFrame{
		application:  app,
		errorCode:    errCode,
		reasonPhrase: []byte(reason),
	}
	c.state = stateDraining
}

// IsEstablished reports whether the handshake has completed.
func (c *Conn) IsEstablished() bool {
	return c.state == stateActive
}

// IsClosed reports whether the connection is done sending and receiving
// for good; callers should stop pumping it once this is true.
func (c *Conn) IsClosed() bool {
	return c.state == stateClosed
}

// Events appends any notifications raised since the last call (stream
// data arrived, was reset, etc. — spec.md §6) and clears the internal
// queue.
func (c *Conn) Events(events []Event) []Event {
	events = append(events, c.events...)
	for i := range c.events {
		c.events[i] = Event{}
	}
	c.events = c.events[:0]
	return events
}

func (c *Conn) addEvent(e Event) {
	c.events = append(c.events, e)
}

// Stream returns the stream with the given ID, opening it as a
// locally-initiated stream if it doesn't exist yet. Even IDs are
// client-initiated, odd are server-initiated, and bit 1 selects
// bidirectional vs. unidirectional (spec.md §4.6).
func (c *Conn) Stream(id uint64) (*Stream, error) {
	return c.getOrCreateStream(id, true)
}

func (c *Conn) getOrCreateStream(id uint64, local bool) (*Stream, error) {
	if st := c.streams.get(id); st != nil {
		return st, nil
	}
	if local != isStreamLocal(id, c.isClient) {
		return nil, newError(StreamStateError, sprint("invalid type of stream ", id))
	}
	bidi := isStreamBidi(id)
	st, err := c.streams.create(id, local, bidi)
	if err != nil {
		return nil, err
	}

	var maxRecv, maxSend uint64
	switch {
	case local && bidi:
		maxRecv = c.localParams.InitialMaxStreamDataBidiLocal
		maxSend = c.peerParams.InitialMaxStreamDataBidiRemote
	case local && !bidi:
		maxSend = c.peerParams.InitialMaxStreamDataUni
	case !local && bidi:
		maxRecv = c.localParams.InitialMaxStreamDataBidiRemote
		maxSend = c.peerParams.InitialMaxStreamDataBidiLocal
	default: // peer-initiated, unidirectional: we can only receive.
		maxRecv = c.localParams.InitialMaxStreamDataUni
	}
	st.flow.init(maxRecv, maxSend)
	st.connFlow = &c.flow // Not read by Stream; recvFrameStream credits c.flow as bytes arrive.
	return st, nil
}

// Timeout reports how long until the connection's next scheduled event
// (idle expiry, loss-detection, or draining expiry). A negative value
// means no timer is armed.
func (c *Conn) Timeout() time.Duration {
	if c.state == stateClosed {
		return -1
	}
	deadline := c.drainingTimer
	if deadline.IsZero() {
		deadline = c.recovery.lossDetectionTimer
		if deadline.IsZero() {
			deadline = c.idleTimer
			if deadline.IsZero() {
				return -1
			}
		}
	}
	if d := time.Until(deadline); d > 0 {
		return d
	}
	return 0
}

func (c *Conn) checkTimeout(now time.Time) {
	switch {
	case !c.drainingTimer.IsZero() && !now.Before(c.drainingTimer):
		debug("draining timeout expired")
		c.state = stateClosed
	case !c.idleTimer.IsZero() && !now.Before(c.idleTimer):
		debug("idle timeout expired")
		c.state = stateClosed
	default:
		c.recovery.onLossDetectionTimeout(now)
	}
}

// setDraining arms the draining timer once, per spec.md's draining-state
// invariant: it must not be pushed out again by later events.
func (c *Conn) setDraining(now time.Time) {
	if c.drainingTimer.IsZero() {
		c.drainingTimer = now.Add(c.recovery.probeTimeout() * 3)
	}
}

func (c *Conn) dropPacketSpace(space packetSpace) {
	c.packetNumberSpaces[space].drop()
	c.recovery.dropUnackedData(space)
	debug("dropped space=%v", space)
}

// rand prefers config.TLS.Rand, matching crypto/tls's own convention for
// test-deterministic randomness.
func (c *Conn) rand(b []byte) error {
	if r := c.handshake.tlsConfig; r != nil && r.Rand != nil {
		_, err := io.ReadFull(r.Rand, b)
		return err
	}
	_, err := rand.Read(b)
	return err
}

// time prefers config.TLS.Time for the same reason.
func (c *Conn) time() time.Time {
	if r := c.handshake.tlsConfig; r != nil && r.Time != nil {
		return r.Time()
	}
	return time.Now()
}

// OnLogEvent installs a callback that receives qlog-style LogEvents for
// every packet and frame the connection processes or sends.
func (c *Conn) OnLogEvent(fn func(LogEvent)) {
	c.logEventFn = fn
}

func (c *Conn) logPacketDropped(p *packet, now time.Time) {
	if c.logEventFn != nil {
		c.logEventFn(newLogEventPacket(now, logEventPacketDropped, p))
	}
}

func (c *Conn) logPacketReceived(p *packet, now time.Time) {
	if c.logEventFn != nil {
		c.logEventFn(newLogEventPacket(now, logEventPacketReceived, p))
	}
}

func (c *Conn) logPacketSent(p *packet, frames []frame, now time.Time) {
	if c.logEventFn == nil {
		return
	}
	c.logEventFn(newLogEventPacket(now, logEventPacketSent, p))
	for _, f := range frames {
		c.logEventFn(newLogEventFrame(now, logEventFramesProcessed, f))
	}
}

func (c *Conn) logFrameProcessed(f frame, now time.Time) {
	if c.logEventFn != nil {
		c.logEventFn(newLogEventFrame(now, logEventFramesProcessed, f))
	}
}
