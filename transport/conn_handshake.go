package transport

import (
	"bytes"
	"time"
)

// deriveInitialKeyMaterial installs the Initial packet-protection keys for
// cid, the destination connection ID the Initial exchange currently uses.
// It runs once on the client (the random DCID it picked) and again on
// either side whenever that DCID changes: the server on its first Initial,
// and the client again after a Retry swaps in the server's chosen CID.
func (c *Conn) deriveInitialKeyMaterial(cid []byte) {
	var aead initialAEAD
	aead.init(cid)
	space := &c.packetNumberSpaces[packetSpaceInitial]
	if c.isClient {
		space.opener, space.sealer = aead.server, aead.client
	} else {
		space.opener, space.sealer = aead.client, aead.server
	}
	c.derivedInitialSecrets = true
}

// resetInitialExchange rewinds connection state shared by Version
// Negotiation and Retry: both restart the Initial exchange from scratch,
// discarding whatever CRYPTO bytes were already queued for it.
func (c *Conn) resetInitialExchange() {
	c.gotPeerCID = false
	c.recovery.dropUnackedData(packetSpaceInitial)
	c.packetNumberSpaces[packetSpaceInitial].reset()
	c.handshake.reset()
	c.handshake.setTransportParams(&c.localParams)
}

// recvPacketVersionNegotiation lets a client restart with a version the
// server claims to support (spec.md §4.2, "Version Negotiation"). Servers
// never receive this packet type; the guard below enforces that along
// with the "exactly one, only early in the handshake" constraints draft-18
// places on it.
func (c *Conn) recvPacketVersionNegotiation(b []byte, p *packet, now time.Time) (int, error) {
	if !c.isClient || c.didVersionNegotiation || c.state != stateAttempted ||
		!bytes.Equal(p.header.dcid, c.scid) || !bytes.Equal(p.header.scid, c.dcid) {
		debug("dropped packet %v", p)
		c.logPacketDropped(p, now)
		return len(b), nil
	}
	n, err := p.decodeBody(b)
	if err != nil {
		return 0, err
	}
	debug("received packet %v", p)

	var negotiated uint32
	for _, v := range p.supportedVersions {
		if versionSupported(v) {
			negotiated = v
			break
		}
	}
	if negotiated == 0 {
		return 0, newError(InternalError, sprint("unsupported version ", p.supportedVersions))
	}
	c.version = negotiated
	c.didVersionNegotiation = true
	c.resetInitialExchange()
	c.logPacketReceived(p, now)
	return p.headerLen + n, nil
}

// recvPacketRetry validates and applies a server Retry (spec.md §4.3): the
// client must authenticate the integrity tag against the DCID it used in
// its first Initial before trusting any of the packet's contents.
func (c *Conn) recvPacketRetry(b []byte, p *packet, now time.Time) (int, error) {
	if !c.isClient || c.didRetry || c.state != stateAttempted ||
		!bytes.Equal(p.header.dcid, c.scid) || bytes.Equal(p.header.scid, c.dcid) {
		debug("dropped packet %v", p)
		c.logPacketDropped(p, now)
		return len(b), nil
	}
	if _, err := p.decodeBody(b); err != nil {
		return 0, err
	}
	if len(p.token) == 0 || !verifyRetryIntegrity(b, c.dcid) {
		return 0, errInvalidToken
	}
	debug("received packet %v", p)

	c.didRetry = true
	c.token = append(c.token[:0], p.token...)
	// dcid becomes the original destination CID; the server's chosen CID
	// (the Retry's scid) takes over as our destination going forward, and
	// is pinned in rscid so validatePeerTransportParams can check it was
	// actually echoed back in the server's transport parameters.
	c.odcid = append(c.odcid[:0], c.dcid...)
	c.dcid = append(c.dcid[:0], p.header.scid...)
	c.rscid = c.dcid
	c.deriveInitialKeyMaterial(c.dcid)
	c.resetInitialExchange()
	c.logPacketReceived(p, now)
	return len(b), nil // Whole datagram: header + token + trailing integrity tag.
}

// doHandshake advances the TLS state machine and, the moment it completes,
// validates the peer's transport parameters and moves the connection to
// stateActive. It is a no-op once that has already happened.
func (c *Conn) doHandshake() error {
	if c.state >= stateActive {
		return nil
	}
	if err := c.handshake.doHandshake(); err != nil {
		return err
	}
	if !c.handshake.HandshakeComplete() {
		return nil
	}

	params := c.handshake.peerTransportParams()
	debug("peer transport params: %+v", params)
	if err := c.validatePeerTransportParams(params); err != nil {
		return err
	}
	c.flow.setMaxSend(params.InitialMaxData)
	c.streams.setPeerMaxStreamsBidi(params.InitialMaxStreamsBidi)
	c.streams.setPeerMaxStreamsUni(params.InitialMaxStreamsUni)
	c.recovery.maxAckDelay = params.MaxAckDelay
	c.peerParams = *params
	c.state = stateActive
	return nil
}

// validatePeerTransportParams checks the connection-ID fields each side's
// transport parameters must agree with (spec.md §4.4, "Authenticating
// Connection IDs"):
//
//	client                                   server
//	Initial  dcid=S1 scid=C1 ------------->
//	                          <-------------  Retry  dcid=C1 scid=S2
//	Initial  dcid=S2 scid=C1 ------------->
//	                          <-------------  Initial dcid=C1 scid=S3
//	1-RTT    dcid=S3 ------------------------>
//	                          <------------------------  1-RTT dcid=C1
//
// so a client ends up with initial_source_connection_id=C1, and a server
// with original_destination_connection_id=S1, initial_source_connection_id=S3,
// and (only if a Retry happened) retry_source_connection_id=S2.
func (c *Conn) validatePeerTransportParams(p *Parameters) error {
	if p == nil {
		return newError(TransportParameterError, "")
	}
	if len(p.InitialSourceCID) == 0 || !bytes.Equal(p.InitialSourceCID, c.dcid) {
		return newError(TransportParameterError, "initial source cid")
	}
	if c.isClient {
		if !bytes.Equal(p.OriginalDestinationCID, c.odcid) {
			return newError(TransportParameterError, "original destination cid")
		}
	} else {
		if len(p.OriginalDestinationCID) > 0 {
			return newError(TransportParameterError, "original destination cid")
		}
		if len(p.StatelessResetToken) > 0 {
			return newError(TransportParameterError, "reset token")
		}
	}
	if len(c.rscid) > 0 && !bytes.Equal(p.RetrySourceCID, c.rscid) {
		return newError(TransportParameterError, "retry source cid")
	}
	return nil
}
