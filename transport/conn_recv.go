package transport

import (
	"bytes"
	"time"
)

// recv decodes one packet's header from the front of b, routes it to the
// handler for its type, and returns how many bytes of b that packet (and
// only that packet — a datagram can coalesce several) consumed.
func (c *Conn) recv(b []byte, now time.Time) (int, error) {
	p := packet{header: packetHeader{dcil: uint8(len(c.scid))}}
	if _, err := p.decodeHeader(b); err != nil {
		return 0, err
	}
	switch p.typ {
	case packetTypeVersionNegotiation:
		return c.recvPacketVersionNegotiation(b, &p, now)
	case packetTypeRetry:
		return c.recvPacketRetry(b, &p, now)
	case packetTypeInitial:
		return c.recvPacketInitial(b, &p, now)
	case packetTypeZeroRTT:
		return 0, newError(InternalError, "zerortt packet not supported")
	case packetTypeHandshake:
		return c.recvPacketHandshake(b, &p, now)
	case packetTypeShort:
		return c.recvPacketShort(b, &p, now)
	default:
		panic(sprint("unsupported packet type ", p.typ))
	}
}

// recvPacketInitial handles the one packet type whose connection IDs are
// still in flux: a server sees its first Initial here and latches onto
// the client's chosen CIDs, and a client's first reply from the server
// likewise fixes its destination CID.
func (c *Conn) recvPacketInitial(b []byte, p *packet, now time.Time) (int, error) {
	if c.gotPeerCID && (!bytes.Equal(p.header.dcid, c.scid) || !bytes.Equal(p.header.scid, c.dcid)) {
		debug("dropped packet %v", p)
		c.logPacketDropped(p, now)
		return len(b), nil
	}
	if !c.derivedInitialSecrets {
		c.deriveInitialKeyMaterial(p.header.dcid) // Server side: derive from the client's chosen DCID.
	}
	if !c.gotPeerCID {
		if c.isClient {
			if len(c.odcid) == 0 {
				c.odcid = append(c.odcid[:0], c.dcid...)
			}
		} else if !c.didRetry {
			c.odcid = append(c.odcid[:0], p.header.dcid...)
			c.localParams.OriginalDestinationCID = c.odcid
			c.handshake.setTransportParams(&c.localParams)
		}
		c.dcid = append(c.dcid[:0], p.header.scid...)
		c.gotPeerCID = true
	}
	return c.recvPacket(b, p, packetSpaceInitial, now)
}

func (c *Conn) recvPacketHandshake(b []byte, p *packet, now time.Time) (int, error) {
	if !bytes.Equal(p.header.dcid, c.scid) || !bytes.Equal(p.header.scid, c.dcid) {
		debug("dropped packet %v", p)
		c.logPacketDropped(p, now)
		return len(b), nil
	}
	return c.recvPacket(b, p, packetSpaceHandshake, now)
}

func (c *Conn) recvPacketShort(b []byte, p *packet, now time.Time) (int, error) {
	if !bytes.Equal(p.header.dcid, c.scid) {
		debug("dropped packet %v", p)
		c.logPacketDropped(p, now)
		return len(b), nil
	}
	return c.recvPacket(b, p, packetSpaceApplication, now)
}

// recvPacket decrypts a packet in the given space, hands its payload to
// the frame dispatcher, and runs the bookkeeping every space shares:
// duplicate detection, ACK scheduling, and the idle timer.
func (c *Conn) recvPacket(b []byte, p *packet, space packetSpace, now time.Time) (int, error) {
	pnSpace := &c.packetNumberSpaces[space]
	if !pnSpace.canDecrypt() {
		debug("dropped undecryptable packet %v space=%v", p, space)
		c.logPacketDropped(p, now)
		return len(b), nil
	}
	payload, length, err := pnSpace.decryptPacket(b, p)
	if err != nil {
		return 0, err
	}
	debug("decrypted packet %v payload=%d", p, len(payload))

	if pnSpace.isPacketReceived(p.packetNumber) {
		c.logPacketDropped(p, now)
		return length, nil
	}
	c.logPacketReceived(p, now)
	if err := c.recvFrames(payload, space, now); err != nil {
		return 0, err
	}
	c.processAckedPackets(space)
	pnSpace.onPacketReceived(p.packetNumber, now)

	if c.localParams.MaxIdleTimeout > 0 {
		c.idleTimer = now.Add(c.localParams.MaxIdleTimeout)
	}
	// A server that successfully processes a Handshake packet has
	// implicitly verified the client's address; the Initial space is no
	// longer needed past that point.
	if !c.isClient && space == packetSpaceHandshake && c.state == stateAttempted {
		c.state = stateHandshake
		c.dropPacketSpace(packetSpaceInitial)
	}
	c.ackElicitingSent = false
	return length, nil
}

// recvFrames walks every frame in a decrypted packet payload, dispatching
// each to its handler, and schedules an ACK if any of them required one
// (spec.md §4.5: ACK/PADDING/CONNECTION_CLOSE-only packets don't).
func (c *Conn) recvFrames(b []byte, space packetSpace, now time.Time) error {
	sawAckEliciting := false
	for len(b) > 0 {
		var typ uint64
		n := getVarint(b, &typ)
		if n == 0 {
			return newError(FrameEncodingError, "")
		}
		consumed, err := c.recvFrame(typ, b, space, now)
		if err != nil {
			debug("error processing frame 0x%x: %v", typ, err)
			return err
		}
		if !sawAckEliciting {
			sawAckEliciting = isFrameAckEliciting(typ)
		}
		b = b[consumed:]
	}
	if sawAckEliciting {
		c.packetNumberSpaces[space].ackElicited = true
	}
	return nil
}

// recvFrame dispatches a single frame by its type code. STREAM frames use
// the low three bits of their type as flags, so they occupy a range
// rather than one fixed value.
func (c *Conn) recvFrame(typ uint64, b []byte, space packetSpace, now time.Time) (int, error) {
	switch {
	case typ == frameTypePadding:
		return c.recvFramePadding(b, now)
	case typ == frameTypePing:
		c.recvFramePing(now)
		return 1, nil
	case typ == frameTypeAck, typ == frameTypeAckECN:
		return c.recvFrameAck(b, space, now)
	case typ == frameTypeResetStream:
		return c.recvFrameResetStream(b, now)
	case typ == frameTypeStopSending:
		return c.recvFrameStopSending(b, now)
	case typ == frameTypeCrypto:
		return c.recvFrameCrypto(b, space, now)
	case typ == frameTypeNewToken:
		return c.recvFrameNewToken(b, now)
	case typ >= frameTypeStream && typ <= frameTypeStreamEnd:
		return c.recvFrameStream(b, now)
	case typ == frameTypeMaxData:
		return c.recvFrameMaxData(b, now)
	case typ == frameTypeMaxStreamData:
		return c.recvFrameMaxStreamData(b, now)
	case typ == frameTypeMaxStreamsBidi, typ == frameTypeMaxStreamsUni:
		return c.recvFrameMaxStreams(b, now)
	case typ == frameTypeDataBlocked:
		return c.recvFrameDataBlocked(b, now)
	case typ == frameTypeStreamDataBlocked:
		return c.recvFrameStreamDataBlocked(b, now)
	case typ == frameTypeStreamsBlockedBidi, typ == frameTypeStreamsBlockedUni:
		return c.recvFrameStreamsBlocked(b, now)
	case typ == frameTypeConnectionClose, typ == frameTypeApplicationClose:
		return c.recvFrameConnectionClose(b, space, now)
	case typ == frameTypeHanshakeDone:
		return c.recvFrameHandshakeDone(b, now)
	default:
		return 0, newError(FrameEncodingError, sprint("unsupported frame ", typ))
	}
}

func (c *Conn) recvFramePadding(b []byte, now time.Time) (int, error) {
	var f paddingFrame
	n, err := f.decode(b)
	c.logFrameProcessed(&f, now)
	return n, err
}

func (c *Conn) recvFramePing(now time.Time) {
	var f pingFrame
	c.logFrameProcessed(&f, now) // PING only asks to be acked; there's nothing else to do.
}

func (c *Conn) recvFrameAck(b []byte, space packetSpace, now time.Time) (int, error) {
	var f ackFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	debug("received frame 0x%x: %v", b[0], &f)
	ranges := f.toRangeSet()
	if ranges == nil {
		return 0, newError(FrameEncodingError, sprint("invalid ack ranges ", f.String()))
	}
	ackDelay := time.Duration((1<<c.peerParams.AckDelayExponent)*f.ackDelay) * time.Microsecond
	c.recovery.onAckReceived(ranges, ackDelay, space, now)

	pnSpace := &c.packetNumberSpaces[space]
	if !pnSpace.firstPacketAcked {
		pnSpace.firstPacketAcked = true
		// Per RFC 9001's handshake-confirmed rule: an ACK for a 1-RTT
		// packet, once the handshake is active, confirms it.
		if space == packetSpaceApplication && c.state == stateActive {
			c.dropPacketSpace(packetSpaceHandshake)
			if c.isClient {
				c.handshakeConfirmed = true
			}
		}
	}
	c.logFrameProcessed(&f, now)
	return n, nil
}

// recvFrameResetStream handles a peer abruptly ending its send side.
func (c *Conn) recvFrameResetStream(b []byte, now time.Time) (int, error) {
	var f resetStreamFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	debug("received frame 0x%x: %v", b[0], &f)
	if isStreamLocal(f.streamID, c.isClient) && !isStreamBidi(f.streamID) {
		debug("peer attempted to reset our send-only stream: id=%d", f.streamID)
		return 0, newError(StreamStateError, sprint("reset stream ", f.streamID))
	}
	st, err := c.getOrCreateStream(f.streamID, false)
	if err != nil {
		return 0, err
	}
	mayRecv, err := st.recv.reset(f.finalSize)
	if err != nil {
		return 0, err
	}
	if c.flow.canRecv() < uint64(mayRecv) {
		return 0, errFlowControl
	}
	c.flow.addRecv(mayRecv)
	c.addEvent(newStreamResetEvent(f.streamID, f.errorCode))
	c.logFrameProcessed(&f, now)
	return n, nil
}

// recvFrameStopSending handles a peer asking us to abandon our send side.
func (c *Conn) recvFrameStopSending(b []byte, now time.Time) (int, error) {
	var f stopSendingFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	debug("received frame 0x%x: %v", b[0], &f)
	local := isStreamLocal(f.streamID, c.isClient)
	if local && c.streams.get(f.streamID) == nil {
		return 0, newError(StreamStateError, sprint("stop sending stream ", f.streamID))
	}
	if !isStreamBidi(f.streamID) {
		debug("peer attempted to stop sending on their receive-only stream: id=%d", f.streamID)
		return 0, newError(StreamStateError, sprint("stop sending stream ", f.streamID))
	}
	c.addEvent(newStreamStopEvent(f.streamID, f.errorCode))
	c.logFrameProcessed(&f, now)
	return n, nil
}

func (c *Conn) recvFrameCrypto(b []byte, space packetSpace, now time.Time) (int, error) {
	var f cryptoFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	debug("received frame 0x%x: %v", b[0], &f)
	if err := c.packetNumberSpaces[space].cryptoStream.pushRecv(f.data, f.offset, false); err != nil {
		return 0, err
	}
	if err := c.doHandshake(); err != nil {
		return 0, err
	}
	c.logFrameProcessed(&f, now)
	return n, nil
}

func (c *Conn) recvFrameNewToken(b []byte, now time.Time) (int, error) {
	var f newTokenFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	debug("received frame 0x%x: %v", b[0], &f)
	c.logFrameProcessed(&f, now)
	return n, nil
}

func (c *Conn) recvFrameStream(b []byte, now time.Time) (int, error) {
	var f streamFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	debug("received frame 0x%x: %v", b[0], &f)
	if isStreamLocal(f.streamID, c.isClient) && !isStreamBidi(f.streamID) {
		debug("peer attempted to send on our unidirectional stream: id=%d", f.streamID)
		return 0, newError(StreamStateError, "writing not permitted")
	}
	if c.flow.canRecv() < uint64(len(f.data)) {
		return 0, errFlowControl
	}
	st, err := c.getOrCreateStream(f.streamID, false)
	if err != nil {
		return 0, err
	}
	if err := st.pushRecv(f.data, f.offset, f.fin); err != nil {
		return 0, err
	}
	debug("stream %d received %v", f.streamID, &st.recv)
	c.flow.addRecv(len(f.data)) // Connection-wide credit tracks bytes on every stream.
	c.addEvent(newStreamRecvEvent(f.streamID))
	c.logFrameProcessed(&f, now)
	return n, nil
}

func (c *Conn) recvFrameMaxData(b []byte, now time.Time) (int, error) {
	var f maxDataFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	debug("received frame 0x%x: %v", b[0], &f)
	c.flow.setMaxSend(f.maximumData)
	c.logFrameProcessed(&f, now)
	return n, nil
}

func (c *Conn) recvFrameMaxStreamData(b []byte, now time.Time) (int, error) {
	var f maxStreamDataFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	debug("received frame 0x%x: %v", b[0], &f)
	st, err := c.getOrCreateStream(f.streamID, false)
	if err != nil {
		return 0, err
	}
	st.flow.setMaxSend(f.maximumData)
	c.logFrameProcessed(&f, now)
	return n, nil
}

func (c *Conn) recvFrameMaxStreams(b []byte, now time.Time) (int, error) {
	var f maxStreamsFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	if f.bidi {
		c.streams.setPeerMaxStreamsBidi(f.maximumStreams)
	} else {
		c.streams.setPeerMaxStreamsUni(f.maximumStreams)
	}
	c.logFrameProcessed(&f, now)
	return n, nil
}

// recvFrameDataBlocked only parses and logs DATA_BLOCKED: it does not
// trigger a MAX_DATA update, which flowControl schedules on its own once
// half of the receive window has been consumed.
func (c *Conn) recvFrameDataBlocked(b []byte, now time.Time) (int, error) {
	var f dataBlockedFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	c.logFrameProcessed(&f, now)
	return n, nil
}

func (c *Conn) recvFrameStreamDataBlocked(b []byte, now time.Time) (int, error) {
	var f streamDataBlockedFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	c.logFrameProcessed(&f, now)
	return n, nil
}

func (c *Conn) recvFrameStreamsBlocked(b []byte, now time.Time) (int, error) {
	var f streamsBlockedFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	c.logFrameProcessed(&f, now)
	return n, nil
}

func (c *Conn) recvFrameConnectionClose(b []byte, space packetSpace, now time.Time) (int, error) {
	var f connectionCloseFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	debug("receiving frame 0x%x: %s (%s)", b[0], &f, errorCodeString(f.errorCode))
	c.state = stateDraining
	c.setDraining(now)
	c.logFrameProcessed(&f, now)
	return n, nil
}

func (c *Conn) recvFrameHandshakeDone(b []byte, now time.Time) (int, error) {
	var f handshakeDoneFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	if !c.isClient {
		return 0, newError(ProtocolViolation, "unexpected handshake done frame")
	}
	debug("received frame 0x%x: %v", b[0], &f)
	if c.state == stateActive && !c.handshakeConfirmed {
		c.dropPacketSpace(packetSpaceHandshake)
		c.handshakeConfirmed = true
	}
	c.logFrameProcessed(&f, now)
	return n, nil
}

// processAckedPackets runs once per received packet, after its frames have
// been handled, moving every frame the
// loss recovery engine now considers acknowledged into its final resting
// state (stream bytes marked acked, a MAX_DATA update no longer owed, …).
func (c *Conn) processAckedPackets(space packetSpace) {
	pnSpace := &c.packetNumberSpaces[space]
	c.recovery.drainAcked(space, func(f frame) {
		switch f := f.(type) {
		case *ackFrame:
			pnSpace.recvPacketNeedAck.removeUntil(f.largestAck)
		case *cryptoFrame:
			pnSpace.cryptoStream.send.ack(f.offset, uint64(len(f.data)))
		case *streamFrame:
			if st := c.streams.get(f.streamID); st != nil {
				st.send.ack(f.offset, uint64(len(f.data)))
				if st.send.complete() {
					c.addEvent(newStreamCompleteEvent(f.streamID))
				}
			}
		case *maxDataFrame:
			c.updateMaxData = false
		case *maxStreamDataFrame:
			if st := c.streams.get(f.streamID); st != nil {
				st.ackMaxData()
			}
		}
	})
}
