package transport

import "time"

// Read fills b with the next packet the connection has ready to send, or
// returns (0, nil) if nothing is pending. It runs the handshake forward
// first since completing it can itself produce frames (the server's
// HANDSHAKE_DONE, for instance).
func (c *Conn) Read(b []byte) (int, error) {
	now := c.time()
	if !c.drainingTimer.IsZero() {
		return 0, nil
	}
	if err := c.doHandshake(); err != nil {
		return 0, err
	}
	space := c.writeSpace()
	if space == packetSpaceCount {
		return 0, nil
	}
	n, err := c.send(b, space, now)
	if err != nil {
		return 0, err
	}
	// Coalesce a second packet from the next ready space into the same
	// datagram when there's room for more than padding alone (spec.md
	// §4.1, packet coalescing).
	if space < packetSpaceApplication {
		avail := min(c.maxPacketSize(), len(b))
		if avail-n >= 96 {
			if next := c.writeSpace(); next < packetSpaceCount && next > space {
				m, err := c.send(b[n:avail], next, now)
				if err != nil {
					return 0, err
				}
				return n + m, nil
			}
		}
	}
	return n, nil
}

// writeSpace picks which packet-number space the next packet should come
// from: a pending error or a loss probe always wins (they must go out in
// whatever space the handshake is currently using), otherwise the first
// space with something ready — new data, a due ACK, or a retransmit —
// takes priority in send order.
func (c *Conn) writeSpace() packetSpace {
	if c.closeFrame != nil || c.recovery.probes > 0 {
		return c.handshake.writeSpace()
	}
	for space := packetSpaceInitial; space < packetSpaceCount; space++ {
		if space == packetSpaceApplication && c.state < stateActive {
			continue
		}
		if c.packetNumberSpaces[space].ready() || len(c.recovery.lost[space]) > 0 {
			return space
		}
	}
	if c.state >= stateActive && c.streams.hasFlushable() {
		return packetSpaceApplication
	}
	return packetSpaceCount
}

func (c *Conn) maxPacketSize() int {
	if c.state >= stateActive && c.peerParams.MaxUDPPayloadSize > 0 {
		if n := int(c.peerParams.MaxUDPPayloadSize); n >= MinInitialPacketSize && n <= MaxPacketSize {
			return n
		}
	}
	return MinInitialPacketSize
}

// send builds, pads, encodes and encrypts a single packet for space into
// b, returning the number of bytes written.
func (c *Conn) send(b []byte, space packetSpace, now time.Time) (int, error) {
	pnSpace := &c.packetNumberSpaces[space]
	if !pnSpace.canEncrypt() {
		return 0, newError(InternalError, sprint("cannot encrypt space ", space.String()))
	}

	avail := min(c.maxPacketSize(), len(b))
	p := packet{
		typ:          packetTypeFromSpace(space),
		header:       packetHeader{version: c.version, dcid: c.dcid, scid: c.scid},
		token:        c.token,
		packetNumber: pnSpace.nextPacketNumber,
		payloadLen:   avail,
	}
	overhead := pnSpace.sealer.aead.Overhead()
	headerAndTagLen := p.encodedLen() + overhead - p.payloadLen
	left := avail - headerAndTagLen
	if left <= minPayloadLength {
		return 0, errShortBuffer
	}

	c.processLostPackets(space)
	op := newOutgoingPacket(p.packetNumber, now)
	p.payloadLen = c.sendFrames(op, space, left, now)
	if len(op.frames) == 0 {
		return 0, nil
	}
	left -= p.payloadLen

	// A client's first Initial must reach the wire's 1200-byte minimum
	// (spec.md §4.2) even when its real frames don't fill it.
	if c.isClient && p.typ == packetTypeInitial {
		if pad := MinInitialPacketSize - headerAndTagLen - p.payloadLen; pad > 0 {
			if pad > left {
				return 0, errShortBuffer
			}
			op.addFrame(newPaddingFrame(pad))
			p.payloadLen += pad
			left -= pad
		}
	}
	if p.payloadLen < minPayloadLength {
		pad := minPayloadLength - p.payloadLen
		if pad > left {
			return 0, errShortBuffer
		}
		op.addFrame(newPaddingFrame(pad))
		p.payloadLen += pad
		left -= pad
	}

	p.payloadLen += overhead // So the encoded header carries the post-encryption length.
	payloadOffset, err := p.encode(b)
	if err != nil {
		return 0, err
	}
	p.headerLen = payloadOffset // encryptPacket seals everything after the header.
	frameBytes, err := encodeFrames(b[payloadOffset:], op.frames)
	if err != nil {
		return 0, err
	}
	n := payloadOffset + frameBytes + overhead
	if n != payloadOffset+p.payloadLen || n > len(b) {
		return 0, newError(InternalError, sprint("encoded payload length ", n, " exceeded buffer capacity ", len(b)))
	}
	pnSpace.encryptPacket(b[:n], &p)
	op.size = uint64(n)

	debug("sending packet %s %s", &p, op)
	c.onPacketSent(op, space)
	c.logPacketSent(&p, op.frames, now)

	// A client that's sent a Handshake packet has moved past needing
	// Initial state: the server's address is implicitly confirmed by the
	// fact that its Handshake keys were available to derive at all.
	if c.isClient && p.typ == packetTypeHandshake && c.state == stateAttempted {
		c.state = stateHandshake
		c.dropPacketSpace(packetSpaceInitial)
	}
	return n, nil
}

func (c *Conn) processLostPackets(space packetSpace) {
	pnSpace := &c.packetNumberSpaces[space]
	c.recovery.drainLost(space, func(f frame) {
		debug("lost frame %v", f)
		switch f := f.(type) {
		case *ackFrame:
			pnSpace.ackElicited = true
		case *cryptoFrame:
			if err := pnSpace.cryptoStream.send.push(f.data, f.offset, false); err != nil {
				debug("process lost crypto frame %s: %v", f, err)
			}
		case *streamFrame:
			if st := c.streams.get(f.streamID); st != nil {
				if err := st.send.push(f.data, f.offset, f.fin); err != nil {
					debug("process lost stream frame %s: %v", f, err)
				}
			}
		case *handshakeDoneFrame:
			c.handshakeConfirmed = false
		}
	})
}

// tryAddFrame appends f to op if it fits in the bytes left, reporting
// whether it did. Frames sized up-front against left (CRYPTO, STREAM)
// don't need it; it exists for the fixed-cost frames below whose
// presence is conditional rather than size-bounded.
func tryAddFrame(op *outgoingPacket, f frame, payloadLen, left *int) bool {
	if f == nil {
		return false
	}
	n := f.encodedLen()
	if *left < n {
		return false
	}
	op.addFrame(f)
	*payloadLen += n
	*left -= n
	return true
}

// sendFrames fills a packet for space with every frame class it's
// currently owed, in the priority order draft-18 suggests: the close
// notice first (so it goes out even under byte pressure), then the
// bookkeeping frames, then application data, then a PING whenever a loss
// probe is still owed (alongside whatever else the packet already holds).
func (c *Conn) sendFrames(op *outgoingPacket, space packetSpace, left int, now time.Time) int {
	pnSpace := &c.packetNumberSpaces[space]
	payloadLen := 0

	if c.closeFrame != nil {
		if tryAddFrame(op, c.closeFrame, &payloadLen, &left) {
			c.setDraining(now)
		}
	}

	if c.state < stateDraining {
		if tryAddFrame(op, c.sendFrameAck(pnSpace, now), &payloadLen, &left) {
			pnSpace.ackElicited = false
		}
		if f := c.sendFrameCrypto(pnSpace, left); f != nil {
			op.addFrame(f)
			n := f.encodedLen()
			payloadLen += n
			left -= n
		}

		if space == packetSpaceApplication {
			if tryAddFrame(op, c.sendFrameHandshakeDone(), &payloadLen, &left) {
				c.handshakeConfirmed = true
			}
			if tryAddFrame(op, c.sendFrameMaxData(), &payloadLen, &left) {
				c.updateMaxData = true
				c.flow.commitMaxRecv()
			}
			for id, st := range c.streams.streams {
				if tryAddFrame(op, c.sendFrameMaxStreamData(id, st), &payloadLen, &left) {
					st.flow.commitMaxRecv()
				}
			}
			// TODO: stream priority instead of map iteration order.
			for id, st := range c.streams.streams {
				if f := c.sendFrameStream(id, st, left); f != nil {
					op.addFrame(f)
					n := f.encodedLen()
					payloadLen += n
					left -= n
					c.flow.addSend(len(f.data))
				}
			}
		}

		if c.recovery.probes > 0 && left >= 1 {
			f := &pingFrame{}
			n := f.encodedLen()
			op.addFrame(f)
			payloadLen += n
			left -= n
			c.recovery.probes--
		}
	}
	return payloadLen
}

func (c *Conn) onPacketSent(op *outgoingPacket, space packetSpace) {
	c.recovery.onPacketSent(op, space)
	c.packetNumberSpaces[space].nextPacketNumber++
	if op.ackEliciting {
		if !c.ackElicitingSent && c.localParams.MaxIdleTimeout > 0 {
			c.idleTimer = op.timeSent.Add(c.localParams.MaxIdleTimeout)
		}
		c.ackElicitingSent = true
	}
}

func (c *Conn) sendFrameAck(pnSpace *packetNumberSpace, now time.Time) *ackFrame {
	if !pnSpace.ackElicited {
		return nil
	}
	ackDelay := uint64(now.Sub(pnSpace.largestRecvPacketTime).Microseconds())
	ackDelay /= 1 << c.peerParams.AckDelayExponent
	return newAckFrame(ackDelay, pnSpace.recvPacketNeedAck)
}

func (c *Conn) sendFrameCrypto(pnSpace *packetNumberSpace, left int) *cryptoFrame {
	left -= maxCryptoFrameOverhead
	if left <= 0 {
		return nil
	}
	data, offset, _ := pnSpace.cryptoStream.popSend(left)
	if len(data) == 0 {
		return nil
	}
	return newCryptoFrame(data, offset)
}

func (c *Conn) sendFrameStream(id uint64, st *Stream, left int) *streamFrame {
	left -= maxStreamFrameOverhead
	if allowed := int(c.flow.canSend()); left > allowed {
		left = allowed
	}
	if left <= 0 {
		return nil
	}
	data, offset, fin := st.popSend(left)
	if len(data) == 0 {
		return nil
	}
	debug("stream: %v", st)
	return newStreamFrame(id, data, offset, fin)
}

func (c *Conn) sendFrameMaxData() *maxDataFrame {
	if c.updateMaxData || c.flow.shouldUpdateMaxRecv() {
		return newMaxDataFrame(c.flow.maxRecvNext)
	}
	return nil
}

func (c *Conn) sendFrameMaxStreamData(id uint64, st *Stream) *maxStreamDataFrame {
	if st.updateMaxData {
		return newMaxStreamDataFrame(id, st.flow.maxRecvNext)
	}
	return nil
}

// sendFrameHandshakeDone is non-nil only on the server, once the handshake
// has finished and until a HANDSHAKE_DONE has been queued; a lost one is
// queued again, since processLostPackets clears handshakeConfirmed.
func (c *Conn) sendFrameHandshakeDone() *handshakeDoneFrame {
	if c.isClient || c.state != stateActive || c.handshakeConfirmed {
		return nil
	}
	return &handshakeDoneFrame{}
}
