package transport

import "fmt"

// Stream multiplexes application bytes over one connection (spec.md §4.6).
// A StreamId's two low bits encode {initiator, type}.
type Stream struct {
	id   uint64
	recv recvReassembler
	send sendReassembler

	flow     flowControl
	connFlow *flowControl

	updateMaxData bool
	aborted       bool
}

// pushRecv inserts inbound bytes at offset, delivering any newly-contiguous
// run to the stream's read buffer.
func (s *Stream) pushRecv(data []byte, offset uint64, fin bool) error {
	return s.recv.push(data, offset, fin)
}

// Read drains bytes already delivered in order. It never blocks: if
// nothing is ready it returns (0, nil), matching the cooperative,
// single-threaded-per-connection model (spec.md §5).
func (s *Stream) Read(b []byte) (int, error) {
	out := s.recv.drain()
	n := copy(b, out)
	if n < len(out) {
		// Rare: caller's buffer was smaller than what was ready. Put the
		// remainder back at the front of the next drain.
		s.recv.delivered.Write(out[n:])
	}
	return n, nil
}

// Write queues b on the stream's send side; actual STREAM frames are
// produced later by the pipeline (spec.md §4.6, "Local send").
func (s *Stream) Write(b []byte) (int, error) {
	s.send.write(b)
	return len(b), nil
}

// Close seals the send side with FIN.
func (s *Stream) Close() error {
	s.send.closeFin()
	return nil
}

func (s *Stream) popSend(max int) ([]byte, uint64, bool) {
	return s.send.popSend(max)
}

func (s *Stream) ackMaxData() {
	s.updateMaxData = false
}

func (s *Stream) String() string {
	return fmt.Sprintf("stream=%d recv_offset=%d send_offset=%d", s.id, s.recv.nextOffset, s.send.sent)
}

// isStreamLocal reports whether id was (or would be) opened by this
// endpoint, based on the initiator bit.
func isStreamLocal(id uint64, isClient bool) bool {
	clientInitiated := id&0x1 == 0
	return clientInitiated == isClient
}

// isStreamBidi reports whether id names a bidirectional stream.
func isStreamBidi(id uint64) bool {
	return id&0x2 == 0
}

// streamMap owns every Stream for one connection plus the peer-advertised
// stream-count limits.
type streamMap struct {
	streams map[uint64]*Stream

	localMaxStreamsBidi uint64
	localMaxStreamsUni  uint64

	peerMaxStreamsBidi uint64
	peerMaxStreamsUni  uint64

	openBidi uint64
	openUni  uint64
}

func (m *streamMap) init(maxBidi, maxUni uint64) {
	m.streams = make(map[uint64]*Stream)
	m.localMaxStreamsBidi = maxBidi
	m.localMaxStreamsUni = maxUni
}

func (m *streamMap) get(id uint64) *Stream {
	return m.streams[id]
}

// create allocates a new Stream for id, enforcing the relevant stream-count
// limit (spec.md §6, initialMaxStreamsBidi/Uni).
func (m *streamMap) create(id uint64, local, bidi bool) (*Stream, error) {
	if bidi {
		if !local && m.openBidi >= m.localMaxStreamsBidi {
			return nil, newError(StreamLimitError, "too many bidi streams")
		}
		m.openBidi++
	} else {
		if !local && m.openUni >= m.localMaxStreamsUni {
			return nil, newError(StreamLimitError, "too many uni streams")
		}
		m.openUni++
	}
	st := &Stream{id: id}
	m.streams[id] = st
	return st, nil
}

func (m *streamMap) setPeerMaxStreamsBidi(max uint64) { m.peerMaxStreamsBidi = max }
func (m *streamMap) setPeerMaxStreamsUni(max uint64)  { m.peerMaxStreamsUni = max }

// hasFlushable reports whether any stream has unsent bytes or its
// updateMaxData flag set, so the connection knows to use the Application
// packet space. A FIN with no unsent bytes left does not count.
func (m *streamMap) hasFlushable() bool {
	for _, st := range m.streams {
		if st.aborted {
			continue
		}
		if st.send.sent < uint64(len(st.send.data)) {
			return true
		}
		if st.updateMaxData {
			return true
		}
	}
	return false
}
