package transport

import "time"

// outgoingPacket is a sent-but-not-yet-acked packet, retained by the
// packet buffer so its frames can be retransmitted if lost (spec.md §4.5).
type outgoingPacket struct {
	pn           uint64
	timeSent     time.Time
	size         uint64
	frames       []frame
	ackEliciting bool
}

func newOutgoingPacket(pn uint64, now time.Time) *outgoingPacket {
	return &outgoingPacket{pn: pn, timeSent: now}
}

func (op *outgoingPacket) addFrame(f frame) {
	op.frames = append(op.frames, f)
	switch f.(type) {
	case *ackFrame, *paddingFrame, *connectionCloseFrame:
		// Not ack-eliciting.
	default:
		op.ackEliciting = true
	}
}

func (op *outgoingPacket) String() string {
	return sprint("pn=", op.pn, " frames=", len(op.frames))
}

// lossRecovery is the packet buffer of spec.md §4.5: it retains sent
// packets until acknowledged and declares a packet lost once it falls far
// enough behind the largest acknowledged packet number. Congestion control
// proper is out of scope (spec.md §1 Non-goals); onLossDetectionTimeout is
// a placeholder PTO hook only.
type lossRecovery struct {
	sent  [packetSpaceCount]map[uint64]*outgoingPacket
	acked [packetSpaceCount][]frame
	lost  [packetSpaceCount][]frame

	largestAcked [packetSpaceCount]int64 // -1 until an ACK has been received.

	maxAckDelay         time.Duration
	probes              int
	lossDetectionTimer  time.Time
}

// packetReorderingThreshold is how many packets below the largest acked a
// sent-but-unacked packet number must fall before it is declared lost.
const packetReorderingThreshold = 3

func (r *lossRecovery) init(now time.Time) {
	for i := range r.sent {
		r.sent[i] = make(map[uint64]*outgoingPacket)
		r.largestAcked[i] = -1
	}
	r.maxAckDelay = 25 * time.Millisecond
}

func (r *lossRecovery) onPacketSent(op *outgoingPacket, space packetSpace) {
	r.sent[space][op.pn] = op
}

// onAckReceived processes a received ACK frame's ranges: acked packets'
// frames move to the acked queue (so the connection can react, e.g. mark a
// stream complete); packets far enough below the new largest acked are
// declared lost.
func (r *lossRecovery) onAckReceived(ranges []ackRange, ackDelay time.Duration, space packetSpace, now time.Time) {
	for _, rg := range ranges {
		for pn := rg.smallest; pn <= rg.largest; pn++ {
			op, ok := r.sent[space][pn]
			if !ok {
				continue
			}
			delete(r.sent[space], pn)
			r.acked[space] = append(r.acked[space], op.frames...)
			if int64(pn) > r.largestAcked[space] {
				r.largestAcked[space] = int64(pn)
			}
		}
	}
	largest := r.largestAcked[space]
	if largest < 0 {
		return
	}
	for pn, op := range r.sent[space] {
		if largest-int64(pn) >= packetReorderingThreshold {
			delete(r.sent[space], pn)
			r.lost[space] = append(r.lost[space], op.frames...)
		}
	}
}

// drainAcked invokes fn for every frame acked since the last call and
// clears the queue.
func (r *lossRecovery) drainAcked(space packetSpace, fn func(frame)) {
	for _, f := range r.acked[space] {
		fn(f)
	}
	r.acked[space] = r.acked[space][:0]
}

// drainLost invokes fn for every frame declared lost since the last call
// and clears the queue.
func (r *lossRecovery) drainLost(space packetSpace, fn func(frame)) {
	for _, f := range r.lost[space] {
		fn(f)
	}
	r.lost[space] = r.lost[space][:0]
}

// dropUnackedData discards all retained packets for space, used when a
// packet number space is retired (Retry, VersionNegotiation, or handshake
// confirmation dropping Initial/Handshake state).
func (r *lossRecovery) dropUnackedData(space packetSpace) {
	r.sent[space] = make(map[uint64]*outgoingPacket)
	r.acked[space] = nil
	r.lost[space] = nil
}

// probeTimeout returns a fixed PTO-ish interval; real RTT-based congestion
// control is explicitly out of scope (spec.md §1 Non-goals).
func (r *lossRecovery) probeTimeout() time.Duration {
	return r.maxAckDelay + 100*time.Millisecond
}

// onLossDetectionTimeout arms a probe once the PTO placeholder elapses.
func (r *lossRecovery) onLossDetectionTimeout(now time.Time) {
	if r.lossDetectionTimer.IsZero() || now.Before(r.lossDetectionTimer) {
		return
	}
	r.probes++
	r.lossDetectionTimer = now.Add(r.probeTimeout())
}
