package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLossRecoveryAckMovesFramesAndDropsOlderSent(t *testing.T) {
	var r lossRecovery
	now := time.Now()
	r.init(now)

	for pn := uint64(1); pn <= 5; pn++ {
		op := newOutgoingPacket(pn, now)
		op.addFrame(&pingFrame{})
		r.onPacketSent(op, packetSpaceApplication)
	}

	var acked []frame
	r.onAckReceived([]ackRange{{smallest: 5, largest: 5}}, 0, packetSpaceApplication, now)
	r.drainAcked(packetSpaceApplication, func(f frame) { acked = append(acked, f) })
	require.Len(t, acked, 1)

	// pn=1 and pn=2 are 4 and 3 behind the new largest acked (5), at or past
	// the reordering threshold of 3, so both are declared lost; pn=3 and
	// pn=4 are still within it.
	var lost []frame
	r.drainLost(packetSpaceApplication, func(f frame) { lost = append(lost, f) })
	assert.Len(t, lost, 2)

	assert.Equal(t, int64(5), r.largestAcked[packetSpaceApplication])
}

func TestLossRecoveryDropUnackedDataClearsSpace(t *testing.T) {
	var r lossRecovery
	now := time.Now()
	r.init(now)

	op := newOutgoingPacket(1, now)
	op.addFrame(&pingFrame{})
	r.onPacketSent(op, packetSpaceInitial)

	r.dropUnackedData(packetSpaceInitial)
	assert.Empty(t, r.sent[packetSpaceInitial])
}

func TestOutgoingPacketAckElicitingClassification(t *testing.T) {
	op := newOutgoingPacket(1, time.Now())
	op.addFrame(newPaddingFrame(1))
	assert.False(t, op.ackEliciting)

	op.addFrame(&pingFrame{})
	assert.True(t, op.ackEliciting)
}
