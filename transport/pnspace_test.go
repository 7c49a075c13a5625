package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPacketNumberSpaceReadyReflectsPendingWork(t *testing.T) {
	var s packetNumberSpace
	s.init()
	assert.False(t, s.ready())

	s.onPacketReceived(1, time.Now())
	// A received packet alone doesn't elicit an ACK until the caller marks it.
	assert.False(t, s.ready())
	s.ackElicited = true
	assert.True(t, s.ready())

	s.ackElicited = false
	s.cryptoStream.send.write([]byte("clienthello"))
	assert.True(t, s.ready())
}

func TestPacketNumberSpaceDropStopsCrypto(t *testing.T) {
	var s packetNumberSpace
	s.init()
	s.sealer = &packetProtection{}
	s.opener = &packetProtection{}
	assert.True(t, s.canEncrypt())
	assert.True(t, s.canDecrypt())

	s.drop()
	assert.False(t, s.canEncrypt())
	assert.False(t, s.canDecrypt())
	assert.False(t, s.ready())
}

func TestPacketNumberSpaceDuplicateDetection(t *testing.T) {
	var s packetNumberSpace
	s.init()
	assert.False(t, s.isPacketReceived(7))
	s.onPacketReceived(7, time.Now())
	assert.True(t, s.isPacketReceived(7))
}

func TestPacketNumberSpaceResetClearsAckState(t *testing.T) {
	var s packetNumberSpace
	s.init()
	s.onPacketReceived(3, time.Now())
	s.ackElicited = true

	s.reset()
	assert.Equal(t, uint64(initialPacketNumber), s.nextPacketNumber)
	assert.False(t, s.isPacketReceived(3))
	assert.False(t, s.ackElicited)
}
