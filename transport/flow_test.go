package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlowControlRecvWindowShrinksAsBytesArrive(t *testing.T) {
	var f flowControl
	f.init(100, 200)

	assert.Equal(t, uint64(100), f.canRecv())
	f.addRecv(40)
	assert.Equal(t, uint64(60), f.canRecv())
}

func TestFlowControlRaisesLimitPastHalfway(t *testing.T) {
	var f flowControl
	f.init(100, 200)

	f.addRecv(40)
	assert.Equal(t, uint64(100), f.maxRecvNext, "under halfway, no update scheduled yet")

	f.addRecv(20) // recvOffset=60, past half of 100
	assert.Equal(t, uint64(160), f.maxRecvNext)

	f.commitMaxRecv()
	assert.Equal(t, uint64(160), f.maxRecv)
	assert.Equal(t, uint64(100), f.canRecv())
}

func TestFlowControlSendWindowAndLimitRaise(t *testing.T) {
	var f flowControl
	f.init(100, 50)

	assert.Equal(t, uint64(50), f.canSend())
	f.addSend(50)
	assert.Equal(t, uint64(0), f.canSend())

	f.setMaxSend(80)
	assert.Equal(t, uint64(30), f.canSend())

	// MAX_DATA may only raise the limit, never lower it.
	f.setMaxSend(10)
	assert.Equal(t, uint64(80), f.maxSend)
}
