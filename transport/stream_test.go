package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamOutOfOrderDelivery(t *testing.T) {
	st := &Stream{id: 4}

	require.NoError(t, st.pushRecv([]byte("world"), 5, false))
	// Nothing is contiguous yet, so Read must not produce bytes out of order.
	buf := make([]byte, 16)
	n, err := st.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, st.pushRecv([]byte("hello"), 0, false))
	n, err = st.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "helloworld", string(buf[:n]))
}

func TestStreamDuplicateBytesAreIgnored(t *testing.T) {
	st := &Stream{id: 4}
	require.NoError(t, st.pushRecv([]byte("hello"), 0, false))
	require.NoError(t, st.pushRecv([]byte("hello"), 0, false))

	buf := make([]byte, 16)
	n, err := st.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestStreamSendCompletesOnceFinAcked(t *testing.T) {
	st := &Stream{id: 0}
	_, _ = st.Write([]byte("ping"))
	require.NoError(t, st.Close())

	chunk, offset, fin := st.popSend(1024)
	assert.Equal(t, []byte("ping"), chunk)
	assert.Equal(t, uint64(0), offset)
	assert.True(t, fin)
	assert.False(t, st.send.complete())

	st.send.ack(offset, uint64(len(chunk)))
	assert.True(t, st.send.complete())
}

func TestStreamIsLocalAndBidi(t *testing.T) {
	assert.True(t, isStreamLocal(0, true))  // client-initiated bidi, client asking
	assert.False(t, isStreamLocal(0, false))
	assert.True(t, isStreamLocal(1, false)) // server-initiated bidi
	assert.True(t, isStreamBidi(0))
	assert.False(t, isStreamBidi(2))
}

func TestStreamMapEnforcesPeerOpenedLimit(t *testing.T) {
	var m streamMap
	m.init(1, 0)

	_, err := m.create(0, false, true)
	require.NoError(t, err)

	_, err = m.create(4, false, true)
	assert.Error(t, err)
}

func TestRecvReassemblerResetReportsUndeliveredBytes(t *testing.T) {
	var r recvReassembler
	require.NoError(t, r.push([]byte("ab"), 0, false))

	mayRecv, err := r.reset(10)
	require.NoError(t, err)
	assert.Equal(t, 8, mayRecv)
	assert.True(t, r.aborted)
}
