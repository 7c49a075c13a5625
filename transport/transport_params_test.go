package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParametersEncodeDecodeRoundTrip(t *testing.T) {
	p := &Parameters{
		OriginalDestinationCID:         []byte{1, 2, 3},
		InitialSourceCID:               []byte{4, 5, 6},
		MaxIdleTimeout:                 30 * time.Second,
		MaxUDPPayloadSize:              1452,
		InitialMaxData:                 16 << 20,
		InitialMaxStreamDataBidiLocal:  1 << 20,
		InitialMaxStreamDataBidiRemote: 1 << 20,
		InitialMaxStreamDataUni:        1 << 20,
		InitialMaxStreamsBidi:          100,
		InitialMaxStreamsUni:           100,
		AckDelayExponent:               3,
		MaxAckDelay:                    25 * time.Millisecond,
		ActiveConnectionIDLimit:        2,
	}

	encoded := encodeParameters(p)
	decoded, err := decodeParameters(encoded)
	require.NoError(t, err)

	assert.Equal(t, p.OriginalDestinationCID, decoded.OriginalDestinationCID)
	assert.Equal(t, p.InitialSourceCID, decoded.InitialSourceCID)
	assert.Equal(t, p.MaxIdleTimeout, decoded.MaxIdleTimeout)
	assert.Equal(t, p.MaxUDPPayloadSize, decoded.MaxUDPPayloadSize)
	assert.Equal(t, p.InitialMaxData, decoded.InitialMaxData)
	assert.Equal(t, p.InitialMaxStreamDataBidiLocal, decoded.InitialMaxStreamDataBidiLocal)
	assert.Equal(t, p.InitialMaxStreamDataBidiRemote, decoded.InitialMaxStreamDataBidiRemote)
	assert.Equal(t, p.InitialMaxStreamDataUni, decoded.InitialMaxStreamDataUni)
	assert.Equal(t, p.InitialMaxStreamsBidi, decoded.InitialMaxStreamsBidi)
	assert.Equal(t, p.InitialMaxStreamsUni, decoded.InitialMaxStreamsUni)
	assert.Equal(t, p.AckDelayExponent, decoded.AckDelayExponent)
	assert.Equal(t, p.MaxAckDelay, decoded.MaxAckDelay)
	assert.Equal(t, p.ActiveConnectionIDLimit, decoded.ActiveConnectionIDLimit)
}

func TestParametersDecodeEmptyIsZeroValue(t *testing.T) {
	decoded, err := decodeParameters(nil)
	require.NoError(t, err)
	assert.Equal(t, &Parameters{}, decoded)
}

func TestParametersDecodeRejectsTruncatedInput(t *testing.T) {
	_, err := decodeParameters([]byte{tpInitialMaxData, 0x08}) // length says 8 bytes follow, none present
	assert.Error(t, err)
}
