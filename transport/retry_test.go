package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryIntegrityTagRoundTrip(t *testing.T) {
	odcid := []byte{1, 2, 3, 4}
	pkt := []byte("retry-packet-bytes")

	tagged := appendRetryIntegrityTag(append([]byte(nil), pkt...), odcid)
	assert.True(t, verifyRetryIntegrity(tagged, odcid))
}

func TestRetryIntegrityTagRejectsWrongODCID(t *testing.T) {
	pkt := []byte("retry-packet-bytes")
	tagged := appendRetryIntegrityTag(append([]byte(nil), pkt...), []byte{1, 2, 3, 4})
	assert.False(t, verifyRetryIntegrity(tagged, []byte{9, 9, 9, 9}))
}

func TestRetryIntegrityTagRejectsTamperedPacket(t *testing.T) {
	odcid := []byte{1, 2, 3, 4}
	tagged := appendRetryIntegrityTag([]byte("retry-packet-bytes"), odcid)
	tagged[0] ^= 0xff
	assert.False(t, verifyRetryIntegrity(tagged, odcid))
}

func TestRetryTokenValidateRoundTrip(t *testing.T) {
	key := []byte("server retry token signing key")
	odcid := []byte{0xaa, 0xbb, 0xcc}
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)

	token := newRetryToken(key, odcid, "198.51.100.1:4433", now)

	got, ok := validateRetryToken(key, token, "198.51.100.1:4433", time.Minute, now.Add(10*time.Second))
	require.True(t, ok)
	assert.Equal(t, odcid, got)
}

func TestRetryTokenRejectsExpired(t *testing.T) {
	key := []byte("server retry token signing key")
	odcid := []byte{0xaa, 0xbb, 0xcc}
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)

	token := newRetryToken(key, odcid, "198.51.100.1:4433", now)

	_, ok := validateRetryToken(key, token, "198.51.100.1:4433", time.Minute, now.Add(2*time.Minute))
	assert.False(t, ok)
}

func TestRetryTokenRejectsDifferentPeer(t *testing.T) {
	key := []byte("server retry token signing key")
	odcid := []byte{0xaa, 0xbb, 0xcc}
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)

	token := newRetryToken(key, odcid, "198.51.100.1:4433", now)

	_, ok := validateRetryToken(key, token, "203.0.113.7:4433", time.Minute, now)
	assert.False(t, ok)
}
