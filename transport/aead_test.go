package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketProtectionSealOpenRoundTrip(t *testing.T) {
	p, err := newPacketProtection([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	header := []byte{0x01, 0x02, 0x03}
	sealed := p.seal(nil, header, 7, []byte("hello quic"))

	plain, err := p.open(nil, header, 7, sealed)
	require.NoError(t, err)
	assert.Equal(t, "hello quic", string(plain))
}

func TestPacketProtectionRejectsWrongPacketNumber(t *testing.T) {
	p, err := newPacketProtection([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	header := []byte{0x01, 0x02, 0x03}
	sealed := p.seal(nil, header, 7, []byte("hello quic"))

	_, err = p.open(nil, header, 8, sealed)
	assert.Error(t, err)
}

func TestPacketProtectionRejectsTamperedHeader(t *testing.T) {
	p, err := newPacketProtection([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	header := []byte{0x01, 0x02, 0x03}
	sealed := p.seal(nil, header, 7, []byte("hello quic"))

	_, err = p.open(nil, []byte{0x01, 0x02, 0xff}, 7, sealed)
	assert.Error(t, err)
}

func TestInitialAEADClientAndServerKeysDiffer(t *testing.T) {
	var a initialAEAD
	require.NoError(t, a.init([]byte{1, 2, 3, 4, 5, 6, 7, 8}))

	plaintext := []byte("initial crypto data")
	header := []byte{0xc0}
	sealed := a.client.seal(nil, header, 1, plaintext)

	// The server reads client Initials with the "client in" protection
	// (deriveInitialKeyMaterial installs it as the server's opener), so that
	// protection opens what the client sealed.
	opened, err := a.client.open(nil, header, 1, sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)

	// But the client and server directions use distinct secrets: ciphertext
	// sealed under the server secret must not open under the client secret.
	serverSent := a.server.seal(nil, header, 1, plaintext)
	_, err = a.client.open(nil, header, 1, serverSent)
	assert.Error(t, err, "server-sent ciphertext must not open under the client secret")
}
