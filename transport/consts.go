package transport

// Size limits from the transport draft.
const (
	// MaxCIDLength is the maximum length, in bytes, of a connection ID.
	MaxCIDLength = 18
	// MinCIDLength is the minimum length a self-chosen connection ID may have.
	MinCIDLength = 4

	// MinInitialPacketSize is the minimum size of a UDP datagram carrying a
	// client Initial packet, padded as required by the handshake.
	MinInitialPacketSize = 1200
	// MaxPacketSize is the largest packet this implementation will ever build.
	MaxPacketSize = 1452

	minPayloadLength       = 4 // Smallest payload so the packet number can be sampled for header protection.
	maxCryptoFrameOverhead = 16
	maxStreamFrameOverhead = 24
)

// DraftVersion18 is the QUIC transport version this implementation speaks.
const DraftVersion18 uint32 = 0xff00_0012

func versionSupported(v uint32) bool {
	return v == DraftVersion18
}
