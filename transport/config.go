package transport

import (
	"crypto/tls"
	"time"
)

// Config holds per-endpoint settings used to create connections.
type Config struct {
	// Version is the QUIC transport version to speak. Defaults to DraftVersion18.
	Version uint32
	// Params are the local transport parameters advertised to the peer.
	Params Parameters
	// TLS is the certificate/verification configuration passed to crypto/tls.
	TLS *tls.Config
	// RequireAddressValidation makes the server send a Retry before accepting
	// an Initial packet that does not already carry a valid token.
	RequireAddressValidation bool
	// RetryTokenKey signs and validates Retry tokens. If empty a
	// key is derived from TLS.Certificates on first use.
	RetryTokenKey []byte
	// RetryTokenLifetime bounds how long an issued token remains valid.
	RetryTokenLifetime time.Duration
}

// NewConfig returns a Config filled with the defaults from §6 of the spec.
func NewConfig() *Config {
	c := &Config{
		Version: DraftVersion18,
		Params: Parameters{
			InitialMaxData:                 16 << 20,
			InitialMaxStreamDataBidiLocal:  1 << 20,
			InitialMaxStreamDataBidiRemote: 1 << 20,
			InitialMaxStreamDataUni:        1 << 20,
			InitialMaxStreamsBidi:          100,
			InitialMaxStreamsUni:           100,
			MaxIdleTimeout:                 30 * time.Second,
			AckDelayExponent:               3,
			MaxAckDelay:                    25 * time.Millisecond,
			ActiveConnectionIDLimit:        2,
			MaxUDPPayloadSize:              MaxPacketSize,
		},
		RetryTokenLifetime: 30 * time.Minute,
	}
	return c
}

func (c *Config) version() uint32 {
	if c.Version == 0 {
		return DraftVersion18
	}
	return c.Version
}

// Parameters are QUIC transport parameters, exchanged as a TLS extension
// during the handshake (spec.md §4.4).
type Parameters struct {
	OriginalDestinationCID []byte
	InitialSourceCID       []byte
	RetrySourceCID         []byte
	StatelessResetToken    []byte

	MaxIdleTimeout    time.Duration
	MaxUDPPayloadSize uint64
	AckDelayExponent  uint64
	MaxAckDelay       time.Duration

	InitialMaxData                 uint64
	InitialMaxStreamDataBidiLocal   uint64
	InitialMaxStreamDataBidiRemote  uint64
	InitialMaxStreamDataUni         uint64
	InitialMaxStreamsBidi           uint64
	InitialMaxStreamsUni            uint64
	ActiveConnectionIDLimit         uint64
}
