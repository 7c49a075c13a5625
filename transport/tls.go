package transport

import (
	"context"
	"crypto/tls"
)

// spaceForLevel maps crypto/tls's QUIC encryption levels onto this
// package's packetSpace enum (spec.md §4.4, encryption level ↔ packet
// number space correspondence).
func spaceForLevel(level tls.QUICEncryptionLevel) packetSpace {
	switch level {
	case tls.QUICEncryptionLevelInitial:
		return packetSpaceInitial
	case tls.QUICEncryptionLevelHandshake:
		return packetSpaceHandshake
	case tls.QUICEncryptionLevelApplication:
		return packetSpaceApplication
	default:
		return packetSpaceCount
	}
}

// tlsHandshake drives the TLS 1.3 handshake that QUIC carries inside
// CRYPTO frames (spec.md §4.4). It is grounded on the stdlib's
// crypto/tls.QUICConn, which already speaks exactly the event protocol
// this package needs (derive secrets per level, hand over the
// transport parameters extension, surface the negotiated data as an
// opaque byte stream) rather than reimplementing TLS key schedule
// bookkeeping on top of a plain tls.Conn.
type tlsHandshake struct {
	conn      *Conn
	tlsConfig *tls.Config

	qconn   *tls.QUICConn
	started bool

	localParams   *Parameters
	pendingParams []byte

	complete   bool
	peerParams *Parameters
}

func (h *tlsHandshake) init(conn *Conn, tlsConfig *tls.Config) {
	h.conn = conn
	h.tlsConfig = tlsConfig
}

func (h *tlsHandshake) ensureConn() {
	if h.qconn != nil {
		return
	}
	if h.conn.isClient {
		h.qconn = tls.QUICClient(&tls.QUICConfig{TLSConfig: h.tlsConfig})
	} else {
		h.qconn = tls.QUICServer(&tls.QUICConfig{TLSConfig: h.tlsConfig})
	}
	if h.pendingParams != nil {
		h.qconn.SetTransportParameters(h.pendingParams)
	}
}

// setTransportParams encodes and hands the local transport parameters to
// the TLS session so they are carried in the ClientHello/EncryptedExtensions
// quic_transport_parameters extension.
func (h *tlsHandshake) setTransportParams(p *Parameters) {
	h.localParams = p
	h.pendingParams = encodeParameters(p)
	if h.qconn != nil {
		h.qconn.SetTransportParameters(h.pendingParams)
	}
}

// reset discards the in-progress TLS session, used after a Retry or
// VersionNegotiation restarts the Initial exchange from scratch (spec.md
// §4.2/§4.3).
func (h *tlsHandshake) reset() {
	h.qconn = nil
	h.started = false
	h.complete = false
	h.peerParams = nil
}

func (h *tlsHandshake) HandshakeComplete() bool {
	return h.complete
}

func (h *tlsHandshake) peerTransportParams() *Parameters {
	return h.peerParams
}

// writeSpace reports the highest encryption level this connection currently
// has a sealer installed for, used when probing or closing (spec.md §4.1).
func (h *tlsHandshake) writeSpace() packetSpace {
	space := packetSpaceCount
	for i := packetSpaceInitial; i < packetSpaceCount; i++ {
		if h.conn.packetNumberSpaces[i].canEncrypt() {
			space = i
		}
	}
	return space
}

// doHandshake advances the TLS state machine: it starts the handshake on
// first call, feeds any newly-received CRYPTO bytes in from each packet
// number space's cryptoStream, and drains every resulting QUICEvent into
// this connection's key schedule and outbound CRYPTO buffers.
func (h *tlsHandshake) doHandshake() error {
	h.ensureConn()
	ctx := context.Background()
	if !h.started {
		if err := h.qconn.Start(ctx); err != nil {
			return wrapError(CryptoError(0), "tls start", err)
		}
		h.started = true
	}
	for space := packetSpaceInitial; space < packetSpaceCount; space++ {
		level := levelForSpace(space)
		if data := h.conn.packetNumberSpaces[space].cryptoStream.drain(); len(data) > 0 {
			if err := h.qconn.HandleData(level, data); err != nil {
				return wrapError(CryptoError(0), "tls handle data", err)
			}
		}
	}
	return h.drainEvents()
}

func (h *tlsHandshake) drainEvents() error {
	for {
		ev := h.qconn.NextEvent()
		switch ev.Kind {
		case tls.QUICNoEvent:
			return nil
		case tls.QUICSetReadSecret:
			if err := h.installSecret(ev.Level, ev.Data, false); err != nil {
				return err
			}
		case tls.QUICSetWriteSecret:
			if err := h.installSecret(ev.Level, ev.Data, true); err != nil {
				return err
			}
		case tls.QUICWriteData:
			space := spaceForLevel(ev.Level)
			if space == packetSpaceCount {
				continue
			}
			h.conn.packetNumberSpaces[space].cryptoStream.send.write(ev.Data)
		case tls.QUICTransportParameters:
			params, err := decodeParameters(ev.Data)
			if err != nil {
				return err
			}
			h.peerParams = params
		case tls.QUICHandshakeDone:
			h.complete = true
		case tls.QUICTransportParametersRequired:
			h.qconn.SetTransportParameters(h.pendingParams)
		}
	}
}

func (h *tlsHandshake) installSecret(level tls.QUICEncryptionLevel, secret []byte, write bool) error {
	space := spaceForLevel(level)
	if space == packetSpaceCount {
		return nil
	}
	protection, err := newPacketProtection(secret)
	if err != nil {
		return err
	}
	if write {
		h.conn.packetNumberSpaces[space].sealer = protection
	} else {
		h.conn.packetNumberSpaces[space].opener = protection
	}
	return nil
}

func levelForSpace(space packetSpace) tls.QUICEncryptionLevel {
	switch space {
	case packetSpaceInitial:
		return tls.QUICEncryptionLevelInitial
	case packetSpaceHandshake:
		return tls.QUICEncryptionLevelHandshake
	default:
		return tls.QUICEncryptionLevelApplication
	}
}
