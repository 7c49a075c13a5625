package transport

import "time"

// initialPacketNumber is the first packet number sent in a space (spec.md
// §3, PacketNumber: "starting at an initial value (conventionally 1)").
const initialPacketNumber = 1

// cryptoStream carries one encryption level's CRYPTO-frame byte stream in
// both directions (spec.md §3, glossary "CRYPTO frame").
type cryptoStream struct {
	recv recvReassembler
	send sendReassembler
}

func (c *cryptoStream) pushRecv(data []byte, offset uint64, fin bool) error {
	return c.recv.push(data, offset, fin)
}

// drain returns newly-contiguous received crypto bytes for the TLS session
// to consume.
func (c *cryptoStream) drain() []byte {
	return c.recv.drain()
}

func (c *cryptoStream) popSend(max int) ([]byte, uint64, bool) {
	return c.send.popSend(max)
}

// packetNumberSpace is the per-encryption-level state: the send-side
// packet number counter, the AEAD pair, and the received-packet
// bookkeeping used to build ACK frames (spec.md §3-§4.5).
type packetNumberSpace struct {
	nextPacketNumber uint64

	sealer *packetProtection
	opener *packetProtection
	dropped bool

	received          rangeSet // Every packet number ever seen, for duplicate detection.
	recvPacketNeedAck rangeSet // Packet numbers not yet covered by an ACK the peer has acked.

	ackElicited            bool
	firstPacketAcked       bool
	largestRecvPacketTime  time.Time

	cryptoStream cryptoStream
}

func (s *packetNumberSpace) init() {
	s.nextPacketNumber = initialPacketNumber
}

// reset reinitializes the space for a fresh Initial exchange after a Retry
// or VersionNegotiation (spec.md §4.2, client PacketNumber invariant).
func (s *packetNumberSpace) reset() {
	s.nextPacketNumber = initialPacketNumber
	s.received = rangeSet{}
	s.recvPacketNeedAck = rangeSet{}
	s.ackElicited = false
	s.firstPacketAcked = false
	s.cryptoStream = cryptoStream{}
}

// drop discards this space's keys; it is never decrypted/encrypted again
// (spec.md §3 invariant: "Installation is monotonic").
func (s *packetNumberSpace) drop() {
	s.dropped = true
	s.sealer = nil
	s.opener = nil
}

func (s *packetNumberSpace) canDecrypt() bool { return !s.dropped && s.opener != nil }
func (s *packetNumberSpace) canEncrypt() bool { return !s.dropped && s.sealer != nil }

// ready reports whether this space has something to say on its own
// initiative (an ACK owed, or buffered CRYPTO bytes to send), independent
// of loss retransmission (spec.md §4.1, "choose the highest encryption
// level currently available").
func (s *packetNumberSpace) ready() bool {
	if s.dropped {
		return false
	}
	if s.ackElicited {
		return true
	}
	return s.cryptoStream.send.sent < uint64(len(s.cryptoStream.send.data))
}

func (s *packetNumberSpace) isPacketReceived(pn uint64) bool {
	return s.received.contains(pn)
}

func (s *packetNumberSpace) onPacketReceived(pn uint64, now time.Time) {
	s.received.insert(pn)
	s.recvPacketNeedAck.insert(pn)
	s.largestRecvPacketTime = now
}

// decryptPacket removes packet protection from b in place, returning the
// plaintext frame payload and the total number of bytes this packet
// occupied in the datagram.
func (s *packetNumberSpace) decryptPacket(b []byte, p *packet) ([]byte, int, error) {
	// p.header (dcid/scid/version) and p.typ were already filled in by the
	// decodeHeader call in Conn.recv; decodeBody reads the type-specific
	// fields (token/length/packet number) that decryptPacket needs.
	if _, err := p.decodeBody(b); err != nil {
		return nil, 0, err
	}
	header := b[:p.headerLen]
	ciphertext := b[p.headerLen : p.headerLen+p.payloadLen]
	plaintext, err := s.opener.open(ciphertext[:0], header, p.packetNumber, ciphertext)
	if err != nil {
		return nil, 0, err
	}
	return plaintext, p.headerLen + p.payloadLen, nil
}

// encryptPacket applies packet protection to the frame bytes already
// written at b[headerOffset:headerOffset+payloadLen-overhead], in place.
func (s *packetNumberSpace) encryptPacket(b []byte, p *packet) {
	overhead := s.sealer.aead.Overhead()
	plainLen := p.payloadLen - overhead
	header := b[:p.headerLen]
	plaintext := b[p.headerLen : p.headerLen+plainLen]
	s.sealer.seal(plaintext[:0], header, p.packetNumber, plaintext)
}
