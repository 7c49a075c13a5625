package transport

import "time"

// Transport parameter tags for the minimal TLV encoding this
// implementation exchanges as the "quic_transport_parameters" TLS
// extension (spec.md §4.4). Byte-exact compatibility with the draft-18
// wire format is out of scope (spec.md §1); only round-tripping between
// this package's own client and server matters.
const (
	tpOriginalDestinationCID = 0x00
	tpMaxIdleTimeout         = 0x01
	tpStatelessResetToken    = 0x02
	tpMaxUDPPayloadSize      = 0x03
	tpInitialMaxData         = 0x04
	tpInitialMaxStreamDataBidiLocal  = 0x05
	tpInitialMaxStreamDataBidiRemote = 0x06
	tpInitialMaxStreamDataUni        = 0x07
	tpInitialMaxStreamsBidi          = 0x08
	tpInitialMaxStreamsUni           = 0x09
	tpAckDelayExponent               = 0x0a
	tpMaxAckDelay                    = 0x0b
	tpInitialSourceCID               = 0x0f
	tpRetrySourceCID                 = 0x10
	tpActiveConnectionIDLimit        = 0x11
)

func encodeParameters(p *Parameters) []byte {
	var b []byte
	putTLVBytes := func(tag byte, v []byte) {
		if len(v) == 0 {
			return
		}
		b = append(b, tag)
		tmp := make([]byte, 8)
		n := putVarint(tmp, uint64(len(v)))
		b = append(b, tmp[:n]...)
		b = append(b, v...)
	}
	putTLVVarint := func(tag byte, v uint64) {
		tmp := make([]byte, 8)
		n := putVarint(tmp, v)
		b = append(b, tag)
		lenTmp := make([]byte, 8)
		ln := putVarint(lenTmp, uint64(n))
		b = append(b, lenTmp[:ln]...)
		b = append(b, tmp[:n]...)
	}
	putTLVBytes(tpOriginalDestinationCID, p.OriginalDestinationCID)
	putTLVVarint(tpMaxIdleTimeout, uint64(p.MaxIdleTimeout/time.Millisecond))
	putTLVBytes(tpStatelessResetToken, p.StatelessResetToken)
	putTLVVarint(tpMaxUDPPayloadSize, p.MaxUDPPayloadSize)
	putTLVVarint(tpInitialMaxData, p.InitialMaxData)
	putTLVVarint(tpInitialMaxStreamDataBidiLocal, p.InitialMaxStreamDataBidiLocal)
	putTLVVarint(tpInitialMaxStreamDataBidiRemote, p.InitialMaxStreamDataBidiRemote)
	putTLVVarint(tpInitialMaxStreamDataUni, p.InitialMaxStreamDataUni)
	putTLVVarint(tpInitialMaxStreamsBidi, p.InitialMaxStreamsBidi)
	putTLVVarint(tpInitialMaxStreamsUni, p.InitialMaxStreamsUni)
	putTLVVarint(tpAckDelayExponent, p.AckDelayExponent)
	putTLVVarint(tpMaxAckDelay, uint64(p.MaxAckDelay/time.Millisecond))
	putTLVBytes(tpInitialSourceCID, p.InitialSourceCID)
	putTLVBytes(tpRetrySourceCID, p.RetrySourceCID)
	putTLVVarint(tpActiveConnectionIDLimit, p.ActiveConnectionIDLimit)
	return b
}

func decodeParameters(b []byte) (*Parameters, error) {
	p := &Parameters{}
	pos := 0
	for pos < len(b) {
		tag := b[pos]
		pos++
		var length uint64
		n := getVarint(b[pos:], &length)
		if n == 0 {
			return nil, newError(TransportParameterError, "parameter length")
		}
		pos += n
		if uint64(len(b)) < uint64(pos)+length {
			return nil, newError(TransportParameterError, "parameter value")
		}
		val := b[pos : pos+int(length)]
		pos += int(length)
		switch tag {
		case tpOriginalDestinationCID:
			p.OriginalDestinationCID = val
		case tpMaxIdleTimeout:
			p.MaxIdleTimeout = time.Duration(decodeVarintValue(val)) * time.Millisecond
		case tpStatelessResetToken:
			p.StatelessResetToken = val
		case tpMaxUDPPayloadSize:
			p.MaxUDPPayloadSize = decodeVarintValue(val)
		case tpInitialMaxData:
			p.InitialMaxData = decodeVarintValue(val)
		case tpInitialMaxStreamDataBidiLocal:
			p.InitialMaxStreamDataBidiLocal = decodeVarintValue(val)
		case tpInitialMaxStreamDataBidiRemote:
			p.InitialMaxStreamDataBidiRemote = decodeVarintValue(val)
		case tpInitialMaxStreamDataUni:
			p.InitialMaxStreamDataUni = decodeVarintValue(val)
		case tpInitialMaxStreamsBidi:
			p.InitialMaxStreamsBidi = decodeVarintValue(val)
		case tpInitialMaxStreamsUni:
			p.InitialMaxStreamsUni = decodeVarintValue(val)
		case tpAckDelayExponent:
			p.AckDelayExponent = decodeVarintValue(val)
		case tpMaxAckDelay:
			p.MaxAckDelay = time.Duration(decodeVarintValue(val)) * time.Millisecond
		case tpInitialSourceCID:
			p.InitialSourceCID = val
		case tpRetrySourceCID:
			p.RetrySourceCID = val
		case tpActiveConnectionIDLimit:
			p.ActiveConnectionIDLimit = decodeVarintValue(val)
		}
	}
	return p, nil
}

func decodeVarintValue(b []byte) uint64 {
	var v uint64
	getVarint(b, &v)
	return v
}
