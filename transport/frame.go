package transport

import "fmt"

// Frame type codes (spec.md §3, Frame variants).
const (
	frameTypePadding            = 0x00
	frameTypePing               = 0x01
	frameTypeAck                = 0x02
	frameTypeAckECN             = 0x03
	frameTypeResetStream        = 0x04
	frameTypeStopSending        = 0x05
	frameTypeCrypto             = 0x06
	frameTypeNewToken           = 0x07
	frameTypeStream             = 0x08
	frameTypeStreamEnd          = 0x0f
	frameTypeMaxData            = 0x10
	frameTypeMaxStreamData      = 0x11
	frameTypeMaxStreamsBidi     = 0x12
	frameTypeMaxStreamsUni      = 0x13
	frameTypeDataBlocked        = 0x14
	frameTypeStreamDataBlocked  = 0x15
	frameTypeStreamsBlockedBidi = 0x16
	frameTypeStreamsBlockedUni  = 0x17
	frameTypeConnectionClose    = 0x1c
	frameTypeApplicationClose   = 0x1d
	frameTypeHanshakeDone       = 0x1e
)

// isFrameAckEliciting reports whether receiving a frame of this type
// requires the receiver to eventually send an ACK (spec.md §4.5).
func isFrameAckEliciting(typ uint64) bool {
	switch typ {
	case frameTypeAck, frameTypeAckECN, frameTypePadding, frameTypeConnectionClose, frameTypeApplicationClose:
		return false
	default:
		return true
	}
}

// frame is implemented by every frame variant. encodedLen must return the
// exact number of bytes encode will write.
type frame interface {
	encodedLen() int
	encode(b []byte) (int, error)
}

// ---- PADDING ----

type paddingFrame struct {
	length int
}

func newPaddingFrame(length int) *paddingFrame { return &paddingFrame{length: length} }

func (f *paddingFrame) encodedLen() int { return f.length }

func (f *paddingFrame) encode(b []byte) (int, error) {
	if len(b) < f.length {
		return 0, errShortBuffer
	}
	for i := 0; i < f.length; i++ {
		b[i] = frameTypePadding
	}
	return f.length, nil
}

func (f *paddingFrame) decode(b []byte) (int, error) {
	n := 0
	for n < len(b) && b[n] == frameTypePadding {
		n++
	}
	if n == 0 {
		n = 1 // The leading PADDING byte itself, already consumed by the caller's type switch.
	}
	f.length = n
	return n, nil
}

// ---- PING ----

type pingFrame struct{}

func (f *pingFrame) encodedLen() int { return 1 }

func (f *pingFrame) encode(b []byte) (int, error) {
	if len(b) < 1 {
		return 0, errShortBuffer
	}
	b[0] = frameTypePing
	return 1, nil
}

// ---- ACK ----

// ackRange is one inclusive [smallest, largest] block of acknowledged
// packet numbers (spec.md §3, AckBlock).
type ackRange struct {
	smallest uint64
	largest  uint64
}

type ackFrame struct {
	largestAck    uint64
	ackDelay      uint64
	firstAckRange uint64
	ranges        []ackRange // Additional ranges below firstAckRange, descending.
}

// newAckFrame builds an ACK frame compressing recv into ranges, largest
// first, per spec.md §4.5's "ACK block construction".
func newAckFrame(ackDelay uint64, recv rangeSet) *ackFrame {
	blocks := recv.toDescendingRanges()
	if len(blocks) == 0 {
		return nil
	}
	f := &ackFrame{
		largestAck:    blocks[0].largest,
		ackDelay:      ackDelay,
		firstAckRange: blocks[0].largest - blocks[0].smallest,
	}
	f.ranges = blocks[1:]
	return f
}

func (f *ackFrame) encodedLen() int {
	n := 1
	n += varintLen(f.largestAck)
	n += varintLen(f.ackDelay)
	n += varintLen(uint64(len(f.ranges)))
	n += varintLen(f.firstAckRange)
	prevSmallest := f.largestAck - f.firstAckRange
	for _, r := range f.ranges {
		n += varintLen(prevSmallest - r.largest - 1)
		n += varintLen(r.largest - r.smallest)
		prevSmallest = r.smallest
	}
	return n
}

func (f *ackFrame) encode(b []byte) (int, error) {
	if len(b) < f.encodedLen() {
		return 0, errShortBuffer
	}
	pos := 0
	b[pos] = frameTypeAck
	pos++
	pos += putVarint(b[pos:], f.largestAck)
	pos += putVarint(b[pos:], f.ackDelay)
	pos += putVarint(b[pos:], uint64(len(f.ranges)))
	pos += putVarint(b[pos:], f.firstAckRange)
	prevSmallest := f.largestAck - f.firstAckRange
	for _, r := range f.ranges {
		pos += putVarint(b[pos:], prevSmallest-r.largest-1) // Gap, as decode reads it.
		pos += putVarint(b[pos:], r.largest-r.smallest)
		prevSmallest = r.smallest
	}
	return pos, nil
}

func (f *ackFrame) decode(b []byte) (int, error) {
	if len(b) < 1 || (b[0] != frameTypeAck && b[0] != frameTypeAckECN) {
		return 0, newError(FrameEncodingError, "ack frame type")
	}
	pos := 1
	n := getVarint(b[pos:], &f.largestAck)
	if n == 0 {
		return 0, newError(FrameEncodingError, "ack largest")
	}
	pos += n
	n = getVarint(b[pos:], &f.ackDelay)
	if n == 0 {
		return 0, newError(FrameEncodingError, "ack delay")
	}
	pos += n
	var count uint64
	n = getVarint(b[pos:], &count)
	if n == 0 {
		return 0, newError(FrameEncodingError, "ack range count")
	}
	pos += n
	n = getVarint(b[pos:], &f.firstAckRange)
	if n == 0 {
		return 0, newError(FrameEncodingError, "ack first range")
	}
	pos += n
	f.ranges = f.ranges[:0]
	largest := f.largestAck - f.firstAckRange
	for i := uint64(0); i < count; i++ {
		var gap, length uint64
		n = getVarint(b[pos:], &gap)
		if n == 0 {
			return 0, newError(FrameEncodingError, "ack gap")
		}
		pos += n
		n = getVarint(b[pos:], &length)
		if n == 0 {
			return 0, newError(FrameEncodingError, "ack length")
		}
		pos += n
		rLargest := largest - gap - 1
		f.ranges = append(f.ranges, ackRange{smallest: rLargest - length, largest: rLargest})
		largest = rLargest - length
	}
	if b[0] == frameTypeAckECN {
		// ECT(0), ECT(1) and ECN-CE counts: parsed and discarded.
		for i := 0; i < 3; i++ {
			var ecnCount uint64
			n = getVarint(b[pos:], &ecnCount)
			if n == 0 {
				return 0, newError(FrameEncodingError, "ack ecn count")
			}
			pos += n
		}
	}
	return pos, nil
}

func (f *ackFrame) String() string {
	return sprint("ack largest=", f.largestAck, " delay=", f.ackDelay, " first_range=", f.firstAckRange)
}

// toRangeSet reconstructs the set of acknowledged packet numbers described
// by this frame, largest block first.
func (f *ackFrame) toRangeSet() []ackRange {
	blocks := make([]ackRange, 0, len(f.ranges)+1)
	blocks = append(blocks, ackRange{smallest: f.largestAck - f.firstAckRange, largest: f.largestAck})
	blocks = append(blocks, f.ranges...)
	return blocks
}

// ---- RESET_STREAM ----

type resetStreamFrame struct {
	streamID  uint64
	errorCode uint64
	finalSize uint64
}

func newResetStreamFrame(streamID, errorCode, finalSize uint64) *resetStreamFrame {
	return &resetStreamFrame{streamID: streamID, errorCode: errorCode, finalSize: finalSize}
}

func (f *resetStreamFrame) encodedLen() int {
	return 1 + varintLen(f.streamID) + varintLen(f.errorCode) + varintLen(f.finalSize)
}

func (f *resetStreamFrame) encode(b []byte) (int, error) {
	if len(b) < f.encodedLen() {
		return 0, errShortBuffer
	}
	pos := 0
	b[pos] = frameTypeResetStream
	pos++
	pos += putVarint(b[pos:], f.streamID)
	pos += putVarint(b[pos:], f.errorCode)
	pos += putVarint(b[pos:], f.finalSize)
	return pos, nil
}

func (f *resetStreamFrame) decode(b []byte) (int, error) {
	pos := 1
	n := getVarint(b[pos:], &f.streamID)
	if n == 0 {
		return 0, newError(FrameEncodingError, "reset_stream id")
	}
	pos += n
	n = getVarint(b[pos:], &f.errorCode)
	if n == 0 {
		return 0, newError(FrameEncodingError, "reset_stream error")
	}
	pos += n
	n = getVarint(b[pos:], &f.finalSize)
	if n == 0 {
		return 0, newError(FrameEncodingError, "reset_stream final_size")
	}
	pos += n
	return pos, nil
}

// ---- STOP_SENDING ----

type stopSendingFrame struct {
	streamID  uint64
	errorCode uint64
}

func newStopSendingFrame(streamID, errorCode uint64) *stopSendingFrame {
	return &stopSendingFrame{streamID: streamID, errorCode: errorCode}
}

func (f *stopSendingFrame) encodedLen() int {
	return 1 + varintLen(f.streamID) + varintLen(f.errorCode)
}

func (f *stopSendingFrame) encode(b []byte) (int, error) {
	if len(b) < f.encodedLen() {
		return 0, errShortBuffer
	}
	pos := 0
	b[pos] = frameTypeStopSending
	pos++
	pos += putVarint(b[pos:], f.streamID)
	pos += putVarint(b[pos:], f.errorCode)
	return pos, nil
}

func (f *stopSendingFrame) decode(b []byte) (int, error) {
	pos := 1
	n := getVarint(b[pos:], &f.streamID)
	if n == 0 {
		return 0, newError(FrameEncodingError, "stop_sending id")
	}
	pos += n
	n = getVarint(b[pos:], &f.errorCode)
	if n == 0 {
		return 0, newError(FrameEncodingError, "stop_sending error")
	}
	pos += n
	return pos, nil
}

// ---- CRYPTO ----

type cryptoFrame struct {
	data   []byte
	offset uint64
}

func newCryptoFrame(data []byte, offset uint64) *cryptoFrame {
	return &cryptoFrame{data: data, offset: offset}
}

func (f *cryptoFrame) encodedLen() int {
	return 1 + varintLen(f.offset) + varintLen(uint64(len(f.data))) + len(f.data)
}

func (f *cryptoFrame) encode(b []byte) (int, error) {
	if len(b) < f.encodedLen() {
		return 0, errShortBuffer
	}
	pos := 0
	b[pos] = frameTypeCrypto
	pos++
	pos += putVarint(b[pos:], f.offset)
	pos += putVarint(b[pos:], uint64(len(f.data)))
	pos += copy(b[pos:], f.data)
	return pos, nil
}

func (f *cryptoFrame) decode(b []byte) (int, error) {
	pos := 1
	n := getVarint(b[pos:], &f.offset)
	if n == 0 {
		return 0, newError(FrameEncodingError, "crypto offset")
	}
	pos += n
	var length uint64
	n = getVarint(b[pos:], &length)
	if n == 0 {
		return 0, newError(FrameEncodingError, "crypto length")
	}
	pos += n
	if uint64(len(b)) < uint64(pos)+length {
		return 0, newError(FrameEncodingError, "crypto data")
	}
	f.data = b[pos : pos+int(length)]
	pos += int(length)
	return pos, nil
}

func (f *cryptoFrame) String() string {
	return sprint("crypto offset=", f.offset, " len=", len(f.data))
}

// ---- NEW_TOKEN ----

type newTokenFrame struct {
	token []byte
}

func newNewTokenFrame(token []byte) *newTokenFrame { return &newTokenFrame{token: token} }

func (f *newTokenFrame) encodedLen() int {
	return 1 + varintLen(uint64(len(f.token))) + len(f.token)
}

func (f *newTokenFrame) encode(b []byte) (int, error) {
	if len(b) < f.encodedLen() {
		return 0, errShortBuffer
	}
	pos := 0
	b[pos] = frameTypeNewToken
	pos++
	pos += putVarint(b[pos:], uint64(len(f.token)))
	pos += copy(b[pos:], f.token)
	return pos, nil
}

func (f *newTokenFrame) decode(b []byte) (int, error) {
	pos := 1
	var length uint64
	n := getVarint(b[pos:], &length)
	if n == 0 {
		return 0, newError(FrameEncodingError, "new_token length")
	}
	pos += n
	if uint64(len(b)) < uint64(pos)+length {
		return 0, newError(FrameEncodingError, "new_token data")
	}
	f.token = b[pos : pos+int(length)]
	pos += int(length)
	return pos, nil
}

// ---- STREAM ----

type streamFrame struct {
	streamID uint64
	data     []byte
	offset   uint64
	fin      bool
}

func newStreamFrame(streamID uint64, data []byte, offset uint64, fin bool) *streamFrame {
	return &streamFrame{streamID: streamID, data: data, offset: offset, fin: fin}
}

// STREAM frame type bits: 0x04=OFF, 0x02=LEN, 0x01=FIN. This implementation
// always sets OFF and LEN so decode never needs sender-side context.
func (f *streamFrame) encodedLen() int {
	n := 1 + varintLen(f.streamID) + varintLen(f.offset) + varintLen(uint64(len(f.data))) + len(f.data)
	return n
}

func (f *streamFrame) encode(b []byte) (int, error) {
	if len(b) < f.encodedLen() {
		return 0, errShortBuffer
	}
	typ := byte(frameTypeStream | 0x04 | 0x02)
	if f.fin {
		typ |= 0x01
	}
	pos := 0
	b[pos] = typ
	pos++
	pos += putVarint(b[pos:], f.streamID)
	pos += putVarint(b[pos:], f.offset)
	pos += putVarint(b[pos:], uint64(len(f.data)))
	pos += copy(b[pos:], f.data)
	return pos, nil
}

func (f *streamFrame) decode(b []byte) (int, error) {
	typ := b[0]
	f.fin = typ&0x01 != 0
	pos := 1
	n := getVarint(b[pos:], &f.streamID)
	if n == 0 {
		return 0, newError(FrameEncodingError, "stream id")
	}
	pos += n
	if typ&0x04 != 0 {
		n = getVarint(b[pos:], &f.offset)
		if n == 0 {
			return 0, newError(FrameEncodingError, "stream offset")
		}
		pos += n
	}
	var length uint64
	if typ&0x02 != 0 {
		n = getVarint(b[pos:], &length)
		if n == 0 {
			return 0, newError(FrameEncodingError, "stream length")
		}
		pos += n
	} else {
		length = uint64(len(b) - pos)
	}
	if uint64(len(b)) < uint64(pos)+length {
		return 0, newError(FrameEncodingError, "stream data")
	}
	f.data = b[pos : pos+int(length)]
	pos += int(length)
	return pos, nil
}

// ---- MAX_DATA ----

type maxDataFrame struct {
	maximumData uint64
}

func newMaxDataFrame(max uint64) *maxDataFrame { return &maxDataFrame{maximumData: max} }

func (f *maxDataFrame) encodedLen() int { return 1 + varintLen(f.maximumData) }

func (f *maxDataFrame) encode(b []byte) (int, error) {
	if len(b) < f.encodedLen() {
		return 0, errShortBuffer
	}
	b[0] = frameTypeMaxData
	n := putVarint(b[1:], f.maximumData)
	return 1 + n, nil
}

func (f *maxDataFrame) decode(b []byte) (int, error) {
	n := getVarint(b[1:], &f.maximumData)
	if n == 0 {
		return 0, newError(FrameEncodingError, "max_data")
	}
	return 1 + n, nil
}

// ---- MAX_STREAM_DATA ----

type maxStreamDataFrame struct {
	streamID    uint64
	maximumData uint64
}

func newMaxStreamDataFrame(streamID, max uint64) *maxStreamDataFrame {
	return &maxStreamDataFrame{streamID: streamID, maximumData: max}
}

func (f *maxStreamDataFrame) encodedLen() int {
	return 1 + varintLen(f.streamID) + varintLen(f.maximumData)
}

func (f *maxStreamDataFrame) encode(b []byte) (int, error) {
	if len(b) < f.encodedLen() {
		return 0, errShortBuffer
	}
	pos := 0
	b[pos] = frameTypeMaxStreamData
	pos++
	pos += putVarint(b[pos:], f.streamID)
	pos += putVarint(b[pos:], f.maximumData)
	return pos, nil
}

func (f *maxStreamDataFrame) decode(b []byte) (int, error) {
	pos := 1
	n := getVarint(b[pos:], &f.streamID)
	if n == 0 {
		return 0, newError(FrameEncodingError, "max_stream_data id")
	}
	pos += n
	n = getVarint(b[pos:], &f.maximumData)
	if n == 0 {
		return 0, newError(FrameEncodingError, "max_stream_data max")
	}
	pos += n
	return pos, nil
}

// ---- MAX_STREAMS ----

type maxStreamsFrame struct {
	maximumStreams uint64
	bidi           bool
}

func newMaxStreamsFrame(max uint64, bidi bool) *maxStreamsFrame {
	return &maxStreamsFrame{maximumStreams: max, bidi: bidi}
}

func (f *maxStreamsFrame) encodedLen() int { return 1 + varintLen(f.maximumStreams) }

func (f *maxStreamsFrame) encode(b []byte) (int, error) {
	if len(b) < f.encodedLen() {
		return 0, errShortBuffer
	}
	if f.bidi {
		b[0] = frameTypeMaxStreamsBidi
	} else {
		b[0] = frameTypeMaxStreamsUni
	}
	n := putVarint(b[1:], f.maximumStreams)
	return 1 + n, nil
}

func (f *maxStreamsFrame) decode(b []byte) (int, error) {
	f.bidi = b[0] == frameTypeMaxStreamsBidi
	n := getVarint(b[1:], &f.maximumStreams)
	if n == 0 {
		return 0, newError(FrameEncodingError, "max_streams")
	}
	return 1 + n, nil
}

// ---- DATA_BLOCKED / STREAM_DATA_BLOCKED / STREAMS_BLOCKED ----
// Informational frames: this implementation ACKs and logs them but does
// not react, since the core's flow-control hook (spec.md §4.7) is a
// placeholder.

type dataBlockedFrame struct {
	dataLimit uint64
}

func newDataBlockedFrame(limit uint64) *dataBlockedFrame { return &dataBlockedFrame{dataLimit: limit} }

func (f *dataBlockedFrame) encodedLen() int { return 1 + varintLen(f.dataLimit) }
func (f *dataBlockedFrame) encode(b []byte) (int, error) {
	if len(b) < f.encodedLen() {
		return 0, errShortBuffer
	}
	b[0] = frameTypeDataBlocked
	n := putVarint(b[1:], f.dataLimit)
	return 1 + n, nil
}
func (f *dataBlockedFrame) decode(b []byte) (int, error) {
	n := getVarint(b[1:], &f.dataLimit)
	if n == 0 {
		return 0, newError(FrameEncodingError, "data_blocked")
	}
	return 1 + n, nil
}

type streamDataBlockedFrame struct {
	streamID  uint64
	dataLimit uint64
}

func newStreamDataBlockedFrame(streamID, limit uint64) *streamDataBlockedFrame {
	return &streamDataBlockedFrame{streamID: streamID, dataLimit: limit}
}
func (f *streamDataBlockedFrame) encodedLen() int {
	return 1 + varintLen(f.streamID) + varintLen(f.dataLimit)
}
func (f *streamDataBlockedFrame) encode(b []byte) (int, error) {
	if len(b) < f.encodedLen() {
		return 0, errShortBuffer
	}
	pos := 0
	b[pos] = frameTypeStreamDataBlocked
	pos++
	pos += putVarint(b[pos:], f.streamID)
	pos += putVarint(b[pos:], f.dataLimit)
	return pos, nil
}
func (f *streamDataBlockedFrame) decode(b []byte) (int, error) {
	pos := 1
	n := getVarint(b[pos:], &f.streamID)
	if n == 0 {
		return 0, newError(FrameEncodingError, "stream_data_blocked id")
	}
	pos += n
	n = getVarint(b[pos:], &f.dataLimit)
	if n == 0 {
		return 0, newError(FrameEncodingError, "stream_data_blocked limit")
	}
	pos += n
	return pos, nil
}

type streamsBlockedFrame struct {
	streamLimit uint64
	bidi        bool
}

func newStreamsBlockedFrame(limit uint64, bidi bool) *streamsBlockedFrame {
	return &streamsBlockedFrame{streamLimit: limit, bidi: bidi}
}
func (f *streamsBlockedFrame) encodedLen() int { return 1 + varintLen(f.streamLimit) }
func (f *streamsBlockedFrame) encode(b []byte) (int, error) {
	if len(b) < f.encodedLen() {
		return 0, errShortBuffer
	}
	if f.bidi {
		b[0] = frameTypeStreamsBlockedBidi
	} else {
		b[0] = frameTypeStreamsBlockedUni
	}
	n := putVarint(b[1:], f.streamLimit)
	return 1 + n, nil
}
func (f *streamsBlockedFrame) decode(b []byte) (int, error) {
	f.bidi = b[0] == frameTypeStreamsBlockedBidi
	n := getVarint(b[1:], &f.streamLimit)
	if n == 0 {
		return 0, newError(FrameEncodingError, "streams_blocked")
	}
	return 1 + n, nil
}

// ---- CONNECTION_CLOSE ----

type connectionCloseFrame struct {
	application  bool
	errorCode    uint64
	frameType    uint64
	reasonPhrase []byte
}

func newConnectionCloseFrame(errorCode, frameType uint64, reason []byte, application bool) *connectionCloseFrame {
	return &connectionCloseFrame{application: application, errorCode: errorCode, frameType: frameType, reasonPhrase: reason}
}

func (f *connectionCloseFrame) encodedLen() int {
	n := 1 + varintLen(f.errorCode)
	if !f.application {
		n += varintLen(f.frameType)
	}
	n += varintLen(uint64(len(f.reasonPhrase))) + len(f.reasonPhrase)
	return n
}

func (f *connectionCloseFrame) encode(b []byte) (int, error) {
	if len(b) < f.encodedLen() {
		return 0, errShortBuffer
	}
	pos := 0
	if f.application {
		b[pos] = frameTypeApplicationClose
	} else {
		b[pos] = frameTypeConnectionClose
	}
	pos++
	pos += putVarint(b[pos:], f.errorCode)
	if !f.application {
		pos += putVarint(b[pos:], f.frameType)
	}
	pos += putVarint(b[pos:], uint64(len(f.reasonPhrase)))
	pos += copy(b[pos:], f.reasonPhrase)
	return pos, nil
}

func (f *connectionCloseFrame) decode(b []byte) (int, error) {
	f.application = b[0] == frameTypeApplicationClose
	pos := 1
	n := getVarint(b[pos:], &f.errorCode)
	if n == 0 {
		return 0, newError(FrameEncodingError, "connection_close error")
	}
	pos += n
	if !f.application {
		n = getVarint(b[pos:], &f.frameType)
		if n == 0 {
			return 0, newError(FrameEncodingError, "connection_close frame_type")
		}
		pos += n
	}
	var length uint64
	n = getVarint(b[pos:], &length)
	if n == 0 {
		return 0, newError(FrameEncodingError, "connection_close reason length")
	}
	pos += n
	if uint64(len(b)) < uint64(pos)+length {
		return 0, newError(FrameEncodingError, "connection_close reason")
	}
	f.reasonPhrase = b[pos : pos+int(length)]
	pos += int(length)
	return pos, nil
}

func (f *connectionCloseFrame) String() string {
	return sprint("connection_close code=", f.errorCode, " reason=", string(f.reasonPhrase))
}

// ---- HANDSHAKE_DONE ----

type handshakeDoneFrame struct{}

func (f *handshakeDoneFrame) encodedLen() int { return 1 }

func (f *handshakeDoneFrame) encode(b []byte) (int, error) {
	if len(b) < 1 {
		return 0, errShortBuffer
	}
	b[0] = frameTypeHanshakeDone
	return 1, nil
}

func (f *handshakeDoneFrame) decode(b []byte) (int, error) {
	return 1, nil
}

// encodeFrames encodes every frame in order into b.
func encodeFrames(b []byte, frames []frame) (int, error) {
	pos := 0
	for _, f := range frames {
		n, err := f.encode(b[pos:])
		if err != nil {
			return 0, err
		}
		pos += n
	}
	return pos, nil
}

func sprint(args ...interface{}) string {
	return fmt.Sprint(args...)
}
