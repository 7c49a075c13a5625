package transport

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Event type strings, named after qlog's quic-h3 event definitions
// (https://quiclog.github.io/internet-drafts/draft-marx-qlog-event-definitions-quic-h3.html)
// so existing qlog tooling recognizes them.
const (
	logEventPacketReceived  = "packet_received"
	logEventPacketSent      = "packet_sent"
	logEventPacketDropped   = "packet_dropped"
	logEventFramesProcessed = "frames_processed"
)

// LogEvent is one qlog-style record: a timestamped type tag plus whatever
// key/value fields that event carries.
type LogEvent struct {
	Time   time.Time
	Type   string
	Fields []LogField
}

func newLogEvent(tm time.Time, typ string) LogEvent {
	return LogEvent{Time: tm, Type: typ, Fields: make([]LogField, 0, 8)}
}

func (e *LogEvent) addField(key string, val interface{}) {
	e.Fields = append(e.Fields, newLogField(key, val))
}

// addFields is shorthand for a run of addField calls, taken in key/value
// pairs; it exists because most frame loggers below are nothing but a
// handful of these in a row.
func (e *LogEvent) addFields(kv ...interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		e.addField(kv[i].(string), kv[i+1])
	}
}

func (e LogEvent) String() string {
	var buf bytes.Buffer
	buf.WriteString(e.Time.Format(time.RFC3339))
	buf.WriteByte(' ')
	buf.WriteString(e.Type)
	for _, f := range e.Fields {
		buf.WriteByte(' ')
		buf.WriteString(f.String())
	}
	return buf.String()
}

// LogField is one key/value pair within a LogEvent. Only one of Str or
// Num is meaningful for a given field; String picks whichever was set.
type LogField struct {
	Key string
	Str string
	Num uint64
}

func newLogField(key string, val interface{}) LogField {
	f := LogField{Key: key}
	switch v := val.(type) {
	case int:
		f.Num = uint64(v)
	case int8:
		f.Num = uint64(v)
	case int16:
		f.Num = uint64(v)
	case int32:
		f.Num = uint64(v)
	case int64:
		f.Num = uint64(v)
	case uint:
		f.Num = uint64(v)
	case uint8:
		f.Num = uint64(v)
	case uint16:
		f.Num = uint64(v)
	case uint32:
		f.Num = uint64(v)
	case uint64:
		f.Num = v
	case bool:
		f.Str = strconv.FormatBool(v)
	case string:
		f.Str = v
	case []byte:
		f.Str = hex.EncodeToString(v)
	case []uint32:
		f.Str = formatUint32List(v)
	default:
		panic("unsupported type for log field")
	}
	return f
}

func formatUint32List(vs []uint32) string {
	b := make([]byte, 0, 32)
	b = append(b, '[')
	for i, v := range vs {
		if i > 0 {
			b = append(b, ',')
		}
		b = strconv.AppendUint(b, uint64(v), 10)
	}
	return string(append(b, ']'))
}

func (f LogField) String() string {
	if f.Str == "" {
		return fmt.Sprintf("%s=%d", f.Key, f.Num)
	}
	return fmt.Sprintf("%s=%s", f.Key, f.Str)
}

func newLogEventPacket(tm time.Time, typ string, p *packet) LogEvent {
	e := newLogEvent(tm, typ)
	logPacket(&e, p)
	return e
}

func logPacket(e *LogEvent, p *packet) {
	e.addField("packet_type", p.typ.String())
	if p.header.version > 0 {
		e.addField("version", p.header.version)
	}
	if len(p.header.dcid) > 0 {
		e.addField("dcid", p.header.dcid)
	}
	if len(p.header.scid) > 0 {
		e.addField("scid", p.header.scid)
	}
	if p.packetNumber > 0 {
		e.addField("packet_number", p.packetNumber)
	}
	if p.payloadLen > 0 {
		e.addField("payload_length", p.payloadLen)
	}
	if len(p.supportedVersions) > 0 {
		e.addField("supported_versions", p.supportedVersions)
	}
	if len(p.token) > 0 {
		e.addField("token", p.token)
	}
}

func newLogEventFrame(tm time.Time, typ string, f frame) LogEvent {
	e := newLogEvent(tm, typ)
	switch f := f.(type) {
	case *paddingFrame:
		logFramePadding(&e, f)
	case *pingFrame:
		logFramePing(&e, f)
	case *ackFrame:
		logFrameAck(&e, f)
	case *resetStreamFrame:
		logFrameResetStream(&e, f)
	case *stopSendingFrame:
		logFrameStopSending(&e, f)
	case *cryptoFrame:
		logFrameCrypto(&e, f)
	case *newTokenFrame:
		logFrameNewToken(&e, f)
	case *streamFrame:
		logFrameStream(&e, f)
	case *maxDataFrame:
		logFrameMaxData(&e, f)
	case *maxStreamDataFrame:
		logFrameMaxStreamData(&e, f)
	case *maxStreamsFrame:
		logFrameMaxStreams(&e, f)
	case *dataBlockedFrame:
		logFrameDataBlocked(&e, f)
	case *streamDataBlockedFrame:
		logFrameStreamDataBlocked(&e, f)
	case *streamsBlockedFrame:
		logFrameStreamsBlocked(&e, f)
	case *connectionCloseFrame:
		logFrameConnectionClose(&e, f)
	case *handshakeDoneFrame:
		logFrameHandshakeDone(&e, f)
	}
	return e
}

func logFramePadding(e *LogEvent, f *paddingFrame) {
	e.addField("frame_type", "padding")
}

func logFramePing(e *LogEvent, f *pingFrame) {
	e.addField("frame_type", "ping")
}

func logFrameAck(e *LogEvent, f *ackFrame) {
	e.addFields("frame_type", "ack", "ack_delay", f.ackDelay)
}

func logFrameResetStream(e *LogEvent, f *resetStreamFrame) {
	e.addFields(
		"frame_type", "reset_stream",
		"stream_id", f.streamID,
		"error_code", f.errorCode,
		"final_size", f.finalSize,
	)
}

func logFrameStopSending(e *LogEvent, f *stopSendingFrame) {
	e.addFields("frame_type", "stop_sending", "stream_id", f.streamID, "error_code", f.errorCode)
}

func logFrameCrypto(e *LogEvent, f *cryptoFrame) {
	e.addFields("frame_type", "crypto", "offset", f.offset, "length", len(f.data))
}

func logFrameNewToken(e *LogEvent, f *newTokenFrame) {
	e.addFields("frame_type", "new_token", "token", f.token)
}

func logFrameStream(e *LogEvent, f *streamFrame) {
	e.addFields(
		"frame_type", "stream",
		"stream_id", f.streamID,
		"offset", f.offset,
		"length", len(f.data),
		"fin", f.fin,
	)
}

func logFrameMaxData(e *LogEvent, f *maxDataFrame) {
	e.addFields("frame_type", "max_data", "maximum", f.maximumData)
}

func logFrameMaxStreamData(e *LogEvent, f *maxStreamDataFrame) {
	e.addFields("frame_type", "max_stream_data", "stream_id", f.streamID, "maximum", f.maximumData)
}

func logFrameMaxStreams(e *LogEvent, f *maxStreamsFrame) {
	e.addFields("frame_type", "max_streams", "stream_type", streamTypeName(f.bidi), "maximum", f.maximumStreams)
}

func logFrameDataBlocked(e *LogEvent, f *dataBlockedFrame) {
	e.addFields("frame_type", "data_blocked", "limit", f.dataLimit)
}

func logFrameStreamDataBlocked(e *LogEvent, f *streamDataBlockedFrame) {
	e.addFields("frame_type", "stream_data_blocked", "stream_id", f.streamID, "limit", f.dataLimit)
}

func logFrameStreamsBlocked(e *LogEvent, f *streamsBlockedFrame) {
	e.addFields("frame_type", "streams_blocked", "stream_type", streamTypeName(f.bidi), "limit", f.streamLimit)
}

func logFrameConnectionClose(e *LogEvent, f *connectionCloseFrame) {
	space := "transport"
	if f.application {
		space = "application"
	}
	e.addFields(
		"frame_type", "connection_close",
		"error_space", space,
		"error_code", errorCodeString(f.errorCode),
		"raw_error_code", f.errorCode,
		"reason", string(f.reasonPhrase),
	)
	if f.frameType > 0 {
		e.addField("trigger_frame_type", f.frameType)
	}
}

func logFrameHandshakeDone(e *LogEvent, f *handshakeDoneFrame) {
	e.addField("frame_type", "handshake_done")
}

func logUnknownFrame(e *LogEvent, frameType uint64, b []byte) {
	e.addFields("frame_type", "unknown", "raw_frame_type", frameType, "raw", b)
}

func streamTypeName(bidi bool) string {
	if bidi {
		return "bidirectional"
	}
	return "unidirectional"
}
