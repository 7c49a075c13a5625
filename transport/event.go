package transport

// Event-type strings for stream lifecycle notifications surfaced to the
// application (spec.md §6, "Stream listener capability").
const (
	// EventStream fires when a stream has newly-delivered bytes ready to
	// Read, mirroring the StreamListener.onData capability.
	EventStream = "stream"
	// EventStreamReset fires when the peer aborted its send side with
	// RESET_STREAM (StreamListener.onReset).
	EventStreamReset = "stream_reset"
	// EventStreamStop fires when the peer asked us to stop sending via
	// STOP_SENDING.
	EventStreamStop = "stream_stop"
	// EventStreamComplete fires once every byte of a locally-initiated
	// stream's send side has been acknowledged.
	EventStreamComplete = "stream_complete"
)

// Event is a notification the connection raises for its owner to consume
// via Events(); see spec.md §6.
type Event struct {
	Type      string
	StreamID  uint64
	ErrorCode uint64
}

func newStreamRecvEvent(streamID uint64) Event {
	return Event{Type: EventStream, StreamID: streamID}
}

func newStreamResetEvent(streamID, errorCode uint64) Event {
	return Event{Type: EventStreamReset, StreamID: streamID, ErrorCode: errorCode}
}

func newStreamStopEvent(streamID, errorCode uint64) Event {
	return Event{Type: EventStreamStop, StreamID: streamID, ErrorCode: errorCode}
}

func newStreamCompleteEvent(streamID uint64) Event {
	return Event{Type: EventStreamComplete, StreamID: streamID}
}
