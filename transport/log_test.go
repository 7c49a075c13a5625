package transport

import (
	"testing"
	"time"
)

func TestLogFrame(t *testing.T) {
	cases := []struct {
		name   string
		frame  frame
		expect string
	}{
		{"padding", newPaddingFrame(1), "frame_type=padding"},
		{"ping", &pingFrame{}, "frame_type=ping"},
		{
			"ack",
			&ackFrame{largestAck: 1, ackDelay: 2, firstAckRange: 3},
			"frame_type=ack ack_delay=2",
		},
		{
			"reset_stream",
			newResetStreamFrame(1, 2, 3),
			"frame_type=reset_stream stream_id=1 error_code=2 final_size=3",
		},
		{
			"stop_sending",
			newStopSendingFrame(1, 2),
			"frame_type=stop_sending stream_id=1 error_code=2",
		},
		{
			"crypto",
			newCryptoFrame(make([]byte, 5), 1),
			"frame_type=crypto offset=1 length=5",
		},
		{
			"new_token",
			newNewTokenFrame(make([]byte, 4)),
			"frame_type=new_token token=00000000",
		},
		{
			"stream",
			newStreamFrame(2, make([]byte, 4), 3, true),
			"frame_type=stream stream_id=2 offset=3 length=4 fin=true",
		},
		{
			"max_data",
			newMaxDataFrame(1),
			"frame_type=max_data maximum=1",
		},
		{
			"max_stream_data",
			newMaxStreamDataFrame(1, 2),
			"frame_type=max_stream_data stream_id=1 maximum=2",
		},
		{
			"max_streams_uni",
			newMaxStreamsFrame(1, false),
			"frame_type=max_streams stream_type=unidirectional maximum=1",
		},
		{
			"max_streams_bidi",
			newMaxStreamsFrame(2, true),
			"frame_type=max_streams stream_type=bidirectional maximum=2",
		},
		{
			"data_blocked",
			newDataBlockedFrame(1),
			"frame_type=data_blocked limit=1",
		},
		{
			"stream_data_blocked",
			newStreamDataBlockedFrame(1, 2),
			"frame_type=stream_data_blocked stream_id=1 limit=2",
		},
		{
			"streams_blocked_uni",
			newStreamsBlockedFrame(1, false),
			"frame_type=streams_blocked stream_type=unidirectional limit=1",
		},
		{
			"streams_blocked_bidi",
			newStreamsBlockedFrame(2, true),
			"frame_type=streams_blocked stream_type=bidirectional limit=2",
		},
		{
			"connection_close",
			newConnectionCloseFrame(0x122, 99, []byte("reason"), false),
			"frame_type=connection_close error_space=transport error_code=crypto_error_34 raw_error_code=290 reason=reason trigger_frame_type=99",
		},
		{
			"handshake_done",
			&handshakeDoneFrame{},
			"frame_type=handshake_done",
		},
	}

	tm := time.Date(2020, time.January, 5, 2, 3, 4, 5, time.UTC)
	want := func(fields string) string {
		return "2020-01-05T02:03:04Z frames_processed " + fields
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newLogEventFrame(tm, logEventFramesProcessed, tc.frame)
			if actual := e.String(); actual != want(tc.expect) {
				t.Fatalf("\nexpect %v\nactual %v", want(tc.expect), actual)
			}
		})
	}
}

func TestLogEventPacketIncludesOnlyPresentFields(t *testing.T) {
	tm := time.Date(2020, time.January, 5, 2, 3, 4, 5, time.UTC)
	p := &packet{typ: packetTypeShort, packetNumber: 7}
	e := newLogEventPacket(tm, logEventPacketSent, p)
	expect := "2020-01-05T02:03:04Z packet_sent packet_type=1RTT packet_number=7"
	if actual := e.String(); actual != expect {
		t.Fatalf("\nexpect %v\nactual %v", expect, actual)
	}
}
