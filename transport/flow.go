package transport

// flowControl is the credit-accounting hook described in spec.md §4.7.
// The algorithm deciding *when* to raise a limit is a placeholder (a
// simple "halfway consumed" heuristic); the hook shape — update on
// send/receive, surface a MAX_* frame when a threshold is crossed — is
// what the spec mandates.
type flowControl struct {
	maxRecv     uint64 // Limit we have told the peer about.
	maxRecvNext uint64 // Limit we intend to advertise next (raised as recvOffset grows).
	recvOffset  uint64 // Bytes received so far.

	maxSend  uint64 // Limit the peer has told us about.
	sendOffset uint64 // Bytes sent so far.
}

func (f *flowControl) init(maxRecv, maxSend uint64) {
	f.maxRecv = maxRecv
	f.maxRecvNext = maxRecv
	f.maxSend = maxSend
}

// canRecv returns how many more bytes may be received before the current
// advertised limit is violated.
func (f *flowControl) canRecv() uint64 {
	if f.recvOffset >= f.maxRecv {
		return 0
	}
	return f.maxRecv - f.recvOffset
}

// addRecv records n freshly received bytes and, once at least half of the
// current window has been consumed, schedules a higher limit to be sent.
func (f *flowControl) addRecv(n int) {
	f.recvOffset += uint64(n)
	if f.shouldUpdateMaxRecv() {
		f.maxRecvNext = f.recvOffset + f.maxRecv
	}
}

func (f *flowControl) shouldUpdateMaxRecv() bool {
	return f.recvOffset*2 >= f.maxRecv && f.maxRecvNext == f.maxRecv
}

// commitMaxRecv is called once a MAX_DATA/MAX_STREAM_DATA frame
// announcing maxRecvNext has actually been queued for sending.
func (f *flowControl) commitMaxRecv() {
	f.maxRecv = f.maxRecvNext
}

// canSend returns how many more bytes may be sent under the peer's limit.
func (f *flowControl) canSend() uint64 {
	if f.sendOffset >= f.maxSend {
		return 0
	}
	return f.maxSend - f.sendOffset
}

func (f *flowControl) addSend(n int) {
	f.sendOffset += uint64(n)
}

// setMaxSend installs a new peer-advertised limit; MAX_DATA/MAX_STREAM_DATA
// only ever raise the limit.
func (f *flowControl) setMaxSend(max uint64) {
	if max > f.maxSend {
		f.maxSend = max
	}
}
