package transport

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// TransportError is a QUIC transport error code.
// https://quicwg.org/base-drafts/draft-ietf-quic-transport.html#name-transport-error-codes
type TransportError uint64

// Transport error codes.
const (
	NoError TransportError = iota
	InternalError
	ConnectionRefused
	FlowControlError
	StreamLimitError
	StreamStateError
	FinalSizeError
	FrameEncodingError
	TransportParameterError
	ConnectionIDLimitError
	ProtocolViolation
	InvalidToken
	ApplicationError
	CryptoBufferExceeded
	KeyUpdateError
	AEADLimitReached
)

// CryptoError wraps a TLS alert into the transport error space, with the
// alert carried in the low byte as described in the transport draft.
func CryptoError(alert uint8) TransportError {
	return TransportError(0x100 + uint64(alert))
}

func (e TransportError) String() string {
	return errorCodeString(uint64(e))
}

func errorCodeString(code uint64) string {
	switch TransportError(code) {
	case NoError:
		return "no_error"
	case InternalError:
		return "internal_error"
	case ConnectionRefused:
		return "connection_refused"
	case FlowControlError:
		return "flow_control_error"
	case StreamLimitError:
		return "stream_limit_error"
	case StreamStateError:
		return "stream_state_error"
	case FinalSizeError:
		return "final_size_error"
	case FrameEncodingError:
		return "frame_encoding_error"
	case TransportParameterError:
		return "transport_parameter_error"
	case ConnectionIDLimitError:
		return "connection_id_limit_error"
	case ProtocolViolation:
		return "protocol_violation"
	case InvalidToken:
		return "invalid_token"
	case ApplicationError:
		return "application_error"
	case CryptoBufferExceeded:
		return "crypto_buffer_exceeded"
	case KeyUpdateError:
		return "key_update_error"
	case AEADLimitReached:
		return "aead_limit_reached"
	}
	if code >= 0x100 && code < 0x200 {
		return fmt.Sprintf("crypto_error_%d", code-0x100)
	}
	return fmt.Sprintf("unknown_error_%d", code)
}

// transportError is the internal error type flowing through the pipeline.
// It always carries a TransportError code so the state machine can decide
// whether to drop the packet silently or emit CONNECTION_CLOSE.
type transportError struct {
	code  TransportError
	msg   string
	cause error
}

func (e *transportError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.msg)
}

func (e *transportError) Unwrap() error {
	return e.cause
}

func newError(code TransportError, msg string) error {
	return &transportError{code: code, msg: msg}
}

// wrapError attaches a TransportError code to an internal cause, preserving
// the original error (wrapped with a stack trace by pkg/errors) behind
// Unwrap, so callers can still reach it with errors.Is/errors.As.
func wrapError(code TransportError, msg string, cause error) error {
	return &transportError{code: code, msg: msg, cause: pkgerrors.Wrap(cause, msg)}
}

// Code extracts the TransportError carried by err, defaulting to
// InternalError for errors that did not originate from this package.
func Code(err error) TransportError {
	var te *transportError
	if errors.As(err, &te) {
		return te.code
	}
	return InternalError
}

var (
	errInvalidToken = newError(InvalidToken, "invalid retry token")
	errFlowControl  = newError(FlowControlError, "flow control violation")
	errShortBuffer  = newError(InternalError, "short buffer")
	errDone         = errors.New("transport: done")
)
