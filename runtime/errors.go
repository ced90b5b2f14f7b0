package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/pithecene-io/conduit/accumulator"
	"github.com/pithecene-io/conduit/types"
	"github.com/pithecene-io/conduit/wire"
)

// ErrClosed is returned by Session operations after Close.
var ErrClosed = errors.New("session closed")

// TransportError is a failed request: a non-2xx response, a missing body
// or a network failure.
type TransportError struct {
	// StatusCode is the HTTP status, or 0 for network failures.
	StatusCode int
	// Body is the (truncated) response body for non-2xx responses.
	Body string
	// Err is the underlying network error, if any.
	Err error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("Status %d: %s", e.StatusCode, e.Body)
	case e.Err != nil:
		return "transport: " + e.Err.Error()
	default:
		return "transport: " + e.Body
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RunErrorKind classifies why a run failed.
type RunErrorKind int

const (
	// RunErrorTransport: the request failed or the stream broke.
	RunErrorTransport RunErrorKind = iota
	// RunErrorDecode: a frame could not be decoded.
	RunErrorDecode
	// RunErrorProtocol: a frame violated a protocol invariant.
	RunErrorProtocol
	// RunErrorRemote: the endpoint reported an error frame.
	RunErrorRemote
	// RunErrorCanceled: the run's cancellation token fired.
	RunErrorCanceled
)

// String returns the error_type recorded in run outcomes.
func (k RunErrorKind) String() string {
	switch k {
	case RunErrorTransport:
		return "transport"
	case RunErrorDecode:
		return "decode"
	case RunErrorProtocol:
		return "protocol"
	case RunErrorRemote:
		return "remote"
	case RunErrorCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// RunError classifies a run failure for outcome determination.
type RunError struct {
	// Kind is the failure class.
	Kind RunErrorKind
	// Err is the underlying error.
	Err error
}

func (e *RunError) Error() string {
	return e.Err.Error()
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// classifyRunError wraps err with its RunErrorKind. Errors already
// classified are returned unchanged.
func classifyRunError(err error) *RunError {
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr
	}
	kind := RunErrorTransport
	switch {
	case errors.Is(err, context.Canceled):
		kind = RunErrorCanceled
	case wire.IsFrameError(err):
		kind = RunErrorDecode
	case types.IsProtocolError(err):
		kind = RunErrorProtocol
	case accumulator.IsRemoteError(err):
		kind = RunErrorRemote
	}
	return &RunError{Kind: kind, Err: err}
}

func isKind(err error, kind RunErrorKind) bool {
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr.Kind == kind
	}
	return false
}

// IsTransportError returns true if the run failed in transport.
func IsTransportError(err error) bool { return isKind(err, RunErrorTransport) }

// IsDecodeError returns true if the run failed decoding a frame.
func IsDecodeError(err error) bool { return isKind(err, RunErrorDecode) }

// IsProtocolError returns true if the run failed on a protocol violation.
func IsProtocolError(err error) bool { return isKind(err, RunErrorProtocol) }

// IsRemoteError returns true if the endpoint reported an error.
func IsRemoteError(err error) bool { return isKind(err, RunErrorRemote) }

// IsCanceledError returns true if the run was cancelled.
func IsCanceledError(err error) bool { return isKind(err, RunErrorCanceled) }
