package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// The error types below tell callers which stage of an exchange gave
// up: could not connect, connected but the peer violated framing,
// redirect policy refused to continue, or the body stream broke while
// being consumed.

type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string { return "connect " + e.URL + ": " + e.Err.Error() }
func (e *ConnectError) Unwrap() error { return e.Err }

// SendError reports a failure writing the request on a connection that
// was already established, as opposed to not reaching the peer at all.
type SendError struct {
	URL string
	Err error
}

func (e *SendError) Error() string { return "sending request to " + e.URL + ": " + e.Err.Error() }
func (e *SendError) Unwrap() error { return e.Err }

type ProtocolError struct {
	URL string
	Err error
}

func (e *ProtocolError) Error() string {
	return "protocol violation from " + e.URL + ": " + e.Err.Error()
}
func (e *ProtocolError) Unwrap() error { return e.Err }

type RedirectError struct {
	URL     string
	Hops    int
	Visited []string
	Reason  string
}

func (e *RedirectError) Error() string {
	return fmt.Sprintf("redirect aborted at %s after %d hops: %s", e.URL, e.Hops, e.Reason)
}

type BodyError struct {
	URL string
	Err error
}

func (e *BodyError) Error() string { return "reading body of " + e.URL + ": " + e.Err.Error() }
func (e *BodyError) Unwrap() error { return e.Err }

// TimeoutError names the stage of the exchange the deadline caught:
// establishing the connection, sending the request, waiting for the
// response, or streaming its body.
type TimeoutError struct {
	URL   string
	Phase string // "connect", "send", "response" or "body"
	Err   error
}

func (e *TimeoutError) Error() string { return e.Phase + " timeout on " + e.URL + ": " + e.Err.Error() }
func (e *TimeoutError) Unwrap() error { return e.Err }
func (e *TimeoutError) Timeout() bool { return true }

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isNetError(err error) bool {
	var ne net.Error
	return errors.As(err, &ne)
}

func connectError(url string, err error) error {
	if isTimeout(err) {
		return &TimeoutError{URL: url, Phase: "connect", Err: err}
	}
	return &ConnectError{URL: url, Err: err}
}

func sendError(url string, err error) error {
	if isTimeout(err) {
		return &TimeoutError{URL: url, Phase: "send", Err: err}
	}
	return &SendError{URL: url, Err: err}
}

func bodyError(url string, err error) error {
	if isTimeout(err) {
		return &TimeoutError{URL: url, Phase: "body", Err: err}
	}
	return &BodyError{URL: url, Err: err}
}
