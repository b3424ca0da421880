package http

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// Dialers handle pretty much everything related to the actual connection,
// including setting a proxy for each request, setting resolvers, etc.
type Dialer interface {
	// Dial returns an abstract stream for writing the request and reading responses.
	// the implementation of this stream could be specific to protocols.
	Dial(ctx context.Context, r *PreparedRequest) (io.ReadWriteCloser, error)
	Unwrap() Dialer
}

type Request struct {
	Method string
	URL    string
	Body   interface{}
	Header http.Header
}

type Response struct {
	Proto      string
	Status     string
	StatusCode int
	Header     http.Header

	// U is the URL that actually produced this response, i.e. the
	// target of the last followed redirect.
	U *url.URL

	ContentLength int64
	Body          io.ReadCloser
}
