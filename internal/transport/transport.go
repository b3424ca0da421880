package transport

import (
	"context"
	"io"

	"github.com/vaelin/go-httpc/internal/http"
)

type Transport interface {
	Write(ctx context.Context, w io.Writer, req *http.PreparedRequest) error
	Read(ctx context.Context, r io.Reader, req *http.PreparedRequest, resp *http.Response) error
}

// Releaser is implemented by pooled connections that can be handed back
// for reuse instead of being torn down.
type Releaser interface {
	Release() error
}
