package internal_test

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/vaelin/go-httpc/internal/http"
)

// scriptConn replays one canned response and records what was written
// to it.
type scriptConn struct {
	io.Reader
	wrote  bytes.Buffer
	closed bool
}

func (c *scriptConn) Write(p []byte) (int, error) { return c.wrote.Write(p) }
func (c *scriptConn) Close() error                { c.closed = true; return nil }

// scriptDialer hands out one scripted connection per dial, in order.
type scriptDialer struct {
	mu        sync.Mutex
	responses []string
	conns     []*scriptConn
}

func (d *scriptDialer) Dial(ctx context.Context, r *http.PreparedRequest) (io.ReadWriteCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) >= len(d.responses) {
		return nil, io.ErrClosedPipe
	}
	c := &scriptConn{Reader: strings.NewReader(d.responses[len(d.conns)])}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *scriptDialer) Unwrap() http.Dialer { return nil }

type sentRequest struct {
	Method, Target string
	Header         http.Header
	Body           string
}

// parseSent decodes the raw bytes a scriptConn captured back into a
// request for assertions.
func parseSent(t *testing.T, c *scriptConn) sentRequest {
	t.Helper()
	tp := textproto.NewReader(bufio.NewReader(bytes.NewReader(c.wrote.Bytes())))
	line, err := tp.ReadLine()
	if err != nil {
		t.Fatalf("reading request line: %v", err)
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		t.Fatalf("malformed request line %q", line)
	}
	mh, err := tp.ReadMIMEHeader()
	if err != nil {
		t.Fatalf("reading request headers: %v", err)
	}
	body, _ := io.ReadAll(tp.R)
	return sentRequest{
		Method: parts[0], Target: parts[1],
		Header: http.Header(mh), Body: string(body),
	}
}
