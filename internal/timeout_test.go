package internal_test

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaelin/go-httpc/internal"
	"github.com/vaelin/go-httpc/internal/dialer"
	"github.com/vaelin/go-httpc/internal/http"
	"github.com/vaelin/go-httpc/utils/netpool"
)

// newCoreClient builds a client on a real CoreDialer with its own pool,
// for tests that need actual sockets.
func newCoreClient() *internal.Client {
	c := &internal.Client{}
	c.UseDialer(func(http.Dialer) http.Dialer {
		return &dialer.CoreDialer{ConnPool: netpool.NewGroup(4, 4, time.Minute)}
	})
	return c
}

// stalledServer accepts one connection, optionally writes a canned
// prefix, then holds the connection open without ever finishing the
// response.
func stalledServer(t *testing.T, prefix string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if prefix != "" {
			conn.Write([]byte(prefix))
		}
		buf := make([]byte, 1024)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()
	return ln.Addr().String()
}

func TestTimeoutFiresAwaitingResponse(t *testing.T) {
	addr := stalledServer(t, "")
	c := newCoreClient()
	c.Timeout = 150 * time.Millisecond

	start := time.Now()
	_, err := c.CtxDo(context.Background(), &http.Request{Method: "GET", URL: "http://" + addr + "/"})
	var te *internal.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "response", te.Phase)
	assert.True(t, te.Timeout())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestTimeoutFiresMidBody(t *testing.T) {
	addr := stalledServer(t, "HTTP/1.1 200 OK\r\nContent-Length: 64\r\n\r\npartial")
	c := newCoreClient()
	c.Timeout = 150 * time.Millisecond

	resp, err := c.CtxDo(context.Background(), &http.Request{Method: "GET", URL: "http://" + addr + "/"})
	require.NoError(t, err)
	defer resp.Body.Close()

	start := time.Now()
	_, err = io.ReadAll(resp.Body)
	var te *internal.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "body", te.Phase)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestCancelSeversBlockedRead(t *testing.T) {
	addr := stalledServer(t, "")
	c := newCoreClient()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, err := c.CtxDo(ctx, &http.Request{Method: "GET", URL: "http://" + addr + "/"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestCallerDeadlineAppliesWithoutClientTimeout(t *testing.T) {
	addr := stalledServer(t, "")
	c := newCoreClient()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err := c.CtxDo(ctx, &http.Request{Method: "GET", URL: "http://" + addr + "/"})
	var te *internal.TimeoutError
	require.ErrorAs(t, err, &te)
}
