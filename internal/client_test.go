package internal_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaelin/go-httpc/internal"
	"github.com/vaelin/go-httpc/internal/http"
)

const emptyOK = "HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"

func newClient(responses ...string) (*internal.Client, *scriptDialer) {
	d := &scriptDialer{responses: responses}
	c := &internal.Client{}
	c.UseDialer(func(http.Dialer) http.Dialer { return d })
	return c, d
}

func TestRequestSerialize(t *testing.T) {
	cases := map[string]struct {
		req    *http.Request
		target string
	}{
		"BasicRequest": {
			req:    &http.Request{Method: "GET", URL: "http://www.example.com"},
			target: "/",
		},
		"QueryNonStandard": {
			req:    &http.Request{Method: "GET", URL: "http://www.example.com/test?1=33=1"},
			target: "/test?1=33=1",
		},
		"URIFragmentNotIncluded": {
			req:    &http.Request{Method: "GET", URL: "http://www.example.com/?test=1#frag"},
			target: "/?test=1",
		},
	}
	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			c, d := newClient(emptyOK)
			resp, err := c.CtxDo(context.Background(), tc.req)
			require.NoError(t, err)
			resp.Body.Close()

			sent := parseSent(t, d.conns[0])
			assert.Equal(t, "GET", sent.Method)
			assert.Equal(t, tc.target, sent.Target)
			assert.Equal(t, "www.example.com", sent.Header.Get("Host"))
			assert.NotEmpty(t, sent.Header.Get("User-Agent"))
			assert.Equal(t, "gzip, deflate, br", sent.Header.Get("Accept-Encoding"))
		})
	}
}

func TestRequestBodyContentLength(t *testing.T) {
	c, d := newClient(emptyOK)
	resp, err := c.CtxDo(context.Background(), &http.Request{
		Method: "POST",
		URL:    "http://www.example.com/submit",
		Body:   "Hello",
	})
	require.NoError(t, err)
	resp.Body.Close()

	sent := parseSent(t, d.conns[0])
	assert.Equal(t, "5", sent.Header.Get("Content-Length"))
	assert.Equal(t, "Hello", sent.Body)
}

// The documented happy path: a relative redirect is followed, the
// Set-Cookie on the final response lands in the jar and the gzip body
// comes back decoded.
func TestFollowRedirectWithCookieAndGzip(t *testing.T) {
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, err := zw.Write([]byte("hello from next"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	c, d := newClient(
		"HTTP/1.1 302 Found\r\nLocation: /next\r\nContent-Length: 0\r\n\r\n",
		fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Encoding: gzip\r\nSet-Cookie: id=42; Path=/\r\nContent-Length: %d\r\n\r\n%s",
			gz.Len(), gz.String()),
	)
	resp, err := c.CtxDo(context.Background(), &http.Request{Method: "GET", URL: "http://a.test/start"})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "http://a.test/next", resp.U.String())
	assert.Empty(t, resp.Header.Get("Content-Encoding"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello from next", string(body))

	second := parseSent(t, d.conns[1])
	assert.Equal(t, "/next", second.Target)

	u, _ := url.Parse("http://a.test/whatever")
	assert.Equal(t, "id=42", c.Jar().CookiesFor(u))
}

func TestRedirectDowngradesToGet(t *testing.T) {
	for _, code := range []int{301, 302, 303} {
		code := code
		t.Run(fmt.Sprint(code), func(t *testing.T) {
			c, d := newClient(
				fmt.Sprintf("HTTP/1.1 %d Moved\r\nLocation: /dst\r\nContent-Length: 0\r\n\r\n", code),
				emptyOK,
			)
			resp, err := c.CtxDo(context.Background(), &http.Request{
				Method: "POST",
				URL:    "http://a.test/form",
				Body:   "Hello",
			})
			require.NoError(t, err)
			resp.Body.Close()

			second := parseSent(t, d.conns[1])
			assert.Equal(t, "GET", second.Method)
			assert.Equal(t, "/dst", second.Target)
			assert.Empty(t, second.Body)
			assert.Empty(t, second.Header.Get("Content-Length"))
		})
	}
}

func TestRedirectPreservesMethodAndBody(t *testing.T) {
	for _, code := range []int{307, 308} {
		code := code
		t.Run(fmt.Sprint(code), func(t *testing.T) {
			c, d := newClient(
				fmt.Sprintf("HTTP/1.1 %d Redirect\r\nLocation: /dst\r\nContent-Length: 0\r\n\r\n", code),
				emptyOK,
			)
			resp, err := c.CtxDo(context.Background(), &http.Request{
				Method: "POST",
				URL:    "http://a.test/form",
				Body:   "Hello",
			})
			require.NoError(t, err)
			resp.Body.Close()

			second := parseSent(t, d.conns[1])
			assert.Equal(t, "POST", second.Method)
			assert.Equal(t, "5", second.Header.Get("Content-Length"))
			assert.Equal(t, "Hello", second.Body)
		})
	}
}

func TestRedirectLoopDetected(t *testing.T) {
	c, _ := newClient(
		"HTTP/1.1 302 Found\r\nLocation: /a\r\nContent-Length: 0\r\n\r\n",
		"HTTP/1.1 302 Found\r\nLocation: /start\r\nContent-Length: 0\r\n\r\n",
	)
	_, err := c.CtxDo(context.Background(), &http.Request{Method: "GET", URL: "http://a.test/start"})
	var re *internal.RedirectError
	require.ErrorAs(t, err, &re)
	assert.Contains(t, re.Reason, "loop")
	assert.Len(t, re.Visited, 2)
}

func TestTooManyRedirects(t *testing.T) {
	responses := make([]string, 4)
	for i := range responses {
		responses[i] = fmt.Sprintf("HTTP/1.1 302 Found\r\nLocation: /hop%d\r\nContent-Length: 0\r\n\r\n", i)
	}
	c, _ := newClient(responses...)
	c.Redirect = internal.RedirectPolicy{MaxHops: 2}
	_, err := c.CtxDo(context.Background(), &http.Request{Method: "GET", URL: "http://a.test/start"})
	var re *internal.RedirectError
	require.ErrorAs(t, err, &re)
	assert.Contains(t, re.Reason, "too many")
	assert.Equal(t, 2, re.Hops)
}

func TestRedirectDisabled(t *testing.T) {
	c, _ := newClient("HTTP/1.1 302 Found\r\nLocation: /next\r\nContent-Length: 0\r\n\r\n")
	c.Redirect = internal.RedirectPolicy{Disabled: true}
	resp, err := c.CtxDo(context.Background(), &http.Request{Method: "GET", URL: "http://a.test/start"})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 302, resp.StatusCode)
	assert.Equal(t, "/next", resp.Header.Get("Location"))
}

func TestCrossHostRedirectStripsCredentials(t *testing.T) {
	c, d := newClient(
		"HTTP/1.1 302 Found\r\nLocation: http://b.test/dst\r\nContent-Length: 0\r\n\r\n",
		emptyOK,
	)
	resp, err := c.CtxDo(context.Background(), &http.Request{
		Method: "GET",
		URL:    "http://a.test/start",
		Header: http.Header{
			"Authorization": {"Bearer token"},
			"Cookie":        {"manual=1"},
		},
	})
	require.NoError(t, err)
	resp.Body.Close()

	first := parseSent(t, d.conns[0])
	assert.Equal(t, "Bearer token", first.Header.Get("Authorization"))

	second := parseSent(t, d.conns[1])
	assert.Empty(t, second.Header.Get("Authorization"))
	assert.Empty(t, second.Header.Get("Cookie"))
}

func TestSameHostRedirectKeepsAuthorization(t *testing.T) {
	c, d := newClient(
		"HTTP/1.1 302 Found\r\nLocation: /dst\r\nContent-Length: 0\r\n\r\n",
		emptyOK,
	)
	resp, err := c.CtxDo(context.Background(), &http.Request{
		Method: "GET",
		URL:    "http://a.test/start",
		Header: http.Header{"Authorization": {"Bearer token"}},
	})
	require.NoError(t, err)
	resp.Body.Close()

	second := parseSent(t, d.conns[1])
	assert.Equal(t, "Bearer token", second.Header.Get("Authorization"))
}

func TestUnreplayableBodyFailsRedirect(t *testing.T) {
	c, _ := newClient(
		"HTTP/1.1 307 Redirect\r\nLocation: /dst\r\nContent-Length: 0\r\n\r\n",
		emptyOK,
	)
	_, err := c.CtxDo(context.Background(), &http.Request{
		Method: "POST",
		URL:    "http://a.test/upload",
		Body:   struct{ io.Reader }{strings.NewReader("stream")},
	})
	var re *internal.RedirectError
	require.ErrorAs(t, err, &re)
	assert.Contains(t, re.Reason, "replay")
}

func TestJarCookieSentOnNextHop(t *testing.T) {
	c, d := newClient(
		"HTTP/1.1 302 Found\r\nLocation: /next\r\nSet-Cookie: sid=1; Path=/\r\nContent-Length: 0\r\n\r\n",
		emptyOK,
	)
	resp, err := c.CtxDo(context.Background(), &http.Request{Method: "GET", URL: "http://a.test/start"})
	require.NoError(t, err)
	resp.Body.Close()

	second := parseSent(t, d.conns[1])
	assert.Equal(t, "sid=1", second.Header.Get("Cookie"))
}

func TestManualCookieTakesPrecedence(t *testing.T) {
	c, d := newClient(emptyOK)
	u, _ := url.Parse("http://a.test/")
	c.Jar().Ingest(u, []string{"sid=fromjar; Path=/", "other=2; Path=/"})

	resp, err := c.CtxDo(context.Background(), &http.Request{
		Method: "GET",
		URL:    "http://a.test/",
		Header: http.Header{"Cookie": {"sid=manual"}},
	})
	require.NoError(t, err)
	resp.Body.Close()

	sent := parseSent(t, d.conns[0])
	cookie := sent.Header.Get("Cookie")
	assert.Contains(t, cookie, "sid=manual")
	assert.Contains(t, cookie, "other=2")
	assert.NotContains(t, cookie, "fromjar")
}

func TestTruncatedGzipErrorsAtRead(t *testing.T) {
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, err := zw.Write(bytes.Repeat([]byte("payload "), 512))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	truncated := gz.Bytes()[:gz.Len()/2]

	c, _ := newClient(fmt.Sprintf(
		"HTTP/1.1 200 OK\r\nContent-Encoding: gzip\r\nContent-Length: %d\r\n\r\n%s",
		len(truncated), truncated,
	))
	resp, err := c.CtxDo(context.Background(), &http.Request{Method: "GET", URL: "http://a.test/blob"})
	require.NoError(t, err) // decode failures must not surface before the body is pulled
	defer resp.Body.Close()

	_, err = io.ReadAll(resp.Body)
	var be *internal.BodyError
	require.ErrorAs(t, err, &be)
}

func TestMalformedStatusLineIsProtocolError(t *testing.T) {
	c, _ := newClient("FTP/1.1 whatever\r\n\r\n")
	_, err := c.CtxDo(context.Background(), &http.Request{Method: "GET", URL: "http://a.test/"})
	var pe *internal.ProtocolError
	require.ErrorAs(t, err, &pe)
}

func TestDialFailureIsConnectError(t *testing.T) {
	c, _ := newClient() // no scripted responses, dial fails
	_, err := c.CtxDo(context.Background(), &http.Request{Method: "GET", URL: "http://a.test/"})
	var ce *internal.ConnectError
	require.ErrorAs(t, err, &ce)
}

var errWriteRefused = errors.New("write refused")

// brokenPipeDialer connects fine but every write on the connection fails.
type brokenPipeDialer struct{}

func (d *brokenPipeDialer) Dial(ctx context.Context, r *http.PreparedRequest) (io.ReadWriteCloser, error) {
	return brokenPipeConn{}, nil
}
func (d *brokenPipeDialer) Unwrap() http.Dialer { return nil }

type brokenPipeConn struct{}

func (brokenPipeConn) Read(p []byte) (int, error)  { return 0, io.ErrClosedPipe }
func (brokenPipeConn) Write(p []byte) (int, error) { return 0, errWriteRefused }
func (brokenPipeConn) Close() error                { return nil }

func TestSendFailureIsSendError(t *testing.T) {
	c := &internal.Client{}
	c.UseDialer(func(http.Dialer) http.Dialer { return &brokenPipeDialer{} })
	_, err := c.CtxDo(context.Background(), &http.Request{Method: "GET", URL: "http://a.test/"})
	var se *internal.SendError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, errWriteRefused)
}
