package internal

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/vaelin/go-httpc/internal/codec"
	"github.com/vaelin/go-httpc/internal/cookiejar"
	"github.com/vaelin/go-httpc/internal/dialer"
	"github.com/vaelin/go-httpc/internal/http"
	"github.com/vaelin/go-httpc/internal/transport"
)

type PreparedRequest = http.PreparedRequest

type Handler = func(ctx context.Context, req *PreparedRequest) (*http.Response, error)
type Middleware func(next Handler) Handler

const defaultUserAgent = "go-httpc/1.1"

// Client executes requests: proxy resolution, connection acquisition,
// redirects, cookies and body decoding all happen behind CtxDo. The
// zero value is usable and shares the default dialer's connection pool.
type Client struct {
	middlewares []Middleware
	dialer      http.Dialer

	// Redirect and Timeout may be set before the first request.
	Redirect RedirectPolicy
	Timeout  time.Duration

	jarOnce sync.Once
	jar     *cookiejar.Jar

	h1 transport.HTTP1
}

// Use appends mw to the end of the chain. The last "Use"d mw executes first
func (c *Client) Use(mws ...Middleware) {
	c.middlewares = append(c.middlewares, mws...)
}

// UseDialer replaces the dialer, handing the wrap function the one
// currently in effect.
func (c *Client) UseDialer(wrap func(http.Dialer) http.Dialer) {
	d := c.dialer
	if d == nil {
		d = dialer.Default
	}
	c.dialer = wrap(d)
}

// Jar exposes the client's cookie jar, creating it on first use.
func (c *Client) Jar() *cookiejar.Jar {
	c.jarOnce.Do(func() {
		if c.jar == nil {
			c.jar = cookiejar.New()
		}
	})
	return c.jar
}

func (c *Client) dial(ctx context.Context, req *PreparedRequest) (io.ReadWriteCloser, error) {
	if c.dialer != nil {
		return c.dialer.Dial(ctx, req)
	}
	return dialer.Default.Dial(ctx, req)
}

func (c *Client) CtxDo(ctx context.Context, req *http.Request) (*http.Response, error) {
	pr, err := req.Prepare()
	if err != nil {
		return nil, err
	}
	var cancel context.CancelFunc
	if c.Timeout > 0 {
		// the deadline covers the whole exchange, body included; the
		// timer is stopped when the caller closes the body
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
	}
	next := c.execute
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		next = c.middlewares[i](next)
	}
	resp, err := next(ctx, pr)
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, err
	}
	if cancel != nil {
		resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	}
	return resp, nil
}

// execute drives the redirect loop: send, ingest cookies, consult the
// redirect chain, follow or hand the response back with its decoder.
func (c *Client) execute(ctx context.Context, pr *PreparedRequest) (*http.Response, error) {
	chain := newRedirectChain(c.Redirect, pr.U)
	for {
		resp, err := c.roundTrip(ctx, pr)
		if err != nil {
			return nil, err
		}

		// exactly once per response, before following or returning
		c.Jar().Ingest(pr.U, resp.Header["Set-Cookie"])

		nextReq, err := chain.next(pr, resp)
		if err != nil {
			resp.Body.Close()
			return nil, err
		}
		if nextReq == nil {
			resp.U = pr.U
			c.attachDecoder(ctx, pr, resp)
			return resp, nil
		}

		// drains leftovers so the connection can be pooled for the next hop
		resp.Body.Close()

		if pr, err = nextReq.Prepare(); err != nil {
			return nil, err
		}
	}
}

// roundTrip performs one request/response exchange. A request that dies
// on a reused pooled connection is retried once against a fresh one,
// never more, and never when the body cannot be replayed.
func (c *Client) roundTrip(ctx context.Context, pr *PreparedRequest) (*http.Response, error) {
	c.applyHeaders(pr)

	for attempt := 0; ; attempt++ {
		conn, err := c.dial(ctx, pr)
		if err != nil {
			return nil, connectError(pr.URL, err)
		}
		reused := false
		if rc, ok := conn.(interface{ Reused() bool }); ok {
			reused = rc.Reused()
		}
		retriable := reused && pr.Replayable && attempt == 0

		// cancellation without a deadline can only sever a blocked read
		// or write by closing the connection under it
		stop := context.AfterFunc(ctx, func() { conn.Close() })

		if err := c.h1.Write(ctx, conn, pr); err != nil {
			stop()
			conn.Close()
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			if retriable && isConnDead(err) {
				continue
			}
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			return nil, sendError(pr.URL, err)
		}
		resp := &http.Response{}
		if err := c.h1.Read(ctx, conn, pr, resp); err != nil {
			stop()
			conn.Close()
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			if isTimeout(err) {
				return nil, &TimeoutError{URL: pr.URL, Phase: "response", Err: err}
			}
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			if isConnDead(err) {
				if retriable {
					continue
				}
				return nil, connectError(pr.URL, err)
			}
			return nil, &ProtocolError{URL: pr.URL, Err: err}
		}
		resp.Body = &watchBody{ReadCloser: resp.Body, stop: stop}
		return resp, nil
	}
}

// applyHeaders merges jar cookies into the outgoing header set and
// fills the defaults a server expects. Explicit caller headers always
// win over derived ones.
func (c *Client) applyHeaders(pr *PreparedRequest) {
	if pr.Header == nil {
		pr.Header = http.Header{}
	}
	if jarCookies := c.Jar().CookiesFor(pr.U); jarCookies != "" {
		if manual := pr.Header.Get("Cookie"); manual != "" {
			if merged := mergeCookieHeader(manual, jarCookies); merged != "" {
				pr.Header.Set("Cookie", manual+"; "+merged)
			}
		} else {
			pr.Header.Set("Cookie", jarCookies)
		}
	}
	if pr.Header.Get("Accept-Encoding") == "" && pr.Method != "HEAD" {
		pr.Header.Set("Accept-Encoding", codec.AcceptEncoding)
	}
	if pr.Header.Get("User-Agent") == "" {
		pr.Header.Set("User-Agent", defaultUserAgent)
	}
}

// mergeCookieHeader drops jar cookies shadowed by a manually set Cookie
// header, keeping the rest.
func mergeCookieHeader(manual, derived string) string {
	taken := map[string]bool{}
	for _, kv := range strings.Split(manual, ";") {
		name, _, _ := strings.Cut(strings.TrimSpace(kv), "=")
		taken[name] = true
	}
	var keep []string
	for _, kv := range strings.Split(derived, "; ") {
		name, _, _ := strings.Cut(kv, "=")
		if !taken[name] {
			keep = append(keep, kv)
		}
	}
	return strings.Join(keep, "; ")
}

// attachDecoder wraps the body with the decompressor chain declared by
// Content-Encoding. Read errors surface as *BodyError / *TimeoutError
// when the caller pulls the failing chunk.
func (c *Client) attachDecoder(ctx context.Context, pr *PreparedRequest, resp *http.Response) {
	body := io.Reader(resp.Body)
	encodings := codec.ParseEncodings(resp.Header["Content-Encoding"])
	if len(encodings) > 0 && resp.Body != http.NoBody {
		if decoded, ok := codec.Decode(resp.Body, encodings); ok {
			body = decoded
			resp.Header.Del("Content-Encoding")
			resp.Header.Del("Content-Length")
			resp.ContentLength = -1
		}
	}
	resp.Body = &checkedBody{ctx: ctx, r: body, c: resp.Body, url: pr.URL}
}

func isConnDead(err error) bool {
	if isTimeout(err) {
		return false
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || isNetError(err)
}

type checkedBody struct {
	ctx context.Context
	r   io.Reader
	c   io.Closer
	url string
}

func (b *checkedBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err != nil && err != io.EOF {
		// a read severed by the watcher reports the context's verdict,
		// not the incidental closed-connection error
		if cause := b.ctx.Err(); cause != nil {
			err = cause
		}
		err = bodyError(b.url, err)
	}
	return n, err
}

func (b *checkedBody) Close() error {
	return b.c.Close()
}

// watchBody keeps the context watcher alive while the body is consumed.
// The watcher is stopped before the connection can return to the pool,
// so a late cancellation never closes a connection serving someone else.
type watchBody struct {
	io.ReadCloser
	stop func() bool
}

func (b *watchBody) Close() error {
	b.stop()
	return b.ReadCloser.Close()
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
