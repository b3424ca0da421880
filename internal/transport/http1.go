package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	stdhttp "net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/vaelin/go-httpc/internal/http"
	"github.com/vaelin/go-httpc/internal/transport/chunked"
)

// HTTP1 frames requests and responses as defined by RFC9112.
type HTTP1 struct{}

func (t HTTP1) Write(ctx context.Context, w io.Writer, r *http.PreparedRequest) error {
	if c, ok := w.(writeDeadliner); ok {
		if dl, ok := ctx.Deadline(); ok {
			c.SetWriteDeadline(dl)
			defer c.SetWriteDeadline(noDeadline)
		}
	}
	body, err := r.GetBody() // can write body
	if err != nil {
		return err
	}
	if body != nil {
		defer body.Close() // request body is ALWAYS closed
	}

	chunking := r.ContentLength == -1 && body != nil && body != http.NoBody
	if err := t.writeHeader(w, r, chunking); err != nil {
		return err
	}
	if body == nil || body == http.NoBody {
		return nil
	}
	if chunking {
		cw := chunked.NewChunkedWriter(w)
		if _, err := io.Copy(cw, body); err != nil {
			return err
		}
		return cw.CloseWithTrailer(nil)
	}
	if _, err := io.Copy(w, body); err != nil {
		return err
	}
	return nil
}

// writeHeader writes the status and header part of an http 1.1 request
// e.g.:
//
//	GET / HTTP/1.1\r\n
//	Host: www.google.com\r\n
//	X-Xx-Yy: cccccc\r\n
//	\r\n
func (t HTTP1) writeHeader(w io.Writer, r *http.PreparedRequest, chunking bool) error {
	header := bufio.NewWriter(w) // default bufsize is 4096

	if _, err := header.WriteString(r.Method); err != nil {
		return err
	}
	header.WriteByte(' ')
	if r.AbsoluteURI {
		u := *r.U
		u.Fragment = ""
		header.WriteString(u.String())
	} else {
		header.WriteString(r.U.RequestURI())
	}
	header.WriteString(" HTTP/1.1\r\n")

	header.WriteString("Host: ")
	header.WriteString(r.HeaderHost)
	header.WriteString("\r\n")
	if r.ContentLength != -1 {
		header.WriteString("Content-Length: ")
		header.WriteString(strconv.FormatInt(r.ContentLength, 10))
		header.WriteString("\r\n")
	} else if chunking {
		header.WriteString("Transfer-Encoding: chunked\r\n")
	}
	for k, v := range r.Header {
		for _, v := range v {
			header.WriteString(k)
			header.WriteString(": ")
			header.WriteString(v)
			if _, err := header.WriteString("\r\n"); err != nil {
				return err
			}
		}
	}
	if _, err := header.WriteString("\r\n"); err != nil {
		return err
	}
	return header.Flush()
}

func (t HTTP1) Read(ctx context.Context, r io.Reader, req *http.PreparedRequest, resp *http.Response) (err error) {
	if c, ok := r.(readDeadliner); ok {
		if dl, ok := ctx.Deadline(); ok {
			// left armed on return: the body keeps reading from this
			// connection, and release clears it
			c.SetReadDeadline(dl)
		}
	}
	tp := textproto.NewReader(bufio.NewReader(r))

	var mimeHeader textproto.MIMEHeader
	for {
		line, err := tp.ReadLine()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return err
		}
		proto, status, ok := strings.Cut(line, " ")
		if !ok || (proto != "HTTP/1.1" && proto != "HTTP/1.0") {
			return errors.New("malformed HTTP response " + strconv.Quote(line))
		}
		resp.Proto = proto
		resp.Status = strings.TrimLeft(status, " ")

		statusCode, _, _ := strings.Cut(resp.Status, " ")
		if len(statusCode) != 3 {
			return errors.New("malformed HTTP status code " + statusCode)
		}
		resp.StatusCode, err = strconv.Atoi(statusCode)
		if err != nil || resp.StatusCode < 0 {
			return errors.New("malformed HTTP status code")
		}

		mimeHeader, err = tp.ReadMIMEHeader()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return err
		}
		// 1xx responses other than 101 are interim, the final response follows
		if resp.StatusCode >= 200 || resp.StatusCode == 101 {
			break
		}
	}
	if hp, ok := mimeHeader["Pragma"]; ok && len(hp) > 0 && hp[0] == "no-cache" {
		if _, presentcc := mimeHeader["Cache-Control"]; !presentcc {
			mimeHeader["Cache-Control"] = []string{"no-cache"}
		}
	}
	resp.Header = stdhttp.Header(mimeHeader)

	return t.readTransfer(tp.R, r, req, resp)
}

func (t HTTP1) readTransfer(br *bufio.Reader, conn io.Reader, req *http.PreparedRequest, resp *http.Response) error {
	reusable := !shouldClose(resp)
	closing := &bodyEOF{conn: conn, reusable: reusable}

	if noResponseBody(req, resp) {
		// already at EOF, Close hands the connection back. CONNECT
		// tunnels stay open for as long as the body is not closed.
		closing.Reader = eofReader{}
		closing.sawEOF = true
		resp.Body = closing
		return nil
	}

	contentLens := resp.Header["Content-Length"]

	// Hardening against HTTP request smuggling, taken from standard library
	if len(contentLens) > 1 {
		// Per RFC 7230 Section 3.3.2
		first := textproto.TrimString(contentLens[0])
		for _, ct := range contentLens[1:] {
			if first != textproto.TrimString(ct) {
				return fmt.Errorf("http: message cannot contain multiple Content-Length headers; got %q", contentLens)
			}
		}

		// deduplicate Content-Length
		resp.Header.Del("Content-Length")
		resp.Header.Add("Content-Length", first)

		contentLens = resp.Header["Content-Length"]
	}

	cl := int64(-1)
	if len(contentLens) > 0 {
		// Logic based on Content-Length
		n, err := strconv.ParseUint(textproto.TrimString(contentLens[0]), 10, 63)
		if err != nil {
			return fmt.Errorf("http: bad Content-Length %q", contentLens[0])
		}
		cl = int64(n)
	}

	if strings.EqualFold(resp.Header.Get("Transfer-Encoding"), "chunked") {
		closing.Reader = chunked.NewChunkedReader(br)
		resp.Body = closing
		return nil
	}

	resp.ContentLength = cl
	switch {
	case cl > 0:
		closing.Reader = io.LimitReader(br, cl)
		resp.Body = closing
	case cl == 0:
		closing.Reader = eofReader{}
		closing.sawEOF = true
		resp.Body = closing
	default:
		// neither framed by length nor chunked, body runs until the
		// peer closes the connection
		closing.Reader = br
		closing.reusable = false
		resp.Body = closing
	}
	return nil
}

func noResponseBody(req *http.PreparedRequest, resp *http.Response) bool {
	if req != nil && req.Method == "HEAD" {
		return true
	}
	if req != nil && req.Method == "CONNECT" && resp.StatusCode/100 == 2 {
		return true
	}
	return resp.StatusCode/100 == 1 || resp.StatusCode == 204 || resp.StatusCode == 304
}

func shouldClose(resp *http.Response) bool {
	if resp.Proto == "HTTP/1.0" && !hasToken(resp.Header.Get("Connection"), "keep-alive") {
		return true
	}
	return hasToken(resp.Header.Get("Connection"), "close")
}

func hasToken(v, token string) bool {
	for _, f := range strings.Split(v, ",") {
		if strings.EqualFold(strings.TrimSpace(f), token) {
			return true
		}
	}
	return false
}

var noDeadline time.Time

// the deadline seam shared by raw connections and pooled ones
type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

// bodyEOF tracks whether the response body was consumed to its framing
// boundary. Only then may the underlying connection go back to the pool;
// anything short of that leaves unread bytes on the wire and the
// connection is torn down instead.
type bodyEOF struct {
	io.Reader
	conn     io.Reader
	reusable bool
	sawEOF   bool
	closed   bool
}

func (b *bodyEOF) Read(p []byte) (int, error) {
	if b.closed {
		return 0, stdhttp.ErrBodyReadAfterClose
	}
	n, err := b.Reader.Read(p)
	if err == io.EOF {
		b.sawEOF = true
	}
	return n, err
}

// drain limit when the caller closes the body early. Bounded so a huge
// unread body doesn't get downloaded just to save the connection.
const maxDrain = 8 << 10

func (b *bodyEOF) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if !b.sawEOF && b.reusable && b.Reader != nil {
		if n, err := io.CopyN(io.Discard, b.Reader, maxDrain); err == io.EOF {
			b.sawEOF = true
		} else if err != nil || n == maxDrain {
			b.reusable = false
		}
	}
	if b.sawEOF && b.reusable {
		if rel, ok := b.conn.(Releaser); ok {
			return rel.Release()
		}
	}
	if c, ok := b.conn.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
