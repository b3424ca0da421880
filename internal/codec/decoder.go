// package codec turns raw response bodies into decoded byte streams
// driven by the Content-Encoding header. Decoders are attached lazily:
// nothing is read from the wire, and no decompressor state is built,
// until the caller pulls the first chunk. A truncated or corrupt stream
// therefore fails at the read that hits it, never at attach time.
package codec

import (
	"bufio"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// AcceptEncoding is what a request advertises when the caller didn't
// pick encodings themselves.
const AcceptEncoding = "gzip, deflate, br"

// ParseEncodings splits a Content-Encoding header value list into
// normalized tokens, in declaration order.
func ParseEncodings(values []string) []string {
	var out []string
	for _, v := range values {
		for _, tok := range strings.Split(v, ",") {
			tok = strings.ToLower(strings.TrimSpace(tok))
			if tok != "" {
				out = append(out, tok)
			}
		}
	}
	return out
}

// Decode wraps r with one decoder per declared encoding, applied in
// reverse order of declaration (the last encoding applied by the server
// is undone first). Unsupported encodings make Decode give the body
// back untouched with ok == false so callers can leave the headers
// alone and let the user deal with the bytes.
func Decode(r io.Reader, encodings []string) (_ io.Reader, ok bool) {
	for _, enc := range encodings {
		switch enc {
		case "identity", "gzip", "x-gzip", "deflate", "br":
		default:
			return r, false
		}
	}
	for i := len(encodings) - 1; i >= 0; i-- {
		r = decoder(encodings[i], r)
	}
	return r, true
}

func decoder(encoding string, r io.Reader) io.Reader {
	switch encoding {
	case "gzip", "x-gzip":
		return &lazyReader{init: func() (io.Reader, error) {
			return gzip.NewReader(r)
		}}
	case "deflate":
		// servers disagree on whether "deflate" means a zlib stream
		// (RFC9110) or a bare deflate stream (historical IIS), sniff
		// the zlib header byte to accept both
		return &lazyReader{init: func() (io.Reader, error) {
			br := bufio.NewReader(r)
			head, err := br.Peek(1)
			if err != nil {
				return nil, err
			}
			if head[0]&0x0f == 0x08 {
				return zlib.NewReader(br)
			}
			return flate.NewReader(br), nil
		}}
	case "br":
		return brotli.NewReader(r)
	default: // identity
		return r
	}
}

// lazyReader defers decoder construction to the first Read, since
// building one usually consumes the stream header and that must not
// happen before the caller asks for bytes.
type lazyReader struct {
	init func() (io.Reader, error)
	r    io.Reader
	err  error
}

func (l *lazyReader) Read(p []byte) (int, error) {
	if l.err != nil {
		return 0, l.err
	}
	if l.r == nil {
		r, err := l.init()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			l.err = err
			return 0, err
		}
		l.r = r
	}
	return l.r.Read(p)
}
