package chunked

import (
	"fmt"
	"io"
	"net/http"
)

// NewChunkedWriter frames everything written to it as chunks on w. The
// terminating zero-length chunk is emitted by CloseWithTrailer, never by
// a Write.
func NewChunkedWriter(w io.Writer) *chunkedWriter {
	return &chunkedWriter{wire: w}
}

type chunkedWriter struct {
	wire io.Writer
}

func (cw *chunkedWriter) Write(data []byte) (n int, err error) {
	// a zero-length chunk would read as the terminator
	if len(data) == 0 {
		return 0, nil
	}
	if _, err = fmt.Fprintf(cw.wire, "%x\r\n", len(data)); err != nil {
		return 0, err
	}
	if n, err = cw.wire.Write(data); err != nil {
		return
	}
	if n != len(data) {
		return n, io.ErrShortWrite
	}
	if _, err = io.WriteString(cw.wire, "\r\n"); err != nil {
		return
	}
	if f, ok := cw.wire.(interface{ Flush() error }); ok {
		err = f.Flush()
	}
	return
}

// CloseWithTrailer ends the body with the last-chunk line followed by
// the trailer section, which may be empty.
func (cw *chunkedWriter) CloseWithTrailer(trailer http.Header) error {
	if _, err := io.WriteString(cw.wire, "0\r\n"); err != nil {
		return err
	}
	if err := trailer.Write(cw.wire); err != nil {
		return err
	}
	_, err := io.WriteString(cw.wire, "\r\n")
	return err
}
