package netpool

import (
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Logger receives connection-level I/O errors observed while a pooled
// connection is in use. Discarded by default.
var Logger = zerolog.Nop()

type Conn interface {
	io.ReadWriteCloser
	// Release hands the connection back for reuse. Connections that saw
	// an error close themselves and are silently dropped instead.
	Release() error
	// Reused reports whether the connection served an earlier exchange.
	Reused() bool
	// Deadlines reach the underlying socket, so a request deadline can
	// sever a blocked read or write mid-exchange.
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

type conn struct {
	conn     net.Conn
	p        *Pool
	isClosed atomic.Bool
	lastIdle time.Time
	reused   bool
}

func (c *conn) Available() bool {
	return !c.isClosed.Load()
}

func (c *conn) Reused() bool {
	return c.reused
}

func (c *conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *conn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

func (c *conn) Write(p []byte) (n int, err error) {
	n, err = c.conn.Write(p)
	if err != nil {
		if err != io.EOF {
			Logger.Debug().Err(err).Msg("netpool: error on write")
		}
		c.Close()
	}
	return
}

func (c *conn) Read(p []byte) (n int, err error) {
	n, err = c.conn.Read(p)
	if err != nil {
		if err != io.EOF {
			Logger.Debug().Err(err).Msg("netpool: error on read")
		}
		c.Close()
	}
	return
}

// Close tears the connection down. The capacity ticket is given back
// exactly once no matter how many paths end up here.
func (c *conn) Close() error {
	if !c.isClosed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.conn.Close()
	c.p.freeTicket()
	return err
}

func (c *conn) Release() error {
	if c.isClosed.Load() {
		return nil
	}
	// leftover request deadlines must not poison the next exchange
	c.conn.SetReadDeadline(time.Time{})
	c.conn.SetWriteDeadline(time.Time{})
	c.p.release(c)
	return nil
}
