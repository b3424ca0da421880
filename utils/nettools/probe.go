// package nettools pokes at the file descriptors beneath [net.Conn]
// values for the things the portable net API cannot express, currently
// a cheap "has the peer hung up on this idle connection" probe.
package nettools

import (
	"net"
	"syscall"
)

// Alive reports whether an *idle* connection is still usable. A healthy
// idle HTTP connection has nothing to read; pending readability means
// either an EOF from the peer or stray bytes that would desynchronize
// the next exchange, so both count as dead.
//
// When the descriptor cannot be probed (not a [syscall.Conn], platform
// without a poller) the connection is assumed alive and failures are
// left to surface on first use.
func Alive(c net.Conn) bool {
	rc := rawConn(c)
	if rc == nil {
		return true
	}
	alive := true
	if err := rc.Control(func(fd uintptr) {
		alive = probeFD(int(fd))
	}); err != nil {
		return true
	}
	return alive
}

func rawConn(raw net.Conn) syscall.RawConn {
	if t, ok := raw.(interface{ NetConn() net.Conn }); ok {
		// is *tls.Conn or polyfilled TLS Connection
		raw = t.NetConn()
	}
	if c, ok := raw.(syscall.Conn); ok {
		if c, err := c.SyscallConn(); err == nil {
			return c
		}
	}
	return nil
}
