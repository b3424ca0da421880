//go:build darwin || linux
// +build darwin linux

package nettools

import (
	"golang.org/x/sys/unix"
)

func probeFD(fd int) bool {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, 0) // zero timeout, never blocks
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return true // can't tell, let the first use decide
		}
		if n == 0 {
			return true
		}
		return fds[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) == 0
	}
}
