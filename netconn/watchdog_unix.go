//go:build !windows

package netconn

import (
	"net"
	"syscall"
)

// probeAlive reports whether the OS still considers the socket
// connected, without consuming any application data: it peeks the
// socket's pending error state via getsockopt(SO_ERROR) rather than
// reading the stream.
func probeAlive(conn net.Conn) bool {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return true
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return true
	}
	alive := true
	_ = raw.Control(func(fd uintptr) {
		if soErr, serr := syscall.GetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_ERROR); serr != nil || soErr != 0 {
			alive = false
		}
	})
	return alive
}
