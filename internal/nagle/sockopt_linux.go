//go:build linux

package nagle

import (
	"net"

	"golang.org/x/sys/unix"
)

func setQuickAck(conn *net.TCPConn, on bool) error {
	v := 0
	if on {
		v = 1
	}
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_QUICKACK, v)
	}); err != nil {
		return err
	}
	return sockErr
}
