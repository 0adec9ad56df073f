//go:build !linux

package nagle

import "net"

// setQuickAck is a no-op where TCP_QUICKACK does not exist.
func setQuickAck(*net.TCPConn, bool) error {
	return nil
}
