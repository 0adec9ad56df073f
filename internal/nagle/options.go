// Package nagle measures how Nagle's algorithm and delayed ACKs shape a
// slow, small-chunk TCP transfer.
package nagle

import (
	"fmt"
	"net"
)

// Options selects which of the two mechanisms stay enabled.
type Options struct {
	Nagle      bool
	DelayedAck bool
}

func (o Options) String() string {
	return fmt.Sprintf("Nagle=%s, DelayedACK=%s", onOff(o.Nagle), onOff(o.DelayedAck))
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// Configure applies o to conn. Both options are first reset, then
// TCP_NODELAY is set when Nagle is off and TCP_QUICKACK when delayed ACK
// is off.
func Configure(conn *net.TCPConn, o Options) error {
	if err := conn.SetNoDelay(false); err != nil {
		return fmt.Errorf("failed to reset TCP_NODELAY: %w", err)
	}
	if err := setQuickAck(conn, false); err != nil {
		return fmt.Errorf("failed to reset TCP_QUICKACK: %w", err)
	}
	if !o.Nagle {
		if err := conn.SetNoDelay(true); err != nil {
			return fmt.Errorf("failed to set TCP_NODELAY: %w", err)
		}
	}
	if !o.DelayedAck {
		if err := setQuickAck(conn, true); err != nil {
			return fmt.Errorf("failed to set TCP_QUICKACK: %w", err)
		}
	}
	return nil
}
