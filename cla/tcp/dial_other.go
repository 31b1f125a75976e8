//go:build !linux
// +build !linux

package tcp

import (
	"net"
	"time"
)

// dial on non-Linux platforms: a plain keepalive-tuned dialer, matching the
// teacher's pkg/cla/mtcp/client_dial.go fallback.
func dial(address string) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout:   time.Second,
		KeepAlive: 5 * time.Second,
	}
	return dialer.Dial("tcp", address)
}
