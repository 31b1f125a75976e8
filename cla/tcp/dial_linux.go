//go:build linux
// +build linux

package tcp

import (
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Linux-specific socket options for better detection of connection losses,
// based on the Linux tcp(7) manual page, matching the teacher's
// pkg/cla/mtcp/client_dial_linux.go.
const (
	dialTCPKeepCnt     int = 1
	dialTCPKeepIdle    int = 5
	dialTCPKeepIntvl   int = 3
	dialTCPUserTimeout int = 2000
)

func dialControl(_, _ string, rawConn syscall.RawConn) (err error) {
	opts := map[int]int{
		unix.TCP_KEEPCNT:      dialTCPKeepCnt,
		unix.TCP_KEEPIDLE:     dialTCPKeepIdle,
		unix.TCP_KEEPINTVL:    dialTCPKeepIntvl,
		unix.TCP_USER_TIMEOUT: dialTCPUserTimeout,
	}

	err = rawConn.Control(func(fd uintptr) {
		for opt, value := range opts {
			if err = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, opt, value); err != nil {
				return
			}
		}
	})

	return
}

func dial(address string) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout: time.Second,
		Control: dialControl,
	}
	return dialer.Dial("tcp", address)
}
