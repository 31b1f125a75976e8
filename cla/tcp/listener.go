package tcp

import (
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/bpcustody/cla"
)

// Listener accepts inbound TCP convergence-layer connections and hands each
// one to an accept callback as a cla.Adapter, matching the teacher's
// MTCPServer accept loop (pkg/cla/mtcp/server.go): Accept runs under a short
// polling deadline so the loop rechecks its stop channel between attempts.
type Listener struct {
	ln net.Listener

	stopSyn chan struct{}
	stopAck chan struct{}
}

// Listen opens a TCP listener and starts accepting connections in the
// background. onAccept is invoked once per established connection; it
// should hand the adapter off to whatever consumes cla.Adapter.Receive.
func Listen(address string, onAccept func(conn cla.Adapter)) (*Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, err
	}

	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, err
	}

	l := &Listener{ln: ln, stopSyn: make(chan struct{}), stopAck: make(chan struct{})}
	go l.acceptLoop(ln, onAccept)
	return l, nil
}

func (l *Listener) acceptLoop(ln *net.TCPListener, onAccept func(conn cla.Adapter)) {
	defer close(l.stopAck)

	for {
		select {
		case <-l.stopSyn:
			return
		default:
		}

		if err := ln.SetDeadline(time.Now().Add(50 * time.Millisecond)); err != nil {
			log.WithField("error", err).Warn("cla/tcp listener failed to set accept deadline")
			return
		}

		conn, err := ln.Accept()
		if err != nil {
			continue
		}

		onAccept(newConnAdapter(conn, conn.RemoteAddr().String()))
	}
}

// Close stops accepting new connections. Already-handed-off adapters are
// unaffected; the caller closes those individually.
func (l *Listener) Close() error {
	close(l.stopSyn)
	err := l.ln.Close()
	<-l.stopAck
	return err
}
