// Package tcp implements cla.Adapter over a plain TCP stream: each
// already-encoded bundle is framed as one CBOR byte string, exactly the
// teacher's MTCP convergence layer's wire format (cla/mtcp/client.go,
// cla/mtcp/mpdu.go), minus the bundle-aware parts this package doesn't
// need since cla.Adapter only ever sees opaque bytes.
package tcp

import (
	"bufio"
	"net"
	"sync"

	"github.com/dtn7/cboring"

	"github.com/dtn7/bpcustody/cla"
)

// connAdapter wraps one net.Conn as a cla.Adapter.
type connAdapter struct {
	conn    net.Conn
	reader  *bufio.Reader
	address string

	sendMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

func newConnAdapter(conn net.Conn, address string) *connAdapter {
	return &connAdapter{conn: conn, reader: bufio.NewReader(conn), address: address, closed: make(chan struct{})}
}

// Send writes data as one CBOR byte string, serializing concurrent
// senders the same way the teacher's MTCPClient guards conn writes with
// its own mutex.
func (a *connAdapter) Send(data []byte) error {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()

	w := bufio.NewWriter(a.conn)
	err := cboring.WriteByteString(data, w)
	if err == nil {
		err = w.Flush()
	}
	if err != nil && a.isClosed() {
		return cla.ErrClosed
	}
	return err
}

// Receive blocks for the next framed byte string.
func (a *connAdapter) Receive() ([]byte, error) {
	data, err := cboring.ReadByteString(a.reader)
	if err != nil {
		if a.isClosed() {
			return nil, cla.ErrClosed
		}
		return nil, err
	}
	return data, nil
}

func (a *connAdapter) isClosed() bool {
	select {
	case <-a.closed:
		return true
	default:
		return false
	}
}

func (a *connAdapter) Close() error {
	a.closeOnce.Do(func() {
		a.closeErr = a.conn.Close()
		close(a.closed)
	})
	return a.closeErr
}

func (a *connAdapter) Address() string {
	return a.address
}
