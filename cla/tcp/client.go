package tcp

import "github.com/dtn7/bpcustody/cla"

// Dial opens a cla.Adapter to a remote TCP CLA listener, using the
// platform-specific dial (see dial_linux.go/dial_other.go) for socket
// keepalive tuning, exactly as the teacher's pkg/cla/mtcp splits its
// dialer by build tag.
func Dial(address string) (cla.Adapter, error) {
	conn, err := dial(address)
	if err != nil {
		return nil, err
	}
	return newConnAdapter(conn, address), nil
}
