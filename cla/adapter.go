// Package cla defines the narrow egress/ingress byte interface the engine
// talks to. The core never inspects or addresses a CLA beyond this: "CLA
// ... appears in the core only as an egress interface identifier".
package cla

import "errors"

// ErrClosed is returned by Send/Receive once the adapter has been closed.
var ErrClosed = errors.New("cla: adapter closed")

// Adapter is one convergence-layer connection: a byte-oriented,
// length-framed transport for whatever the channel engine has already
// encoded (a whole bundle, spec §4.1/§4.2). It knows nothing about bundle
// structure — framing and transport only, mirroring how narrowly the
// teacher's own cla.ConvergenceSender/ConvergenceReceiver pair is scoped
// (just Send/Close plus endpoint bookkeeping) rather than anything
// bundle-aware.
type Adapter interface {
	// Send transmits one already-encoded bundle.
	Send(data []byte) error

	// Receive blocks for the next inbound bundle. Returns ErrClosed once
	// the adapter is closed and no further data will arrive.
	Receive() ([]byte, error)

	// Close releases the underlying connection. Concurrent Send/Receive
	// calls unblock with ErrClosed.
	Close() error

	// Address identifies this adapter instance uniquely, matching the
	// teacher's cla.ConvergenceSender.Address() contract (used to avoid
	// opening the same peer connection twice).
	Address() string
}
