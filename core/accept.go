package core

import (
	"time"

	"github.com/dtn7/bpcustody/storage"
)

// AcceptResult is one delivered application payload handed back to the
// consuming application, spec §2's "Application... consumes via accept".
type AcceptResult struct {
	Payload        []byte
	RequestCustody bool
}

// Accept dequeues the next delivered payload for the application, honoring
// the storage adapter's timeout convention (0 = poll, <0 = block
// indefinitely, >0 = bounded wait). A storage TIMEOUT propagates as the
// TIMEOUT error code without side effects, per spec §5's cancellation
// rule.
func (c *Channel) Accept(timeout time.Duration) (AcceptResult, error) {
	data, sid, status, err := c.payloadAdapter.Dequeue(c.payloadHandle, timeout)
	if err != nil {
		return AcceptResult{}, newError(FailedStore, "%v", err)
	}
	if status == storage.StatusTimeout {
		return AcceptResult{}, newError(Timeout, "no delivered payload available")
	}

	header, herr := decodeDeliveryHeader(data)
	if herr != nil {
		return AcceptResult{}, herr
	}

	payload := append([]byte(nil), data[9:]...)

	if err := c.payloadAdapter.Relinquish(c.payloadHandle, sid); err != nil {
		return AcceptResult{}, newError(FailedStore, "%v", err)
	}

	return AcceptResult{Payload: payload, RequestCustody: header.RequestCustody}, nil
}
