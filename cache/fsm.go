package cache

import (
	"errors"

	"github.com/dtn7/bpcustody/storage"
)

var errEgressTimeout = errors.New("cache: egress retrieve timed out")

// fsmExecute drives one entry's state transition, spec §4.2.2. Caller
// holds c.mu. nowMs is the poll-supplied wall clock.
func (c *Cache) fsmExecute(e *entry, nowMs uint64) {
	switch e.state {
	case StateIdle:
		if e.lifetimeMs != 0 && e.createdMs+e.lifetimeMs <= nowMs {
			e.state = StateExpired
			c.fsmExecute(e, nowMs)
		}
		// Otherwise stays idle; RouteUp is what moves an idle entry to
		// queued-for-egress once a route becomes available.

	case StateGenerateDacs:
		if len(e.dacsSeqs) >= c.opts.MaxSeqPerPayload || nowMs >= e.actionTimeMs {
			c.finalizeDacsLocked(e)
			c.fsmExecute(e, nowMs)
		}

	case StateQueuedForEgress:
		if c.egressDepth <= 0 {
			return
		}

		data, err := c.egressDataLocked(e, nowMs)
		if err != nil {
			return
		}
		c.egressDepth--
		e.flags |= LocallyQueued
		c.egressQueue = append(c.egressQueue, data)

		if e.isDacs {
			c.stats.incr(&c.stats.DacsSent)
			c.removeLocked(e)
			return
		}

		if c.opts.DeliveryPolicy == PolicyCustodyTracking {
			e.state = StateAwaitingCustodyAck
			e.actionTimeMs = nowMs + c.opts.CustodyAckTimeoutMs
			e.timeHandle = c.timeIndex.Insert(e.actionTimeMs, e)
		} else {
			e.state = StateIdle
			e.actionTimeMs = nowMs + c.opts.RetryIntervalMs
			if e.lifetimeMs != 0 {
				e.timeHandle = c.timeIndex.Insert(e.actionTimeMs, e)
			}
		}

	case StateAwaitingCustodyAck:
		if nowMs >= e.actionTimeMs {
			// Timed out waiting for the remote DACS: scheduled for
			// retransmit by falling back to idle.
			e.state = StateIdle
			e.flags &^= LocallyQueued
			e.actionTimeMs = nowMs
			e.timeHandle = c.timeIndex.Insert(e.actionTimeMs, e)
		}

	case StateExpired:
		c.stats.incr(&c.stats.Expired)
		c.removeLocked(e)

	case StateTerminal:
		c.removeLocked(e)
	}
}

// egressDataLocked produces the serialized bytes to hand an entry to the
// CLA egress queue: the retained bundle's bytes for a regular entry, or a
// freshly encoded ACS bundle for a generate-dacs entry. Caller holds c.mu.
func (c *Cache) egressDataLocked(e *entry, nowMs uint64) ([]byte, error) {
	if e.isDacs {
		return c.buildDacsPayload(e, nowMs)
	}
	data, status, err := c.store.Retrieve(c.handle, e.sid, -1)
	if err != nil {
		return nil, err
	}
	if status == storage.StatusTimeout {
		return nil, errEgressTimeout
	}
	return data, nil
}

// removeLocked drops e from every index and the entries map, releasing
// its storage record if this was the last reference, spec's "recycle"
// pattern (§9's refcounted-block rewriting note).
func (c *Cache) removeLocked(e *entry) {
	c.destEidIndex.Remove(e.destHandle)
	c.timeIndex.Remove(e.timeHandle)
	c.hashIndex.Remove(e.hashHandle)
	delete(c.entries, e.id)

	if e.isDacs {
		return
	}
	e.refcount--
	if e.refcount <= 0 {
		_ = c.store.Relinquish(c.handle, e.sid)
	}
}
