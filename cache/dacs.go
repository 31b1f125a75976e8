package cache

import (
	"github.com/dtn7/bpcustody/bundle"
	"github.com/dtn7/bpcustody/rbtree"
)

// openDacsLocked allocates a generate-dacs entry aggregating acknowledged
// sequence numbers toward prevCustodian for the flow source, spec §4.2.4.
// Caller holds c.mu.
func (c *Cache) openDacsLocked(source, prevCustodian bundle.EndpointID, nowMs uint64) *entry {
	key := dacsHashKey(source, prevCustodian)

	e := &entry{
		isDacs:       true,
		state:        StateGenerateDacs,
		flags:        ActionTimeWait,
		dacsSource:   source,
		dacsDest:     prevCustodian,
		actionTimeMs: nowMs + c.opts.DacsOpenTimeMs,
	}
	e.id = c.nextID
	c.nextID++
	c.entries[e.id] = e
	e.hashHandle = c.hashIndex.Insert(key, e)
	e.timeHandle = c.timeIndex.Insert(e.actionTimeMs, e)
	return e
}

// appendDacsLocked folds seq into the open DACS toward prevCustodian for
// source, opening one if none is pending, spec §4.2.4. Caller holds c.mu.
func (c *Cache) appendDacsLocked(source, prevCustodian bundle.EndpointID, seq uint64, nowMs uint64) {
	key := dacsHashKey(source, prevCustodian)

	var target *entry
	c.hashIndex.ScanKey(key, func(h *rbtree.Handle) bool {
		e := h.Value().(*entry)
		if e.isDacs && e.state == StateGenerateDacs && e.dacsSource == source && e.dacsDest == prevCustodian {
			target = e
			return false
		}
		return true
	})
	if target == nil {
		target = c.openDacsLocked(source, prevCustodian, nowMs)
	}

	for _, s := range target.dacsSeqs {
		if s == seq {
			// Already pending in this DACS; StoreBundle counts the duplicate.
			return
		}
	}
	target.dacsSeqs = append(target.dacsSeqs, seq)

	if len(target.dacsSeqs) >= c.opts.MaxSeqPerPayload {
		c.finalizeDacsLocked(target)
	}
}

// finalizeDacsLocked closes a generate-dacs entry to further appends and
// queues it for egress, spec §4.2.4: "remove from hash_index... clear
// ACTION_TIME_WAIT". Caller holds c.mu.
func (c *Cache) finalizeDacsLocked(e *entry) {
	c.hashIndex.Remove(e.hashHandle)
	e.hashHandle = nil
	c.timeIndex.Remove(e.timeHandle)
	e.timeHandle = nil
	e.flags &^= ActionTimeWait
	e.state = StateQueuedForEgress
	c.pending = append(c.pending, e)
}

// ConsumeRemoteDacs processes an inbound DACS payload naming (flow, seq)
// pairs, spec §4.2.2/§4.2.5: each hit in hash_index under the bundle-lookup
// salt has its LOCAL_CUSTODY flag cleared and is driven to the terminal
// state, since custody has now transferred downstream — the awaiting-
// custody-ack → terminal transition. nowMs is the caller-supplied wall
// clock, matching Poll's and StoreBundle's explicit now_ms parameter.
func (c *Cache) ConsumeRemoteDacs(flow bundle.EndpointID, seqs []uint64, nowMs uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, seq := range seqs {
		key := bundleHashKey(flow, seq)
		var match *entry
		c.hashIndex.ScanKey(key, func(h *rbtree.Handle) bool {
			e := h.Value().(*entry)
			if !e.isDacs && e.sourceNode == uint64(flow.Node) && e.sourceService == uint64(flow.Service) && e.sequence == seq {
				match = e
				return false
			}
			return true
		})
		if match == nil {
			continue
		}

		match.flags &^= LocalCustody
		c.stats.incr(&c.stats.CustodyReleased)

		if match.timeHandle != nil {
			c.timeIndex.Remove(match.timeHandle)
			match.timeHandle = nil
		}
		match.state = StateTerminal
		c.fsmExecute(match, nowMs)
	}
}

// buildDacsPayload encodes a generate-dacs entry's accumulated sequence
// numbers into an ACS administrative-record bundle addressed to its
// prev-custodian, spec §4.2.4's "custody_accept_payload".
func (c *Cache) buildDacsPayload(e *entry, nowMs uint64) ([]byte, error) {
	primary := bundle.NewPrimaryBlock(7, bundle.AdministrativeRecordPayload, e.dacsDest, c.local,
		bundle.NewCreationTimestamp(nowMs/1000, 0), 0)
	b, err := bundle.NewBundle(primary, bundle.PayloadBlock{Data: bundle.EncodeACS(e.dacsSeqs)})
	if err != nil {
		return nil, err
	}
	return bundle.EncodeV7(b)
}
