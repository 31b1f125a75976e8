package cache

import (
	"github.com/dtn7/bpcustody/bundle"
	"github.com/dtn7/bpcustody/rbtree"
	"github.com/dtn7/bpcustody/storage"
)

// StoreBundle ingests a bundle into the cache, spec §4.2.3. A duplicate by
// (source, sequence) re-acknowledges instead of storing again, covering the
// case where a prior ACK never made it back to the sender. nowMs is the
// caller-supplied wall clock, matching poll's explicit now_ms parameter.
func (c *Cache) StoreBundle(b bundle.Bundle, nowMs uint64) (duplicate bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := bundleHashKey(b.Primary.SourceNode, b.Primary.CreationTimestamp.Sequence)

	var existing *entry
	c.hashIndex.ScanKey(key, func(h *rbtree.Handle) bool {
		e := h.Value().(*entry)
		if e.sourceNode == uint64(b.Primary.SourceNode.Node) &&
			e.sourceService == uint64(b.Primary.SourceNode.Service) &&
			e.sequence == b.Primary.CreationTimestamp.Sequence {
			existing = e
			return false
		}
		return true
	})

	if existing != nil {
		c.reacknowledgeLocked(existing, nowMs)
		c.stats.incr(&c.stats.Duplicates)
		return true, nil
	}

	data, encErr := encodeForStore(b)
	if encErr != nil {
		return false, encErr
	}

	if _, err := c.store.Enqueue(c.handle, nil, data, -1); err != nil {
		return false, err
	}
	// Immediately dequeue the record just enqueued to obtain a retrievable
	// storage-id: the cache needs random-access retrieve at an arbitrary
	// future time (egress handoff, retransmit), unlike the channel engine's
	// plain FIFO consumption.
	_, sid, status, err := c.store.Dequeue(c.handle, -1)
	if err != nil {
		return false, err
	}
	if status == storage.StatusTimeout {
		return false, nil
	}

	e := &entry{
		sourceNode:    uint64(b.Primary.SourceNode.Node),
		sourceService: uint64(b.Primary.SourceNode.Service),
		sequence:      b.Primary.CreationTimestamp.Sequence,
		destNode:      uint64(b.Primary.Destination.Node),
		prevCustodian: b.Primary.Custodian,
		sid:           sid,
		refcount:      1,
		state:         StateIdle,
		flags:         Activity | LocalCustody,
		createdMs:     nowMs,
		lifetimeMs:    b.Primary.Lifetime * 1000,
	}
	e.actionTimeMs = nowMs
	if e.lifetimeMs != 0 {
		e.actionTimeMs = nowMs + e.lifetimeMs
	}

	e.id = c.nextID
	c.nextID++
	c.entries[e.id] = e
	e.destHandle = c.destEidIndex.Insert(e.destNode, e)
	e.hashHandle = c.hashIndex.Insert(key, e)
	if e.lifetimeMs != 0 {
		e.timeHandle = c.timeIndex.Insert(e.actionTimeMs, e)
	}

	c.stats.incr(&c.stats.Stored)

	if c.opts.DeliveryPolicy == PolicyCustodyTracking && !b.Primary.Custodian.IsNone() {
		c.appendDacsLocked(b.Primary.SourceNode, b.Primary.Custodian, e.sequence, nowMs)
	}

	return false, nil
}

// reacknowledgeLocked handles a duplicate ingress by folding the sequence
// back into (or reopening) the DACS toward the bundle's previous custodian,
// in case the original acknowledgment never arrived. Caller holds c.mu.
func (c *Cache) reacknowledgeLocked(e *entry, nowMs uint64) {
	source, err := bundle.NewIpnEndpointID(uint32(e.sourceNode), uint32(e.sourceService))
	if err != nil {
		return
	}
	c.appendDacsLocked(source, e.prevCustodian, e.sequence, nowMs)
}
