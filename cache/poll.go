package cache

import "github.com/dtn7/bpcustody/rbtree"

// Poll drives the cache's scheduled work, spec §4.2.6: every time_index
// entry due at or before nowMs moves to the pending list, then the whole
// pending list drains through fsm_execute while the egress subqueue
// accepts work. Returns how many entries were processed.
func (c *Cache) Poll(nowMs uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due []*entry
	c.timeIndex.AscendLessOrEqual(nowMs, func(h *rbtree.Handle) bool {
		due = append(due, h.Value().(*entry))
		return true
	})
	for _, e := range due {
		c.timeIndex.Remove(e.timeHandle)
		e.timeHandle = nil
		c.pending = append(c.pending, e)
	}

	pending := c.pending
	c.pending = nil

	processed := 0
	var deferred []*entry
	for _, e := range pending {
		if _, ok := c.entries[e.id]; !ok {
			continue // removed since it was queued
		}
		if e.state == StateQueuedForEgress && c.egressDepth <= 0 {
			deferred = append(deferred, e)
			continue
		}
		c.fsmExecute(e, nowMs)
		processed++
	}
	c.pending = append(c.pending, deferred...)

	return processed
}

// DrainEgress returns and clears the bytes fsm_execute has handed to the
// CLA egress queue since the last call, standing in for the real
// convergence-layer handoff (spec's "CLA... appears in the core only as
// an egress interface identifier").
func (c *Cache) DrainEgress() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.egressQueue
	c.egressQueue = nil
	return out
}

// RouteUp marks every entry whose destination node matches dest under
// mask as pending re-evaluation for egress, spec §4.2.6. Idle entries
// transition immediately to queued-for-egress; the next Poll call hands
// them to the egress subqueue via fsm_execute.
func (c *Cache) RouteUp(dest, mask uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.destEidIndex.AscendFrom(dest&mask, func(h *rbtree.Handle) bool {
		e := h.Value().(*entry)
		if e.destNode&mask != dest&mask {
			return true
		}
		if e.state == StateIdle {
			if e.timeHandle != nil {
				c.timeIndex.Remove(e.timeHandle)
				e.timeHandle = nil
			}
			e.state = StateQueuedForEgress
			c.pending = append(c.pending, e)
		}
		return true
	})
}

// IntfStateChange sets the interface's ingress/egress subqueue depth
// limits to 0 (down) or MaxSubqDepth (up), spec §4.2.6.
func (c *Cache) IntfStateChange(up bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if up {
		c.ingressDepth = c.opts.MaxSubqDepth
		c.egressDepth = c.opts.MaxSubqDepth
	} else {
		c.ingressDepth = 0
		c.egressDepth = 0
	}
}
