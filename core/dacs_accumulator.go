package core

import (
	"github.com/dtn7/bpcustody/rbtree"
)

// DacsAccumulator is one remote custodian's open aggregate-custody-signal
// accumulator, spec §3/§4.1.5: a set of pending custody-ids collected since
// the last flush, ordered so EncodeACS can coalesce them into runs cheaply.
type DacsAccumulator struct {
	Remote EndpointIDKey

	pending         *rbtree.Tree
	handles         map[uint64]*rbtree.Handle
	lastSentSeconds uint64
	delivered       bool
}

// EndpointIDKey is a comparable stand-in for bundle.EndpointID, used as a
// map key for per-remote-custodian accumulator lookup.
type EndpointIDKey struct {
	Node    uint64
	Service uint64
}

// NewDacsAccumulator returns an empty accumulator for remote.
func NewDacsAccumulator(remote EndpointIDKey) *DacsAccumulator {
	return &DacsAccumulator{
		Remote:  remote,
		pending: rbtree.New(),
		handles: make(map[uint64]*rbtree.Handle),
	}
}

// Add records cid as pending acknowledgement, spec §4.1.5's update
// operation. A duplicate add is idempotent and reported to the caller so
// it can raise the duplicates warning flag.
func (d *DacsAccumulator) Add(cid uint64) (inserted bool) {
	if _, exists := d.handles[cid]; exists {
		return false
	}
	d.handles[cid] = d.pending.Insert(cid, nil)
	return true
}

// Len reports how many custody-ids are currently pending flush.
func (d *DacsAccumulator) Len() int {
	return d.pending.Len()
}

// Empty reports whether there is nothing pending.
func (d *DacsAccumulator) Empty() bool {
	return d.pending.Len() == 0
}

// Drain returns every pending custody-id in ascending order and clears the
// accumulator — the step flushAccumulator (dacs.go) takes before sendDacs
// calls bundle.EncodeACS to build an outbound DACS bundle.
func (d *DacsAccumulator) Drain() []uint64 {
	cids := make([]uint64, 0, d.pending.Len())
	d.pending.AscendFrom(0, func(h *rbtree.Handle) bool {
		cids = append(cids, h.Key())
		return true
	})

	d.pending = rbtree.New()
	d.handles = make(map[uint64]*rbtree.Handle)
	return cids
}

// MarkSent records the flush time, spec §4.1.5's last_sent_seconds field,
// used by load.go's max_dacs_rate gate.
func (d *DacsAccumulator) MarkSent(nowSeconds uint64) {
	d.lastSentSeconds = nowSeconds
}

// DueToFlush reports whether the accumulator should be flushed: either the
// caller-supplied max fill count has been reached, or dacsRateSeconds have
// elapsed since the last flush and there's something to send.
func (d *DacsAccumulator) DueToFlush(nowSeconds, dacsRateSeconds uint64, maxFillsPerDacs int) bool {
	if d.Empty() {
		return false
	}
	if maxFillsPerDacs > 0 && d.pending.Len() >= maxFillsPerDacs {
		return true
	}
	return nowSeconds-d.lastSentSeconds >= dacsRateSeconds
}
