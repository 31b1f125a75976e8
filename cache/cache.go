package cache

import (
	"sync"

	"github.com/dtn7/bpcustody/bundle"
	"github.com/dtn7/bpcustody/rbtree"
	"github.com/dtn7/bpcustody/storage"
)

// DeliveryPolicy selects whether a stored bundle is tracked through a full
// custody handshake or handed off best-effort, spec §4.2.2's
// queued-for-egress transition.
type DeliveryPolicy int

const (
	PolicyBestEffort DeliveryPolicy = iota
	PolicyCustodyTracking
)

// Options configures a Cache instance. Time-based fields are in
// milliseconds, matching spec §4.2's action_time unit.
type Options struct {
	DeliveryPolicy DeliveryPolicy

	// DacsOpenTimeMs is how long a generate-dacs entry stays open for
	// appends before it's finalized regardless of fill, spec §4.2.4.
	DacsOpenTimeMs uint64

	// MaxSeqPerPayload bounds how many sequence numbers one DACS payload
	// aggregates before finalize_dacs runs early, spec §4.2.4.
	MaxSeqPerPayload int

	// CustodyAckTimeoutMs bounds how long an awaiting-custody-ack entry
	// waits for a remote DACS before falling back to idle for retransmit,
	// spec §4.2.2.
	CustodyAckTimeoutMs uint64

	// RetryIntervalMs schedules the next egress attempt for an entry
	// handed to idle-with-retry, spec §4.2.2.
	RetryIntervalMs uint64

	// MaxSubqDepth is the per-interface ingress/egress subqueue depth
	// limit toggled by IntfStateChange, spec §4.2.6.
	MaxSubqDepth int
}

// DefaultOptions returns the cache's default tuning, modest values chosen
// to keep generate-dacs entries from lingering indefinitely.
func DefaultOptions() Options {
	return Options{
		DeliveryPolicy:      PolicyCustodyTracking,
		DacsOpenTimeMs:      5000,
		MaxSeqPerPayload:    64,
		CustodyAckTimeoutMs: 30000,
		RetryIntervalMs:     10000,
		MaxSubqDepth:        32,
	}
}

// Stats are the cache subsystem's own counters, separate from the channel
// engine's, since spec §4.2 describes a distinct storage-plane component.
// A plain value; the live counters live behind statsCollector's mutex.
type Stats struct {
	Stored          uint64
	Duplicates      uint64
	DacsSent        uint64
	CustodyReleased uint64
	Expired         uint64
}

type statsCollector struct {
	mu sync.Mutex
	Stats
}

func (s *statsCollector) incr(counter *uint64) {
	s.mu.Lock()
	*counter++
	s.mu.Unlock()
}

// Snapshot returns a copy of the counters.
func (s *statsCollector) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Stats
}

// Cache is the indexed, refcounted retained-bundle pool, spec §4.2. It is
// single-threaded per critical region, guarded by one mutex — spec §5
// states the core's per-channel locks are not meant to nest with a
// separate subsystem's lock, so the cache keeps its own.
type Cache struct {
	mu sync.Mutex

	local bundle.EndpointID
	opts  Options

	store  storage.Adapter
	handle storage.Handle

	timeIndex    *rbtree.Tree
	destEidIndex *rbtree.Tree
	hashIndex    *rbtree.Tree

	entries map[uint64]*entry
	nextID  uint64

	pending     []*entry
	egressQueue [][]byte

	ingressDepth int
	egressDepth  int

	stats statsCollector
}

// New opens a Cache over the given storage adapter, spec §4.2/§4.3. The
// interface starts up (subqueue depth limits at MaxSubqDepth), matching
// spec §4.2.6's intf_state_change(up) default.
func New(local bundle.EndpointID, opts Options, store storage.Adapter) (*Cache, error) {
	handle, err := store.Create(local.String() + "-cache")
	if err != nil {
		return nil, err
	}

	c := &Cache{
		local:        local,
		opts:         opts,
		store:        store,
		handle:       handle,
		timeIndex:    rbtree.New(),
		destEidIndex: rbtree.New(),
		hashIndex:    rbtree.New(),
		entries:      make(map[uint64]*entry),
		ingressDepth: opts.MaxSubqDepth,
		egressDepth:  opts.MaxSubqDepth,
	}
	return c, nil
}

// Stats returns a snapshot of the cache's counters.
func (c *Cache) Stats() Stats {
	return c.stats.Snapshot()
}

// Len returns the number of entries currently held, retained bundles and
// in-progress DACS payloads combined.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// encodeForStore serializes b for the retained-bundle pool using its own
// primary-block version, mirroring the channel engine's own version-sniff
// dispatch (core.decodeBundle) rather than fixing the cache to one wire
// format.
func encodeForStore(b bundle.Bundle) ([]byte, error) {
	if b.Primary.Version == 6 {
		enc, err := bundle.EncodeV6(b)
		if err != nil {
			return nil, err
		}
		return enc.Bytes, nil
	}
	return bundle.EncodeV7(b)
}
