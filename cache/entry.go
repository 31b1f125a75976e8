// Package cache implements the BPv7 custody/cache subsystem: an indexed,
// refcounted retained-bundle pool that replaces the channel engine's plain
// three-queue storage with a full custody-transfer handshake, spec §4.2.
package cache

import (
	"github.com/dtn7/bpcustody/bundle"
	"github.com/dtn7/bpcustody/rbtree"
	"github.com/dtn7/bpcustody/storage"
)

// State is one of a cache Entry's FSM states, spec §4.2.2.
type State int

const (
	StateIdle State = iota
	StateGenerateDacs
	StateQueuedForEgress
	StateAwaitingCustodyAck
	StateExpired
	// StateTerminal is reached from awaiting-custody-ack when the matching
	// remote DACS arrives: custody has transferred downstream, so the
	// entry is done and reclaimed rather than falling back to idle for a
	// retransmit it no longer needs, spec §4.2.2.
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGenerateDacs:
		return "generate-dacs"
	case StateQueuedForEgress:
		return "queued-for-egress"
	case StateAwaitingCustodyAck:
		return "awaiting-custody-ack"
	case StateExpired:
		return "expired"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Flags is the per-entry bitset spec §3 names for cache entries.
type Flags uint32

const (
	Activity Flags = 1 << iota
	LocalCustody
	ActionTimeWait
	LocallyQueued
)

func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// entry is one retained-bundle record, spec §3's "Cache Entry". It either
// holds a retained bundle (state idle/queued-for-egress/awaiting-custody-ack)
// or an in-progress outbound DACS payload (state generate-dacs); the two
// shapes share one struct and one set of index links, mirroring the
// teacher's BundlePack wrapping both a bundle and its storage/constraint
// state in a single type (core/bundle_pack.go).
type entry struct {
	id uint64

	state State
	flags Flags

	// Retained-bundle fields, meaningful when this entry wraps a stored
	// bundle rather than an in-progress DACS.
	sourceNode    uint64
	sourceService uint64
	sequence      uint64
	destNode      uint64
	prevCustodian bundle.EndpointID
	sid           storage.StorageID
	refcount      int
	createdMs     uint64
	lifetimeMs    uint64

	// In-progress outbound DACS fields, meaningful when isDacs is true.
	isDacs     bool
	dacsSource bundle.EndpointID
	dacsDest   bundle.EndpointID
	dacsSeqs   []uint64

	actionTimeMs uint64

	destHandle *rbtree.Handle
	timeHandle *rbtree.Handle
	hashHandle *rbtree.Handle
}
