// Package rbtree provides the ordered-map container the custody/cache
// subsystem uses for its three secondary indices (time, destination-EID,
// hash), described in spec as an external collaborator the core consumes
// only through a narrow interface rather than implements itself.
package rbtree

import "github.com/google/btree"

const btreeDegree = 32

// Handle identifies one inserted (key, value) pair so the caller can remove
// it later without a second lookup — the cache's entries live in at most
// one of several such trees at a time, and must be removable in O(log n)
// when the FSM moves them between states.
type Handle struct {
	key   uint64
	seq   uint64
	value interface{}
}

// Key returns the ordering key this handle was inserted under.
func (h *Handle) Key() uint64 { return h.key }

// Value returns the opaque value stored alongside the key.
func (h *Handle) Value() interface{} { return h.value }

func (h *Handle) Less(than btree.Item) bool {
	o := than.(*Handle)
	if h.key != o.key {
		return h.key < o.key
	}
	return h.seq < o.seq
}

// Tree is an ordered multimap keyed by uint64, backed by a B-tree rather
// than a literal red-black tree — both give O(log n) ordered insert,
// delete and range scan, which is all three of the cache's indices need.
// Entries with equal keys are kept distinct via an insertion sequence, so
// hash collisions and shared destination nodes don't silently overwrite
// one another.
type Tree struct {
	bt      *btree.BTree
	nextSeq uint64
}

// New returns an empty Tree.
func New() *Tree {
	return &Tree{bt: btree.New(btreeDegree)}
}

// Insert adds value under key and returns a Handle for later removal.
func (t *Tree) Insert(key uint64, value interface{}) *Handle {
	h := &Handle{key: key, seq: t.nextSeq, value: value}
	t.nextSeq++
	t.bt.ReplaceOrInsert(h)
	return h
}

// Remove deletes the entry identified by h. A nil h, or one already
// removed, is a no-op.
func (t *Tree) Remove(h *Handle) {
	if h == nil {
		return
	}
	t.bt.Delete(h)
}

// Len returns the number of entries currently indexed.
func (t *Tree) Len() int {
	return t.bt.Len()
}

// AscendLessOrEqual visits every entry with key <= max in ascending key
// order, stopping early if visit returns false. This is time_index's
// "all keys <= now" query from spec's poll operation.
func (t *Tree) AscendLessOrEqual(max uint64, visit func(h *Handle) bool) {
	t.bt.Ascend(func(item btree.Item) bool {
		h := item.(*Handle)
		if h.key > max {
			return false
		}
		return visit(h)
	})
}

// AscendFrom visits every entry with key >= from in ascending key order,
// stopping early if visit returns false. This is dest_eid_index's
// route_up query: scan upward from a destination and let the caller
// apply its own CIDR-style mask test per entry.
func (t *Tree) AscendFrom(from uint64, visit func(h *Handle) bool) {
	pivot := &Handle{key: from, seq: 0}
	t.bt.AscendGreaterOrEqual(pivot, func(item btree.Item) bool {
		return visit(item.(*Handle))
	})
}

// ScanKey visits every entry whose key equals exactly key, in insertion
// order. hash_index uses this to walk a hash bucket's collision list.
func (t *Tree) ScanKey(key uint64, visit func(h *Handle) bool) {
	pivot := &Handle{key: key, seq: 0}
	t.bt.AscendGreaterOrEqual(pivot, func(item btree.Item) bool {
		h := item.(*Handle)
		if h.key != key {
			return false
		}
		return visit(h)
	})
}
