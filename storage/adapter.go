// Package storage provides the byte-queue Storage Adapter contract the
// channel engine and custody/cache subsystem consume, plus two concrete
// implementations: an in-memory ring for tests and ephemeral channels, and
// a badgerhold-backed adapter for durable queues.
package storage

import "time"

// Status mirrors the storage-adapter return codes named in spec §4.3 and
// §5: a plain error always means something is actually wrong, while
// StatusTimeout is an expected, non-error outcome of a bounded wait.
type Status int

const (
	StatusOK Status = iota
	StatusTimeout
)

// Handle identifies one byte-queue allocated by Create.
type Handle uint64

// StorageID identifies one enqueued record. It stays valid for
// Retrieve/Relinquish calls until the record is relinquished, per spec
// §4.3's dequeue/retrieve/relinquish contract.
type StorageID uint64

// Adapter is the storage-plane contract the core requires, spec §4.3: a
// durable FIFO byte-queue with random-access retrieval by id. Blocking
// operations honor spec §5's timeout convention: timeout == 0 polls
// without blocking, timeout < 0 waits indefinitely, timeout > 0 bounds the
// wait. A timed-out call returns (StatusTimeout, nil) — not an error.
type Adapter interface {
	// Create allocates a new FIFO byte-queue, returning a handle for use
	// with every other operation.
	Create(param string) (Handle, error)

	// Destroy releases a queue and discards its contents.
	Destroy(h Handle) error

	// Enqueue atomically appends hdr‖body as one record.
	Enqueue(h Handle, hdr, body []byte, timeout time.Duration) (Status, error)

	// Dequeue removes and returns the head record. The returned
	// StorageID stays valid for Retrieve/Relinquish until relinquished.
	Dequeue(h Handle, timeout time.Duration) (data []byte, sid StorageID, status Status, err error)

	// Retrieve reads a previously dequeued record by id without removing it.
	Retrieve(h Handle, sid StorageID, timeout time.Duration) (data []byte, status Status, err error)

	// Relinquish releases a record; sid becomes invalid afterward.
	Relinquish(h Handle, sid StorageID) error

	// GetCount returns the current record count, for statistics only.
	GetCount(h Handle) (uint64, error)
}
