package storage

import (
	"fmt"
	"os"
	"path"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold"
)

// dequeuePollInterval is how often a blocking Dequeue re-polls badgerhold;
// unlike RingAdapter's in-process channel, a durable store has no
// in-process wakeup signal to select on.
const dequeuePollInterval = 20 * time.Millisecond

// badgerRecord is one enqueued record, keyed for badgerhold lookup by a
// composite of handle and storage-id, and indexed by handle; sorting a
// handle's records by Seq lets a Dequeue find the oldest not-yet-removed
// record per queue.
type badgerRecord struct {
	Key      string `badgerhold:"key"`
	Handle   Handle `badgerholdIndex:"Handle"`
	Sid      StorageID
	Seq      uint64
	Data     []byte
	Dequeued bool
}

func recordKey(h Handle, sid StorageID) string {
	return fmt.Sprintf("%d:%d", h, sid)
}

// BadgerAdapter is a durable Adapter backed by badgerhold, grounded on the
// teacher's storage.Store, which persists bundles the same way. Unlike
// BundleItem's bundle-shaped record, badgerRecord stores an opaque byte
// blob so this adapter can serve any of a channel's three storage handles
// (data, payload, DACS) uniformly.
type BadgerAdapter struct {
	bh  *badgerhold.Store
	dir string

	mu      sync.Mutex
	seqs    map[Handle]uint64
	nextSid uint64
	nextHdl uint64
}

// NewBadgerAdapter opens (creating if needed) a badgerhold database at dir.
func NewBadgerAdapter(dir string) (*BadgerAdapter, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	opts := badgerhold.DefaultOptions
	opts.Dir = path.Join(dir, "db")
	opts.ValueDir = opts.Dir

	bh, err := badgerhold.Open(opts)
	if err != nil {
		return nil, err
	}

	return &BadgerAdapter{bh: bh, dir: dir, seqs: make(map[Handle]uint64)}, nil
}

// Close releases the underlying badger database.
func (a *BadgerAdapter) Close() error {
	return a.bh.Close()
}

func (a *BadgerAdapter) Create(_ string) (Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.nextHdl++
	h := Handle(a.nextHdl)
	a.seqs[h] = 0
	return h, nil
}

func (a *BadgerAdapter) Destroy(h Handle) error {
	err := a.bh.DeleteMatching(&badgerRecord{}, badgerhold.Where("Handle").Eq(h))

	a.mu.Lock()
	delete(a.seqs, h)
	a.mu.Unlock()

	return err
}

func (a *BadgerAdapter) Enqueue(h Handle, hdr, body []byte, _ time.Duration) (Status, error) {
	a.mu.Lock()
	seq := a.seqs[h]
	a.seqs[h] = seq + 1
	sid := StorageID(atomic.AddUint64(&a.nextSid, 1))
	a.mu.Unlock()

	record := make([]byte, 0, len(hdr)+len(body))
	record = append(record, hdr...)
	record = append(record, body...)

	rec := &badgerRecord{
		Key:    recordKey(h, sid),
		Handle: h,
		Sid:    sid,
		Seq:    seq,
		Data:   record,
	}

	if err := a.bh.Insert(rec.Key, rec); err != nil {
		log.WithError(err).WithField("handle", h).Warn("storage: Enqueue failed")
		return StatusOK, err
	}
	return StatusOK, nil
}

// oldestPending returns the lowest-Seq, not-yet-dequeued record for h, if any.
func (a *BadgerAdapter) oldestPending(h Handle) (*badgerRecord, error) {
	var records []badgerRecord
	query := badgerhold.Where("Handle").Eq(h).And("Dequeued").Eq(false).SortBy("Seq")
	if err := a.bh.Find(&records, query); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func (a *BadgerAdapter) Dequeue(h Handle, timeout time.Duration) ([]byte, StorageID, Status, error) {
	deadline := time.Now().Add(timeout)

	for {
		rec, err := a.oldestPending(h)
		if err != nil {
			return nil, 0, StatusOK, err
		}
		if rec != nil {
			rec.Dequeued = true
			if err := a.bh.Update(rec.Key, rec); err != nil {
				return nil, 0, StatusOK, err
			}
			return rec.Data, rec.Sid, StatusOK, nil
		}

		if timeout == 0 {
			return nil, 0, StatusTimeout, nil
		}
		if timeout > 0 && time.Now().After(deadline) {
			return nil, 0, StatusTimeout, nil
		}
		time.Sleep(dequeuePollInterval)
	}
}

func (a *BadgerAdapter) Retrieve(h Handle, sid StorageID, _ time.Duration) ([]byte, Status, error) {
	var rec badgerRecord
	if err := a.bh.Get(recordKey(h, sid), &rec); err != nil {
		return nil, StatusOK, fmt.Errorf("storage: unknown storage id %d: %v", sid, err)
	}
	return rec.Data, StatusOK, nil
}

func (a *BadgerAdapter) Relinquish(h Handle, sid StorageID) error {
	return a.bh.Delete(recordKey(h, sid), &badgerRecord{})
}

func (a *BadgerAdapter) GetCount(h Handle) (uint64, error) {
	var recs []badgerRecord
	if err := a.bh.Find(&recs, badgerhold.Where("Handle").Eq(h)); err != nil {
		return 0, err
	}
	return uint64(len(recs)), nil
}
