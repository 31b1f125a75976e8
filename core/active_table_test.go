package core

import (
	"testing"
	"time"

	"github.com/dtn7/bpcustody/storage"
)

func TestActiveTableAllocateAndAcknowledge(t *testing.T) {
	at := NewActiveTable(4)

	res := at.Allocate(100, 1, WrapBlock, 10*time.Millisecond)
	if !res.OK || res.CID != 0 {
		t.Fatalf("unexpected first allocation: %+v", res)
	}

	if got := at.Active(); got != 1 {
		t.Errorf("Active() = %d, want 1", got)
	}

	sid, ok := at.Acknowledge(0)
	if !ok || sid != 100 {
		t.Fatalf("Acknowledge(0) = (%v, %v), want (100, true)", sid, ok)
	}

	if _, ok := at.Acknowledge(0); ok {
		t.Error("second Acknowledge(0) should fail, slot already vacant")
	}
}

func TestActiveTableAllocateWrapBlockTimesOut(t *testing.T) {
	at := NewActiveTable(1)

	if res := at.Allocate(1, 1, WrapBlock, 0); !res.OK {
		t.Fatalf("first allocation should succeed: %+v", res)
	}

	start := time.Now()
	res := at.Allocate(2, 2, WrapBlock, 20*time.Millisecond)
	if res.OK {
		t.Fatalf("expected WrapBlock allocation to fail while slot occupied, got %+v", res)
	}
	if res.Status != Overflow {
		t.Errorf("expected Overflow status, got %v", res.Status)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("Allocate returned too early: %v", elapsed)
	}
}

func TestActiveTableAllocateWrapDropEvicts(t *testing.T) {
	at := NewActiveTable(1)

	at.Allocate(1, 1, WrapDrop, 0)
	res := at.Allocate(2, 2, WrapDrop, 0)
	if !res.OK || !res.Evicted || res.EvictSID != 1 {
		t.Fatalf("expected WrapDrop to evict sid 1, got %+v", res)
	}
}

func TestActiveTableAllocateWrapResendDefersCandidate(t *testing.T) {
	at := NewActiveTable(1)

	at.Allocate(1, 1, WrapResend, 0)

	res := at.Allocate(2, 2, WrapResend, 10*time.Millisecond)
	if res.OK {
		t.Fatalf("expected WrapResend to leave the candidate unallocated, got %+v", res)
	}
	if !res.Evicted || res.EvictSID != 1 {
		t.Fatalf("expected WrapResend to report the occupant for force-transmit, got %+v", res)
	}
	if res.CID != 0 {
		t.Errorf("WrapResend should report the occupant's CID 0, got %d", res.CID)
	}

	sid, ok := at.Acknowledge(0)
	if !ok || sid != 1 {
		t.Fatalf("occupant should still hold slot 0 after WrapResend, got (%v, %v)", sid, ok)
	}
}

func TestActiveTableRetransmitWalkStopsEarly(t *testing.T) {
	at := NewActiveTable(4)
	at.Allocate(10, 1, WrapBlock, 0)
	at.Allocate(11, 1, WrapBlock, 0)
	at.Allocate(12, 1, WrapBlock, 0)

	var seen []uint64
	at.RetransmitWalk(func(cid uint64, occupied bool, sid storage.StorageID, lastRetx uint64) bool {
		seen = append(seen, cid)
		return cid != 1
	})

	if len(seen) != 2 || seen[0] != 0 || seen[1] != 1 {
		t.Errorf("RetransmitWalk visited %v, want early stop at cid 1", seen)
	}
}

func TestActiveTableVacateExpiredAdvancesOldest(t *testing.T) {
	at := NewActiveTable(4)
	at.Allocate(10, 1, WrapBlock, 0)
	at.Allocate(11, 1, WrapBlock, 0)

	at.VacateExpired(0)

	var seen []uint64
	at.RetransmitWalk(func(cid uint64, occupied bool, sid storage.StorageID, lastRetx uint64) bool {
		if occupied {
			seen = append(seen, cid)
		}
		return true
	})
	if len(seen) != 1 || seen[0] != 1 {
		t.Errorf("after VacateExpired(0), occupied cids = %v, want [1]", seen)
	}
	if got := at.Active(); got != 1 {
		t.Errorf("Active() after the walk = %d, want 1 (oldest advanced past cid 0)", got)
	}
}
