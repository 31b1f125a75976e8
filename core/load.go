package core

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/bpcustody/bundle"
	"github.com/dtn7/bpcustody/storage"
)

// LoadKind tags what kind of bundle a Load call emitted.
type LoadKind int

const (
	LoadNone LoadKind = iota
	LoadDacs
	LoadRetransmit
	LoadFresh
)

// LoadResult carries the serialized bundle Load selected plus the
// side-band flags spec §7 requires.
type LoadResult struct {
	Kind  LoadKind
	Data  []byte
	Flags Flags
}

// Load selects the next outbound bundle per spec §4.1.3's priority order:
// flush stale DACS, pending DACS, timeout retransmit, fresh send. timeout
// bounds only the final "fresh send" dequeue, per spec's cancellation
// convention (0 = poll, <0 = block, >0 = bounded wait).
func (c *Channel) Load(timeout time.Duration) (LoadResult, error) {
	flags := Flags(0)

	if n := c.FlushStaleDacs(); n > 0 {
		flags |= Activity
	}

	if data, ok, err := c.tryPendingDacs(); err != nil {
		return LoadResult{Flags: flags}, err
	} else if ok {
		return LoadResult{Kind: LoadDacs, Data: data, Flags: flags}, nil
	}

	if res, ok, err := c.tryRetransmit(flags); err != nil {
		return res, err
	} else if ok {
		return res, nil
	}

	return c.tryFreshSend(timeout, flags)
}

func (c *Channel) tryPendingDacs() ([]byte, bool, error) {
	data, sid, status, err := c.dacsAdapter.Dequeue(c.dacsHandle, 0)
	if err != nil {
		return nil, false, newError(FailedStore, "%v", err)
	}
	if status == storage.StatusTimeout {
		return nil, false, nil
	}
	// DACS bundles are fire-and-forget: no retransmit state refers back to
	// the record, so it can be released as soon as its bytes are in hand.
	c.dacsAdapter.Relinquish(c.dacsHandle, sid)
	return data, true, nil
}

// tryRetransmit walks the active table from oldest_cid, spec §4.1.3 step 3.
func (c *Channel) tryRetransmit(flags Flags) (LoadResult, bool, error) {
	opts := c.Options()
	now := c.clock.NowSeconds()

	type selection struct {
		cid     uint64
		sid     storage.StorageID
		data    []byte
		decoded bundle.Bundle
	}
	var sel *selection
	var walkErr error

	c.activeTable.RetransmitWalk(func(cid uint64, occupied bool, sid storage.StorageID, lastRetx uint64) bool {
		if !occupied {
			return true
		}

		data, status, err := c.dataAdapter.Retrieve(c.dataHandle, sid, 0)
		if err != nil || status == storage.StatusTimeout {
			walkErr = newError(FailedStore, "retransmit: retrieve cid %d: %v", cid, err)
			return false
		}

		b, err := decodeBundle(data)
		if err != nil {
			walkErr = newError(BundleParseError, "retransmit: decode cid %d: %v", cid, err)
			return false
		}

		if b.Primary.IsExpired(now) {
			c.dataAdapter.Relinquish(c.dataHandle, sid)
			c.activeTable.VacateExpired(cid)
			c.stats.incr(&c.stats.Expired)
			return true
		}

		if now >= lastRetx+uint64(opts.Timeout.Seconds()) {
			sel = &selection{cid: cid, sid: sid, data: data, decoded: b}
			return false
		}

		return false // oldest not yet due
	})

	if walkErr != nil {
		return LoadResult{Flags: flags}, false, walkErr
	}
	if sel == nil {
		return LoadResult{}, false, nil
	}

	outCid := sel.cid
	if !opts.CidReuse {
		outCid = c.activeTable.ReinsertAtCurrent(sel.cid, now)
	} else {
		c.activeTable.TouchRetx(sel.cid, now)
	}

	out, err := patchOutboundCid(sel.data, sel.decoded, outCid)
	if err != nil {
		return LoadResult{Flags: flags}, false, newError(BundleParseError, "%v", err)
	}

	c.stats.incr(&c.stats.Retransmitted)

	log.WithField("cid", outCid).Debug("core: retransmitting custody-bearing bundle")

	return LoadResult{Kind: LoadRetransmit, Data: out, Flags: flags}, true, nil
}

// tryFreshSend dequeues the next never-sent bundle from the data store,
// spec §4.1.3 step 4, allocating an active-table slot if it requests
// custody.
func (c *Channel) tryFreshSend(timeout time.Duration, flags Flags) (LoadResult, error) {
	opts := c.Options()

	data, sid, status, err := c.dataAdapter.Dequeue(c.dataHandle, timeout)
	if err != nil {
		return LoadResult{Flags: flags}, newError(FailedStore, "%v", err)
	}
	if status == storage.StatusTimeout {
		return LoadResult{Flags: flags}, newError(Timeout, "no bundle ready to send")
	}

	b, err := decodeBundle(data)
	if err != nil {
		return LoadResult{Flags: flags}, newError(BundleParseError, "%v", err)
	}

	now := c.clock.NowSeconds()
	if b.Primary.IsExpired(now) {
		c.dataAdapter.Relinquish(c.dataHandle, sid)
		c.stats.incr(&c.stats.Expired)
		return LoadResult{Flags: flags}, newError(Expired, "bundle %s expired before send", b.ID())
	}

	if b.Custody == nil {
		// No custody, no retransmit: release the record now.
		c.dataAdapter.Relinquish(c.dataHandle, sid)
		c.stats.incr(&c.stats.Transmitted)
		return LoadResult{Kind: LoadFresh, Data: data, Flags: flags}, nil
	}

	res := c.activeTable.Allocate(sid, now, opts.WrapResponse, WrapTimeout)
	if !res.OK {
		// Either wrap outcome leaves the fresh candidate untransmitted:
		// hand it back to the data store for a later Load call instead of
		// losing it.
		if _, qerr := c.dataAdapter.Enqueue(c.dataHandle, nil, data, opts.Timeout); qerr != nil {
			log.WithError(qerr).Warn("core: failed to re-queue deferred candidate on active-table wrap")
		} else {
			c.dataAdapter.Relinquish(c.dataHandle, sid)
		}

		if !res.Evicted {
			return LoadResult{Flags: flags | ActiveTableWrap}, newError(Overflow, "active table full")
		}

		// WrapResend: force-transmit the occupant in place, stamped with
		// its own custody-id (the stored record still carries the CID it
		// was originally enqueued with).
		evData, evStatus, everr := c.dataAdapter.Retrieve(c.dataHandle, res.EvictSID, 0)
		if everr != nil || evStatus == storage.StatusTimeout {
			return LoadResult{Flags: flags | ActiveTableWrap}, newError(FailedStore, "retransmit occupant: %v", everr)
		}
		evBundle, derr := decodeBundle(evData)
		if derr != nil {
			return LoadResult{Flags: flags | ActiveTableWrap}, newError(BundleParseError, "retransmit occupant: %v", derr)
		}
		out, perr := patchOutboundCid(evData, evBundle, res.CID)
		if perr != nil {
			return LoadResult{Flags: flags | ActiveTableWrap}, newError(BundleParseError, "retransmit occupant: %v", perr)
		}
		c.stats.incr(&c.stats.Retransmitted)
		return LoadResult{Kind: LoadRetransmit, Data: out, Flags: flags | ActiveTableWrap}, nil
	}

	if res.Evicted {
		// WrapDrop: occupant relinquished and lost.
		c.dataAdapter.Relinquish(c.dataHandle, res.EvictSID)
		c.stats.incr(&c.stats.Lost)
	}

	out, eerr := patchOutboundCid(data, b, res.CID)
	if eerr != nil {
		return LoadResult{Flags: flags}, newError(BundleParseError, "%v", eerr)
	}

	c.stats.incr(&c.stats.Transmitted)
	return LoadResult{Kind: LoadFresh, Data: out, Flags: flags}, nil
}

// patchOutboundCid stamps cid into an already-serialized custody-bearing
// bundle just before emission, spec §4.1.3's copy-out step: a BPv6 header
// is patched in place within the custody-id's reserved width, while BPv7
// is re-encoded, since rewriting a CBOR block's bytes would invalidate
// its CRC. data is never mutated; the caller gets a fresh buffer.
func patchOutboundCid(data []byte, b bundle.Bundle, cid uint64) ([]byte, error) {
	if b.Custody == nil {
		return nil, newError(BundleParseError, "bundle has no custody block to stamp")
	}
	if b.Primary.Version == 6 {
		out := append([]byte(nil), data...)
		if err := bundle.PatchCustodyIDInPlace(out, cid); err != nil {
			return nil, err
		}
		return out, nil
	}
	b.Custody.CustodyID = cid
	return bundle.EncodeV7(b)
}
