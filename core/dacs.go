package core

import (
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/bpcustody/bundle"
)

// UpdateDacs records one custody-id as pending acknowledgment toward
// remote, spec §4.1.5. delivered distinguishes "acknowledging a local
// delivery" from "acknowledging a forward accept" — a mismatch against
// the accumulator's current mode forces an immediate flush before the new
// CID is added, per spec §3's DacsAccumulator description.
func (c *Channel) UpdateDacs(remote bundle.EndpointID, cid uint64, delivered bool) Flags {
	opts := c.Options()

	c.dacsMu.Lock()
	defer c.dacsMu.Unlock()

	flags := Flags(0)
	key := eidKey(remote)

	acc, ok := c.dacsAccumulators[key]
	if !ok {
		if len(c.dacsAccumulators) >= opts.MaxConcurrentDacs {
			return flags | TooManySources
		}
		acc = NewDacsAccumulator(key)
		c.dacsAccumulators[key] = acc
	}

	if acc.Len() > 0 && acc.delivered != delivered {
		c.flushAccumulator(remote, acc, opts)
		flags |= MixedResponse
	}
	acc.delivered = delivered

	if !acc.Add(cid) {
		flags |= Duplicates
	}

	if opts.MaxTreeSize > 0 && acc.Len() >= opts.MaxTreeSize {
		c.flushAccumulator(remote, acc, opts)
	}

	return flags
}

// flushAccumulator drains acc's pending custody-ids into one or more DACS
// bundles of at most max_fills_per_dacs CIDs each and enqueues them to the
// DACS store. Caller must hold c.dacsMu.
func (c *Channel) flushAccumulator(remote bundle.EndpointID, acc *DacsAccumulator, opts Options) {
	cids := acc.Drain()
	if len(cids) == 0 {
		return
	}

	fill := opts.MaxFillsPerDacs
	if fill <= 0 {
		fill = len(cids)
	}

	for start := 0; start < len(cids); start += fill {
		end := start + fill
		if end > len(cids) {
			end = len(cids)
		}
		if err := c.sendDacs(remote, cids[start:end], opts); err != nil {
			log.WithError(err).WithField("remote", remote).Warn("core: failed to enqueue DACS bundle")
		}
	}

	acc.MarkSent(c.clock.NowSeconds())
}

// sendDacs builds and enqueues one Aggregate Custody Signal bundle
// acknowledging cids to remote, spec §4.1.5.
func (c *Channel) sendDacs(remote bundle.EndpointID, cids []uint64, opts Options) error {
	primary := bundle.NewPrimaryBlock(
		opts.WireVersion,
		bundle.AdministrativeRecordPayload,
		remote,
		c.Local,
		bundle.NewCreationTimestamp(c.clock.NowSeconds(), 0),
		opts.Lifetime,
	)
	primary.ReportTo = c.Local
	primary.Custodian = c.Local

	b, err := bundle.NewBundle(primary, bundle.PayloadBlock{Data: bundle.EncodeACS(cids)})
	if err != nil {
		return newError(ParamError, "%v", err)
	}

	if opts.IntegrityCheck {
		result, ierr := bundle.ComputeIntegrityResult(opts.PayloadCRCType, opts.IntegrityKey, b.Payload.Data)
		if ierr != nil {
			return newError(ParamError, "%v", ierr)
		}
		b.Integrity = &bundle.IntegrityBlock{Suite: opts.PayloadCRCType, Result: result}
	}

	data, err := encodeBundle(b, opts.WireVersion)
	if err != nil {
		return newError(BundleParseError, "%v", err)
	}

	if _, err := c.dacsAdapter.Enqueue(c.dacsHandle, nil, data, opts.Timeout); err != nil {
		return newError(FailedStore, "%v", err)
	}

	c.stats.incr(&c.stats.Records)
	return nil
}

// FlushStaleDacs drains every accumulator due for a time-based flush,
// spec §4.1.3 step 1. Returns how many accumulators were flushed; one
// flush can enqueue several DACS bundles.
func (c *Channel) FlushStaleDacs() int {
	opts := c.Options()

	c.dacsMu.Lock()
	defer c.dacsMu.Unlock()

	now := c.clock.NowSeconds()
	flushed := 0

	for key, acc := range c.dacsAccumulators {
		if !acc.DueToFlush(now, opts.DacsRateSeconds, opts.MaxFillsPerDacs) {
			continue
		}
		remote, _ := bundle.NewIpnEndpointID(uint32(key.Node), uint32(key.Service))
		before := acc.Len()
		c.flushAccumulator(remote, acc, opts)
		if before > 0 {
			flushed++
		}
	}

	return flushed
}
