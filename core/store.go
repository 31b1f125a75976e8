package core

import (
	"github.com/dtn7/bpcustody/bundle"
)

// StoreResult reports what Store did: how many serialized fragments
// were enqueued and the side-band flags spec §7 requires alongside every
// engine operation.
type StoreResult struct {
	Fragments int
	Flags     Flags
}

// Store originates a new bundle from payload using the channel's current
// templates, spec §4.1.1. It sets the creation timestamp to the current
// system second and the channel's next sequence number, fragments if
// payload exceeds bundle_max_length and fragmentation is allowed,
// computes integrity over each fragment's payload if requested, and
// enqueues the serialized fragment(s) to the data store. The sequence
// counter only advances once the whole operation succeeds.
func (c *Channel) Store(payload []byte) (StoreResult, error) {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()

	opts := c.options
	if !opts.OriginateFlag {
		return StoreResult{}, newError(Unsupported, "channel is not configured to originate")
	}

	flags := Flags(0)

	if len(payload) > opts.BundleMaxLength && !opts.AllowFragment {
		return StoreResult{}, newError(BundleTooLarge, "payload %d bytes exceeds max %d and fragmentation is disabled", len(payload), opts.BundleMaxLength)
	}

	ctrl := bundle.BundleControlFlags(0)
	if opts.RequestCustody {
		ctrl |= bundle.RequestCustody
	}
	if opts.IntegrityCheck {
		ctrl |= bundle.RequestIntegrityCheck
	}

	seq := c.seq

	primary := bundle.NewPrimaryBlock(
		opts.WireVersion,
		ctrl,
		opts.destination(),
		c.Local,
		bundle.NewCreationTimestamp(c.clock.NowSeconds(), seq),
		opts.Lifetime,
	)
	primary.ReportTo = opts.reportTo(c.Local)
	primary.Custodian = opts.custodian(c.Local)

	full, err := bundle.NewBundle(primary, bundle.PayloadBlock{Data: payload})
	if err != nil {
		return StoreResult{}, newError(ParamError, "%v", err)
	}

	maxLen := opts.BundleMaxLength
	if maxLen <= 0 {
		maxLen = len(payload)
		if maxLen == 0 {
			maxLen = 1
		}
	}

	fragments, err := full.Fragment(maxLen)
	if err != nil {
		return StoreResult{}, newError(BundleTooLarge, "%v", err)
	}

	for i := range fragments {
		if opts.RequestCustody {
			fragments[i].Custody = &bundle.CustodyBlock{Custodian: primary.Custodian}
		}
		if opts.IntegrityCheck {
			result, ierr := bundle.ComputeIntegrityResult(opts.PayloadCRCType, opts.IntegrityKey, fragments[i].Payload.Data)
			if ierr != nil {
				return StoreResult{}, newError(ParamError, "%v", ierr)
			}
			fragments[i].Integrity = &bundle.IntegrityBlock{Suite: opts.PayloadCRCType, Result: result}
		}
	}

	encoded := make([][]byte, len(fragments))
	for i, frag := range fragments {
		data, eerr := encodeBundle(frag, opts.WireVersion)
		if eerr != nil {
			return StoreResult{}, newError(BundleParseError, "%v", eerr)
		}
		encoded[i] = data
	}

	for _, data := range encoded {
		if _, err := c.dataAdapter.Enqueue(c.dataHandle, nil, data, opts.Timeout); err != nil {
			return StoreResult{Flags: flags | StoreFailure}, newError(FailedStore, "%v", err)
		}
	}

	c.seq++
	c.stats.incr(&c.stats.Generated)
	for range encoded {
		c.stats.incr(&c.stats.Bundles)
	}

	if len(fragments) > 1 {
		flags |= Incomplete
	}

	return StoreResult{Fragments: len(fragments), Flags: flags}, nil
}

// encodeBundle serializes b with the wire codec the channel is configured
// to use, raw bytes only (no CID patch metadata) — used for fresh
// origination where the custody-id is not yet known.
func encodeBundle(b bundle.Bundle, version uint8) ([]byte, error) {
	if version == 6 {
		enc, err := bundle.EncodeV6(b)
		if err != nil {
			return nil, err
		}
		return enc.Bytes, nil
	}
	return bundle.EncodeV7(b)
}
