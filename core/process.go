package core

import (
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/bpcustody/bundle"
)

// Disposition reports what Process did with an inbound bundle.
type Disposition int

const (
	DispositionDelivered Disposition = iota
	DispositionForwarded
	DispositionACSConsumed
	DispositionDropped
)

// ProcessResult reports the outcome of one Process call, spec §4.1.2.
type ProcessResult struct {
	Disposition Disposition
	Flags       Flags
}

// Process parses an inbound serialized bundle and decides whether to
// deliver, forward, or consume it as custody signaling input, spec
// §4.1.2.
func (c *Channel) Process(data []byte) (ProcessResult, error) {
	flags := Flags(0)
	opts := c.Options()

	b, err := decodeBundle(data)
	if err != nil {
		return ProcessResult{Flags: flags}, newError(BundleParseError, "%v", err)
	}

	c.stats.incr(&c.stats.Received)

	kept := b.Unknown[:0]
	for _, u := range b.Unknown {
		switch {
		case u.ControlFlags.Has(bundle.DeleteNoProc):
			return ProcessResult{Disposition: DispositionDropped, Flags: flags}, newError(Dropped, "unknown block %d requests whole-bundle delete", u.TypeCode)
		case u.ControlFlags.Has(bundle.NotifyNoProc):
			flags |= NonCompliant
			kept = append(kept, u)
		case u.ControlFlags.Has(bundle.DropNoProc):
			// strip from forwarded copy: simply don't keep it
		default:
			u.ControlFlags |= bundle.ForwardNoProc
			kept = append(kept, u)
		}
	}
	b.Unknown = kept

	if b.Integrity != nil {
		ok, verr := bundle.VerifyIntegrityResult(b.Integrity.Suite, opts.IntegrityKey, b.Payload.Data, b.Integrity.Result)
		if verr != nil || !ok {
			return ProcessResult{Disposition: DispositionDropped, Flags: flags}, newError(FailedIntegrity, "integrity check failed for bundle %s", b.ID())
		}
	}

	now := c.clock.NowSeconds()
	if b.Primary.IsExpired(now) {
		c.stats.incr(&c.stats.Expired)
		return ProcessResult{Disposition: DispositionDropped, Flags: flags}, newError(Expired, "bundle %s expired", b.ID())
	}

	if b.Primary.Destination.Node != c.Local.Node {
		return c.forward(b, opts, flags)
	}

	if c.Local.Service != 0 && b.Primary.Destination.Service != c.Local.Service {
		return ProcessResult{Disposition: DispositionDropped, Flags: flags}, newError(WrongChannel, "bundle %s addressed to service %d, channel is %d", b.ID(), b.Primary.Destination.Service, c.Local.Service)
	}

	if b.IsAdministrativeRecord() {
		return c.processAdminRecord(b, flags)
	}

	if opts.ProcessAdminOnly {
		return ProcessResult{Disposition: DispositionDropped, Flags: flags}, newError(Unsupported, "channel only accepts administrative records")
	}

	return c.deliver(b, opts, flags)
}

// forward rebuilds the header with local as the new report-to/custodian,
// re-emits the custody block if the input requested custody, and enqueues
// the rewritten bundle to the data store, spec §4.1.2's forward path.
func (c *Channel) forward(b bundle.Bundle, opts Options, flags Flags) (ProcessResult, error) {
	prevCustodian := b.Primary.Custodian

	b.Primary.ReportTo = c.Local
	b.Primary.Custodian = c.Local

	// Custody is only accepted on forward when the bundle both requests it
	// and arrived with a custody block, spec §4.1.2.
	acceptCustody := b.Custody != nil && b.Primary.ControlFlags.Has(bundle.RequestCustody)
	prevCid := uint64(0)
	if acceptCustody {
		// The custody block names the previous custodian on both wire
		// versions; a v7 primary block does not carry one.
		prevCustodian = b.Custody.Custodian
		prevCid = b.Custody.CustodyID
		b.Custody = &bundle.CustodyBlock{Custodian: c.Local}
	}

	data, err := encodeBundle(b, opts.WireVersion)
	if err != nil {
		return ProcessResult{Flags: flags}, newError(BundleParseError, "%v", err)
	}

	if _, err := c.dataAdapter.Enqueue(c.dataHandle, nil, data, opts.Timeout); err != nil {
		return ProcessResult{Flags: flags | StoreFailure}, newError(FailedStore, "%v", err)
	}

	if acceptCustody {
		flags |= c.UpdateDacs(prevCustodian, prevCid, false)
	}

	c.stats.incr(&c.stats.Bundles)
	log.WithField("bundle", b.ID()).Debug("core: forwarded bundle")

	return ProcessResult{Disposition: DispositionForwarded, Flags: flags}, nil
}

// deliver enqueues the payload to the payload store and, if custody was
// requested, marks the pending DACS toward the previous custodian as a
// delivery, spec §4.1.2's deliver path.
func (c *Channel) deliver(b bundle.Bundle, opts Options, flags Flags) (ProcessResult, error) {
	header := deliveryHeader{RequestCustody: b.Primary.ControlFlags.Has(bundle.RequestCustody), PayloadSize: uint64(len(b.Payload.Data))}

	if header.RequestCustody && b.Custody != nil {
		dacsFlags := c.UpdateDacs(b.Custody.Custodian, b.Custody.CustodyID, true)
		flags |= dacsFlags | LocalCustody
		if dacsFlags.Has(Duplicates) {
			// Same custody-id already pending acknowledgment: the bundle was
			// delivered once before and the sender just never saw the ACS.
			// Re-acknowledge, but don't hand the payload up a second time.
			return ProcessResult{Disposition: DispositionDelivered, Flags: flags}, nil
		}
	}

	if _, err := c.payloadAdapter.Enqueue(c.payloadHandle, header.encode(), b.Payload.Data, opts.Timeout); err != nil {
		return ProcessResult{Flags: flags | StoreFailure}, newError(FailedStore, "%v", err)
	}

	flags |= Activity
	c.stats.incr(&c.stats.Payloads)
	c.stats.incr(&c.stats.Delivered)

	return ProcessResult{Disposition: DispositionDelivered, Flags: flags}, nil
}

// processAdminRecord dispatches an administrative-record payload by its
// leading record-type byte, spec §6/§4.1.2.
func (c *Channel) processAdminRecord(b bundle.Bundle, flags Flags) (ProcessResult, error) {
	if len(b.Payload.Data) < 2 {
		return ProcessResult{Flags: flags}, newError(BundleParseError, "administrative record payload shorter than 2 bytes")
	}

	recordType := uint64(b.Payload.Data[0])
	switch recordType {
	case bundle.ARTypeACS:
		return c.consumeACS(b, flags)
	case bundle.ARTypeCustodySignal, bundle.ARTypeStatusReport:
		return ProcessResult{Disposition: DispositionDropped, Flags: flags}, newError(UnknownRecord, "administrative record type %d is unsupported", recordType)
	default:
		return ProcessResult{Disposition: DispositionDropped, Flags: flags}, newError(UnknownRecord, "unrecognized administrative record type %d", recordType)
	}
}

// consumeACS processes an inbound Aggregate Custody Signal, spec §4.1.4.
func (c *Channel) consumeACS(b bundle.Bundle, flags Flags) (ProcessResult, error) {
	cids, err := bundle.DecodeACS(b.Payload.Data)
	if err != nil {
		return ProcessResult{Flags: flags}, newError(BundleParseError, "%v", err)
	}

	for _, cid := range cids {
		if sid, ok := c.activeTable.Acknowledge(cid); ok {
			if rerr := c.dataAdapter.Relinquish(c.dataHandle, sid); rerr != nil {
				log.WithFields(log.Fields{"cid": cid, "error": rerr}).Warn("core: failed to relinquish acknowledged bundle")
			}
			c.stats.incr(&c.stats.Acknowledged)
		}
	}
	c.stats.incr(&c.stats.Records)

	return ProcessResult{Disposition: DispositionACSConsumed, Flags: flags}, nil
}

// deliveryHeader is the small record prefix spec §4.1.2 specifies for the
// payload store: request_custody plus payload_size.
type deliveryHeader struct {
	RequestCustody bool
	PayloadSize    uint64
}

func (h deliveryHeader) encode() []byte {
	flag := byte(0)
	if h.RequestCustody {
		flag = 1
	}
	out := make([]byte, 9)
	out[0] = flag
	for i := 0; i < 8; i++ {
		out[1+i] = byte(h.PayloadSize >> (56 - 8*i))
	}
	return out
}

func decodeDeliveryHeader(buf []byte) (deliveryHeader, error) {
	if len(buf) < 9 {
		return deliveryHeader{}, newError(BundleParseError, "delivery header truncated")
	}
	var size uint64
	for i := 0; i < 8; i++ {
		size = size<<8 | uint64(buf[1+i])
	}
	return deliveryHeader{RequestCustody: buf[0] == 1, PayloadSize: size}, nil
}
