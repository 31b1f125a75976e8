package core

import (
	"testing"
	"time"

	"github.com/dtn7/bpcustody/bundle"
	"github.com/dtn7/bpcustody/storage"
)

func newTestChannel(t *testing.T, local bundle.EndpointID, opts Options) *Channel {
	t.Helper()
	c, err := NewChannel(local, opts, storage.NewRingAdapter(), storage.NewRingAdapter(), storage.NewRingAdapter())
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	return c
}

func TestStoreAndLoadFreshSendNoCustody(t *testing.T) {
	local := bundle.MustNewEndpointID("ipn:1.10")
	opts := DefaultOptions()
	opts.DestinationNode, opts.DestinationService = 2, 10
	opts.WireVersion = 7

	c := newTestChannel(t, local, opts)

	if _, err := c.Store([]byte("hello")); err != nil {
		t.Fatalf("Store: %v", err)
	}

	res, err := c.Load(0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Kind != LoadFresh {
		t.Errorf("Kind = %v, want LoadFresh", res.Kind)
	}

	got, err := bundle.DecodeV7(res.Data)
	if err != nil {
		t.Fatalf("DecodeV7: %v", err)
	}
	if string(got.Payload.Data) != "hello" {
		t.Errorf("payload = %q, want hello", got.Payload.Data)
	}
	if got.Custody != nil {
		t.Error("bundle should not carry a custody block")
	}
}

func TestStoreAndLoadAssignsCustodyID(t *testing.T) {
	local := bundle.MustNewEndpointID("ipn:1.10")
	opts := DefaultOptions()
	opts.DestinationNode, opts.DestinationService = 2, 10
	opts.RequestCustody = true
	opts.WireVersion = 6

	c := newTestChannel(t, local, opts)

	for i := 0; i < 3; i++ {
		if _, err := c.Store([]byte("x")); err != nil {
			t.Fatalf("Store #%d: %v", i, err)
		}
	}

	for i := 0; i < 3; i++ {
		res, err := c.Load(0)
		if err != nil {
			t.Fatalf("Load #%d: %v", i, err)
		}
		b, err := bundle.DecodeV6(res.Data)
		if err != nil {
			t.Fatalf("DecodeV6: %v", err)
		}
		if b.Custody == nil {
			t.Fatalf("bundle #%d missing custody block", i)
		}
		if b.Custody.CustodyID != uint64(i) {
			t.Errorf("bundle #%d CID = %d, want %d", i, b.Custody.CustodyID, i)
		}
	}

	if active := c.activeTable.Active(); active != 3 {
		t.Errorf("active table occupancy = %d, want 3", active)
	}
}

// custodyAckRoundTrip mirrors spec scenario 2: A originates bundles with
// custody, Z processes and acknowledges them via a DACS, and A's active
// table drains back to empty.
func TestCustodyAckRoundTrip(t *testing.T) {
	a := bundle.MustNewEndpointID("ipn:1.1")
	z := bundle.MustNewEndpointID("ipn:2.1")

	optsA := DefaultOptions()
	optsA.DestinationNode, optsA.DestinationService = 2, 1
	optsA.RequestCustody = true
	optsA.WireVersion = 7

	chA := newTestChannel(t, a, optsA)

	optsZ := DefaultOptions()
	optsZ.WireVersion = 7
	chZ := newTestChannel(t, z, optsZ)

	const n = 4
	for i := 0; i < n; i++ {
		if _, err := chA.Store([]byte("payload")); err != nil {
			t.Fatalf("Store #%d: %v", i, err)
		}
	}

	var sent [][]byte
	for i := 0; i < n; i++ {
		res, err := chA.Load(0)
		if err != nil {
			t.Fatalf("A.Load #%d: %v", i, err)
		}
		sent = append(sent, res.Data)
	}

	for _, data := range sent {
		if _, err := chZ.Process(data); err != nil {
			t.Fatalf("Z.Process: %v", err)
		}
	}

	dacsRes, err := chZ.Load(0)
	if err != nil {
		t.Fatalf("Z.Load (dacs): %v", err)
	}
	if dacsRes.Kind != LoadDacs {
		t.Fatalf("Z.Load kind = %v, want LoadDacs", dacsRes.Kind)
	}

	if _, err := chA.Process(dacsRes.Data); err != nil {
		t.Fatalf("A.Process(dacs): %v", err)
	}

	// oldest_cid only advances lazily from load (spec §4.1.4), so one more
	// Load call is needed to sweep the now-fully-acknowledged window;
	// nothing is left to send, so it's expected to time out.
	if _, err := chA.Load(0); err == nil {
		t.Fatal("expected A.Load to time out once nothing remains to send")
	}

	if active := chA.activeTable.Active(); active != 0 {
		t.Errorf("A active table occupancy after ack = %d, want 0", active)
	}
	stats, _ := chA.Stats()
	if stats.Acknowledged != n {
		t.Errorf("A acknowledged = %d, want %d", stats.Acknowledged, n)
	}
}

func TestRetransmitOnTimeout(t *testing.T) {
	local := bundle.MustNewEndpointID("ipn:1.1")
	opts := DefaultOptions()
	opts.DestinationNode, opts.DestinationService = 2, 1
	opts.RequestCustody = true
	opts.WireVersion = 7
	opts.Timeout = 2 * time.Second
	opts.CidReuse = true

	c := newTestChannel(t, local, opts)
	clock := NewManualClock(1000)
	c.SetClock(clock)

	if _, err := c.Store([]byte("x")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, err := c.Load(0); err != nil {
		t.Fatalf("Load: %v", err)
	}

	clock.Advance(3)

	res, err := c.Load(0)
	if err != nil {
		t.Fatalf("Load (retransmit): %v", err)
	}
	if res.Kind != LoadRetransmit {
		t.Fatalf("Kind = %v, want LoadRetransmit", res.Kind)
	}

	b, err := bundle.DecodeV7(res.Data)
	if err != nil {
		t.Fatalf("DecodeV7: %v", err)
	}
	if b.Custody.CustodyID != 0 {
		t.Errorf("cid_reuse=true should keep CID 0, got %d", b.Custody.CustodyID)
	}

	stats, _ := c.Stats()
	if stats.Retransmitted != 1 {
		t.Errorf("retransmitted = %d, want 1", stats.Retransmitted)
	}
}

func TestWrapDropLosesOldest(t *testing.T) {
	local := bundle.MustNewEndpointID("ipn:1.1")
	opts := DefaultOptions()
	opts.DestinationNode, opts.DestinationService = 2, 1
	opts.RequestCustody = true
	opts.WireVersion = 7
	opts.ActiveTableSize = 4
	opts.WrapResponse = WrapDrop

	c := newTestChannel(t, local, opts)

	for i := 0; i < 5; i++ {
		if _, err := c.Store([]byte("x")); err != nil {
			t.Fatalf("Store #%d: %v", i, err)
		}
		if _, err := c.Load(0); err != nil {
			t.Fatalf("Load #%d: %v", i, err)
		}
	}

	stats, active := c.Stats()
	if stats.Lost != 1 {
		t.Errorf("lost = %d, want 1", stats.Lost)
	}
	if active != 4 {
		t.Errorf("active = %d, want 4", active)
	}
}

// TestWrapResendRetransmitsOccupantWithItsCid pins the WrapResend copy-out:
// with a one-slot table, the second Load force-transmits the occupant
// (payload "occupant", its own custody-id 0) as a retransmit flagged
// ActiveTableWrap, instead of sending the deferred fresh candidate.
func TestWrapResendRetransmitsOccupantWithItsCid(t *testing.T) {
	local := bundle.MustNewEndpointID("ipn:1.1")
	opts := DefaultOptions()
	opts.DestinationNode, opts.DestinationService = 2, 1
	opts.RequestCustody = true
	opts.WireVersion = 7
	opts.ActiveTableSize = 1
	opts.WrapResponse = WrapResend

	c := newTestChannel(t, local, opts)

	if _, err := c.Store([]byte("occupant")); err != nil {
		t.Fatalf("Store occupant: %v", err)
	}
	if _, err := c.Store([]byte("deferred")); err != nil {
		t.Fatalf("Store deferred: %v", err)
	}

	first, err := c.Load(0)
	if err != nil {
		t.Fatalf("Load (fresh): %v", err)
	}
	if first.Kind != LoadFresh {
		t.Fatalf("first Kind = %v, want LoadFresh", first.Kind)
	}

	second, err := c.Load(0)
	if err != nil {
		t.Fatalf("Load (wrap resend): %v", err)
	}
	if second.Kind != LoadRetransmit {
		t.Fatalf("second Kind = %v, want LoadRetransmit", second.Kind)
	}
	if !second.Flags.Has(ActiveTableWrap) {
		t.Error("expected ActiveTableWrap flag on a wrap resend")
	}

	got, err := bundle.DecodeV7(second.Data)
	if err != nil {
		t.Fatalf("DecodeV7: %v", err)
	}
	if string(got.Payload.Data) != "occupant" {
		t.Errorf("retransmitted payload = %q, want the occupant", got.Payload.Data)
	}
	if got.Custody == nil || got.Custody.CustodyID != 0 {
		t.Errorf("retransmitted CID = %+v, want the occupant's CID 0", got.Custody)
	}

	stats, _ := c.Stats()
	if stats.Retransmitted != 1 {
		t.Errorf("retransmitted = %d, want 1", stats.Retransmitted)
	}
}

func TestProcessDeliversLocalBundle(t *testing.T) {
	a := bundle.MustNewEndpointID("ipn:1.1")
	z := bundle.MustNewEndpointID("ipn:2.1")

	optsA := DefaultOptions()
	optsA.DestinationNode, optsA.DestinationService = 2, 1
	optsA.WireVersion = 7
	chA := newTestChannel(t, a, optsA)

	optsZ := DefaultOptions()
	optsZ.WireVersion = 7
	chZ := newTestChannel(t, z, optsZ)

	if _, err := chA.Store([]byte("hello")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	loaded, err := chA.Load(0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	procRes, err := chZ.Process(loaded.Data)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if procRes.Disposition != DispositionDelivered {
		t.Fatalf("Disposition = %v, want DispositionDelivered", procRes.Disposition)
	}
	if !procRes.Flags.Has(Activity) {
		t.Error("expected Activity flag on delivery")
	}

	accepted, err := chZ.Accept(0)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if string(accepted.Payload) != "hello" {
		t.Errorf("accepted payload = %q, want hello", accepted.Payload)
	}
}

func TestProcessForwardsToOtherNode(t *testing.T) {
	a := bundle.MustNewEndpointID("ipn:1.1")
	b := bundle.MustNewEndpointID("ipn:2.1")

	optsA := DefaultOptions()
	optsA.DestinationNode, optsA.DestinationService = 3, 1
	optsA.WireVersion = 7
	chA := newTestChannel(t, a, optsA)

	optsB := DefaultOptions()
	optsB.WireVersion = 7
	chB := newTestChannel(t, b, optsB)

	if _, err := chA.Store([]byte("transit")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	loaded, err := chA.Load(0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	res, err := chB.Process(loaded.Data)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Disposition != DispositionForwarded {
		t.Fatalf("Disposition = %v, want DispositionForwarded", res.Disposition)
	}

	fwdRes, err := chB.Load(0)
	if err != nil {
		t.Fatalf("B.Load: %v", err)
	}
	fwd, err := bundle.DecodeV7(fwdRes.Data)
	if err != nil {
		t.Fatalf("DecodeV7: %v", err)
	}
	if fwd.Primary.Custodian != b {
		t.Errorf("forwarded custodian = %v, want %v", fwd.Primary.Custodian, b)
	}
}

// TestProcessForwardWithCustodyOpensDacs mirrors spec scenario 5: a transit
// node takes over as custodian and opens a pending DACS toward the previous
// one, acknowledging the custody-id the previous custodian assigned.
func TestProcessForwardWithCustodyOpensDacs(t *testing.T) {
	a := bundle.MustNewEndpointID("ipn:1.1")
	b := bundle.MustNewEndpointID("ipn:2.1")

	optsA := DefaultOptions()
	optsA.DestinationNode, optsA.DestinationService = 3, 1
	optsA.RequestCustody = true
	optsA.WireVersion = 7
	chA := newTestChannel(t, a, optsA)

	optsB := DefaultOptions()
	optsB.WireVersion = 7
	chB := newTestChannel(t, b, optsB)

	if _, err := chA.Store([]byte("transit")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	loaded, err := chA.Load(0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	sent, err := bundle.DecodeV7(loaded.Data)
	if err != nil {
		t.Fatalf("DecodeV7: %v", err)
	}

	res, err := chB.Process(loaded.Data)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Disposition != DispositionForwarded {
		t.Fatalf("Disposition = %v, want DispositionForwarded", res.Disposition)
	}

	chB.dacsMu.Lock()
	acc, ok := chB.dacsAccumulators[eidKey(a)]
	chB.dacsMu.Unlock()
	if !ok {
		t.Fatal("expected a pending DACS accumulator toward the previous custodian")
	}
	pending := acc.Drain()
	if len(pending) != 1 || pending[0] != sent.Custody.CustodyID {
		t.Errorf("pending CIDs = %v, want [%d]", pending, sent.Custody.CustodyID)
	}

	fwdRes, err := chB.Load(0)
	if err != nil {
		t.Fatalf("B.Load: %v", err)
	}
	fwd, err := bundle.DecodeV7(fwdRes.Data)
	if err != nil {
		t.Fatalf("DecodeV7: %v", err)
	}
	if fwd.Primary.Custodian != b || fwd.Primary.ReportTo != b {
		t.Errorf("forwarded custodian/report-to = %v/%v, want %v", fwd.Primary.Custodian, fwd.Primary.ReportTo, b)
	}
	if fwd.Custody == nil || fwd.Custody.Custodian != b {
		t.Errorf("forwarded custody block = %+v, want custodian %v", fwd.Custody, b)
	}
}

// TestProcessDuplicateDeliveryFlagged covers spec's idempotence property:
// processing the same custody-bearing bundle twice delivers the payload
// once and flags the second call as a duplicate.
func TestProcessDuplicateDeliveryFlagged(t *testing.T) {
	a := bundle.MustNewEndpointID("ipn:1.1")
	z := bundle.MustNewEndpointID("ipn:2.1")

	optsA := DefaultOptions()
	optsA.DestinationNode, optsA.DestinationService = 2, 1
	optsA.RequestCustody = true
	optsA.WireVersion = 7
	chA := newTestChannel(t, a, optsA)

	optsZ := DefaultOptions()
	optsZ.WireVersion = 7
	chZ := newTestChannel(t, z, optsZ)

	if _, err := chA.Store([]byte("once")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	loaded, err := chA.Load(0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if _, err := chZ.Process(loaded.Data); err != nil {
		t.Fatalf("first Process: %v", err)
	}
	second, err := chZ.Process(loaded.Data)
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if !second.Flags.Has(Duplicates) {
		t.Error("second Process of the same bundle should flag Duplicates")
	}

	count, err := chZ.payloadAdapter.GetCount(chZ.payloadHandle)
	if err != nil {
		t.Fatalf("GetCount: %v", err)
	}
	if count != 1 {
		t.Errorf("payload store holds %d records, want exactly 1", count)
	}

	stats, _ := chZ.Stats()
	if stats.Delivered != 1 {
		t.Errorf("delivered = %d, want 1", stats.Delivered)
	}
}

func TestProcessExpiredBundleDropped(t *testing.T) {
	z := bundle.MustNewEndpointID("ipn:2.1")
	opts := DefaultOptions()
	opts.WireVersion = 7
	c := newTestChannel(t, z, opts)
	clock := NewManualClock(200)
	c.SetClock(clock)

	primary := bundle.NewPrimaryBlock(7, 0, z, bundle.MustNewEndpointID("ipn:1.1"),
		bundle.NewCreationTimestamp(100, 0), 10)
	b, err := bundle.NewBundle(primary, bundle.PayloadBlock{Data: []byte("late")})
	if err != nil {
		t.Fatalf("NewBundle: %v", err)
	}
	data, err := bundle.EncodeV7(b)
	if err != nil {
		t.Fatalf("EncodeV7: %v", err)
	}

	_, err = c.Process(data)
	if code, ok := CodeOf(err); !ok || code != Expired {
		t.Fatalf("Process err = %v, want Expired", err)
	}

	stats, _ := c.Stats()
	if stats.Expired != 1 {
		t.Errorf("expired = %d, want 1", stats.Expired)
	}
}
