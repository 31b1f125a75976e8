package cache

import (
	"testing"

	"github.com/dtn7/bpcustody/bundle"
	"github.com/dtn7/bpcustody/storage"
)

func testBundle(t *testing.T, source, dest bundle.EndpointID, seq, lifetimeSec uint64) bundle.Bundle {
	t.Helper()
	primary := bundle.NewPrimaryBlock(7, 0, dest, source, bundle.NewCreationTimestamp(1000, seq), lifetimeSec)
	b, err := bundle.NewBundle(primary, bundle.PayloadBlock{Data: []byte("hello")})
	if err != nil {
		t.Fatalf("NewBundle: %v", err)
	}
	return b
}

func newTestCache(t *testing.T, opts Options) *Cache {
	t.Helper()
	local := bundle.MustNewEndpointID("ipn:1.1")
	c, err := New(local, opts, storage.NewRingAdapter())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestStoreBundleStoresOnce(t *testing.T) {
	c := newTestCache(t, DefaultOptions())
	source := bundle.MustNewEndpointID("ipn:2.1")
	dest := bundle.MustNewEndpointID("ipn:3.1")

	dup, err := c.StoreBundle(testBundle(t, source, dest, 1, 0), 0)
	if err != nil {
		t.Fatalf("StoreBundle: %v", err)
	}
	if dup {
		t.Error("first store should not be a duplicate")
	}
	// One entry for the stored bundle, one for the generate-dacs entry
	// opened to acknowledge it back to its custodian.
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
	if got := c.Stats().Stored; got != 1 {
		t.Errorf("Stored = %d, want 1", got)
	}
}

func TestStoreBundleDuplicateReacknowledges(t *testing.T) {
	c := newTestCache(t, DefaultOptions())
	source := bundle.MustNewEndpointID("ipn:2.1")
	dest := bundle.MustNewEndpointID("ipn:3.1")
	b := testBundle(t, source, dest, 1, 0)

	if _, err := c.StoreBundle(b, 0); err != nil {
		t.Fatalf("StoreBundle: %v", err)
	}
	dup, err := c.StoreBundle(b, 10)
	if err != nil {
		t.Fatalf("StoreBundle (dup): %v", err)
	}
	if !dup {
		t.Error("second store of the same (source, sequence) should be a duplicate")
	}
	if got := c.Stats().Duplicates; got != 1 {
		t.Errorf("Duplicates = %d, want 1", got)
	}
	// A generate-dacs entry should now exist toward the bundle's custodian
	// (its own source, since NewPrimaryBlock defaults Custodian to source).
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2 (stored bundle + generate-dacs)", c.Len())
	}
}

func TestDacsFinalizesOnFillAndEgresses(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxSeqPerPayload = 2
	c := newTestCache(t, opts)
	source := bundle.MustNewEndpointID("ipn:2.1")
	dest := bundle.MustNewEndpointID("ipn:3.1")

	b1 := testBundle(t, source, dest, 1, 0)
	b2 := testBundle(t, source, dest, 2, 0)
	if _, err := c.StoreBundle(b1, 0); err != nil {
		t.Fatalf("StoreBundle b1: %v", err)
	}
	// Both bundles share (source, custodian): the second store's own
	// custody-ack append lands on the same open generate-dacs entry as the
	// first and hits MaxSeqPerPayload, finalizing it immediately.
	if _, err := c.StoreBundle(b2, 0); err != nil {
		t.Fatalf("StoreBundle b2: %v", err)
	}

	if n := c.Poll(0); n == 0 {
		t.Fatal("Poll should have processed the finalized DACS entry")
	}
	out := c.DrainEgress()
	if len(out) != 1 {
		t.Fatalf("DrainEgress() = %d records, want 1", len(out))
	}
	got, err := bundle.DecodeV7(out[0])
	if err != nil {
		t.Fatalf("DecodeV7: %v", err)
	}
	if !got.IsAdministrativeRecord() {
		t.Error("egressed DACS payload should be an administrative record")
	}
	if got := c.Stats().DacsSent; got != 1 {
		t.Errorf("DacsSent = %d, want 1", got)
	}
}

func TestConsumeRemoteDacsClearsLocalCustody(t *testing.T) {
	c := newTestCache(t, DefaultOptions())
	source := bundle.MustNewEndpointID("ipn:2.1")
	dest := bundle.MustNewEndpointID("ipn:3.1")
	b := testBundle(t, source, dest, 1, 0)
	if _, err := c.StoreBundle(b, 0); err != nil {
		t.Fatalf("StoreBundle: %v", err)
	}

	c.mu.Lock()
	var e *entry
	for _, candidate := range c.entries {
		if !candidate.isDacs {
			e = candidate
		}
	}
	c.mu.Unlock()
	if e == nil {
		t.Fatal("expected a stored bundle entry")
	}
	if !e.flags.Has(LocalCustody) {
		t.Fatal("stored bundle should start with local custody")
	}

	c.ConsumeRemoteDacs(source, []uint64{1}, 0)

	if e.flags.Has(LocalCustody) {
		t.Error("LocalCustody should be cleared after the remote DACS arrives")
	}
	if got := c.Stats().CustodyReleased; got != 1 {
		t.Errorf("CustodyReleased = %d, want 1", got)
	}
	if e.state != StateTerminal {
		t.Errorf("entry state = %v, want terminal", e.state)
	}
	if _, ok := c.entries[e.id]; ok {
		t.Error("entry should be reclaimed once custody transfers downstream")
	}
}

func TestPollExpiresStaleEntry(t *testing.T) {
	c := newTestCache(t, DefaultOptions())
	source := bundle.MustNewEndpointID("ipn:2.1")
	dest := bundle.MustNewEndpointID("ipn:3.1")
	b := testBundle(t, source, dest, 1, 5)

	if _, err := c.StoreBundle(b, 0); err != nil {
		t.Fatalf("StoreBundle: %v", err)
	}
	if c.Poll(4999) != 0 {
		t.Error("entry should not expire before its lifetime elapses")
	}
	if n := c.Poll(5000); n == 0 {
		t.Error("entry should expire once its lifetime has elapsed")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after expiry", c.Len())
	}
	if got := c.Stats().Expired; got != 1 {
		t.Errorf("Expired = %d, want 1", got)
	}
}

func TestRouteUpQueuesMatchingDestinations(t *testing.T) {
	c := newTestCache(t, DefaultOptions())
	source := bundle.MustNewEndpointID("ipn:2.1")
	dest := bundle.MustNewEndpointID("ipn:3.1")
	b := testBundle(t, source, dest, 1, 0)
	if _, err := c.StoreBundle(b, 0); err != nil {
		t.Fatalf("StoreBundle: %v", err)
	}

	c.mu.Lock()
	var e *entry
	for _, candidate := range c.entries {
		if !candidate.isDacs {
			e = candidate
		}
	}
	c.mu.Unlock()
	if e.state != StateIdle {
		t.Fatalf("entry state = %v, want idle before RouteUp", e.state)
	}

	c.RouteUp(uint64(dest.Node), ^uint64(0))

	c.mu.Lock()
	state := e.state
	c.mu.Unlock()
	if state != StateQueuedForEgress {
		t.Errorf("entry state = %v, want queued-for-egress after RouteUp", state)
	}

	if n := c.Poll(0); n == 0 {
		t.Fatal("Poll should hand the queued entry to egress")
	}
	if out := c.DrainEgress(); len(out) != 1 {
		t.Errorf("DrainEgress() = %d records, want 1", len(out))
	}
}

func TestIntfStateChangeGatesEgress(t *testing.T) {
	c := newTestCache(t, DefaultOptions())
	c.IntfStateChange(false)
	if c.egressDepth != 0 || c.ingressDepth != 0 {
		t.Fatalf("depths after down = (%d, %d), want (0, 0)", c.ingressDepth, c.egressDepth)
	}

	source := bundle.MustNewEndpointID("ipn:2.1")
	dest := bundle.MustNewEndpointID("ipn:3.1")
	b := testBundle(t, source, dest, 1, 0)
	if _, err := c.StoreBundle(b, 0); err != nil {
		t.Fatalf("StoreBundle: %v", err)
	}
	c.RouteUp(uint64(dest.Node), ^uint64(0))

	if n := c.Poll(0); n != 0 {
		t.Errorf("Poll() = %d while the interface is down, want 0", n)
	}
	if out := c.DrainEgress(); len(out) != 0 {
		t.Errorf("DrainEgress() = %d while down, want 0", len(out))
	}

	c.IntfStateChange(true)
	if n := c.Poll(0); n == 0 {
		t.Error("Poll should process the deferred entry once the interface is back up")
	}
}

func TestAwaitingCustodyAckTimeoutReturnsToIdle(t *testing.T) {
	opts := DefaultOptions()
	opts.CustodyAckTimeoutMs = 100
	c := newTestCache(t, opts)
	source := bundle.MustNewEndpointID("ipn:2.1")
	dest := bundle.MustNewEndpointID("ipn:3.1")
	b := testBundle(t, source, dest, 1, 0)
	if _, err := c.StoreBundle(b, 0); err != nil {
		t.Fatalf("StoreBundle: %v", err)
	}
	c.RouteUp(uint64(dest.Node), ^uint64(0))
	if n := c.Poll(0); n == 0 {
		t.Fatal("Poll should egress the queued entry")
	}

	c.mu.Lock()
	var e *entry
	for _, candidate := range c.entries {
		if !candidate.isDacs {
			e = candidate
		}
	}
	state := e.state
	c.mu.Unlock()
	if state != StateAwaitingCustodyAck {
		t.Fatalf("entry state = %v, want awaiting-custody-ack", state)
	}

	if n := c.Poll(50); n != 0 {
		t.Errorf("Poll(50) = %d, want 0 before the ack timeout elapses", n)
	}
	if n := c.Poll(100); n == 0 {
		t.Fatal("Poll(100) should time out the custody ack wait")
	}
	c.mu.Lock()
	state = e.state
	c.mu.Unlock()
	if state != StateIdle {
		t.Errorf("entry state = %v, want idle after the custody ack timeout", state)
	}
}
