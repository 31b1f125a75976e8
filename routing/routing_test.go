package routing

import (
	"testing"

	"github.com/dtn7/bpcustody/bundle"
	"github.com/dtn7/bpcustody/core"
	"github.com/dtn7/bpcustody/storage"
)

func TestRecomputeFindsShortestPath(t *testing.T) {
	a := bundle.MustNewEndpointID("ipn:1.1")
	b := bundle.MustNewEndpointID("ipn:2.1")
	c := bundle.MustNewEndpointID("ipn:3.1")
	d := bundle.MustNewEndpointID("ipn:4.1")

	table := NewTable(a)
	err := table.Recompute([]Link{
		{From: a, To: b, Cost: 1},
		{From: a, To: c, Cost: 10},
		{From: b, To: d, Cost: 1},
		{From: c, To: d, Cost: 1},
	})
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}

	hop, ok := table.NextHop(d)
	if !ok {
		t.Fatal("expected a route to d")
	}
	if hop != b {
		t.Errorf("NextHop(d) = %v, want %v (the cheaper path via b)", hop, b)
	}

	hop, ok = table.NextHop(b)
	if !ok || hop != b {
		t.Errorf("NextHop(b) = (%v, %v), want (%v, true)", hop, ok, b)
	}
}

func TestNextHopUnreachable(t *testing.T) {
	a := bundle.MustNewEndpointID("ipn:1.1")
	isolated := bundle.MustNewEndpointID("ipn:9.1")

	table := NewTable(a)
	if err := table.Recompute(nil); err != nil {
		t.Fatalf("Recompute: %v", err)
	}

	if _, ok := table.NextHop(isolated); ok {
		t.Error("expected no route to a node never mentioned in any link")
	}
}

func TestApplyRouteConfiguresChannel(t *testing.T) {
	local := bundle.MustNewEndpointID("ipn:1.1")
	next := bundle.MustNewEndpointID("ipn:2.1")
	dest := bundle.MustNewEndpointID("ipn:3.1")

	table := NewTable(local)
	if err := table.Recompute([]Link{{From: local, To: next, Cost: 1}, {From: next, To: dest, Cost: 1}}); err != nil {
		t.Fatalf("Recompute: %v", err)
	}

	ch, err := core.NewChannel(local, core.DefaultOptions(), storage.NewRingAdapter(), storage.NewRingAdapter(), storage.NewRingAdapter())
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}

	if ok := table.ApplyRoute(ch, dest); !ok {
		t.Fatal("expected ApplyRoute to find a route")
	}
	opts := ch.Options()
	if opts.DestinationNode != next.Node || opts.DestinationService != next.Service {
		t.Errorf("channel destination = (%d, %d), want next hop (%d, %d)",
			opts.DestinationNode, opts.DestinationService, next.Node, next.Service)
	}
}

func TestApplyRouteNoRouteLeavesChannelUnchanged(t *testing.T) {
	local := bundle.MustNewEndpointID("ipn:1.1")
	unreachable := bundle.MustNewEndpointID("ipn:9.1")

	table := NewTable(local)
	if err := table.Recompute(nil); err != nil {
		t.Fatalf("Recompute: %v", err)
	}

	opts := core.DefaultOptions()
	opts.DestinationNode, opts.DestinationService = 2, 1
	ch, err := core.NewChannel(local, opts, storage.NewRingAdapter(), storage.NewRingAdapter(), storage.NewRingAdapter())
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}

	if ok := table.ApplyRoute(ch, unreachable); ok {
		t.Fatal("ApplyRoute should report no route for an unreachable destination")
	}
	if got := ch.Options(); got.DestinationNode != 2 {
		t.Errorf("DestinationNode = %d, want unchanged 2", got.DestinationNode)
	}
}
