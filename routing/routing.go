// Package routing computes a next-hop endpoint from an externally supplied
// link-state table. The core engine has no routing protocol of its own
// (routes are supplied, not discovered) — this package is the thing doing
// the supplying, grounded on the teacher's DTLSR next-hop computation
// (core/routing_dtlsr.go) with the peer-discovery/broadcast half removed,
// since this package's topology arrives from the caller rather than from
// a gossiped link-state block.
package routing

import (
	"fmt"
	"sync"

	"github.com/RyanCarrier/dijkstra"

	"github.com/dtn7/bpcustody/bundle"
	"github.com/dtn7/bpcustody/core"
)

// Link is one directed, weighted edge in the supplied topology.
type Link struct {
	From bundle.EndpointID
	To   bundle.EndpointID
	Cost int64
}

// Table holds the last computed next-hop for every reachable node,
// keyed from Local. The dijkstra graph only needs integer vertex ids,
// exactly the workaround the teacher's DTLSR comments call out ("the
// dijkstra implementation only accepts integer node identifiers").
type Table struct {
	mu    sync.RWMutex
	local bundle.EndpointID

	nextHop map[bundle.EndpointID]bundle.EndpointID
}

// NewTable returns an empty routing table for local. Recompute must be
// called at least once before NextHop returns anything.
func NewTable(local bundle.EndpointID) *Table {
	return &Table{local: local, nextHop: make(map[bundle.EndpointID]bundle.EndpointID)}
}

// Recompute replaces the table's next-hop map with shortest paths from
// Local over the supplied link set, using dijkstra's algorithm exactly
// as the teacher's computeRoutingTable does.
func (t *Table) Recompute(links []Link) error {
	index := map[bundle.EndpointID]int{t.local: 0}
	nodeOf := map[int]bundle.EndpointID{0: t.local}

	nodeIndex := func(eid bundle.EndpointID) int {
		if i, ok := index[eid]; ok {
			return i
		}
		i := len(index)
		index[eid] = i
		nodeOf[i] = eid
		return i
	}
	for _, l := range links {
		nodeIndex(l.From)
		nodeIndex(l.To)
	}

	graph := dijkstra.NewGraph()
	for i := range nodeOf {
		graph.AddVertex(i)
	}
	for _, l := range links {
		if err := graph.AddArc(nodeIndex(l.From), nodeIndex(l.To), l.Cost); err != nil {
			return fmt.Errorf("routing: adding arc %v->%v: %w", l.From, l.To, err)
		}
	}

	table := make(map[bundle.EndpointID]bundle.EndpointID, len(nodeOf)-1)
	for i, dest := range nodeOf {
		if i == 0 {
			continue
		}
		best, err := graph.Shortest(0, i)
		if err != nil || len(best.Path) <= 1 {
			continue
		}
		table[dest] = nodeOf[best.Path[1]]
	}

	t.mu.Lock()
	t.nextHop = table
	t.mu.Unlock()
	return nil
}

// NextHop returns the endpoint this table's last Recompute chose as the
// next hop toward dest, and whether a route was found at all.
func (t *Table) NextHop(dest bundle.EndpointID) (bundle.EndpointID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	hop, ok := t.nextHop[dest]
	return hop, ok
}

// ApplyRoute looks up the next hop toward dest and, if found, reconfigures
// ch's destination to it via Channel.Configure — the core engine's own
// rebuild-the-outbound-template-on-change mechanism (spec §6), used here
// as the "feed it to a channel's route" step instead of a bespoke setter.
func (t *Table) ApplyRoute(ch *core.Channel, dest bundle.EndpointID) (ok bool) {
	hop, found := t.NextHop(dest)
	if !found {
		return false
	}
	ch.Configure(func(o *core.Options) {
		o.DestinationNode = hop.Node
		o.DestinationService = hop.Service
	})
	return true
}
