package core

import "sync"

// Stats holds the monotonic counters spec §6 names. It is a plain value:
// the channel keeps the live counters behind statsCollector's mutex and
// hands out copies, so callers can never race on them.
type Stats struct {
	Bundles       uint64
	Payloads      uint64
	Records       uint64
	Generated     uint64
	Transmitted   uint64
	Retransmitted uint64
	Received      uint64
	Delivered     uint64
	Acknowledged  uint64
	Expired       uint64
	Lost          uint64
}

// statsCollector guards the live counters with their own mutex rather than
// the channel's three protocol locks — statistics updates must be observed
// atomically per counter (spec §5) but never need to participate in the
// data/dacs/active-table lock order.
type statsCollector struct {
	mu sync.Mutex
	Stats
}

func (s *statsCollector) incr(counter *uint64) {
	s.mu.Lock()
	*counter++
	s.mu.Unlock()
}

// Snapshot returns a copy of the counters, safe for concurrent read.
func (s *statsCollector) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Stats
}
