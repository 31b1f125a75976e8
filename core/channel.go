package core

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/bpcustody/bundle"
	"github.com/dtn7/bpcustody/storage"
)

// Channel is per-endpoint runtime state, spec §3: local/default endpoints,
// default options, three storage handles, one active table, a vector of
// open DACS accumulators, and statistics.
//
// Locking follows spec §5's strict order: dataMu ("data_bundle_lock") may
// be taken on its own; dacsMu ("dacs_bundle_lock") may be taken while
// holding no other channel lock; the active table's own internal lock
// ("active_table_signal") is only ever taken after dataMu/dacsMu have been
// released. No method in this package holds two of these across a
// storage call.
type Channel struct {
	Local bundle.EndpointID

	dataMu  sync.Mutex // data_bundle_lock
	options Options
	seq     uint64

	dacsMu           sync.Mutex // dacs_bundle_lock
	dacsAccumulators map[EndpointIDKey]*DacsAccumulator

	activeTable *ActiveTable

	dataAdapter    storage.Adapter
	dataHandle     storage.Handle
	payloadAdapter storage.Adapter
	payloadHandle  storage.Handle
	dacsAdapter    storage.Adapter
	dacsHandle     storage.Handle

	clock Clock
	stats statsCollector
}

// NewChannel opens a channel over the given storage adapters, spec §4.3:
// one handle each for the data queue, payload queue and DACS queue. A
// failed Create on any of the three invalidates the whole channel, spec
// §7's "channel-wide failures... mark the channel invalid at open time".
func NewChannel(local bundle.EndpointID, opts Options, data, payload, dacs storage.Adapter) (*Channel, error) {
	if !local.IsNone() {
		if err := checkSingleton(local); err != nil {
			return nil, err
		}
	}

	dataHandle, err := data.Create(local.String() + "-data")
	if err != nil {
		return nil, newError(InvalidHandle, "data store: %v", err)
	}
	payloadHandle, err := payload.Create(local.String() + "-payload")
	if err != nil {
		return nil, newError(InvalidHandle, "payload store: %v", err)
	}
	dacsHandle, err := dacs.Create(local.String() + "-dacs")
	if err != nil {
		return nil, newError(InvalidHandle, "dacs store: %v", err)
	}

	if opts.ActiveTableSize == 0 {
		opts.ActiveTableSize = DefaultActiveTableSize
	}

	c := &Channel{
		Local:            local,
		options:          opts,
		seq:              opts.SetSequence,
		dacsAccumulators: make(map[EndpointIDKey]*DacsAccumulator),
		activeTable:      NewActiveTable(opts.ActiveTableSize),
		dataAdapter:      data,
		dataHandle:       dataHandle,
		payloadAdapter:   payload,
		payloadHandle:    payloadHandle,
		dacsAdapter:      dacs,
		dacsHandle:       dacsHandle,
		clock:            SystemClock,
	}

	log.WithFields(log.Fields{
		"local":             local,
		"active_table_size": opts.ActiveTableSize,
		"wire_version":      opts.WireVersion,
	}).Debug("core: channel opened")

	return c, nil
}

func checkSingleton(eid bundle.EndpointID) error {
	if eid.Node == 0 {
		return newError(InvalidEID, "local endpoint %v is not a valid singleton", eid)
	}
	return nil
}

// SetClock overrides the channel's time source; intended for tests.
func (c *Channel) SetClock(clock Clock) {
	c.clock = clock
}

// Stats returns a snapshot of this channel's counters plus the active
// table's current occupancy, spec §6's "active = current_cid - oldest_cid".
func (c *Channel) Stats() (Stats, uint64) {
	return c.stats.Snapshot(), c.activeTable.Active()
}

// Configure applies get/set operations over spec §6's configuration
// surface. Any change rebuilds the outbound template implicitly, since
// store/load always read options fresh rather than a cached template.
// Writing SetSequence moves the channel's origination sequence counter,
// spec §6's set-sequence operation.
func (c *Channel) Configure(fn func(*Options)) {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()

	prevSeq := c.options.SetSequence
	fn(&c.options)
	if c.options.SetSequence != prevSeq {
		c.seq = c.options.SetSequence
	}
}

// Options returns a copy of the channel's current configuration.
func (c *Channel) Options() Options {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	return c.options
}

func eidKey(eid bundle.EndpointID) EndpointIDKey {
	return EndpointIDKey{Node: uint64(eid.Node), Service: uint64(eid.Service)}
}
