package main

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/bpcustody/bundle"
	"github.com/dtn7/bpcustody/cache"
	"github.com/dtn7/bpcustody/cla"
	"github.com/dtn7/bpcustody/cla/tcp"
	"github.com/dtn7/bpcustody/config"
	"github.com/dtn7/bpcustody/core"
	"github.com/dtn7/bpcustody/routing"
	"github.com/dtn7/bpcustody/storage"
)

// namedChannel pairs a configured core.Channel with its egress convergence
// layer adapters, so the pump loop knows where a Load result goes. It also
// runs the channel's own custody/cache subsystem (spec §4.2) as the second
// of the core's two tightly-coupled engines, driven by its own poll loop
// alongside Process/Load rather than nested inside either.
type namedChannel struct {
	name string
	ch   *core.Channel

	cache *cache.Cache

	peersMu sync.Mutex
	peers   []cla.Adapter

	listener *tcp.Listener

	stopOnce sync.Once
	stopSyn  chan struct{}
	stopAck  chan struct{}

	cacheStopSyn chan struct{}
	cacheStopAck chan struct{}
}

// agent is the whole running process: its channels, their storage
// backend(s), the configuration watcher, and the admin HTTP surface.
type agent struct {
	channels map[string]*namedChannel

	badger  *storage.BadgerAdapter
	watcher *config.Watcher
	http    *httpServer
}

func newAgent(path string) (*agent, error) {
	f, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	a := &agent{channels: make(map[string]*namedChannel)}

	adapter, err := buildStorageAdapter(f.Engine)
	if err != nil {
		return nil, err
	}
	if ba, ok := adapter.(*storage.BadgerAdapter); ok {
		a.badger = ba
	}

	for name, cc := range f.Channel {
		nc, err := buildChannel(name, cc, adapter)
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", name, err)
		}
		a.channels[name] = nc
		nc.start()
	}

	if f.Engine.Listen != "" {
		a.http = newHTTPServer(f.Engine.Listen, a.channels)
		a.http.start()
	}

	watcher, err := config.Watch(path, a.reconfigure)
	if err != nil {
		log.WithError(err).Warn("dtn-agentd: configuration watch unavailable, running with the startup configuration only")
	} else {
		a.watcher = watcher
	}

	return a, nil
}

// reconfigure re-applies a hot-reloaded configuration's set operations to
// the running channels. Only the channel option surface is reapplied;
// structural changes (new channels, storage backend, listen addresses)
// still require a restart.
func (a *agent) reconfigure(f *config.File) {
	for name, cc := range f.Channel {
		nc, ok := a.channels[name]
		if !ok {
			log.WithField("channel", name).Info("dtn-agentd: reloaded config adds a channel, restart required to open it")
			continue
		}

		opts, err := cc.Options()
		if err != nil {
			log.WithFields(log.Fields{"channel": name, "error": err}).Warn("dtn-agentd: reloaded channel options invalid, keeping current")
			continue
		}
		nc.ch.Configure(func(o *core.Options) { *o = opts })
		log.WithField("channel", name).Info("dtn-agentd: channel options reloaded")
	}
}

func buildStorageAdapter(ec config.EngineConf) (storage.Adapter, error) {
	switch ec.Storage {
	case "", "ring":
		return storage.NewRingAdapter(), nil
	case "badger":
		if ec.Dir == "" {
			return nil, fmt.Errorf("engine.storage=badger requires engine.dir")
		}
		return storage.NewBadgerAdapter(ec.Dir)
	default:
		return nil, fmt.Errorf("unknown engine.storage %q", ec.Storage)
	}
}

func buildChannel(name string, cc config.ChannelConf, adapter storage.Adapter) (*namedChannel, error) {
	local, err := cc.Endpoint()
	if err != nil {
		return nil, fmt.Errorf("local endpoint: %w", err)
	}
	opts, err := cc.Options()
	if err != nil {
		return nil, err
	}

	ch, err := core.NewChannel(local, opts, adapter, adapter, adapter)
	if err != nil {
		return nil, err
	}

	cacheOpts, err := cc.CacheOptions()
	if err != nil {
		return nil, err
	}
	chCache, err := cache.New(local, cacheOpts, adapter)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}

	if err := applyRoute(name, ch, local, cc); err != nil {
		return nil, err
	}

	nc := &namedChannel{
		name:         name,
		ch:           ch,
		cache:        chCache,
		stopSyn:      make(chan struct{}),
		stopAck:      make(chan struct{}),
		cacheStopSyn: make(chan struct{}),
		cacheStopAck: make(chan struct{}),
	}

	if cc.Listen != "" {
		ln, err := tcp.Listen(cc.Listen, nc.onAccept)
		if err != nil {
			return nil, fmt.Errorf("listen %s: %w", cc.Listen, err)
		}
		nc.listener = ln
	}
	for _, peer := range cc.Peers {
		ad, err := tcp.Dial(peer)
		if err != nil {
			log.WithFields(log.Fields{"channel": name, "peer": peer, "error": err}).Warn("dtn-agentd: failed to dial peer, continuing without it")
			continue
		}
		nc.addPeer(ad)
	}

	return nc, nil
}

// applyRoute computes a next hop toward cc's configured destination from its
// static topology and reconfigures ch's outbound template to it, spec
// §4.5's routing helper. A channel with no route-to table configured skips
// this entirely; its destination-node/service fields (cc.Options) stand as
// configured.
func applyRoute(name string, ch *core.Channel, local bundle.EndpointID, cc config.ChannelConf) error {
	if cc.RouteTo == "" {
		return nil
	}

	dest, err := bundle.NewEndpointID(cc.RouteTo)
	if err != nil {
		return fmt.Errorf("channel %q: route-to %q: %w", name, cc.RouteTo, err)
	}
	links, err := cc.RoutingLinks()
	if err != nil {
		return fmt.Errorf("channel %q: %w", name, err)
	}

	table := routing.NewTable(local)
	if err := table.Recompute(links); err != nil {
		return fmt.Errorf("channel %q: routing: %w", name, err)
	}

	if !table.ApplyRoute(ch, dest) {
		log.WithFields(log.Fields{"channel": name, "destination": cc.RouteTo}).Warn("dtn-agentd: no route found for configured destination, keeping configured next hop")
	}
	return nil
}

func (nc *namedChannel) addPeer(ad cla.Adapter) {
	nc.peersMu.Lock()
	nc.peers = append(nc.peers, ad)
	nc.peersMu.Unlock()

	nc.cache.IntfStateChange(true)
	// A peer coming up is the only route signal this demo agent has, so
	// every retained entry is marked reachable rather than tracking actual
	// next-hop reachability per destination, spec §4.2.6's RouteUp driven
	// by the coarsest mask available here.
	nc.cache.RouteUp(0, 0)

	go nc.receiveLoop(ad)
}

// onAccept is handed to tcp.Listen, once per accepted inbound connection.
func (nc *namedChannel) onAccept(ad cla.Adapter) {
	nc.addPeer(ad)
}

func (nc *namedChannel) receiveLoop(ad cla.Adapter) {
	for {
		data, err := ad.Receive()
		if err != nil {
			log.WithFields(log.Fields{"channel": nc.name, "peer": ad.Address(), "error": err}).Debug("dtn-agentd: peer receive loop ended")
			return
		}

		result, err := nc.ch.Process(data)
		if err != nil {
			log.WithFields(log.Fields{"channel": nc.name, "peer": ad.Address(), "error": err}).Warn("dtn-agentd: process failed")
			continue
		}
		log.WithFields(log.Fields{"channel": nc.name, "disposition": result.Disposition, "flags": result.Flags}).Debug("dtn-agentd: processed inbound bundle")

		nc.feedCache(data)
	}
}

// feedCache hands an inbound wire bundle to the custody/cache subsystem,
// run alongside the channel engine rather than nested inside Process: an
// administrative record is treated as a remote DACS closing out retained
// entries, anything else is retained bundle content. A decode failure here
// is independent of Process's own decode (already handled above) and just
// skips the cache handoff.
func (nc *namedChannel) feedCache(data []byte) {
	b, err := decodeBundle(data)
	if err != nil {
		return
	}
	nowMs := uint64(time.Now().UnixMilli())

	if b.IsAdministrativeRecord() {
		seqs, err := bundle.DecodeACS(b.Payload.Data)
		if err != nil {
			return
		}
		nc.cache.ConsumeRemoteDacs(b.Primary.SourceNode, seqs, nowMs)
		return
	}

	if _, err := nc.cache.StoreBundle(b, nowMs); err != nil {
		log.WithFields(log.Fields{"channel": nc.name, "error": err}).Warn("dtn-agentd: cache store failed")
	}
}

// decodeBundle sniffs the wire version the same way core's own (unexported)
// decodeBundle does: a BPv6 primary block's version field is literally 6,
// which can never collide with BPv7's CBOR indefinite-array opening byte.
func decodeBundle(data []byte) (bundle.Bundle, error) {
	if len(data) > 0 && data[0] == 6 {
		return bundle.DecodeV6(data)
	}
	return bundle.DecodeV7(data)
}

// start launches the pump loop: repeatedly calls Load and fans the result
// out to every connected peer adapter. It also launches the cache's own
// poll loop, since the custody/cache subsystem is a second engine driven
// independently of the channel's Load cycle.
func (nc *namedChannel) start() {
	go nc.pumpLoop()
	go nc.cachePumpLoop()
}

// cachePumpLoop periodically drives the custody/cache subsystem's scheduled
// work (spec §4.2.6) and fans any egressed DACS/bundle bytes out to every
// connected peer, the cache's equivalent of pumpLoop's Load/broadcast cycle.
func (nc *namedChannel) cachePumpLoop() {
	defer close(nc.cacheStopAck)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-nc.cacheStopSyn:
			return
		case <-ticker.C:
		}

		nc.cache.Poll(uint64(time.Now().UnixMilli()))
		for _, data := range nc.cache.DrainEgress() {
			nc.broadcast(data)
		}
	}
}

func (nc *namedChannel) pumpLoop() {
	defer close(nc.stopAck)

	for {
		select {
		case <-nc.stopSyn:
			return
		default:
		}

		result, err := nc.ch.Load(time.Second)
		if err != nil {
			if code, ok := core.CodeOf(err); ok && code == core.Timeout {
				continue
			}
			log.WithFields(log.Fields{"channel": nc.name, "error": err}).Warn("dtn-agentd: load failed")
			continue
		}
		if len(result.Data) == 0 {
			continue
		}

		nc.broadcast(result.Data)
	}
}

func (nc *namedChannel) broadcast(data []byte) {
	nc.peersMu.Lock()
	peers := append([]cla.Adapter(nil), nc.peers...)
	nc.peersMu.Unlock()

	for _, p := range peers {
		if err := p.Send(data); err != nil {
			log.WithFields(log.Fields{"channel": nc.name, "peer": p.Address(), "error": err}).Warn("dtn-agentd: send failed")
		}
	}
}

func (nc *namedChannel) close() {
	nc.stopOnce.Do(func() {
		close(nc.stopSyn)
		<-nc.stopAck
		close(nc.cacheStopSyn)
		<-nc.cacheStopAck

		if nc.listener != nil {
			_ = nc.listener.Close()
		}
		nc.peersMu.Lock()
		for _, p := range nc.peers {
			_ = p.Close()
		}
		nc.peersMu.Unlock()
	})
}

func (a *agent) Close() {
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	if a.http != nil {
		a.http.stop()
	}
	for _, nc := range a.channels {
		nc.close()
	}
	if a.badger != nil {
		_ = a.badger.Close()
	}
}
