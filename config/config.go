// Package config loads the agent's static TOML configuration, spec §6's
// "Configuration surface" turned into a file format: one table per channel
// plus an [engine] table for process-wide settings, mirroring the
// teacher's cmd/dtnd/configuration.go tomlConfig shape.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/dtn7/bpcustody/bundle"
	"github.com/dtn7/bpcustody/cache"
	"github.com/dtn7/bpcustody/core"
	"github.com/dtn7/bpcustody/routing"
)

// File is the top-level shape of the TOML configuration file.
type File struct {
	Engine  EngineConf
	Channel map[string]ChannelConf
}

// EngineConf is the [engine] table: process-wide settings not owned by any
// one channel.
type EngineConf struct {
	// Storage selects the Storage Adapter backend: "ring" (in-memory,
	// default) or "badger" (durable, requires Dir).
	Storage string
	Dir     string

	// Listen is the HTTP/WS address cmd/dtn-agentd's admin and
	// application-agent surface binds to.
	Listen string
}

// ChannelConf is one [channel.<name>] table, spec §6's get/set list plus
// the channel's own local endpoint.
type ChannelConf struct {
	Local string

	// Listen, if set, binds a cla/tcp.Listener for this channel's inbound
	// bundles. Peers dials one cla/tcp connection per address for egress.
	Listen string
	Peers  []string

	WireVersion uint8 `toml:"wire-version"`

	DestinationNode    uint32 `toml:"destination-node"`
	DestinationService uint32 `toml:"destination-service"`
	ReportToNode       uint32 `toml:"report-to-node"`
	ReportToService    uint32 `toml:"report-to-service"`
	CustodianNode      uint32 `toml:"custodian-node"`
	CustodianService   uint32 `toml:"custodian-service"`

	SetSequence uint64 `toml:"set-sequence"`

	Lifetime         uint64 `toml:"lifetime"`
	RequestCustody   bool   `toml:"request-custody"`
	IntegrityCheck   bool   `toml:"integrity-check"`
	AllowFragment    bool   `toml:"allow-fragment"`
	PayloadCRCType   uint64 `toml:"payload-crc-type"`
	TimeoutMs        uint64 `toml:"timeout-ms"`
	BundleMaxLength  int    `toml:"bundle-max-length"`
	ProcessAdminOnly bool   `toml:"process-admin-only"`

	// Pointers, not plain bools: these two default to true, so an absent
	// TOML key must stay distinguishable from an explicit false.
	OriginateFlag *bool `toml:"originate"`
	CidReuse      *bool `toml:"cid-reuse"`

	WrapResponse      string `toml:"wrap-response"` // "resend", "block", or "drop"
	DacsRateSeconds   uint64 `toml:"dacs-rate-seconds"`
	MaxConcurrentDacs int    `toml:"max-concurrent-dacs"`
	MaxFillsPerDacs   int    `toml:"max-fills-per-dacs"`
	MaxTreeSize       int    `toml:"max-tree-size"`
	ActiveTableSize   uint64 `toml:"active-table-size"`

	// Cache configures the custody/cache subsystem layered over this
	// channel, spec §4.2.
	Cache CacheConf

	// RouteTo, if set, is the final destination this channel should reach
	// via the computed next hop rather than the directly configured
	// destination-node/service pair, spec §4.5's routing helper.
	RouteTo string     `toml:"route-to"`
	Links   []LinkConf `toml:"links"`
}

// LinkConf is one [[channel.<name>.links]] entry: a directed, weighted edge
// in the topology routing.Table.Recompute uses to pick RouteTo's next hop.
type LinkConf struct {
	From string
	To   string
	Cost int64
}

// CacheConf is the [channel.<name>.cache] sub-table.
type CacheConf struct {
	DeliveryPolicy      string `toml:"delivery-policy"` // "best-effort" or "custody-tracking"
	DacsOpenTimeMs      uint64 `toml:"dacs-open-time-ms"`
	MaxSeqPerPayload    int    `toml:"max-seq-per-payload"`
	CustodyAckTimeoutMs uint64 `toml:"custody-ack-timeout-ms"`
	RetryIntervalMs     uint64 `toml:"retry-interval-ms"`
	MaxSubqDepth        int    `toml:"max-subq-depth"`
}

// Load parses the TOML file at path into a File.
func Load(path string) (*File, error) {
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	return &f, nil
}

// Endpoint parses the channel's configured local endpoint.
func (cc ChannelConf) Endpoint() (bundle.EndpointID, error) {
	return bundle.NewEndpointID(cc.Local)
}

// Options converts a ChannelConf into core.Options, applying core's own
// defaults first so a sparse TOML table still yields workable values
// (fields left at Go's zero value fall back to DefaultOptions, matching
// the teacher's configuration.go pattern of defaulting unset TOML fields).
func (cc ChannelConf) Options() (core.Options, error) {
	opts := core.DefaultOptions()

	if cc.WireVersion != 0 {
		opts.WireVersion = cc.WireVersion
	}
	opts.DestinationNode = cc.DestinationNode
	opts.DestinationService = cc.DestinationService
	opts.ReportToNode = cc.ReportToNode
	opts.ReportToService = cc.ReportToService
	opts.CustodianNode = cc.CustodianNode
	opts.CustodianService = cc.CustodianService
	opts.SetSequence = cc.SetSequence

	if cc.Lifetime != 0 {
		opts.Lifetime = cc.Lifetime
	}
	opts.RequestCustody = cc.RequestCustody
	opts.IntegrityCheck = cc.IntegrityCheck
	opts.AllowFragment = cc.AllowFragment
	if cc.PayloadCRCType != 0 {
		opts.PayloadCRCType = bundle.CipherSuite(cc.PayloadCRCType)
	}
	if cc.TimeoutMs != 0 {
		opts.Timeout = time.Duration(cc.TimeoutMs) * time.Millisecond
	}
	if cc.BundleMaxLength != 0 {
		opts.BundleMaxLength = cc.BundleMaxLength
	}
	if cc.OriginateFlag != nil {
		opts.OriginateFlag = *cc.OriginateFlag
	}
	opts.ProcessAdminOnly = cc.ProcessAdminOnly

	if cc.WrapResponse != "" {
		wrap, err := parseWrapResponse(cc.WrapResponse)
		if err != nil {
			return opts, err
		}
		opts.WrapResponse = wrap
	}
	if cc.CidReuse != nil {
		opts.CidReuse = *cc.CidReuse
	}
	if cc.DacsRateSeconds != 0 {
		opts.DacsRateSeconds = cc.DacsRateSeconds
	}
	if cc.MaxConcurrentDacs != 0 {
		opts.MaxConcurrentDacs = cc.MaxConcurrentDacs
	}
	if cc.MaxFillsPerDacs != 0 {
		opts.MaxFillsPerDacs = cc.MaxFillsPerDacs
	}
	if cc.MaxTreeSize != 0 {
		opts.MaxTreeSize = cc.MaxTreeSize
	}
	if cc.ActiveTableSize != 0 {
		opts.ActiveTableSize = cc.ActiveTableSize
	}

	return opts, nil
}

// RoutingLinks parses the channel's configured topology into routing.Links,
// for routing.Table.Recompute.
func (cc ChannelConf) RoutingLinks() ([]routing.Link, error) {
	links := make([]routing.Link, 0, len(cc.Links))
	for _, l := range cc.Links {
		from, err := bundle.NewEndpointID(l.From)
		if err != nil {
			return nil, fmt.Errorf("config: link from %q: %w", l.From, err)
		}
		to, err := bundle.NewEndpointID(l.To)
		if err != nil {
			return nil, fmt.Errorf("config: link to %q: %w", l.To, err)
		}
		links = append(links, routing.Link{From: from, To: to, Cost: l.Cost})
	}
	return links, nil
}

func parseWrapResponse(s string) (core.WrapResponse, error) {
	switch s {
	case "resend":
		return core.WrapResend, nil
	case "block":
		return core.WrapBlock, nil
	case "drop":
		return core.WrapDrop, nil
	default:
		return 0, fmt.Errorf("config: unknown wrap-response %q", s)
	}
}

// CacheOptions converts the channel's [cache] sub-table into cache.Options,
// again layered over cache.DefaultOptions.
func (cc ChannelConf) CacheOptions() (cache.Options, error) {
	opts := cache.DefaultOptions()

	if cc.Cache.DeliveryPolicy != "" {
		switch cc.Cache.DeliveryPolicy {
		case "best-effort":
			opts.DeliveryPolicy = cache.PolicyBestEffort
		case "custody-tracking":
			opts.DeliveryPolicy = cache.PolicyCustodyTracking
		default:
			return opts, fmt.Errorf("config: unknown cache delivery-policy %q", cc.Cache.DeliveryPolicy)
		}
	}
	if cc.Cache.DacsOpenTimeMs != 0 {
		opts.DacsOpenTimeMs = cc.Cache.DacsOpenTimeMs
	}
	if cc.Cache.MaxSeqPerPayload != 0 {
		opts.MaxSeqPerPayload = cc.Cache.MaxSeqPerPayload
	}
	if cc.Cache.CustodyAckTimeoutMs != 0 {
		opts.CustodyAckTimeoutMs = cc.Cache.CustodyAckTimeoutMs
	}
	if cc.Cache.RetryIntervalMs != 0 {
		opts.RetryIntervalMs = cc.Cache.RetryIntervalMs
	}
	if cc.Cache.MaxSubqDepth != 0 {
		opts.MaxSubqDepth = cc.Cache.MaxSubqDepth
	}

	return opts, nil
}
