package core

import (
	"time"

	"github.com/dtn7/bpcustody/bundle"
)

// WrapTimeout is the default bound on the active-table condition wait,
// spec §5: "a bounded wait (WRAP_TIMEOUT default 1000 ms)".
const WrapTimeout = 1000 * time.Millisecond

// DefaultActiveTableSize is the ring length used when a channel's options
// don't specify one.
const DefaultActiveTableSize = 64

// Options is a channel's default template plus its tunables, spec §3's
// "default options" list and spec §6's get/set configuration surface.
// Rebuilding the outbound template on every primary-block field change
// (spec §6) is realized here by Channel.Configure re-deriving the
// template from Options on every call rather than caching a stale copy.
type Options struct {
	WireVersion uint8 // 6 or 7

	DestinationNode    uint32
	DestinationService uint32
	ReportToNode       uint32
	ReportToService    uint32
	CustodianNode      uint32
	CustodianService   uint32

	// SetSequence moves the origination sequence counter when written
	// through Configure (and seeds it at channel open).
	SetSequence uint64

	Lifetime         uint64 // seconds; 0 = infinite
	RequestCustody   bool
	IntegrityCheck   bool
	AllowFragment    bool
	PayloadCRCType   bundle.CipherSuite
	IntegrityKey     []byte
	Timeout          time.Duration
	BundleMaxLength  int
	OriginateFlag    bool // channel may call store(); false == ingress-only
	ProcessAdminOnly bool // process() rejects anything but administrative records

	WrapResponse      WrapResponse
	CidReuse          bool
	DacsRateSeconds   uint64
	MaxConcurrentDacs int
	MaxFillsPerDacs   int
	MaxTreeSize       int
	ActiveTableSize   uint64
}

// DefaultOptions returns the channel defaults spec §3 lists.
func DefaultOptions() Options {
	return Options{
		WireVersion:       7,
		Lifetime:          3600,
		RequestCustody:    false,
		IntegrityCheck:    false,
		AllowFragment:     false,
		PayloadCRCType:    bundle.CipherSuiteCRC32,
		Timeout:           30 * time.Second,
		BundleMaxLength:   65535,
		OriginateFlag:     true,
		WrapResponse:      WrapBlock,
		CidReuse:          true,
		DacsRateSeconds:   5,
		MaxConcurrentDacs: 16,
		MaxFillsPerDacs:   32,
		MaxTreeSize:       1024,
		ActiveTableSize:   DefaultActiveTableSize,
	}
}

func (o Options) destination() bundle.EndpointID {
	eid, _ := bundle.NewIpnEndpointID(o.DestinationNode, o.DestinationService)
	return eid
}

func (o Options) reportTo(local bundle.EndpointID) bundle.EndpointID {
	if o.ReportToNode == 0 {
		return local
	}
	eid, _ := bundle.NewIpnEndpointID(o.ReportToNode, o.ReportToService)
	return eid
}

func (o Options) custodian(local bundle.EndpointID) bundle.EndpointID {
	if o.CustodianNode == 0 {
		return local
	}
	eid, _ := bundle.NewIpnEndpointID(o.CustodianNode, o.CustodianService)
	return eid
}
