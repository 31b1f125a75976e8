package bundle

import (
	"fmt"
	"regexp"
	"strconv"
)

// EndpointID addresses a node/service pair in the ipn scheme, e.g.
// "ipn:5.10". This package only implements the ipn scheme plus the one
// null endpoint, dtn:none, needed to mark an omitted source.
type EndpointID struct {
	Node    uint32
	Service uint32

	// none marks the dtn:none null endpoint. A zero-value EndpointID is
	// ambiguous with an unset field, so this keeps DtnNone() distinguishable
	// from any valid ipn EndpointID (whose Node/Service are both >= 1).
	none bool
}

var ipnRegexp = regexp.MustCompile(`^ipn:(\d+)\.(\d+)$`)

// DtnNone returns the null endpoint, dtn:none.
func DtnNone() EndpointID {
	return EndpointID{none: true}
}

// NewEndpointID parses an ipn-scheme URI such as "ipn:5.10". Non-ipn
// schemes, empty segments, out-of-range numbers and strings shorter than
// 7 characters ("ipn:1.1" is the shortest valid form) are rejected.
func NewEndpointID(uri string) (EndpointID, error) {
	if uri == "dtn:none" {
		return DtnNone(), nil
	}

	if len(uri) < 7 {
		return EndpointID{}, newBundleError(fmt.Sprintf("EndpointID: %q is shorter than the minimal ipn URI", uri))
	}

	m := ipnRegexp.FindStringSubmatch(uri)
	if m == nil {
		return EndpointID{}, newBundleError(fmt.Sprintf("EndpointID: %q is not a valid ipn URI", uri))
	}

	node, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return EndpointID{}, newBundleError(fmt.Sprintf("EndpointID: node number: %v", err))
	}
	service, err := strconv.ParseUint(m[2], 10, 32)
	if err != nil {
		return EndpointID{}, newBundleError(fmt.Sprintf("EndpointID: service number: %v", err))
	}

	eid := EndpointID{Node: uint32(node), Service: uint32(service)}
	if err := eid.checkValid(); err != nil {
		return EndpointID{}, err
	}
	return eid, nil
}

// MustNewEndpointID is like NewEndpointID, but panics on error. Intended
// for tests and static configuration literals.
func MustNewEndpointID(uri string) EndpointID {
	eid, err := NewEndpointID(uri)
	if err != nil {
		panic(err)
	}
	return eid
}

// NewIpnEndpointID builds an EndpointID directly from its node/service pair.
func NewIpnEndpointID(node, service uint32) (EndpointID, error) {
	eid := EndpointID{Node: node, Service: service}
	return eid, eid.checkValid()
}

// IsNone reports whether this is the dtn:none null endpoint.
func (e EndpointID) IsNone() bool {
	return e.none
}

// SameNode reports whether two EndpointIDs address the same node, ignoring
// the service number.
func (e EndpointID) SameNode(o EndpointID) bool {
	if e.none || o.none {
		return e.none == o.none
	}
	return e.Node == o.Node
}

func (e EndpointID) checkValid() error {
	if e.none {
		return nil
	}
	if e.Node < 1 || e.Service < 1 {
		return newBundleError("EndpointID: ipn node and service numbers must be >= 1")
	}
	return nil
}

func (e EndpointID) String() string {
	if e.none {
		return "dtn:none"
	}
	return fmt.Sprintf("ipn:%d.%d", e.Node, e.Service)
}
