package bundle

import (
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// ipnSchemeNo and dtnSchemeNo mirror the scheme numbers assigned in
// draft-ietf-dtn-bpbis: "dtn" is 1, "ipn" is 2.
const (
	dtnSchemeNo uint64 = 1
	ipnSchemeNo uint64 = 2
)

// MarshalCbor writes this EndpointID's CBOR representation, used by the
// BPv7 encoding, as a 2-element array of (scheme number, scheme-specific
// part).
func (e EndpointID) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}

	if e.none {
		if err := cboring.WriteUInt(dtnSchemeNo, w); err != nil {
			return err
		}
		return cboring.WriteUInt(0, w)
	}

	if err := cboring.WriteUInt(ipnSchemeNo, w); err != nil {
		return err
	}
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(e.Node), w); err != nil {
		return err
	}
	return cboring.WriteUInt(uint64(e.Service), w)
}

// UnmarshalCbor reads a CBOR representation for an EndpointID.
func (e *EndpointID) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 2 {
		return fmt.Errorf("EndpointID expects array of 2 elements, not %d", n)
	}

	scheme, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}

	switch scheme {
	case dtnSchemeNo:
		if ssp, err := cboring.ReadUInt(r); err != nil {
			return err
		} else if ssp != 0 {
			return fmt.Errorf("EndpointID: dtn scheme-specific part %d is not the null endpoint", ssp)
		}
		*e = DtnNone()

	case ipnSchemeNo:
		if l, err := cboring.ReadArrayLength(r); err != nil {
			return err
		} else if l != 2 {
			return fmt.Errorf("EndpointID: ipn scheme-specific part expects array of 2, not %d", l)
		}

		node, err := cboring.ReadUInt(r)
		if err != nil {
			return err
		}
		service, err := cboring.ReadUInt(r)
		if err != nil {
			return err
		}

		eid, err := NewIpnEndpointID(uint32(node), uint32(service))
		if err != nil {
			return err
		}
		*e = eid

	default:
		return fmt.Errorf("EndpointID: no handler registered for URI scheme number %d", scheme)
	}

	return nil
}
