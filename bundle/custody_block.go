package bundle

import "fmt"

// CustodyBlockTypeCode is the canonical block type code for the custody
// transfer extension block (CTEB), BPv6 value 0x0A per spec §6.
const CustodyBlockTypeCode uint64 = 0x0A

// CustodyBlock carries the custody-id a custodian assigned to a bundle
// plus that custodian's EndpointID, as defined in spec §3.
type CustodyBlock struct {
	CustodyID uint64
	Custodian EndpointID
}

func (cb CustodyBlock) String() string {
	return fmt.Sprintf("CustodyBlock(cid=%d, custodian=%v)", cb.CustodyID, cb.Custodian)
}
