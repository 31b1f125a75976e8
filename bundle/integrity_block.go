package bundle

import "fmt"

// IntegrityBlockTypeCode is the canonical block type code for the
// integrity extension block (BIB), BPv6 value 0x0B per spec §6.
const IntegrityBlockTypeCode uint64 = 0x0B

// IntegrityBlock carries a cipher-suite id and its result over the
// bundle's payload fragment, as defined in spec §3.
type IntegrityBlock struct {
	Suite  CipherSuite
	Result []byte
}

func (ib IntegrityBlock) String() string {
	return fmt.Sprintf("IntegrityBlock(suite=%v, result=%x)", ib.Suite, ib.Result)
}
