package bundle

// PayloadBlockTypeCode is the canonical block type code for the payload
// block, BPv6 value 0x01 per spec §6.
const PayloadBlockTypeCode uint64 = 0x01

// PayloadBlock wraps the bundle's application data unit.
type PayloadBlock struct {
	Data []byte
}

func (pb PayloadBlock) Len() uint64 {
	return uint64(len(pb.Data))
}
