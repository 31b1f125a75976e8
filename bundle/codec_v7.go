package bundle

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// BPv7 wire format: CBOR-encoded, CRC-protected blocks, grounded on the
// MarshalCbor/UnmarshalCbor pairing pattern used throughout this package's
// teacher (dtn7/dtn7-go's bundle.PrimaryBlock/CanonicalBlock): each block's
// fields are written into an indefinite-length-free fixed array, optionally
// tee'd into a CRC buffer whose checksum is appended as a trailing byte
// string.

// primaryBlockV7 mirrors PrimaryBlock but additionally carries the wire CRC
// type/value, which only applies to the BPv7 encoding.
type primaryBlockV7 struct {
	pb      PrimaryBlock
	crcType BlockCRCType
	crc     []byte
}

func (p *primaryBlockV7) hasCRC() bool { return p.crcType != BlockCRCNo }

func (p *primaryBlockV7) MarshalCbor(w io.Writer) error {
	arrLen := uint64(8)
	if p.hasCRC() {
		arrLen++
	}
	if p.pb.HasFragmentation() {
		arrLen += 2
	}

	crcBuff := new(bytes.Buffer)
	if p.hasCRC() {
		w = io.MultiWriter(w, crcBuff)
	}

	if err := cboring.WriteArrayLength(arrLen, w); err != nil {
		return err
	}

	for _, f := range []uint64{7, uint64(p.pb.ControlFlags), uint64(p.crcType)} {
		if err := cboring.WriteUInt(f, w); err != nil {
			return err
		}
	}

	for _, eid := range []*EndpointID{&p.pb.Destination, &p.pb.SourceNode, &p.pb.ReportTo} {
		if err := cboring.Marshal(eid, w); err != nil {
			return fmt.Errorf("EndpointID: %v", err)
		}
	}

	if err := cboring.Marshal(&p.pb.CreationTimestamp, w); err != nil {
		return fmt.Errorf("CreationTimestamp: %v", err)
	}

	if err := cboring.WriteUInt(p.pb.Lifetime, w); err != nil {
		return err
	}

	if p.pb.HasFragmentation() {
		for _, f := range []uint64{p.pb.FragmentOffset, p.pb.TotalDataLength} {
			if err := cboring.WriteUInt(f, w); err != nil {
				return err
			}
		}
	}

	if p.hasCRC() {
		crc := calculateBlockCRCBuff(crcBuff.Bytes(), p.crcType)
		if err := cboring.WriteByteString(crc, w); err != nil {
			return err
		}
		p.crc = crc
	}

	return nil
}

func (p *primaryBlockV7) UnmarshalCbor(r io.Reader) error {
	arrLen, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	}
	if arrLen < 8 || arrLen > 11 {
		return fmt.Errorf("primary block: expected array length 8-11, got %d", arrLen)
	}

	crcBuff := new(bytes.Buffer)
	hasCRC := arrLen == 9 || arrLen == 11
	if hasCRC {
		cboring.WriteArrayLength(arrLen, crcBuff)
		r = io.TeeReader(r, crcBuff)
	}

	version, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}
	if version != 7 {
		return fmt.Errorf("primary block: expected version 7, got %d", version)
	}
	p.pb.Version = 7

	if flags, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		p.pb.ControlFlags = BundleControlFlags(flags)
	}

	if ct, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		p.crcType = BlockCRCType(ct)
	}

	for _, eid := range []*EndpointID{&p.pb.Destination, &p.pb.SourceNode, &p.pb.ReportTo} {
		if err := cboring.Unmarshal(eid, r); err != nil {
			return fmt.Errorf("EndpointID: %v", err)
		}
	}

	if err := cboring.Unmarshal(&p.pb.CreationTimestamp, r); err != nil {
		return fmt.Errorf("CreationTimestamp: %v", err)
	}

	if lt, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		p.pb.Lifetime = lt
	}

	if arrLen == 10 || arrLen == 11 {
		if fo, err := cboring.ReadUInt(r); err != nil {
			return err
		} else {
			p.pb.FragmentOffset = fo
		}
		if tl, err := cboring.ReadUInt(r); err != nil {
			return err
		} else {
			p.pb.TotalDataLength = tl
		}
	}

	if hasCRC {
		want := calculateBlockCRCBuff(crcBuff.Bytes(), p.crcType)
		got, err := cboring.ReadByteString(r)
		if err != nil {
			return err
		}
		if !bytes.Equal(want, got) {
			return fmt.Errorf("primary block: CRC mismatch")
		}
		p.crc = got
	}

	return nil
}

// canonicalBlockV7 is the shared wire shape for the custody, integrity,
// payload and unknown canonical blocks under BPv7.
type canonicalBlockV7 struct {
	typeCode     uint64
	blockNumber  uint64
	controlFlags BlockControlFlags
	crcType      BlockCRCType
	data         []byte // already-CBOR-encoded block-type-specific payload
}

func (c *canonicalBlockV7) hasCRC() bool { return c.crcType != BlockCRCNo }

func (c *canonicalBlockV7) MarshalCbor(w io.Writer) error {
	arrLen := uint64(5)
	if c.hasCRC() {
		arrLen = 6
	}

	crcBuff := new(bytes.Buffer)
	if c.hasCRC() {
		w = io.MultiWriter(w, crcBuff)
	}

	if err := cboring.WriteArrayLength(arrLen, w); err != nil {
		return err
	}
	for _, f := range []uint64{c.typeCode, c.blockNumber, uint64(c.controlFlags), uint64(c.crcType)} {
		if err := cboring.WriteUInt(f, w); err != nil {
			return err
		}
	}
	if err := cboring.WriteByteString(c.data, w); err != nil {
		return err
	}

	if c.hasCRC() {
		crc := calculateBlockCRCBuff(crcBuff.Bytes(), c.crcType)
		if err := cboring.WriteByteString(crc, w); err != nil {
			return err
		}
	}

	return nil
}

func (c *canonicalBlockV7) UnmarshalCbor(r io.Reader) error {
	arrLen, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	}
	if arrLen != 5 && arrLen != 6 {
		return fmt.Errorf("canonical block: expected array length 5 or 6, got %d", arrLen)
	}

	crcBuff := new(bytes.Buffer)
	hasCRC := arrLen == 6
	if hasCRC {
		cboring.WriteArrayLength(arrLen, crcBuff)
		r = io.TeeReader(r, crcBuff)
	}

	if tc, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		c.typeCode = tc
	}
	if bn, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		c.blockNumber = bn
	}
	if cf, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		c.controlFlags = BlockControlFlags(cf)
	}
	if ct, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		c.crcType = BlockCRCType(ct)
	}
	if data, err := cboring.ReadByteString(r); err != nil {
		return err
	} else {
		c.data = data
	}

	if hasCRC {
		want := calculateBlockCRCBuff(crcBuff.Bytes(), c.crcType)
		got, err := cboring.ReadByteString(r)
		if err != nil {
			return err
		}
		if !bytes.Equal(want, got) {
			return fmt.Errorf("canonical block: CRC mismatch")
		}
	}

	return nil
}

// EncodeV7 serializes a Bundle as a CBOR indefinite-length array of blocks.
func EncodeV7(b Bundle) ([]byte, error) {
	buf := new(bytes.Buffer)

	if _, err := buf.Write([]byte{cboring.IndefiniteArray}); err != nil {
		return nil, err
	}

	pv7 := &primaryBlockV7{pb: b.Primary, crcType: BlockCRC32}
	if err := cboring.Marshal(pv7, buf); err != nil {
		return nil, fmt.Errorf("primary block: %v", err)
	}

	blockNo := uint64(1)

	if b.Custody != nil {
		data := new(bytes.Buffer)
		cboring.WriteUInt(b.Custody.CustodyID, data)
		cboring.Marshal(&b.Custody.Custodian, data)

		blockNo++
		cb := &canonicalBlockV7{typeCode: CustodyBlockTypeCode, blockNumber: blockNo, crcType: BlockCRC32, data: data.Bytes()}
		if err := cboring.Marshal(cb, buf); err != nil {
			return nil, fmt.Errorf("custody block: %v", err)
		}
	}

	if b.Integrity != nil {
		data := new(bytes.Buffer)
		cboring.WriteUInt(uint64(b.Integrity.Suite), data)
		cboring.WriteByteString(b.Integrity.Result, data)

		blockNo++
		cb := &canonicalBlockV7{typeCode: IntegrityBlockTypeCode, blockNumber: blockNo, crcType: BlockCRC32, data: data.Bytes()}
		if err := cboring.Marshal(cb, buf); err != nil {
			return nil, fmt.Errorf("integrity block: %v", err)
		}
	}

	for _, u := range b.Unknown {
		blockNo++
		cb := &canonicalBlockV7{
			typeCode:     u.TypeCode,
			blockNumber:  blockNo,
			controlFlags: u.ControlFlags,
			crcType:      BlockCRCNo,
			data:         u.Data,
		}
		if err := cboring.Marshal(cb, buf); err != nil {
			return nil, fmt.Errorf("unknown block: %v", err)
		}
	}

	payData := new(bytes.Buffer)
	cboring.WriteByteString(b.Payload.Data, payData)

	blockNo++
	pay := &canonicalBlockV7{typeCode: PayloadBlockTypeCode, blockNumber: blockNo, crcType: BlockCRC32, data: payData.Bytes()}
	if err := cboring.Marshal(pay, buf); err != nil {
		return nil, fmt.Errorf("payload block: %v", err)
	}

	if _, err := buf.Write([]byte{cboring.BreakCode}); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// DecodeV7 parses a BPv7 CBOR-encoded byte buffer into a Bundle.
func DecodeV7(data []byte) (Bundle, error) {
	r := bytes.NewReader(data)

	if err := cboring.ReadExpect(cboring.IndefiniteArray, r); err != nil {
		return Bundle{}, fmt.Errorf("DecodeV7: %v", err)
	}

	var pv7 primaryBlockV7
	if err := cboring.Unmarshal(&pv7, r); err != nil {
		return Bundle{}, fmt.Errorf("primary block: %v", err)
	}

	b := Bundle{Primary: pv7.pb}

	for {
		var cb canonicalBlockV7
		if err := cboring.Unmarshal(&cb, r); err == cboring.FlagBreakCode {
			break
		} else if err != nil {
			return Bundle{}, fmt.Errorf("canonical block: %v", err)
		}

		switch cb.typeCode {
		case CustodyBlockTypeCode:
			dr := bytes.NewReader(cb.data)
			cid, err := cboring.ReadUInt(dr)
			if err != nil {
				return Bundle{}, fmt.Errorf("custody block: %v", err)
			}
			var custodian EndpointID
			if err := cboring.Unmarshal(&custodian, dr); err != nil {
				return Bundle{}, fmt.Errorf("custody block: %v", err)
			}
			b.Custody = &CustodyBlock{CustodyID: cid, Custodian: custodian}

		case IntegrityBlockTypeCode:
			dr := bytes.NewReader(cb.data)
			suite, err := cboring.ReadUInt(dr)
			if err != nil {
				return Bundle{}, fmt.Errorf("integrity block: %v", err)
			}
			result, err := cboring.ReadByteString(dr)
			if err != nil {
				return Bundle{}, fmt.Errorf("integrity block: %v", err)
			}
			b.Integrity = &IntegrityBlock{Suite: CipherSuite(suite), Result: result}

		case PayloadBlockTypeCode:
			dr := bytes.NewReader(cb.data)
			payload, err := cboring.ReadByteString(dr)
			if err != nil {
				return Bundle{}, fmt.Errorf("payload block: %v", err)
			}
			b.Payload = PayloadBlock{Data: payload}

		default:
			b.Unknown = append(b.Unknown, UnknownBlock{
				TypeCode:     cb.typeCode,
				BlockNumber:  cb.blockNumber,
				ControlFlags: cb.controlFlags,
				Data:         cb.data,
			})
		}
	}

	return b, b.checkValid()
}
