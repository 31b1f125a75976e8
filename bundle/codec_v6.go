package bundle

import (
	"fmt"
)

// BPv6 primary block layout, per spec §6: a 128-byte scratch with fields at
// fixed byte offsets. Node/service SDNVs are reserved at a fixed width so
// the channel engine can later patch a single field (the custody-id) in
// place without re-serializing the whole bundle — see EncodedV6.
const (
	v6ScratchSize = 128
	v6HeaderSize  = 52 // bytes actually occupied by the fixed primary fields

	offVersion                 = 0
	offPcf, wPcf               = 1, 3
	offBlklen                  = 4
	offDstNode, wDstNode       = 5, 4
	offDstServ, wDstServ       = 9, 2
	offSrcNode, wSrcNode       = 11, 4
	offSrcServ, wSrcServ       = 15, 2
	offRptNode, wRptNode       = 17, 4
	offRptServ, wRptServ       = 21, 2
	offCstNode, wCstNode       = 23, 4
	offCstServ, wCstServ       = 27, 2
	offCreateSec, wCreateSec   = 29, 6
	offCreateSeq, wCreateSeq   = 35, 4
	offLifetime, wLifetime     = 39, 4
	offDictLen                 = 43
	offFragOffset, wFragOffset = 44, 4
	offPayLen, wPayLen         = 48, 4

	// v6CustodyIDWidth is reserved wider than any realistic custody-id so the
	// field can be rewritten in place as the id changes across retransmits.
	v6CustodyIDWidth = 5
)

// EncodedV6 is a serialized BPv6 bundle plus the byte offset/width of its
// custody-id field (if any), so the channel engine's retransmit/wrap logic
// can patch the CID without re-running the whole encoder (spec §4.1.3).
type EncodedV6 struct {
	Bytes           []byte
	CustodyIDOffset int // -1 if the bundle carries no custody block
	CustodyIDWidth  int
}

// PatchCustodyID overwrites the serialized custody-id SDNV in place.
func (e *EncodedV6) PatchCustodyID(cid uint64) error {
	if e.CustodyIDOffset < 0 {
		return newBundleError("EncodedV6: bundle has no custody block to patch")
	}
	return sdnvPutFixed(e.Bytes, e.CustodyIDOffset, e.CustodyIDWidth, cid)
}

// PatchCustodyIDInPlace overwrites the custody-id SDNV of an already
// serialized BPv6 bundle whose offset map is no longer at hand (a record
// read back from storage), walking the block region to locate the custody
// block. The value is rewritten within its reserved width, so no
// subsequent field shifts; a value exceeding the width fails instead of
// corrupting the buffer.
func PatchCustodyIDInPlace(buf []byte, cid uint64) error {
	if len(buf) < v6HeaderSize || buf[offVersion] != 6 {
		return newBundleError("PatchCustodyIDInPlace: not a BPv6 buffer")
	}

	pos := v6HeaderSize
	for pos+2 <= len(buf) {
		typeCode := uint64(buf[pos])
		pos += 2

		switch typeCode {
		case CustodyBlockTypeCode:
			return sdnvPutFixed(buf, pos, v6CustodyIDWidth, cid)

		case IntegrityBlockTypeCode:
			_, n, err := sdnvDecode(buf[pos:])
			if err != nil {
				return err
			}
			pos += n
			rlen, rn, err := sdnvDecode(buf[pos:])
			if err != nil {
				return err
			}
			pos += rn + int(rlen)

		case PayloadBlockTypeCode:
			return newBundleError("PatchCustodyIDInPlace: bundle has no custody block")

		default:
			dlen, n, err := sdnvDecode(buf[pos:])
			if err != nil {
				return err
			}
			pos += n + int(dlen)
		}
	}
	return newBundleError("PatchCustodyIDInPlace: bundle has no custody block")
}

// EncodeV6 serializes a Bundle into the BPv6 wire format.
func EncodeV6(b Bundle) (EncodedV6, error) {
	scratch := make([]byte, v6ScratchSize)
	scratch[offVersion] = 6

	if err := sdnvPutFixed(scratch, offPcf, wPcf, uint64(b.Primary.ControlFlags)); err != nil {
		return EncodedV6{}, err
	}
	if err := sdnvPutFixed(scratch, offBlklen, 1, uint64(v6HeaderSize-offBlklen-1)); err != nil {
		return EncodedV6{}, err
	}
	if err := sdnvPutFixed(scratch, offDstNode, wDstNode, uint64(b.Primary.Destination.Node)); err != nil {
		return EncodedV6{}, err
	}
	if err := sdnvPutFixed(scratch, offDstServ, wDstServ, uint64(b.Primary.Destination.Service)); err != nil {
		return EncodedV6{}, err
	}
	if err := sdnvPutFixed(scratch, offSrcNode, wSrcNode, uint64(b.Primary.SourceNode.Node)); err != nil {
		return EncodedV6{}, err
	}
	if err := sdnvPutFixed(scratch, offSrcServ, wSrcServ, uint64(b.Primary.SourceNode.Service)); err != nil {
		return EncodedV6{}, err
	}
	if err := sdnvPutFixed(scratch, offRptNode, wRptNode, uint64(b.Primary.ReportTo.Node)); err != nil {
		return EncodedV6{}, err
	}
	if err := sdnvPutFixed(scratch, offRptServ, wRptServ, uint64(b.Primary.ReportTo.Service)); err != nil {
		return EncodedV6{}, err
	}
	if err := sdnvPutFixed(scratch, offCstNode, wCstNode, uint64(b.Primary.Custodian.Node)); err != nil {
		return EncodedV6{}, err
	}
	if err := sdnvPutFixed(scratch, offCstServ, wCstServ, uint64(b.Primary.Custodian.Service)); err != nil {
		return EncodedV6{}, err
	}
	if err := sdnvPutFixed(scratch, offCreateSec, wCreateSec, b.Primary.CreationTimestamp.Seconds); err != nil {
		return EncodedV6{}, err
	}
	if err := sdnvPutFixed(scratch, offCreateSeq, wCreateSeq, b.Primary.CreationTimestamp.Sequence); err != nil {
		return EncodedV6{}, err
	}
	if err := sdnvPutFixed(scratch, offLifetime, wLifetime, b.Primary.Lifetime); err != nil {
		return EncodedV6{}, err
	}
	if err := sdnvPutFixed(scratch, offDictLen, 1, 0); err != nil {
		return EncodedV6{}, err
	}
	if err := sdnvPutFixed(scratch, offFragOffset, wFragOffset, b.Primary.FragmentOffset); err != nil {
		return EncodedV6{}, err
	}
	if err := sdnvPutFixed(scratch, offPayLen, wPayLen, b.Primary.TotalDataLength); err != nil {
		return EncodedV6{}, err
	}

	out := append([]byte{}, scratch[:v6HeaderSize]...)

	cidOffset, cidWidth := -1, 0

	if b.Custody != nil {
		out = append(out, byte(CustodyBlockTypeCode), 0)
		cidOffset = len(out)
		cidWidth = v6CustodyIDWidth
		cidBuf := make([]byte, v6CustodyIDWidth)
		if err := sdnvPutFixed(cidBuf, 0, v6CustodyIDWidth, b.Custody.CustodyID); err != nil {
			return EncodedV6{}, err
		}
		out = append(out, cidBuf...)
		out = appendSdnv(out, uint64(b.Custody.Custodian.Node))
		out = appendSdnv(out, uint64(b.Custody.Custodian.Service))
	}

	if b.Integrity != nil {
		out = append(out, byte(IntegrityBlockTypeCode), 0)
		out = appendSdnv(out, uint64(b.Integrity.Suite))
		out = appendSdnv(out, uint64(len(b.Integrity.Result)))
		out = append(out, b.Integrity.Result...)
	}

	for _, u := range b.Unknown {
		out = append(out, byte(u.TypeCode), byte(u.ControlFlags))
		out = appendSdnv(out, uint64(len(u.Data)))
		out = append(out, u.Data...)
	}

	out = append(out, byte(PayloadBlockTypeCode), 0)
	out = appendSdnv(out, uint64(len(b.Payload.Data)))
	out = append(out, b.Payload.Data...)

	return EncodedV6{Bytes: out, CustodyIDOffset: cidOffset, CustodyIDWidth: cidWidth}, nil
}

func appendSdnv(buf []byte, v uint64) []byte {
	return append(buf, sdnvEncode(v)...)
}

// DecodeV6 parses a BPv6 wire buffer into a Bundle.
func DecodeV6(buf []byte) (Bundle, error) {
	if len(buf) < v6HeaderSize {
		return Bundle{}, newBundleError("DecodeV6: buffer shorter than the primary block")
	}

	var pb PrimaryBlock
	pb.Version = buf[offVersion]
	if pb.Version != 6 {
		return Bundle{}, newBundleError(fmt.Sprintf("DecodeV6: unexpected version %d", pb.Version))
	}

	flags, err := sdnvGetFixed(buf, offPcf, wPcf)
	if err != nil {
		return Bundle{}, err
	}
	pb.ControlFlags = BundleControlFlags(flags)

	if dstNode, err := sdnvGetFixed(buf, offDstNode, wDstNode); err != nil {
		return Bundle{}, err
	} else if dstServ, err := sdnvGetFixed(buf, offDstServ, wDstServ); err != nil {
		return Bundle{}, err
	} else {
		pb.Destination = EndpointID{Node: uint32(dstNode), Service: uint32(dstServ)}
	}

	if srcNode, err := sdnvGetFixed(buf, offSrcNode, wSrcNode); err != nil {
		return Bundle{}, err
	} else if srcServ, err := sdnvGetFixed(buf, offSrcServ, wSrcServ); err != nil {
		return Bundle{}, err
	} else {
		pb.SourceNode = EndpointID{Node: uint32(srcNode), Service: uint32(srcServ)}
	}

	if rptNode, err := sdnvGetFixed(buf, offRptNode, wRptNode); err != nil {
		return Bundle{}, err
	} else if rptServ, err := sdnvGetFixed(buf, offRptServ, wRptServ); err != nil {
		return Bundle{}, err
	} else {
		pb.ReportTo = EndpointID{Node: uint32(rptNode), Service: uint32(rptServ)}
	}

	if cstNode, err := sdnvGetFixed(buf, offCstNode, wCstNode); err != nil {
		return Bundle{}, err
	} else if cstServ, err := sdnvGetFixed(buf, offCstServ, wCstServ); err != nil {
		return Bundle{}, err
	} else {
		pb.Custodian = EndpointID{Node: uint32(cstNode), Service: uint32(cstServ)}
	}

	if sec, err := sdnvGetFixed(buf, offCreateSec, wCreateSec); err != nil {
		return Bundle{}, err
	} else if seq, err := sdnvGetFixed(buf, offCreateSeq, wCreateSeq); err != nil {
		return Bundle{}, err
	} else {
		pb.CreationTimestamp = CreationTimestamp{Seconds: sec, Sequence: seq}
	}

	if lt, err := sdnvGetFixed(buf, offLifetime, wLifetime); err != nil {
		return Bundle{}, err
	} else {
		pb.Lifetime = lt
	}

	if fo, err := sdnvGetFixed(buf, offFragOffset, wFragOffset); err != nil {
		return Bundle{}, err
	} else {
		pb.FragmentOffset = fo
	}

	if pl, err := sdnvGetFixed(buf, offPayLen, wPayLen); err != nil {
		return Bundle{}, err
	} else {
		pb.TotalDataLength = pl
	}

	b := Bundle{Primary: pb}
	pos := v6HeaderSize

	for {
		if pos+2 > len(buf) {
			return Bundle{}, newBundleError("DecodeV6: missing payload block")
		}

		typeCode := uint64(buf[pos])
		blockFlags := BlockControlFlags(buf[pos+1])
		pos += 2

		switch typeCode {
		case CustodyBlockTypeCode:
			if pos+v6CustodyIDWidth > len(buf) {
				return Bundle{}, newBundleError("DecodeV6: truncated custody block")
			}
			cid, err := sdnvGetFixed(buf, pos, v6CustodyIDWidth)
			if err != nil {
				return Bundle{}, err
			}
			pos += v6CustodyIDWidth

			node, n, err := sdnvDecode(buf[pos:])
			if err != nil {
				return Bundle{}, err
			}
			pos += n
			serv, n, err := sdnvDecode(buf[pos:])
			if err != nil {
				return Bundle{}, err
			}
			pos += n

			b.Custody = &CustodyBlock{CustodyID: cid, Custodian: EndpointID{Node: uint32(node), Service: uint32(serv)}}

		case IntegrityBlockTypeCode:
			suite, n, err := sdnvDecode(buf[pos:])
			if err != nil {
				return Bundle{}, err
			}
			pos += n
			rlen, n, err := sdnvDecode(buf[pos:])
			if err != nil {
				return Bundle{}, err
			}
			pos += n
			if pos+int(rlen) > len(buf) {
				return Bundle{}, newBundleError("DecodeV6: truncated integrity result")
			}
			result := append([]byte{}, buf[pos:pos+int(rlen)]...)
			pos += int(rlen)

			b.Integrity = &IntegrityBlock{Suite: CipherSuite(suite), Result: result}

		case PayloadBlockTypeCode:
			plen, n, err := sdnvDecode(buf[pos:])
			if err != nil {
				return Bundle{}, err
			}
			pos += n
			if pos+int(plen) > len(buf) {
				return Bundle{}, newBundleError("DecodeV6: truncated payload")
			}
			b.Payload = PayloadBlock{Data: append([]byte{}, buf[pos:pos+int(plen)]...)}
			pos += int(plen)

			if pos != len(buf) {
				return Bundle{}, newBundleError("DecodeV6: trailing garbage after payload block")
			}
			return b, b.checkValid()

		default:
			dlen, n, err := sdnvDecode(buf[pos:])
			if err != nil {
				return Bundle{}, err
			}
			pos += n
			if pos+int(dlen) > len(buf) {
				return Bundle{}, newBundleError("DecodeV6: truncated unknown block")
			}
			data := append([]byte{}, buf[pos:pos+int(dlen)]...)
			pos += int(dlen)

			b.Unknown = append(b.Unknown, UnknownBlock{
				TypeCode:     typeCode,
				ControlFlags: blockFlags,
				Data:         data,
			})
		}
	}
}
