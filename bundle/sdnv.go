package bundle

import "fmt"

// sdnvEncode writes v as a Self-Delimiting Numeric Value: big-endian,
// 7 bits of value per byte, MSB set on every byte but the last.
func sdnvEncode(v uint64) []byte {
	if v == 0 {
		return []byte{0x00}
	}

	var tmp []byte
	for v > 0 {
		tmp = append(tmp, byte(v&0x7f))
		v >>= 7
	}

	out := make([]byte, len(tmp))
	for i, b := range tmp {
		out[len(tmp)-1-i] = b
	}
	for i := 0; i < len(out)-1; i++ {
		out[i] |= 0x80
	}
	return out
}

// sdnvDecode reads one SDNV from the start of buf, returning the value and
// the number of bytes consumed. An SDNV missing its terminating byte within
// buf is reported as an error.
func sdnvDecode(buf []byte) (uint64, int, error) {
	var v uint64
	for i, b := range buf {
		if v>>57 != 0 {
			// Shifting in 7 more bits would overflow uint64.
			return 0, 0, fmt.Errorf("sdnv: value exceeds 64 bits")
		}
		v = (v << 7) | uint64(b&0x7f)
		if b&0x80 == 0 {
			return v, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("sdnv: truncated, missing terminating byte")
}

// sdnvPutFixed writes v's SDNV encoding into buf[offset:offset+reservedWidth],
// zero-padding unused leading bytes with continuation-only filler. It fails
// with BUNDLE_PARSE_ERROR-flavored error if the SDNV does not fit in the
// reserved width, per spec §9's "manual SDNV offset patching" note: a
// too-wide value must not silently shift subsequent fields.
func sdnvPutFixed(buf []byte, offset, reservedWidth int, v uint64) error {
	enc := sdnvEncode(v)
	if len(enc) > reservedWidth {
		return newBundleError(fmt.Sprintf(
			"sdnv: value %d needs %d bytes, exceeds reserved width %d", v, len(enc), reservedWidth))
	}
	if offset+reservedWidth > len(buf) {
		return newBundleError("sdnv: reserved field exceeds buffer")
	}

	pad := reservedWidth - len(enc)
	for i := 0; i < pad; i++ {
		buf[offset+i] = 0x80
	}
	copy(buf[offset+pad:offset+reservedWidth], enc)
	return nil
}

// sdnvGetFixed reads the SDNV occupying buf[offset:offset+reservedWidth].
// Leading 0x80 padding bytes (continuation bit set, zero value) are
// transparent; actual content may use fewer bytes than reservedWidth.
func sdnvGetFixed(buf []byte, offset, reservedWidth int) (uint64, error) {
	if offset+reservedWidth > len(buf) {
		return 0, newBundleError("sdnv: reserved field exceeds buffer")
	}
	v, n, err := sdnvDecode(buf[offset : offset+reservedWidth])
	if err != nil {
		return 0, err
	}
	if n != reservedWidth {
		return 0, newBundleError("sdnv: reserved field terminated early")
	}
	return v, nil
}
