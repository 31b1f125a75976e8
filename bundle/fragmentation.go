package bundle

import "fmt"

// Fragment splits b into N fragments of at most maxFragmentLen payload
// bytes each, per spec §4.1.1. Each fragment carries IsFragment, and the
// offset/total-length pair needed to reassemble. It refuses bundles marked
// MustNotFragment, mirroring the teacher's Bundle.Fragment guard.
func (b Bundle) Fragment(maxFragmentLen int) ([]Bundle, error) {
	if b.Primary.ControlFlags.Has(MustNotFragment) {
		return nil, newBundleError("bundle control flags forbid fragmentation")
	}
	if maxFragmentLen <= 0 {
		return nil, fmt.Errorf("Fragment: maxFragmentLen must be positive, got %d", maxFragmentLen)
	}

	total := len(b.Payload.Data)
	if total <= maxFragmentLen {
		return []Bundle{b}, nil
	}

	var out []Bundle
	for offset := 0; offset < total; offset += maxFragmentLen {
		end := offset + maxFragmentLen
		if end > total {
			end = total
		}

		fragPrimary := b.Primary
		fragPrimary.ControlFlags |= IsFragment
		fragPrimary.FragmentOffset = uint64(offset)
		fragPrimary.TotalDataLength = uint64(total)

		frag, err := NewBundle(fragPrimary, PayloadBlock{Data: b.Payload.Data[offset:end]})
		if err != nil {
			return nil, fmt.Errorf("Fragment: fragment at offset %d: %v", offset, err)
		}

		frag.Custody = b.Custody
		frag.Integrity = b.Integrity
		frag.Unknown = b.Unknown

		out = append(out, frag)
	}

	return out, nil
}
