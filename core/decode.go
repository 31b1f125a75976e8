package core

import "github.com/dtn7/bpcustody/bundle"

// decodeBundle dispatches to the BPv6 or BPv7 codec by sniffing the first
// byte: a BPv6 primary block's version field is literally 6, which can
// never collide with BPv7's CBOR indefinite-array opening byte.
func decodeBundle(data []byte) (bundle.Bundle, error) {
	if len(data) > 0 && data[0] == 6 {
		return bundle.DecodeV6(data)
	}
	return bundle.DecodeV7(data)
}
