package cache

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/dtn7/bpcustody/bundle"
)

// castagnoliTable backs hash_index's key derivation, spec §4.2.1: a
// CRC32-Castagnoli over a salted tuple, the same CRC32 variant the bundle
// package already reaches for in its own integrity-block codec
// (bundle/crc.go), rather than introducing a second hash library.
var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// Two distinct salts separate hash_index's two lookup kinds so a bundle
// key and a DACS key never collide even if their numeric fields coincide.
const (
	saltBundleLookup uint64 = 0xB0D1E000
	saltDacsLookup   uint64 = 0xDAC5000D
)

func hashTuple(salt uint64, fields ...uint64) uint64 {
	buf := make([]byte, 8*(1+len(fields)))
	binary.BigEndian.PutUint64(buf[0:8], salt)
	for i, f := range fields {
		binary.BigEndian.PutUint64(buf[8*(i+1):8*(i+2)], f)
	}
	return uint64(crc32.Checksum(buf, castagnoliTable))
}

// bundleHashKey is hash_index's bundle-lookup key: (flow_eid, sequence).
func bundleHashKey(flow bundle.EndpointID, seq uint64) uint64 {
	return hashTuple(saltBundleLookup, uint64(flow.Node), uint64(flow.Service), seq)
}

// dacsHashKey is hash_index's DACS-lookup key: (flow_eid, prev_custodian).
func dacsHashKey(flow, prevCustodian bundle.EndpointID) uint64 {
	return hashTuple(saltDacsLookup, uint64(flow.Node), uint64(flow.Service),
		uint64(prevCustodian.Node), uint64(prevCustodian.Service))
}
