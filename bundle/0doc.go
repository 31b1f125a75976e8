// Package bundle implements the logical Bundle Protocol data model shared by
// the BPv6 and BPv7 wire encodings: endpoint IDs, the primary block, the
// custody and integrity canonical blocks, the payload block and the
// administrative-record payloads (status reports are not implemented, only
// the Aggregate Custody Signal used by the custody engine).
//
// A Bundle is built version-agnostically and then serialized with either
// EncodeV6 (SDNV, fixed-offset primary block) or EncodeV7 (CBOR), selected
// per channel.
package bundle
