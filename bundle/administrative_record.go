package bundle

import (
	"fmt"
	"sort"
)

// Administrative record type codes, spec §6.
const (
	ARTypeStatusReport  uint64 = 1
	ARTypeCustodySignal uint64 = 2
	ARTypeACS           uint64 = 4
)

// acsStatusAccepted is the single status byte this package emits: every CID
// named in an ACS payload this package produces has been accepted. A
// channel never originates a "refused" ACS, mirroring the teacher's
// StatusReport, which also hard-codes its single supported status.
const acsStatusAccepted byte = 1

// cidRun is a run of consecutive acknowledged custody-ids, encoded on the
// wire as a (first-fill, count) SDNV pair per spec §6.
type cidRun struct {
	First uint64
	Count uint64
}

// EncodeACS builds an Aggregate Custody Signal administrative-record
// payload: the record-type byte, a status byte, then sorted runs of
// consecutive CIDs, each run an SDNV pair (first-fill, count).
func EncodeACS(cids []uint64) []byte {
	runs := cidsToRuns(cids)

	out := []byte{byte(ARTypeACS), acsStatusAccepted}
	for _, r := range runs {
		out = append(out, sdnvEncode(r.First)...)
		out = append(out, sdnvEncode(r.Count)...)
	}
	return out
}

// DecodeACS parses an Aggregate Custody Signal administrative-record
// payload into the set of acknowledged custody-ids, spec §4.1.4.
func DecodeACS(data []byte) ([]uint64, error) {
	if len(data) < 2 {
		return nil, newBundleError("ACS: payload shorter than 2 bytes")
	}
	if uint64(data[0]) != ARTypeACS {
		return nil, newBundleError(fmt.Sprintf("ACS: record type %d is not an aggregate custody signal", data[0]))
	}

	pos := 2 // skip record type and status; this package only ever emits/expects "accepted"
	var cids []uint64

	for pos < len(data) {
		first, n, err := sdnvDecode(data[pos:])
		if err != nil {
			return nil, fmt.Errorf("ACS: first-fill: %v", err)
		}
		pos += n

		count, n, err := sdnvDecode(data[pos:])
		if err != nil {
			return nil, fmt.Errorf("ACS: count: %v", err)
		}
		pos += n

		for i := uint64(0); i < count; i++ {
			cids = append(cids, first+i)
		}
	}

	return cids, nil
}

// cidsToRuns sorts and coalesces a set of custody-ids into runs of
// consecutive values, the wire shape spec §6 requires.
func cidsToRuns(cids []uint64) []cidRun {
	if len(cids) == 0 {
		return nil
	}

	sorted := append([]uint64(nil), cids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var runs []cidRun
	runStart := sorted[0]
	runLen := uint64(1)

	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			continue // duplicate CID within the same flush, spec I4
		}
		if sorted[i] == sorted[i-1]+1 {
			runLen++
			continue
		}
		runs = append(runs, cidRun{First: runStart, Count: runLen})
		runStart = sorted[i]
		runLen = 1
	}
	runs = append(runs, cidRun{First: runStart, Count: runLen})

	return runs
}
