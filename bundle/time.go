package bundle

import (
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// CreationTimestamp is the tuple (seconds, sequence) identifying when a
// bundle was originated, disambiguating bundles created within the same
// second from the same source by an increasing sequence number.
type CreationTimestamp struct {
	Seconds  uint64
	Sequence uint64
}

// NewCreationTimestamp builds a CreationTimestamp from its parts.
func NewCreationTimestamp(seconds, sequence uint64) CreationTimestamp {
	return CreationTimestamp{Seconds: seconds, Sequence: sequence}
}

func (ct CreationTimestamp) String() string {
	return fmt.Sprintf("(%d, %d)", ct.Seconds, ct.Sequence)
}

// MarshalCbor writes this CreationTimestamp as a 2-element CBOR array.
func (ct *CreationTimestamp) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(ct.Seconds, w); err != nil {
		return err
	}
	return cboring.WriteUInt(ct.Sequence, w)
}

// UnmarshalCbor reads a CreationTimestamp from its 2-element CBOR array.
func (ct *CreationTimestamp) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 2 {
		return fmt.Errorf("CreationTimestamp expects array of 2 elements, not %d", n)
	}

	if s, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		ct.Seconds = s
	}
	if s, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		ct.Sequence = s
	}
	return nil
}
