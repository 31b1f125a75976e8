package bundle

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// UnknownBlock preserves a canonical block this package does not decode,
// so the channel engine can apply spec §4.1.2's NOTIFY/DELETE/DROP/FORWARD
// no-proc handling without losing the block's raw bytes.
type UnknownBlock struct {
	TypeCode     uint64
	BlockNumber  uint64
	ControlFlags BlockControlFlags
	Data         []byte
}

// Bundle is the logical record: a primary block, the optional custody and
// integrity extension blocks, the payload block, and any canonical blocks
// this package doesn't otherwise model.
type Bundle struct {
	Primary   PrimaryBlock
	Custody   *CustodyBlock
	Integrity *IntegrityBlock
	Payload   PayloadBlock
	Unknown   []UnknownBlock
}

// NewBundle validates and returns a Bundle.
func NewBundle(primary PrimaryBlock, payload PayloadBlock) (Bundle, error) {
	b := Bundle{Primary: primary, Payload: payload}
	return b, b.checkValid()
}

func (b Bundle) checkValid() (errs error) {
	if pbErr := b.Primary.checkValid(); pbErr != nil {
		errs = multierror.Append(errs, pbErr)
	}
	return
}

// ID returns a unique-enough textual identity for this bundle: its source,
// creation timestamp and, if fragmented, its fragment offset. Used for
// de-duplication and logging, mirroring the teacher's Bundle.ID().
func (b Bundle) ID() string {
	var s strings.Builder
	fmt.Fprintf(&s, "%v-%d-%d", b.Primary.SourceNode, b.Primary.CreationTimestamp.Seconds, b.Primary.CreationTimestamp.Sequence)
	if b.Primary.HasFragmentation() {
		fmt.Fprintf(&s, "-%d", b.Primary.FragmentOffset)
	}
	return s.String()
}

func (b Bundle) String() string {
	return b.ID()
}

// IsAdministrativeRecord reports whether this bundle's payload is an
// administrative record (spec §4.1.2).
func (b Bundle) IsAdministrativeRecord() bool {
	return b.Primary.ControlFlags.Has(AdministrativeRecordPayload)
}
