package bundle

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// PrimaryBlock is the version-agnostic primary block described in spec §3:
// version, processing control flags, the four endpoints, creation
// timestamp, lifetime and (if fragmented) offset/total length.
type PrimaryBlock struct {
	Version uint8

	ControlFlags BundleControlFlags

	Destination EndpointID
	SourceNode  EndpointID
	ReportTo    EndpointID
	Custodian   EndpointID

	CreationTimestamp CreationTimestamp

	// Lifetime in seconds; zero means infinite.
	Lifetime uint64

	FragmentOffset  uint64
	TotalDataLength uint64
}

// NewPrimaryBlock creates a primary block with ReportTo and Custodian
// defaulted to the source, matching the teacher's NewPrimaryBlock default.
func NewPrimaryBlock(version uint8, flags BundleControlFlags, destination, source EndpointID,
	creation CreationTimestamp, lifetime uint64) PrimaryBlock {
	return PrimaryBlock{
		Version:           version,
		ControlFlags:      flags,
		Destination:       destination,
		SourceNode:        source,
		ReportTo:          source,
		Custodian:         source,
		CreationTimestamp: creation,
		Lifetime:          lifetime,
	}
}

// HasFragmentation reports whether this primary block's control flags mark
// it as a fragment.
func (pb PrimaryBlock) HasFragmentation() bool {
	return pb.ControlFlags.Has(IsFragment)
}

// IsExpired reports whether this bundle's lifetime has elapsed at nowSec,
// per spec invariant (I5): lifetime != 0 and creation+lifetime <= now.
func (pb PrimaryBlock) IsExpired(nowSec uint64) bool {
	if pb.Lifetime == 0 {
		return false
	}
	return pb.CreationTimestamp.Seconds+pb.Lifetime <= nowSec
}

func (pb PrimaryBlock) checkValid() (errs error) {
	if pb.Version != 6 && pb.Version != 7 {
		errs = multierror.Append(errs, newBundleError(fmt.Sprintf("PrimaryBlock: unsupported version %d", pb.Version)))
	}
	if bcfErr := pb.ControlFlags.checkValid(); bcfErr != nil {
		errs = multierror.Append(errs, bcfErr)
	}
	if destErr := pb.Destination.checkValid(); destErr != nil {
		errs = multierror.Append(errs, destErr)
	}
	if srcErr := pb.SourceNode.checkValid(); srcErr != nil {
		errs = multierror.Append(errs, srcErr)
	}
	return
}

func (pb PrimaryBlock) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "version: %d, ", pb.Version)
	fmt.Fprintf(&b, "flags: %b, ", pb.ControlFlags)
	fmt.Fprintf(&b, "destination: %v, ", pb.Destination)
	fmt.Fprintf(&b, "source: %v, ", pb.SourceNode)
	fmt.Fprintf(&b, "report-to: %v, ", pb.ReportTo)
	fmt.Fprintf(&b, "custodian: %v, ", pb.Custodian)
	fmt.Fprintf(&b, "creation: %v, ", pb.CreationTimestamp)
	fmt.Fprintf(&b, "lifetime: %d", pb.Lifetime)
	if pb.HasFragmentation() {
		fmt.Fprintf(&b, ", fragment-offset: %d, total-length: %d", pb.FragmentOffset, pb.TotalDataLength)
	}
	return b.String()
}
