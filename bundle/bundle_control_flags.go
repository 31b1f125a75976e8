package bundle

import "github.com/hashicorp/go-multierror"

// BundleControlFlags are the primary block's processing control flags
// from spec §3's data model: admin-record, must-not-fragment, is-fragment,
// request-custody and integrity-check.
type BundleControlFlags uint16

const (
	// AdministrativeRecordPayload: the bundle's payload is an administrative
	// record (e.g. an Aggregate Custody Signal).
	AdministrativeRecordPayload BundleControlFlags = 0x02

	// MustNotFragment: the bundle must not be fragmented.
	MustNotFragment BundleControlFlags = 0x04

	// IsFragment: the bundle is a fragment.
	IsFragment BundleControlFlags = 0x01

	// RequestCustody: the source requests custody transfer for this bundle.
	RequestCustody BundleControlFlags = 0x08

	// RequestIntegrityCheck: an integrity block is present and must be
	// verified before delivery/forwarding.
	RequestIntegrityCheck BundleControlFlags = 0x10

	bndlCFReservedFields BundleControlFlags = 0xFFE0
)

// Has returns true if a given flag or mask of flags is set.
func (bcf BundleControlFlags) Has(flag BundleControlFlags) bool {
	return (bcf & flag) != 0
}

func (bcf BundleControlFlags) checkValid() (errs error) {
	if bcf.Has(bndlCFReservedFields) {
		errs = multierror.Append(errs, newBundleError("BundleControlFlags: reserved bits set"))
	}

	if bcf.Has(IsFragment) && bcf.Has(MustNotFragment) {
		errs = multierror.Append(errs, newBundleError(
			"BundleControlFlags: both 'is a fragment' and 'must not be fragmented' are set"))
	}

	return
}
