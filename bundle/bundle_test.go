package bundle

import "testing"

func TestBundleID(t *testing.T) {
	primary := NewPrimaryBlock(7, 0, MustNewEndpointID("ipn:2.1"), MustNewEndpointID("ipn:1.1"),
		NewCreationTimestamp(100, 5), 0)
	b, err := NewBundle(primary, PayloadBlock{Data: []byte("x")})
	if err != nil {
		t.Fatalf("NewBundle: %v", err)
	}

	id := b.ID()
	if id == "" {
		t.Error("expected a non-empty bundle ID")
	}

	b2, _ := NewBundle(primary, PayloadBlock{Data: []byte("y")})
	if b.ID() != b2.ID() {
		t.Error("two bundles with the same primary block should share an ID regardless of payload")
	}
}

func TestBundleIsAdministrativeRecord(t *testing.T) {
	primary := NewPrimaryBlock(7, AdministrativeRecordPayload, MustNewEndpointID("ipn:2.1"),
		MustNewEndpointID("ipn:1.1"), NewCreationTimestamp(100, 0), 0)
	b, err := NewBundle(primary, PayloadBlock{Data: EncodeACS([]uint64{0, 1})})
	if err != nil {
		t.Fatalf("NewBundle: %v", err)
	}

	if !b.IsAdministrativeRecord() {
		t.Error("expected IsAdministrativeRecord to be true")
	}
}

func TestNewBundleRejectsInvalidPrimary(t *testing.T) {
	primary := PrimaryBlock{Version: 9}
	if _, err := NewBundle(primary, PayloadBlock{}); err == nil {
		t.Error("expected NewBundle to reject an unsupported version")
	}
}

func TestPayloadBlockLen(t *testing.T) {
	pb := PayloadBlock{Data: []byte("12345")}
	if pb.Len() != 5 {
		t.Errorf("got %d, want 5", pb.Len())
	}
}
