package bundle

import (
	"bytes"
	"testing"
)

func TestFragmentSplitsPayload(t *testing.T) {
	primary := NewPrimaryBlock(7, 0, MustNewEndpointID("ipn:2.1"), MustNewEndpointID("ipn:1.1"),
		NewCreationTimestamp(1, 0), 0)
	b, err := NewBundle(primary, PayloadBlock{Data: []byte("0123456789")})
	if err != nil {
		t.Fatalf("NewBundle: %v", err)
	}

	frags, err := b.Fragment(4)
	if err != nil {
		t.Fatalf("Fragment: %v", err)
	}
	if len(frags) != 3 {
		t.Fatalf("expected 3 fragments, got %d", len(frags))
	}

	var reassembled []byte
	for i, f := range frags {
		if !f.Primary.HasFragmentation() {
			t.Errorf("fragment %d missing IsFragment flag", i)
		}
		if f.Primary.TotalDataLength != 10 {
			t.Errorf("fragment %d: total length got %d, want 10", i, f.Primary.TotalDataLength)
		}
		if f.Primary.FragmentOffset != uint64(i*4) {
			t.Errorf("fragment %d: offset got %d, want %d", i, f.Primary.FragmentOffset, i*4)
		}
		reassembled = append(reassembled, f.Payload.Data...)
	}

	if !bytes.Equal(reassembled, []byte("0123456789")) {
		t.Errorf("reassembled payload: got %q", reassembled)
	}
}

func TestFragmentNotNeeded(t *testing.T) {
	primary := NewPrimaryBlock(7, 0, MustNewEndpointID("ipn:2.1"), MustNewEndpointID("ipn:1.1"),
		NewCreationTimestamp(1, 0), 0)
	b, _ := NewBundle(primary, PayloadBlock{Data: []byte("short")})

	frags, err := b.Fragment(100)
	if err != nil {
		t.Fatalf("Fragment: %v", err)
	}
	if len(frags) != 1 {
		t.Fatalf("expected 1 fragment for a payload under the limit, got %d", len(frags))
	}
	if frags[0].Primary.HasFragmentation() {
		t.Error("unfragmented bundle should not carry IsFragment")
	}
}

func TestFragmentRejectsMustNotFragment(t *testing.T) {
	primary := NewPrimaryBlock(7, MustNotFragment, MustNewEndpointID("ipn:2.1"), MustNewEndpointID("ipn:1.1"),
		NewCreationTimestamp(1, 0), 0)
	b, _ := NewBundle(primary, PayloadBlock{Data: bytes.Repeat([]byte("x"), 100)})

	if _, err := b.Fragment(10); err == nil {
		t.Error("expected an error fragmenting a MustNotFragment bundle")
	}
}
