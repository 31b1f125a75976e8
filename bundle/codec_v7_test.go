package bundle

import "testing"

func v7SampleBundle(t *testing.T) Bundle {
	t.Helper()

	primary := NewPrimaryBlock(7, RequestCustody|RequestIntegrityCheck,
		MustNewEndpointID("ipn:2.1"), MustNewEndpointID("ipn:1.1"),
		NewCreationTimestamp(1000, 1), 3600)

	b, err := NewBundle(primary, PayloadBlock{Data: []byte("hello world")})
	if err != nil {
		t.Fatalf("NewBundle: %v", err)
	}
	b.Custody = &CustodyBlock{CustodyID: 7, Custodian: MustNewEndpointID("ipn:1.1")}
	b.Integrity = &IntegrityBlock{Suite: CipherSuiteCRC32, Result: []byte{1, 2, 3, 4}}
	return b
}

func TestV7RoundTrip(t *testing.T) {
	b := v7SampleBundle(t)

	data, err := EncodeV7(b)
	if err != nil {
		t.Fatalf("EncodeV7: %v", err)
	}

	got, err := DecodeV7(data)
	if err != nil {
		t.Fatalf("DecodeV7: %v", err)
	}

	if got.Primary.Destination != b.Primary.Destination {
		t.Errorf("destination: got %v, want %v", got.Primary.Destination, b.Primary.Destination)
	}
	if got.Primary.SourceNode != b.Primary.SourceNode {
		t.Errorf("source: got %v, want %v", got.Primary.SourceNode, b.Primary.SourceNode)
	}
	if got.Custody == nil || got.Custody.CustodyID != 7 {
		t.Fatalf("custody block not round-tripped: %+v", got.Custody)
	}
	if got.Integrity == nil || got.Integrity.Suite != CipherSuiteCRC32 {
		t.Fatalf("integrity block not round-tripped: %+v", got.Integrity)
	}
	if string(got.Payload.Data) != "hello world" {
		t.Errorf("payload: got %q", got.Payload.Data)
	}
}

func TestV7RoundTripWithFragmentation(t *testing.T) {
	primary := NewPrimaryBlock(7, IsFragment, MustNewEndpointID("ipn:2.1"), MustNewEndpointID("ipn:1.1"),
		NewCreationTimestamp(2000, 0), 0)
	primary.FragmentOffset = 5
	primary.TotalDataLength = 20

	b, err := NewBundle(primary, PayloadBlock{Data: []byte("abcde")})
	if err != nil {
		t.Fatalf("NewBundle: %v", err)
	}

	data, err := EncodeV7(b)
	if err != nil {
		t.Fatalf("EncodeV7: %v", err)
	}
	got, err := DecodeV7(data)
	if err != nil {
		t.Fatalf("DecodeV7: %v", err)
	}

	if got.Primary.FragmentOffset != 5 || got.Primary.TotalDataLength != 20 {
		t.Errorf("fragmentation fields not round-tripped: %+v", got.Primary)
	}
}

func TestV7CRCMismatchRejected(t *testing.T) {
	b := v7SampleBundle(t)
	data, err := EncodeV7(b)
	if err != nil {
		t.Fatalf("EncodeV7: %v", err)
	}

	corrupt := append([]byte(nil), data...)
	corrupt[len(corrupt)-2] ^= 0xff // flip a byte inside the payload block's CRC

	if _, err := DecodeV7(corrupt); err == nil {
		t.Error("expected CRC mismatch to be detected")
	}
}
