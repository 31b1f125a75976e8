package bundle

import (
	"bytes"
	"testing"

	"github.com/dtn7/cboring"
)

func marshalToBuf(t *testing.T, m cboring.CborMarshaler) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	if err := cboring.Marshal(m, buf); err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return buf.Bytes()
}

func unmarshalFromBuf(t *testing.T, m cboring.CborMarshaler, data []byte) {
	t.Helper()
	if err := cboring.Unmarshal(m, bytes.NewReader(data)); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
}
