package remote

import (
	"bytes"
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	want := Request{ID: 42, Type: Data}
	if err := WriteRequest(&buf, want); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}
	got, err := ReadRequest(&buf)
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestReplyRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	want := Reply{Error: NotRegistered, Type: Stop}
	if err := WriteReply(&buf, want); err != nil {
		t.Fatalf("WriteReply: %v", err)
	}
	got, err := ReadReply(&buf)
	if err != nil {
		t.Fatalf("ReadReply: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestFrameRoundTripPreservesShapeOrderAndPayload(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	dims := []int{2, 3} // normal order: inner=2, outer=3
	payload := []float32{0, 1, 2, 3, 4, 5}

	if err := WriteFrame(&buf, 7, dims, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	raw := buf.Bytes()
	frame, gotDims, gotPayload, err := ReadFrame(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame != 7 {
		t.Fatalf("frame = %d, want 7", frame)
	}
	if len(gotDims) != len(dims) || gotDims[0] != dims[0] || gotDims[1] != dims[1] {
		t.Fatalf("dims = %v, want %v", gotDims, dims)
	}
	if len(gotPayload) != len(payload) {
		t.Fatalf("payload len = %d, want %d", len(gotPayload), len(payload))
	}
	for i := range payload {
		if gotPayload[i] != payload[i] {
			t.Fatalf("payload[%d] = %v, want %v", i, gotPayload[i], payload[i])
		}
	}
}

func TestFrameHeaderEmitsShapeOutermostFirst(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	// dims in normal (innermost-first) order: 2 rows of 4 columns.
	if err := WriteFrame(&buf, 1, []int{4, 2}, make([]float32, 8)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	body := buf.Bytes()
	if !bytes.Contains(body, []byte(`"shape":[2,4]`)) {
		t.Fatalf("expected reversed shape [2,4] in header, got %s", body)
	}
}
