package buffer

import (
	"testing"
	"unsafe"
)

type fakeQueue struct {
	transferredToHost   int
	transferredToDevice int
}

func (q *fakeQueue) TransferToHost(handle DeviceHandle, dst []float32) error {
	q.transferredToHost++
	vals, _ := handle.([]float32)
	copy(dst, vals)
	return nil
}

func (q *fakeQueue) TransferToDevice(handle DeviceHandle, src []float32) (DeviceHandle, error) {
	q.transferredToDevice++
	cp := make([]float32, len(src))
	copy(cp, src)
	return DeviceHandle(cp), nil
}

func req1D(n int) Requisition {
	return Requisition{NDims: 1, Dims: [3]uint32{uint32(n), 0, 0}}
}

func TestSizeAndCount(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		req    Requisition
		layout Layout
		want   int
	}{
		{"real 4", req1D(4), LayoutReal, 16},
		{"complex 4", req1D(4), LayoutComplexInterleaved, 32},
		{"zero dims", Requisition{}, LayoutReal, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := New(tt.req, tt.layout)
			if got := b.Size(); got != tt.want {
				t.Errorf("Size() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSetHostArrayThenGetDevice(t *testing.T) {
	t.Parallel()
	b := New(req1D(3), LayoutReal)
	if err := b.SetHostArray([]float32{1, 2, 3}); err != nil {
		t.Fatalf("SetHostArray: %v", err)
	}
	if b.Location() != LocationHost {
		t.Fatalf("Location() = %v, want LocationHost", b.Location())
	}

	q := &fakeQueue{}
	if _, err := b.GetDeviceArray(q); err != nil {
		t.Fatalf("GetDeviceArray: %v", err)
	}
	if b.Location() != LocationHostAndDevice {
		t.Fatalf("Location() = %v, want LocationHostAndDevice", b.Location())
	}
	if q.transferredToDevice != 1 {
		t.Fatalf("transferredToDevice = %d, want 1", q.transferredToDevice)
	}
}

func TestGetHostArrayWithoutQueueFailsWhenDeviceOnly(t *testing.T) {
	t.Parallel()
	b := New(req1D(2), LayoutReal)
	b.location = LocationDevice
	b.device = []float32{9, 9}

	if _, err := b.GetHostArray(nil); err == nil {
		t.Fatal("expected LocationError, got nil")
	}

	q := &fakeQueue{}
	vals, err := b.GetHostArray(q)
	if err != nil {
		t.Fatalf("GetHostArray with queue: %v", err)
	}
	if vals[0] != 9 || vals[1] != 9 {
		t.Fatalf("GetHostArray = %v, want [9 9]", vals)
	}
	if b.Location() != LocationHostAndDevice {
		t.Fatalf("Location() = %v, want LocationHostAndDevice", b.Location())
	}
}

func TestResizeIsNoOpOnSameCount(t *testing.T) {
	t.Parallel()
	b := New(req1D(4), LayoutReal)
	b.SetHostArray([]float32{1, 2, 3, 4})
	before := b.host

	if err := b.Resize(req1D(4)); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if &b.host[0] != &before[0] {
		t.Fatal("Resize with identical element count reallocated host storage")
	}
	// resizing to the current requisition leaves the location untouched
	if b.Location() != LocationHost {
		t.Fatalf("Location() = %v, want LocationHost", b.Location())
	}
}

func TestResizeRealloc(t *testing.T) {
	t.Parallel()
	b := New(req1D(2), LayoutReal)
	if err := b.Resize(req1D(8)); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if len(b.host) != 8 {
		t.Fatalf("len(host) = %d, want 8", len(b.host))
	}
}

func TestReinterpretU8NormalizationExact(t *testing.T) {
	t.Parallel()
	b := New(req1D(1), LayoutReal)
	packed := unsafe.Slice((*byte)(unsafe.Pointer(&b.host[0])), 4)
	packed[0] = 255

	b.location = LocationHost
	if err := b.Reinterpret(DepthU8); err != nil {
		t.Fatalf("Reinterpret: %v", err)
	}
	if b.host[0] != 1.0 {
		t.Fatalf("host[0] = %v, want 1.0 exactly", b.host[0])
	}
}

func TestCopyBitExact(t *testing.T) {
	t.Parallel()
	a := New(req1D(3), LayoutReal)
	a.SetHostArray([]float32{1.5, -2.0, 3.25})

	b := New(req1D(3), LayoutReal)
	if err := Copy(b, a); err != nil {
		t.Fatalf("Copy: %v", err)
	}

	c := New(req1D(3), LayoutReal)
	if err := Copy(c, b); err != nil {
		t.Fatalf("Copy: %v", err)
	}

	for i := range a.host {
		if a.host[i] != c.host[i] {
			t.Fatalf("a[%d]=%v != c[%d]=%v", i, a.host[i], i, c.host[i])
		}
	}
}

func TestCopyShapeMismatch(t *testing.T) {
	t.Parallel()
	a := New(req1D(3), LayoutReal)
	b := New(req1D(4), LayoutReal)
	if err := Copy(b, a); err == nil {
		t.Fatal("expected ShapeMismatch error")
	}
}

func TestDiscardLocation(t *testing.T) {
	t.Parallel()
	b := New(req1D(1), LayoutReal)
	b.location = LocationHostAndDevice
	b.DiscardLocation(LocationHost)
	if b.Location() != LocationDevice {
		t.Fatalf("Location() = %v, want LocationDevice", b.Location())
	}
}

