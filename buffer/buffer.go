// Package buffer implements the N-D float payload with explicit host/device
// location tracking described in spec.md §3.1 and §4.1.
//
// A Buffer is the unit exchanged between tasks over a Group's queues. It
// owns its host memory (cache-line aligned for SIMD-friendly access by
// downstream kernels) and, once a device handle has been requested, an
// opaque DeviceHandle obtained from the caller-supplied Queue. Only one
// location is authoritative after a write; reading from the other side
// transfers through the Queue and then both sides are valid.
package buffer

import (
	"unsafe"

	"github.com/ufo-kit/ufo-go/internal/errs"
)

// cacheLineSize is the alignment boundary used for host allocations, so a
// Buffer's backing array never straddles a cache line during SIMD access by
// downstream kernels.
const cacheLineSize = 64

// alignedFloats allocates a []float32 whose backing array starts on a
// cache-line boundary. Extra padding bytes are always available because the
// underlying byte buffer over-allocates by cacheLineSize-1 and is sliced to
// the aligned start, the same trick used for raw byte buffers: allocate
// slack, then slice from the first aligned offset.
func alignedFloats(n int) []float32 {
	if n == 0 {
		return nil
	}
	byteLen := n * 4
	raw := make([]byte, byteLen+cacheLineSize-1)
	ptr := uintptr(unsafe.Pointer(&raw[0]))
	offset := uintptr(0)
	if mod := ptr % cacheLineSize; mod != 0 {
		offset = cacheLineSize - mod
	}
	aligned := raw[offset : offset+uintptr(byteLen)]
	return unsafe.Slice((*float32)(unsafe.Pointer(&aligned[0])), n)
}

// Location tracks which side of the host/device boundary currently holds
// the authoritative copy of a Buffer's data.
type Location uint8

const (
	LocationInvalid Location = iota
	LocationHost
	LocationDevice
	LocationHostAndDevice
)

// Layout distinguishes real-valued payloads from interleaved complex pairs;
// a complex buffer doubles the element count of its first axis (spec.md
// §4.1 "size").
type Layout uint8

const (
	LayoutReal Layout = iota
	LayoutComplexInterleaved
)

// Requisition is the immutable shape descriptor a Task returns to size its
// next output (spec.md §3.2). NDims == 0 conventionally means "no output
// this tick" when returned from get_requisition, or "not applicable" as a
// structural default.
type Requisition struct {
	NDims int
	Dims  [3]uint32
}

// Count returns the total element count, product(dims).
func (r Requisition) Count() int {
	if r.NDims == 0 {
		return 0
	}
	n := 1
	for i := 0; i < r.NDims; i++ {
		n *= int(r.Dims[i])
	}
	return n
}

// SourceDepth names a packed integer sample width accepted by Reinterpret.
type SourceDepth uint8

const (
	DepthU8 SourceDepth = iota
	DepthU16
)

func (d SourceDepth) max() float32 {
	switch d {
	case DepthU8:
		return 255.0
	case DepthU16:
		return 65535.0
	default:
		return 1.0
	}
}

func (d SourceDepth) bytes() int {
	switch d {
	case DepthU8:
		return 1
	case DepthU16:
		return 2
	default:
		return 1
	}
}

// DeviceHandle is an opaque reference to device-resident memory; the
// concrete representation belongs to the out-of-scope resources.Provider
// implementation (spec.md §1), never to this package.
type DeviceHandle interface{}

// Queue is the minimal surface this package needs from an OpenCL command
// queue: enqueue a blocking host<->device transfer. The real queue is
// supplied by the out-of-scope resources.Provider.
type Queue interface {
	// TransferToHost must block until data previously written with
	// TransferToDevice (or by the device program) is visible in dst.
	TransferToHost(handle DeviceHandle, dst []float32) error
	// TransferToDevice must block until src is visible to device kernels
	// via the returned handle (or the given handle, if non-nil).
	TransferToDevice(handle DeviceHandle, src []float32) (DeviceHandle, error)
}

// Buffer is an N-D float32 payload with explicit host/device location
// tracking (spec.md §3.1).
type Buffer struct {
	req      Requisition
	layout   Layout
	location Location

	host   []float32
	device DeviceHandle
}

// New allocates a Buffer for the given requisition and layout. Host memory
// is allocated eagerly (cheap, and every Buffer needs somewhere to land a
// transfer); device memory is allocated lazily on first GetDeviceArray,
// per spec.md §4.1.
func New(req Requisition, layout Layout) *Buffer {
	b := &Buffer{req: req, layout: layout, location: LocationInvalid}
	b.host = alignedFloats(hostElementCount(req, layout))
	return b
}

func hostElementCount(req Requisition, layout Layout) int {
	n := req.Count()
	if layout == LayoutComplexInterleaved {
		n *= 2
	}
	return n
}

// Requisition returns the buffer's current shape descriptor.
func (b *Buffer) Requisition() Requisition { return b.req }

// Layout returns the buffer's element layout.
func (b *Buffer) Layout() Layout { return b.layout }

// Location returns which side currently holds authoritative data.
func (b *Buffer) Location() Location { return b.location }

// Size returns the payload size in bytes: product(dims) * sizeof(f32),
// doubled for complex-interleaved layout (spec.md §4.1).
func (b *Buffer) Size() int {
	return hostElementCount(b.req, b.layout) * 4
}

// Resize changes the buffer's requisition in place if the total element
// count is unchanged; otherwise it reallocates host storage. Layout is
// preserved either way. Resizing to the current requisition is a no-op;
// any other resize invalidates both locations, since the shape changed.
func (b *Buffer) Resize(req Requisition) error {
	if req == b.req {
		return nil
	}
	newCount := hostElementCount(req, b.layout)
	oldCount := hostElementCount(b.req, b.layout)
	b.req = req
	if newCount != oldCount {
		b.host = alignedFloats(newCount)
		b.device = nil
	}
	b.location = LocationInvalid
	return nil
}

// SetHostArray installs data as the buffer's host contents directly,
// leaving only the host location valid (spec.md §4.1).
func (b *Buffer) SetHostArray(data []float32) error {
	if len(data) != hostElementCount(b.req, b.layout) {
		return errs.ShapeMismatch("buffer.SetHostArray", hostElementCount(b.req, b.layout), len(data))
	}
	copy(b.host, data)
	b.location = LocationHost
	return nil
}

// GetHostArray returns the host-resident slice, transferring from the
// device first if the device side is the only authoritative copy. A nil
// queue with a device-only location is a LocationError (spec.md §4.1).
// LocationInvalid is treated as host-writable rather than an error: New
// always allocates host storage eagerly, so a fresh or just-discarded
// buffer's host slice is valid to write into even though no side has
// authoritative data yet.
func (b *Buffer) GetHostArray(q Queue) ([]float32, error) {
	switch b.location {
	case LocationHost, LocationHostAndDevice, LocationInvalid:
		return b.host, nil
	case LocationDevice:
		if q == nil {
			return nil, errs.LocationError("buffer.GetHostArray")
		}
		if err := q.TransferToHost(b.device, b.host); err != nil {
			return nil, errs.New(errs.Compute, "buffer.GetHostArray", err)
		}
		b.location = LocationHostAndDevice
		return b.host, nil
	default:
		return nil, errs.LocationError("buffer.GetHostArray")
	}
}

// GetDeviceArray returns a device handle for the buffer's contents,
// transferring from the host if needed and allocating the device side on
// first use (spec.md §4.1).
func (b *Buffer) GetDeviceArray(q Queue) (DeviceHandle, error) {
	if q == nil {
		return nil, errs.LocationError("buffer.GetDeviceArray")
	}
	switch b.location {
	case LocationDevice, LocationHostAndDevice:
		return b.device, nil
	case LocationHost, LocationInvalid:
		handle, err := q.TransferToDevice(b.device, b.host)
		if err != nil {
			return nil, errs.New(errs.Alloc, "buffer.GetDeviceArray", err)
		}
		b.device = handle
		if b.location == LocationHost {
			b.location = LocationHostAndDevice
		} else {
			b.location = LocationDevice
		}
		return b.device, nil
	default:
		return nil, errs.LocationError("buffer.GetDeviceArray")
	}
}

// DiscardLocation marks one side as no longer authoritative, used by a
// consumer that is about to overwrite the buffer in place without reading
// its prior contents (spec.md §4.1).
func (b *Buffer) DiscardLocation(loc Location) {
	switch {
	case b.location == loc:
		b.location = LocationInvalid
	case b.location == LocationHostAndDevice && loc == LocationHost:
		b.location = LocationDevice
	case b.location == LocationHostAndDevice && loc == LocationDevice:
		b.location = LocationHost
	}
}

// Reinterpret expands a packed integer sample array, previously written as
// raw bytes into the host storage, into normalized float32 in place. Indices
// are processed back-to-front so the wider float representation never
// overwrites a narrower sample before it has been read (spec.md §3.1).
//
// The host slice must have been sized for the expanded float count; the
// packed bytes are assumed to occupy its low-order span when viewed as
// bytes, matching how a raw reader task would have written them before
// calling Reinterpret.
func (b *Buffer) Reinterpret(depth SourceDepth) error {
	if b.location != LocationHost && b.location != LocationHostAndDevice {
		return errs.LocationError("buffer.Reinterpret")
	}

	n := len(b.host)
	packed := unsafe.Slice((*byte)(unsafe.Pointer(&b.host[0])), n*4)
	width := depth.bytes()
	max := depth.max()

	for i := n - 1; i >= 0; i-- {
		var raw uint32
		off := i * width
		for k := 0; k < width; k++ {
			raw |= uint32(packed[off+k]) << (8 * k)
		}
		b.host[i] = float32(raw) / max
	}

	b.location = LocationHost
	return nil
}

// Copy overwrites dst with src's full content, preserving src's
// authoritative location (spec.md §4.1).
func Copy(dst, src *Buffer) error {
	if hostElementCount(dst.req, dst.layout) != hostElementCount(src.req, src.layout) {
		return errs.ShapeMismatch("buffer.Copy", hostElementCount(src.req, src.layout), hostElementCount(dst.req, dst.layout))
	}
	copy(dst.host, src.host)
	dst.location = LocationHost
	if src.location == LocationDevice || src.location == LocationHostAndDevice {
		dst.location = src.location
	}
	dst.device = src.device
	return nil
}
