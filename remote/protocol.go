// Package remote implements the wire protocol and RemoteTask shadow of
// spec.md §6, §4.5: fixed-size packed control records for register/data
// handshakes, JSON-header-plus-raw-payload data frames, and a Task
// implementation that forwards inputs to a remote worker and returns its
// result. Grounded on model/graph.go's own binary.Write/binary.Read
// header-then-fixed-fields pattern for the control records, and on that same
// file's length-prefixed payload framing for the data frames.
package remote

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/ufo-kit/ufo-go/internal/errs"
)

// RequestType tags a control Request (spec.md §6).
type RequestType uint8

const (
	Register RequestType = iota
	Data
)

// ReplyType tags a control Reply (spec.md §6).
type ReplyType uint8

const (
	Ack ReplyType = iota
	Stop
)

// ErrorCode is the Reply.Error field's value space (spec.md §6).
type ErrorCode uint8

const (
	Okay ErrorCode = iota
	RegistrationExpected
	AlreadyRegistered
	NotRegistered
	DataAlreadySent
)

// Request is the fixed-size record a client sends to open a round trip.
type Request struct {
	ID   int32
	Type RequestType
}

// Reply is the fixed-size record a worker sends in response to a Request.
type Reply struct {
	Error ErrorCode
	Type  ReplyType
}

// WriteRequest writes r as a fixed-size binary record.
func WriteRequest(w io.Writer, r Request) error {
	return binary.Write(w, binary.LittleEndian, r)
}

// ReadRequest reads a fixed-size Request record.
func ReadRequest(r io.Reader) (Request, error) {
	var req Request
	err := binary.Read(r, binary.LittleEndian, &req)
	return req, err
}

// WriteReply writes r as a fixed-size binary record.
func WriteReply(w io.Writer, r Reply) error {
	return binary.Write(w, binary.LittleEndian, r)
}

// ReadReply reads a fixed-size Reply record.
func ReadReply(r io.Reader) (Reply, error) {
	var rep Reply
	err := binary.Read(r, binary.LittleEndian, &rep)
	return rep, err
}

// arrayHeader is the small JSON document preceding a data frame's raw
// payload (spec.md §6).
type arrayHeader struct {
	Htype string `json:"htype"`
	Frame uint64 `json:"frame"`
	Type  string `json:"type"`
	Shape []int  `json:"shape"`
}

// WriteFrame writes one data transfer frame: a uint32 byte length, the JSON
// header, then the raw f32 payload. dims is in normal (innermost-first,
// natural Requisition) order; the wire header's Shape is emitted
// outermost-first per spec.md §6, so it is reversed here.
func WriteFrame(w io.Writer, frame uint64, dims []int, payload []float32) error {
	shape := make([]int, len(dims))
	for i, d := range dims {
		shape[len(dims)-1-i] = d
	}
	hdr := arrayHeader{Htype: "array-1.0", Frame: frame, Type: "float", Shape: shape}

	hdrBytes, err := json.Marshal(hdr)
	if err != nil {
		return errs.New(errs.Remote, "remote.WriteFrame", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(hdrBytes))); err != nil {
		return errs.New(errs.Remote, "remote.WriteFrame", err)
	}
	if _, err := w.Write(hdrBytes); err != nil {
		return errs.New(errs.Remote, "remote.WriteFrame", err)
	}
	if err := binary.Write(w, binary.LittleEndian, payload); err != nil {
		return errs.New(errs.Remote, "remote.WriteFrame", err)
	}
	return nil
}

// ReadFrame reads one data transfer frame written by WriteFrame, returning
// the frame ID, its shape in normal (innermost-first) order, and the raw
// payload.
func ReadFrame(r io.Reader) (frame uint64, dims []int, payload []float32, err error) {
	var hdrLen uint32
	if err := binary.Read(r, binary.LittleEndian, &hdrLen); err != nil {
		return 0, nil, nil, errs.New(errs.Remote, "remote.ReadFrame", err)
	}
	hdrBytes := make([]byte, hdrLen)
	if _, err := io.ReadFull(r, hdrBytes); err != nil {
		return 0, nil, nil, errs.New(errs.Remote, "remote.ReadFrame", err)
	}
	var hdr arrayHeader
	if err := json.Unmarshal(hdrBytes, &hdr); err != nil {
		return 0, nil, nil, errs.New(errs.Remote, "remote.ReadFrame", err)
	}

	dims = make([]int, len(hdr.Shape))
	for i, d := range hdr.Shape {
		dims[len(hdr.Shape)-1-i] = d
	}

	count := 1
	for _, d := range dims {
		count *= d
	}
	payload = make([]float32, count)
	if err := binary.Read(r, binary.LittleEndian, payload); err != nil {
		return 0, nil, nil, errs.New(errs.Remote, "remote.ReadFrame", err)
	}

	return hdr.Frame, dims, payload, nil
}
