package remote

import (
	"net"
	"testing"

	"github.com/ufo-kit/ufo-go/buffer"
	"github.com/ufo-kit/ufo-go/resources"
)

// echoWorker simulates a remote ufo-core worker: it acks registration, then
// doubles every value it receives and replies with the same shape.
func echoWorker(t *testing.T, conn net.Conn) {
	t.Helper()
	go func() {
		req, err := ReadRequest(conn)
		if err != nil || req.Type != Register {
			return
		}
		if err := WriteReply(conn, Reply{Error: Okay, Type: Ack}); err != nil {
			return
		}

		for {
			req, err := ReadRequest(conn)
			if err != nil {
				return
			}
			if req.Type != Data {
				return
			}
			frame, dims, payload, err := ReadFrame(conn)
			if err != nil {
				return
			}
			doubled := make([]float32, len(payload))
			for i, v := range payload {
				doubled[i] = v * 2
			}
			if err := WriteReply(conn, Reply{Error: Okay, Type: Ack}); err != nil {
				return
			}
			if err := WriteFrame(conn, frame, dims, doubled); err != nil {
				return
			}
		}
	}()
}

func TestTaskSetupRegistersSuccessfully(t *testing.T) {
	t.Parallel()
	client, server := net.Pipe()
	echoWorker(t, server)

	rt := &Task{Conn: client}
	if err := rt.Setup(&resources.Static{}); err != nil {
		t.Fatalf("Setup: %v", err)
	}
}

func TestTaskProcessRoundTripsThroughRemoteWorker(t *testing.T) {
	t.Parallel()
	client, server := net.Pipe()
	echoWorker(t, server)

	rt := &Task{Conn: client}
	if err := rt.Setup(&resources.Static{}); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	req := buffer.Requisition{NDims: 1, Dims: [3]uint32{3}}
	in := buffer.New(req, buffer.LayoutReal)
	if err := in.SetHostArray([]float32{1, 2, 3}); err != nil {
		t.Fatalf("SetHostArray: %v", err)
	}
	out := buffer.New(req, buffer.LayoutReal)

	more, err := rt.Process([]*buffer.Buffer{in}, out)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !more {
		t.Fatalf("Process reported more=false, want true")
	}

	got, err := out.GetHostArray(nil)
	if err != nil {
		t.Fatalf("GetHostArray: %v", err)
	}
	want := []float32{2, 4, 6}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestTaskSetupFailsWithoutConnOrDialer(t *testing.T) {
	t.Parallel()
	rt := &Task{}
	if err := rt.Setup(&resources.Static{}); err == nil {
		t.Fatalf("expected error with no Conn and no Dialer")
	}
}
