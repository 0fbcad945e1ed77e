package remote

import (
	"io"
	"sync/atomic"

	"github.com/ufo-kit/ufo-go/buffer"
	"github.com/ufo-kit/ufo-go/internal/errs"
	"github.com/ufo-kit/ufo-go/resources"
	"github.com/ufo-kit/ufo-go/task"
)

// Conn is the minimal transport RemoteTask needs: a full-duplex byte stream
// to one worker process. A real deployment supplies a net.Conn; tests supply
// an in-memory pipe.
type Conn interface {
	io.Reader
	io.Writer
}

// Task is the local shadow of a task executing on a remote worker (spec.md
// §3.5, §4.5, §9): it forwards each tick's single input over Conn and
// returns the worker's result. spec.md §4.5's "pipelines up to n_remote_gpus
// requests in flight" is realized one level up, by transform.Expand cloning
// one Task instance (and one Conn) per remote replica — each clone's worker
// goroutine is a single in-flight round trip, and running K clones
// concurrently is exactly K requests in flight, reusing the scheduler's
// existing concurrency model rather than a second, bespoke async pipeline
// inside this type.
type Task struct {
	task.Base

	Conn   Conn
	Dialer func() (Conn, error) // used by Setup if Conn is nil

	nextFrame uint64
}

// Setup registers with the remote worker (spec.md §6 Request{type=register}).
// If Conn is nil, Dialer is called to obtain one.
func (t *Task) Setup(resources.Provider) error {
	if t.Conn == nil {
		if t.Dialer == nil {
			return errs.New(errs.Setup, "remote.Task.Setup", errNoConn)
		}
		c, err := t.Dialer()
		if err != nil {
			return errs.New(errs.Setup, "remote.Task.Setup", err)
		}
		t.Conn = c
	}

	if err := WriteRequest(t.Conn, Request{Type: Register}); err != nil {
		return errs.New(errs.Remote, "remote.Task.Setup", err)
	}
	rep, err := ReadReply(t.Conn)
	if err != nil {
		return errs.New(errs.Remote, "remote.Task.Setup", err)
	}
	if rep.Error != Okay || rep.Type != Ack {
		return errs.Newf(errs.Remote, "remote.Task.Setup", "registration refused: error=%d type=%d", rep.Error, rep.Type)
	}
	return nil
}

var errNoConn = connError("remote.Task: no Conn and no Dialer")

type connError string

func (e connError) Error() string { return string(e) }

func (t *Task) Structure() (int, []task.InputParam, task.Mode) {
	return 1, []task.InputParam{{NDims: 1, Expected: task.Unbounded}}, task.Remote
}

// Requisition mirrors the single input's shape; the wire reply may resize it
// further once the worker's actual output shape is known.
func (t *Task) Requisition(inputs []*buffer.Buffer) buffer.Requisition {
	if len(inputs) == 0 || inputs[0] == nil {
		return buffer.Requisition{}
	}
	return inputs[0].Requisition()
}

// Process sends the single input buffer to the remote worker as a data frame
// and blocks for its result, then installs that result into output (spec.md
// §4.5 "Remote workers").
func (t *Task) Process(inputs []*buffer.Buffer, output *buffer.Buffer) (bool, error) {
	in := inputs[0]
	vals, err := in.GetHostArray(nil)
	if err != nil {
		return false, err
	}
	req := in.Requisition()
	dims := req.Dims[:req.NDims]
	dimsInt := make([]int, len(dims))
	for i, d := range dims {
		dimsInt[i] = int(d)
	}

	frame := atomic.AddUint64(&t.nextFrame, 1)
	if err := WriteRequest(t.Conn, Request{ID: int32(frame), Type: Data}); err != nil {
		return false, errs.New(errs.Remote, "remote.Task.Process", err)
	}
	if err := WriteFrame(t.Conn, frame, dimsInt, vals); err != nil {
		return false, errs.New(errs.Remote, "remote.Task.Process", err)
	}

	rep, err := ReadReply(t.Conn)
	if err != nil {
		return false, errs.New(errs.Remote, "remote.Task.Process", err)
	}
	if rep.Error != Okay {
		return false, errs.Newf(errs.Remote, "remote.Task.Process", "worker replied error code %d", rep.Error)
	}
	if rep.Type == Stop {
		return false, nil
	}

	_, resultDims, resultVals, err := ReadFrame(t.Conn)
	if err != nil {
		return false, errs.New(errs.Remote, "remote.Task.Process", err)
	}

	if output == nil {
		return true, nil
	}
	outReq := buffer.Requisition{NDims: len(resultDims)}
	for i, d := range resultDims {
		outReq.Dims[i] = uint32(d)
	}
	if output.Requisition() != outReq {
		if err := output.Resize(outReq); err != nil {
			return false, err
		}
	}
	if err := output.SetHostArray(resultVals); err != nil {
		return false, err
	}
	return true, nil
}
