// Package task defines the polymorphic compute-unit contract of spec.md
// §3.5, §4.2: Source, Processor, Reductor, Sink, and the Remote shadow,
// specialized by Mode rather than by virtual dispatch or run-time type
// checks (spec.md §9's source-to-Go mapping note).
package task

import (
	"github.com/ufo-kit/ufo-go/buffer"
	"github.com/ufo-kit/ufo-go/resources"
)

// Mode tags which half of the Task contract a given implementation uses
// (spec.md §3.5).
type Mode uint8

const (
	Source Mode = iota
	Processor
	Reductor
	Sink
	Remote
)

func (m Mode) String() string {
	switch m {
	case Source:
		return "source"
	case Processor:
		return "processor"
	case Reductor:
		return "reductor"
	case Sink:
		return "sink"
	case Remote:
		return "remote"
	default:
		return "unknown"
	}
}

// InputParam describes one input port's expected dimensionality and
// element count: -1 means an unbounded stream, N means exactly N items
// before end-of-stream (spec.md §3.5).
type InputParam struct {
	NDims    int
	Expected int
}

// Unbounded is the InputParam.Expected sentinel for a stream with no fixed
// item count.
const Unbounded = -1

// Task is the polymorphic unit of computation (spec.md §4.2). Every
// implementation supplies Setup once, Structure once after Setup, and then
// Requisition/Process/Generate per tick according to its Mode.
type Task interface {
	// Setup is called once before the first tick: load kernels, allocate
	// auxiliary state.
	Setup(r resources.Provider) error

	// Structure is called once after Setup and defines the task's wiring:
	// input count, per-port parameters, and its Mode.
	Structure() (nInputs int, params []InputParam, mode Mode)

	// Requisition is called per tick before producing; NDims == 0
	// suppresses this tick's output (spec.md §9 canonicalization: this is
	// purely a per-tick signal, never a structural "no output" claim —
	// that is Mode's job).
	Requisition(inputs []*buffer.Buffer) buffer.Requisition

	// Process folds or transforms inputs into output (processor/reductor/
	// sink). It returns whether more work remains.
	Process(inputs []*buffer.Buffer, output *buffer.Buffer) (more bool, err error)

	// Generate produces output with no input (source/reductor-after-EOS).
	// It returns whether more output will follow.
	Generate(output *buffer.Buffer) (more bool, err error)
}

// Base provides no-op Process/Generate so a concrete task only needs to
// implement the methods its Mode actually uses, mirroring how the spec's
// per-mode protocol calls only a subset of the four operations.
type Base struct{}

func (Base) Setup(resources.Provider) error { return nil }

func (Base) Process([]*buffer.Buffer, *buffer.Buffer) (bool, error) { return false, nil }

func (Base) Generate(*buffer.Buffer) (bool, error) { return false, nil }
