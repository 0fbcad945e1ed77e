// Package group implements the edge fabric between one producer task and N
// consumer tasks (spec.md §3.4, §4.3): a send pattern (scatter or
// broadcast), a recycling buffer pool shared across consumers, and
// end-of-stream propagation.
package group

import (
	"errors"

	"github.com/ufo-kit/ufo-go/buffer"
	"github.com/ufo-kit/ufo-go/internal/errs"
)

// Pattern selects how a producer's output is routed to its targets.
type Pattern uint8

const (
	// Scatter sends each output to exactly one target, cycling through
	// targets in registration order.
	Scatter Pattern = iota
	// Broadcast sends every output to every target.
	Broadcast
)

func (p Pattern) String() string {
	switch p {
	case Scatter:
		return "scatter"
	case Broadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

// Item is the typed payload carried on a Group's queues: either a Buffer or
// the end-of-stream sentinel. This replaces the source engine's type-erased
// pointer plus out-of-band integer sentinel with a proper sum type
// (spec.md §9).
type Item struct {
	Buf *buffer.Buffer
	EOS bool
}

// Target is one consumer's delivery queue. Returned buffers go back to the
// Group's shared free pool rather than to a private per-target queue: the
// spec's "each target sees a private series of buffers from a shared free
// pool" (§4.3) is exactly a single recycling pool feeding every consumer.
type Target struct {
	Full chan Item
}

// queueDepth bounds each target's delivery channel.
const queueDepth = 4

// NewTarget allocates a Target with a fresh delivery queue.
func NewTarget() Target {
	return Target{Full: make(chan Item, queueDepth)}
}

// Group is the queue fabric realizing one outgoing edge, or broadcast
// fan-out, from a single producer (spec.md §3.4).
type Group struct {
	targets []Target
	pattern Pattern
	layout  buffer.Layout

	free    chan Item // shared recycling pool, capacity == len(targets)
	poolLen int       // number of distinct Buffer objects ever admitted to the pool
	cursor  int       // scatter round-robin cursor
}

// New creates a Group for the given send pattern and targets. Pool capacity
// grows lazily up to len(targets), per spec.md §3.4.
func New(pattern Pattern, layout buffer.Layout, targets []Target) *Group {
	return &Group{
		pattern: pattern,
		layout:  layout,
		targets: targets,
		free:    make(chan Item, len(targets)),
	}
}

// Targets exposes the ordered target list, e.g. so a scheduler can wire a
// consumer's incoming Group by index.
func (g *Group) Targets() []Target { return g.targets }

var errNoTargets = errors.New("group has no targets")

// PopOutput returns a buffer ready for the producer to fill, sized for req.
// While the pool has fewer than len(targets) buffers in existence, a fresh
// one is allocated; once the pool is at capacity, PopOutput blocks on the
// shared free queue until a consumer returns one, resizing it in place if
// its shape no longer matches req (spec.md §4.3).
func (g *Group) PopOutput(req buffer.Requisition) (*buffer.Buffer, error) {
	if len(g.targets) == 0 {
		return nil, errs.New(errs.Topology, "group.PopOutput", errNoTargets)
	}
	return g.acquire(req)
}

// acquire draws one buffer from the shared pool, growing it lazily up to
// len(targets) distinct buffers before falling back to the free queue. Every
// buffer a Group ever hands to a producer or a broadcast copy — and every
// buffer a consumer ever returns via PushInput — goes through this one pool,
// so draws and returns stay balanced regardless of send pattern (spec.md
// §3.4, §4.3).
func (g *Group) acquire(req buffer.Requisition) (*buffer.Buffer, error) {
	if g.poolLen < len(g.targets) {
		g.poolLen++
		return buffer.New(req, g.layout), nil
	}

	item := <-g.free
	if item.Buf.Requisition() != req {
		if err := item.Buf.Resize(req); err != nil {
			return nil, errs.New(errs.Protocol, "group.acquire", err)
		}
	}
	return item.Buf, nil
}

// PushOutput routes buf according to the group's send pattern, advancing
// the scatter round-robin cursor on every call.
func (g *Group) PushOutput(buf *buffer.Buffer) error {
	if len(g.targets) == 0 {
		return errs.New(errs.Topology, "group.PushOutput", errNoTargets)
	}

	switch g.pattern {
	case Scatter:
		t := g.targets[g.cursor]
		g.cursor = (g.cursor + 1) % len(g.targets)
		t.Full <- Item{Buf: buf}
		return nil

	case Broadcast:
		// buf itself goes to one target; every other target needs its own
		// backing storage, drawn from the same shared pool as buf so the
		// pool never holds more than len(targets) buffers in flight (the
		// naive alternative of buffer.New-ing a fresh copy per target here
		// bypasses the pool and floods g.free once consumers return them).
		for i, t := range g.targets {
			if i == len(g.targets)-1 {
				t.Full <- Item{Buf: buf}
				continue
			}
			cp, err := g.acquire(buf.Requisition())
			if err != nil {
				return errs.New(errs.Compute, "group.PushOutput", err)
			}
			if err := buffer.Copy(cp, buf); err != nil {
				return errs.New(errs.Compute, "group.PushOutput", err)
			}
			t.Full <- Item{Buf: cp}
		}
		return nil

	default:
		return errs.Newf(errs.Config, "group.PushOutput", "unknown send pattern %d", g.pattern)
	}
}

// PopInput reads the next item for a given target index, returning
// (buf, true) for data or (nil, false) once the producer has pushed EOS.
func (g *Group) PopInput(target int) (*buffer.Buffer, bool) {
	item := <-g.targets[target].Full
	if item.EOS {
		return nil, false
	}
	return item.Buf, true
}

// PushInput returns a consumed buffer to the shared free pool so the
// producer can recycle it (spec.md §4.3, and §5's deadlock-safety rule:
// always return before demanding a new one).
func (g *Group) PushInput(buf *buffer.Buffer) {
	g.free <- Item{Buf: buf}
}

// Finish pushes the EOS sentinel on every target's full queue exactly once
// (spec.md §3.4, §4.3).
func (g *Group) Finish() {
	for _, t := range g.targets {
		t.Full <- Item{EOS: true}
	}
}
