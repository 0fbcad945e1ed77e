package task

import (
	"github.com/ufo-kit/ufo-go/buffer"
)

// ConstantSource is a Source that emits N one-dimensional buffers filled
// with a constant value, used by the seed end-to-end scenarios of spec.md
// §8 (#1, #3).
type ConstantSource struct {
	Base
	Count int
	Value float32
	Width int // elements per emitted buffer, default 1

	emitted int
}

func (s *ConstantSource) Structure() (int, []InputParam, Mode) { return 0, nil, Source }

func (s *ConstantSource) Requisition([]*buffer.Buffer) buffer.Requisition {
	w := s.Width
	if w == 0 {
		w = 1
	}
	return buffer.Requisition{NDims: 1, Dims: [3]uint32{uint32(w), 0, 0}}
}

func (s *ConstantSource) Generate(output *buffer.Buffer) (bool, error) {
	if s.emitted >= s.Count {
		return false, nil
	}
	if output == nil {
		s.emitted++
		return s.emitted < s.Count, nil
	}
	vals, err := output.GetHostArray(nil)
	if err != nil {
		return false, err
	}
	for i := range vals {
		vals[i] = s.Value
	}
	if err := output.SetHostArray(vals); err != nil {
		return false, err
	}
	s.emitted++
	return s.emitted < s.Count, nil
}

// CountingSource emits the integers 0..N-1, one per tick, used by spec.md
// §8 scenario #2 (scatter/merge round-trip).
type CountingSource struct {
	Base
	Count int

	emitted int
}

func (s *CountingSource) Structure() (int, []InputParam, Mode) { return 0, nil, Source }

func (s *CountingSource) Requisition([]*buffer.Buffer) buffer.Requisition {
	return buffer.Requisition{NDims: 1, Dims: [3]uint32{1, 0, 0}}
}

func (s *CountingSource) Generate(output *buffer.Buffer) (bool, error) {
	if s.emitted >= s.Count {
		return false, nil
	}
	if output != nil {
		if err := output.SetHostArray([]float32{float32(s.emitted)}); err != nil {
			return false, err
		}
	}
	s.emitted++
	return s.emitted < s.Count, nil
}

// Identity is a Processor that copies its single input to its output
// unchanged, used as the scatter/broadcast leaf in the seed scenarios.
type Identity struct {
	Base
}

func (Identity) Structure() (int, []InputParam, Mode) {
	return 1, []InputParam{{NDims: 1, Expected: Unbounded}}, Processor
}

func (Identity) Requisition(inputs []*buffer.Buffer) buffer.Requisition {
	if len(inputs) == 0 || inputs[0] == nil {
		return buffer.Requisition{}
	}
	return inputs[0].Requisition()
}

func (Identity) Process(inputs []*buffer.Buffer, output *buffer.Buffer) (bool, error) {
	if err := buffer.Copy(output, inputs[0]); err != nil {
		return false, err
	}
	return true, nil
}

// Repeater is a Processor that re-emits its single input count times before
// asking for the next tick's input, grounded on original_source's
// ufo-filter-repeater.c ("repeater filters control diverging data flows").
// Unlike the C original's property-driven count, Count is set at
// construction time (this module's typed-builder replacement for property
// introspection, per spec.md §9).
type Repeater struct {
	Base
	Count int

	remaining int
	pending   *buffer.Buffer
}

func (r *Repeater) Structure() (int, []InputParam, Mode) {
	return 1, []InputParam{{NDims: 1, Expected: Unbounded}}, Processor
}

func (r *Repeater) Requisition(inputs []*buffer.Buffer) buffer.Requisition {
	if r.remaining == 0 {
		if len(inputs) == 0 || inputs[0] == nil {
			return buffer.Requisition{}
		}
		return inputs[0].Requisition()
	}
	return r.pending.Requisition()
}

func (r *Repeater) Process(inputs []*buffer.Buffer, output *buffer.Buffer) (bool, error) {
	if r.remaining == 0 {
		r.pending = inputs[0]
		count := r.Count
		if count < 1 {
			count = 1
		}
		r.remaining = count
	}
	if err := buffer.Copy(output, r.pending); err != nil {
		return false, err
	}
	r.remaining--
	return true, nil
}

// Sum is a Reductor that folds its input stream into a running total, then
// emits that total once after end-of-stream, grounded on original_source's
// ufo-filter-reduce.c (collect accumulates, reduce finalizes on EOS).
type Sum struct {
	Base

	total     float32
	collected bool
	emitted   bool
}

func (s *Sum) Structure() (int, []InputParam, Mode) {
	return 1, []InputParam{{NDims: 1, Expected: Unbounded}}, Reductor
}

// Requisition asks for an output buffer only after end-of-stream (called
// with no inputs), and only once something has been folded: fold ticks and
// an empty stream produce no output.
func (s *Sum) Requisition(inputs []*buffer.Buffer) buffer.Requisition {
	if s.emitted || !s.collected || len(inputs) > 0 {
		return buffer.Requisition{}
	}
	return buffer.Requisition{NDims: 1, Dims: [3]uint32{1, 0, 0}}
}

func (s *Sum) Process(inputs []*buffer.Buffer, output *buffer.Buffer) (bool, error) {
	vals, err := inputs[0].GetHostArray(nil)
	if err != nil {
		return false, err
	}
	for _, v := range vals {
		s.total += v
	}
	s.collected = true
	return true, nil
}

func (s *Sum) Generate(output *buffer.Buffer) (bool, error) {
	if s.emitted || !s.collected {
		return false, nil
	}
	s.emitted = true
	if output == nil {
		return false, nil
	}
	if err := output.SetHostArray([]float32{s.total}); err != nil {
		return false, err
	}
	return false, nil
}

// Total returns the reduced value after end-of-stream, regardless of
// whether the Reductor had a downstream group to push it to.
func (s *Sum) Total() float32 { return s.total }

// SumSink is a Sink that accumulates its input stream into a final total,
// read back with Total() after the pipeline has finished (used where the
// consumer wants the value directly rather than as a graph output, e.g.
// spec.md §8 scenario #1 and #3's sum_sink/count_sink).
type SumSink struct {
	Base

	total float32
	n     int
}

func (*SumSink) Structure() (int, []InputParam, Mode) {
	return 1, []InputParam{{NDims: 1, Expected: Unbounded}}, Sink
}

func (*SumSink) Requisition([]*buffer.Buffer) buffer.Requisition { return buffer.Requisition{} }

func (s *SumSink) Process(inputs []*buffer.Buffer, output *buffer.Buffer) (bool, error) {
	vals, err := inputs[0].GetHostArray(nil)
	if err != nil {
		return false, err
	}
	for _, v := range vals {
		s.total += v
	}
	s.n++
	return true, nil
}

func (s *SumSink) Total() float32 { return s.total }
func (s *SumSink) Count() int     { return s.n }

// CountSink is a Sink that only counts the items it receives, used by
// spec.md §8 scenario #3's count_sink.
type CountSink struct {
	Base
	n int
}

func (*CountSink) Structure() (int, []InputParam, Mode) {
	return 1, []InputParam{{NDims: 1, Expected: Unbounded}}, Sink
}

func (*CountSink) Requisition([]*buffer.Buffer) buffer.Requisition { return buffer.Requisition{} }

func (c *CountSink) Process(inputs []*buffer.Buffer, output *buffer.Buffer) (bool, error) {
	c.n++
	return true, nil
}

func (c *CountSink) Count() int { return c.n }

// CollectSink is a Sink that records every value it sees, in arrival order,
// used by spec.md §8 scenario #2 to assert a permutation of 0..9 arrived.
type CollectSink struct {
	Base
	Values []float32
}

func (*CollectSink) Structure() (int, []InputParam, Mode) {
	return 1, []InputParam{{NDims: 1, Expected: Unbounded}}, Sink
}

func (*CollectSink) Requisition([]*buffer.Buffer) buffer.Requisition { return buffer.Requisition{} }

func (c *CollectSink) Process(inputs []*buffer.Buffer, output *buffer.Buffer) (bool, error) {
	vals, err := inputs[0].GetHostArray(nil)
	if err != nil {
		return false, err
	}
	c.Values = append(c.Values, vals...)
	return true, nil
}
