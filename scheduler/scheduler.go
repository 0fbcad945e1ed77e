// Package scheduler drives a prepared graph to completion (spec.md §4.5): it
// runs the setup phase, applies graph rewrites, constructs the Group fabric,
// spawns one worker goroutine per task node under an errgroup.Group (the
// pack's idiomatic replacement for the teacher's hand-rolled
// sync.WaitGroup-plus-first-error plumbing in runtime.go), drives the
// per-mode run loop, and joins with first-error-wins/EOS-cancel-the-rest
// semantics.
package scheduler

import (
	"reflect"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ufo-kit/ufo-go/buffer"
	"github.com/ufo-kit/ufo-go/graph"
	"github.com/ufo-kit/ufo-go/group"
	"github.com/ufo-kit/ufo-go/internal/errs"
	"github.com/ufo-kit/ufo-go/internal/trace"
	"github.com/ufo-kit/ufo-go/resources"
	"github.com/ufo-kit/ufo-go/task"
	"github.com/ufo-kit/ufo-go/transform"
)

// Factory constructs a fresh Task instance for a plugin name, used to supply
// independent instances for nodes a graph rewrite clones (spec.md §4.6
// expand; §9's property-introspection note: the pipeline loader already
// resolves plugin names to constructors, so PrepareGraph reuses that same
// factory concept for clones rather than sharing one Task across replicas).
type Factory func() task.Task

// RunOptions configures the graph-rewrite step of Scheduler.Run (spec.md
// §4.5 step 2).
type RunOptions struct {
	// GPUNodes names the nodes eligible for expand/map. Empty means no GPU
	// rewrite is attempted.
	GPUNodes []uint16
	// NumGPUs is the number of GPU devices to expand across. <= 1 means no
	// expand; map still round-robins across NumGPUs command queues if > 0
	// and expand did not run.
	NumGPUs int
	// SourceNodes names the nodes that cooperate with partition stamping,
	// used only when RemoteCount > 0.
	SourceNodes []uint16
	// RemoteCount is the number of remote worker replicas to stamp via
	// transform.Replicate. The resulting remote graphs are returned by
	// PrepareGraph for the caller to ship out (spec.md §4.5 "Replicate");
	// Scheduler.Run itself only ever executes the local shard.
	RemoteCount int
}

type structInfo struct {
	nInputs int
	params  []task.InputParam
	mode    task.Mode
}

// PrepareGraph runs the setup phase, applies expand/map/replicate, and
// returns a graph together with a task instance and cached structure info per
// node, ready for Run. baseTasks supplies one Task per node of g; factories
// supplies constructors by plugin name for any node a rewrite clones (expand
// replicas) — copy nodes inserted by expand use task.Identity automatically
// and never need a factory entry.
func PrepareGraph(
	g *graph.Graph,
	baseTasks map[uint16]task.Task,
	factories map[string]Factory,
	provider resources.Provider,
	opts RunOptions,
) (rewritten *graph.Graph, tasks map[uint16]task.Task, info map[uint16]structInfo, remoteGraphs []*graph.Graph, err error) {
	info = make(map[uint16]structInfo, len(baseTasks))
	for id, t := range baseTasks {
		if err := t.Setup(provider); err != nil {
			return nil, nil, nil, nil, errs.New(errs.Setup, "scheduler.PrepareGraph", err)
		}
		n, params, mode := t.Structure()
		info[id] = structInfo{nInputs: n, params: params, mode: mode}
	}

	isReductor := func(id uint16) bool {
		si, ok := info[id]
		return ok && si.mode == task.Reductor
	}

	rewritten = g
	if opts.NumGPUs > 1 && len(opts.GPUNodes) > 0 {
		rewritten, err = transform.Expand(g, opts.GPUNodes, opts.NumGPUs, isReductor)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		// Drop the cached structure of nodes Expand replaced by clones, so
		// Validate does not look for them and an inserted node reusing the ID
		// is not handed their task.
		for id := range info {
			n, orig := rewritten.Node(id), g.Node(id)
			if n == nil || orig == nil || n.UniqueName != orig.UniqueName {
				delete(info, id)
			}
		}
	} else if opts.NumGPUs > 0 && len(opts.GPUNodes) > 0 {
		if err := transform.Map(rewritten, opts.GPUNodes, opts.NumGPUs); err != nil {
			return nil, nil, nil, nil, err
		}
	}

	if opts.RemoteCount > 0 {
		local, remotes, err := transform.Replicate(rewritten, opts.SourceNodes, opts.RemoteCount)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		rewritten = local
		remoteGraphs = remotes
	}

	tasks = make(map[uint16]task.Task, len(rewritten.Nodes()))
	for _, id := range rewritten.Nodes() {
		n := rewritten.Node(id)

		if existing, ok := baseTasks[id]; ok {
			if _, kept := info[id]; kept {
				tasks[id] = existing
				continue
			}
		}

		switch n.PluginName {
		case "merge":
			continue // handled structurally by the scheduler, not a Task
		case "copy":
			t := &task.Identity{}
			if err := t.Setup(provider); err != nil {
				return nil, nil, nil, nil, errs.New(errs.Setup, "scheduler.PrepareGraph", err)
			}
			ni, params, mode := t.Structure()
			info[id] = structInfo{nInputs: ni, params: params, mode: mode}
			tasks[id] = t
		default:
			f, ok := factories[n.PluginName]
			if !ok {
				return nil, nil, nil, nil, errs.Newf(errs.Config, "scheduler.PrepareGraph", "no task instance or factory for cloned node %q", n.PluginName)
			}
			t := f()
			if err := t.Setup(provider); err != nil {
				return nil, nil, nil, nil, errs.New(errs.Setup, "scheduler.PrepareGraph", err)
			}
			ni, params, mode := t.Structure()
			info[id] = structInfo{nInputs: ni, params: params, mode: mode}
			tasks[id] = t
		}
	}

	expectedInputs := make(map[uint16]int, len(info))
	for id, si := range info {
		expectedInputs[id] = si.nInputs
	}
	if err := rewritten.Validate(expectedInputs); err != nil {
		return nil, nil, nil, nil, err
	}

	return rewritten, tasks, info, remoteGraphs, nil
}

// Scheduler drives one prepared run to completion.
type Scheduler struct {
	Recorder *trace.Recorder
}

// New returns a Scheduler, optionally tracing to the given path ("" disables
// tracing).
func New(tracePath string) *Scheduler {
	return &Scheduler{Recorder: trace.NewRecorder(tracePath)}
}

// incomingPort is one input port's wiring: the Group feeding it and this
// node's index within that Group's target list.
type incomingPort struct {
	g      *group.Group
	target int
}

// Run constructs the Group fabric for g, spawns one worker per node, drives
// each to completion per its mode, and joins (spec.md §4.5 steps 3-6). tasks
// and info must describe every node in g except "merge" nodes, which the
// scheduler itself drives structurally.
func (s *Scheduler) Run(g *graph.Graph, tasks map[uint16]task.Task, info map[uint16]structInfo) error {
	outGroups := make(map[uint16]*group.Group)
	inPorts := make(map[uint16]map[int]incomingPort)
	mergeInputs := make(map[uint16][]incomingPort)

	for _, id := range g.Nodes() {
		edges := g.Successors(id)
		if len(edges) == 0 {
			continue
		}
		n := g.Node(id)
		targets := make([]group.Target, len(edges))
		for i := range edges {
			targets[i] = group.NewTarget()
		}
		grp := group.New(n.SendPattern, buffer.LayoutReal, targets)
		outGroups[id] = grp

		for i, e := range edges {
			if g.Node(e.To).PluginName == "merge" {
				mergeInputs[e.To] = append(mergeInputs[e.To], incomingPort{g: grp, target: i})
				continue
			}
			if inPorts[e.To] == nil {
				inPorts[e.To] = make(map[int]incomingPort)
			}
			inPorts[e.To][e.InputPort] = incomingPort{g: grp, target: i}
		}
	}

	// If any worker errors, every other worker's outgoing group is force-
	// finished so its consumers can drain cleanly instead of blocking
	// forever (spec.md §4.5 "Join & teardown" failure semantics). Finish is
	// fired from a fresh goroutine per group since a consumer that already
	// exited leaves nobody to receive a redundant EOS send.
	var abortOnce sync.Once
	abort := func() {
		abortOnce.Do(func() {
			for _, og := range outGroups {
				og := og
				go og.Finish()
			}
		})
	}

	eg := &errgroup.Group{}
	for _, id := range g.Nodes() {
		id := id
		n := g.Node(id)
		out := outGroups[id]

		if n.PluginName == "merge" {
			ports := mergeInputs[id]
			eg.Go(func() error {
				if err := s.runMerge(id, ports, out); err != nil {
					abort()
					return err
				}
				return nil
			})
			continue
		}

		t, ok := tasks[id]
		if !ok {
			continue
		}
		si := info[id]
		ports := sortedPorts(inPorts[id], si.nInputs)

		eg.Go(func() error {
			if err := s.runNode(id, t, ports, out); err != nil {
				abort()
				return err
			}
			return nil
		})
	}

	runErr := eg.Wait()
	if flushErr := s.Recorder.Flush(); flushErr != nil && runErr == nil {
		return flushErr
	}
	return runErr
}

// sortedPorts returns the incoming ports in port-index order, 0..nInputs-1.
func sortedPorts(m map[int]incomingPort, nInputs int) []incomingPort {
	ports := make([]incomingPort, nInputs)
	for port, p := range m {
		if port < nInputs {
			ports[port] = p
		}
	}
	return ports
}

// runNode implements the shared Source/Processor/Reductor/Sink run loop
// (spec.md §4.2, §4.5 step 5). Source is the nInputs==0 case; Sink/Processor
// share the wait-inputs/requisition/process/push loop (Sink simply has no
// outgoing group); Reductor folds via Process until every port is finished,
// then drains via Generate.
func (s *Scheduler) runNode(id uint16, t task.Task, ports []incomingPort, out *group.Group) error {
	log := s.Recorder.NewWorkerLog()
	trace := func(phase string) {
		log.Record(tracebEvent(id, phase))
	}

	if len(ports) == 0 {
		trace("B")
		defer trace("E")
		return runSource(t, out)
	}

	finished := make([]bool, len(ports))
	inputs := make([]*buffer.Buffer, len(ports))

	trace("B")
	defer trace("E")

	for {
		allFinished := true
		for i, p := range ports {
			if finished[i] {
				inputs[i] = nil
				continue
			}
			buf, ok := p.g.PopInput(p.target)
			if !ok {
				finished[i] = true
				inputs[i] = nil
				continue
			}
			inputs[i] = buf
			allFinished = false
		}

		if allFinished {
			// drainGenerate must run (and push any reduced output) before
			// out.Finish() sends EOS, or a downstream consumer can observe
			// EOS ahead of the values a Reductor emits after end-of-stream
			// (spec.md §4.2).
			if err := drainGenerate(t, out); err != nil {
				return err
			}
			if out != nil {
				out.Finish()
			}
			return nil
		}

		req := t.Requisition(inputs)
		var outBuf *buffer.Buffer
		if req.NDims > 0 && out != nil {
			var err error
			outBuf, err = out.PopOutput(req)
			if err != nil {
				return err
			}
			outBuf.DiscardLocation(buffer.LocationHost)
		}

		more, err := t.Process(inputs, outBuf)
		if err != nil {
			return err
		}
		if req.NDims > 0 && out != nil {
			if err := out.PushOutput(outBuf); err != nil {
				return err
			}
		}
		for i, p := range ports {
			if inputs[i] != nil {
				p.g.PushInput(inputs[i])
			}
		}
		if !more {
			if out != nil {
				out.Finish()
			}
			return nil
		}
	}
}

// runSource drives a Source task: setup has already run, so this is purely
// the generate loop of spec.md §4.2's mode table.
func runSource(t task.Task, out *group.Group) error {
	for {
		req := t.Requisition(nil)
		var outBuf *buffer.Buffer
		if req.NDims > 0 && out != nil {
			var err error
			outBuf, err = out.PopOutput(req)
			if err != nil {
				return err
			}
			outBuf.DiscardLocation(buffer.LocationHost)
		}

		more, err := t.Generate(outBuf)
		if err != nil {
			return err
		}
		if req.NDims > 0 && out != nil {
			if err := out.PushOutput(outBuf); err != nil {
				return err
			}
		}
		if !more {
			if out != nil {
				out.Finish()
			}
			return nil
		}
	}
}

// drainGenerate runs a Reductor's post-EOS generate loop (spec.md §4.2). A
// non-Reductor task's Base.Generate is a no-op returning more=false, so this
// is a harmless single call for Processor/Sink.
func drainGenerate(t task.Task, out *group.Group) error {
	for {
		req := t.Requisition(nil)
		var outBuf *buffer.Buffer
		if req.NDims > 0 && out != nil {
			var err error
			outBuf, err = out.PopOutput(req)
			if err != nil {
				return err
			}
			outBuf.DiscardLocation(buffer.LocationHost)
		}

		more, err := t.Generate(outBuf)
		if err != nil {
			return err
		}
		if req.NDims > 0 && out != nil {
			if err := out.PushOutput(outBuf); err != nil {
				return err
			}
		}
		if !more {
			return nil
		}
	}
}

// runMerge implements the expand transform's merge node (spec.md §4.6):
// forward items from however many upstream replicas feed it, in whichever
// order they actually arrive ("scatter in reverse"), until every replica has
// signalled EOS, recycling each consumed buffer back to its own originating
// replica's pool. A dynamic reflect.Select is unavoidable here since the
// number of replicas is only known at expand time and ordinary Group.PopInput
// always waits on one fixed target.
func (s *Scheduler) runMerge(id uint16, ports []incomingPort, out *group.Group) error {
	cases := make([]reflect.SelectCase, len(ports))
	for i, p := range ports {
		cases[i] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(p.g.Targets()[p.target].Full)}
	}

	for len(cases) > 0 {
		i, v, _ := reflect.Select(cases)
		item := v.Interface().(group.Item)
		if item.EOS {
			cases = append(cases[:i], cases[i+1:]...)
			ports = append(ports[:i], ports[i+1:]...)
			continue
		}

		// The forwarded buffer must be a fresh object, not item.Buf itself:
		// item.Buf is about to be recycled to its own replica's pool, and
		// that pool must never share an object with the merge's outgoing
		// group while a downstream consumer may still be reading it.
		if out != nil {
			fresh, err := out.PopOutput(item.Buf.Requisition())
			if err != nil {
				return err
			}
			if err := buffer.Copy(fresh, item.Buf); err != nil {
				return err
			}
			if err := out.PushOutput(fresh); err != nil {
				return err
			}
		}
		ports[i].g.PushInput(item.Buf)
	}

	if out != nil {
		out.Finish()
	}
	return nil
}

func tracebEvent(id uint16, phase string) trace.Event {
	return trace.Event{
		Name:      "node",
		NodeID:    "#" + strconv.Itoa(int(id)),
		Phase:     phase,
		Timestamp: time.Now().UnixMicro(),
		Worker:    int(id),
	}
}
