// Command ufo-run loads a JSON pipeline description and drives it to
// completion (spec.md §6 "CLI surface"): `ufo-run <pipeline.json> [--trace
// path] [--workers n]`.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/ufo-kit/ufo-go/pipeline"
	"github.com/ufo-kit/ufo-go/resources"
	"github.com/ufo-kit/ufo-go/scheduler"
	"github.com/ufo-kit/ufo-go/task"
)

func main() {
	var (
		tracePath = flag.String("trace", "", "Write a Chrome-trace-compatible JSON event log to this path")
		workers   = flag.Int("workers", 1, "Number of GPU devices passed to the scheduler (ufo-run marks no node as GPU-eligible, so no expand or map rewrite runs)")
		verbose   = flag.Bool("verbose", false, "Print the loaded graph before running")
	)
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <pipeline.json>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	p, err := pipeline.Load(args[0])
	if err != nil {
		log.Fatalf("failed to load pipeline: %v", err)
	}

	if *verbose {
		fmt.Fprintln(os.Stderr, p.Graph.Dump())
	}

	tasks, err := instantiate(p)
	if err != nil {
		log.Fatalf("failed to resolve plugins: %v", err)
	}

	rewritten, finalTasks, info, _, err := scheduler.PrepareGraph(
		p.Graph, tasks, registry, &resources.Static{},
		scheduler.RunOptions{NumGPUs: *workers},
	)
	if err != nil {
		log.Fatalf("failed to prepare graph: %v", err)
	}

	s := scheduler.New(*tracePath)
	if err := s.Run(rewritten, finalTasks, info); err != nil {
		log.Fatalf("run failed: %v", err)
	}
}

// registry resolves a plugin name to a fresh Task instance. Concrete device
// kernels are out of core scope (spec.md §1); the reference plug-ins
// supplied in the task package (spec.md §9 supplemented features) are what
// ufo-run can actually execute standalone.
var registry = map[string]scheduler.Factory{
	"identity":        func() task.Task { return &task.Identity{} },
	"constant_source": func() task.Task { return &task.ConstantSource{Count: 1, Value: 1} },
	"counting_source": func() task.Task { return &task.CountingSource{Count: 1} },
	"repeater":        func() task.Task { return &task.Repeater{Count: 1} },
	"sum_reductor":    func() task.Task { return &task.Sum{} },
	"sum_sink":        func() task.Task { return &task.SumSink{} },
	"count_sink":      func() task.Task { return &task.CountSink{} },
	"collect":         func() task.Task { return &task.CollectSink{} },
}

// instantiate builds one Task per graph node by looking up its plugin name
// in registry, and applies any matching node properties (spec.md §6).
func instantiate(p *pipeline.Pipeline) (map[uint16]task.Task, error) {
	tasks := make(map[uint16]task.Task, len(p.Graph.Nodes()))
	for _, id := range p.Graph.Nodes() {
		n := p.Graph.Node(id)
		f, ok := registry[n.PluginName]
		if !ok {
			return nil, fmt.Errorf("unknown plugin %q on node %q", n.PluginName, n.UniqueName)
		}
		t := f()
		applyProperties(t, p.Properties[id])
		tasks[id] = t
	}
	return tasks, nil
}

// applyProperties assigns a handful of well-known numeric properties onto
// the reference plug-ins' exported fields. A real plug-in ecosystem would
// use reflection or a generated binding per plugin; this engine ships only
// the small set of reference tasks in spec.md §9, so a direct type switch
// is the idiomatic, zero-magic choice.
func applyProperties(t task.Task, props pipeline.Properties) {
	switch v := t.(type) {
	case *task.ConstantSource:
		if n, ok := props["count"].(float64); ok {
			v.Count = int(n)
		}
		if n, ok := props["value"].(float64); ok {
			v.Value = float32(n)
		}
	case *task.CountingSource:
		if n, ok := props["count"].(float64); ok {
			v.Count = int(n)
		}
	case *task.Repeater:
		if n, ok := props["count"].(float64); ok {
			v.Count = int(n)
		}
	}
}
