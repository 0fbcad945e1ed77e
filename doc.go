// Package ufo implements a dataflow processing framework for scientific
// image-processing pipelines: a labelled task graph of Source, Processor,
// Reductor, and Sink units connected by Group queues, scheduled onto local
// GPU command queues and optionally remote workers.
//
// # Architecture Overview
//
// The engine consists of several key components:
//
//   - Buffer: N-D float32 payload with explicit host/device location tracking
//   - Group: the producer-to-N-consumer edge fabric, scatter or broadcast
//   - Graph: a labelled DAG of task nodes with topological ordering
//   - Task: the polymorphic compute-unit contract (Source/Processor/Reductor/Sink/Remote)
//   - Scheduler: setup, graph rewrite, Group construction, worker spawn, join
//   - Transform: pre-execution graph rewrites (expand, map, partition, replicate)
//   - Remote: the wire protocol and local shadow of a remote worker
//
// # Basic Usage
//
//	// Load a pipeline description and run it
//	p, err := pipeline.Load("pipeline.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	rewritten, tasks, info, _, err := scheduler.PrepareGraph(p.Graph, baseTasks, factories, provider, scheduler.RunOptions{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := scheduler.New("trace.json").Run(rewritten, tasks, info); err != nil {
//	    log.Fatal(err)
//	}
//
// # Package Structure
//
//   - buffer: N-D float32 payload and host/device location tracking
//   - group: producer/consumer queue fabric
//   - graph: labelled task DAG
//   - task: the compute-unit contract and reference plug-ins
//   - scheduler: graph preparation and execution
//   - transform: expand/map/partition/replicate graph rewrites
//   - remote: wire protocol and RemoteTask shadow
//   - pipeline: JSON pipeline description loader
//   - resources: OpenCL resource provider interface (sketched, out of scope)
//   - cmd: command-line tools (ufo-run, ufo-dot)
package ufo
