// Package transform implements the pre-execution graph rewrites of
// spec.md §4.6: expand (replicate GPU sub-paths per device), map (assign
// each node a concrete proc_node), partition (stamp data-parallel shards),
// and replicate (prepare a graph for remote-worker fan-out). Each rewrite
// is a pure graph-to-graph transformation, grounded on the teacher's
// model.Graph.Optimize/topologicalSort "rewrite the node slice, keep
// payload" shape in model/graph.go.
package transform

import (
	"github.com/ufo-kit/ufo-go/graph"
	"github.com/ufo-kit/ufo-go/group"
	"github.com/ufo-kit/ufo-go/internal/errs"
)

// Reductor reports whether the node's task mode is a fold-the-whole-stream
// reductor, keyed by the node's ID in the input graph. The scheduler
// supplies this from each task's Structure(); transform itself does not
// import task.
type Reductor func(nodeID uint16) bool

// Expand duplicates every GPU-bearing sub-path K times (spec.md §4.6): a
// broadcasting copy node fans the source out to K clones of the chain
// between source and sink, and a merge node folds the K sink predecessors
// back into one stream in arrival order. Reductor nodes are never cloned —
// they are treated as a barrier per spec.md §9's open-question resolution.
//
// gpuNodes names the nodes to replicate (typically every node whose
// ProcNode.Kind will become ProcGPU); isReductor classifies which of them
// must act as a barrier instead of being cloned.
func Expand(g *graph.Graph, gpuNodes []uint16, k int, isReductor Reductor) (*graph.Graph, error) {
	if k <= 1 {
		return g, nil
	}
	if len(gpuNodes) == 0 {
		return g, nil
	}

	out := graph.New()
	old := make(map[uint16]uint16) // original ID -> copied ID in out, for non-expanded nodes
	gpuSet := make(map[uint16]bool, len(gpuNodes))
	for _, id := range gpuNodes {
		gpuSet[id] = true
	}

	for _, id := range g.Nodes() {
		n := *g.Node(id)
		if gpuSet[id] && isReductor != nil && isReductor(id) {
			gpuSet[id] = false // barrier: keep single instance, do not clone
		}
		if gpuSet[id] {
			continue // cloned below, once per replica
		}
		newID := out.AddNode(graph.Node{
			ID:          id, // kept nodes keep their ID so callers' per-node maps stay valid
			PluginName:  n.PluginName,
			UniqueName:  n.UniqueName,
			SendPattern: n.SendPattern,
			ProcNode:    n.ProcNode,
			Partition:   n.Partition,
		})
		old[id] = newID
	}

	// Re-wire edges between non-expanded nodes, and collect the edges that
	// cross the expand boundary (non-expanded -> gpu, or gpu -> non-expanded).
	type crossIn struct {
		from      uint16 // non-expanded source
		toOrig    uint16 // original gpu-chain entry node
		inputPort int
	}
	type crossOut struct {
		fromOrig  uint16 // original gpu-chain exit node
		to        uint16 // non-expanded destination (in out's ID space)
		inputPort int
	}
	var ins []crossIn
	var outs []crossOut

	for _, id := range g.Nodes() {
		for _, e := range g.Successors(id) {
			switch {
			case !gpuSet[id] && !gpuSet[e.To]:
				if err := out.Connect(old[id], old[e.To], e.InputPort); err != nil {
					return nil, err
				}
			case !gpuSet[id] && gpuSet[e.To]:
				ins = append(ins, crossIn{from: old[id], toOrig: e.To, inputPort: e.InputPort})
			case gpuSet[id] && !gpuSet[e.To]:
				outs = append(outs, crossOut{fromOrig: id, to: old[e.To], inputPort: e.InputPort})
			}
		}
	}

	anyExpanded := false
	for _, expanded := range gpuSet {
		if expanded {
			anyExpanded = true
			break
		}
	}
	if !anyExpanded {
		// Every candidate node turned out to be a barrier; nothing to
		// clone, and the node/edge copy loops above already reproduced
		// the graph as-is.
		return out, nil
	}
	if len(ins) == 0 {
		return nil, errs.New(errs.Topology, "transform.Expand", errNoEntryPoint)
	}

	// Insert the broadcasting copy node once per distinct fan-in source.
	copyNodes := make(map[uint16]uint16) // non-expanded source -> copy node ID
	for _, ci := range ins {
		if _, ok := copyNodes[ci.from]; ok {
			continue
		}
		copyID := out.AddNode(graph.Node{
			PluginName:  "copy",
			UniqueName:  "expand-copy",
			SendPattern: group.Broadcast,
		})
		if err := out.Connect(ci.from, copyID, 0); err != nil {
			return nil, err
		}
		copyNodes[ci.from] = copyID
	}

	// Insert one merge node per distinct fan-out destination.
	mergeNodes := make(map[uint16]uint16) // non-expanded destination -> merge node ID
	mergeInputs := make(map[uint16]int)   // merge node -> next free input port
	for _, co := range outs {
		if _, ok := mergeNodes[co.to]; !ok {
			mergeID := out.AddNode(graph.Node{
				PluginName:  "merge",
				UniqueName:  "expand-merge",
				SendPattern: group.Scatter,
			})
			if err := out.Connect(mergeID, co.to, co.inputPort); err != nil {
				return nil, err
			}
			mergeNodes[co.to] = mergeID
		}
	}

	// Clone the GPU sub-path K times, remapping IDs per replica, and wire
	// each clone between its copy-node source(s) and merge-node sink(s).
	for replica := 0; replica < k; replica++ {
		cloneID := make(map[uint16]uint16, len(gpuNodes))
		for _, id := range g.Nodes() {
			if !gpuSet[id] {
				continue
			}
			n := *g.Node(id)
			newID := out.AddNode(graph.Node{
				PluginName:  n.PluginName,
				UniqueName:  n.UniqueName,
				SendPattern: n.SendPattern,
				ProcNode:    graph.ProcNode{Kind: graph.ProcGPU, Index: replica},
				Partition:   n.Partition,
			})
			cloneID[id] = newID
		}
		for _, id := range g.Nodes() {
			if !gpuSet[id] {
				continue
			}
			for _, e := range g.Successors(id) {
				if gpuSet[e.To] {
					if err := out.Connect(cloneID[id], cloneID[e.To], e.InputPort); err != nil {
						return nil, err
					}
				}
			}
		}
		for _, ci := range ins {
			if err := out.Connect(copyNodes[ci.from], cloneID[ci.toOrig], ci.inputPort); err != nil {
				return nil, err
			}
		}
		for _, co := range outs {
			mergeID := mergeNodes[co.to]
			port := mergeInputs[mergeID]
			mergeInputs[mergeID] = port + 1
			if err := out.Connect(cloneID[co.fromOrig], mergeID, port); err != nil {
				return nil, err
			}
		}
	}

	return out, nil
}

var errNoEntryPoint = topologyError("expand: no edge enters the GPU sub-path from a non-expanded node")

type topologyError string

func (e topologyError) Error() string { return string(e) }

// Map assigns each node in gpuNodes a concrete command-queue index by
// round-robin over nQueues (spec.md §4.6: "round-robin assignment of GPU
// tasks to the available command queues"). Nodes not named in gpuNodes are
// left untouched, so CPU tasks keep no device assignment. No ProcRemote
// assignment is made here or by Replicate, which only stamps partitions.
func Map(g *graph.Graph, gpuNodes []uint16, nQueues int) error {
	if nQueues <= 0 {
		return errs.Newf(errs.Config, "transform.Map", "nQueues must be positive, got %d", nQueues)
	}
	for i, id := range gpuNodes {
		n := g.Node(id)
		if n == nil {
			return errs.Newf(errs.Topology, "transform.Map", "unknown node %d", id)
		}
		updated := *n
		updated.ProcNode = graph.ProcNode{Kind: graph.ProcGPU, Index: i % nQueues}
		if err := g.ReplaceNode(id, updated); err != nil {
			return err
		}
	}
	return nil
}

// Partition stamps every node in sourceNodes with (index, total), the
// data-parallel shard a replica owns (spec.md §4.6, §5's ordering-contract
// note, §9's loader-rejection rule). Partition itself does not validate that
// a source cooperates with sharding — spec.md §9 assigns that rejection to
// the pipeline loader, which knows which plugins declare cooperation.
func Partition(g *graph.Graph, sourceNodes []uint16, index, total int) error {
	if total <= 0 || index < 0 || index >= total {
		return errs.Newf(errs.Config, "transform.Partition", "invalid partition (%d, %d)", index, total)
	}
	for _, id := range sourceNodes {
		n := g.Node(id)
		if n == nil {
			return errs.Newf(errs.Topology, "transform.Partition", "unknown node %d", id)
		}
		updated := *n
		updated.Partition = graph.Partition{Index: index, Total: total}
		if err := g.ReplaceNode(id, updated); err != nil {
			return err
		}
	}
	return nil
}

// Replicate stamps the local graph as shard (0, total) and returns per-remote
// graphs stamped (1..total-1, total), each ready to be serialized and shipped
// to a remote worker (spec.md §4.5 "Replicate"). sourceNodes names the nodes
// that must cooperate with sharding in every copy.
func Replicate(g *graph.Graph, sourceNodes []uint16, remoteCount int) (local *graph.Graph, remotes []*graph.Graph, err error) {
	if remoteCount < 0 {
		return nil, nil, errs.Newf(errs.Config, "transform.Replicate", "negative remote count %d", remoteCount)
	}
	total := remoteCount + 1

	localCopy, err := cloneGraph(g)
	if err != nil {
		return nil, nil, err
	}
	if err := Partition(localCopy, sourceNodes, 0, total); err != nil {
		return nil, nil, err
	}

	remotes = make([]*graph.Graph, remoteCount)
	for r := 0; r < remoteCount; r++ {
		rg, err := cloneGraph(g)
		if err != nil {
			return nil, nil, err
		}
		if err := Partition(rg, sourceNodes, r+1, total); err != nil {
			return nil, nil, err
		}
		remotes[r] = rg
	}

	return localCopy, remotes, nil
}

// cloneGraph round-trips through the binary wire format to produce an
// independent copy, reusing graph.Serialize/Deserialize rather than
// duplicating its adjacency-copy logic here.
func cloneGraph(g *graph.Graph) (*graph.Graph, error) {
	data, err := g.Serialize()
	if err != nil {
		return nil, err
	}
	return graph.Deserialize(data)
}
