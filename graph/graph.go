// Package graph implements the labelled task DAG of spec.md §3.3, §4.4:
// G = (V, E, λ) where V is the node set, E the edge set with no self-loops,
// and λ: E → ℕ names the destination input port.
//
// Binary Serialize/Deserialize uses a header-then-fixed-fields shape with no
// alignment padding: a header, then per node its strings, fixed fields and
// a variable-arity list of outgoing edges.
package graph

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ufo-kit/ufo-go/group"
	"github.com/ufo-kit/ufo-go/internal/errs"
)

// ProcKind names the class of compute site a node is mapped to (spec.md
// §3.3 "proc_node").
type ProcKind uint8

const (
	ProcUnassigned ProcKind = iota
	ProcCPU
	ProcGPU
	ProcRemote
)

// ProcNode is the concrete compute site assigned to a node during mapping.
type ProcNode struct {
	Kind  ProcKind
	Index int // GPU command-queue index, or remote worker index; unused for CPU
}

// Partition stamps a data-parallel source with its shard of the overall
// stream (spec.md §3.3, §9).
type Partition struct {
	Index int
	Total int
}

// Node is one vertex of the task graph.
type Node struct {
	ID          uint16
	PluginName  string
	UniqueName  string
	SendPattern group.Pattern
	ProcNode    ProcNode
	Partition   Partition
}

// Edge is one outgoing connection from a node, labelled with the
// destination input port (λ in spec.md §3.3).
type Edge struct {
	To        uint16
	InputPort int
}

// Graph is a labelled DAG of task nodes (spec.md §3.3).
type Graph struct {
	nodes map[uint16]*Node
	order []uint16 // insertion order, for deterministic iteration
	out   map[uint16][]Edge
	in    map[uint16][]Edge
	nextID uint16
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[uint16]*Node),
		out:   make(map[uint16][]Edge),
		in:    make(map[uint16][]Edge),
	}
}

// AddNode inserts n, assigning it a fresh ID if n.ID is zero and no node
// with ID zero has been added yet, and returns the assigned ID.
func (g *Graph) AddNode(n Node) uint16 {
	if n.ID == 0 {
		g.nextID++
		n.ID = g.nextID
	} else if n.ID >= g.nextID {
		g.nextID = n.ID
	}
	g.nodes[n.ID] = &n
	g.order = append(g.order, n.ID)
	return n.ID
}

// Node returns the node with the given ID, or nil if absent.
func (g *Graph) Node(id uint16) *Node { return g.nodes[id] }

// Nodes returns all node IDs in insertion order.
func (g *Graph) Nodes() []uint16 {
	out := make([]uint16, len(g.order))
	copy(out, g.order)
	return out
}

// Connect adds a labelled edge src -> dst on the given input port,
// rejecting self-loops and edges that would create a cycle (spec.md §3.3,
// §8 scenario #6).
func (g *Graph) Connect(src, dst uint16, inputPort int) error {
	if _, ok := g.nodes[src]; !ok {
		return errs.Newf(errs.Topology, "graph.Connect", "unknown source node %d", src)
	}
	if _, ok := g.nodes[dst]; !ok {
		return errs.Newf(errs.Topology, "graph.Connect", "unknown destination node %d", dst)
	}
	if src == dst {
		return errs.Newf(errs.Topology, "graph.Connect", "self-loop on node %d", src)
	}
	if g.reaches(dst, src) {
		return errs.Newf(errs.Topology, "graph.Connect", "edge %d->%d would create a cycle", src, dst)
	}

	e := Edge{To: dst, InputPort: inputPort}
	g.out[src] = append(g.out[src], e)
	g.in[dst] = append(g.in[dst], Edge{To: src, InputPort: inputPort})
	return nil
}

// reaches reports whether there is a path from -> to in the current edge
// set, used to detect the cycle a proposed edge would introduce.
func (g *Graph) reaches(from, to uint16) bool {
	if from == to {
		return true
	}
	visited := make(map[uint16]bool)
	stack := []uint16{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[n] {
			continue
		}
		visited[n] = true
		if n == to {
			return true
		}
		for _, e := range g.out[n] {
			stack = append(stack, e.To)
		}
	}
	return false
}

// Successors returns the outgoing edges of a node.
func (g *Graph) Successors(n uint16) []Edge { return g.out[n] }

// Predecessors returns the incoming edges of a node.
func (g *Graph) Predecessors(n uint16) []Edge { return g.in[n] }

// EdgeLabel returns the input port for the edge src->dst, or -1 if no such
// edge exists.
func (g *Graph) EdgeLabel(src, dst uint16) int {
	for _, e := range g.out[src] {
		if e.To == dst {
			return e.InputPort
		}
	}
	return -1
}

// ReplaceNode substitutes newNode in place of the node with ID old,
// preserving every in/out edge and its label (spec.md §4.4).
func (g *Graph) ReplaceNode(old uint16, newNode Node) error {
	if _, ok := g.nodes[old]; !ok {
		return errs.Newf(errs.Topology, "graph.ReplaceNode", "unknown node %d", old)
	}
	newNode.ID = old
	g.nodes[old] = &newNode
	return nil
}

// Validate checks the structural invariants of spec.md §3.3: acyclicity
// (already enforced by Connect, checked again here defensively), and that
// every non-source node has every declared input port connected. The
// caller supplies expected input-port counts per node (from task.Structure)
// since the graph itself does not know task arity.
func (g *Graph) Validate(expectedInputs map[uint16]int) error {
	if _, err := g.TopoOrder(); err != nil {
		return err
	}

	for id, want := range expectedInputs {
		if want == 0 {
			continue
		}
		seen := make(map[int]bool)
		for _, e := range g.in[id] {
			seen[e.InputPort] = true
		}
		for port := 0; port < want; port++ {
			if !seen[port] {
				return errs.Newf(errs.Topology, "graph.Validate", "node %d missing connection on input port %d", id, port)
			}
		}
	}
	return nil
}

// TopoOrder returns the node IDs in a valid topological order using Kahn's
// algorithm, or a Topology error if the graph contains a cycle.
func (g *Graph) TopoOrder() ([]uint16, error) {
	inDegree := make(map[uint16]int, len(g.nodes))
	for id := range g.nodes {
		inDegree[id] = 0
	}
	for _, edges := range g.out {
		for _, e := range edges {
			inDegree[e.To]++
		}
	}

	var queue []uint16
	for _, id := range g.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]uint16, 0, len(g.nodes))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, e := range g.out[n] {
			inDegree[e.To]--
			if inDegree[e.To] == 0 {
				queue = append(queue, e.To)
			}
		}
	}

	if len(order) != len(g.nodes) {
		return nil, errs.New(errs.Topology, "graph.TopoOrder", fmt.Errorf("graph contains a cycle"))
	}
	return order, nil
}

const (
	magic   = uint32(0x55464f47) // "UFOG"
	version = uint16(1)
)

// Serialize writes the graph to a compact binary format: a header followed
// by one record per node in insertion order, each holding the node's
// length-prefixed names, its fixed fields and its own outgoing edges.
func (g *Graph) Serialize() ([]byte, error) {
	var buf bytes.Buffer

	if err := binary.Write(&buf, binary.LittleEndian, magic); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, version); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint16(len(g.order))); err != nil {
		return nil, err
	}

	for _, id := range g.order {
		n := g.nodes[id]
		if err := writeString(&buf, n.PluginName); err != nil {
			return nil, err
		}
		if err := writeString(&buf, n.UniqueName); err != nil {
			return nil, err
		}
		fields := []any{n.ID, n.SendPattern, uint8(n.ProcNode.Kind), int32(n.ProcNode.Index), int32(n.Partition.Index), int32(n.Partition.Total)}
		for _, f := range fields {
			if err := binary.Write(&buf, binary.LittleEndian, f); err != nil {
				return nil, err
			}
		}

		edges := g.out[id]
		if err := binary.Write(&buf, binary.LittleEndian, uint16(len(edges))); err != nil {
			return nil, err
		}
		for _, e := range edges {
			if err := binary.Write(&buf, binary.LittleEndian, e.To); err != nil {
				return nil, err
			}
			if err := binary.Write(&buf, binary.LittleEndian, int32(e.InputPort)); err != nil {
				return nil, err
			}
		}
	}

	return buf.Bytes(), nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if err := binary.Write(buf, binary.LittleEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := buf.WriteString(s)
	return err
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return "", err
	}
	return string(b), nil
}

// Deserialize reads a Graph previously written by Serialize.
func Deserialize(data []byte) (*Graph, error) {
	r := bytes.NewReader(data)

	var m uint32
	if err := binary.Read(r, binary.LittleEndian, &m); err != nil {
		return nil, err
	}
	if m != magic {
		return nil, fmt.Errorf("graph: bad magic %x", m)
	}
	var v uint16
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return nil, err
	}
	if v != version {
		return nil, fmt.Errorf("graph: unsupported version %d", v)
	}

	var count uint16
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}

	g := New()
	pendingEdges := make(map[uint16][]Edge, count)

	for i := uint16(0); i < count; i++ {
		var n Node
		var err error
		if n.PluginName, err = readString(r); err != nil {
			return nil, err
		}
		if n.UniqueName, err = readString(r); err != nil {
			return nil, err
		}

		var procKind uint8
		var procIndex, partIndex, partTotal int32
		for _, f := range []any{&n.ID, &n.SendPattern, &procKind, &procIndex, &partIndex, &partTotal} {
			if err := binary.Read(r, binary.LittleEndian, f); err != nil {
				return nil, err
			}
		}
		n.ProcNode = ProcNode{Kind: ProcKind(procKind), Index: int(procIndex)}
		n.Partition = Partition{Index: int(partIndex), Total: int(partTotal)}

		g.AddNode(n)

		var edgeCount uint16
		if err := binary.Read(r, binary.LittleEndian, &edgeCount); err != nil {
			return nil, err
		}
		for j := uint16(0); j < edgeCount; j++ {
			var to uint16
			var port int32
			if err := binary.Read(r, binary.LittleEndian, &to); err != nil {
				return nil, err
			}
			if err := binary.Read(r, binary.LittleEndian, &port); err != nil {
				return nil, err
			}
			pendingEdges[n.ID] = append(pendingEdges[n.ID], Edge{To: to, InputPort: int(port)})
		}
	}

	for src, edges := range pendingEdges {
		for _, e := range edges {
			if err := g.Connect(src, e.To, e.InputPort); err != nil {
				return nil, err
			}
		}
	}

	return g, nil
}
