package graph

import (
	"testing"

	"github.com/ufo-kit/ufo-go/group"
)

func newNode(name string) Node {
	return Node{PluginName: name, UniqueName: name, SendPattern: group.Scatter}
}

func TestConnectRejectsSelfLoop(t *testing.T) {
	t.Parallel()
	g := New()
	a := g.AddNode(newNode("a"))
	if err := g.Connect(a, a, 0); err == nil {
		t.Fatal("expected error for self-loop")
	}
}

func TestConnectRejectsCycle(t *testing.T) {
	t.Parallel()
	g := New()
	a := g.AddNode(newNode("a"))
	b := g.AddNode(newNode("b"))
	c := g.AddNode(newNode("c"))

	if err := g.Connect(a, b, 0); err != nil {
		t.Fatalf("Connect a->b: %v", err)
	}
	if err := g.Connect(b, c, 0); err != nil {
		t.Fatalf("Connect b->c: %v", err)
	}
	if err := g.Connect(c, a, 0); err == nil {
		t.Fatal("expected cycle rejection for c->a")
	}
}

func TestTopoOrderRespectsEdges(t *testing.T) {
	t.Parallel()
	g := New()
	a := g.AddNode(newNode("a"))
	b := g.AddNode(newNode("b"))
	c := g.AddNode(newNode("c"))
	g.Connect(a, b, 0)
	g.Connect(b, c, 0)

	order, err := g.TopoOrder()
	if err != nil {
		t.Fatalf("TopoOrder: %v", err)
	}

	pos := make(map[uint16]int)
	for i, id := range order {
		pos[id] = i
	}
	if pos[a] > pos[b] || pos[b] > pos[c] {
		t.Fatalf("topo order %v violates a->b->c", order)
	}
}

func TestValidateMissingInputPort(t *testing.T) {
	t.Parallel()
	g := New()
	a := g.AddNode(newNode("a"))
	b := g.AddNode(newNode("b"))
	g.Connect(a, b, 1) // connects input port 1, leaving port 0 unconnected

	err := g.Validate(map[uint16]int{b: 2})
	if err == nil {
		t.Fatal("expected missing-input-port error")
	}
}

func TestValidateSatisfiedInputs(t *testing.T) {
	t.Parallel()
	g := New()
	a := g.AddNode(newNode("a"))
	b := g.AddNode(newNode("b"))
	c := g.AddNode(newNode("c"))
	g.Connect(a, c, 0)
	g.Connect(b, c, 1)

	if err := g.Validate(map[uint16]int{c: 2}); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	t.Parallel()
	g := New()
	a := g.AddNode(Node{PluginName: "source", UniqueName: "src", SendPattern: group.Broadcast, ProcNode: ProcNode{Kind: ProcCPU}})
	b := g.AddNode(Node{PluginName: "sum", UniqueName: "sum1", SendPattern: group.Scatter, ProcNode: ProcNode{Kind: ProcGPU, Index: 2}})
	if err := g.Connect(a, b, 0); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	data, err := g.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	g2, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}

	if len(g2.Nodes()) != 2 {
		t.Fatalf("len(Nodes()) = %d, want 2", len(g2.Nodes()))
	}
	if got := g2.EdgeLabel(a, b); got != 0 {
		t.Fatalf("EdgeLabel(a,b) = %d, want 0", got)
	}
	n2 := g2.Node(b)
	if n2.ProcNode.Kind != ProcGPU || n2.ProcNode.Index != 2 {
		t.Fatalf("ProcNode = %+v, want {ProcGPU 2}", n2.ProcNode)
	}
}

func TestReplaceNodePreservesEdges(t *testing.T) {
	t.Parallel()
	g := New()
	a := g.AddNode(newNode("a"))
	b := g.AddNode(newNode("b"))
	c := g.AddNode(newNode("c"))
	g.Connect(a, b, 0)
	g.Connect(b, c, 0)

	if err := g.ReplaceNode(b, Node{PluginName: "b2", UniqueName: "b2", SendPattern: group.Scatter}); err != nil {
		t.Fatalf("ReplaceNode: %v", err)
	}

	if got := g.Node(b).PluginName; got != "b2" {
		t.Fatalf("replaced node plugin = %q, want b2", got)
	}
	if got := g.EdgeLabel(a, b); got != 0 {
		t.Fatalf("incoming edge lost after replace: EdgeLabel = %d", got)
	}
	if got := g.EdgeLabel(b, c); got != 0 {
		t.Fatalf("outgoing edge lost after replace: EdgeLabel = %d", got)
	}
}
