package graph

import (
	"fmt"
	"os"

	"github.com/xlab/treeprint"
)

// Dump renders the graph as an indented tree of nodes and their labelled
// outgoing edges, a textual sibling of DumpDot for terminals and logs.
func (g *Graph) Dump() string {
	tree := treeprint.New()
	tree.SetValue("graph")

	for _, id := range g.order {
		n := g.nodes[id]
		branch := tree.AddBranch(fmt.Sprintf("%s (%s) [%s]", n.UniqueName, n.PluginName, n.SendPattern))
		for _, e := range g.out[id] {
			branch.AddNode(fmt.Sprintf("-> %s : input %d", g.nodes[e.To].UniqueName, e.InputPort))
		}
	}

	return tree.String()
}

// DumpDot writes a Graphviz dot representation of the graph to path, for
// diagnostics (spec.md §4.4).
func (g *Graph) DumpDot(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintln(f, "digraph ufo {")
	for _, id := range g.order {
		n := g.nodes[id]
		fmt.Fprintf(f, "  n%d [label=%q];\n", id, n.UniqueName)
	}
	for _, id := range g.order {
		for _, e := range g.out[id] {
			fmt.Fprintf(f, "  n%d -> n%d [label=%q];\n", id, e.To, fmt.Sprintf("in:%d", e.InputPort))
		}
	}
	fmt.Fprintln(f, "}")
	return nil
}
