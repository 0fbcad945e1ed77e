// Package pipeline loads the JSON pipeline description of spec.md §6 into a
// graph.Graph: nodes, edges, and named property bags resolved through
// prop-refs. Named out of core scope by spec.md §1, but §6 fully specifies
// the document shape and the scheduler-enforced semantic constraints
// (acyclicity, all inputs connected, plugin names resolvable), so it is the
// only way this engine is reachable end-to-end and we supply a real loader.
//
// Decoding uses jsoniter.ConfigCompatibleWithStandardLibrary rather than
// encoding/json, the same drop-in swap ghjramos-aistore makes for its own
// config/bucket-prop JSON.
package pipeline

import (
	"os"

	jsoniter "github.com/json-iterator/go"

	"github.com/ufo-kit/ufo-go/graph"
	"github.com/ufo-kit/ufo-go/group"
	"github.com/ufo-kit/ufo-go/internal/errs"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Properties is a named bag of plugin property values, either attached
// directly to a node or pulled in via a prop-ref onto a shared prop-sets
// entry.
type Properties map[string]any

// nodeDoc is one entry of the "nodes" array (spec.md §6).
type nodeDoc struct {
	Name       string     `json:"name"`
	Plugin     string     `json:"plugin"`
	Properties Properties `json:"properties,omitempty"`
	PropRefs   []string   `json:"prop-refs,omitempty"`
	Broadcast  bool       `json:"broadcast,omitempty"`
}

// edgeDoc is one entry of the "edges" array (spec.md §6); Input defaults to
// port 0 when omitted.
type edgeDoc struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Input *int   `json:"input,omitempty"`
}

// document is the full pipeline description (spec.md §6).
type document struct {
	Nodes    []nodeDoc             `json:"nodes"`
	Edges    []edgeDoc             `json:"edges"`
	PropSets map[string]Properties `json:"prop-sets,omitempty"`
}

// Pipeline is a loaded, not-yet-validated pipeline: the resolved graph plus
// each node's merged properties, keyed by the graph's assigned node ID.
type Pipeline struct {
	Graph      *graph.Graph
	Properties map[uint16]Properties
}

// Load reads and parses the pipeline description at path (spec.md §6).
func Load(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New(errs.Config, "pipeline.Load", err)
	}
	return Parse(data)
}

// Parse decodes a pipeline description from raw JSON bytes, resolves
// prop-refs against prop-sets, and builds the graph. Acyclicity is enforced
// as edges are added (graph.Connect rejects any edge that would close a
// cycle); "every declared input port connected" is enforced later by
// graph.Validate once scheduler.PrepareGraph knows each node's task arity.
func Parse(data []byte) (*Pipeline, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errs.New(errs.Config, "pipeline.Parse", err)
	}

	g := graph.New()
	byName := make(map[string]uint16, len(doc.Nodes))
	props := make(map[uint16]Properties, len(doc.Nodes))

	for _, nd := range doc.Nodes {
		if nd.Name == "" {
			return nil, errs.Newf(errs.Config, "pipeline.Parse", "node missing name")
		}
		if nd.Plugin == "" {
			return nil, errs.Newf(errs.Config, "pipeline.Parse", "node %q missing plugin", nd.Name)
		}
		if _, dup := byName[nd.Name]; dup {
			return nil, errs.Newf(errs.Config, "pipeline.Parse", "duplicate node name %q", nd.Name)
		}

		pattern := group.Scatter
		if nd.Broadcast {
			pattern = group.Broadcast
		}
		id := g.AddNode(graph.Node{
			PluginName:  nd.Plugin,
			UniqueName:  nd.Name,
			SendPattern: pattern,
		})
		byName[nd.Name] = id

		merged := Properties{}
		for _, ref := range nd.PropRefs {
			set, ok := doc.PropSets[ref]
			if !ok {
				return nil, errs.Newf(errs.Config, "pipeline.Parse", "node %q references unknown prop-set %q", nd.Name, ref)
			}
			for k, v := range set {
				merged[k] = v
			}
		}
		for k, v := range nd.Properties {
			merged[k] = v
		}
		props[id] = merged
	}

	for _, ed := range doc.Edges {
		from, ok := byName[ed.From]
		if !ok {
			return nil, errs.Newf(errs.Config, "pipeline.Parse", "edge references unknown node %q", ed.From)
		}
		to, ok := byName[ed.To]
		if !ok {
			return nil, errs.Newf(errs.Config, "pipeline.Parse", "edge references unknown node %q", ed.To)
		}
		port := 0
		if ed.Input != nil {
			port = *ed.Input
		}
		if err := g.Connect(from, to, port); err != nil {
			return nil, err
		}
	}

	// Acyclicity is already enforced above by graph.Connect rejecting any
	// edge that would close a cycle. Port-completeness ("all declared
	// inputs connected") needs each node's task arity, which the loader
	// does not know — graph.Validate, called from scheduler.PrepareGraph
	// once tasks are resolved, owns that check (spec.md §6).

	return &Pipeline{Graph: g, Properties: props}, nil
}
