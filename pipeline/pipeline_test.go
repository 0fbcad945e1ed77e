package pipeline

import (
	"testing"

	"github.com/ufo-kit/ufo-go/group"
)

func TestParseBuildsGraphWithResolvedProperties(t *testing.T) {
	t.Parallel()
	doc := []byte(`{
		"nodes": [
			{"name": "src", "plugin": "const_source", "prop-refs": ["common"], "properties": {"count": 4}},
			{"name": "sink", "plugin": "sum_sink"}
		],
		"edges": [
			{"from": "src", "to": "sink"}
		],
		"prop-sets": {
			"common": {"count": 1, "width": 8}
		}
	}`)

	p, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(p.Graph.Nodes()) != 2 {
		t.Fatalf("got %d nodes, want 2", len(p.Graph.Nodes()))
	}

	var srcID uint16
	for _, id := range p.Graph.Nodes() {
		if p.Graph.Node(id).UniqueName == "src" {
			srcID = id
		}
	}
	props := p.Properties[srcID]
	if props["width"] != float64(8) {
		t.Fatalf("width from prop-ref = %v, want 8", props["width"])
	}
	if props["count"] != float64(4) {
		t.Fatalf("count from node properties should override prop-ref, got %v, want 4", props["count"])
	}
}

func TestParseDefaultsEdgeInputToZero(t *testing.T) {
	t.Parallel()
	doc := []byte(`{
		"nodes": [
			{"name": "a", "plugin": "p"},
			{"name": "b", "plugin": "p"}
		],
		"edges": [{"from": "a", "to": "b"}]
	}`)
	p, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	var a, b uint16
	for _, id := range p.Graph.Nodes() {
		switch p.Graph.Node(id).UniqueName {
		case "a":
			a = id
		case "b":
			b = id
		}
	}
	if port := p.Graph.EdgeLabel(a, b); port != 0 {
		t.Fatalf("edge input port = %d, want 0", port)
	}
}

func TestParseRejectsCycle(t *testing.T) {
	t.Parallel()
	doc := []byte(`{
		"nodes": [
			{"name": "a", "plugin": "p"},
			{"name": "b", "plugin": "p"}
		],
		"edges": [
			{"from": "a", "to": "b"},
			{"from": "b", "to": "a"}
		]
	}`)
	if _, err := Parse(doc); err == nil {
		t.Fatalf("expected a cycle-rejection error")
	}
}

func TestParseRejectsUnknownPropRef(t *testing.T) {
	t.Parallel()
	doc := []byte(`{
		"nodes": [{"name": "a", "plugin": "p", "prop-refs": ["missing"]}]
	}`)
	if _, err := Parse(doc); err == nil {
		t.Fatalf("expected an unknown-prop-set error")
	}
}

func TestParseRejectsDuplicateNodeNames(t *testing.T) {
	t.Parallel()
	doc := []byte(`{
		"nodes": [
			{"name": "a", "plugin": "p"},
			{"name": "a", "plugin": "q"}
		]
	}`)
	if _, err := Parse(doc); err == nil {
		t.Fatalf("expected a duplicate-name error")
	}
}

func TestParseRejectsUnknownEdgeEndpoint(t *testing.T) {
	t.Parallel()
	doc := []byte(`{
		"nodes": [{"name": "a", "plugin": "p"}],
		"edges": [{"from": "a", "to": "ghost"}]
	}`)
	if _, err := Parse(doc); err == nil {
		t.Fatalf("expected an unknown-node error")
	}
}

func TestParseBroadcastSetsSendPattern(t *testing.T) {
	t.Parallel()
	doc := []byte(`{
		"nodes": [
			{"name": "a", "plugin": "p", "broadcast": true},
			{"name": "b", "plugin": "p"},
			{"name": "c", "plugin": "p"}
		],
		"edges": [
			{"from": "a", "to": "b"},
			{"from": "a", "to": "c"}
		]
	}`)
	p, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	for _, id := range p.Graph.Nodes() {
		if p.Graph.Node(id).UniqueName == "a" {
			if p.Graph.Node(id).SendPattern != group.Broadcast {
				t.Fatalf("send pattern = %v, want Broadcast", p.Graph.Node(id).SendPattern)
			}
		}
	}
}
