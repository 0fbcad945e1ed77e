// Command ufo-dot loads a JSON pipeline description and writes its
// Graphviz dot representation, a diagnostic sibling of ufo-run (spec.md
// §4.4 "Dump").
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/ufo-kit/ufo-go/pipeline"
)

func main() {
	var out = flag.String("o", "", "Write the dot graph to this path instead of stdout")
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [-o out.dot] <pipeline.json>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	p, err := pipeline.Load(args[0])
	if err != nil {
		log.Fatalf("failed to load pipeline: %v", err)
	}

	path := *out
	if path == "" {
		path = os.Stdout.Name()
	}
	if err := p.Graph.DumpDot(path); err != nil {
		log.Fatalf("failed to write dot graph: %v", err)
	}
}
