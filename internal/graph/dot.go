package graph

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// WriteDOT renders g in Graphviz DOT format. Annotated elements list their
// tags in the node label; edges are labelled with their fields once resolved.
func WriteDOT(w io.Writer, g *Graph) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "digraph %s {\n", strconv.Quote(g.Name()))
	bw.WriteString("  rankdir=LR;\n")

	tagsByID := make(map[string][]string)
	for _, tag := range g.annotations.Tags() {
		for _, id := range g.annotations[tag] {
			tagsByID[id] = append(tagsByID[id], string(tag))
		}
	}

	for _, e := range g.Vertices() {
		label := fmt.Sprintf("%s\\n%s", e.ID(), e.Kind())
		if tags := tagsByID[e.ID()]; len(tags) > 0 {
			label += "\\n{" + strings.Join(tags, ",") + "}"
		}
		shape := "box"
		switch e.Kind() {
		case KindHead, KindTail:
			shape = "point"
		case KindSource, KindSink:
			shape = "cylinder"
		}
		fmt.Fprintf(bw, "  %s [label=\"%s\", shape=%s];\n", strconv.Quote(e.ID()), label, shape)
	}

	for _, s := range g.Edges() {
		if len(s.Fields) > 0 {
			fmt.Fprintf(bw, "  %s -> %s [label=%s];\n",
				strconv.Quote(s.Source), strconv.Quote(s.Target), strconv.Quote(s.Fields.String()))
			continue
		}
		fmt.Fprintf(bw, "  %s -> %s;\n", strconv.Quote(s.Source), strconv.Quote(s.Target))
	}

	bw.WriteString("}\n")
	return bw.Flush()
}
