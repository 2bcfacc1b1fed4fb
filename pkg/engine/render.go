package engine

import (
	"fmt"
	"strings"
)

// Mermaid renders the compiled graph as a Mermaid flowchart. Subgraph nodes are
// drawn as Mermaid subgraphs; their internal node ids are prefixed with the
// subgraph name since node names may repeat across subgraphs.
func (c *Compiled[S]) Mermaid() string {
	var sb strings.Builder
	sb.WriteString("flowchart TD\n")
	sb.WriteString(fmt.Sprintf("    %s([start])\n", START))
	sb.WriteString(fmt.Sprintf("    %s([end])\n", END))
	c.writeMermaid(&sb, "", "    ")
	return sb.String()
}

func mermaidID(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "__" + name
}

func (c *Compiled[S]) writeMermaid(sb *strings.Builder, prefix, indent string) {
	g := c.graph

	for _, name := range g.order {
		sub, isSub := c.subs[name]
		if !isSub {
			if _, fan := g.parallel[name]; fan {
				sb.WriteString(fmt.Sprintf("%s%s{{%s}}\n", indent, mermaidID(prefix, name), name))
			} else {
				sb.WriteString(fmt.Sprintf("%s%s[%s]\n", indent, mermaidID(prefix, name), name))
			}
			continue
		}
		sb.WriteString(fmt.Sprintf("%ssubgraph %s [%s]\n", indent, mermaidID(prefix, name), name))
		inner := indent + "    "
		sb.WriteString(fmt.Sprintf("%s%s((start))\n", inner, mermaidID(name, START)))
		sb.WriteString(fmt.Sprintf("%s%s((end))\n", inner, mermaidID(name, END)))
		sub.writeMermaid(sb, name, inner)
		sb.WriteString(indent + "end\n")
	}

	id := func(n string) string {
		if prefix == "" {
			return n
		}
		return mermaidID(prefix, n)
	}

	for _, from := range append([]string{START}, g.order...) {
		for _, to := range g.edges[from] {
			sb.WriteString(fmt.Sprintf("%s%s --> %s\n", indent, id(from), id(to)))
		}
		if b, ok := g.branches[from]; ok {
			for _, key := range b.keys() {
				sb.WriteString(fmt.Sprintf("%s%s -.->|%s| %s\n", indent, id(from), key, id(b.routes[key])))
			}
		}
	}
}

// DOT renders the compiled graph in Graphviz format, one cluster per subgraph.
func (c *Compiled[S]) DOT() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("digraph %q {\n", c.graph.name))
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n")
	sb.WriteString(fmt.Sprintf("  %q [shape=circle, label=\"start\"];\n", START))
	sb.WriteString(fmt.Sprintf("  %q [shape=doublecircle, label=\"end\"];\n\n", END))
	c.writeDOT(&sb, "", "  ")
	sb.WriteString("}\n")
	return sb.String()
}

func (c *Compiled[S]) writeDOT(sb *strings.Builder, prefix, indent string) {
	g := c.graph
	id := func(n string) string {
		if prefix == "" {
			return n
		}
		return prefix + "/" + n
	}

	for _, name := range g.order {
		sub, isSub := c.subs[name]
		if !isSub {
			shape := ""
			if _, fan := g.parallel[name]; fan {
				shape = ", shape=hexagon"
			}
			sb.WriteString(fmt.Sprintf("%s%q [label=%q%s];\n", indent, id(name), name, shape))
			continue
		}
		sb.WriteString(fmt.Sprintf("%ssubgraph \"cluster_%s\" {\n", indent, name))
		sb.WriteString(fmt.Sprintf("%s  label=%q;\n", indent, name))
		sb.WriteString(fmt.Sprintf("%s  style=dashed;\n", indent))
		sb.WriteString(fmt.Sprintf("%s  %q [shape=point];\n", indent, name+"/"+START))
		sb.WriteString(fmt.Sprintf("%s  %q [shape=point];\n", indent, name+"/"+END))
		sub.writeDOT(sb, name, indent+"  ")
		sb.WriteString(indent + "}\n")
	}

	// Edges into a cluster land on its entry point and leave from its exit point.
	in := func(n string) string {
		if _, ok := c.subs[n]; ok {
			return n + "/" + START
		}
		return id(n)
	}
	out := func(n string) string {
		if _, ok := c.subs[n]; ok {
			return n + "/" + END
		}
		return id(n)
	}

	for _, from := range append([]string{START}, g.order...) {
		for _, to := range g.edges[from] {
			sb.WriteString(fmt.Sprintf("%s%q -> %q;\n", indent, out(from), in(to)))
		}
		if b, ok := g.branches[from]; ok {
			for _, key := range b.keys() {
				sb.WriteString(fmt.Sprintf("%s%q -> %q [style=dashed, label=%q];\n",
					indent, out(from), in(b.routes[key]), key))
			}
		}
	}
}
