package catalog

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// DependencyGraph derives object dependencies from catalog data, per
// spec.md §4.4 / §2. A dependency edge is inferred from DDL text
// referencing another object's qualified name — a lightweight, best-effort
// analysis (full SQL parsing is explicitly out of scope per spec.md §1).
type DependencyGraph struct {
	edges map[string]map[string]bool // from -> set of to
}

// BuildDependencyGraph scans each object's DDL for references to every
// other object's qualified name (DATABASE.SCHEMA.NAME).
func BuildDependencyGraph(objects []Object) *DependencyGraph {
	g := &DependencyGraph{edges: make(map[string]map[string]bool)}

	qualified := make([]string, len(objects))
	for i, o := range objects {
		qualified[i] = qualifiedName(o)
	}

	for i, o := range objects {
		from := qualified[i]
		ddlUpper := strings.ToUpper(o.DDL)
		for j, candidate := range qualified {
			if i == j {
				continue
			}
			if strings.Contains(ddlUpper, strings.ToUpper(candidate)) {
				if g.edges[from] == nil {
					g.edges[from] = make(map[string]bool)
				}
				g.edges[from][candidate] = true
			}
		}
	}
	return g
}

func qualifiedName(o Object) string {
	return fmt.Sprintf("%s.%s.%s", o.Database, o.Schema, o.Name)
}

// JSON emits the graph as {"object": ["dep1", "dep2", ...], ...}.
func (g *DependencyGraph) JSON() ([]byte, error) {
	out := make(map[string][]string, len(g.edges))
	for from, tos := range g.edges {
		out[from] = sortedKeys(tos)
	}
	return json.MarshalIndent(out, "", "  ")
}

// DOT emits the graph in Graphviz DOT format.
func (g *DependencyGraph) DOT() string {
	var b strings.Builder
	b.WriteString("digraph dependencies {\n")
	froms := make([]string, 0, len(g.edges))
	for from := range g.edges {
		froms = append(froms, from)
	}
	sort.Strings(froms)
	for _, from := range froms {
		for _, to := range sortedKeys(g.edges[from]) {
			fmt.Fprintf(&b, "  %q -> %q;\n", from, to)
		}
	}
	b.WriteString("}\n")
	return b.String()
}
