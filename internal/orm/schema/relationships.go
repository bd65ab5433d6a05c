package schema

import (
	"fmt"
	"strings"
)

// CloneGraph is the graph of resources connected by cloneable relations that
// recurse (every kind except has_many_through, whose far side is re-attached
// rather than cloned)
type CloneGraph struct {
	nodes map[string]*ResourceSchema
	edges map[string][]cloneEdge // resource -> relations cloned along with it
}

type cloneEdge struct {
	target string
	owning bool // belongs_to: walks from a record up to its owner
}

// NewCloneGraph creates a new clone graph
func NewCloneGraph(schemas map[string]*ResourceSchema) *CloneGraph {
	graph := &CloneGraph{
		nodes: schemas,
		edges: make(map[string][]cloneEdge),
	}

	for _, name := range sortedKeys(schemas) {
		schema := schemas[name]
		for _, relName := range schema.Clone.Relations {
			rel, ok := schema.Relationships[relName]
			if !ok || rel.Type == RelationshipHasManyThrough {
				continue
			}
			graph.edges[name] = append(graph.edges[name], cloneEdge{
				target: rel.TargetResource,
				owning: rel.Type == RelationshipBelongsTo,
			})
		}
	}

	return graph
}

// DetectCycles returns the cycles along which a duplication never ends.
//
// Cycles made only of has_many and has_one edges follow foreign keys down a
// finite tree of rows (child pages, nested folders) and are allowed, as are
// cycles made only of belongs_to edges, which climb to a root. A cycle that
// climbs through a belongs_to edge and comes back down through a direct edge
// reaches the record it started from again, so it loops forever. Each
// reported cycle starts at the resource owning the belongs_to edge.
func (g *CloneGraph) DetectCycles() [][]string {
	var cycles [][]string
	for _, component := range g.components() {
		if len(component) == 1 && !g.hasEdge(component[0], component[0]) {
			continue
		}
		members := make(map[string]bool, len(component))
		for _, name := range component {
			members[name] = true
		}

		var owning *[2]string
		direct := false
		for _, from := range component {
			for _, e := range g.edges[from] {
				if !members[e.target] {
					continue
				}
				if e.owning {
					if owning == nil {
						owning = &[2]string{from, e.target}
					}
				} else {
					direct = true
				}
			}
		}
		if owning == nil || !direct {
			continue
		}

		// Close the cycle with a path back from the owner inside the component
		back := g.path(owning[1], owning[0], members)
		cycles = append(cycles, append([]string{owning[0]}, back[:len(back)-1]...))
	}
	return cycles
}

// components returns the strongly connected components of the graph in a
// deterministic order (Tarjan)
func (g *CloneGraph) components() [][]string {
	index := 0
	indices := make(map[string]int)
	lowlink := make(map[string]int)
	onStack := make(map[string]bool)
	var stack []string
	var out [][]string

	var visit func(node string)
	visit = func(node string) {
		indices[node] = index
		lowlink[node] = index
		index++
		stack = append(stack, node)
		onStack[node] = true

		for _, e := range g.edges[node] {
			if _, seen := indices[e.target]; !seen {
				visit(e.target)
				lowlink[node] = min(lowlink[node], lowlink[e.target])
			} else if onStack[e.target] {
				lowlink[node] = min(lowlink[node], indices[e.target])
			}
		}

		if lowlink[node] != indices[node] {
			return
		}
		var component []string
		for {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[top] = false
			component = append(component, top)
			if top == node {
				break
			}
		}
		out = append(out, component)
	}

	for _, node := range sortedKeys(g.nodes) {
		if _, seen := indices[node]; !seen {
			visit(node)
		}
	}
	return out
}

// path returns the shortest edge path from -> to within members, both ends
// included (breadth first)
func (g *CloneGraph) path(from, to string, members map[string]bool) []string {
	prev := map[string]string{from: ""}
	queue := []string{from}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if node == to {
			break
		}
		for _, e := range g.edges[node] {
			if _, seen := prev[e.target]; seen || !members[e.target] {
				continue
			}
			prev[e.target] = node
			queue = append(queue, e.target)
		}
	}

	var out []string
	for node := to; node != ""; node = prev[node] {
		out = append([]string{node}, out...)
		if node == from {
			break
		}
	}
	return out
}

func (g *CloneGraph) hasEdge(from, to string) bool {
	for _, e := range g.edges[from] {
		if e.target == to {
			return true
		}
	}
	return false
}

// Dependents returns the resources cloned along with the given resource
func (g *CloneGraph) Dependents(resource string) []string {
	deps := []string{}
	for _, e := range g.edges[resource] {
		deps = append(deps, e.target)
	}
	return deps
}

// Validate rejects clone declarations that would recurse without end
func (g *CloneGraph) Validate() error {
	cycles := g.DetectCycles()
	if len(cycles) > 0 {
		return fmt.Errorf("%w: cloneable relations form a cycle:\n%s",
			ErrInvalidSchema, formatCycles(cycles))
	}
	return nil
}

// formatCycles formats cycle information for error messages
func formatCycles(cycles [][]string) string {
	var b strings.Builder
	for i, cycle := range cycles {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(fmt.Sprintf("  Cycle %d: %s -> %s",
			i+1,
			strings.Join(cycle, " -> "),
			cycle[0]))
	}
	return b.String()
}
