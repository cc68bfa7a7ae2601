package compiler

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/tempo/internal/ir"
)

// Loop warning levels.
const (
	LevelWarning = "warning"
	LevelInfo    = "info"
)

// LoopWarning describes a cycle in a process flow graph.
//
// A loop that passes through a wait activity yields to the driver on every
// turn and is reported at info level. A loop made only of pass-through
// activities spins the engine without ever producing a wait point and is
// reported as a warning.
type LoopWarning struct {
	Path    []string `json:"path"` // ["Review", "Decide", "Review"]
	Waits   []string `json:"waits,omitempty"`
	Message string   `json:"message"`
	Level   string   `json:"level"`
}

// AnalyzeLoops performs static cycle analysis on a process definition.
//
// The algorithm:
//  1. Build the activity graph from sequence flows plus host → boundary
//     edges for attached events
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or a self-loop
//
// Nodes are visited in declaration order so the result is deterministic.
// An acyclic process returns an empty list.
func AnalyzeLoops(def *ir.ProcessDefinition) []LoopWarning {
	g := buildFlowGraph(def)
	if len(g.order) == 0 {
		return []LoopWarning{}
	}

	warnings := []LoopWarning{}
	for _, scc := range tarjanSCC(g) {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], g)) {
			warnings = append(warnings, loopToWarning(def, scc, g))
		}
	}
	return warnings
}

// flowGraph maps activity id → successor ids, with a stable node order.
type flowGraph struct {
	order []string
	edges map[string][]string
	index map[string]int
}

func buildFlowGraph(def *ir.ProcessDefinition) flowGraph {
	g := flowGraph{
		edges: make(map[string][]string),
		index: make(map[string]int),
	}
	for i, act := range def.Activities {
		if _, seen := g.index[act.ID]; seen {
			continue
		}
		g.index[act.ID] = i
		g.order = append(g.order, act.ID)
		g.edges[act.ID] = []string{}
	}
	for _, act := range def.Activities {
		for _, f := range act.Next {
			if _, ok := g.index[f.Target]; ok {
				g.edges[act.ID] = append(g.edges[act.ID], f.Target)
			}
		}
		if act.AttachedTo != "" {
			if _, ok := g.index[act.AttachedTo]; ok {
				g.edges[act.AttachedTo] = append(g.edges[act.AttachedTo], act.ID)
			}
		}
	}
	return g
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, g flowGraph) bool {
	for _, neighbor := range g.edges[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
//
// Each SCC is returned with its members in declaration order.
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(g flowGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.edges[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// Root node: pop the stack and emit an SCC.
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sortByDeclaration(scc, g)
			sccs = append(sccs, scc)
		}
	}

	for _, node := range g.order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	// Report loops in the order their first member was declared.
	sortSCCs(sccs, g)
	return sccs
}

func sortByDeclaration(ids []string, g flowGraph) {
	slices.SortFunc(ids, func(a, b string) int { return cmp.Compare(g.index[a], g.index[b]) })
}

func sortSCCs(sccs [][]string, g flowGraph) {
	slices.SortFunc(sccs, func(a, b []string) int { return cmp.Compare(g.index[a[0]], g.index[b[0]]) })
}

// loopToWarning converts an SCC to a LoopWarning.
func loopToWarning(def *ir.ProcessDefinition, scc []string, g flowGraph) LoopWarning {
	var path []string
	if len(scc) == 1 {
		path = []string{scc[0], scc[0]}
	} else {
		path = reconstructCyclePath(scc, g)
	}

	var waits []string
	for _, id := range scc {
		if act, ok := def.Activity(id); ok && act.Kind.IsWait() {
			waits = append(waits, id)
		}
	}

	pathStr := strings.Join(path, " → ")
	if len(waits) == 0 {
		return LoopWarning{
			Path:    path,
			Message: fmt.Sprintf("loop without wait activity never yields: %s", pathStr),
			Level:   LevelWarning,
		}
	}
	return LoopWarning{
		Path:    path,
		Waits:   waits,
		Message: fmt.Sprintf("loop re-enters %s: %s", strings.Join(waits, ", "), pathStr),
		Level:   LevelInfo,
	}
}

// reconstructCyclePath builds a cycle path from an SCC.
//
// Start at the first node, follow edges to unvisited SCC members, and stop
// on returning to the start.
func reconstructCyclePath(scc []string, g flowGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	sccSet := make(map[string]bool)
	for _, node := range scc {
		sccSet[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range g.edges[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}

		if next == "" {
			break
		}

		path = append(path, next)

		if next == start {
			break
		}

		current = next
	}

	return path
}
