package graph

import (
	"github.com/nenadatanasovski/memory-cube/internal/node"
	"github.com/nenadatanasovski/memory-cube/internal/types"
)

// DefaultMaxDepth caps traversal when the caller does not
const DefaultMaxDepth = 10

// TraverseOptions selects the walk
type TraverseOptions struct {
	StartNode    string
	Direction    string // "out", "in" or "both"
	EdgeTypes    []node.EdgeType
	MaxDepth     int
	IncludeStart bool
}

// TraversalNode is one node reached by a traversal, with the depth it
// was reached at, the id path from the start, and the edge used to
// reach it (nil for the start node)
type TraversalNode struct {
	Node  *node.Node `json:"node"`
	Depth int        `json:"depth"`
	Path  []string   `json:"path"`
	Edge  *node.Edge `json:"edge,omitempty"`
}

// Traverse walks the graph breadth-first from the start node. Each node
// is visited at most once; ties within a depth level break by insertion
// order of the edges. Orphan edge targets (deleted nodes) are skipped.
// The "in" and "both" directions consult the index for predecessors.
func (g *Graph) Traverse(opts TraverseOptions) ([]TraversalNode, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	direction := opts.Direction
	if direction == "" {
		direction = "out"
	}
	if direction != "out" && direction != "in" && direction != "both" {
		return nil, types.E(types.KindInvalidInput, "graph.traverse", "bad direction %q", direction)
	}
	if direction != "out" && g.idx == nil {
		return nil, types.E(types.KindInvalidInput, "graph.traverse",
			"direction %q needs the index for predecessor lookup", direction)
	}
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	start, err := g.ws.LoadNode(opts.StartNode)
	if err != nil {
		return nil, err
	}

	typeAllowed := func(t node.EdgeType) bool {
		if len(opts.EdgeTypes) == 0 {
			return true
		}
		for _, allowed := range opts.EdgeTypes {
			if allowed == t {
				return true
			}
		}
		return false
	}

	type queueItem struct {
		n     *node.Node
		depth int
		path  []string
		edge  *node.Edge
	}

	visited := map[string]bool{start.ID: true}
	queue := []queueItem{{n: start, depth: 0, path: []string{start.ID}}}
	var result []TraversalNode

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		if item.depth > 0 || opts.IncludeStart {
			result = append(result, TraversalNode{
				Node:  item.n,
				Depth: item.depth,
				Path:  item.path,
				Edge:  item.edge,
			})
		}
		if item.depth >= maxDepth {
			continue
		}

		var outgoing []node.Edge
		if direction == "out" || direction == "both" {
			outgoing = append(outgoing, item.n.Edges...)
		}
		var incoming []node.Edge
		if direction == "in" || direction == "both" {
			in, err := g.idx.EdgesTo(item.n.ID)
			if err != nil {
				return nil, err
			}
			incoming = in
		}

		step := func(e node.Edge, nextID string) error {
			if !typeAllowed(e.Type) || visited[nextID] {
				return nil
			}
			next, err := g.ws.LoadNode(nextID)
			if err != nil {
				if types.IsKind(err, types.KindNotFound) {
					return nil // orphan reference, filtered out
				}
				return err
			}
			visited[nextID] = true
			path := append(append([]string{}, item.path...), nextID)
			edge := e
			queue = append(queue, queueItem{n: next, depth: item.depth + 1, path: path, edge: &edge})
			return nil
		}

		for _, e := range outgoing {
			if err := step(e, e.To); err != nil {
				return nil, err
			}
		}
		for _, e := range incoming {
			if err := step(e, e.From); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}
