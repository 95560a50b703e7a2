package graph

import (
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/nenadatanasovski/memory-cube/internal/index"
	"github.com/nenadatanasovski/memory-cube/internal/node"
	"github.com/nenadatanasovski/memory-cube/internal/types"
)

// QueryOptions selects, orders and pages nodes
type QueryOptions struct {
	Filter         index.Filter
	Sort           *index.Sort
	Limit          int
	Offset         int
	IncludeContent bool
}

// Stats summarizes the graph
type Stats struct {
	Total    int                 `json:"total"`
	ByType   map[node.Type]int   `json:"byType"`
	ByStatus map[node.Status]int `json:"byStatus"`
}

// titleCollator orders titles case-insensitively for the in-memory path
var titleCollator = collate.New(language.Und, collate.IgnoreCase)

// Query returns matching nodes. With the index enabled the id set comes
// from the query planner and nodes load from their files; otherwise the
// filter runs in memory over a full scan. IncludeContent=false strips
// the body from results.
func (g *Graph) Query(opts QueryOptions) ([]*node.Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var nodes []*node.Node
	if g.idx != nil {
		ids, err := g.idx.Query(opts.Filter, opts.Sort, opts.Limit, opts.Offset)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			n, err := g.ws.LoadNode(id)
			if err != nil {
				// Index ahead of files; skip and let a rebuild reconcile
				continue
			}
			nodes = append(nodes, n)
		}
	} else {
		all, _, err := g.ws.ListAll()
		if err != nil {
			return nil, err
		}
		nodes = filterInMemory(all, opts.Filter)
		if err := sortInMemory(nodes, opts.Sort); err != nil {
			return nil, err
		}
		nodes = paginate(nodes, opts.Limit, opts.Offset)
	}

	if !opts.IncludeContent {
		for i, n := range nodes {
			stripped := node.Clone(n)
			stripped.Content = ""
			nodes[i] = stripped
		}
	}
	return nodes, nil
}

// Stats returns totals by type and status
func (g *Graph) Stats() (*Stats, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.idx != nil {
		byType, byStatus, err := g.idx.Stats()
		if err != nil {
			return nil, err
		}
		total := 0
		for _, c := range byType {
			total += c
		}
		return &Stats{Total: total, ByType: byType, ByStatus: byStatus}, nil
	}

	all, _, err := g.ws.ListAll()
	if err != nil {
		return nil, err
	}
	stats := &Stats{
		Total:    len(all),
		ByType:   make(map[node.Type]int),
		ByStatus: make(map[node.Status]int),
	}
	for _, n := range all {
		stats.ByType[n.Type]++
		stats.ByStatus[n.Status]++
	}
	return stats, nil
}

func filterInMemory(all []*node.Node, f index.Filter) []*node.Node {
	var out []*node.Node
	for _, n := range all {
		if !matches(n, f) {
			continue
		}
		out = append(out, n)
	}
	return out
}

func matches(n *node.Node, f index.Filter) bool {
	if len(f.Types) > 0 && !containsEnum(f.Types, n.Type) {
		return false
	}
	if len(f.Statuses) > 0 && !containsEnum(f.Statuses, n.Status) {
		return false
	}
	if len(f.Validities) > 0 && !containsEnum(f.Validities, n.Validity) {
		return false
	}
	if len(f.Priorities) > 0 && !containsEnum(f.Priorities, n.Priority) {
		return false
	}
	if f.AssignedTo != nil && n.AssignedTo != *f.AssignedTo {
		return false
	}
	for _, tag := range f.Tags {
		if !containsString(n.Tags, tag) {
			return false
		}
	}
	if len(f.TagsAny) > 0 {
		any := false
		for _, tag := range f.TagsAny {
			if containsString(n.Tags, tag) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	if f.HasEdge != nil {
		// Without the index only the outgoing side is known
		if f.HasEdge.Direction == "in" {
			return false
		}
		found := false
		for _, e := range n.Edges {
			if e.Type == f.HasEdge.Type && (f.HasEdge.Target == "" || e.To == f.HasEdge.Target) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	iso := func(t interface{ Format(string) string }) string { return t.Format("2006-01-02T15:04:05.000Z") }
	if f.CreatedAfter != "" && iso(n.CreatedAt.UTC()) < f.CreatedAfter {
		return false
	}
	if f.CreatedBefore != "" && iso(n.CreatedAt.UTC()) > f.CreatedBefore {
		return false
	}
	if f.ModifiedAfter != "" && iso(n.ModifiedAt.UTC()) < f.ModifiedAfter {
		return false
	}
	if f.ModifiedBefore != "" && iso(n.ModifiedAt.UTC()) > f.ModifiedBefore {
		return false
	}
	if f.DueBefore != "" && (n.DueAt == nil || iso(n.DueAt.UTC()) > f.DueBefore) {
		return false
	}
	if f.DueAfter != "" && (n.DueAt == nil || iso(n.DueAt.UTC()) < f.DueAfter) {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(n.Title), needle) &&
			!strings.Contains(strings.ToLower(n.ContentPreview), needle) {
			return false
		}
	}
	return true
}

func sortInMemory(nodes []*node.Node, s *index.Sort) error {
	if s == nil {
		return nil
	}
	var less func(a, b *node.Node) bool
	switch s.Field {
	case "title":
		less = func(a, b *node.Node) bool {
			return titleCollator.CompareString(a.Title, b.Title) < 0
		}
	case "priority":
		less = func(a, b *node.Node) bool { return a.Priority.Rank() < b.Priority.Rank() }
	case "created_at":
		less = func(a, b *node.Node) bool { return a.CreatedAt.Before(b.CreatedAt) }
	case "modified_at":
		less = func(a, b *node.Node) bool { return a.ModifiedAt.Before(b.ModifiedAt) }
	case "version":
		less = func(a, b *node.Node) bool { return a.Version < b.Version }
	case "confidence":
		less = func(a, b *node.Node) bool { return a.Confidence < b.Confidence }
	default:
		return types.E(types.KindInvalidInput, "graph.query", "bad sort field %q", s.Field)
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		if s.Desc {
			return less(nodes[j], nodes[i])
		}
		return less(nodes[i], nodes[j])
	})
	return nil
}

func paginate(nodes []*node.Node, limit, offset int) []*node.Node {
	if offset >= len(nodes) {
		return nil
	}
	nodes = nodes[offset:]
	if limit > 0 && limit < len(nodes) {
		nodes = nodes[:limit]
	}
	return nodes
}

func containsEnum[T comparable](values []T, v T) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func containsString(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
