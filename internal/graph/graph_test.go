package graph

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nenadatanasovski/memory-cube/internal/events"
	"github.com/nenadatanasovski/memory-cube/internal/index"
	"github.com/nenadatanasovski/memory-cube/internal/node"
	"github.com/nenadatanasovski/memory-cube/internal/types"
	"github.com/nenadatanasovski/memory-cube/internal/workspace"
)

func openGraph(t *testing.T) (*Graph, *events.Bus) {
	t.Helper()
	bus := events.NewBus(nil)
	g := New(Options{Root: t.TempDir(), EnableIndex: true, Bus: bus})
	require.NoError(t, g.Init())
	t.Cleanup(func() { g.Close() })
	return g, bus
}

func collect(bus *events.Bus, typ events.EventType) *[]events.Event {
	var got []events.Event
	bus.Subscribe(string(typ), func(e events.Event) error {
		got = append(got, e)
		return nil
	})
	return &got
}

func TestCreate_EmitsAndIndexes(t *testing.T) {
	g, bus := openGraph(t)
	created := collect(bus, events.NodeCreated)

	n, err := g.Create(node.CreateInput{Type: node.TypeTask, Title: "Ship release", Tags: []string{"ops"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n.Version)
	assert.NotEmpty(t, n.FilePath)
	require.Len(t, *created, 1)
	assert.Equal(t, n.ID, (*created)[0].Payload["nodeId"])

	ids, err := g.Index().Query(index.Filter{Tags: []string{"ops"}}, nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{n.ID}, ids)
}

func TestCreate_WithInlineEdges(t *testing.T) {
	g, _ := openGraph(t)
	target, err := g.Create(node.CreateInput{Type: node.TypeDoc, Title: "target"}, nil)
	require.NoError(t, err)

	n, err := g.Create(node.CreateInput{Type: node.TypeTask, Title: "source"},
		[]node.EdgeInput{{Type: node.EdgeDocuments, To: target.ID}})
	require.NoError(t, err)
	assert.Equal(t, 1, n.Version, "inline edges are part of creation")
	require.Len(t, n.Edges, 1)
}

func TestGet_NotFound(t *testing.T) {
	g, _ := openGraph(t)
	_, err := g.Get("task/absent-ffffff")
	assert.True(t, types.IsKind(err, types.KindNotFound))
}

func TestUpdate_EmitsDeltasAndStatusChange(t *testing.T) {
	g, bus := openGraph(t)
	updated := collect(bus, events.NodeUpdated)
	statusChanged := collect(bus, events.NodeStatusChanged)

	n, err := g.Create(node.CreateInput{Type: node.TypeTask, Title: "work"}, nil)
	require.NoError(t, err)

	status := node.StatusActive
	after, err := g.Update(n.ID, node.UpdateInput{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, 2, after.Version)

	require.Len(t, *updated, 1)
	changes := (*updated)[0].Payload["changes"].(map[string]interface{})
	delta := changes["status"].(map[string]interface{})
	assert.Equal(t, "pending", delta["from"])
	assert.Equal(t, "active", delta["to"])

	require.Len(t, *statusChanged, 1)
	assert.Equal(t, "active", (*statusChanged)[0].Payload["to"])
}

func TestLifecycle_NoArtifactsAfterDelete(t *testing.T) {
	g, bus := openGraph(t)
	deleted := collect(bus, events.NodeDeleted)

	n, err := g.Create(node.CreateInput{Type: node.TypeTask, Title: "ephemeral", Content: "v1"}, nil)
	require.NoError(t, err)

	c2 := "v2"
	_, err = g.Update(n.ID, node.UpdateInput{Content: &c2})
	require.NoError(t, err)
	c3 := "v3"
	_, err = g.Update(n.ID, node.UpdateInput{Content: &c3})
	require.NoError(t, err)

	require.NoError(t, g.Delete(n.ID))

	// No file remains
	rel, err := workspace.NodePath(n.ID)
	require.NoError(t, err)
	_, statErr := os.Stat(filepath.Join(g.Workspace().Root(), rel))
	assert.True(t, os.IsNotExist(statErr))

	// No index row remains
	has, err := g.Index().Has(n.ID)
	require.NoError(t, err)
	assert.False(t, has)

	require.Len(t, *deleted, 1)
	snapshot := (*deleted)[0].Payload["node"].(map[string]interface{})
	assert.Equal(t, n.ID, snapshot["id"])
}

func TestLink_Unlink_NoOpOnIndex(t *testing.T) {
	g, _ := openGraph(t)
	a, err := g.Create(node.CreateInput{Type: node.TypeTask, Title: "a"}, nil)
	require.NoError(t, err)
	b, err := g.Create(node.CreateInput{Type: node.TypeTask, Title: "b"}, nil)
	require.NoError(t, err)

	linked, err := g.Link(a.ID, node.EdgeDependsOn, b.ID, nil)
	require.NoError(t, err)
	require.Len(t, linked.Edges, 1)

	// Second identical link is a conflict
	_, err = g.Link(a.ID, node.EdgeDependsOn, b.ID, nil)
	assert.True(t, types.IsKind(err, types.KindConflict))

	unlinked, err := g.Unlink(a.ID, node.EdgeDependsOn, b.ID)
	require.NoError(t, err)
	assert.Empty(t, unlinked.Edges)

	edges, err := g.Index().EdgesFrom(a.ID)
	require.NoError(t, err)
	assert.Empty(t, edges, "link+unlink is a no-op on the index")

	_, err = g.Unlink(a.ID, node.EdgeDependsOn, b.ID)
	assert.True(t, types.IsKind(err, types.KindNotFound))
}

func TestLink_TargetMustExist(t *testing.T) {
	g, _ := openGraph(t)
	a, err := g.Create(node.CreateInput{Type: node.TypeTask, Title: "a"}, nil)
	require.NoError(t, err)

	_, err = g.Link(a.ID, node.EdgeBlocks, "task/ghost-ffffff", nil)
	assert.True(t, types.IsKind(err, types.KindNotFound))
}

func TestEdgeCoherence_DeletedTarget(t *testing.T) {
	// Deleting the target leaves the source's edge row; traversal
	// filters the orphan
	g, _ := openGraph(t)
	a, err := g.Create(node.CreateInput{Type: node.TypeTask, Title: "a"}, nil)
	require.NoError(t, err)
	b, err := g.Create(node.CreateInput{Type: node.TypeTask, Title: "b"}, nil)
	require.NoError(t, err)
	_, err = g.Link(a.ID, node.EdgeDependsOn, b.ID, nil)
	require.NoError(t, err)

	require.NoError(t, g.Delete(b.ID))

	nodes, err := g.Query(QueryOptions{Filter: index.Filter{
		HasEdge: &index.EdgeFilter{Type: node.EdgeDependsOn, Direction: "out"},
	}})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, a.ID, nodes[0].ID)

	walk, err := g.Traverse(TraverseOptions{
		StartNode:    a.ID,
		Direction:    "out",
		EdgeTypes:    []node.EdgeType{node.EdgeDependsOn},
		IncludeStart: true,
	})
	require.NoError(t, err)
	require.Len(t, walk, 1)
	assert.Equal(t, a.ID, walk[0].Node.ID)
}

func TestQuery_StripsContentByDefault(t *testing.T) {
	g, _ := openGraph(t)
	_, err := g.Create(node.CreateInput{Type: node.TypeDoc, Title: "doc", Content: "secret body"}, nil)
	require.NoError(t, err)

	nodes, err := g.Query(QueryOptions{})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Empty(t, nodes[0].Content)

	nodes, err = g.Query(QueryOptions{IncludeContent: true})
	require.NoError(t, err)
	assert.Equal(t, "secret body", nodes[0].Content)
}

func TestStats(t *testing.T) {
	g, _ := openGraph(t)
	for _, in := range []node.CreateInput{
		{Type: node.TypeTask, Title: "one"},
		{Type: node.TypeTask, Title: "two"},
		{Type: node.TypeDoc, Title: "three"},
	} {
		_, err := g.Create(in, nil)
		require.NoError(t, err)
	}

	stats, err := g.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByType[node.TypeTask])
	assert.Equal(t, 3, stats.ByStatus[node.StatusPending])
}

func TestRebuildIndex_MatchesIncremental(t *testing.T) {
	g, _ := openGraph(t)
	a, err := g.Create(node.CreateInput{Type: node.TypeTask, Title: "a", Tags: []string{"x"}}, nil)
	require.NoError(t, err)
	b, err := g.Create(node.CreateInput{Type: node.TypeDoc, Title: "b"}, nil)
	require.NoError(t, err)
	_, err = g.Link(a.ID, node.EdgeDocuments, b.ID, nil)
	require.NoError(t, err)

	before, err := g.Index().Query(index.Filter{}, nil, 0, 0)
	require.NoError(t, err)

	count, errs := g.RebuildIndex(context.Background())
	assert.Empty(t, errs)
	assert.Equal(t, 2, count)

	after, err := g.Index().Query(index.Filter{}, nil, 0, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, before, after)

	edges, err := g.Index().EdgesFrom(a.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, b.ID, edges[0].To)
}

func TestInit_RebuildsEmptyIndexFromFiles(t *testing.T) {
	root := t.TempDir()
	bus := events.NewBus(nil)
	g := New(Options{Root: root, EnableIndex: true, Bus: bus})
	require.NoError(t, g.Init())
	n, err := g.Create(node.CreateInput{Type: node.TypeTask, Title: "persisted"}, nil)
	require.NoError(t, err)
	require.NoError(t, g.Close())

	// Drop the index file entirely; files remain
	require.NoError(t, os.Remove(filepath.Join(root, workspace.IndexFile)))

	g2 := New(Options{Root: root, EnableIndex: true, Bus: events.NewBus(nil)})
	require.NoError(t, g2.Init())
	defer g2.Close()

	has, err := g2.Index().Has(n.ID)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestValidate_ReportsDuplicatesAndDangling(t *testing.T) {
	g, _ := openGraph(t)
	a, err := g.Create(node.CreateInput{Type: node.TypeTask, Title: "a"}, nil)
	require.NoError(t, err)

	// Hand-edit the file: duplicate edge to a missing target
	loaded, err := g.Get(a.ID)
	require.NoError(t, err)
	loaded, err = node.AddEdge(loaded, node.EdgeInput{Type: node.EdgeBlocks, To: "task/ghost-ffffff"})
	require.NoError(t, err)
	loaded, err = node.AddEdge(loaded, node.EdgeInput{Type: node.EdgeBlocks, To: "task/ghost-ffffff"})
	require.NoError(t, err)
	_, err = g.Workspace().SaveNode(loaded)
	require.NoError(t, err)

	report, err := g.Validate()
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)

	var problems []string
	for _, issue := range report.Issues {
		problems = append(problems, issue.Problem)
	}
	assert.Contains(t, problems, "duplicate-edge")
	assert.Contains(t, problems, "dangling-edge")
}

func TestNoIndex_InMemoryQuery(t *testing.T) {
	g := New(Options{Root: t.TempDir(), EnableIndex: false, Bus: events.NewBus(nil)})
	require.NoError(t, g.Init())
	defer g.Close()

	_, err := g.Create(node.CreateInput{Type: node.TypeTask, Title: "Beta", Priority: node.PriorityLow}, nil)
	require.NoError(t, err)
	_, err = g.Create(node.CreateInput{Type: node.TypeTask, Title: "alpha", Priority: node.PriorityCritical}, nil)
	require.NoError(t, err)

	nodes, err := g.Query(QueryOptions{Sort: &index.Sort{Field: "title"}})
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "alpha", nodes[0].Title, "title sort collates case-insensitively")

	nodes, err = g.Query(QueryOptions{Sort: &index.Sort{Field: "priority"}})
	require.NoError(t, err)
	assert.Equal(t, node.PriorityCritical, nodes[0].Priority)
}
