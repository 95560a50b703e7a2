package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nenadatanasovski/memory-cube/internal/node"
	"github.com/nenadatanasovski/memory-cube/internal/types"
)

// seed builds a small graph:
//
//	t1 task critical  tags[api,auth]   assigned coder
//	t2 task high      tags[api]        blocks t1
//	d1 doc  normal    tags[docs]       documents t2
//	c1 code low       tags[]           unassigned
func seed(t *testing.T, idx *Index) (t1, t2, d1, c1 *node.Node) {
	t.Helper()
	t1 = mkNode(t, node.TypeTask, "Implement authentication", func(in *node.CreateInput) {
		in.Priority = node.PriorityCritical
		in.Tags = []string{"api", "auth"}
		in.AssignedTo = "coder"
	})
	t2 = mkNode(t, node.TypeTask, "Session layer", func(in *node.CreateInput) {
		in.Priority = node.PriorityHigh
		in.Tags = []string{"api"}
	})
	d1 = mkNode(t, node.TypeDoc, "Auth handbook", func(in *node.CreateInput) {
		in.Tags = []string{"docs"}
	})
	c1 = mkNode(t, node.TypeCode, "login.go", func(in *node.CreateInput) {
		in.Priority = node.PriorityLow
	})

	var err error
	t2, err = node.AddEdge(t2, node.EdgeInput{Type: node.EdgeBlocks, To: t1.ID})
	require.NoError(t, err)
	d1, err = node.AddEdge(d1, node.EdgeInput{Type: node.EdgeDocuments, To: t2.ID})
	require.NoError(t, err)

	for _, n := range []*node.Node{t1, t2, d1, c1} {
		require.NoError(t, idx.IndexNode(n))
	}
	return t1, t2, d1, c1
}

func TestQuery_ByType(t *testing.T) {
	idx := openIndex(t)
	t1, t2, _, _ := seed(t, idx)

	ids, err := idx.Query(Filter{Types: []node.Type{node.TypeTask}}, nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{t1.ID, t2.ID}, ids) // insertion order
}

func TestQuery_TagsAll(t *testing.T) {
	idx := openIndex(t)
	t1, _, _, _ := seed(t, idx)

	ids, err := idx.Query(Filter{Tags: []string{"api", "auth"}}, nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{t1.ID}, ids)
}

func TestQuery_TagsAny(t *testing.T) {
	idx := openIndex(t)
	t1, t2, d1, _ := seed(t, idx)

	ids, err := idx.Query(Filter{TagsAny: []string{"auth", "docs"}}, nil, 0, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{t1.ID, d1.ID}, ids)

	// Distinct even when multiple any-tags hit the same node
	ids, err = idx.Query(Filter{TagsAny: []string{"api", "auth"}}, nil, 0, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{t1.ID, t2.ID}, ids)
}

func TestQuery_HasEdge(t *testing.T) {
	idx := openIndex(t)
	t1, t2, d1, _ := seed(t, idx)

	out, err := idx.Query(Filter{HasEdge: &EdgeFilter{Type: node.EdgeBlocks, Direction: "out"}}, nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{t2.ID}, out)

	in, err := idx.Query(Filter{HasEdge: &EdgeFilter{Type: node.EdgeBlocks, Direction: "in"}}, nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{t1.ID}, in)

	both, err := idx.Query(Filter{HasEdge: &EdgeFilter{Type: node.EdgeDocuments, Direction: "both"}}, nil, 0, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{t2.ID, d1.ID}, both)
}

func TestQuery_AssignedTo(t *testing.T) {
	idx := openIndex(t)
	t1, t2, d1, c1 := seed(t, idx)

	coder := "coder"
	ids, err := idx.Query(Filter{AssignedTo: &coder}, nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{t1.ID}, ids)

	unassigned := ""
	ids, err = idx.Query(Filter{AssignedTo: &unassigned}, nil, 0, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{t2.ID, d1.ID, c1.ID}, ids)
}

func TestQuery_SortPriority(t *testing.T) {
	idx := openIndex(t)
	t1, t2, d1, c1 := seed(t, idx)

	ids, err := idx.Query(Filter{}, &Sort{Field: "priority"}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{t1.ID, t2.ID, d1.ID, c1.ID}, ids)

	ids, err = idx.Query(Filter{}, &Sort{Field: "priority", Desc: true}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{c1.ID, d1.ID, t2.ID, t1.ID}, ids)
}

func TestQuery_SortTitle(t *testing.T) {
	idx := openIndex(t)
	t1, t2, d1, c1 := seed(t, idx)

	ids, err := idx.Query(Filter{}, &Sort{Field: "title"}, 0, 0)
	require.NoError(t, err)
	// "Auth handbook" < "Implement authentication" < "login.go" < "Session layer" (case-insensitive)
	assert.Equal(t, []string{d1.ID, t1.ID, c1.ID, t2.ID}, ids)
}

func TestQuery_Pagination(t *testing.T) {
	idx := openIndex(t)
	t1, t2, d1, c1 := seed(t, idx)

	page1, err := idx.Query(Filter{}, nil, 2, 0)
	require.NoError(t, err)
	page2, err := idx.Query(Filter{}, nil, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{t1.ID, t2.ID}, page1)
	assert.Equal(t, []string{d1.ID, c1.ID}, page2)
}

func TestQuery_Search(t *testing.T) {
	idx := openIndex(t)
	t1, _, _, _ := seed(t, idx)

	ids, err := idx.Query(Filter{Search: "AUTHENT"}, nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{t1.ID}, ids)

	ids, err = idx.Query(Filter{Search: "no such phrase"}, nil, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestQuery_CombinedFilters(t *testing.T) {
	idx := openIndex(t)
	t1, _, _, _ := seed(t, idx)

	ids, err := idx.Query(Filter{
		Types:      []node.Type{node.TypeTask},
		Priorities: []node.Priority{node.PriorityCritical, node.PriorityHigh},
		Tags:       []string{"auth"},
	}, nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{t1.ID}, ids)
}

func TestQuery_BadSortField(t *testing.T) {
	idx := openIndex(t)
	_, err := idx.Query(Filter{}, &Sort{Field: "sneaky; DROP TABLE nodes"}, 0, 0)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindInvalidInput))
}

func TestQuery_BadDirection(t *testing.T) {
	idx := openIndex(t)
	_, err := idx.Query(Filter{HasEdge: &EdgeFilter{Type: node.EdgeBlocks, Direction: "sideways"}}, nil, 0, 0)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindInvalidInput))
}
