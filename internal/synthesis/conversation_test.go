package synthesis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nenadatanasovski/memory-cube/internal/node"
)

func TestConversation_SplitsByRole(t *testing.T) {
	x := NewConversationExtractor()
	text := "user: how do we cache sessions?\nassistant: we decided to use redis for that.\nuser: ok, we need to add login to the api"

	result := x.Extract(text, "chat.txt")

	require.Len(t, result.Intents, 3)
	assert.Equal(t, "user", result.Intents[0].Role)
	assert.Equal(t, "question", result.Intents[0].Intent)
	assert.Equal(t, "assistant", result.Intents[1].Role)
	assert.Equal(t, "directive", result.Intents[2].Intent)
}

func TestConversation_UnstructuredIsSingleUserMessage(t *testing.T) {
	x := NewConversationExtractor()
	result := x.Extract("just some notes without structure", "notes.txt")

	require.Len(t, result.Intents, 1)
	assert.Equal(t, "user", result.Intents[0].Role)
}

func TestConversation_TaskPattern(t *testing.T) {
	x := NewConversationExtractor()
	result := x.Extract("we need to add login to the api", "")

	require.NotEmpty(t, result.Nodes)
	task := result.Nodes[0]
	assert.Equal(t, node.TypeTask, task.Type)
	assert.Equal(t, "Add login to the api", task.Title)
	assert.Contains(t, task.Tags, "api")
	assert.Contains(t, task.Tags, "login")
	assert.Equal(t, node.PriorityNormal, task.Priority)
	assert.InDelta(t, 0.7, task.Confidence, 0.01)
}

func TestConversation_DecisionPattern(t *testing.T) {
	x := NewConversationExtractor()
	result := x.Extract("after discussion we decided to use postgres for storage", "")

	require.NotEmpty(t, result.Nodes)
	assert.Equal(t, node.TypeDecision, result.Nodes[0].Type)
	assert.Contains(t, result.Nodes[0].Title, "Use postgres")
}

func TestConversation_IdeaAndQuestion(t *testing.T) {
	x := NewConversationExtractor()
	result := x.Extract("what if we sharded the cache? how does the queue survive restarts?", "")

	typs := map[node.Type]int{}
	for _, n := range result.Nodes {
		typs[n.Type]++
	}
	assert.GreaterOrEqual(t, typs[node.TypeIdeation], 1)
	assert.GreaterOrEqual(t, typs[node.TypeResearch], 1)
}

func TestConversation_PriorityMarkers(t *testing.T) {
	x := NewConversationExtractor()
	result := x.Extract("we need to fix the critical auth bypass", "")

	require.NotEmpty(t, result.Nodes)
	assert.Equal(t, node.PriorityCritical, result.Nodes[0].Priority)
	assert.Contains(t, result.Nodes[0].Tags, "critical")
}

func TestConversation_NoOverlapAfterDedup(t *testing.T) {
	// No two extracted entities may overlap in byte range
	x := NewConversationExtractor()
	text := "we need to fix the login page and we must fix the login page soon. " +
		"todo: fix the login page. what if we rewrote it? we could rewrite the whole page."

	result := x.Extract(text, "")
	for i, a := range result.Nodes {
		assert.GreaterOrEqual(t, a.Confidence, 0.0)
		assert.LessOrEqual(t, a.Confidence, 1.0)
		for j, b := range result.Nodes {
			if i == j {
				continue
			}
			overlaps := a.Start < b.End && b.Start < a.End
			assert.False(t, overlaps, "entities %d and %d overlap", i, j)
		}
	}
}

func TestConversation_TitleCappedAt100(t *testing.T) {
	x := NewConversationExtractor()
	long := "we need to refactor the subsystem that handles the ingestion of extremely large and very poorly structured external datasets arriving over night"
	result := x.Extract(long, "")

	require.NotEmpty(t, result.Nodes)
	title := result.Nodes[0].Title
	assert.LessOrEqual(t, len(title), 100)
	assert.Contains(t, title, "...")
}

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "Add login", cleanTitle("add login."))
	assert.Equal(t, "Fix the bug", cleanTitle(`"fix the bug"`))
	assert.Equal(t, "", cleanTitle("  "))
}

func TestDedupeByOffset_HigherConfidenceWins(t *testing.T) {
	entities := []ExtractedNode{
		{Title: "weak", Confidence: 0.5, Start: 10, End: 40},
		{Title: "strong", Confidence: 0.8, Start: 20, End: 50},
		{Title: "distinct", Confidence: 0.6, Start: 100, End: 120},
	}
	kept := dedupeByOffset(entities)
	require.Len(t, kept, 2)
	assert.Equal(t, "strong", kept[0].Title, "0.8 replaces 0.5 (margin 0.1 met)")
	assert.Equal(t, "distinct", kept[1].Title)
}

func TestDedupeByOffset_MarginProtectsIncumbent(t *testing.T) {
	entities := []ExtractedNode{
		{Title: "first", Confidence: 0.6, Start: 10, End: 40},
		{Title: "barely-better", Confidence: 0.65, Start: 20, End: 50},
	}
	kept := dedupeByOffset(entities)
	require.Len(t, kept, 1)
	assert.Equal(t, "first", kept[0].Title, "0.05 edge is within the 0.1 margin")
}
