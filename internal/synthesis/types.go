// Package synthesis extracts candidate nodes and relations from raw
// text and source code using recall-first heuristics, and deduplicates
// them against the existing graph before anything is created.
package synthesis

import (
	"github.com/nenadatanasovski/memory-cube/internal/node"
)

// SourceType routes a source through the matching extractor
type SourceType string

// Source type constants
const (
	SourceConversation SourceType = "conversation"
	SourceCode         SourceType = "code"
)

// Source is one input to the pipeline
type Source struct {
	Type     SourceType
	Content  string
	Language string // hint for the code extractor
	Path     string // origin, recorded on extracted nodes
}

// ExtractedNode is a candidate knowledge unit found in a source
type ExtractedNode struct {
	Type       node.Type     `json:"type"`
	Title      string        `json:"title"`
	Content    string        `json:"content"`
	Tags       []string      `json:"tags"`
	Priority   node.Priority `json:"priority"`
	Confidence float64       `json:"confidence"`
	Start      int           `json:"start"` // byte offset in the source
	End        int           `json:"end"`
	Source     string        `json:"source,omitempty"`
}

// ExtractedRelation is a candidate edge between two extracted nodes,
// referenced by title
type ExtractedRelation struct {
	FromTitle  string        `json:"fromTitle"`
	ToTitle    string        `json:"toTitle"`
	Type       node.EdgeType `json:"type"`
	Confidence float64       `json:"confidence"`
}

// Result is the combined output of an extraction pass
type Result struct {
	Nodes     []ExtractedNode     `json:"nodes"`
	Relations []ExtractedRelation `json:"relations"`
	Intents   []MessageIntent     `json:"intents,omitempty"`
}

// MessageIntent is the coarse label assigned to each conversation
// message
type MessageIntent struct {
	Index  int    `json:"index"`
	Role   string `json:"role"`
	Intent string `json:"intent"` // "question", "directive" or "statement"
}

// Match pairs a candidate with an existing node it resembles
type Match struct {
	NodeID     string  `json:"nodeId"`
	Title      string  `json:"title"`
	Similarity float64 `json:"similarity"`
}

// Recommendation for a candidate after dedup
const (
	RecommendSkip   = "skip"
	RecommendMerge  = "merge"
	RecommendLink   = "link"
	RecommendCreate = "create"
)

// Candidate is an extracted node with its dedup verdict
type Candidate struct {
	ExtractedNode
	Matches        []Match `json:"matches,omitempty"`
	Recommendation string  `json:"recommendation"`
}

// ApplyReport summarizes what CreateNodes did
type ApplyReport struct {
	Created []string `json:"created"`
	Merged  []string `json:"merged"`
	Linked  []string `json:"linked"`
	Skipped int      `json:"skipped"`
}
