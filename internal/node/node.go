// Package node defines the knowledge unit model: typed nodes, the edges
// they own, and the codec for the on-disk file format.
package node

import (
	"time"

	"github.com/nenadatanasovski/memory-cube/internal/types"
)

// Type is the node type enum
type Type string

// Node type constants
const (
	TypeTask         Type = "task"
	TypeDoc          Type = "doc"
	TypeCode         Type = "code"
	TypeDecision     Type = "decision"
	TypeIdeation     Type = "ideation"
	TypeBrainfart    Type = "brainfart"
	TypeResearch     Type = "research"
	TypeConversation Type = "conversation"
	TypeConcept      Type = "concept"
	TypeEvent        Type = "event"
	TypeAgent        Type = "agent"
	TypeProject      Type = "project"
)

// Status is the node lifecycle status enum
type Status string

// Status constants
const (
	StatusPending  Status = "pending"
	StatusClaimed  Status = "claimed"
	StatusActive   Status = "active"
	StatusBlocked  Status = "blocked"
	StatusComplete Status = "complete"
	StatusArchived Status = "archived"
)

// Validity tracks whether a node still reflects reality
type Validity string

// Validity constants
const (
	ValidityCurrent    Validity = "current"
	ValidityStale      Validity = "stale"
	ValiditySuperseded Validity = "superseded"
	ValidityArchived   Validity = "archived"
)

// Priority is the node priority enum
type Priority string

// Priority constants, ordered critical < high < normal < low
const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// EdgeType is the directed relation type enum
type EdgeType string

// Edge type constants
const (
	EdgeImplements  EdgeType = "implements"
	EdgeDocuments   EdgeType = "documents"
	EdgeSourcedFrom EdgeType = "sourced-from"
	EdgeBlocks      EdgeType = "blocks"
	EdgeBlockedBy   EdgeType = "blocked-by"
	EdgeDependsOn   EdgeType = "depends-on"
	EdgeSpawns      EdgeType = "spawns"
	EdgeBecomes     EdgeType = "becomes"
	EdgeRelatesTo   EdgeType = "relates-to"
	EdgePartOf      EdgeType = "part-of"
	EdgeSupersedes  EdgeType = "supersedes"
	EdgeInvalidates EdgeType = "invalidates"
	EdgeDerivedFrom EdgeType = "derived-from"
	EdgeAssignedTo  EdgeType = "assigned-to"
	EdgeOwnedBy     EdgeType = "owned-by"
	EdgeLockedBy    EdgeType = "locked-by"
)

var nodeTypes = map[Type]bool{
	TypeTask: true, TypeDoc: true, TypeCode: true, TypeDecision: true,
	TypeIdeation: true, TypeBrainfart: true, TypeResearch: true,
	TypeConversation: true, TypeConcept: true, TypeEvent: true,
	TypeAgent: true, TypeProject: true,
}

var statuses = map[Status]bool{
	StatusPending: true, StatusClaimed: true, StatusActive: true,
	StatusBlocked: true, StatusComplete: true, StatusArchived: true,
}

var validities = map[Validity]bool{
	ValidityCurrent: true, ValidityStale: true,
	ValiditySuperseded: true, ValidityArchived: true,
}

var priorities = map[Priority]bool{
	PriorityCritical: true, PriorityHigh: true,
	PriorityNormal: true, PriorityLow: true,
}

var edgeTypes = map[EdgeType]bool{
	EdgeImplements: true, EdgeDocuments: true, EdgeSourcedFrom: true,
	EdgeBlocks: true, EdgeBlockedBy: true, EdgeDependsOn: true,
	EdgeSpawns: true, EdgeBecomes: true, EdgeRelatesTo: true,
	EdgePartOf: true, EdgeSupersedes: true, EdgeInvalidates: true,
	EdgeDerivedFrom: true, EdgeAssignedTo: true, EdgeOwnedBy: true,
	EdgeLockedBy: true,
}

// Valid reports whether t is in the closed type set
func (t Type) Valid() bool { return nodeTypes[t] }

// Valid reports whether s is in the closed status set
func (s Status) Valid() bool { return statuses[s] }

// Valid reports whether v is in the closed validity set
func (v Validity) Valid() bool { return validities[v] }

// Valid reports whether p is in the closed priority set
func (p Priority) Valid() bool { return priorities[p] }

// Valid reports whether e is in the closed edge-type set
func (e EdgeType) Valid() bool { return edgeTypes[e] }

// Rank returns the sort weight of a priority, critical first
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// Edge is a typed directed relation owned by its source node
type Edge struct {
	ID        string            `json:"id"`
	Type      EdgeType          `json:"type"`
	From      string            `json:"from"`
	To        string            `json:"to"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Ordering carries supersession and change-detection metadata
type Ordering struct {
	SupersededBy    string `json:"superseded_by,omitempty"`
	SemanticHash    string `json:"semantic_hash"`
	SourceFreshness string `json:"source_freshness"` // YYYY-MM-DD
}

// Node is a typed, versioned knowledge unit. Nullable owner handles
// (CreatedBy, AssignedTo, LockedBy) use the empty string for null.
type Node struct {
	ID             string     `json:"id"`
	Type           Type       `json:"type"`
	Version        int        `json:"version"`
	Status         Status     `json:"status"`
	Validity       Validity   `json:"validity"`
	Confidence     float64    `json:"confidence"`
	Priority       Priority   `json:"priority"`
	Tags           []string   `json:"tags"`
	CreatedBy      string     `json:"created_by,omitempty"`
	AssignedTo     string     `json:"assigned_to,omitempty"`
	LockedBy       string     `json:"locked_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ModifiedAt     time.Time  `json:"modified_at"`
	DueAt          *time.Time `json:"due_at,omitempty"`
	Ordering       Ordering   `json:"ordering"`
	Edges          []Edge     `json:"edges"`
	Actions        []map[string]string `json:"actions"`
	Title          string     `json:"title"`
	Content        string     `json:"content"`
	ContentPreview string     `json:"content_preview"`
	FilePath       string     `json:"file_path,omitempty"`
}

// CreateInput carries the caller-supplied fields for a new node
type CreateInput struct {
	Type       Type
	Title      string
	Content    string
	Status     Status   // defaults to pending
	Priority   Priority // defaults to normal
	Tags       []string
	AssignedTo string
	CreatedBy  string
	DueAt      *time.Time
}

// UpdateInput is a partial record; nil pointers mean "not supplied"
type UpdateInput struct {
	Title      *string
	Content    *string
	Status     *Status
	Validity   *Validity
	Priority   *Priority
	Confidence *float64
	Tags       *[]string
	AssignedTo *string
	LockedBy   *string
	DueAt      *time.Time
	ClearDueAt bool
	SupersededBy *string
}

// EdgeInput describes an edge to attach at creation or link time
type EdgeInput struct {
	Type     EdgeType
	To       string
	Metadata map[string]string
}

// New builds a node with defaults applied and derived fields filled
func New(in CreateInput) (*Node, error) {
	return NewAt(in, time.Now().UTC())
}

// NewAt is New with an explicit creation instant; the facade uses it to
// retry id derivation with a fresh creation millisecond on collision.
func NewAt(in CreateInput, now time.Time) (*Node, error) {
	if !in.Type.Valid() {
		return nil, types.E(types.KindInvalidInput, "node.new", "unknown node type %q", in.Type)
	}
	if in.Title == "" {
		return nil, types.E(types.KindInvalidInput, "node.new", "title is required")
	}
	status := in.Status
	if status == "" {
		status = StatusPending
	}
	if !status.Valid() {
		return nil, types.E(types.KindInvalidInput, "node.new", "unknown status %q", status)
	}
	priority := in.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	if !priority.Valid() {
		return nil, types.E(types.KindInvalidInput, "node.new", "unknown priority %q", priority)
	}
	now = now.UTC()
	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}
	n := &Node{
		ID:         NewID(in.Type, in.Title, now),
		Type:       in.Type,
		Version:    1,
		Status:     status,
		Validity:   ValidityCurrent,
		Confidence: 1.0,
		Priority:   priority,
		Tags:       tags,
		CreatedBy:  in.CreatedBy,
		AssignedTo: in.AssignedTo,
		CreatedAt:  now,
		ModifiedAt: now,
		DueAt:      in.DueAt,
		Ordering: Ordering{
			SemanticHash:    SemanticHash(in.Title, in.Content),
			SourceFreshness: now.Format("2006-01-02"),
		},
		Edges:          []Edge{},
		Actions:        []map[string]string{},
		Title:          in.Title,
		Content:        in.Content,
		ContentPreview: Preview(in.Content),
	}
	return n, nil
}

// Update returns a copy of n with the partial applied, version+1 and a
// fresh modified_at. Preview and semantic hash are recomputed iff title
// or content changed.
func Update(n *Node, in UpdateInput) (*Node, error) {
	out := Clone(n)
	contentChanged := false

	if in.Title != nil {
		out.Title = *in.Title
		contentChanged = true
	}
	if in.Content != nil {
		out.Content = *in.Content
		contentChanged = true
	}
	if in.Status != nil {
		if !in.Status.Valid() {
			return nil, types.E(types.KindInvalidInput, "node.update", "unknown status %q", *in.Status)
		}
		out.Status = *in.Status
	}
	if in.Validity != nil {
		if !in.Validity.Valid() {
			return nil, types.E(types.KindInvalidInput, "node.update", "unknown validity %q", *in.Validity)
		}
		out.Validity = *in.Validity
	}
	if in.Priority != nil {
		if !in.Priority.Valid() {
			return nil, types.E(types.KindInvalidInput, "node.update", "unknown priority %q", *in.Priority)
		}
		out.Priority = *in.Priority
	}
	if in.Confidence != nil {
		c := *in.Confidence
		if c < 0 || c > 1 {
			return nil, types.E(types.KindInvalidInput, "node.update", "confidence %v outside [0,1]", c)
		}
		out.Confidence = c
	}
	if in.Tags != nil {
		out.Tags = append([]string{}, (*in.Tags)...)
	}
	if in.AssignedTo != nil {
		out.AssignedTo = *in.AssignedTo
	}
	if in.LockedBy != nil {
		out.LockedBy = *in.LockedBy
	}
	if in.DueAt != nil {
		d := in.DueAt.UTC()
		out.DueAt = &d
	} else if in.ClearDueAt {
		out.DueAt = nil
	}
	if in.SupersededBy != nil {
		out.Ordering.SupersededBy = *in.SupersededBy
	}

	if contentChanged {
		out.Ordering.SemanticHash = SemanticHash(out.Title, out.Content)
		out.ContentPreview = Preview(out.Content)
	}
	out.Version = n.Version + 1
	out.ModifiedAt = time.Now().UTC()
	return out, nil
}

// AddEdge appends a new outgoing edge. Callers are responsible for
// duplicate checking; this does none.
func AddEdge(n *Node, in EdgeInput) (*Node, error) {
	if !in.Type.Valid() {
		return nil, types.E(types.KindInvalidInput, "node.add_edge", "unknown edge type %q", in.Type)
	}
	out := Clone(n)
	out.Edges = append(out.Edges, Edge{
		ID:        EdgeID(n.ID, in.Type, in.To),
		Type:      in.Type,
		From:      n.ID,
		To:        in.To,
		Metadata:  in.Metadata,
		CreatedAt: time.Now().UTC(),
	})
	out.Version = n.Version + 1
	out.ModifiedAt = time.Now().UTC()
	return out, nil
}

// RemoveEdge filters the edge with the given id; the second return is
// false when no edge matched.
func RemoveEdge(n *Node, edgeID string) (*Node, bool) {
	out := Clone(n)
	kept := out.Edges[:0]
	removed := false
	for _, e := range out.Edges {
		if e.ID == edgeID {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	if !removed {
		return n, false
	}
	out.Edges = kept
	out.Version = n.Version + 1
	out.ModifiedAt = time.Now().UTC()
	return out, true
}

// Clone deep-copies a node value
func Clone(n *Node) *Node {
	out := *n
	out.Tags = append([]string{}, n.Tags...)
	out.Edges = make([]Edge, len(n.Edges))
	for i, e := range n.Edges {
		out.Edges[i] = e
		if e.Metadata != nil {
			md := make(map[string]string, len(e.Metadata))
			for k, v := range e.Metadata {
				md[k] = v
			}
			out.Edges[i].Metadata = md
		}
	}
	if n.DueAt != nil {
		d := *n.DueAt
		out.DueAt = &d
	}
	out.Actions = make([]map[string]string, len(n.Actions))
	for i, a := range n.Actions {
		m := make(map[string]string, len(a))
		for k, v := range a {
			m[k] = v
		}
		out.Actions[i] = m
	}
	return &out
}

// FindEdge returns the edge with the deterministic id for the triple,
// or nil when absent
func FindEdge(n *Node, t EdgeType, to string) *Edge {
	id := EdgeID(n.ID, t, to)
	for i := range n.Edges {
		if n.Edges[i].ID == id {
			return &n.Edges[i]
		}
	}
	return nil
}
