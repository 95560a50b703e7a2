// Package agents persists agent configuration and runtime state and
// answers capability-based lookups for the dispatcher.
package agents

import (
	"time"

	"github.com/nenadatanasovski/memory-cube/internal/node"
)

// Status is the agent runtime status enum
type Status string

// Agent status constants
const (
	StatusIdle    Status = "idle"
	StatusWorking Status = "working"
	StatusBlocked Status = "blocked"
	StatusOffline Status = "offline"
)

// Valid reports whether s is in the closed status set
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusWorking, StatusBlocked, StatusOffline:
		return true
	}
	return false
}

// Capabilities bounds what an agent may touch
type Capabilities struct {
	NodeTypes     []node.Type     `json:"nodeTypes"`
	EdgeTypes     []node.EdgeType `json:"edgeTypes"`
	Tags          []string        `json:"tags"`
	MaxConcurrent int             `json:"maxConcurrent"`
	CanCreate     bool            `json:"canCreate"`
	CanDelete     bool            `json:"canDelete"`
	PriorityBoost int             `json:"priorityBoost"`
}

// DefaultCapabilities is the base every registration merges over
func DefaultCapabilities() Capabilities {
	return Capabilities{
		NodeTypes:     []node.Type{node.TypeTask},
		EdgeTypes:     []node.EdgeType{node.EdgeImplements, node.EdgeBlocks, node.EdgeDependsOn},
		Tags:          []string{},
		MaxConcurrent: 1,
	}
}

// SupportsNodeType reports whether the agent may work on a node type
func (c Capabilities) SupportsNodeType(t node.Type) bool {
	for _, nt := range c.NodeTypes {
		if nt == t {
			return true
		}
	}
	return false
}

// HasAnyTag reports whether at least one required tag is within the
// capability tag set
func (c Capabilities) HasAnyTag(required []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, want := range required {
		for _, have := range c.Tags {
			if want == have {
				return true
			}
		}
	}
	return false
}

// Config is the persisted agent configuration
type Config struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Role         string       `json:"role"`
	Description  string       `json:"description,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
}

// Stats accumulates per-agent work counters
type Stats struct {
	Completed       int       `json:"completed"`
	Failed          int       `json:"failed"`
	AvgCompletionMs int64     `json:"avgCompletionMs"`
	LastActiveAt    time.Time `json:"lastActiveAt"`
}

// State is the per-agent runtime record persisted to
// agent-state/<id>.json
type State struct {
	Status              Status    `json:"status"`
	ClaimedTasks        []string  `json:"claimedTasks"`
	Stats               Stats     `json:"stats"`
	LastHeartbeat       time.Time `json:"lastHeartbeat"`
	HeartbeatIntervalMs int64     `json:"heartbeatIntervalMs"`
}

// Agent pairs configuration with runtime state
type Agent struct {
	Config Config `json:"config"`
	State  State  `json:"state"`
}

// FreeSlots returns how many more claims the agent can take
func (a *Agent) FreeSlots() int {
	return a.Config.Capabilities.MaxConcurrent - len(a.State.ClaimedTasks)
}

// CapabilityQuery selects agents able to take a piece of work
type CapabilityQuery struct {
	NodeType node.Type
	Tags     []string
	Role     string
}
