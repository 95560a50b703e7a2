// Package queue holds the priority work queue: task references with
// computed priorities, exclusive claims, releases, transfers and
// timeout expiry.
package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/nenadatanasovski/memory-cube/internal/node"
)

// ItemStatus is the work item lifecycle enum
type ItemStatus string

// Item status constants
const (
	StatusQueued    ItemStatus = "queued"
	StatusClaimed   ItemStatus = "claimed"
	StatusCompleted ItemStatus = "completed"
	StatusFailed    ItemStatus = "failed"
	StatusExpired   ItemStatus = "expired"
)

// Terminal reports whether the status ends the item's life
func (s ItemStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

// Item is a queue entry referencing a task node
type Item struct {
	ID             string        `json:"id"`
	TaskID         string        `json:"taskId"`
	Priority       int           `json:"priority"`
	AddedAt        time.Time     `json:"addedAt"`
	PreferredAgent string        `json:"preferredAgent,omitempty"`
	RequiredRole   string        `json:"requiredRole,omitempty"`
	RequiredTags   []string      `json:"requiredTags,omitempty"`
	Deadline       *time.Time    `json:"deadline,omitempty"`
	Timeout        time.Duration `json:"timeout,omitempty"`

	Status      ItemStatus `json:"status"`
	ClaimedBy   string     `json:"claimedBy,omitempty"`
	ClaimedAt   *time.Time `json:"claimedAt,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// EnqueueOptions carries the optional fields of an enqueue
type EnqueueOptions struct {
	PreferredAgent string
	RequiredRole   string
	RequiredTags   []string
	Deadline       *time.Time
	Timeout        time.Duration
}

// newItem builds a queued item with a fresh id
func newItem(taskID string, priority int, opts EnqueueOptions) *Item {
	return &Item{
		ID:             uuid.New().String(),
		TaskID:         taskID,
		Priority:       priority,
		AddedAt:        time.Now().UTC(),
		PreferredAgent: opts.PreferredAgent,
		RequiredRole:   opts.RequiredRole,
		RequiredTags:   opts.RequiredTags,
		Deadline:       opts.Deadline,
		Timeout:        opts.Timeout,
		Status:         StatusQueued,
	}
}

// Priority base weights per node priority
const (
	baseCritical = 1000
	baseHigh     = 100
	baseNormal   = 10
	baseLow      = 1
)

// Due-date boosts
const (
	boostOverdue  = 500
	boostDueSoon  = 200 // within 24 h
	boostDueLater = 50  // within 72 h
	boostPerBlock = 20  // per outgoing blocks edge
)

// ComputePriority derives a work item's numeric priority from its task
// node: the priority enum base, a due-date boost, and +20 for every
// outgoing blocks edge.
func ComputePriority(n *node.Node, now time.Time) int {
	var base int
	switch n.Priority {
	case node.PriorityCritical:
		base = baseCritical
	case node.PriorityHigh:
		base = baseHigh
	case node.PriorityLow:
		base = baseLow
	default:
		base = baseNormal
	}

	due := 0
	if n.DueAt != nil {
		until := n.DueAt.Sub(now)
		switch {
		case until < 0:
			due = boostOverdue
		case until <= 24*time.Hour:
			due = boostDueSoon
		case until <= 72*time.Hour:
			due = boostDueLater
		}
	}

	blocking := 0
	for _, e := range n.Edges {
		if e.Type == node.EdgeBlocks {
			blocking += boostPerBlock
		}
	}
	return base + due + blocking
}

// WaitStats summarizes queued-to-claimed wait times
type WaitStats struct {
	Samples int           `json:"samples"`
	Mean    time.Duration `json:"mean"`
	Max     time.Duration `json:"max"`
}

// State is a point-in-time snapshot of the queue
type State struct {
	Queued   []*Item `json:"queued"`
	Claimed  []*Item `json:"claimed"`
	Terminal []*Item `json:"terminal"`
}
