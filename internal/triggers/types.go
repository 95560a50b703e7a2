// Package triggers maps events onto actions through a declarative rule
// table: match by event type, gate on conditions and cooldowns, then run
// actions from a pluggable catalog.
package triggers

import (
	"time"

	"github.com/nenadatanasovski/memory-cube/internal/node"
)

// EdgeCondition requires an edge of a type in a direction
type EdgeCondition struct {
	Type      node.EdgeType `yaml:"type" json:"type"`
	Direction string        `yaml:"direction" json:"direction"` // "out", "in" or "both"
}

// Conditions is a small declarative record, not a closure, so rules
// serialize cleanly to the configuration file
type Conditions struct {
	NodeTypes  []node.Type     `yaml:"node_types,omitempty" json:"nodeTypes,omitempty"`
	Statuses   []node.Status   `yaml:"statuses,omitempty" json:"statuses,omitempty"`
	Validities []node.Validity `yaml:"validities,omitempty" json:"validities,omitempty"`
	Tags       []string        `yaml:"tags,omitempty" json:"tags,omitempty"`
	TagsAny    []string        `yaml:"tags_any,omitempty" json:"tagsAny,omitempty"`
	HasEdge    *EdgeCondition  `yaml:"has_edge,omitempty" json:"hasEdge,omitempty"`
	Custom     string          `yaml:"custom,omitempty" json:"custom,omitempty"`
}

// Empty reports whether no condition is set
func (c *Conditions) Empty() bool {
	return c == nil || (len(c.NodeTypes) == 0 && len(c.Statuses) == 0 &&
		len(c.Validities) == 0 && len(c.Tags) == 0 && len(c.TagsAny) == 0 &&
		c.HasEdge == nil && c.Custom == "")
}

// Action is one step of a rule; params are interpolated before
// execution
type Action struct {
	Type   string            `yaml:"type" json:"type"`
	Params map[string]string `yaml:"params,omitempty" json:"params,omitempty"`
}

// Trigger is a rule in the table
type Trigger struct {
	ID         string      `yaml:"id" json:"id"`
	Name       string      `yaml:"name" json:"name"`
	Enabled    bool        `yaml:"enabled" json:"enabled"`
	EventTypes []string    `yaml:"event_types" json:"eventTypes"`
	Conditions *Conditions `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	Actions    []Action    `yaml:"actions" json:"actions"`
	Priority   int         `yaml:"priority,omitempty" json:"priority"`
	CooldownMs int64       `yaml:"cooldown_ms,omitempty" json:"cooldownMs"`

	lastFiredAt time.Time
}

// LastFiredAt returns when the rule last executed its actions
func (t *Trigger) LastFiredAt() time.Time { return t.lastFiredAt }

func (t *Trigger) matchesEventType(eventType string) bool {
	for _, et := range t.EventTypes {
		if et == eventType {
			return true
		}
	}
	return false
}
