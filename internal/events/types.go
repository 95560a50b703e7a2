// Package events provides the in-process publish/subscribe bus and the
// append-only rotated event log.
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType tags an event with its variant from the closed catalog
type EventType string

// Event type constants
const (
	NodeCreated         EventType = "node.created"
	NodeUpdated         EventType = "node.updated"
	NodeDeleted         EventType = "node.deleted"
	NodeStatusChanged   EventType = "node.status_changed"
	NodeValidityChanged EventType = "node.validity_changed"
	EdgeCreated         EventType = "edge.created"
	EdgeDeleted         EventType = "edge.deleted"
	CodeFileChanged     EventType = "code.file_changed"
	AgentRegistered     EventType = "agent.registered"
	AgentUnregistered   EventType = "agent.unregistered"
	AgentStatusChanged  EventType = "agent.status_changed"
	AgentHeartbeat      EventType = "agent.heartbeat"
	AgentStale          EventType = "agent.stale"
	WorkEnqueued        EventType = "work.enqueued"
	WorkClaimed         EventType = "work.claimed"
	WorkReleased        EventType = "work.released"
	WorkCompleted       EventType = "work.completed"
	WorkFailed          EventType = "work.failed"
	WorkExpired         EventType = "work.expired"
	WorkTransferred     EventType = "work.transferred"
	CubeInitialized     EventType = "cube.initialized"
	CubeIndexRebuilt    EventType = "cube.index_rebuilt"
	TriggerFired        EventType = "trigger.fired"
	TriggerError        EventType = "trigger.error"
)

// Wildcard subscribes a handler to every event type
const Wildcard = "*"

// Event is an immutable record of a state change. The payload shape is
// determined by the type; node-scoped events carry the node snapshot
// under the "node" key.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// New creates an event with a fresh random id and the current time
func New(eventType EventType, payload map[string]interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// AllTypes returns the closed event-type catalog
func AllTypes() []EventType {
	return []EventType{
		NodeCreated, NodeUpdated, NodeDeleted, NodeStatusChanged,
		NodeValidityChanged, EdgeCreated, EdgeDeleted, CodeFileChanged,
		AgentRegistered, AgentUnregistered, AgentStatusChanged,
		AgentHeartbeat, AgentStale,
		WorkEnqueued, WorkClaimed, WorkReleased, WorkCompleted,
		WorkFailed, WorkExpired, WorkTransferred,
		CubeInitialized, CubeIndexRebuilt,
		TriggerFired, TriggerError,
	}
}
