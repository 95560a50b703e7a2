package queue

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nenadatanasovski/memory-cube/internal/agents"
	"github.com/nenadatanasovski/memory-cube/internal/events"
	"github.com/nenadatanasovski/memory-cube/internal/graph"
	"github.com/nenadatanasovski/memory-cube/internal/node"
	"github.com/nenadatanasovski/memory-cube/internal/types"
)

// Release reasons with defined semantics; any other reason returns the
// item to the queue
const (
	ReasonCompleted = "completed"
	ReasonError     = "error"
	ReasonTimeout   = "timeout"
	ReasonReassign  = "reassign"
)

// Queue is the thread-safe priority work queue. Claim and release are
// serialized under one mutex so a task can only ever be claimed once.
type Queue struct {
	g      *graph.Graph
	reg    *agents.Registry
	bus    *events.Bus
	logger *zap.Logger

	mu       sync.Mutex
	items    []*Item          // live entries (queued + claimed), priority order
	byTask   map[string]*Item // taskID -> live item
	terminal []*Item

	waitSamples int
	waitTotal   time.Duration
	waitMax     time.Duration
}

// ClaimRequest asks for an exclusive claim on a queued task
type ClaimRequest struct {
	AgentID string
	TaskID  string
	Timeout time.Duration
}

// ReleaseRequest gives a claim back
type ReleaseRequest struct {
	AgentID   string
	TaskID    string
	Reason    string
	NewStatus *node.Status // applied to the task node on completion
	Error     string
}

// New creates a work queue over the graph and agent registry
func New(g *graph.Graph, reg *agents.Registry, bus *events.Bus, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		g:      g,
		reg:    reg,
		bus:    bus,
		logger: logger.Named("queue"),
		byTask: make(map[string]*Item),
	}
}

// Enqueue adds a task to the queue, idempotently by task id. The
// priority is computed from the task node at enqueue time.
func (q *Queue) Enqueue(taskID string, opts EnqueueOptions) (*Item, error) {
	n, err := q.g.Get(taskID)
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	if existing, ok := q.byTask[taskID]; ok {
		out := *existing
		q.mu.Unlock()
		return &out, nil
	}
	item := newItem(taskID, ComputePriority(n, time.Now()), opts)
	q.items = append(q.items, item)
	q.byTask[taskID] = item
	q.sortLocked()
	out := *item
	q.mu.Unlock()

	q.emit(events.WorkEnqueued, map[string]interface{}{
		"taskId":   taskID,
		"itemId":   out.ID,
		"priority": out.Priority,
	})
	return &out, nil
}

// GetNextFor returns the best queued item the agent is eligible for, or
// nil when nothing matches. Eligibility: preferredAgent is unset or
// equal, requiredRole matches the agent's role, and requiredTags
// overlap the agent's capability tags.
func (q *Queue) GetNextFor(agentID string) (*Item, error) {
	agent, err := q.reg.Get(agentID)
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items { // already priority-sorted
		if item.Status != StatusQueued {
			continue
		}
		if !eligible(item, agent) {
			continue
		}
		out := *item
		return &out, nil
	}
	return nil, nil
}

func eligible(item *Item, agent *agents.Agent) bool {
	if item.PreferredAgent != "" && item.PreferredAgent != agent.Config.ID {
		return false
	}
	if item.RequiredRole != "" && item.RequiredRole != agent.Config.Role {
		return false
	}
	return agent.Config.Capabilities.HasAnyTag(item.RequiredTags)
}

// Claim takes an exclusive claim on a queued task. Exactly one of two
// simultaneous claims can succeed; the loser sees Conflict.
func (q *Queue) Claim(req ClaimRequest) (*Item, error) {
	agent, err := q.reg.Get(req.AgentID)
	if err != nil {
		return nil, err
	}
	if agent.FreeSlots() <= 0 {
		return nil, types.E(types.KindCapacity, "queue.claim",
			"agent %q at max concurrency %d", req.AgentID, agent.Config.Capabilities.MaxConcurrent)
	}

	q.mu.Lock()
	item, ok := q.byTask[req.TaskID]
	if !ok {
		q.mu.Unlock()
		return nil, types.E(types.KindNotFound, "queue.claim", "task %q not queued", req.TaskID)
	}
	if item.Status != StatusQueued {
		claimedBy := item.ClaimedBy
		q.mu.Unlock()
		return nil, types.E(types.KindConflict, "queue.claim",
			"task %q already claimed by %q", req.TaskID, claimedBy)
	}
	now := time.Now().UTC()
	item.Status = StatusClaimed
	item.ClaimedBy = req.AgentID
	item.ClaimedAt = &now
	if req.Timeout > 0 {
		expires := now.Add(req.Timeout)
		item.ExpiresAt = &expires
		item.Timeout = req.Timeout
	}
	wait := now.Sub(item.AddedAt)
	q.waitSamples++
	q.waitTotal += wait
	if wait > q.waitMax {
		q.waitMax = wait
	}
	out := *item
	q.mu.Unlock()

	if err := q.reg.AddClaimedTask(req.AgentID, req.TaskID); err != nil {
		q.logger.Warn("claim recorded but agent update failed", zap.Error(err))
	}
	claimed := node.StatusClaimed
	assignee := req.AgentID
	if _, err := q.g.Update(req.TaskID, node.UpdateInput{
		Status:     &claimed,
		AssignedTo: &assignee,
		LockedBy:   &assignee,
	}); err != nil {
		q.logger.Warn("claim recorded but node update failed", zap.Error(err))
	}

	q.emit(events.WorkClaimed, map[string]interface{}{
		"taskId":  req.TaskID,
		"agentId": req.AgentID,
		"itemId":  out.ID,
	})
	return &out, nil
}

// Release gives a claim back. "completed" and "error" are terminal;
// every other reason requeues the item with its claim fields reset.
func (q *Queue) Release(req ReleaseRequest) (*Item, error) {
	q.mu.Lock()
	item, ok := q.byTask[req.TaskID]
	if !ok {
		q.mu.Unlock()
		return nil, types.E(types.KindNotFound, "queue.release", "task %q not in queue", req.TaskID)
	}
	if item.Status != StatusClaimed {
		q.mu.Unlock()
		return nil, types.E(types.KindConflict, "queue.release", "task %q is not claimed", req.TaskID)
	}
	if item.ClaimedBy != req.AgentID {
		owner := item.ClaimedBy
		q.mu.Unlock()
		return nil, types.E(types.KindConflict, "queue.release",
			"task %q is claimed by %q, not %q", req.TaskID, owner, req.AgentID)
	}

	now := time.Now().UTC()
	var out Item
	switch req.Reason {
	case ReasonCompleted:
		item.Status = StatusCompleted
		item.CompletedAt = &now
		q.retireLocked(item)
	case ReasonError:
		item.Status = StatusFailed
		item.CompletedAt = &now
		item.Error = req.Error
		q.retireLocked(item)
	case ReasonTimeout:
		// Expired claims are requeued at their original place: priority
		// order, then original enqueue time
		q.requeueLocked(item)
	default:
		q.requeueLocked(item)
	}
	out = *item
	q.mu.Unlock()

	completed := req.Reason == ReasonCompleted
	if err := q.reg.RemoveClaimedTask(req.AgentID, req.TaskID, completed); err != nil {
		q.logger.Warn("release recorded but agent update failed", zap.Error(err))
	}
	q.updateNodeOnRelease(req, completed)

	switch req.Reason {
	case ReasonCompleted:
		q.emit(events.WorkCompleted, map[string]interface{}{"taskId": req.TaskID, "agentId": req.AgentID})
	case ReasonError:
		q.emit(events.WorkFailed, map[string]interface{}{"taskId": req.TaskID, "agentId": req.AgentID, "error": req.Error})
	case ReasonTimeout:
		q.emit(events.WorkExpired, map[string]interface{}{"taskId": req.TaskID, "agentId": req.AgentID})
	default:
		q.emit(events.WorkReleased, map[string]interface{}{"taskId": req.TaskID, "agentId": req.AgentID, "reason": req.Reason})
	}
	return &out, nil
}

// updateNodeOnRelease reflects the release on the task node
func (q *Queue) updateNodeOnRelease(req ReleaseRequest, completed bool) {
	clear := ""
	in := node.UpdateInput{LockedBy: &clear}
	if completed {
		status := node.StatusComplete
		if req.NewStatus != nil {
			status = *req.NewStatus
		}
		in.Status = &status
	} else if req.Reason != ReasonError {
		// Requeued work returns the node to pending and unassigns it
		pending := node.StatusPending
		in.Status = &pending
		in.AssignedTo = &clear
	}
	if _, err := q.g.Update(req.TaskID, in); err != nil {
		q.logger.Warn("release recorded but node update failed", zap.Error(err))
	}
}

// Transfer hands a claimed task from one agent to another
func (q *Queue) Transfer(fromID, toID, taskID string) (*Item, error) {
	if _, err := q.Release(ReleaseRequest{AgentID: fromID, TaskID: taskID, Reason: ReasonReassign}); err != nil {
		return nil, err
	}
	item, err := q.Claim(ClaimRequest{AgentID: toID, TaskID: taskID})
	if err != nil {
		return nil, err
	}
	q.emit(events.WorkTransferred, map[string]interface{}{
		"taskId": taskID,
		"from":   fromID,
		"to":     toID,
	})
	return item, nil
}

// CheckExpired releases every claimed item whose claim has outlived its
// timeout, with reason=timeout. Returns the expired items.
func (q *Queue) CheckExpired() []*Item {
	now := time.Now()

	q.mu.Lock()
	var expired []*Item
	for _, item := range q.items {
		if item.Status == StatusClaimed && item.ExpiresAt != nil && now.After(*item.ExpiresAt) {
			expired = append(expired, item)
		}
	}
	q.mu.Unlock()

	var out []*Item
	for _, item := range expired {
		released, err := q.Release(ReleaseRequest{
			AgentID: item.ClaimedBy,
			TaskID:  item.TaskID,
			Reason:  ReasonTimeout,
		})
		if err != nil {
			q.logger.Warn("expiry release failed", zap.String("task", item.TaskID), zap.Error(err))
			continue
		}
		out = append(out, released)
	}
	return out
}

// ReleaseAllFor requeues every claim held by an agent; the staleness
// sweep uses it when an agent goes offline
func (q *Queue) ReleaseAllFor(agentID string) []*Item {
	q.mu.Lock()
	var held []*Item
	for _, item := range q.items {
		if item.Status == StatusClaimed && item.ClaimedBy == agentID {
			held = append(held, item)
		}
	}
	q.mu.Unlock()

	var out []*Item
	for _, item := range held {
		released, err := q.Release(ReleaseRequest{AgentID: agentID, TaskID: item.TaskID, Reason: ReasonTimeout})
		if err != nil {
			continue
		}
		out = append(out, released)
	}
	return out
}

// GetQueued returns queued items in priority order
func (q *Queue) GetQueued() []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*Item
	for _, item := range q.items {
		if item.Status == StatusQueued {
			copied := *item
			out = append(out, &copied)
		}
	}
	return out
}

// GetClaimed returns claimed items, optionally for one agent
func (q *Queue) GetClaimed(agentID string) []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*Item
	for _, item := range q.items {
		if item.Status != StatusClaimed {
			continue
		}
		if agentID != "" && item.ClaimedBy != agentID {
			continue
		}
		copied := *item
		out = append(out, &copied)
	}
	return out
}

// GetState snapshots the whole queue
func (q *Queue) GetState() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	state := State{}
	for _, item := range q.items {
		copied := *item
		if item.Status == StatusQueued {
			state.Queued = append(state.Queued, &copied)
		} else {
			state.Claimed = append(state.Claimed, &copied)
		}
	}
	for _, item := range q.terminal {
		copied := *item
		state.Terminal = append(state.Terminal, &copied)
	}
	return state
}

// Cleanup drops terminal entries older than the given age and returns
// how many were removed
func (q *Queue) Cleanup(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.terminal[:0]
	removed := 0
	for _, item := range q.terminal {
		at := item.CompletedAt
		if at != nil && at.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	q.terminal = kept
	return removed
}

// Stats reports wait-time aggregates over all claims so far
func (q *Queue) Stats() WaitStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := WaitStats{Samples: q.waitSamples, Max: q.waitMax}
	if q.waitSamples > 0 {
		stats.Mean = q.waitTotal / time.Duration(q.waitSamples)
	}
	return stats
}

// retireLocked moves a terminal item out of the live table
func (q *Queue) retireLocked(item *Item) {
	delete(q.byTask, item.TaskID)
	for i, live := range q.items {
		if live.ID == item.ID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	q.terminal = append(q.terminal, item)
}

// requeueLocked resets claim fields and puts the item back in line
func (q *Queue) requeueLocked(item *Item) {
	item.Status = StatusQueued
	item.ClaimedBy = ""
	item.ClaimedAt = nil
	item.ExpiresAt = nil
	q.sortLocked()
}

// sortLocked keeps live items in priority-descending order, FIFO on
// ties
func (q *Queue) sortLocked() {
	sort.SliceStable(q.items, func(i, j int) bool {
		if q.items[i].Priority != q.items[j].Priority {
			return q.items[i].Priority > q.items[j].Priority
		}
		return q.items[i].AddedAt.Before(q.items[j].AddedAt)
	})
}

func (q *Queue) emit(t events.EventType, payload map[string]interface{}) {
	if q.bus != nil {
		q.bus.Emit(events.New(t, payload))
	}
}
