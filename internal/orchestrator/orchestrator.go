// Package orchestrator wires the agent registry and work queue onto the
// event bus: task lifecycle events auto-enqueue work, maintenance
// timers sweep stale agents and expired claims, and dispatch matches
// queued work to capable agents.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nenadatanasovski/memory-cube/internal/agents"
	"github.com/nenadatanasovski/memory-cube/internal/events"
	"github.com/nenadatanasovski/memory-cube/internal/graph"
	"github.com/nenadatanasovski/memory-cube/internal/index"
	"github.com/nenadatanasovski/memory-cube/internal/node"
	"github.com/nenadatanasovski/memory-cube/internal/queue"
)

// Maintenance defaults
const (
	DefaultStalenessInterval = 60 * time.Second
	DefaultExpiryInterval    = 30 * time.Second
	DefaultStaleThreshold    = 90 * time.Second
)

// Options configures an Orchestrator
type Options struct {
	Graph             *graph.Graph
	Registry          *agents.Registry
	Queue             *queue.Queue
	Bus               *events.Bus
	Logger            *zap.Logger
	StalenessInterval time.Duration
	ExpiryInterval    time.Duration
	StaleThreshold    time.Duration
}

// Orchestrator runs the dispatch loop and maintenance timers
type Orchestrator struct {
	g      *graph.Graph
	reg    *agents.Registry
	q      *queue.Queue
	bus    *events.Bus
	logger *zap.Logger

	stalenessInterval time.Duration
	expiryInterval    time.Duration
	staleThreshold    time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	subIDs []string
}

// New creates an orchestrator
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		g:                 opts.Graph,
		reg:               opts.Registry,
		q:                 opts.Queue,
		bus:               opts.Bus,
		logger:            logger.Named("orchestrator"),
		stalenessInterval: opts.StalenessInterval,
		expiryInterval:    opts.ExpiryInterval,
		staleThreshold:    opts.StaleThreshold,
	}
	if o.stalenessInterval <= 0 {
		o.stalenessInterval = DefaultStalenessInterval
	}
	if o.expiryInterval <= 0 {
		o.expiryInterval = DefaultExpiryInterval
	}
	if o.staleThreshold <= 0 {
		o.staleThreshold = DefaultStaleThreshold
	}
	return o
}

// Start subscribes to task lifecycle events and launches the
// staleness and expiry timers. Stop reverses everything.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		return // already running
	}
	ctx, o.cancel = context.WithCancel(ctx)

	// Auto-enqueue pending tasks as they appear
	o.subIDs = append(o.subIDs, o.bus.Subscribe(string(events.NodeCreated), func(e events.Event) error {
		if n := eventTask(e); n != nil && n.Status == node.StatusPending {
			_, err := o.q.Enqueue(n.ID, queue.EnqueueOptions{})
			return err
		}
		return nil
	}))
	o.subIDs = append(o.subIDs, o.bus.Subscribe(string(events.NodeStatusChanged), func(e events.Event) error {
		to, _ := e.Payload["to"].(string)
		if to != string(node.StatusPending) {
			return nil
		}
		if n := eventTask(e); n != nil {
			_, err := o.q.Enqueue(n.ID, queue.EnqueueOptions{})
			return err
		}
		return nil
	}))

	o.wg.Add(2)
	go o.runTicker(ctx, o.stalenessInterval, o.sweepStale)
	go o.runTicker(ctx, o.expiryInterval, o.sweepExpired)

	o.logger.Info("orchestrator started",
		zap.Duration("staleness_interval", o.stalenessInterval),
		zap.Duration("expiry_interval", o.expiryInterval))
}

// Stop cancels timers and unsubscribes from the bus
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	subIDs := o.subIDs
	o.cancel = nil
	o.subIDs = nil
	o.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	for _, id := range subIDs {
		o.bus.Unsubscribe(id)
	}
	o.wg.Wait()
}

func (o *Orchestrator) runTicker(ctx context.Context, interval time.Duration, tick func()) {
	defer o.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}

// sweepStale moves silent agents offline and requeues their claims
func (o *Orchestrator) sweepStale() {
	stale := o.reg.CheckStale(o.staleThreshold)
	for _, agentID := range stale {
		released := o.q.ReleaseAllFor(agentID)
		if len(released) > 0 {
			o.logger.Info("requeued claims of stale agent",
				zap.String("agent", agentID),
				zap.Int("claims", len(released)))
		}
	}
}

// sweepExpired releases timed-out claims and logs queue wait stats
func (o *Orchestrator) sweepExpired() {
	expired := o.q.CheckExpired()
	if len(expired) > 0 {
		o.logger.Info("released expired claims", zap.Int("count", len(expired)))
	}
	stats := o.q.Stats()
	if stats.Samples > 0 {
		o.logger.Debug("queue wait stats",
			zap.Int("samples", stats.Samples),
			zap.Duration("mean", stats.Mean),
			zap.Duration("max", stats.Max))
	}
}

// eventTask extracts a task node carried by an event, or nil
func eventTask(e events.Event) *node.Node {
	raw, ok := e.Payload["node"].(map[string]interface{})
	if !ok {
		return nil
	}
	id, _ := raw["id"].(string)
	typ, _ := raw["type"].(string)
	status, _ := raw["status"].(string)
	if id == "" || node.Type(typ) != node.TypeTask {
		return nil
	}
	return &node.Node{ID: id, Type: node.TypeTask, Status: node.Status(status)}
}

// Assignment is one dispatch decision
type Assignment struct {
	TaskID  string `json:"taskId"`
	AgentID string `json:"agentId"`
}

// DispatchOptions filters and gates a dispatch pass
type DispatchOptions struct {
	NodeType node.Type // defaults to task
	Tags     []string  // optional tag filter on the pending query
	DryRun   bool
}

// Dispatch queries pending tasks and assigns each to the best capable
// agent: enqueue when absent, then claim. In dry-run mode no side
// effects happen and the would-be assignments are returned; given no
// intervening state change a real run produces the same assignments.
func (o *Orchestrator) Dispatch(ctx context.Context, opts DispatchOptions) ([]Assignment, error) {
	nodeType := opts.NodeType
	if nodeType == "" {
		nodeType = node.TypeTask
	}
	filter := index.Filter{
		Types:    []node.Type{nodeType},
		Statuses: []node.Status{node.StatusPending},
	}
	if len(opts.Tags) > 0 {
		filter.TagsAny = opts.Tags
	}
	pending, err := o.g.Query(graph.QueryOptions{Filter: filter})
	if err != nil {
		return nil, err
	}

	var assignments []Assignment
	// Hypothetical load so dry-run respects concurrency the same way a
	// real pass would as claims accumulate
	load := make(map[string]int)

	for _, task := range pending {
		select {
		case <-ctx.Done():
			return assignments, ctx.Err()
		default:
		}

		capable := o.reg.FindCapable(agents.CapabilityQuery{
			NodeType: task.Type,
			Tags:     task.Tags,
		})
		var best *agents.Agent
		for _, candidate := range capable {
			if candidate.FreeSlots()-load[candidate.Config.ID] > 0 {
				best = candidate
				break
			}
		}
		if best == nil {
			continue
		}

		if !opts.DryRun {
			if _, err := o.q.Enqueue(task.ID, queue.EnqueueOptions{}); err != nil {
				o.logger.Warn("dispatch enqueue failed", zap.String("task", task.ID), zap.Error(err))
				continue
			}
			if _, err := o.q.Claim(queue.ClaimRequest{AgentID: best.Config.ID, TaskID: task.ID}); err != nil {
				o.logger.Warn("dispatch claim failed", zap.String("task", task.ID), zap.Error(err))
				continue
			}
		}
		load[best.Config.ID]++
		assignments = append(assignments, Assignment{TaskID: task.ID, AgentID: best.Config.ID})
	}
	return assignments, nil
}
