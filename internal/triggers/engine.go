package triggers

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nenadatanasovski/memory-cube/internal/events"
	"github.com/nenadatanasovski/memory-cube/internal/graph"
	"github.com/nenadatanasovski/memory-cube/internal/node"
	"github.com/nenadatanasovski/memory-cube/internal/notify"
	"github.com/nenadatanasovski/memory-cube/internal/types"
)

// ActionContext carries everything an action needs
type ActionContext struct {
	Event   events.Event
	Trigger *Trigger
	Action  Action
	Graph   *graph.Graph
	Notify  *notify.Registry
	Logger  *zap.Logger

	// Context is the interpolation scope {event, trigger}
	Context map[string]interface{}
}

// Interpolate resolves placeholders in an action parameter
func (c *ActionContext) Interpolate(s string) string {
	return Interpolate(s, c.Context)
}

// Param returns the interpolated value of an action parameter
func (c *ActionContext) Param(key string) string {
	return c.Interpolate(c.Action.Params[key])
}

// ActionFunc executes one action type
type ActionFunc func(*ActionContext) error

// Engine evaluates the rule table against every bus event
type Engine struct {
	g      *graph.Graph
	bus    *events.Bus
	elog   *events.Log
	nr     *notify.Registry
	logger *zap.Logger

	mu      sync.Mutex
	rules   []*Trigger
	actions map[string]ActionFunc
	firing  map[string]bool // per-rule re-entrancy guard
	subID   string
	seq     int // insertion counter for stable priority ties
	order   map[string]int
}

// Options configures an Engine
type Options struct {
	Graph    *graph.Graph
	Bus      *events.Bus
	Log      *events.Log // optional; nil disables log entries
	Notify   *notify.Registry
	Logger   *zap.Logger
}

// NewEngine builds a trigger engine with the built-in action catalog
func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	nr := opts.Notify
	if nr == nil {
		nr = notify.DefaultRegistry(logger)
	}
	e := &Engine{
		g:       opts.Graph,
		bus:     opts.Bus,
		elog:    opts.Log,
		nr:      nr,
		logger:  logger.Named("triggers"),
		actions: make(map[string]ActionFunc),
		firing:  make(map[string]bool),
		order:   make(map[string]int),
	}
	registerBuiltins(e)
	return e
}

// Attach subscribes the engine to every bus event. Detach reverses it.
func (e *Engine) Attach() {
	e.subID = e.bus.Subscribe(events.Wildcard, func(ev events.Event) error {
		e.Process(ev)
		return nil
	})
}

// Detach unsubscribes the engine from the bus
func (e *Engine) Detach() {
	if e.subID != "" {
		e.bus.Unsubscribe(e.subID)
		e.subID = ""
	}
}

// RegisterAction adds a custom action type to the catalog
func (e *Engine) RegisterAction(actionType string, fn ActionFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.actions[actionType] = fn
}

// Register adds a rule to the table; a duplicate id is a conflict
func (e *Engine) Register(t *Trigger) error {
	if t.ID == "" || len(t.EventTypes) == 0 {
		return types.E(types.KindInvalidInput, "triggers.register", "rule needs id and event types")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, existing := range e.rules {
		if existing.ID == t.ID {
			return types.E(types.KindConflict, "triggers.register", "trigger %q exists", t.ID)
		}
	}
	e.seq++
	e.order[t.ID] = e.seq
	e.rules = append(e.rules, t)
	return nil
}

// Unregister removes a rule by id
func (e *Engine) Unregister(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, t := range e.rules {
		if t.ID == id {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			delete(e.order, id)
			return true
		}
	}
	return false
}

// Get returns a rule by id
func (e *Engine) Get(id string) *Trigger {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.rules {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// List returns the rule table sorted by priority descending, insertion
// order on ties
func (e *Engine) List() []*Trigger {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sortedLocked()
}

// SetEnabled flips a rule on or off
func (e *Engine) SetEnabled(id string, enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.rules {
		if t.ID == id {
			t.Enabled = enabled
			return true
		}
	}
	return false
}

func (e *Engine) sortedLocked() []*Trigger {
	out := make([]*Trigger, len(e.rules))
	copy(out, e.rules)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return e.order[out[i].ID] < e.order[out[j].ID]
	})
	return out
}

// Process evaluates the rule table for one event. Events produced by
// the engine itself (trigger.fired, trigger.error) are ignored to
// prevent loops; a rule never re-enters while its own actions run.
func (e *Engine) Process(ev events.Event) {
	if ev.Type == events.TriggerFired || ev.Type == events.TriggerError {
		return
	}

	e.mu.Lock()
	rules := e.sortedLocked()
	e.mu.Unlock()

	now := time.Now()
	var activated []string
	var errs []string

	for _, rule := range rules {
		if !rule.Enabled || !rule.matchesEventType(string(ev.Type)) {
			continue
		}

		e.mu.Lock()
		if e.firing[rule.ID] {
			e.mu.Unlock()
			continue
		}
		if rule.CooldownMs > 0 && !rule.lastFiredAt.IsZero() &&
			now.Sub(rule.lastFiredAt) < time.Duration(rule.CooldownMs)*time.Millisecond {
			e.mu.Unlock()
			continue
		}
		e.mu.Unlock()

		if !e.conditionsMet(rule, ev) {
			continue
		}

		e.mu.Lock()
		e.firing[rule.ID] = true
		rule.lastFiredAt = now
		e.mu.Unlock()

		actionTypes, actionErrs := e.runActions(rule, ev)

		e.mu.Lock()
		delete(e.firing, rule.ID)
		e.mu.Unlock()

		activated = append(activated, rule.ID)
		errs = append(errs, actionErrs...)

		e.bus.Emit(events.New(events.TriggerFired, map[string]interface{}{
			"triggerId": rule.ID,
			"trigger":   rule.Name,
			"actions":   actionTypes,
			"eventId":   ev.ID,
			"eventType": string(ev.Type),
		}))
	}

	if e.elog != nil {
		entry := events.LogEntry{
			Event:             ev,
			ProcessedAt:       time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
			TriggersActivated: activated,
			Errors:            errs,
		}
		if entry.TriggersActivated == nil {
			entry.TriggersActivated = []string{}
		}
		if err := e.elog.Append(entry); err != nil {
			e.logger.Warn("event log append failed", zap.Error(err))
		}
	}
}

// runActions executes a rule's actions in order. A failing action emits
// trigger.error and does not halt the remaining actions.
func (e *Engine) runActions(rule *Trigger, ev events.Event) ([]string, []string) {
	ctx := &ActionContext{
		Event:   ev,
		Trigger: rule,
		Graph:   e.g,
		Notify:  e.nr,
		Logger:  e.logger,
		Context: interpolationContext(ev, rule),
	}

	var ran []string
	var errs []string
	for _, action := range rule.Actions {
		e.mu.Lock()
		fn, known := e.actions[action.Type]
		e.mu.Unlock()
		if !known {
			e.logger.Warn("unknown action type, skipping",
				zap.String("trigger", rule.ID),
				zap.String("action", action.Type))
			continue
		}
		ctx.Action = action
		if err := fn(ctx); err != nil {
			errs = append(errs, err.Error())
			e.bus.Emit(events.New(events.TriggerError, map[string]interface{}{
				"triggerId": rule.ID,
				"action":    action.Type,
				"error":     err.Error(),
			}))
			continue
		}
		ran = append(ran, action.Type)
	}
	return ran, errs
}

// conditionsMet resolves the node in scope (when the event carries one)
// and evaluates the declarative conditions against it. A condition that
// needs a node rejects the rule when the event has none.
func (e *Engine) conditionsMet(rule *Trigger, ev events.Event) bool {
	c := rule.Conditions
	if c.Empty() {
		return true
	}
	n := payloadNode(ev)
	if n == nil {
		return false
	}

	if len(c.NodeTypes) > 0 && !containsEnum(c.NodeTypes, n.Type) {
		return false
	}
	if len(c.Statuses) > 0 && !containsEnum(c.Statuses, n.Status) {
		return false
	}
	if len(c.Validities) > 0 && !containsEnum(c.Validities, n.Validity) {
		return false
	}
	for _, tag := range c.Tags {
		if !containsString(n.Tags, tag) {
			return false
		}
	}
	if len(c.TagsAny) > 0 {
		any := false
		for _, tag := range c.TagsAny {
			if containsString(n.Tags, tag) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	if c.HasEdge != nil {
		if !e.hasEdge(n, c.HasEdge) {
			return false
		}
	}
	return true
}

func (e *Engine) hasEdge(n *node.Node, cond *EdgeCondition) bool {
	if cond.Direction == "out" || cond.Direction == "" || cond.Direction == "both" {
		for _, edge := range n.Edges {
			if edge.Type == cond.Type {
				return true
			}
		}
	}
	if (cond.Direction == "in" || cond.Direction == "both") && e.g != nil && e.g.Index() != nil {
		incoming, err := e.g.Index().EdgesTo(n.ID)
		if err == nil {
			for _, edge := range incoming {
				if edge.Type == cond.Type {
					return true
				}
			}
		}
	}
	return false
}

// payloadNode extracts the node snapshot an event carries, or nil
func payloadNode(ev events.Event) *node.Node {
	raw, ok := ev.Payload["node"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case *node.Node:
		return v
	case map[string]interface{}:
		data, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		var n node.Node
		if err := json.Unmarshal(data, &n); err != nil {
			return nil
		}
		return &n
	default:
		return nil
	}
}

// interpolationContext builds the {{path}} scope {event, trigger}
func interpolationContext(ev events.Event, rule *Trigger) map[string]interface{} {
	eventScope := map[string]interface{}{
		"id":        ev.ID,
		"type":      string(ev.Type),
		"timestamp": ev.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
	}
	payload := make(map[string]interface{}, len(ev.Payload))
	for k, v := range ev.Payload {
		payload[k] = v
	}
	eventScope["payload"] = payload

	return map[string]interface{}{
		"event": eventScope,
		"trigger": map[string]interface{}{
			"id":   rule.ID,
			"name": rule.Name,
		},
	}
}

func containsEnum[T comparable](values []T, v T) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func containsString(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
