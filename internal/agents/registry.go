package agents

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nenadatanasovski/memory-cube/internal/events"
	"github.com/nenadatanasovski/memory-cube/internal/node"
	"github.com/nenadatanasovski/memory-cube/internal/types"
	"github.com/nenadatanasovski/memory-cube/internal/workspace"
)

// DefaultHeartbeatIntervalMs is assumed when a registration does not
// set its own
const DefaultHeartbeatIntervalMs = 30_000

// Registry holds agents in memory, persisting configs together in
// agents.json and state per agent under agent-state/
type Registry struct {
	ws     *workspace.Store
	bus    *events.Bus
	logger *zap.Logger

	mu         sync.RWMutex
	agents     map[string]*Agent
	claimTimes map[string]time.Time // agentID/taskID -> claim instant
}

// configsFile is the agents.json shape
type configsFile struct {
	Agents []Config `json:"agents"`
}

// NewRegistry creates a registry backed by the workspace
func NewRegistry(ws *workspace.Store, bus *events.Bus, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		ws:         ws,
		bus:        bus,
		logger:     logger.Named("agents"),
		agents:     make(map[string]*Agent),
		claimTimes: make(map[string]time.Time),
	}
}

// Load reads agents.json and each agent's state file
func (r *Registry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.ws.Path(workspace.AgentsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return types.Wrap(types.KindIO, "agents.load", err)
	}
	var file configsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return types.Wrap(types.KindIO, "agents.load", err)
	}
	for _, cfg := range file.Agents {
		agent := &Agent{Config: cfg, State: r.loadStateLocked(cfg.ID)}
		r.agents[cfg.ID] = agent
	}
	return nil
}

// Register adds a new agent. Duplicate ids are rejected; capabilities
// merge over the defaults; state comes from the per-agent state file or
// initializes to idle.
func (r *Registry) Register(cfg Config) (*Agent, error) {
	if cfg.ID == "" {
		return nil, types.E(types.KindInvalidInput, "agents.register", "agent id required")
	}
	r.mu.Lock()
	if _, exists := r.agents[cfg.ID]; exists {
		r.mu.Unlock()
		return nil, types.E(types.KindConflict, "agents.register", "agent %q exists", cfg.ID)
	}
	cfg.Capabilities = mergeCapabilities(cfg.Capabilities)
	agent := &Agent{Config: cfg, State: r.loadStateLocked(cfg.ID)}
	r.agents[cfg.ID] = agent

	err := r.persistLocked(agent)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	r.emit(events.AgentRegistered, map[string]interface{}{
		"agentId": cfg.ID,
		"role":    cfg.Role,
	})
	return cloneAgent(agent), nil
}

// Unregister removes an agent; it refuses while the agent owns claims
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	agent, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return types.E(types.KindNotFound, "agents.unregister", "agent %q", id)
	}
	if len(agent.State.ClaimedTasks) > 0 {
		r.mu.Unlock()
		return types.E(types.KindConflict, "agents.unregister",
			"agent %q owns %d claims", id, len(agent.State.ClaimedTasks))
	}
	delete(r.agents, id)
	os.Remove(r.statePath(id))
	err := r.saveConfigsLocked()
	r.mu.Unlock()
	if err != nil {
		return err
	}

	r.emit(events.AgentUnregistered, map[string]interface{}{"agentId": id})
	return nil
}

// Get returns a copy of the agent
func (r *Registry) Get(id string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[id]
	if !ok {
		return nil, types.E(types.KindNotFound, "agents.get", "agent %q", id)
	}
	return cloneAgent(agent), nil
}

// List returns copies of all agents, stable by id
func (r *Registry) List() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Agent, 0, len(r.agents))
	for _, agent := range r.agents {
		out = append(out, cloneAgent(agent))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Config.ID < out[j].Config.ID })
	return out
}

// SetStatus moves an agent to a new status
func (r *Registry) SetStatus(id string, status Status) error {
	if !status.Valid() {
		return types.E(types.KindInvalidInput, "agents.set_status", "unknown status %q", status)
	}
	r.mu.Lock()
	agent, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return types.E(types.KindNotFound, "agents.set_status", "agent %q", id)
	}
	from := agent.State.Status
	agent.State.Status = status
	err := r.saveStateLocked(agent)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	if from != status {
		r.emit(events.AgentStatusChanged, map[string]interface{}{
			"agentId": id,
			"from":    string(from),
			"to":      string(status),
		})
	}
	return nil
}

// Heartbeat records liveness, refreshing lastHeartbeat and
// lastActiveAt; an offline agent is promoted back to idle
func (r *Registry) Heartbeat(id string) error {
	r.mu.Lock()
	agent, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return types.E(types.KindNotFound, "agents.heartbeat", "agent %q", id)
	}
	now := time.Now().UTC()
	agent.State.LastHeartbeat = now
	agent.State.Stats.LastActiveAt = now
	promoted := false
	if agent.State.Status == StatusOffline {
		agent.State.Status = StatusIdle
		promoted = true
	}
	err := r.saveStateLocked(agent)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	r.emit(events.AgentHeartbeat, map[string]interface{}{"agentId": id})
	if promoted {
		r.emit(events.AgentStatusChanged, map[string]interface{}{
			"agentId": id,
			"from":    string(StatusOffline),
			"to":      string(StatusIdle),
		})
	}
	return nil
}

// AddClaimedTask records a claim and moves the agent to working
func (r *Registry) AddClaimedTask(id, taskID string) error {
	r.mu.Lock()
	agent, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return types.E(types.KindNotFound, "agents.add_claim", "agent %q", id)
	}
	agent.State.ClaimedTasks = append(agent.State.ClaimedTasks, taskID)
	agent.State.Status = StatusWorking
	agent.State.Stats.LastActiveAt = time.Now().UTC()
	r.claimTimes[id+"/"+taskID] = time.Now()
	err := r.saveStateLocked(agent)
	r.mu.Unlock()
	return err
}

// RemoveClaimedTask releases a claim, updating the completed/failed
// counters and the running average completion time. The agent returns
// to idle once its last claim is released.
func (r *Registry) RemoveClaimedTask(id, taskID string, completed bool) error {
	r.mu.Lock()
	agent, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return types.E(types.KindNotFound, "agents.remove_claim", "agent %q", id)
	}
	kept := agent.State.ClaimedTasks[:0]
	for _, claimed := range agent.State.ClaimedTasks {
		if claimed != taskID {
			kept = append(kept, claimed)
		}
	}
	agent.State.ClaimedTasks = kept

	key := id + "/" + taskID
	if claimedAt, ok := r.claimTimes[key]; ok {
		delete(r.claimTimes, key)
		if completed {
			elapsed := time.Since(claimedAt).Milliseconds()
			total := agent.State.Stats.Completed
			agent.State.Stats.AvgCompletionMs =
				(agent.State.Stats.AvgCompletionMs*int64(total) + elapsed) / int64(total+1)
		}
	}
	if completed {
		agent.State.Stats.Completed++
	} else {
		agent.State.Stats.Failed++
	}
	agent.State.Stats.LastActiveAt = time.Now().UTC()
	if len(agent.State.ClaimedTasks) == 0 && agent.State.Status == StatusWorking {
		agent.State.Status = StatusIdle
	}
	err := r.saveStateLocked(agent)
	r.mu.Unlock()
	return err
}

// CheckStale moves agents whose last heartbeat is older than the
// threshold to offline and returns their ids
func (r *Registry) CheckStale(threshold time.Duration) []string {
	now := time.Now().UTC()
	var stale []string

	r.mu.Lock()
	for id, agent := range r.agents {
		if agent.State.Status == StatusOffline {
			continue
		}
		last := agent.State.LastHeartbeat
		if last.IsZero() || now.Sub(last) > threshold {
			agent.State.Status = StatusOffline
			r.saveStateLocked(agent)
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()

	sort.Strings(stale)
	for _, id := range stale {
		r.emit(events.AgentStale, map[string]interface{}{"agentId": id})
	}
	return stale
}

// FindCapable returns agents that are online, have free slots, match
// the role when one is required, support the node type, and share at
// least one required tag. Sorted by priorityBoost descending, then by
// current claim count ascending.
func (r *Registry) FindCapable(q CapabilityQuery) []*Agent {
	r.mu.RLock()
	var out []*Agent
	for _, agent := range r.agents {
		if agent.State.Status == StatusOffline {
			continue
		}
		if agent.FreeSlots() <= 0 {
			continue
		}
		if q.Role != "" && agent.Config.Role != q.Role {
			continue
		}
		if q.NodeType != "" && !agent.Config.Capabilities.SupportsNodeType(q.NodeType) {
			continue
		}
		if !agent.Config.Capabilities.HasAnyTag(q.Tags) {
			continue
		}
		out = append(out, cloneAgent(agent))
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		bi, bj := out[i].Config.Capabilities.PriorityBoost, out[j].Config.Capabilities.PriorityBoost
		if bi != bj {
			return bi > bj
		}
		ci, cj := len(out[i].State.ClaimedTasks), len(out[j].State.ClaimedTasks)
		if ci != cj {
			return ci < cj
		}
		return out[i].Config.ID < out[j].Config.ID
	})
	return out
}

// persistence

func (r *Registry) statePath(id string) string {
	return r.ws.Path(workspace.AgentStateDir, id+".json")
}

func (r *Registry) loadStateLocked(id string) State {
	state := State{
		Status:              StatusIdle,
		ClaimedTasks:        []string{},
		HeartbeatIntervalMs: DefaultHeartbeatIntervalMs,
	}
	data, err := os.ReadFile(r.statePath(id))
	if err != nil {
		return state
	}
	if err := json.Unmarshal(data, &state); err != nil {
		r.logger.Warn("corrupt agent state, reinitializing", zap.String("agent", id), zap.Error(err))
		return State{Status: StatusIdle, ClaimedTasks: []string{}, HeartbeatIntervalMs: DefaultHeartbeatIntervalMs}
	}
	if state.ClaimedTasks == nil {
		state.ClaimedTasks = []string{}
	}
	if state.HeartbeatIntervalMs <= 0 {
		state.HeartbeatIntervalMs = DefaultHeartbeatIntervalMs
	}
	return state
}

func (r *Registry) saveStateLocked(agent *Agent) error {
	if err := os.MkdirAll(filepath.Dir(r.statePath(agent.Config.ID)), 0755); err != nil {
		return types.Wrap(types.KindIO, "agents.save_state", err)
	}
	data, err := json.MarshalIndent(agent.State, "", "  ")
	if err != nil {
		return types.Wrap(types.KindIO, "agents.save_state", err)
	}
	if err := os.WriteFile(r.statePath(agent.Config.ID), data, 0644); err != nil {
		return types.Wrap(types.KindIO, "agents.save_state", err)
	}
	return nil
}

func (r *Registry) saveConfigsLocked() error {
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	file := configsFile{Agents: make([]Config, 0, len(ids))}
	for _, id := range ids {
		file.Agents = append(file.Agents, r.agents[id].Config)
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return types.Wrap(types.KindIO, "agents.save", err)
	}
	if err := os.WriteFile(r.ws.Path(workspace.AgentsFile), data, 0644); err != nil {
		return types.Wrap(types.KindIO, "agents.save", err)
	}
	return nil
}

func (r *Registry) persistLocked(agent *Agent) error {
	if err := r.saveConfigsLocked(); err != nil {
		return err
	}
	return r.saveStateLocked(agent)
}

func (r *Registry) emit(t events.EventType, payload map[string]interface{}) {
	if r.bus != nil {
		r.bus.Emit(events.New(t, payload))
	}
}

// mergeCapabilities fills zero-valued fields from the defaults
func mergeCapabilities(c Capabilities) Capabilities {
	defaults := DefaultCapabilities()
	if c.NodeTypes == nil {
		c.NodeTypes = defaults.NodeTypes
	}
	if c.EdgeTypes == nil {
		c.EdgeTypes = defaults.EdgeTypes
	}
	if c.Tags == nil {
		c.Tags = defaults.Tags
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = defaults.MaxConcurrent
	}
	return c
}

func cloneAgent(a *Agent) *Agent {
	out := *a
	out.State.ClaimedTasks = append([]string{}, a.State.ClaimedTasks...)
	out.Config.Capabilities.NodeTypes = append([]node.Type{}, a.Config.Capabilities.NodeTypes...)
	out.Config.Capabilities.EdgeTypes = append([]node.EdgeType{}, a.Config.Capabilities.EdgeTypes...)
	out.Config.Capabilities.Tags = append([]string{}, a.Config.Capabilities.Tags...)
	return &out
}
