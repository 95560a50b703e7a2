package triggers

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nenadatanasovski/memory-cube/internal/events"
	"github.com/nenadatanasovski/memory-cube/internal/graph"
	"github.com/nenadatanasovski/memory-cube/internal/node"
	"github.com/nenadatanasovski/memory-cube/internal/notify"
	"github.com/nenadatanasovski/memory-cube/internal/types"
	"github.com/nenadatanasovski/memory-cube/internal/workspace"
)

type rig struct {
	g      *graph.Graph
	bus    *events.Bus
	engine *Engine
	elog   *events.Log
}

func newRig(t *testing.T) *rig {
	t.Helper()
	root := t.TempDir()
	bus := events.NewBus(nil)
	g := graph.New(graph.Options{Root: root, EnableIndex: true, Bus: bus})
	require.NoError(t, g.Init())
	t.Cleanup(func() { g.Close() })

	elog, err := events.OpenLog(filepath.Join(root, workspace.EventLogFile), events.LogOptions{})
	require.NoError(t, err)

	engine := NewEngine(Options{Graph: g, Bus: bus, Log: elog, Notify: notify.NewRegistry(), Logger: nil})
	engine.Attach()
	t.Cleanup(engine.Detach)
	return &rig{g: g, bus: bus, engine: engine, elog: elog}
}

func TestEngine_StaleDocumentationFanout(t *testing.T) {
	// Updating a code node marks every doc documenting it stale
	r := newRig(t)

	require.NoError(t, r.engine.Register(&Trigger{
		ID:         "T1",
		Name:       "stale docs",
		Enabled:    true,
		EventTypes: []string{string(events.NodeUpdated)},
		Conditions: &Conditions{NodeTypes: []node.Type{node.TypeCode}},
		Actions:    []Action{{Type: ActionInvalidate, Params: map[string]string{"nodeId": "{{event.payload.nodeId}}"}}},
	}))

	var fired []events.Event
	r.bus.Subscribe(string(events.TriggerFired), func(e events.Event) error {
		fired = append(fired, e)
		return nil
	})

	c1, err := r.g.Create(node.CreateInput{Type: node.TypeCode, Title: "c1", Content: "v1"}, nil)
	require.NoError(t, err)
	d1, err := r.g.Create(node.CreateInput{Type: node.TypeDoc, Title: "d1"}, nil)
	require.NoError(t, err)
	_, err = r.g.Link(d1.ID, node.EdgeDocuments, c1.ID, nil)
	require.NoError(t, err)

	content := "v2"
	_, err = r.g.Update(c1.ID, node.UpdateInput{Content: &content})
	require.NoError(t, err)

	// d1 transitioned to stale within the dispatch
	got, err := r.g.Get(d1.ID)
	require.NoError(t, err)
	assert.Equal(t, node.ValidityStale, got.Validity)

	// Exactly one trigger.fired with the invalidate action for c1's update.
	// (d1's own validity update is a doc node, so T1 does not match it.)
	require.Len(t, fired, 1)
	assert.Equal(t, "T1", fired[0].Payload["triggerId"])
	actions := fired[0].Payload["actions"].([]string)
	assert.Equal(t, []string{ActionInvalidate}, actions)

	// Exactly one log entry for c1's update carries T1
	entries, err := r.elog.ReadByType(events.NodeUpdated, 0)
	require.NoError(t, err)
	withT1 := 0
	for _, entry := range entries {
		for _, id := range entry.TriggersActivated {
			if id == "T1" {
				withT1++
			}
		}
	}
	assert.Equal(t, 1, withT1)
}

func TestEngine_Cooldown(t *testing.T) {
	r := newRig(t)
	count := 0
	r.engine.RegisterAction("count", func(*ActionContext) error {
		count++
		return nil
	})
	require.NoError(t, r.engine.Register(&Trigger{
		ID:         "cool",
		Enabled:    true,
		EventTypes: []string{string(events.CodeFileChanged)},
		Actions:    []Action{{Type: "count"}},
		CooldownMs: 60_000,
	}))

	for i := 0; i < 10; i++ {
		r.bus.Emit(events.New(events.CodeFileChanged, nil))
	}
	assert.Equal(t, 1, count, "storm fires at most once per cooldown window")
}

func TestEngine_CooldownExpires(t *testing.T) {
	r := newRig(t)
	count := 0
	r.engine.RegisterAction("count", func(*ActionContext) error {
		count++
		return nil
	})
	require.NoError(t, r.engine.Register(&Trigger{
		ID:         "cool2",
		Enabled:    true,
		EventTypes: []string{string(events.CodeFileChanged)},
		Actions:    []Action{{Type: "count"}},
		CooldownMs: 10,
	}))

	r.bus.Emit(events.New(events.CodeFileChanged, nil))
	time.Sleep(30 * time.Millisecond)
	r.bus.Emit(events.New(events.CodeFileChanged, nil))
	assert.Equal(t, 2, count)
}

func TestEngine_LoopPrevention(t *testing.T) {
	// A rule on node.created whose action creates a node must not
	// re-enter itself
	r := newRig(t)
	require.NoError(t, r.engine.Register(&Trigger{
		ID:         "spawner",
		Enabled:    true,
		EventTypes: []string{string(events.NodeCreated)},
		Conditions: &Conditions{NodeTypes: []node.Type{node.TypeTask}},
		Actions: []Action{{Type: ActionCreateNode, Params: map[string]string{
			"nodeType": "event",
			"title":    "spawned from {{event.payload.nodeId}}",
		}}},
	}))

	_, err := r.g.Create(node.CreateInput{Type: node.TypeTask, Title: "seed"}, nil)
	require.NoError(t, err)

	stats, err := r.g.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ByType[node.TypeTask])
	assert.Equal(t, 1, stats.ByType[node.TypeEvent], "exactly one spawned node, no cascade")
}

func TestEngine_PriorityOrder(t *testing.T) {
	r := newRig(t)
	var order []string
	r.engine.RegisterAction("mark", func(ctx *ActionContext) error {
		order = append(order, ctx.Trigger.ID)
		return nil
	})
	require.NoError(t, r.engine.Register(&Trigger{
		ID: "low", Enabled: true, Priority: 1,
		EventTypes: []string{string(events.CodeFileChanged)},
		Actions:    []Action{{Type: "mark"}},
	}))
	require.NoError(t, r.engine.Register(&Trigger{
		ID: "high", Enabled: true, Priority: 10,
		EventTypes: []string{string(events.CodeFileChanged)},
		Actions:    []Action{{Type: "mark"}},
	}))
	require.NoError(t, r.engine.Register(&Trigger{
		ID: "low-too", Enabled: true, Priority: 1,
		EventTypes: []string{string(events.CodeFileChanged)},
		Actions:    []Action{{Type: "mark"}},
	}))

	r.bus.Emit(events.New(events.CodeFileChanged, nil))
	assert.Equal(t, []string{"high", "low", "low-too"}, order)
}

func TestEngine_DisabledRuleSkipped(t *testing.T) {
	r := newRig(t)
	count := 0
	r.engine.RegisterAction("count", func(*ActionContext) error { count++; return nil })
	require.NoError(t, r.engine.Register(&Trigger{
		ID: "off", Enabled: false,
		EventTypes: []string{string(events.CodeFileChanged)},
		Actions:    []Action{{Type: "count"}},
	}))

	r.bus.Emit(events.New(events.CodeFileChanged, nil))
	assert.Zero(t, count)

	r.engine.SetEnabled("off", true)
	r.bus.Emit(events.New(events.CodeFileChanged, nil))
	assert.Equal(t, 1, count)
}

func TestEngine_ConditionNeedsNode(t *testing.T) {
	r := newRig(t)
	count := 0
	r.engine.RegisterAction("count", func(*ActionContext) error { count++; return nil })
	require.NoError(t, r.engine.Register(&Trigger{
		ID: "needs-node", Enabled: true,
		EventTypes: []string{string(events.CodeFileChanged)},
		Conditions: &Conditions{NodeTypes: []node.Type{node.TypeCode}},
		Actions:    []Action{{Type: "count"}},
	}))

	// code.file_changed carries no node; the condition rejects the rule
	r.bus.Emit(events.New(events.CodeFileChanged, map[string]interface{}{"path": "x.go"}))
	assert.Zero(t, count)
}

func TestEngine_UnknownActionSkipped(t *testing.T) {
	r := newRig(t)
	ran := false
	r.engine.RegisterAction("real", func(*ActionContext) error { ran = true; return nil })
	require.NoError(t, r.engine.Register(&Trigger{
		ID: "mixed", Enabled: true,
		EventTypes: []string{string(events.CodeFileChanged)},
		Actions:    []Action{{Type: "no-such-action"}, {Type: "real"}},
	}))

	r.bus.Emit(events.New(events.CodeFileChanged, nil))
	assert.True(t, ran, "unknown action is a non-fatal skip")
}

func TestEngine_FailingActionEmitsTriggerError(t *testing.T) {
	r := newRig(t)
	var errorsSeen []events.Event
	r.bus.Subscribe(string(events.TriggerError), func(e events.Event) error {
		errorsSeen = append(errorsSeen, e)
		return nil
	})
	secondRan := false
	r.engine.RegisterAction("fail", func(*ActionContext) error {
		return types.E(types.KindIO, "test", "deliberate")
	})
	r.engine.RegisterAction("after", func(*ActionContext) error { secondRan = true; return nil })
	require.NoError(t, r.engine.Register(&Trigger{
		ID: "failing", Enabled: true,
		EventTypes: []string{string(events.CodeFileChanged)},
		Actions:    []Action{{Type: "fail"}, {Type: "after"}},
	}))

	r.bus.Emit(events.New(events.CodeFileChanged, nil))
	require.Len(t, errorsSeen, 1)
	assert.Equal(t, "failing", errorsSeen[0].Payload["triggerId"])
	assert.True(t, secondRan, "failure does not halt remaining actions")
}

func TestEngine_RegisterDuplicate(t *testing.T) {
	r := newRig(t)
	tr := &Trigger{ID: "dup", Enabled: true, EventTypes: []string{"x"}}
	require.NoError(t, r.engine.Register(tr))
	err := r.engine.Register(&Trigger{ID: "dup", Enabled: true, EventTypes: []string{"x"}})
	assert.True(t, types.IsKind(err, types.KindConflict))
}

func TestEngine_RulesRoundTripYAML(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.engine.Register(&Trigger{
		ID:         "persisted",
		Name:       "persisted rule",
		Enabled:    true,
		EventTypes: []string{string(events.NodeUpdated)},
		Conditions: &Conditions{NodeTypes: []node.Type{node.TypeCode}, Tags: []string{"api"}},
		Actions:    []Action{{Type: ActionNotify, Params: map[string]string{"target": "log", "message": "{{event.type}}"}}},
		Priority:   5,
		CooldownMs: 1000,
	}))

	path := filepath.Join(t.TempDir(), "triggers.yaml")
	require.NoError(t, r.engine.SaveRules(path))

	other := NewEngine(Options{Graph: r.g, Bus: events.NewBus(nil), Notify: notify.NewRegistry()})
	count, err := other.LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	loaded := other.Get("persisted")
	require.NotNil(t, loaded)
	assert.Equal(t, "persisted rule", loaded.Name)
	assert.Equal(t, int64(1000), loaded.CooldownMs)
	assert.Equal(t, []node.Type{node.TypeCode}, loaded.Conditions.NodeTypes)
	assert.Equal(t, "{{event.type}}", loaded.Actions[0].Params["message"])
}

func TestEngine_LoadMissingFileIsEmpty(t *testing.T) {
	r := newRig(t)
	count, err := r.engine.LoadRules(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Zero(t, count)
}
