package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nenadatanasovski/memory-cube/internal/agents"
	"github.com/nenadatanasovski/memory-cube/internal/events"
	"github.com/nenadatanasovski/memory-cube/internal/graph"
	"github.com/nenadatanasovski/memory-cube/internal/node"
	"github.com/nenadatanasovski/memory-cube/internal/queue"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type rig struct {
	g   *graph.Graph
	reg *agents.Registry
	q   *queue.Queue
	bus *events.Bus
	o   *Orchestrator
}

func newRig(t *testing.T, opts Options) *rig {
	t.Helper()
	bus := events.NewBus(nil)
	g := graph.New(graph.Options{Root: t.TempDir(), EnableIndex: true, Bus: bus})
	require.NoError(t, g.Init())
	t.Cleanup(func() { g.Close() })

	reg := agents.NewRegistry(g.Workspace(), bus, nil)
	q := queue.New(g, reg, bus, nil)

	opts.Graph = g
	opts.Registry = reg
	opts.Queue = q
	opts.Bus = bus
	o := New(opts)
	return &rig{g: g, reg: reg, q: q, bus: bus, o: o}
}

func TestAutoEnqueue_OnTaskCreated(t *testing.T) {
	r := newRig(t, Options{})
	r.o.Start(context.Background())
	defer r.o.Stop()

	task, err := r.g.Create(node.CreateInput{Type: node.TypeTask, Title: "new work"}, nil)
	require.NoError(t, err)

	queued := r.q.GetQueued()
	require.Len(t, queued, 1)
	assert.Equal(t, task.ID, queued[0].TaskID)
}

func TestAutoEnqueue_SkipsNonPending(t *testing.T) {
	r := newRig(t, Options{})
	r.o.Start(context.Background())
	defer r.o.Stop()

	_, err := r.g.Create(node.CreateInput{Type: node.TypeTask, Title: "done already", Status: node.StatusComplete}, nil)
	require.NoError(t, err)
	_, err = r.g.Create(node.CreateInput{Type: node.TypeDoc, Title: "not a task"}, nil)
	require.NoError(t, err)

	assert.Empty(t, r.q.GetQueued())
}

func TestAutoEnqueue_OnStatusBackToPending(t *testing.T) {
	r := newRig(t, Options{})

	// Created before the orchestrator runs, then flipped to pending
	task, err := r.g.Create(node.CreateInput{Type: node.TypeTask, Title: "later", Status: node.StatusBlocked}, nil)
	require.NoError(t, err)

	r.o.Start(context.Background())
	defer r.o.Stop()

	pending := node.StatusPending
	_, err = r.g.Update(task.ID, node.UpdateInput{Status: &pending})
	require.NoError(t, err)

	queued := r.q.GetQueued()
	require.Len(t, queued, 1)
	assert.Equal(t, task.ID, queued[0].TaskID)
}

func TestStop_Idempotent(t *testing.T) {
	r := newRig(t, Options{})
	r.o.Start(context.Background())
	r.o.Stop()
	r.o.Stop()

	// After stop, no more auto-enqueue
	_, err := r.g.Create(node.CreateInput{Type: node.TypeTask, Title: "after stop"}, nil)
	require.NoError(t, err)
	assert.Empty(t, r.q.GetQueued())
}

func TestDispatch_AssignsToCapableAgent(t *testing.T) {
	r := newRig(t, Options{})
	_, err := r.reg.Register(agents.Config{ID: "coder", Role: "developer",
		Capabilities: agents.Capabilities{Tags: []string{"api"}, MaxConcurrent: 2}})
	require.NoError(t, err)

	t1, err := r.g.Create(node.CreateInput{Type: node.TypeTask, Title: "api work", Tags: []string{"api"}}, nil)
	require.NoError(t, err)

	assignments, err := r.o.Dispatch(context.Background(), DispatchOptions{})
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, t1.ID, assignments[0].TaskID)
	assert.Equal(t, "coder", assignments[0].AgentID)

	n, err := r.g.Get(t1.ID)
	require.NoError(t, err)
	assert.Equal(t, node.StatusClaimed, n.Status)
	assert.Equal(t, "coder", n.AssignedTo)
}

func TestDispatch_DryRunMatchesRealRun(t *testing.T) {
	r := newRig(t, Options{})
	_, err := r.reg.Register(agents.Config{ID: "solo",
		Capabilities: agents.Capabilities{MaxConcurrent: 1}})
	require.NoError(t, err)

	_, err = r.g.Create(node.CreateInput{Type: node.TypeTask, Title: "one"}, nil)
	require.NoError(t, err)
	_, err = r.g.Create(node.CreateInput{Type: node.TypeTask, Title: "two"}, nil)
	require.NoError(t, err)

	dry, err := r.o.Dispatch(context.Background(), DispatchOptions{DryRun: true})
	require.NoError(t, err)
	require.Len(t, dry, 1, "dry run honors max concurrency")
	assert.Empty(t, r.q.GetClaimed(""), "dry run has no side effects")

	real, err := r.o.Dispatch(context.Background(), DispatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, dry, real, "same assignments absent intervening changes")
	assert.Len(t, r.q.GetClaimed("solo"), 1)
}

func TestDispatch_NoCapableAgents(t *testing.T) {
	r := newRig(t, Options{})
	_, err := r.g.Create(node.CreateInput{Type: node.TypeTask, Title: "unloved"}, nil)
	require.NoError(t, err)

	assignments, err := r.o.Dispatch(context.Background(), DispatchOptions{})
	require.NoError(t, err)
	assert.Empty(t, assignments)
}

func TestDispatch_TagFilter(t *testing.T) {
	r := newRig(t, Options{})
	_, err := r.reg.Register(agents.Config{ID: "dev",
		Capabilities: agents.Capabilities{Tags: []string{"api", "db"}, MaxConcurrent: 5}})
	require.NoError(t, err)

	api, err := r.g.Create(node.CreateInput{Type: node.TypeTask, Title: "api", Tags: []string{"api"}}, nil)
	require.NoError(t, err)
	_, err = r.g.Create(node.CreateInput{Type: node.TypeTask, Title: "ui", Tags: []string{"ui"}}, nil)
	require.NoError(t, err)

	assignments, err := r.o.Dispatch(context.Background(), DispatchOptions{Tags: []string{"api"}})
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, api.ID, assignments[0].TaskID)
}

func TestTimers_ExpireClaims(t *testing.T) {
	r := newRig(t, Options{
		ExpiryInterval:    20 * time.Millisecond,
		StalenessInterval: time.Hour,
	})
	_, err := r.reg.Register(agents.Config{ID: "coder"})
	require.NoError(t, err)
	task, err := r.g.Create(node.CreateInput{Type: node.TypeTask, Title: "slow"}, nil)
	require.NoError(t, err)
	_, err = r.q.Enqueue(task.ID, queue.EnqueueOptions{})
	require.NoError(t, err)
	_, err = r.q.Claim(queue.ClaimRequest{AgentID: "coder", TaskID: task.ID, Timeout: 10 * time.Millisecond})
	require.NoError(t, err)

	r.o.Start(context.Background())
	defer r.o.Stop()

	// One expiry interval is enough to release the timed-out claim
	require.Eventually(t, func() bool {
		return len(r.q.GetClaimed("")) == 0 && len(r.q.GetQueued()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestTimers_StaleAgentClaimsRequeued(t *testing.T) {
	r := newRig(t, Options{
		StalenessInterval: 20 * time.Millisecond,
		StaleThreshold:    30 * time.Millisecond,
		ExpiryInterval:    time.Hour,
	})
	_, err := r.reg.Register(agents.Config{ID: "flaky"})
	require.NoError(t, err)
	require.NoError(t, r.reg.Heartbeat("flaky"))

	task, err := r.g.Create(node.CreateInput{Type: node.TypeTask, Title: "abandoned"}, nil)
	require.NoError(t, err)
	_, err = r.q.Enqueue(task.ID, queue.EnqueueOptions{})
	require.NoError(t, err)
	_, err = r.q.Claim(queue.ClaimRequest{AgentID: "flaky", TaskID: task.ID})
	require.NoError(t, err)

	r.o.Start(context.Background())
	defer r.o.Stop()

	require.Eventually(t, func() bool {
		agent, err := r.reg.Get("flaky")
		if err != nil {
			return false
		}
		return agent.State.Status == agents.StatusOffline && len(r.q.GetQueued()) == 1
	}, time.Second, 10*time.Millisecond)
}
