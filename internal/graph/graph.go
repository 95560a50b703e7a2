// Package graph is the single authoritative entry point for mutations
// and queries. It keeps the node files (source of truth) and the
// structured index coherent and emits domain events after each commit.
package graph

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nenadatanasovski/memory-cube/internal/events"
	"github.com/nenadatanasovski/memory-cube/internal/index"
	"github.com/nenadatanasovski/memory-cube/internal/node"
	"github.com/nenadatanasovski/memory-cube/internal/types"
	"github.com/nenadatanasovski/memory-cube/internal/workspace"
)

// idCollisionRetries bounds retry attempts when a derived id collides
const idCollisionRetries = 3

// Options configures a Graph
type Options struct {
	Root        string
	EnableIndex bool
	Bus         *events.Bus // nil falls back to the package default bus
	Logger      *zap.Logger
}

// Graph is the facade over workspace files, index and event bus.
// Mutations hold a single writer lock covering both the file write and
// the index update; readers run in parallel with readers.
type Graph struct {
	ws     *workspace.Store
	idx    *index.Index // nil when the index is disabled
	bus    *events.Bus
	logger *zap.Logger

	mu            sync.RWMutex
	needsReindex  atomic.Bool
	indexEnabled  bool
}

// New constructs a graph facade; call Init before use
func New(opts Options) *Graph {
	bus := opts.Bus
	if bus == nil {
		bus = events.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Graph{
		ws:           workspace.New(opts.Root),
		bus:          bus,
		logger:       logger.Named("graph"),
		indexEnabled: opts.EnableIndex,
	}
}

// Workspace exposes the underlying file store
func (g *Graph) Workspace() *workspace.Store { return g.ws }

// Bus exposes the event bus the facade emits into
func (g *Graph) Bus() *events.Bus { return g.bus }

// Index exposes the structured index, or nil when disabled
func (g *Graph) Index() *index.Index {
	if !g.indexEnabled {
		return nil
	}
	return g.idx
}

// Init ensures the workspace exists and opens the index. When the index
// is empty but node files exist, it is rebuilt from the files.
func (g *Graph) Init() error {
	if err := g.ws.Init(""); err != nil {
		return err
	}
	if g.indexEnabled {
		idx, err := index.Open(g.ws.Path(workspace.IndexFile))
		if err != nil {
			return err
		}
		g.idx = idx

		count, err := idx.Count()
		if err != nil {
			return err
		}
		if count == 0 && g.ws.HasNodeFiles() {
			g.logger.Info("index empty with files present, rebuilding")
			if _, errs := g.RebuildIndex(context.Background()); len(errs) > 0 {
				g.logger.Warn("index rebuild finished with errors", zap.Int("errors", len(errs)))
			}
		}
	}
	g.bus.Emit(events.New(events.CubeInitialized, map[string]interface{}{
		"root": g.ws.Root(),
	}))
	return nil
}

// Close releases the index connection
func (g *Graph) Close() error {
	if g.idx != nil {
		return g.idx.Close()
	}
	return nil
}

// NeedsReindex reports whether an index write failed after a file write
// and a rebuild is pending
func (g *Graph) NeedsReindex() bool { return g.needsReindex.Load() }

// Create builds a new node, attaches any inline edges, persists it and
// emits node.created. An id collision retries with a fresh creation
// millisecond up to 3 times before surfacing Conflict.
func (g *Graph) Create(in node.CreateInput, edges []node.EdgeInput) (*node.Node, error) {
	g.mu.Lock()
	saved, err := g.createLocked(in, edges)
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}
	// Emitted outside the writer lock so handlers can call back in
	g.emit(events.NodeCreated, map[string]interface{}{
		"nodeId": saved.ID,
		"node":   snapshot(saved),
	})
	return saved, nil
}

func (g *Graph) createLocked(in node.CreateInput, edges []node.EdgeInput) (*node.Node, error) {
	var n *node.Node
	now := time.Now().UTC()
	for attempt := 0; ; attempt++ {
		candidate, err := node.NewAt(in, now.Add(time.Duration(attempt)*time.Millisecond))
		if err != nil {
			return nil, err
		}
		if _, err := g.ws.LoadNode(candidate.ID); types.IsKind(err, types.KindNotFound) {
			n = candidate
			break
		}
		if attempt >= idCollisionRetries {
			return nil, types.E(types.KindConflict, "graph.create", "id collision for %q", candidate.ID)
		}
	}

	for _, e := range edges {
		var err error
		n, err = node.AddEdge(n, e)
		if err != nil {
			return nil, err
		}
	}
	// Inline edges are part of creation, not mutations of it
	n.Version = 1

	saved, err := g.ws.SaveNode(n)
	if err != nil {
		return nil, err
	}
	g.reindex(saved)
	return saved, nil
}

// Get loads a node from its file, the authoritative read path
func (g *Graph) Get(id string) (*node.Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.ws.LoadNode(id)
}

// Update applies a partial record through load-modify-save, reindexes
// and emits node.updated with field deltas, plus node.status_changed /
// node.validity_changed when those fields moved
func (g *Graph) Update(id string, in node.UpdateInput) (*node.Node, error) {
	g.mu.Lock()
	before, saved, err := g.updateLocked(id, in)
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}

	g.emit(events.NodeUpdated, map[string]interface{}{
		"nodeId":  saved.ID,
		"node":    snapshot(saved),
		"changes": fieldDeltas(before, saved),
	})
	if before.Status != saved.Status {
		g.emit(events.NodeStatusChanged, map[string]interface{}{
			"nodeId": saved.ID,
			"node":   snapshot(saved),
			"from":   string(before.Status),
			"to":     string(saved.Status),
		})
	}
	if before.Validity != saved.Validity {
		g.emit(events.NodeValidityChanged, map[string]interface{}{
			"nodeId": saved.ID,
			"node":   snapshot(saved),
			"from":   string(before.Validity),
			"to":     string(saved.Validity),
		})
	}
	return saved, nil
}

func (g *Graph) updateLocked(id string, in node.UpdateInput) (*node.Node, *node.Node, error) {
	before, err := g.ws.LoadNode(id)
	if err != nil {
		return nil, nil, err
	}
	after, err := node.Update(before, in)
	if err != nil {
		return nil, nil, err
	}
	saved, err := g.ws.SaveNode(after)
	if err != nil {
		return nil, nil, err
	}
	g.reindex(saved)
	return before, saved, nil
}

// Delete removes the node file and its index rows, emitting
// node.deleted with the final snapshot
func (g *Graph) Delete(id string) error {
	g.mu.Lock()
	n, err := g.deleteLocked(id)
	g.mu.Unlock()
	if err != nil {
		return err
	}
	g.emit(events.NodeDeleted, map[string]interface{}{
		"nodeId": id,
		"node":   snapshot(n),
	})
	return nil
}

func (g *Graph) deleteLocked(id string) (*node.Node, error) {
	n, err := g.ws.LoadNode(id)
	if err != nil {
		return nil, err
	}
	removed, err := g.ws.DeleteNode(id)
	if err != nil {
		return nil, err
	}
	if !removed {
		return nil, types.E(types.KindNotFound, "graph.delete", "node %s", id)
	}
	if g.idx != nil {
		if err := g.idx.RemoveNode(id); err != nil {
			g.deferReindex(err)
		}
	}
	return n, nil
}

// Link adds a typed edge from -> to. The target must exist and the
// same directed typed edge must not already exist.
func (g *Graph) Link(from string, edgeType node.EdgeType, to string, metadata map[string]string) (*node.Node, error) {
	g.mu.Lock()
	saved, err := g.linkLocked(from, edgeType, to, metadata)
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}
	g.emit(events.EdgeCreated, map[string]interface{}{
		"edgeId": node.EdgeID(from, edgeType, to),
		"from":   from,
		"to":     to,
		"type":   string(edgeType),
	})
	return saved, nil
}

func (g *Graph) linkLocked(from string, edgeType node.EdgeType, to string, metadata map[string]string) (*node.Node, error) {
	src, err := g.ws.LoadNode(from)
	if err != nil {
		return nil, err
	}
	if _, err := g.ws.LoadNode(to); err != nil {
		return nil, err
	}
	if node.FindEdge(src, edgeType, to) != nil {
		return nil, types.E(types.KindConflict, "graph.link",
			"edge %s already exists", node.EdgeID(from, edgeType, to))
	}

	linked, err := node.AddEdge(src, node.EdgeInput{Type: edgeType, To: to, Metadata: metadata})
	if err != nil {
		return nil, err
	}
	saved, err := g.ws.SaveNode(linked)
	if err != nil {
		return nil, err
	}
	g.reindex(saved)
	return saved, nil
}

// Unlink removes the edge identified by the deterministic triple id
func (g *Graph) Unlink(from string, edgeType node.EdgeType, to string) (*node.Node, error) {
	g.mu.Lock()
	saved, err := g.unlinkLocked(from, edgeType, to)
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}
	g.emit(events.EdgeDeleted, map[string]interface{}{
		"edgeId": node.EdgeID(from, edgeType, to),
		"from":   from,
		"to":     to,
		"type":   string(edgeType),
	})
	return saved, nil
}

func (g *Graph) unlinkLocked(from string, edgeType node.EdgeType, to string) (*node.Node, error) {
	src, err := g.ws.LoadNode(from)
	if err != nil {
		return nil, err
	}
	edgeID := node.EdgeID(from, edgeType, to)
	removed, ok := node.RemoveEdge(src, edgeID)
	if !ok {
		return nil, types.E(types.KindNotFound, "graph.unlink", "edge %s", edgeID)
	}
	saved, err := g.ws.SaveNode(removed)
	if err != nil {
		return nil, err
	}
	g.reindex(saved)
	return saved, nil
}

// RebuildIndex clears the index and reindexes every node file. The
// context is checked between nodes so long rebuilds stay cancellable.
func (g *Graph) RebuildIndex(ctx context.Context) (int, []error) {
	if g.idx == nil {
		return 0, []error{types.E(types.KindIndex, "graph.rebuild", "index disabled")}
	}
	g.mu.Lock()
	count, errs := g.rebuildLocked(ctx)
	g.mu.Unlock()
	g.emit(events.CubeIndexRebuilt, map[string]interface{}{
		"count":  count,
		"errors": len(errs),
	})
	return count, errs
}

func (g *Graph) rebuildLocked(ctx context.Context) (int, []error) {
	if err := g.idx.Clear(); err != nil {
		return 0, []error{err}
	}
	nodes, skipped, err := g.ws.ListAll()
	if err != nil {
		return 0, []error{err}
	}
	var errs []error
	if skipped > 0 {
		errs = append(errs, types.E(types.KindMalformedNode, "graph.rebuild", "%d files skipped", skipped))
	}
	count := 0
	for _, n := range nodes {
		select {
		case <-ctx.Done():
			errs = append(errs, types.Wrap(types.KindTimeout, "graph.rebuild", ctx.Err()))
			return count, errs
		default:
		}
		if err := g.idx.IndexNode(n); err != nil {
			errs = append(errs, err)
			continue
		}
		count++
	}
	g.needsReindex.Store(false)
	return count, errs
}

// reindex mirrors a saved node into the index. An index failure after
// the file write does not fail the operation: the event still fires and
// the deferred-reindex flag is set for the next opportunity.
func (g *Graph) reindex(n *node.Node) {
	if g.idx == nil {
		return
	}
	if err := g.idx.IndexNode(n); err != nil {
		g.deferReindex(err)
	}
}

func (g *Graph) deferReindex(err error) {
	g.needsReindex.Store(true)
	g.logger.Warn("index update failed, deferred reindex flagged", zap.Error(err))
}

func (g *Graph) emit(t events.EventType, payload map[string]interface{}) {
	g.bus.Emit(events.New(t, payload))
}

// snapshot converts a node into the generic payload shape carried by
// events and the log
func snapshot(n *node.Node) map[string]interface{} {
	data, err := json.Marshal(n)
	if err != nil {
		return map[string]interface{}{"id": n.ID}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]interface{}{"id": n.ID}
	}
	return out
}

// fieldDeltas lists before/after pairs for the scalar fields an update
// can touch
func fieldDeltas(before, after *node.Node) map[string]interface{} {
	deltas := make(map[string]interface{})
	add := func(field string, from, to interface{}) {
		if from != to {
			deltas[field] = map[string]interface{}{"from": from, "to": to}
		}
	}
	add("title", before.Title, after.Title)
	add("content", before.Content, after.Content)
	add("status", string(before.Status), string(after.Status))
	add("validity", string(before.Validity), string(after.Validity))
	add("priority", string(before.Priority), string(after.Priority))
	add("confidence", before.Confidence, after.Confidence)
	add("assigned_to", before.AssignedTo, after.AssignedTo)
	add("locked_by", before.LockedBy, after.LockedBy)
	return deltas
}
