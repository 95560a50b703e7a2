// Package workspace owns the on-disk layout of a cube: node files under
// nodes/<type>/, the workspace config, agent persistence paths and the
// advisory lock. Files are the source of truth; everything else in the
// system is derived from them.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nenadatanasovski/memory-cube/internal/node"
	"github.com/nenadatanasovski/memory-cube/internal/types"
)

// Well-known paths under the workspace root
const (
	NodesDir      = "nodes"
	ViewsDir      = "views"
	AgentsDir     = "agents"
	SchemasDir    = "schemas"
	AgentStateDir = "agent-state"
	EventLogFile  = "events.log"
	AgentsFile    = "agents.json"
	IndexFile     = "index.sqlite"
	TriggersFile  = "triggers.yaml"
	LockFile      = "cube.lock"
)

// Store encapsulates workspace file IO
type Store struct {
	root string
}

// New creates a store rooted at the given directory. The directory is
// not touched until Init.
func New(root string) *Store {
	return &Store{root: root}
}

// Root returns the workspace root directory
func (s *Store) Root() string { return s.root }

// Path joins elem onto the workspace root
func (s *Store) Path(elem ...string) string {
	return filepath.Join(append([]string{s.root}, elem...)...)
}

// Init creates the workspace directory tree idempotently and writes
// cube.json only when absent. Existing files are never overwritten.
func (s *Store) Init(name string) error {
	for _, dir := range []string{NodesDir, ViewsDir, AgentsDir, SchemasDir, AgentStateDir} {
		if err := os.MkdirAll(s.Path(dir), 0755); err != nil {
			return types.Wrap(types.KindIO, "workspace.init", err)
		}
	}
	if _, err := os.Stat(s.Path(ConfigFile)); os.IsNotExist(err) {
		if name == "" {
			name = filepath.Base(s.root)
		}
		if err := s.SaveConfig(DefaultConfig(name, s.root)); err != nil {
			return err
		}
	}
	return nil
}

// NodePath resolves the relative file path for a node id
// ("type/slug-hash" -> "nodes/type/slug-hash.md")
func NodePath(id string) (string, error) {
	if !node.IDPattern.MatchString(id) {
		return "", types.E(types.KindInvalidInput, "workspace.node_path", "bad node id %q", id)
	}
	parts := strings.SplitN(id, "/", 2)
	return filepath.Join(NodesDir, parts[0], parts[1]+".md"), nil
}

// SaveNode encodes and writes a node file, creating the parent
// directory on demand. The returned node carries its relative file
// path. The file handle is scoped to this call and released on every
// exit path.
func (s *Store) SaveNode(n *node.Node) (*node.Node, error) {
	rel, err := NodePath(n.ID)
	if err != nil {
		return nil, err
	}
	abs := s.Path(rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return nil, types.Wrap(types.KindIO, "workspace.save_node", err)
	}
	if err := writeFileScoped(abs, node.Encode(n)); err != nil {
		return nil, types.Wrap(types.KindIO, "workspace.save_node", err)
	}
	out := node.Clone(n)
	out.FilePath = rel
	return out, nil
}

// writeFileScoped writes data through an explicitly scoped handle so
// the descriptor is released on all exit paths
func writeFileScoped(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// LoadNode reads and decodes a node file
func (s *Store) LoadNode(id string) (*node.Node, error) {
	rel, err := NodePath(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path(rel))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.E(types.KindNotFound, "workspace.load_node", "node %s", id)
		}
		return nil, types.Wrap(types.KindIO, "workspace.load_node", err)
	}
	return node.Decode(data, rel)
}

// DeleteNode removes the node file. The boolean reports whether a file
// was present.
func (s *Store) DeleteNode(id string) (bool, error) {
	rel, err := NodePath(id)
	if err != nil {
		return false, err
	}
	if err := os.Remove(s.Path(rel)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, types.Wrap(types.KindIO, "workspace.delete_node", err)
	}
	return true, nil
}

// ListByType enumerates node files for one type. Unreadable or
// malformed files are skipped; the count of skipped files is surfaced
// for diagnostics.
func (s *Store) ListByType(t node.Type) ([]*node.Node, int, error) {
	dir := s.Path(NodesDir, string(t))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, types.Wrap(types.KindIO, "workspace.list", err)
	}
	var nodes []*node.Node
	skipped := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		rel := filepath.Join(NodesDir, string(t), entry.Name())
		data, err := os.ReadFile(s.Path(rel))
		if err != nil {
			skipped++
			continue
		}
		n, err := node.Decode(data, rel)
		if err != nil {
			skipped++
			continue
		}
		nodes = append(nodes, n)
	}
	return nodes, skipped, nil
}

// ListAll enumerates every node file in the workspace
func (s *Store) ListAll() ([]*node.Node, int, error) {
	entries, err := os.ReadDir(s.Path(NodesDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, types.Wrap(types.KindIO, "workspace.list", err)
	}
	var all []*node.Node
	skipped := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		nodes, sk, err := s.ListByType(node.Type(entry.Name()))
		if err != nil {
			return nil, skipped, err
		}
		all = append(all, nodes...)
		skipped += sk
	}
	return all, skipped, nil
}

// HasNodeFiles reports whether any node file exists; the facade uses it
// to decide whether an empty index needs a rebuild
func (s *Store) HasNodeFiles() bool {
	entries, err := os.ReadDir(s.Path(NodesDir))
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sub, err := os.ReadDir(s.Path(NodesDir, entry.Name()))
		if err != nil {
			continue
		}
		for _, f := range sub {
			if strings.HasSuffix(f.Name(), ".md") {
				return true
			}
		}
	}
	return false
}

// String implements fmt.Stringer
func (s *Store) String() string {
	return fmt.Sprintf("workspace(%s)", s.root)
}
