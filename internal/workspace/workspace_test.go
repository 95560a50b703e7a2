package workspace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nenadatanasovski/memory-cube/internal/node"
	"github.com/nenadatanasovski/memory-cube/internal/types"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s := New(t.TempDir())
	require.NoError(t, s.Init("test-cube"))
	return s
}

func TestInit_Idempotent(t *testing.T) {
	s := newStore(t)

	for _, dir := range []string{NodesDir, ViewsDir, AgentsDir, SchemasDir, AgentStateDir} {
		info, err := os.Stat(s.Path(dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	// Running init again neither fails nor clobbers the config
	cfg, err := s.LoadConfig()
	require.NoError(t, err)
	cfg.Name = "renamed"
	require.NoError(t, s.SaveConfig(cfg))

	require.NoError(t, s.Init("other-name"))
	cfg, err = s.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "renamed", cfg.Name)
}

func TestConfig_StableKeyOrder(t *testing.T) {
	s := newStore(t)
	data, err := os.ReadFile(s.Path(ConfigFile))
	require.NoError(t, err)

	text := string(data)
	order := []string{`"version"`, `"name"`, `"rootPath"`, `"index"`, `"events"`, `"agents"`}
	last := -1
	for _, key := range order {
		idx := strings.Index(text, key)
		require.GreaterOrEqual(t, idx, 0, "missing %s", key)
		assert.Greater(t, idx, last, "%s out of order", key)
		last = idx
	}

	var cfg Config
	require.NoError(t, json.Unmarshal(data, &cfg))
	assert.Equal(t, CurrentVersion, cfg.Version)
	assert.EqualValues(t, 10*1024*1024, cfg.Events.MaxLogSize)
}

func TestSaveLoadDeleteNode(t *testing.T) {
	s := newStore(t)
	n, err := node.New(node.CreateInput{Type: node.TypeTask, Title: "Ship it", Content: "body"})
	require.NoError(t, err)

	saved, err := s.SaveNode(n)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(NodesDir, "task", strings.TrimPrefix(n.ID, "task/")+".md"), saved.FilePath)

	loaded, err := s.LoadNode(n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.ID, loaded.ID)
	assert.Equal(t, "Ship it", loaded.Title)
	assert.Equal(t, saved.FilePath, loaded.FilePath)

	ok, err := s.DeleteNode(n.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.LoadNode(n.ID)
	assert.True(t, types.IsKind(err, types.KindNotFound))

	ok, err = s.DeleteNode(n.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListByType_SkipsMalformed(t *testing.T) {
	s := newStore(t)
	for _, title := range []string{"one", "two"} {
		n, err := node.New(node.CreateInput{Type: node.TypeDoc, Title: title})
		require.NoError(t, err)
		_, err = s.SaveNode(n)
		require.NoError(t, err)
	}
	// A file that will not decode
	garbage := s.Path(NodesDir, "doc", "broken-ffffff.md")
	require.NoError(t, os.WriteFile(garbage, []byte("not a node"), 0644))

	nodes, skipped, err := s.ListByType(node.TypeDoc)
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
	assert.Equal(t, 1, skipped)
}

func TestListAll(t *testing.T) {
	s := newStore(t)
	for _, in := range []node.CreateInput{
		{Type: node.TypeTask, Title: "t"},
		{Type: node.TypeDoc, Title: "d"},
		{Type: node.TypeDecision, Title: "x"},
	} {
		n, err := node.New(in)
		require.NoError(t, err)
		_, err = s.SaveNode(n)
		require.NoError(t, err)
	}

	nodes, skipped, err := s.ListAll()
	require.NoError(t, err)
	assert.Len(t, nodes, 3)
	assert.Zero(t, skipped)
	assert.True(t, s.HasNodeFiles())
}

func TestNodePath_RejectsBadID(t *testing.T) {
	_, err := NodePath("../../etc/passwd")
	assert.True(t, types.IsKind(err, types.KindInvalidInput))
}

func TestAcquireLock(t *testing.T) {
	s := newStore(t)

	release, err := s.AcquireLock()
	require.NoError(t, err)

	// Same live pid holds the lock; second acquisition must fail loudly
	_, err = s.AcquireLock()
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindConflict))

	release()
	release2, err := s.AcquireLock()
	require.NoError(t, err)
	release2()
}

func TestAcquireLock_ReclaimsStale(t *testing.T) {
	s := newStore(t)
	// A lock owned by a pid that cannot exist
	require.NoError(t, os.WriteFile(s.Path(LockFile), []byte("999999999\n"), 0644))

	release, err := s.AcquireLock()
	require.NoError(t, err)
	release()
}
