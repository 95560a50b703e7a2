package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nenadatanasovski/memory-cube/internal/events"
	"github.com/nenadatanasovski/memory-cube/internal/node"
	"github.com/nenadatanasovski/memory-cube/internal/workspace"
)

func TestWatcher_EmitsOnNodeFileWrite(t *testing.T) {
	ws := workspace.New(t.TempDir())
	require.NoError(t, ws.Init("test"))
	bus := events.NewBus(nil)

	var mu sync.Mutex
	var seen []events.Event
	bus.Subscribe(string(events.CodeFileChanged), func(e events.Event) error {
		mu.Lock()
		seen = append(seen, e)
		mu.Unlock()
		return nil
	})

	w := New(ws, bus, nil)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	n, err := node.New(node.CreateInput{Type: node.TypeTask, Title: "watched"})
	require.NoError(t, err)

	// The first save also creates the task/ directory; rewriting until
	// an event lands avoids racing the directory-watch registration
	require.Eventually(t, func() bool {
		_, err := ws.SaveNode(n)
		require.NoError(t, err)
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0
	}, 2*time.Second, 50*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	path, _ := seen[0].Payload["path"].(string)
	assert.Contains(t, path, ".md")
}

func TestWatcher_IgnoresNonNodeFiles(t *testing.T) {
	ws := workspace.New(t.TempDir())
	require.NoError(t, ws.Init("test"))
	bus := events.NewBus(nil)

	var mu sync.Mutex
	count := 0
	bus.Subscribe(string(events.CodeFileChanged), func(e events.Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	w := New(ws, bus, nil)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	// Not under nodes/ and not .md
	require.NoError(t, ws.SaveConfig(workspace.DefaultConfig("x", ws.Root())))

	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, count)
}
