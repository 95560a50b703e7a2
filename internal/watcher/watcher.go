// Package watcher observes the workspace nodes/ tree and emits
// code.file_changed events for externally modified node files. It never
// reindexes on its own; triggers or the host decide what a change
// means.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/nenadatanasovski/memory-cube/internal/events"
	"github.com/nenadatanasovski/memory-cube/internal/types"
	"github.com/nenadatanasovski/memory-cube/internal/workspace"
)

// Watcher bridges filesystem notifications onto the event bus
type Watcher struct {
	ws     *workspace.Store
	bus    *events.Bus
	logger *zap.Logger

	fsw  *fsnotify.Watcher
	done chan struct{}
}

// New creates a watcher over a workspace
func New(ws *workspace.Store, bus *events.Bus, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{ws: ws, bus: bus, logger: logger.Named("watcher")}
}

// Start begins watching nodes/ and each type directory under it. New
// type directories are added as they appear. Blocks until Stop or
// context cancellation only in the background goroutine; Start itself
// returns immediately.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return types.Wrap(types.KindIO, "watcher.start", err)
	}
	w.fsw = fsw
	w.done = make(chan struct{})

	root := w.ws.Path(workspace.NodesDir)
	if err := fsw.Add(root); err != nil {
		fsw.Close()
		return types.Wrap(types.KindIO, "watcher.start", err)
	}
	for _, dir := range typeDirs(root) {
		if err := fsw.Add(dir); err != nil {
			w.logger.Warn("cannot watch type directory", zap.String("dir", dir), zap.Error(err))
		}
	}

	go w.loop(ctx)
	w.logger.Info("watching workspace", zap.String("root", root))
	return nil
}

// Stop closes the filesystem watcher and waits for the loop to exit
func (w *Watcher) Stop() {
	if w.fsw == nil {
		return
	}
	w.fsw.Close()
	<-w.done
	w.fsw = nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	// A new type directory starts being watched
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(event.Name); err == nil {
				w.logger.Debug("watching new directory", zap.String("dir", event.Name))
			}
			return
		}
	}

	if !strings.HasSuffix(event.Name, ".md") {
		return
	}
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Remove) {
		return
	}

	rel, err := filepath.Rel(w.ws.Root(), event.Name)
	if err != nil {
		rel = event.Name
	}
	w.bus.Emit(events.New(events.CodeFileChanged, map[string]interface{}{
		"path": rel,
		"op":   event.Op.String(),
	}))
}

func typeDirs(root string) []string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, filepath.Join(root, entry.Name()))
		}
	}
	return dirs
}
