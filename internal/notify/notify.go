// Package notify provides the named notification targets consumed by
// the trigger engine's notify action.
package notify

import (
	"sync"

	"go.uber.org/zap"

	"github.com/nenadatanasovski/memory-cube/internal/types"
)

// Target is a channel that can deliver a notification
type Target interface {
	// Name returns the target name used in trigger actions
	Name() string

	// Send delivers a notification to the channel
	Send(title, message string) error
}

// Registry resolves notification targets by name
type Registry struct {
	mu      sync.RWMutex
	targets map[string]Target
}

// NewRegistry creates a registry with the given targets
func NewRegistry(targets ...Target) *Registry {
	r := &Registry{targets: make(map[string]Target)}
	for _, t := range targets {
		r.targets[t.Name()] = t
	}
	return r
}

// DefaultRegistry wires the targets every host gets: terminal, log and
// (on windows) toast
func DefaultRegistry(logger *zap.Logger) *Registry {
	r := NewRegistry(NewTerminalTarget(), NewLogTarget(logger))
	if t := newToastTarget(); t != nil {
		r.Add(t)
	}
	return r
}

// Add registers a target, replacing any existing one with that name
func (r *Registry) Add(t Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[t.Name()] = t
}

// Remove unregisters a target by name
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.targets, name)
}

// Send delivers to one named target
func (r *Registry) Send(target, title, message string) error {
	r.mu.RLock()
	t, ok := r.targets[target]
	r.mu.RUnlock()
	if !ok {
		return types.E(types.KindNotFound, "notify.send", "no target %q", target)
	}
	return t.Send(title, message)
}

// Names lists registered target names
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.targets))
	for name := range r.targets {
		names = append(names, name)
	}
	return names
}

// LogTarget writes notifications to the diagnostic sink
type LogTarget struct {
	logger *zap.Logger
}

// NewLogTarget creates a log-backed target
func NewLogTarget(logger *zap.Logger) *LogTarget {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogTarget{logger: logger.Named("notify")}
}

// Name returns "log"
func (l *LogTarget) Name() string { return "log" }

// Send writes the notification at info level
func (l *LogTarget) Send(title, message string) error {
	l.logger.Info(title, zap.String("message", message))
	return nil
}
