package notify

import (
	"fmt"
	"os"
	"sync"
)

// TerminalTarget flashes the terminal title and writes the message to
// stderr so it is visible without a browser
type TerminalTarget struct {
	mu sync.Mutex
}

// NewTerminalTarget creates a terminal notifier
func NewTerminalTarget() *TerminalTarget {
	return &TerminalTarget{}
}

// Name returns "terminal"
func (t *TerminalTarget) Name() string { return "terminal" }

// Send updates the terminal window title using the OSC escape sequence
// and prints the message to stderr
func (t *TerminalTarget) Send(title, message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(os.Stderr, "\033]0;%s\007", title)
	_, err := fmt.Fprintf(os.Stderr, "[%s] %s\n", title, message)
	return err
}
