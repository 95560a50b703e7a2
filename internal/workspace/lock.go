package workspace

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/nenadatanasovski/memory-cube/internal/types"
)

// AcquireLock takes the single-writer advisory lock on the workspace.
// The lock is a cube.lock file holding the owner pid. Contention with a
// live process fails loudly; a lock left by a dead process is reclaimed.
// The returned release function removes the lock.
func (s *Store) AcquireLock() (func(), error) {
	path := s.Path(LockFile)
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return func() { os.Remove(path) }, nil
		}
		if !os.IsExist(err) {
			return nil, types.Wrap(types.KindIO, "workspace.lock", err)
		}
		pid, readErr := readLockPid(path)
		if readErr == nil && pidAlive(pid) {
			return nil, types.E(types.KindConflict, "workspace.lock",
				"workspace locked by pid %d", pid)
		}
		// Stale lock from a dead process; reclaim it
		os.Remove(path)
	}
	return nil, types.E(types.KindConflict, "workspace.lock", "could not acquire %s", LockFile)
}

func readLockPid(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// pidAlive probes a pid with a null signal
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
