// Package lease implements a PID-locked session lease file: at most one
// batty run may hold the lease for a given run directory at a time. This
// replaces the reference implementation's broadcast file-ownership
// registry with a single-process, single-file primitive appropriate for
// batty's one-orchestrator-per-run model.
package lease

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrHeld is returned by Acquire when another live process already holds
// the lease.
var ErrHeld = fmt.Errorf("lease: already held by a live process")

// Lease represents an acquired PID lock on a run directory.
type Lease struct {
	path string
	pid  int
}

// Path returns the lease file's location.
func (l *Lease) Path() string { return l.path }

// Acquire creates (or takes over) the lease file at path. If the file
// already exists and names a PID that is still alive, ErrHeld is
// returned. If the PID is stale (process no longer exists), the lease is
// taken over.
func Acquire(path string) (*Lease, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("lease: mkdir: %w", err)
	}

	if existing, err := readPID(path); err == nil {
		if isAlive(existing) {
			return nil, ErrHeld
		}
		// Stale lease: fall through and overwrite.
	}

	pid := os.Getpid()
	content := fmt.Sprintf("%d\n%s\n", pid, time.Now().Format(time.RFC3339))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("lease: write %s: %w", path, err)
	}

	return &Lease{path: path, pid: pid}, nil
}

// Release removes the lease file, but only if it still names this
// process's PID (preventing a slow-to-exit previous holder from deleting
// a lease a newer process has since acquired).
func (l *Lease) Release() error {
	current, err := readPID(l.path)
	if err != nil {
		return nil
	}
	if current != l.pid {
		return nil
	}
	return os.Remove(l.path)
}

// IsHeld reports whether the lease file at path names a still-alive
// process.
func IsHeld(path string) bool {
	pid, err := readPID(path)
	if err != nil {
		return false
	}
	return isAlive(pid)
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	firstLine := strings.SplitN(string(data), "\n", 2)[0]
	pid, err := strconv.Atoi(strings.TrimSpace(firstLine))
	if err != nil {
		return 0, fmt.Errorf("lease: malformed pid in %s: %w", path, err)
	}
	return pid, nil
}

func isAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}
