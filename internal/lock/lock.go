// Package lock guards a session directory against concurrent daemons.
// Two featherd processes writing the same SQLite store would corrupt the
// dirty-row bookkeeping, so the first one takes an flock on a pidfile and
// every later one fails fast with the owner's PID.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const pidFile = "LOCK"

// HeldError reports that another daemon owns the session.
type HeldError struct {
	OwnerPID int
	Path     string
}

func (e *HeldError) Error() string {
	if e.OwnerPID > 0 {
		return fmt.Sprintf("session already in use by featherd PID %d (%s)", e.OwnerPID, e.Path)
	}
	return fmt.Sprintf("session already in use (%s)", e.Path)
}

// Lock is a held session lock. Release it on shutdown.
type Lock struct {
	f    *os.File
	path string
}

// Acquire takes the session lock, creating the directory if needed.
// A *HeldError is returned when another process holds it.
func Acquire(sessionDir string) (*Lock, error) {
	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	path := filepath.Join(sessionDir, pidFile)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open pidfile: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		owner := ownerPID(path)
		_ = f.Close()
		return nil, &HeldError{OwnerPID: owner, Path: path}
	}

	if err := stampPID(f); err != nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		return nil, fmt.Errorf("write pidfile: %w", err)
	}
	return &Lock{f: f, path: path}, nil
}

// Release drops the lock and removes the pidfile. Safe on a nil receiver
// and safe to call twice.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.f.Close()
	l.f = nil
	return err
}

func stampPID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "%d\n", os.Getpid())
	return err
}

// ownerPID best-effort reads the holder's PID for the error message.
func ownerPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
