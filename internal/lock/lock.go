package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// HeldError is returned when another process already holds the connection
// lock for a session.
type HeldError struct {
	PID      int
	Identity string
	Path     string
}

func (e *HeldError) Error() string {
	if e.Identity != "" {
		return fmt.Sprintf("connection for %s already held by PID %d (%s)", e.Identity, e.PID, e.Path)
	}
	return fmt.Sprintf("connection lock held by PID %d (%s)", e.PID, e.Path)
}

// Lock is an exclusive flock on a session directory. Holding it is what
// guarantees a single live socket per identity across processes.
type Lock struct {
	file     *os.File
	path     string
	identity string
}

// Acquire attempts to acquire an exclusive lock on the session directory on
// behalf of identity. Returns *HeldError if another process already holds it.
func Acquire(sessionDir, identity string) (*Lock, error) {
	lockPath := filepath.Join(sessionDir, "LOCK")

	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		data, _ := os.ReadFile(lockPath)
		pid, holder := parseHolder(string(data))
		_ = f.Close()
		return nil, &HeldError{PID: pid, Identity: holder, Path: lockPath}
	}

	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		_ = f.Close()
		return nil, err
	}
	content := fmt.Sprintf("pid=%d\nidentity=%s\ntime=%s\n", os.Getpid(), identity, time.Now().UTC().Format(time.RFC3339))
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Lock{file: f, path: lockPath, identity: identity}, nil
}

// Identity returns the user id the lock was taken for.
func (l *Lock) Identity() string {
	if l == nil {
		return ""
	}
	return l.identity
}

// Release releases the lock. Safe to call on nil receiver and more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

func parseHolder(content string) (pid int, identity string) {
	for _, line := range strings.Split(content, "\n") {
		if after, ok := strings.CutPrefix(line, "pid="); ok {
			pid, _ = strconv.Atoi(after)
		}
		if after, ok := strings.CutPrefix(line, "identity="); ok {
			identity = after
		}
	}
	return pid, identity
}
