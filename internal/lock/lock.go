// Package lock provides advisory file locks so concurrent importer
// processes never work the same file or schema at once. A lock is a small
// file holding the holder's PID and acquisition time; locks whose holder
// died or whose age passed a staleness bound are reclaimed.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrLockTimeout is returned when a lock could not be acquired within the
// configured wait window.
var ErrLockTimeout = errors.New("lock: timed out waiting for lock")

const pollInterval = 200 * time.Millisecond

// Manager creates and releases advisory locks under a single directory.
type Manager struct {
	dir        string
	waitFor    time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
	pid        int
	now        func() time.Time
}

// Lock is a held advisory lock. Release it with Unlock.
type Lock struct {
	path string
	m    *Manager
}

func NewManager(dir string, waitFor, staleAfter time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		dir:        dir,
		waitFor:    waitFor,
		staleAfter: staleAfter,
		logger:     logger.With(slog.String("component", "lock")),
		pid:        os.Getpid(),
		now:        time.Now,
	}
}

// Acquire takes the lock named key, waiting up to the manager's timeout.
// Stale locks are reclaimed before each attempt.
func (m *Manager) Acquire(ctx context.Context, key string) (*Lock, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	path := filepath.Join(m.dir, sanitizeKey(key)+".lock")
	deadline := m.now().Add(m.waitFor)

	for {
		m.reclaimIfStale(ctx, path)

		ok, err := m.tryAcquire(path)
		if err != nil {
			return nil, err
		}
		if ok {
			return &Lock{path: path, m: m}, nil
		}
		if m.now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Unlock releases the lock by removing its file. Releasing twice is safe.
func (l *Lock) Unlock() error {
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

func (m *Manager) tryAcquire(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if os.IsExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create lock file: %w", err)
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "PID:%d\nTIME:%d\n", m.pid, m.now().Unix())
	if err != nil {
		os.Remove(path)
		return false, fmt.Errorf("write lock file: %w", err)
	}
	return true, nil
}

// reclaimIfStale removes the lock file when its holder is gone or the lock
// is older than the staleness bound.
func (m *Manager) reclaimIfStale(ctx context.Context, path string) {
	pid, acquired, err := readLockFile(path)
	if err != nil {
		return
	}

	stale := false
	switch {
	case !processAlive(pid):
		stale = true
	case m.staleAfter > 0 && m.now().Sub(acquired) > m.staleAfter:
		stale = true
	}
	if !stale {
		return
	}

	if err := os.Remove(path); err == nil {
		m.logger.WarnContext(ctx, "reclaimed stale lock",
			slog.String("path", path),
			slog.Int("holder_pid", pid))
	}
}

func readLockFile(path string) (pid int, acquired time.Time, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, time.Time{}, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		switch {
		case strings.HasPrefix(line, "PID:"):
			pid, _ = strconv.Atoi(strings.TrimPrefix(line, "PID:"))
		case strings.HasPrefix(line, "TIME:"):
			unix, _ := strconv.ParseInt(strings.TrimPrefix(line, "TIME:"), 10, 64)
			acquired = time.Unix(unix, 0)
		}
	}
	if pid == 0 {
		return 0, time.Time{}, fmt.Errorf("malformed lock file %s", path)
	}
	return pid, acquired, nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func sanitizeKey(key string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(key) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
