// Package lockfile guards an AutiConnect state directory so that only one
// bot process owns its WhatsApp session and database at a time.
//
// The lock is an flock(2) on a file inside the state directory. The kernel
// drops it when the process exits, so a crash never leaves a live lock
// behind; the file itself only carries diagnostic information.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory.
const LockFileName = "auticonnect.lock"

// Info is the owner record written into a held lock file.
type Info struct {
	PID       int
	StartedAt time.Time
}

func (i Info) String() string {
	s := fmt.Sprintf("pid=%d\n", i.PID)
	if !i.StartedAt.IsZero() {
		s += fmt.Sprintf("started=%s\n", i.StartedAt.UTC().Format(time.RFC3339))
	}
	return s
}

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
	info Info
}

// Acquire takes the exclusive lock on stateDir, creating the directory when
// needed. When another process already holds it, the returned error is a
// *LockError describing that process.
func Acquire(stateDir string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("lockfile.Acquire: attempting", "lock_path", lockPath)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// No O_TRUNC here: a losing contender must not wipe the owner's record.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		owner := describeOwner(lockPath)
		slog.Error("lockfile.Acquire: state directory in use", "lock_path", lockPath, "owner", owner, "error", err)
		return nil, &LockError{LockPath: lockPath, Owner: owner, Cause: err}
	}

	info := Info{PID: os.Getpid(), StartedAt: time.Now()}
	if err := writeInfo(file, info); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("lockfile.Acquire: lock held", "lock_path", lockPath, "pid", info.PID)
	return &Lock{file: file, path: lockPath, info: info}, nil
}

func writeInfo(f *os.File, info Info) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt([]byte(info.String()), 0); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("lockfile.writeInfo: sync failed", "path", f.Name(), "error", err)
	}
	return nil
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Info returns the owner record this process wrote.
func (l *Lock) Info() Info { return l.info }

// Release drops the lock and removes the file. Calling it again is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove before unlocking so a waiting process never sees our record.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("lockfile.Release: remove failed", "lock_path", l.path, "error", err)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("lockfile.Release: unlock failed", "lock_path", l.path, "error", err)
	}
	err := l.file.Close()
	l.file = nil
	slog.Info("lockfile.Release: lock released", "lock_path", l.path)
	if err != nil {
		return fmt.Errorf("failed to close lock file %s: %w", l.path, err)
	}
	return nil
}

// LockError reports a state directory held by another process.
type LockError struct {
	LockPath string
	Owner    string
	Cause    error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Another AutiConnect instance is already running using the same state directory.\n\nLock file: %s", e.LockPath)
	if e.Owner != "" {
		fmt.Fprintf(&b, "\nExisting process: %s", e.Owner)
	}
	fmt.Fprintf(&b, "\n\nStop the other instance or point this one at a different state directory (-state-dir).\n"+
		"If no other instance is running the file is stale and can be removed with:\n  rm %s", e.LockPath)
	return b.String()
}

func (e *LockError) Unwrap() error { return e.Cause }

// describeOwner renders the record left by the current holder.
func describeOwner(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return "unable to read lock file information"
	}
	info, ok := parseInfo(string(data))
	if !ok {
		if len(data) == 0 {
			return "lock file exists but contains no process information"
		}
		return fmt.Sprintf("process information: %s", strings.TrimSpace(string(data)))
	}
	state := "running"
	if !processAlive(info.PID) {
		state = "not running"
	}
	if info.StartedAt.IsZero() {
		return fmt.Sprintf("PID %d (%s)", info.PID, state)
	}
	return fmt.Sprintf("PID %d (%s, started %s)", info.PID, state, info.StartedAt.Format(time.RFC3339))
}

// parseInfo reads the key=value lines written by Info.String. A record
// without a valid pid is rejected.
func parseInfo(content string) (Info, bool) {
	var info Info
	for _, line := range strings.Split(content, "\n") {
		key, value, found := strings.Cut(strings.TrimSpace(line), "=")
		if !found {
			continue
		}
		switch key {
		case "pid":
			pid, err := strconv.Atoi(value)
			if err != nil || pid <= 0 {
				return Info{}, false
			}
			info.PID = pid
		case "started":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				info.StartedAt = t
			}
		}
	}
	return info, info.PID > 0
}

// processAlive probes pid with signal 0.
func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
