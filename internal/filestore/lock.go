package filestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	runLockDirName   = ".workflow.lock"
	runLockOwnerFile = "owner.json"
	lockClaimWindow  = 5 * time.Second
)

// ErrLocked is returned when another live process holds the run lock.
var ErrLocked = errors.New("run lock is held")

// RunLock guards the working directory so that at most one workflow process
// runs at a time, whichever service launched it.
type RunLock struct {
	lockDir string
}

// LockOwner describes the process currently holding the run lock. PID is the
// workflow child, not the service that launched it, so liveness can be checked
// from any process.
type LockOwner struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
	RunID     string `json:"run_id,omitempty"`
}

// AcquireRunLock takes the lock in dir. A lock left behind by a process that
// is no longer alive is reclaimed.
func AcquireRunLock(dir string) (RunLock, error) {
	target := strings.TrimSpace(dir)
	if target == "" {
		return RunLock{}, fmt.Errorf("lock directory is required")
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return RunLock{}, fmt.Errorf("create lock parent %s: %w", target, err)
	}

	lockDir := filepath.Join(target, runLockDirName)
	for attempt := 0; attempt < 2; attempt++ {
		err := os.Mkdir(lockDir, 0o755)
		if err == nil {
			lock := RunLock{lockDir: lockDir}
			// Provisional owner is this process until the child is spawned.
			if err := lock.Claim(os.Getpid(), ""); err != nil {
				_ = lock.Release()
				return RunLock{}, err
			}
			return lock, nil
		}
		if !os.IsExist(err) {
			return RunLock{}, fmt.Errorf("acquire run lock for %s: %w", target, err)
		}

		owner, readErr := ReadRunLockOwner(target)
		if readErr == nil && owner.PID > 0 && ProcessAlive(owner.PID) {
			return RunLock{}, fmt.Errorf("%w: pid=%d created_at=%s host=%s",
				ErrLocked, owner.PID, owner.CreatedAt, owner.Hostname)
		}
		if readErr != nil && !IsNotExist(readErr) {
			return RunLock{}, fmt.Errorf("%w: unreadable owner in %s", ErrLocked, lockDir)
		}
		if IsNotExist(readErr) && lockDirFresh(lockDir) {
			return RunLock{}, fmt.Errorf("%w: %s is being claimed", ErrLocked, lockDir)
		}
		// Stale: owner is gone, or the lock was never claimed by a child.
		if err := (RunLock{lockDir: lockDir}).Release(); err != nil {
			return RunLock{}, err
		}
	}
	return RunLock{}, fmt.Errorf("%w: %s", ErrLocked, lockDir)
}

// Claim records the owning child process once it has been spawned.
func (l RunLock) Claim(pid int, runID string) error {
	if l.lockDir == "" {
		return fmt.Errorf("run lock not acquired")
	}
	owner := LockOwner{
		PID:       pid,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
		RunID:     runID,
	}
	if err := WriteJSON(filepath.Join(l.lockDir, runLockOwnerFile), owner); err != nil {
		return fmt.Errorf("write run lock owner: %w", err)
	}
	return nil
}

func (l RunLock) Release() error {
	if strings.TrimSpace(l.lockDir) == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.lockDir, runLockOwnerFile))
	if err := os.Remove(l.lockDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release run lock %s: %w", l.lockDir, err)
	}
	return nil
}

// ReadRunLockOwner returns the recorded owner of the lock in dir.
func ReadRunLockOwner(dir string) (LockOwner, error) {
	var owner LockOwner
	if err := ReadJSON(filepath.Join(dir, runLockDirName, runLockOwnerFile), &owner); err != nil {
		return LockOwner{}, err
	}
	return owner, nil
}

// LiveOwner returns the lock owner when the lock is held by a running process.
func LiveOwner(dir string) (LockOwner, bool) {
	owner, err := ReadRunLockOwner(dir)
	if err != nil || owner.PID <= 0 {
		return LockOwner{}, false
	}
	if !ProcessAlive(owner.PID) {
		return LockOwner{}, false
	}
	return owner, true
}

// lockDirFresh covers the instant between Mkdir and the first owner write.
func lockDirFresh(lockDir string) bool {
	info, err := os.Stat(lockDir)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) < lockClaimWindow
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}
