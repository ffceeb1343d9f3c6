package statestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pitabwire/util"
)

// lockStaleAge is how long a lock file may sit unclaimed before this process
// will consider stealing it.
const lockStaleAge = 30 * time.Second

const (
	lockPollInterval = 100 * time.Millisecond
	lockWaitTimeout  = 5 * time.Second
)

// FileLock is a cross-process advisory lock backed by exclusive file
// creation. It is not reentrant within a process.
type FileLock struct {
	path string
}

// NewFileLock returns a lock guarding path+".lock".
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path + ".lock"}
}

// Acquire blocks, polling every lockPollInterval, until the lock is obtained
// or ctx/lockWaitTimeout expires. It steals locks that look abandoned: either
// the owning pid is on this host and no longer alive, or the lock file is
// simply older than lockStaleAge (cross-host fallback, since pid liveness
// cannot be checked remotely).
func (l *FileLock) Acquire(ctx context.Context) error {
	deadline := time.Now().Add(lockWaitTimeout)
	owner := fmt.Sprintf("%d@%s", os.Getpid(), hostname())

	for {
		err := l.tryCreate(owner)
		if err == nil {
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("statestore: create lock %s: %w", l.path, err)
		}

		if l.stealIfStale(owner) {
			continue
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("statestore: timed out waiting for lock %s", l.path)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// Release removes the lock file. Safe to call even if the file is missing.
func (l *FileLock) Release() error {
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("statestore: release lock %s: %w", l.path, err)
	}
	return nil
}

func (l *FileLock) tryCreate(owner string) error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("statestore: mkdir %s: %w", dir, err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, werr := f.WriteString(owner)
	return werr
}

// stealIfStale removes the lock file if it looks abandoned, returning true
// if it did so (the caller should retry tryCreate immediately).
func (l *FileLock) stealIfStale(newOwner string) bool {
	info, err := os.Stat(l.path)
	if err != nil {
		return os.IsNotExist(err)
	}
	age := time.Since(info.ModTime())

	ownerDead := false
	raw, err := os.ReadFile(l.path)
	if err == nil {
		if pid, host, ok := parseOwner(string(raw)); ok && host == hostname() {
			if processAlive(pid) {
				return false
			}
			ownerDead = true
		}
	}
	if !ownerDead && age < lockStaleAge {
		return false
	}
	// Either the owner pid is confirmed dead, or we could not parse the
	// owner (cross-host or corrupt) and fall back to age alone.
	_ = os.Remove(l.path)
	util.Log(context.Background()).WithField("lock_path", l.path).WithField("age_seconds", age.Seconds()).
		Warn("statestore: stole stale lock")
	return true
}

func parseOwner(raw string) (pid int, host string, ok bool) {
	parts := strings.SplitN(raw, "@", 2)
	if len(parts) != 2 {
		return 0, "", false
	}
	pid, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", false
	}
	return pid, parts[1], true
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err != syscall.ESRCH
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
