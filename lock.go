// OS-level file locking for cross-process coordination.
//
// An archive opened for writing holds an exclusive flock(2) /
// LockFileEx for its whole lifetime — the core supports many in-process
// readers but exactly one writer per file, and the OS lock extends
// that guarantee across processes. Read-only opens take a shared lock
// so they can coexist with each other but not with a writer.
//
// fileLock wraps the syscall with a mutex guarding the handle's
// lifetime, so Fd() cannot race with Close() on the same *os.File.
package tsarc

import (
	"os"
	"sync"
)

// LockMode selects shared (read) or exclusive (write) locking.
type LockMode int

const (
	LockShared LockMode = iota
	LockExclusive
)

// fileLock coordinates OS-level file locks with safe handle teardown.
type fileLock struct {
	mu sync.Mutex
	f  *os.File
}

// Lock acquires a shared or exclusive flock. Returns nil immediately
// if the handle has been cleared via setFile(nil).
func (l *fileLock) Lock(mode LockMode) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	return l.lock(mode)
}

// Unlock releases the flock. Returns nil immediately if the handle
// has been cleared via setFile(nil).
func (l *fileLock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	return l.unlock()
}

// setFile swaps the underlying file handle. Passing nil drains any
// in-flight flock and disables further locking. Used by Close before
// closing the fd.
func (l *fileLock) setFile(f *os.File) {
	l.mu.Lock()
	l.f = f
	l.mu.Unlock()
}
