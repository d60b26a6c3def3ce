// Package lock guards single-instance daemon startup. Capture processes must
// have exactly one owning daemon per host, so a second instance fails fast
// here instead of fighting over them.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// Lock is an exclusive flock(2)-backed instance lock. It is held for as long
// as the descriptor stays open; the file records "<pid> <owner>" so an
// operator chasing a stale instance can see who holds it.
type Lock struct {
	path  string
	owner string
	f     *os.File
}

// Acquire takes the instance lock at path without blocking. owner is the
// service name recorded next to the PID; empty defaults to "muster".
func Acquire(path, owner string) (*Lock, error) {
	if path == "" {
		return nil, fmt.Errorf("lock path is empty")
	}
	if owner == "" {
		owner = "muster"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("another instance holds %s: %w", path, err)
	}

	if err := stamp(f, fmt.Sprintf("%d %s\n", os.Getpid(), owner)); err != nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		return nil, fmt.Errorf("record lock owner: %w", err)
	}

	return &Lock{path: path, owner: owner, f: f}, nil
}

// stamp replaces the file's content, leaving nothing of a previous holder.
func stamp(f *os.File, content string) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	if _, err := f.WriteString(content); err != nil {
		return err
	}
	return f.Sync()
}

func (l *Lock) Path() string  { return l.path }
func (l *Lock) Owner() string { return l.owner }

// Release drops the lock. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
