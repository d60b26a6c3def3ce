package lock

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestAcquireRecordsPIDAndOwner(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "muster.lock")
	l, err := Acquire(path, "muster-test")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t.Cleanup(func() { _ = l.Release() })

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	fields := strings.Fields(string(b))
	if len(fields) != 2 {
		t.Fatalf("lock file = %q, want \"<pid> <owner>\"", b)
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil || pid != os.Getpid() {
		t.Fatalf("lock file PID = %q, want %d", fields[0], os.Getpid())
	}
	if fields[1] != "muster-test" {
		t.Fatalf("lock file owner = %q, want %q", fields[1], "muster-test")
	}
	if l.Owner() != "muster-test" {
		t.Fatalf("Owner() = %q", l.Owner())
	}
}

func TestAcquireDefaultsOwner(t *testing.T) {
	t.Parallel()

	l, err := Acquire(filepath.Join(t.TempDir(), "muster.lock"), "")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t.Cleanup(func() { _ = l.Release() })
	if l.Owner() != "muster" {
		t.Fatalf("Owner() = %q, want muster", l.Owner())
	}
}

func TestAcquireEmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := Acquire("", "muster"); err == nil {
		t.Fatal("expected error for empty lock path")
	}
}

func TestSecondAcquireFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "muster.lock")
	l, err := Acquire(path, "muster")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t.Cleanup(func() { _ = l.Release() })

	if _, err := Acquire(path, "muster"); err == nil {
		t.Fatal("expected second Acquire to fail while the lock is held")
	}
}

func TestAcquireAfterReleaseSucceeds(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "muster.lock")
	l, err := Acquire(path, "muster")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	l2, err := Acquire(path, "muster")
	if err != nil {
		t.Fatalf("Acquire after Release: %v", err)
	}
	_ = l2.Release()
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	l, err := Acquire(filepath.Join(t.TempDir(), "muster.lock"), "muster")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
}
