//go:build unix

package instance

import (
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

func uniqueName(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("abtray-test-%d-%d", os.Getpid(), time.Now().UnixNano())
}

func TestAcquireIsExclusive(t *testing.T) {
	t.Parallel()
	name := uniqueName(t)
	t.Cleanup(func() { _ = os.Remove(LockPath(name)) })

	release, ok, err := Acquire(name)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if _, ok2, err := Acquire(name); err != nil || ok2 {
		t.Fatalf("second acquire should report held: ok=%v err=%v", ok2, err)
	}
	data, err := os.ReadFile(LockPath(name))
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	if strings.TrimSpace(string(data)) != fmt.Sprint(os.Getpid()) {
		t.Fatalf("lock file holds %q", data)
	}

	release()
	release()

	again, ok, err := Acquire(name)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
	again()
}

func TestAcquireRejectsBadNames(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"", "  ", "a/b", `a\b`} {
		if _, _, err := Acquire(name); err == nil {
			t.Fatalf("expected error for %q", name)
		}
	}
}
