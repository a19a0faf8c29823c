// # internal/watcher/watcher_test.go
package watcher

import (
	"testing"
	"time"
)

func newTestWatcher(t *testing.T) *Watcher {
	t.Helper()
	w, err := NewWatcher(
		10*time.Millisecond,
		[]string{"test_*.py", "*_test.py"},
		[]string{".git", "__pycache__"},
		[]string{"test_skip_*.py"},
		func([]string) {},
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func TestShouldInclude(t *testing.T) {
	w := newTestWatcher(t)

	cases := map[string]bool{
		"tests/test_math.py":      true,
		"tests/math_test.py":      true,
		"tests/helpers.py":        false,
		"tests/test_skip_slow.py": false,
		"tests/notes.txt":         false,
	}
	for path, want := range cases {
		if got := w.shouldInclude(path); got != want {
			t.Errorf("shouldInclude(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestShouldExcludeDir(t *testing.T) {
	w := newTestWatcher(t)

	if !w.shouldExcludeDir("project/.git") {
		t.Error(".git must be excluded")
	}
	if !w.shouldExcludeDir("project/__pycache__") {
		t.Error("__pycache__ must be excluded")
	}
	if w.shouldExcludeDir("project/tests") {
		t.Error("tests must not be excluded")
	}
}

func TestDebounceCoalescesChanges(t *testing.T) {
	var got [][]string
	done := make(chan struct{})
	w, err := NewWatcher(
		20*time.Millisecond,
		[]string{"test_*.py"},
		nil,
		nil,
		func(paths []string) {
			got = append(got, paths)
			close(done)
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	w.scheduleChange("tests/test_a.py")
	w.scheduleChange("tests/test_b.py")
	w.scheduleChange("tests/test_a.py")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("debounced flush never fired")
	}

	if len(got) != 1 {
		t.Fatalf("expected one coalesced flush, got %d", len(got))
	}
	if len(got[0]) != 2 {
		t.Errorf("expected two distinct paths, got %v", got[0])
	}
}
