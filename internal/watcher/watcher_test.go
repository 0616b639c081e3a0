package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type call struct {
	op   string
	path string
}

// recorder is a Handler that records calls and tracks overlap.
type recorder struct {
	mu       sync.Mutex
	calls    []call
	inFlight int
	overlap  bool
	delay    time.Duration
}

func (r *recorder) record(op, path string) error {
	r.mu.Lock()
	r.inFlight++
	if r.inFlight > 1 {
		r.overlap = true
	}
	r.calls = append(r.calls, call{op, path})
	r.mu.Unlock()
	time.Sleep(r.delay)
	r.mu.Lock()
	r.inFlight--
	r.mu.Unlock()
	return nil
}

func (r *recorder) Index(_ context.Context, path string) error  { return r.record("index", path) }
func (r *recorder) Remove(_ context.Context, path string) error { return r.record("remove", path) }

func (r *recorder) snapshot() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func startWatcher(t *testing.T, root string, h Handler, opts ...Option) {
	t.Helper()
	opts = append([]Option{WithDebounce(50 * time.Millisecond)}, opts...)
	w := New(root, h, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run() = %v", err)
		}
	})
	select {
	case <-w.ready:
	case err := <-done:
		t.Fatalf("watcher exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not start")
	}
}

func hasCall(calls []call, op, suffix string) bool {
	for _, c := range calls {
		if c.op == op && strings.HasSuffix(c.path, suffix) {
			return true
		}
	}
	return false
}

func mdOnly(path string) bool { return strings.HasSuffix(path, ".md") }

func TestWatcher_indexAndRemove(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, dir, rec, WithFilter(mdOnly))

	note := filepath.Join(dir, "note.md")
	if err := os.WriteFile(note, []byte("# Note\nbody\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "skip.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, func() bool { return hasCall(rec.snapshot(), "index", "note.md") }) {
		t.Fatalf("note.md was not indexed: %v", rec.snapshot())
	}

	if err := os.Remove(note); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, func() bool { return hasCall(rec.snapshot(), "remove", "note.md") }) {
		t.Fatalf("note.md removal not handled: %v", rec.snapshot())
	}
	if hasCall(rec.snapshot(), "index", "skip.txt") {
		t.Error("filtered file should not be indexed")
	}
}

func TestWatcher_debounceCoalescesWrites(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, dir, rec, WithDebounce(300*time.Millisecond))

	note := filepath.Join(dir, "busy.md")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(note, []byte(strings.Repeat("x", i+1)), 0644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !waitFor(t, func() bool { return len(rec.snapshot()) > 0 }) {
		t.Fatal("no index call")
	}
	time.Sleep(500 * time.Millisecond)
	if n := len(rec.snapshot()); n != 1 {
		t.Errorf("expected one coalesced call, got %d: %v", n, rec.snapshot())
	}
}

func TestWatcher_newDirectoryAndHidden(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, dir, rec, WithFilter(mdOnly))

	// build the folder elsewhere and move it in, as a sync client would
	staging := filepath.Join(t.TempDir(), "journal")
	if err := os.MkdirAll(filepath.Join(staging, "2024"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(staging, "2024", "day.md"), []byte("entry\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(staging, filepath.Join(dir, "journal")); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, func() bool { return hasCall(rec.snapshot(), "index", filepath.Join("journal", "2024", "day.md")) }) {
		t.Fatalf("note in moved-in folder not indexed: %v", rec.snapshot())
	}

	if err := os.MkdirAll(filepath.Join(dir, ".obsidian"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".obsidian", "workspace.md"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if hasCall(rec.snapshot(), "index", "workspace.md") {
		t.Error("files under hidden directories should be ignored")
	}
}

func TestWatcher_serializesHandlerCalls(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{delay: 50 * time.Millisecond}
	startWatcher(t, dir, rec)

	for _, name := range []string{"a.md", "b.md", "c.md", "d.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if !waitFor(t, func() bool { return len(rec.snapshot()) >= 4 }) {
		t.Fatalf("expected four calls, got %v", rec.snapshot())
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.overlap {
		t.Error("handler calls overlapped")
	}
}

func TestWatcher_missingRoot(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "absent"), &recorder{})
	if err := w.Run(context.Background()); err == nil {
		t.Error("expected error for missing root")
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.md", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
	}
	for _, tt := range tests {
		got := inDir(tt.dir, tt.path)
		if got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

func TestHidden(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/v", false},
		{"/v/note.md", false},
		{"/v/.obsidian", true},
		{"/v/.obsidian/app.json", true},
		{"/v/a/.trash/x.md", true},
	}
	for _, tt := range tests {
		if got := hidden("/v", tt.path); got != tt.want {
			t.Errorf("hidden(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
