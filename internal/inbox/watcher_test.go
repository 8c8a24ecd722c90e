package inbox

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/tracemark/internal/attribution"
	"github.com/starford/tracemark/internal/fingerprint"
)

// fakeScanner attributes files whose content is in known.
type fakeScanner struct {
	known map[string]string
}

func (f *fakeScanner) ScanPath(_ context.Context, path string) (attribution.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return attribution.Result{}, err
	}
	name, ok := f.known[string(data)]
	return attribution.Result{Found: ok, ConnectedName: name, Fingerprint: fingerprint.Of(data).String()}, nil
}

type collector struct {
	mu      sync.Mutex
	results map[string]attribution.Result
	errs    map[string]error
}

func newCollector() *collector {
	return &collector{results: map[string]attribution.Result{}, errs: map[string]error{}}
}

func (c *collector) cb(path string, res attribution.Result, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[filepath.Base(path)] = res
	if err != nil {
		c.errs[filepath.Base(path)] = err
	}
}

func (c *collector) get(name string) (attribution.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.results[name]
	return r, ok
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSweep_ScansExistingImages(t *testing.T) {
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "leak.png"), []byte("issued"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "other.png"), []byte("random"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("issued"), 0o644)

	c := newCollector()
	s := &fakeScanner{known: map[string]string{"issued": "LeakCarol"}}
	if err := Sweep(context.Background(), dir, s, quietLogger(), c.cb); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if r, ok := c.get("leak.png"); !ok || !r.Found || r.ConnectedName != "LeakCarol" {
		t.Errorf("leak.png result = %+v (seen %v)", r, ok)
	}
	if r, ok := c.get("other.png"); !ok || r.Found {
		t.Errorf("other.png result = %+v (seen %v)", r, ok)
	}
	if _, ok := c.get("notes.txt"); ok {
		t.Error("non-image file was scanned")
	}
}

func TestWatch_NewFileScanned(t *testing.T) {
	dir := t.TempDir()
	c := newCollector()
	s := &fakeScanner{known: map[string]string{"issued": "Insider"}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Watch(ctx, dir, s, quietLogger(), c.cb)

	time.Sleep(100 * time.Millisecond)
	_ = os.WriteFile(filepath.Join(dir, "drop.png"), []byte("issued"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		r, ok := c.get("drop.png")
		return ok && r.ConnectedName == "Insider"
	}, "dropped file not attributed by watcher")
}

func TestWatch_NewDirWatched(t *testing.T) {
	dir := t.TempDir()
	c := newCollector()
	s := &fakeScanner{known: map[string]string{"deep": "Deep"}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Watch(ctx, dir, s, quietLogger(), c.cb)

	time.Sleep(100 * time.Millisecond)
	sub := filepath.Join(dir, "batch")
	_ = os.MkdirAll(sub, 0o755)
	time.Sleep(100 * time.Millisecond)
	_ = os.WriteFile(filepath.Join(sub, "deep.png"), []byte("deep"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		r, ok := c.get("deep.png")
		return ok && r.Found
	}, "file in new subdir not scanned")
}

func TestWatch_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, t.TempDir(), &fakeScanner{}, quietLogger(), nil) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not stop after cancel")
	}
}

func TestWatch_MissingRoot(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope"), &fakeScanner{}, quietLogger(), nil)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want not-exist error", err)
	}
}
