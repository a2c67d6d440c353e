package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestDebouncer(t *testing.T) {
	fire := make(chan struct{}, 1)
	d := &debouncer{delay: 50 * time.Millisecond, fire: fire}

	d.trigger()
	d.trigger()
	d.trigger()

	waitFor(t, fire, "debounced fire")

	select {
	case <-fire:
		t.Fatal("expected a single fire for a burst of triggers")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestDebouncer_Stop(t *testing.T) {
	fire := make(chan struct{}, 1)
	d := &debouncer{delay: 20 * time.Millisecond, fire: fire}

	d.trigger()
	d.stop()

	select {
	case <-fire:
		t.Fatal("stopped debouncer must not fire")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatcher_RunsOnChange(t *testing.T) {
	defer goleak.VerifyNone(t)

	child := t.TempDir()
	parent := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(child, "node_modules"), 0755))

	w := New([]string{child, parent, filepath.Join(t.TempDir(), "missing")}, []string{"node_modules"}, 20*time.Millisecond, testLogger())

	changes := make(chan struct{}, 10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(context.Context) { changes <- struct{}{} })
	}()

	waitFor(t, w.Ready(), "watcher ready")

	require.NoError(t, os.WriteFile(filepath.Join(parent, "single.php"), []byte("<?php"), 0644))
	waitFor(t, changes, "change in parent layer")

	// New directories are picked up and watched.
	sub := filepath.Join(child, "templates")
	require.NoError(t, os.Mkdir(sub, 0755))
	waitFor(t, changes, "directory creation")
	require.Eventually(t, func() bool {
		if err := os.WriteFile(filepath.Join(sub, "landing.php"), []byte("<?php"), 0644); err != nil {
			return false
		}
		select {
		case <-changes:
			return true
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcher_IgnoredDirectories(t *testing.T) {
	defer goleak.VerifyNone(t)

	child := t.TempDir()
	ignored := filepath.Join(child, "node_modules")
	require.NoError(t, os.MkdirAll(ignored, 0755))

	w := New([]string{child}, []string{"node_modules"}, 20*time.Millisecond, testLogger())

	changes := make(chan struct{}, 10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(context.Context) { changes <- struct{}{} })
	}()
	waitFor(t, w.Ready(), "watcher ready")

	require.NoError(t, os.WriteFile(filepath.Join(ignored, "build.php"), []byte("<?php"), 0644))

	select {
	case <-changes:
		t.Fatal("changes inside ignored directories must not trigger a run")
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	require.NoError(t, <-done)
}
