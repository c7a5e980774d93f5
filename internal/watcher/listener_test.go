package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"xposter/internal/job"
	logx "xposter/pkg/logx"
)

func TestListenerSeesNewPostFolders(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	layout, err := job.NewLayout(job.LayoutFolder, job.Options{})
	if err != nil {
		t.Fatal(err)
	}

	changes := make(chan struct{}, 16)
	l := NewListener(root, layout.Relevant, func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	// Wait for the watch to be installed: keep touching until an event lands.
	day := filepath.Join(root, "2026-03-01")
	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for got := false; !got; {
		select {
		case <-changes:
			got = true
		case <-tick.C:
			_ = os.MkdirAll(day, 0o755)
			_ = os.WriteFile(filepath.Join(day, "post.json"), []byte(`{}`), 0o644)
		case <-deadline:
			t.Fatal("no change reported")
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestListenerFiltersEvents(t *testing.T) {
	t.Parallel()
	layout, _ := job.NewLayout(job.LayoutFlat, job.Options{})
	l := NewListener(t.TempDir(), layout.Relevant, func() {}, logx.Nop())

	tests := []struct {
		ev   fsnotify.Event
		want bool
	}{
		{fsnotify.Event{Name: "/q/a.json", Op: fsnotify.Write}, true},
		{fsnotify.Event{Name: "/q/a.01.png", Op: fsnotify.Create}, true},
		{fsnotify.Event{Name: "/q/a.json", Op: fsnotify.Chmod}, false},
		{fsnotify.Event{Name: "/q/.a.json.swp", Op: fsnotify.Write}, false},
		{fsnotify.Event{Name: "/q/a.result.json", Op: fsnotify.Create}, false},
		{fsnotify.Event{Name: "/q/notes.txt", Op: fsnotify.Write}, false},
		{fsnotify.Event{Name: "/q/2026-03-01", Op: fsnotify.Remove}, true},
	}
	for _, tt := range tests {
		if got := l.handle(nil, tt.ev); got != tt.want {
			t.Errorf("handle(%s %s) = %v, want %v", tt.ev.Op, tt.ev.Name, got, tt.want)
		}
	}
}
