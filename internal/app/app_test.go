package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"xposter/internal/config"
	"xposter/internal/watcher"
)

func newTestApp(t *testing.T, cfgJSON string, queue map[string]string) *App {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(cfgJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	for name, body := range queue {
		p := filepath.Join(dir, "queue", name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	a, err := NewApp(Options{DataDir: dir, Quiet: true})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestValidateReportsInvalidEntries(t *testing.T) {
	a := newTestApp(t, `{"layout":"flat"}`, map[string]string{
		"ok.json":  `{"text":"hello"}`,
		"bad.json": `{"text":"` + strings.Repeat("y", 281) + `"}`,
	})

	var out bytes.Buffer
	if err := a.Validate(context.Background(), &out); err == nil {
		t.Fatal("expected validate to fail")
	}
	if !strings.Contains(out.String(), "bad.json") || !strings.Contains(out.String(), "1 valid, 1 invalid") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestDryRunLeavesQueueUntouched(t *testing.T) {
	a := newTestApp(t, `{"layout":"flat","timezone":"UTC"}`, map[string]string{
		"later.json": `{"text":"later","publish_at":"2099-01-01T09:00:00Z"}`,
	})

	var out bytes.Buffer
	if err := a.DryRun(context.Background(), &out); err != nil {
		t.Fatalf("DryRun: %v", err)
	}
	got := out.String()
	for _, want := range []string{"later.json", "2099-01-01 09:00", filepath.Join(a.Paths().Sent, "later.json"), filepath.Join(a.Paths().Failed, "later.json")} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
	if _, err := os.Stat(filepath.Join(a.Paths().Queue, "later.json")); err != nil {
		t.Fatalf("job moved by dry-run: %v", err)
	}
}

func TestDryRunGroupsFolderDestinations(t *testing.T) {
	a := newTestApp(t, `{"timezone":"UTC","media":{"verify_content":false}}`, map[string]string{
		"2099-01-01/launch/post.json": `{"text":"hello","labels":["night"]}`,
		"2099-01-01/launch/01.png":    "png",
	})

	var out bytes.Buffer
	if err := a.DryRun(context.Background(), &out); err != nil {
		t.Fatalf("DryRun: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"[night]",
		"2099-01-01 22:30",
		filepath.Join(a.Paths().Sent, "night", "2099-01-01", "22-30", "launch"),
		filepath.Join(a.Paths().Failed, "night", "2099-01-01", "22-30", "launch"),
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
}

func TestStartPollThenStopFlushesSchedule(t *testing.T) {
	a := newTestApp(t, `{"layout":"flat","watch":{"poll_interval":"1h"}}`, map[string]string{
		"later.json": `{"text":"later","publish_at":"2099-01-01T09:00:00Z"}`,
	})

	if err := a.Start(context.Background(), true); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for a.loop.State() != watcher.WaitingForNext {
		if time.Now().After(deadline) {
			t.Fatalf("loop state = %v", a.loop.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
	// Drop the persisted copy so only the shutdown flush can bring it back.
	if err := os.Remove(a.Paths().Schedule); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopSignal); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
	if err := a.Err(); err != nil {
		t.Fatalf("Err = %v", err)
	}

	b, err := os.ReadFile(a.Paths().Schedule)
	if err != nil {
		t.Fatalf("schedule not flushed: %v", err)
	}
	if !strings.Contains(string(b), "later.json") {
		t.Fatalf("schedule = %s", b)
	}
	if _, err := os.Stat(filepath.Join(a.Paths().Queue, "later.json")); err != nil {
		t.Fatalf("future job left the queue: %v", err)
	}
}

func TestRunOnceWithoutTokensDefers(t *testing.T) {
	a := newTestApp(t, `{"layout":"flat","storage":{"driver":"sqlite"}}`, map[string]string{
		"now.json": `{"text":"now"}`,
	})

	sum, err := a.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if sum.Deferred != 1 || sum.Sent != 0 {
		t.Fatalf("summary = %s", sum)
	}
	if _, err := os.Stat(filepath.Join(a.Paths().Queue, "now.json")); err != nil {
		t.Fatalf("deferred job left the queue: %v", err)
	}
	st, err := a.AuthStatus()
	if err != nil || st.Authenticated {
		t.Fatalf("status = %+v, %v", st, err)
	}
	if _, err := os.Stat(filepath.Join(a.Paths().Root, "history.db")); err != nil {
		t.Fatalf("sqlite history not created: %v", err)
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	paths := config.DataPaths("/srv/xp")
	tests := []struct {
		name    string
		sc      *config.StorageConfig
		enabled bool
		driver  string
		path    string
		wantErr bool
	}{
		{name: "absent"},
		{name: "none", sc: &config.StorageConfig{Driver: "none"}},
		{name: "file default", sc: &config.StorageConfig{Driver: "file"}, enabled: true, driver: "file", path: "/srv/xp/history.jsonl"},
		{name: "sqlite relative", sc: &config.StorageConfig{Driver: "SQLite", Path: "db/h.db"}, enabled: true, driver: "sqlite", path: "/srv/xp/db/h.db"},
		{name: "sqlite absolute", sc: &config.StorageConfig{Driver: "sqlite3", Path: "/var/lib/h.db"}, enabled: true, driver: "sqlite", path: "/var/lib/h.db"},
		{name: "postgres", sc: &config.StorageConfig{Driver: "postgres", DSN: "postgres://x"}, enabled: true, driver: "postgres"},
		{name: "postgres without dsn", sc: &config.StorageConfig{Driver: "postgres"}, wantErr: true},
		{name: "unknown", sc: &config.StorageConfig{Driver: "redis"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, enabled, err := mapStorageConfig(&config.Config{Storage: tt.sc}, paths)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if enabled != tt.enabled || got.Driver != tt.driver || got.Path != tt.path {
				t.Fatalf("got %+v enabled=%v", got, enabled)
			}
		})
	}
}
