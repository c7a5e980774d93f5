package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("X_CLIENT_ID", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Layout != LayoutFolder {
		t.Fatalf("Layout = %q", cfg.Layout)
	}
	if cfg.API.BaseURL != DefaultBaseURL {
		t.Fatalf("BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.DefaultTimes["night"] != "22:30" {
		t.Fatalf("DefaultTimes = %v", cfg.DefaultTimes)
	}
	if !cfg.VerifyMediaContent() || !cfg.ConsoleLogging() {
		t.Fatal("expected verify_content and console defaults to be true")
	}
	if err := cfg.RequireOAuth(); err == nil {
		t.Fatal("expected RequireOAuth to fail without client id")
	}
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
layout: flat
timezone: UTC
watch:
  debounce: 5s
oauth:
  client_id: from-file
  redirect_uri: http://localhost/cb
`)
	t.Setenv("X_CLIENT_ID", "from-env")
	t.Setenv("X_SCOPES", "tweet.write offline.access")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Layout != LayoutFlat {
		t.Fatalf("Layout = %q", cfg.Layout)
	}
	if cfg.OAuth.ClientID != "from-env" {
		t.Fatalf("ClientID = %q, want env value", cfg.OAuth.ClientID)
	}
	if len(cfg.OAuth.Scopes) != 2 {
		t.Fatalf("Scopes = %v", cfg.OAuth.Scopes)
	}
	loc, err := cfg.Location()
	if err != nil || loc != time.UTC {
		t.Fatalf("Location = %v, %v", loc, err)
	}
	d, err := ParseDurationOrDefault("watch.debounce", cfg.Watch.Debounce, 30*time.Second)
	if err != nil || d != 5*time.Second {
		t.Fatalf("debounce = %v, %v", d, err)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown field", body: `{"layuot":"flat"}`},
		{name: "trailing data", body: `{} {}`},
		{name: "bad layout", body: `{"layout":"tree"}`},
		{name: "bad duration", body: `{"watch":{"debounce":"soon"}}`},
		{name: "bad slot time", body: `{"default_times":{"morning":"9am"}}`},
		{name: "telegram without chat", body: `{"notify":{"telegram":{"enabled":true,"token":"t"}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			writeFile(t, path, tt.body)
			if _, err := Load(path); err == nil {
				t.Fatalf("expected error for %s", tt.body)
			}
		})
	}
}

func TestPathsEnsure(t *testing.T) {
	t.Parallel()
	p := DataPaths(filepath.Join(t.TempDir(), "data"))
	if err := p.Ensure(); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	for _, dir := range []string{p.Queue, p.Sent, p.Failed} {
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			t.Fatalf("%s not created: %v", dir, err)
		}
	}
	b, err := os.ReadFile(p.Tokens)
	if err != nil || string(b) != "{}\n" {
		t.Fatalf("tokens file = %q, %v", b, err)
	}
	b, err = os.ReadFile(p.Schedule)
	if err != nil || string(b) != "[]\n" {
		t.Fatalf("schedule file = %q, %v", b, err)
	}

	// A second Ensure must not clobber existing tokens or schedule.
	writeFile(t, p.Tokens, `{"access_token":"keep"}`)
	writeFile(t, p.Schedule, `[{"path":"a.json","publish_at":"2030-01-01T00:00:00Z"}]`)
	if err := p.Ensure(); err != nil {
		t.Fatalf("Ensure again: %v", err)
	}
	b, _ = os.ReadFile(p.Tokens)
	if string(b) != `{"access_token":"keep"}` {
		t.Fatalf("tokens overwritten: %q", b)
	}
	b, _ = os.ReadFile(p.Schedule)
	if !strings.Contains(string(b), "a.json") {
		t.Fatalf("schedule overwritten: %q", b)
	}
}

func TestResolveDataDir(t *testing.T) {
	t.Setenv("XP_DATA_DIR", "/srv/xposter")
	if got := ResolveDataDir("/tmp/flag"); got != "/tmp/flag" {
		t.Fatalf("flag should win, got %q", got)
	}
	if got := ResolveDataDir(""); got != "/srv/xposter" {
		t.Fatalf("env should be used, got %q", got)
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: 0},
		{raw: "45s", want: 45 * time.Second},
		{raw: " 1m30s ", want: 90 * time.Second},
		{raw: "30", want: 30 * time.Second},
		{raw: "0.5", want: 500 * time.Millisecond},
		{raw: "-1s", wantErr: true},
		{raw: "-5", wantErr: true},
		{raw: "soon", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDuration("watch.debounce", tt.raw)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseDuration(%q) err = %v", tt.raw, err)
		}
		if !tt.wantErr && got != tt.want {
			t.Fatalf("ParseDuration(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
	if d, err := ParseDurationOrDefault("watch.debounce", "0s", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("ParseDurationOrDefault(0s) = %v, %v", d, err)
	}
}

func TestParseEmptyYAMLUsesDefaults(t *testing.T) {
	t.Setenv("X_CLIENT_ID", "")
	path := filepath.Join(t.TempDir(), "config.yml")
	writeFile(t, path, "# nothing configured yet\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Layout != LayoutFolder {
		t.Fatalf("Layout = %q", cfg.Layout)
	}
}
