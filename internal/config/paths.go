package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Paths is the data directory layout.
type Paths struct {
	Root     string
	Queue    string
	Sent     string
	Failed   string
	Tokens   string
	Schedule string
	Log      string
}

func DataPaths(root string) Paths {
	return Paths{
		Root:     root,
		Queue:    filepath.Join(root, "queue"),
		Sent:     filepath.Join(root, "sent"),
		Failed:   filepath.Join(root, "failed"),
		Tokens:   filepath.Join(root, "tokens.json"),
		Schedule: filepath.Join(root, "schedule.json"),
		Log:      filepath.Join(root, "log.jsonl"),
	}
}

// ResolveDataDir picks the data dir: flag value, then XP_DATA_DIR, then ./data.
func ResolveDataDir(flagValue string) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}
	if v := strings.TrimSpace(os.Getenv("XP_DATA_DIR")); v != "" {
		return v
	}
	wd, err := os.Getwd()
	if err != nil {
		return "data"
	}
	return filepath.Join(wd, "data")
}

// ConfigFile returns the config file to read when none is given explicitly:
// config.yaml / config.yml if present, else config.json.
func (p Paths) ConfigFile() string {
	for _, name := range []string{"config.yaml", "config.yml"} {
		path := filepath.Join(p.Root, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return filepath.Join(p.Root, "config.json")
}

// Ensure creates queue/, sent/, failed/, an empty token file, an empty
// schedule and the log file when they are absent. Existing files are left
// untouched.
func (p Paths) Ensure() error {
	for _, dir := range []string{p.Queue, p.Sent, p.Failed} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	seed := []struct {
		path string
		body string
		perm os.FileMode
	}{
		{p.Tokens, "{}\n", 0o600},
		{p.Schedule, "[]\n", 0o644},
	}
	for _, f := range seed {
		if _, err := os.Stat(f.path); errors.Is(err, fs.ErrNotExist) {
			if err := os.WriteFile(f.path, []byte(f.body), f.perm); err != nil {
				return err
			}
		}
	}
	f, err := os.OpenFile(p.Log, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}
