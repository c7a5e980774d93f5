package app

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"xposter/internal/config"
	"xposter/internal/storage"
)

// mapStorageConfig resolves the history backend. Relative paths live under
// the data dir.
func mapStorageConfig(cfg *config.Config, paths config.Paths) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	resolve := func(def string) string {
		if path == "" {
			path = def
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(paths.Root, path)
		}
		return path
	}

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: resolve("history.jsonl")}, true, nil
	case "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: resolve("history.db"), BusyTimeout: busy}, true, nil
	case "postgres", "postgresql":
		if strings.TrimSpace(sc.DSN) == "" {
			return storage.Config{}, false, fmt.Errorf("storage.dsn is required when storage.driver=postgres")
		}
		return storage.Config{Driver: "postgres", DSN: sc.DSN}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}
