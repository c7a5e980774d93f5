package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration parses a duration setting. Go duration strings ("500ms",
// "30s", "1m") are accepted, as are bare numbers, which count seconds.
// Empty means unset and yields zero.
func ParseDuration(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		secs, nerr := strconv.ParseFloat(s, 64)
		if nerr != nil {
			return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
		}
		d = time.Duration(secs * float64(time.Second))
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0, got %q", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDuration with def for unset or zero values.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDuration(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// durations lists every duration setting by its config path.
func (c *Config) durations() [][2]string {
	out := [][2]string{
		{"watch.debounce", c.Watch.Debounce},
		{"watch.poll_interval", c.Watch.PollInterval},
		{"watch.retry_interval", c.Watch.RetryInterval},
		{"api.upload_timeout", c.API.UploadTimeout},
		{"api.post_timeout", c.API.PostTimeout},
		{"api.min_post_interval", c.API.MinPostInterval},
		{"oauth.timeout", c.OAuth.Timeout},
		{"oauth.refresh_skew", c.OAuth.RefreshSkew},
	}
	if c.Storage != nil {
		out = append(out, [2]string{"storage.busy_timeout", c.Storage.BusyTimeout})
	}
	return out
}
