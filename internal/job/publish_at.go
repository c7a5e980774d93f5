package job

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

var (
	// Layouts carrying their own zone ('Z' or an offset).
	zonedLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05Z0700",
		"2006-01-02T15:04Z07:00",
		"2006-01-02 15:04:05Z07:00",
	}

	// Full date-times without a zone.
	localLayouts = []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
	}

	clockLayouts = []string{"15:04", "15:04:05"}
)

// ParsePublishAt parses a publish_at value.
//
// Supported forms:
//   - ISO-8601 with 'Z' or offset: "2024-01-01T09:00:00Z", "2024-01-01T09:00:00+07:00"
//   - ISO-8601 without zone (in loc): "2024-01-01T09:00", "2024-01-01 09:00:00"
//   - Bare time "HH:MM" / "HH:MM:SS": that time on day's date, in loc
//   - Bare date "2024-01-01": midnight in loc
//   - Time then date: "09:00 2024-01-01"
func ParsePublishAt(raw string, day time.Time, loc *time.Location) (time.Time, error) {
	return parsePublishAt(raw, day, loc, loc)
}

// ParseFlatPublishAt is ParsePublishAt for flat descriptors: a full
// date-time without a zone is UTC. Bare dates and clock times stay in loc.
func ParseFlatPublishAt(raw string, day time.Time, loc *time.Location) (time.Time, error) {
	return parsePublishAt(raw, day, loc, time.UTC)
}

func parsePublishAt(raw string, day time.Time, loc, dateTimeLoc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("publish_at is empty")
	}
	if loc == nil {
		loc = time.Local
	}
	if dateTimeLoc == nil {
		dateTimeLoc = loc
	}

	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, dateTimeLoc); err == nil {
			return t, nil
		}
	}

	parts := strings.Fields(s)
	switch len(parts) {
	case 1:
		if t, err := time.ParseInLocation(dateLayout, parts[0], loc); err == nil {
			return t, nil
		}
		if c, ok := parseClock(parts[0]); ok {
			return onDay(day, c, loc), nil
		}
	case 2:
		if d, err := time.ParseInLocation(dateLayout, parts[1], loc); err == nil {
			if c, ok := parseClock(parts[0]); ok {
				return onDay(d, c, loc), nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("publish_at %q is not a recognised date/time (use ISO-8601, YYYY-MM-DD, HH:MM or a combination)", raw)
}

// ParseClock parses "HH:MM" (or "HH:MM:SS") into an offset from midnight.
func ParseClock(v string) (time.Duration, error) {
	c, ok := parseClock(strings.TrimSpace(v))
	if !ok {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", v)
	}
	return c, nil
}

func parseClock(v string) (time.Duration, bool) {
	for _, layout := range clockLayouts {
		t, err := time.Parse(layout, v)
		if err != nil {
			continue
		}
		return time.Duration(t.Hour())*time.Hour +
			time.Duration(t.Minute())*time.Minute +
			time.Duration(t.Second())*time.Second, true
	}
	return 0, false
}

// onDay places a clock offset on day's calendar date in loc. Wall-clock
// fields are used so DST transitions keep the written time.
func onDay(day time.Time, clock time.Duration, loc *time.Location) time.Time {
	y, m, d := day.In(loc).Date()
	secs := int(clock / time.Second)
	return time.Date(y, m, d, secs/3600, (secs%3600)/60, secs%60, 0, loc)
}
