package job

import (
	"path/filepath"
	"testing"
	"time"
)

func TestParsePublishAt(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("ICT", 7*3600)
	day := time.Date(2024, 3, 10, 15, 0, 0, 0, loc)

	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-01-01T00:00:00Z", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"2024-01-01T09:30:00+02:00", time.Date(2024, 1, 1, 7, 30, 0, 0, time.UTC)},
		{"2024-01-01T09:30:00.250Z", time.Date(2024, 1, 1, 9, 30, 0, 250e6, time.UTC)},
		{"2024-01-01T09:30Z", time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)},
		{"2024-01-01T09:30:00", time.Date(2024, 1, 1, 9, 30, 0, 0, loc)},
		{"2024-01-01T09:30", time.Date(2024, 1, 1, 9, 30, 0, 0, loc)},
		{"2024-01-01 09:30", time.Date(2024, 1, 1, 9, 30, 0, 0, loc)},
		{"09:30 2024-01-01", time.Date(2024, 1, 1, 9, 30, 0, 0, loc)},
		{"2024-01-01", time.Date(2024, 1, 1, 0, 0, 0, 0, loc)},
		{"09:30", time.Date(2024, 3, 10, 9, 30, 0, 0, loc)},
		{" 22:30:15 ", time.Date(2024, 3, 10, 22, 30, 15, 0, loc)},
	}
	for _, tt := range tests {
		got, err := ParsePublishAt(tt.in, day, loc)
		if err != nil {
			t.Fatalf("ParsePublishAt(%q): %v", tt.in, err)
		}
		if !got.Equal(tt.want) {
			t.Fatalf("ParsePublishAt(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseFlatPublishAt(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("ICT", 7*3600)
	day := time.Date(2024, 3, 10, 15, 0, 0, 0, loc)

	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-01-01T09:00:00", time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)},
		{"2024-01-01 09:00", time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)},
		{"2024-01-01T09:00:00+07:00", time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC)},
		{"2024-01-01", time.Date(2024, 1, 1, 0, 0, 0, 0, loc)},
		{"09:30", time.Date(2024, 3, 10, 9, 30, 0, 0, loc)},
		{"09:30 2024-01-01", time.Date(2024, 1, 1, 9, 30, 0, 0, loc)},
	}
	for _, tt := range tests {
		got, err := ParseFlatPublishAt(tt.in, day, loc)
		if err != nil {
			t.Fatalf("ParseFlatPublishAt(%q): %v", tt.in, err)
		}
		if !got.Equal(tt.want) {
			t.Fatalf("ParseFlatPublishAt(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFlatLayoutZonelessDateTimeIsUTC(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeText(t, filepath.Join(root, "a.json"), `{"text":"hi","publish_at":"2024-01-01T09:00:00"}`)
	opts := testOptions()
	opts.Location = time.FixedZone("ICT", 7*3600)
	l, err := NewLayout(LayoutFlat, opts)
	if err != nil {
		t.Fatal(err)
	}
	j, err := l.Parse(root, "a.json")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	if j.PublishAt == nil || !j.PublishAt.Equal(want) {
		t.Fatalf("PublishAt = %v, want %v", j.PublishAt, want)
	}
}

func TestParsePublishAtRejects(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "tomorrow", "01/02/2024", "25:00", "2024-13-01", "2024-01-01 09:30 extra"} {
		if _, err := ParsePublishAt(in, time.Now(), time.UTC); err == nil {
			t.Fatalf("ParsePublishAt(%q) expected error", in)
		}
	}
}

func TestParseClock(t *testing.T) {
	t.Parallel()

	d, err := ParseClock("22:30")
	if err != nil || d != 22*time.Hour+30*time.Minute {
		t.Fatalf("ParseClock = %v, %v", d, err)
	}
	if _, err := ParseClock("9am"); err == nil {
		t.Fatal("expected error")
	}
}
