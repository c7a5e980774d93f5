package schedule

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "xposter/pkg/logx"
)

var t0 = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	p := filepath.Join(t.TempDir(), "schedule.json")
	s, err := Open(p, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return s, p
}

func TestAddUpsertsAndOrders(t *testing.T) {
	t.Parallel()

	s, _ := openTemp(t)
	must(t, s.Add("b", t0.Add(time.Hour)))
	must(t, s.Add("a", t0.Add(time.Hour)))
	must(t, s.Add("c", t0))
	must(t, s.Add("b", t0.Add(-time.Hour)))

	got := s.Entries()
	want := []string{"b", "c", "a"}
	if len(got) != len(want) {
		t.Fatalf("entries = %v", got)
	}
	for i, w := range want {
		if got[i].Path != w {
			t.Fatalf("entries[%d] = %s, want %s (%v)", i, got[i].Path, w, got)
		}
	}
	if e, ok := s.PeekEarliest(); !ok || e.Path != "b" || !e.PublishAt.Equal(t0.Add(-time.Hour)) {
		t.Fatalf("PeekEarliest = %v, %v", e, ok)
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	s, p := openTemp(t)
	loc := time.FixedZone("X", -5*3600)
	must(t, s.Add("2024-01-02/z", t0.Add(24*time.Hour)))
	must(t, s.Add("2024-01-01/b", t0.In(loc)))
	must(t, s.Add("2024-01-01/a", t0))
	before := s.Entries()

	s2, err := Open(p, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	after := s2.Entries()
	if len(after) != len(before) {
		t.Fatalf("len %d != %d", len(after), len(before))
	}
	for i := range before {
		if before[i].Path != after[i].Path || !before[i].PublishAt.Equal(after[i].PublishAt) {
			t.Fatalf("entry %d: %v != %v", i, before[i], after[i])
		}
	}
}

func TestPopReady(t *testing.T) {
	t.Parallel()

	s, p := openTemp(t)
	must(t, s.Add("late", t0.Add(time.Minute)))
	must(t, s.Add("due", t0))
	must(t, s.Add("early", t0.Add(-time.Minute)))

	refs, err := s.PopReady(t0)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 2 || refs[0] != "early" || refs[1] != "due" {
		t.Fatalf("PopReady = %v", refs)
	}
	if refs, _ := s.PopReady(t0); len(refs) != 0 {
		t.Fatalf("second PopReady = %v", refs)
	}

	s2, err := Open(p, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if got := s2.Entries(); len(got) != 1 || got[0].Path != "late" {
		t.Fatalf("persisted remainder = %v", got)
	}
}

func TestRemoveAndReplace(t *testing.T) {
	t.Parallel()

	s, _ := openTemp(t)
	must(t, s.Add("a", t0))
	if ok, err := s.Remove("a"); !ok || err != nil {
		t.Fatalf("Remove = %v, %v", ok, err)
	}
	if ok, _ := s.Remove("a"); ok {
		t.Fatal("second Remove should report false")
	}

	must(t, s.Replace([]Entry{{Path: "x", PublishAt: t0}, {Path: "y", PublishAt: t0}, {Path: "x", PublishAt: t0.Add(time.Hour)}}))
	got := s.Entries()
	if len(got) != 2 || got[0].Path != "y" || got[1].Path != "x" {
		t.Fatalf("Replace = %v", got)
	}
}

func TestOpenCorruptFile(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "schedule.json")
	if err := os.WriteFile(p, []byte("{oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Open(p, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 0 {
		t.Fatal("corrupt schedule should load empty")
	}
	if _, err := os.Stat(p + ".corrupt"); err != nil {
		t.Fatalf("corrupt file not preserved: %v", err)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
