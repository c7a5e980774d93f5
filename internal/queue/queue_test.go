package queue

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"xposter/internal/job"
	logx "xposter/pkg/logx"
)

func write(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

type dirs struct{ queue, sent, failed string }

func newDirs(t *testing.T) dirs {
	root := t.TempDir()
	d := dirs{
		queue:  filepath.Join(root, "queue"),
		sent:   filepath.Join(root, "sent"),
		failed: filepath.Join(root, "failed"),
	}
	for _, p := range []string{d.queue, d.sent, d.failed} {
		if err := os.MkdirAll(p, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return d
}

func TestScanOrdersAndCapturesErrors(t *testing.T) {
	t.Parallel()

	d := newDirs(t)
	write(t, filepath.Join(d.queue, "c.json"), `{"text":"third"}`)
	write(t, filepath.Join(d.queue, "a.json"), `{"text":"first"}`)
	write(t, filepath.Join(d.queue, "b.json"), `{not json`)
	write(t, filepath.Join(d.queue, "a.result.json"), `{"status":"success"}`)
	write(t, filepath.Join(d.queue, ".tmp.json"), `{}`)

	layout, err := job.NewLayout(job.LayoutFlat, job.Options{Location: time.UTC})
	if err != nil {
		t.Fatal(err)
	}
	entries, err := NewScanner(d.queue, layout, logx.Nop()).Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	var refs []string
	for _, e := range entries {
		refs = append(refs, e.Ref)
	}
	if strings.Join(refs, ",") != "a.json,b.json,c.json" {
		t.Fatalf("refs = %v", refs)
	}
	jobs, errs := Split(entries)
	if len(jobs) != 2 || len(errs) != 1 || errs[0].Ref != "b.json" {
		t.Fatalf("jobs=%d errs=%v", len(jobs), errs)
	}
	var pe *job.ParseError
	if !errors.As(errs[0].Err, &pe) {
		t.Fatalf("want ParseError, got %v", errs[0].Err)
	}
}

func TestFinalizeFolderPrunesEmptyDateDir(t *testing.T) {
	t.Parallel()

	d := newDirs(t)
	write(t, filepath.Join(d.queue, "2024-01-01", "a", "post.json"), `{}`)
	write(t, filepath.Join(d.queue, "2024-01-01", "a", "01.png"), "png")
	write(t, filepath.Join(d.queue, "2024-01-02", "b", "post.json"), `{}`)
	write(t, filepath.Join(d.queue, "2024-01-02", "c", "post.json"), `{}`)

	ict := time.FixedZone("ICT", 7*3600)
	m := NewMover(d.queue, d.sent, d.failed, logx.Nop(), WithLocation(ict))

	a := &job.Job{Ref: "2024-01-01/a", ID: "a", Layout: job.LayoutFolder, Slot: "night"}
	res := Success("a", []json.RawMessage{json.RawMessage(`{"media_id":"1"}`)}, json.RawMessage(`{"data":{"id":"9"}}`))
	res.TS = time.Date(2024, 1, 1, 15, 31, 0, 0, time.UTC)

	want := filepath.Join(d.sent, "night", "2024-01-01", "22-31", "a")
	if got := m.JobDestination(a, Sent, res.TS); got != want {
		t.Fatalf("JobDestination = %s, want %s", got, want)
	}
	dst, err := m.FinalizeJob(a, Sent, res)
	if err != nil {
		t.Fatalf("FinalizeJob: %v", err)
	}
	if dst != want || !exists(filepath.Join(dst, "01.png")) {
		t.Fatalf("dest = %s", dst)
	}
	if exists(filepath.Join(d.queue, "2024-01-01")) {
		t.Fatal("empty date folder should be pruned")
	}
	if !exists(d.queue) {
		t.Fatal("queue root must never be pruned")
	}

	b, err := os.ReadFile(filepath.Join(d.sent, "night", "2024-01-01", "22-31", "a.result.json"))
	if err != nil {
		t.Fatalf("result record: %v", err)
	}
	var got Result
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if !got.OK() || len(got.Uploads) != 1 || got.AttemptID == "" || !got.TS.Equal(res.TS) {
		t.Fatalf("result = %+v", got)
	}

	// Entries without a slot keep their queue path.
	dst, err = m.Finalize("2024-01-02/b", Failed, Failure("", ErrorInfo{Message: "bad"}, nil))
	if err != nil {
		t.Fatal(err)
	}
	if dst != filepath.Join(d.failed, "2024-01-02", "b") {
		t.Fatalf("rejected dest = %s", dst)
	}
	if !exists(filepath.Join(d.queue, "2024-01-02", "c")) {
		t.Fatal("non-empty date folder must be kept")
	}
}

func TestJobDestinationFlatMirrorsQueue(t *testing.T) {
	t.Parallel()

	d := newDirs(t)
	m := NewMover(d.queue, d.sent, d.failed, logx.Nop())
	j := &job.Job{Ref: "sub/a.json", Layout: job.LayoutFlat, Slot: "morning"}
	if got := m.JobDestination(j, Failed, time.Now()); got != filepath.Join(d.failed, "sub", "a.json") {
		t.Fatalf("JobDestination = %s", got)
	}
}

func TestFinalizeFailureWritesErrorText(t *testing.T) {
	t.Parallel()

	d := newDirs(t)
	write(t, filepath.Join(d.queue, "x.json"), `{"text":""}`)

	m := NewMover(d.queue, d.sent, d.failed, logx.Nop())
	res := Failure("x", ErrorInfo{Message: "invalid job", StatusCode: 0}, []string{"text exceeds 280 characters", "more than 4 images found"})
	dst, err := m.Finalize("x.json", Failed, res)
	if err != nil {
		t.Fatal(err)
	}
	if dst != filepath.Join(d.failed, "x.json") {
		t.Fatalf("dest = %s", dst)
	}
	txt, err := os.ReadFile(filepath.Join(d.failed, "x.error.txt"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"invalid job", "text exceeds 280", "more than 4 images"} {
		if !strings.Contains(string(txt), want) {
			t.Fatalf("error.txt missing %q:\n%s", want, txt)
		}
	}
	if exists(filepath.Join(d.queue, "x.json")) {
		t.Fatal("job still in queue")
	}
}

func TestFinalizeCollisionAndCompanions(t *testing.T) {
	t.Parallel()

	d := newDirs(t)
	write(t, filepath.Join(d.sent, "a.json"), `{"old":true}`)
	write(t, filepath.Join(d.queue, "a.json"), `{"text":"new"}`)
	write(t, filepath.Join(d.queue, "a.01.png"), "img")

	m := NewMover(d.queue, d.sent, d.failed, logx.Nop())
	dst, err := m.Finalize("a.json", Sent, Success("a", nil, nil), "a.01.png")
	if err != nil {
		t.Fatal(err)
	}
	if dst != filepath.Join(d.sent, "a-1.json") {
		t.Fatalf("dest = %s", dst)
	}
	for _, n := range []string{"a-1.json", "a-1.result.json", "a-1.01.png", "a.json"} {
		if !exists(filepath.Join(d.sent, n)) {
			t.Fatalf("missing sent/%s", n)
		}
	}
	if exists(filepath.Join(d.queue, "a.01.png")) {
		t.Fatal("companion left in queue")
	}
}

func TestFinalizeMissingSourceKeepsResult(t *testing.T) {
	t.Parallel()

	d := newDirs(t)
	m := NewMover(d.queue, d.sent, d.failed, logx.Nop())
	_, err := m.Finalize("gone.json", Sent, Success("gone", nil, nil))
	var ioe *IOError
	if !errors.As(err, &ioe) || ioe.Op != "move" {
		t.Fatalf("want move IOError, got %v", err)
	}
	if !exists(filepath.Join(d.sent, "gone.result.json")) {
		t.Fatal("result record must survive a failed move")
	}
}

func TestRawPayload(t *testing.T) {
	t.Parallel()

	if _, ok := RawPayload([]byte(`{"a":1}`)).(json.RawMessage); !ok {
		t.Fatal("JSON body should stay raw JSON")
	}
	if s, ok := RawPayload([]byte("<html>")).(string); !ok || s != "<html>" {
		t.Fatal("non-JSON body should become text")
	}
	if RawPayload(nil) != nil {
		t.Fatal("empty body should be nil")
	}
}
