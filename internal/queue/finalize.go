package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"xposter/internal/job"
	logx "xposter/pkg/logx"
)

// Class is a terminal destination.
type Class string

const (
	Sent   Class = "sent"
	Failed Class = "failed"
)

// IOError is a filesystem failure while finalizing a job.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string { return fmt.Sprintf("finalize: %s %s: %v", e.Op, e.Path, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// Mover relocates job artifacts from queue/ into sent/ or failed/.
//
// The result record is written before the artifact leaves the queue, so a
// job is never observed gone without a result.
type Mover struct {
	queue  string
	sent   string
	failed string
	loc    *time.Location
	log    logx.Logger
}

type MoverOption func(*Mover)

// WithLocation sets the zone used for the HH-MM grouping folder.
func WithLocation(loc *time.Location) MoverOption {
	return func(m *Mover) {
		if loc != nil {
			m.loc = loc
		}
	}
}

func NewMover(queueDir, sentDir, failedDir string, log logx.Logger, opts ...MoverOption) *Mover {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Mover{
		queue:  queueDir,
		sent:   sentDir,
		failed: failedDir,
		loc:    time.Local,
		log:    log.With(logx.String("comp", "queue.finalize")),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Destination is where ref would land in class, ignoring name collisions.
func (m *Mover) Destination(ref string, class Class) string {
	return filepath.Join(m.root(class), filepath.FromSlash(path.Clean(ref)))
}

// JobDestination is where j would land in class when finalized at the given
// time, ignoring name collisions. Folder posts with a slot are grouped as
// <slot>/<date>/<HH-MM>/<post>; everything else mirrors its queue path.
func (m *Mover) JobDestination(j *job.Job, class Class, at time.Time) string {
	return filepath.Join(m.root(class), filepath.FromSlash(m.jobDir(j, at)), path.Base(path.Clean(j.Ref)))
}

func (m *Mover) jobDir(j *job.Job, at time.Time) string {
	ref := path.Clean(j.Ref)
	date, _, nested := strings.Cut(ref, "/")
	if j.Layout != job.LayoutFolder || j.Slot == "" || !nested {
		return path.Dir(ref)
	}
	return path.Join(j.Slot, date, at.In(m.loc).Format("15-04"))
}

func (m *Mover) root(class Class) string {
	if class == Sent {
		return m.sent
	}
	return m.failed
}

// FinalizeJob finalizes a parsed job. Its destination is grouped by
// JobDestination using res.TS, and its companion images move with it.
func (m *Mover) FinalizeJob(j *job.Job, class Class, res Result) (string, error) {
	return m.finalize(path.Clean(j.Ref), m.jobDir(j, res.TS), class, res, j.Extra)
}

// Finalize writes res next to the destination of ref, moves ref and its
// companion refs there, writes <name>.error.txt for failures and prunes
// grouping directories left empty under queue/. The destination mirrors
// ref's path. It returns the artifact's new path.
//
// When the move fails the result record stays in place and an *IOError is
// returned.
func (m *Mover) Finalize(ref string, class Class, res Result, companions ...string) (string, error) {
	ref = path.Clean(ref)
	return m.finalize(ref, path.Dir(ref), class, res, companions)
}

func (m *Mover) finalize(ref, rel string, class Class, res Result, companions []string) (string, error) {
	src := filepath.Join(m.queue, filepath.FromSlash(ref))
	dstDir := filepath.Join(m.root(class), filepath.FromSlash(rel))
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return "", &IOError{Op: "mkdir", Path: dstDir, Err: err}
	}

	name := path.Base(ref)
	stem, ext := splitName(src, name)
	newStem := uniqueStem(dstDir, stem, ext)
	dst := filepath.Join(dstDir, newStem+ext)

	if err := writeJSONAtomic(filepath.Join(dstDir, newStem+".result.json"), res); err != nil {
		return "", &IOError{Op: "write result", Path: dst, Err: err}
	}
	if class == Failed {
		errPath := filepath.Join(dstDir, newStem+".error.txt")
		if err := os.WriteFile(errPath, []byte(errorText(ref, res)), 0o644); err != nil {
			m.log.Warn("finalize.error_text_failed", logx.String("path", errPath), logx.Err(err))
		}
	}

	if err := move(src, dst); err != nil {
		return "", &IOError{Op: "move", Path: src, Err: err}
	}
	for _, c := range companions {
		c = path.Clean(c)
		cname := path.Base(c)
		if newStem != stem && strings.HasPrefix(cname, stem) {
			cname = newStem + strings.TrimPrefix(cname, stem)
		}
		cdst := filepath.Join(dstDir, cname)
		csrc := filepath.Join(m.queue, filepath.FromSlash(c))
		if err := move(csrc, cdst); err != nil {
			return dst, &IOError{Op: "move", Path: csrc, Err: err}
		}
	}

	m.pruneEmpty(filepath.Dir(src))
	m.log.Debug("finalize.done", logx.String("ref", ref), logx.String("class", string(class)), logx.String("dest", dst))
	return dst, nil
}

// pruneEmpty removes dir and its ancestors while they are empty, stopping at
// the queue root.
func (m *Mover) pruneEmpty(dir string) {
	root := filepath.Clean(m.queue)
	for {
		dir = filepath.Clean(dir)
		if dir == root || !strings.HasPrefix(dir, root+string(filepath.Separator)) {
			return
		}
		ents, err := os.ReadDir(dir)
		if err != nil || len(ents) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// splitName splits a file name into stem and extension; directories keep
// their full name as the stem.
func splitName(src, name string) (string, string) {
	if fi, err := os.Stat(src); err == nil && fi.IsDir() {
		return name, ""
	}
	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext), ext
}

// uniqueStem appends -1, -2, ... until neither the artifact nor its result
// record exists in dir.
func uniqueStem(dir, stem, ext string) string {
	taken := func(s string) bool {
		for _, n := range []string{s + ext, s + ".result.json"} {
			if _, err := os.Lstat(filepath.Join(dir, n)); err == nil {
				return true
			}
		}
		return false
	}
	cand := stem
	for i := 1; taken(cand); i++ {
		cand = stem + "-" + strconv.Itoa(i)
	}
	return cand
}

func errorText(ref string, res Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "job: %s\n", ref)
	if res.JobID != "" {
		fmt.Fprintf(&b, "id: %s\n", res.JobID)
	}
	fmt.Fprintf(&b, "time: %s\n", res.TS.Format("2006-01-02T15:04:05Z07:00"))
	if res.Error != nil {
		fmt.Fprintf(&b, "error: %s\n", res.Error.Message)
		if res.Error.StatusCode != 0 {
			fmt.Fprintf(&b, "status code: %d\n", res.Error.StatusCode)
		}
	}
	for _, p := range res.Errors {
		fmt.Fprintf(&b, "  - %s\n", p)
	}
	return b.String()
}

// move renames src to dst, falling back to copy and remove when a rename is
// not possible (for example across filesystems).
func move(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	} else if errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := copyTree(src, dst); err != nil {
		_ = os.RemoveAll(dst)
		return err
	}
	return os.RemoveAll(src)
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(p, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// writeJSONAtomic writes v as indented JSON via a temp file and rename.
func writeJSONAtomic(p string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
