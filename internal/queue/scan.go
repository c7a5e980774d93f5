// Package queue scans the queue directory and moves finished jobs into their
// terminal sent/ or failed/ trees alongside a result record.
package queue

import (
	"context"

	"xposter/internal/job"
	logx "xposter/pkg/logx"
)

// Entry is one scanned queue candidate: either a parsed Job or an error.
type Entry struct {
	Ref string
	Job *job.Job
	Err error
}

// Scanner lists and parses queue entries with a layout strategy.
type Scanner struct {
	root   string
	layout job.Layout
	log    logx.Logger
}

func NewScanner(root string, layout job.Layout, log logx.Logger) *Scanner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scanner{root: root, layout: layout, log: log.With(logx.String("comp", "queue.scan"))}
}

func (s *Scanner) Root() string       { return s.root }
func (s *Scanner) Layout() job.Layout { return s.layout }

// Scan returns every candidate in lexicographic ref order. A malformed entry
// is captured in its Entry; only an unreadable queue root fails the scan.
func (s *Scanner) Scan(ctx context.Context) ([]Entry, error) {
	refs, err := s.layout.Discover(s.root)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(refs))
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		j, err := s.layout.Parse(s.root, ref)
		if err != nil {
			s.log.Debug("scan.entry_error", logx.String("ref", ref), logx.Err(err))
			out = append(out, Entry{Ref: ref, Err: err})
			continue
		}
		out = append(out, Entry{Ref: ref, Job: j})
	}
	s.log.Debug("scan.done", logx.Int("entries", len(out)))
	return out, nil
}

// Split separates parsed jobs from errored entries, keeping order.
func Split(entries []Entry) (jobs []*job.Job, errs []Entry) {
	for _, e := range entries {
		if e.Job != nil {
			jobs = append(jobs, e.Job)
		} else {
			errs = append(errs, e)
		}
	}
	return jobs, errs
}
