// Package watcher drives the queue: it reacts to filesystem changes and
// schedule due times, publishes ready jobs one at a time and finalizes them.
package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"xposter/internal/eventbus"
	"xposter/internal/job"
	"xposter/internal/publisher"
	"xposter/internal/queue"
	"xposter/internal/schedule"
	"xposter/internal/storage"
	logx "xposter/pkg/logx"
)

const (
	DefaultDebounce      = 30 * time.Second
	DefaultRetryInterval = 30 * time.Second
	DefaultPollInterval  = 30 * time.Second
)

// Publisher is the single-job publish capability.
type Publisher interface {
	Publish(ctx context.Context, j *job.Job) publisher.Outcome
}

type Config struct {
	Debounce      time.Duration
	RetryInterval time.Duration

	Now func() time.Time
	// OnState observes every state transition.
	OnState func(State)
}

// Deps are the collaborators of a Loop. History and Bus are optional.
type Deps struct {
	Scanner   *queue.Scanner
	Schedule  *schedule.Store
	Publisher Publisher
	Mover     *queue.Mover
	History   storage.Store
	Bus       eventbus.Bus
}

// Summary counts what one cycle did.
type Summary struct {
	Sent      int
	Failed    int
	Deferred  int
	Scheduled int
	Skipped   int
}

func (s Summary) String() string {
	return fmt.Sprintf("sent=%d failed=%d deferred=%d scheduled=%d skipped=%d",
		s.Sent, s.Failed, s.Deferred, s.Scheduled, s.Skipped)
}

// Loop is the scheduler state machine. All scanning and publishing happens on
// the goroutine running Run or RunOnce.
type Loop struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	changes chan struct{}
	rescan  chan struct{}

	mu    sync.Mutex
	state State

	// finalized holds refs whose result record was written but whose
	// artifact could not be moved; they are never published again.
	finalized map[string]bool
	// reported remembers the last message logged for refs left in the queue.
	reported map[string]string
	// retryAt holds publishing back after a deferral.
	retryAt time.Time
	// debouncing is set while the debounce timer runs.
	debouncing bool
}

func New(cfg Config, deps Deps, log logx.Logger) *Loop {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loop{
		cfg:       cfg,
		deps:      deps,
		log:       log.With(logx.String("comp", "watcher")),
		changes:   make(chan struct{}, 1),
		rescan:    make(chan struct{}, 1),
		finalized: map[string]bool{},
		reported:  map[string]string{},
	}
}

// Changed records a relevant filesystem change. It never blocks.
func (l *Loop) Changed() {
	select {
	case l.changes <- struct{}{}:
	default:
	}
}

// Rescan requests a scan without debouncing. It never blocks.
func (l *Loop) Rescan() {
	select {
	case l.rescan <- struct{}{}:
	default:
	}
}

// State returns the current phase.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	changed := l.state != s
	l.state = s
	l.mu.Unlock()
	if changed {
		l.log.Trace("watcher.state", logx.String("state", s.String()))
	}
	if l.cfg.OnState != nil {
		l.cfg.OnState(s)
	}
}

// Run scans once, then serves change signals and due times until ctx is
// done. The schedule is flushed before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	due := time.NewTimer(time.Hour)
	due.Stop()
	defer func() {
		debounce.Stop()
		due.Stop()
		if err := l.deps.Schedule.Flush(); err != nil {
			l.log.Error("schedule.flush_failed", logx.Err(err))
		}
	}()

	l.setState(Idle)
	l.cycle(ctx)
	l.arm(due)

	for {
		select {
		case <-ctx.Done():
			l.log.Info("watcher.stopped")
			return nil

		case <-l.changes:
			l.debouncing = true
			l.setState(Debouncing)
			debounce.Reset(l.cfg.Debounce)

		case <-debounce.C:
			l.debouncing = false
			due.Stop()
			l.cycle(ctx)
			l.arm(due)

		case <-l.rescan:
			l.debouncing = false
			debounce.Stop()
			due.Stop()
			l.cycle(ctx)
			l.arm(due)

		case <-due.C:
			l.publishScheduled(ctx)
			l.arm(due)
		}
	}
}

// RunOnce performs a single scan cycle: due jobs are published and
// finalized, future jobs are scheduled.
func (l *Loop) RunOnce(ctx context.Context) (Summary, error) {
	sum := l.cycle(ctx)
	if err := l.deps.Schedule.Flush(); err != nil {
		return sum, err
	}
	return sum, ctx.Err()
}

// arm sets the due timer for the earliest schedule entry, or goes idle.
// A pending debounce keeps the loop in Debouncing.
func (l *Loop) arm(due *time.Timer) {
	due.Stop()
	next, ok := l.deps.Schedule.PeekEarliest()
	if !ok {
		l.setState(l.resting(Idle))
		return
	}
	now := l.cfg.Now()
	at := next.PublishAt
	if at.Before(l.retryAt) {
		at = l.retryAt
	}
	wait := max(at.Sub(now), 0)
	due.Reset(wait)
	l.setState(l.resting(WaitingForNext))
	l.log.Debug("watcher.armed", logx.String("ref", next.Path), logx.Duration("wait", wait))
}

func (l *Loop) resting(s State) State {
	if l.debouncing {
		return Debouncing
	}
	return s
}

// cycle rescans the queue, rebuilds the schedule and publishes what is due.
func (l *Loop) cycle(ctx context.Context) Summary {
	var sum Summary
	if ctx.Err() != nil {
		return sum
	}
	l.setState(Scanning)

	entries, err := l.deps.Scanner.Scan(ctx)
	if err != nil {
		l.log.Error("scan.failed", logx.Err(err))
		return sum
	}
	now := l.cfg.Now()
	previous := map[string]bool{}
	for _, e := range l.deps.Schedule.Entries() {
		previous[e.Path] = true
	}

	var (
		ready   []*job.Job
		pending []schedule.Entry
	)
	seen := map[string]bool{}
	for _, e := range entries {
		seen[e.Ref] = true
		if l.finalized[e.Ref] {
			sum.Skipped++
			continue
		}
		if e.Err != nil {
			if l.reject(e.Ref, e.Err) {
				sum.Failed++
			} else {
				sum.Skipped++
			}
			continue
		}
		delete(l.reported, e.Ref)
		if e.Job.Due(now) {
			ready = append(ready, e.Job)
			continue
		}
		pending = append(pending, schedule.Entry{Path: e.Ref, PublishAt: *e.Job.PublishAt})
		if !previous[e.Ref] {
			l.log.Info("job.scheduled", logx.String("ref", e.Ref), logx.Time("publish_at", *e.Job.PublishAt))
			l.emit(eventbus.Event{Kind: eventbus.JobScheduled, Ref: e.Ref, JobID: e.Job.ID, Slot: e.Job.Slot, PublishAt: *e.Job.PublishAt})
		}
	}
	for ref := range l.reported {
		if !seen[ref] {
			delete(l.reported, ref)
		}
	}
	for ref := range l.finalized {
		if !seen[ref] {
			delete(l.finalized, ref)
		}
	}

	if err := l.deps.Schedule.Replace(pending); err != nil {
		l.log.Error("schedule.save_failed", logx.Err(err))
	}
	sum.Scheduled = len(pending)

	sort.SliceStable(ready, func(i, k int) bool {
		ti, tk := ready[i].When(now), ready[k].When(now)
		if !ti.Equal(tk) {
			return ti.Before(tk)
		}
		return ready[i].Ref < ready[k].Ref
	})
	l.publishAll(ctx, ready, &sum)
	l.log.Info("scan.done", logx.Int("entries", len(entries)), logx.String("summary", sum.String()))
	return sum
}

// publishScheduled pops every due schedule entry and publishes it after
// re-reading its descriptor.
func (l *Loop) publishScheduled(ctx context.Context) {
	now := l.cfg.Now()
	if now.Before(l.retryAt) {
		return
	}
	refs, err := l.deps.Schedule.PopReady(now)
	if err != nil {
		l.log.Error("schedule.save_failed", logx.Err(err))
	}
	if len(refs) == 0 {
		return
	}

	var (
		sum   Summary
		ready []*job.Job
	)
	layout, root := l.deps.Scanner.Layout(), l.deps.Scanner.Root()
	for _, ref := range refs {
		if l.finalized[ref] {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(ref))); errors.Is(err, fs.ErrNotExist) {
			l.log.Info("job.vanished", logx.String("ref", ref))
			continue
		}
		j, err := layout.Parse(root, ref)
		if err != nil {
			l.reject(ref, err)
			continue
		}
		if !j.Due(now) {
			l.reschedule(j, *j.PublishAt)
			continue
		}
		ready = append(ready, j)
	}
	l.publishAll(ctx, ready, &sum)
}

// publishAll publishes jobs in order. A deferral stops the batch and puts
// the remaining jobs back on the schedule.
func (l *Loop) publishAll(ctx context.Context, jobs []*job.Job, sum *Summary) {
	if len(jobs) == 0 {
		return
	}
	now := l.cfg.Now()
	if now.Before(l.retryAt) {
		for _, j := range jobs {
			l.reschedule(j, j.When(now))
			sum.Deferred++
		}
		return
	}

	l.setState(Publishing)
	for i, j := range jobs {
		out := l.deps.Publisher.Publish(ctx, j)
		if out.Kind == publisher.Deferred {
			l.retryAt = l.cfg.Now().Add(l.cfg.RetryInterval)
			l.log.Warn("job.deferred", logx.String("ref", j.Ref), logx.Time("retry_at", l.retryAt), logx.Err(out.Err))
			l.emit(eventbus.Event{Kind: eventbus.JobDeferred, Ref: j.Ref, JobID: j.ID, Slot: j.Slot, Err: errString(out.Err)})
			for _, rest := range jobs[i:] {
				l.reschedule(rest, rest.When(now))
				sum.Deferred++
			}
			return
		}
		l.retryAt = time.Time{}
		l.finish(ctx, j, out)
		if out.Kind == publisher.Sent {
			sum.Sent++
		} else {
			sum.Failed++
		}
	}
}

func (l *Loop) reschedule(j *job.Job, when time.Time) {
	if err := l.deps.Schedule.Add(j.Ref, when); err != nil {
		l.log.Error("schedule.save_failed", logx.String("ref", j.Ref), logx.Err(err))
	}
}

// finish records a terminal outcome and moves the job out of the queue.
func (l *Loop) finish(ctx context.Context, j *job.Job, out publisher.Outcome) {
	class, status, kind := queue.Sent, storage.StatusSent, eventbus.JobSent
	if out.Kind != publisher.Sent {
		class, status, kind = queue.Failed, storage.StatusFailed, eventbus.JobFailed
	}
	res := out.Result(j.ID)
	res.TS = l.cfg.Now().UTC()

	dest, err := l.deps.Mover.FinalizeJob(j, class, res)
	if _, rerr := l.deps.Schedule.Remove(j.Ref); rerr != nil {
		l.log.Error("schedule.save_failed", logx.String("ref", j.Ref), logx.Err(rerr))
	}
	if err != nil {
		l.finalized[j.Ref] = true
		l.log.Error("job.finalize_failed", logx.String("ref", j.Ref), logx.String("class", string(class)), logx.Err(err))
	}

	tweet := tweetID(out.Tweet)
	fields := []logx.Field{logx.String("ref", j.Ref), logx.String("dest", dest), logx.String("attempt_id", res.AttemptID)}
	if out.Kind == publisher.Sent {
		l.log.Info("job.sent", append(fields, logx.String("tweet_id", tweet))...)
	} else {
		l.log.Warn("job.failed", append(fields, logx.Err(out.Err))...)
	}

	a := storage.Attempt{
		AttemptID: res.AttemptID,
		JobID:     j.ID,
		Status:    status,
		Slot:      j.Slot,
		Source:    j.Ref,
		Dest:      dest,
		Labels:    j.Labels,
		TweetID:   tweet,
		Error:     errString(out.Err),
	}
	if j.PublishAt != nil {
		a.ScheduledAt = *j.PublishAt
	}
	if out.Kind == publisher.Sent {
		a.SentAt = res.TS
	}
	l.record(ctx, a)
	l.emit(eventbus.Event{
		Kind: kind, Ref: j.Ref, JobID: j.ID, Slot: j.Slot, PublishAt: a.ScheduledAt,
		Dest: dest, TweetID: tweet, Err: errString(out.Err),
	})
}

// reject routes an unparsable entry to failed/, or leaves it in the queue
// when it is not (yet) a job. It reports whether the entry was moved.
func (l *Loop) reject(ref string, err error) bool {
	if job.LeaveInQueue(err) {
		msg := err.Error()
		if l.reported[ref] != msg {
			l.reported[ref] = msg
			l.log.Warn("scan.entry_skipped", logx.String("ref", ref), logx.Err(err))
			l.emit(eventbus.Event{Kind: eventbus.ScanError, Ref: ref, Err: msg})
		}
		return false
	}

	res := queue.Failure("", queue.ErrorInfo{Message: err.Error()}, job.Problems(err))
	dest, ferr := l.deps.Mover.Finalize(ref, queue.Failed, res)
	if _, rerr := l.deps.Schedule.Remove(ref); rerr != nil {
		l.log.Error("schedule.save_failed", logx.String("ref", ref), logx.Err(rerr))
	}
	if ferr != nil {
		l.finalized[ref] = true
		l.log.Error("job.finalize_failed", logx.String("ref", ref), logx.Err(ferr))
	}
	l.log.Warn("job.rejected", logx.String("ref", ref), logx.String("dest", dest), logx.Strings("problems", job.Problems(err)))
	l.record(context.Background(), storage.Attempt{
		AttemptID: res.AttemptID, Status: storage.StatusFailed, Source: ref, Dest: dest, Error: err.Error(),
	})
	l.emit(eventbus.Event{Kind: eventbus.JobFailed, Ref: ref, Dest: dest, Err: err.Error()})
	return true
}

func (l *Loop) record(ctx context.Context, a storage.Attempt) {
	if l.deps.History == nil {
		return
	}
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := l.deps.History.AppendAttempt(ctx, a); err != nil {
		l.log.Warn("history.append_failed", logx.String("ref", a.Source), logx.Err(err))
	}
}

func (l *Loop) emit(e eventbus.Event) {
	if l.deps.Bus != nil {
		l.deps.Bus.Publish(e)
	}
}

// tweetID pulls data.id out of a create-post response.
func tweetID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v.Data.ID
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
