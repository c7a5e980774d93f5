// Package app wires configuration, the queue engine and its runtime services
// into the commands exposed by cmd/xposter.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"xposter/internal/auth"
	"xposter/internal/config"
	"xposter/internal/eventbus"
	"xposter/internal/job"
	"xposter/internal/notify"
	"xposter/internal/publisher"
	"xposter/internal/queue"
	"xposter/internal/runtime/sdnotify"
	"xposter/internal/runtime/supervisor"
	"xposter/internal/schedule"
	"xposter/internal/storage"
	"xposter/internal/watcher"
	"xposter/internal/xapi"
	logx "xposter/pkg/logx"
)

// Options select the data dir and config file. Empty values fall back to
// XP_DATA_DIR / ./data and the config file inside the data dir.
type Options struct {
	DataDir    string
	ConfigPath string
	// Quiet disables the console log mirror (the file sink stays on).
	Quiet bool
}

type App struct {
	cfg    *config.Config
	paths  config.Paths
	timing timing

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    storage.Store
	layout   job.Layout
	scanner  *queue.Scanner
	mover    *queue.Mover
	schedule *schedule.Store
	tokens   *auth.Store
	loop     *watcher.Loop
	notif    *notify.Notifier

	sup *supervisor.Supervisor
	sd  *sdnotify.Notifier
}

// Init creates the data directory layout and returns its paths.
func Init(dataDir string) (config.Paths, error) {
	p := config.DataPaths(config.ResolveDataDir(dataDir))
	return p, p.Ensure()
}

func NewApp(opts Options) (*App, error) {
	paths := config.DataPaths(config.ResolveDataDir(opts.DataDir))
	if err := paths.Ensure(); err != nil {
		return nil, fmt.Errorf("prepare data dir %s: %w", paths.Root, err)
	}
	cfgPath := strings.TrimSpace(opts.ConfigPath)
	if cfgPath == "" {
		cfgPath = paths.ConfigFile()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.ConsoleLogging() && !opts.Quiet,
		File:    logx.FileConfig{Enabled: true, Path: paths.Log},
	})
	log = log.With(logx.String("comp", "app"))

	a := &App{cfg: cfg, paths: paths, log: log, logs: logSvc, bus: eventbus.New()}
	if err := a.build(); err != nil {
		_ = a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg := a.cfg
	t, err := mapTiming(cfg)
	if err != nil {
		return err
	}
	a.timing = t

	if sc, enabled, err := mapStorageConfig(cfg, a.paths); err != nil {
		return err
	} else if enabled {
		st, err := storage.Open(sc, a.log)
		if err != nil {
			return err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	lopts, err := mapLayoutOptions(cfg)
	if err != nil {
		return err
	}
	if a.layout, err = job.NewLayout(cfg.Layout, lopts); err != nil {
		return err
	}
	a.scanner = queue.NewScanner(a.paths.Queue, a.layout, a.log)
	a.mover = queue.NewMover(a.paths.Queue, a.paths.Sent, a.paths.Failed, a.log, queue.WithLocation(lopts.Location))
	if a.schedule, err = schedule.Open(a.paths.Schedule, a.log); err != nil {
		return err
	}

	epCfg, err := mapEndpointConfig(cfg)
	if err != nil {
		return err
	}
	skew, err := config.ParseDurationOrDefault("oauth.refresh_skew", cfg.OAuth.RefreshSkew, auth.DefaultSkew)
	if err != nil {
		return err
	}
	a.tokens = auth.NewStore(auth.StoreConfig{
		Path:    a.paths.Tokens,
		Skew:    skew,
		BaseURL: cfg.API.BaseURL,
		Log:     a.log,
	}, auth.NewOAuth2Endpoint(epCfg))

	apiCfg, spacing, err := mapAPIConfig(cfg)
	if err != nil {
		return err
	}
	pub := publisher.New(a.tokens, xapi.New(apiCfg), publisher.Config{MinInterval: spacing}, a.log)

	a.loop = watcher.New(watcher.Config{
		Debounce:      t.debounce,
		RetryInterval: t.retry,
	}, watcher.Deps{
		Scanner:   a.scanner,
		Schedule:  a.schedule,
		Publisher: pub,
		Mover:     a.mover,
		History:   a.store,
		Bus:       a.bus,
	}, a.log)

	if ncfg, tg, enabled := mapNotifyConfig(cfg); enabled {
		sender, err := notify.NewTelegram(tg)
		if err != nil {
			return err
		}
		a.notif = notify.New(ncfg, sender, a.bus, a.log)
	}
	return nil
}

func (a *App) Config() *config.Config { return a.cfg }
func (a *App) Paths() config.Paths    { return a.paths }
func (a *App) Logger() logx.Logger    { return a.log }

// Done is closed when the supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the watch loop with either filesystem notifications or polling.
func (a *App) Start(ctx context.Context, poll bool) error {
	poll = poll || a.cfg.Watch.Poll
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.sd = sdnotify.New(a.log)

	a.sup.Go("watcher.loop", a.loop.Run)
	if poll {
		a.sup.Go("watcher.poll", func(c context.Context) error {
			return watcher.Poll(c, a.timing.poll, a.loop.Rescan, a.log)
		})
	} else {
		l := watcher.NewListener(a.paths.Queue, a.layout.Relevant, a.loop.Changed, a.log)
		a.sup.GoRestart("watcher.listener", l.Run, supervisor.WithRestartBackoff(250*time.Millisecond, 5*time.Second))
	}
	if a.notif != nil {
		a.sup.Go("notify", a.notif.Run)
	}
	a.sup.Go("sdnotify.watchdog", a.sd.RunWatchdog)

	mode := "fsnotify"
	if poll {
		mode = "poll"
	}
	a.sd.Ready()
	a.sd.Status("watching " + a.paths.Queue + " (" + mode + ")")
	a.log.Info("app started",
		logx.String("data_dir", a.paths.Root),
		logx.String("layout", a.layout.Name()),
		logx.String("mode", mode),
		logx.Duration("debounce", a.timing.debounce),
	)
	return nil
}

// Stop cancels the supervised goroutines, waits for them (the loop flushes
// the schedule on its way out) and releases resources.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	var err error
	if a.sup != nil {
		a.sd.Stopping()
		a.sup.Cancel()
		if werr := a.sup.Wait(ctx); werr != nil && !errors.Is(werr, context.Canceled) {
			a.log.Warn("stop wait", logx.Err(werr))
			err = werr
		}
	}
	a.log.Info("stopped")
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return err
}

func (a *App) close() error {
	var err error
	if a.schedule != nil {
		err = a.schedule.Flush()
	}
	if a.store != nil {
		if cerr := a.store.Close(); err == nil {
			err = cerr
		}
		a.store = nil
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

// Close releases resources after one-shot commands.
func (a *App) Close() error { return a.close() }

// RunOnce performs a single scan-and-publish cycle.
func (a *App) RunOnce(ctx context.Context) (watcher.Summary, error) {
	return a.loop.RunOnce(ctx)
}

// Validate scans the queue and reports every entry error. It returns an
// error when any entry is invalid.
func (a *App) Validate(ctx context.Context, w io.Writer) error {
	entries, err := a.scanner.Scan(ctx)
	if err != nil {
		return err
	}
	jobs, bad := queue.Split(entries)
	for _, e := range bad {
		fmt.Fprintf(w, "✗ %s\n", e.Ref)
		for _, p := range job.Problems(e.Err) {
			fmt.Fprintf(w, "    - %s\n", p)
		}
	}
	fmt.Fprintf(w, "%d valid, %d invalid\n", len(jobs), len(bad))
	if len(bad) > 0 {
		return fmt.Errorf("%d invalid queue entries", len(bad))
	}
	return nil
}

// DryRun prints what a cycle would do, without publishing or moving anything.
func (a *App) DryRun(ctx context.Context, w io.Writer) error {
	entries, err := a.scanner.Scan(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	loc, _ := a.cfg.Location()
	for _, e := range entries {
		if e.Err != nil {
			fate := "→ " + a.mover.Destination(e.Ref, queue.Failed)
			if job.LeaveInQueue(e.Err) {
				fate = "(left in queue)"
			}
			fmt.Fprintf(w, "✗ %s %s\n    %v\n", e.Ref, fate, e.Err)
			continue
		}
		j := e.Job
		when := "now"
		if j.PublishAt != nil {
			when = j.PublishAt.In(loc).Format("2006-01-02 15:04 MST")
			if j.Due(now) {
				when += " (due)"
			}
		}
		slot := j.Slot
		if slot == "" {
			slot = "-"
		}
		fmt.Fprintf(w, "• %s [%s] at %s, %d image(s)\n", j.Ref, slot, when, len(j.Images))
		fmt.Fprintf(w, "    %q\n", preview(j.Text, 80))
		at := now
		if j.PublishAt != nil && j.PublishAt.After(now) {
			at = *j.PublishAt
		}
		fmt.Fprintf(w, "    sent:   %s\n    failed: %s\n",
			a.mover.JobDestination(j, queue.Sent, at), a.mover.JobDestination(j, queue.Failed, at))
	}
	if pending := a.schedule.Entries(); len(pending) > 0 {
		fmt.Fprintf(w, "\nschedule (%s):\n", filepath.Base(a.paths.Schedule))
		for _, p := range pending {
			fmt.Fprintf(w, "  %s  %s\n", p.PublishAt.In(loc).Format("2006-01-02 15:04"), p.Path)
		}
	}
	return nil
}

// Login runs the interactive PKCE flow.
func (a *App) Login(ctx context.Context, in io.Reader, out io.Writer) error {
	if err := a.cfg.RequireOAuth(); err != nil {
		return err
	}
	ts, err := a.tokens.Login(ctx, in, out)
	if err != nil {
		return err
	}
	a.log.Info("auth.login", logx.String("scope", ts.Scope), logx.Time("expires_at", ts.ExpiresAt))
	fmt.Fprintf(out, "Saved tokens to %s\n", a.paths.Tokens)
	return nil
}

func (a *App) AuthStatus() (auth.Status, error) { return a.tokens.Status() }

// History returns the most recent publish attempts.
func (a *App) History(ctx context.Context, limit int) ([]storage.Attempt, error) {
	if a.store == nil {
		return nil, storage.ErrDisabled
	}
	return a.store.Recent(ctx, limit)
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
