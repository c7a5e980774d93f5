package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	logx "xposter/pkg/logx"
)

// Listener watches the queue tree recursively and reports relevant changes.
//
// Run returns an error when the underlying watcher breaks so a supervisor can
// restart it; a restarted session reports one change because events may have
// been missed.
type Listener struct {
	root     string
	relevant func(name string) bool
	notify   func()
	log      logx.Logger

	sessions int
}

func NewListener(root string, relevant func(string) bool, notify func(), log logx.Logger) *Listener {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Listener{
		root:     root,
		relevant: relevant,
		notify:   notify,
		log:      log.With(logx.String("comp", "watcher.listener")),
	}
}

func (l *Listener) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := l.addTree(w, l.root); err != nil {
		return err
	}
	l.sessions++
	if l.sessions > 1 {
		l.notify()
	}
	l.log.Debug("listener.started", logx.String("root", l.root), logx.Int("session", l.sessions))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("fsnotify events channel closed")
			}
			if l.handle(w, ev) {
				l.log.Trace("listener.change", logx.String("name", ev.Name), logx.String("op", ev.Op.String()))
				l.notify()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("fsnotify errors channel closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				l.log.Warn("listener.overflow", logx.Err(err))
				l.notify()
				continue
			}
			if err != nil {
				return err
			}
		}
	}
}

// handle tracks new directories and reports whether ev may change the job set.
func (l *Listener) handle(w *fsnotify.Watcher, ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if ev.Has(fsnotify.Create) {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			if err := l.addTree(w, ev.Name); err != nil {
				l.log.Warn("listener.add_failed", logx.String("dir", ev.Name), logx.Err(err))
			}
			return true
		}
	}
	if l.relevant(ev.Name) {
		return true
	}
	// A removed or renamed directory no longer stats; extension-less names
	// are treated as directories.
	return ev.Has(fsnotify.Remove|fsnotify.Rename) && filepath.Ext(base) == ""
}

func (l *Listener) addTree(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p != dir {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}
