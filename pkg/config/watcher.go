package config

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"cnc-cam-core/pkg/errors"
	"cnc-cam-core/pkg/log"
)

// DefaultDebounce is how long the watcher waits for a burst of writes to
// settle before reporting it.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reports changes to a set of files. Parent directories are
// watched rather than the files themselves, so editors that save by
// rename are seen too.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	files    map[string]struct{}
	log      *log.Logger

	closeOnce sync.Once
}

// NewWatcher watches paths. A zero debounce means DefaultDebounce.
func NewWatcher(debounce time.Duration, paths ...string) (*Watcher, error) {
	if len(paths) == 0 {
		return nil, errors.New(errors.ErrConfiguration, "watcher: no files to watch")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrIO, "watcher: create")
	}
	w := &Watcher{
		fsw:      fsw,
		debounce: debounce,
		files:    make(map[string]struct{}),
		log:      log.GetLogger("config"),
	}
	dirs := make(map[string]struct{})
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			fsw.Close()
			return nil, errors.Wrap(err, errors.ErrIO, "watcher: invalid path").SetFile(p)
		}
		w.files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, errors.Wrap(err, errors.ErrIO, "watcher: watch directory").SetFile(dir)
		}
	}
	return w, nil
}

// Run delivers debounced change sets to onChange until ctx ends. Each
// call lists the changed files, sorted. onChange runs on Run's goroutine.
func (w *Watcher) Run(ctx context.Context, onChange func(changed []string)) error {
	defer w.Close()

	var (
		timer   *time.Timer
		fire    <-chan time.Time
		pending = make(map[string]struct{})
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			pending[filepath.Clean(ev.Name)] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("watch error")

		case <-fire:
			fire = nil
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			sort.Strings(changed)
			clear(pending)
			w.log.WithField("files", changed).Debug("files changed")
			onChange(changed)
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	_, ok := w.files[filepath.Clean(ev.Name)]
	return ok
}

// Close stops watching. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() { err = w.fsw.Close() })
	return err
}
