package loader

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher re-invokes onChange with a freshly parsed feature whenever a
// *.feature file under one of the given directories is written. This is
// a development convenience (not used in CI runs); a watcher that fails
// to start is never fatal to a suite, only logged.
type Watcher struct {
	fsw *fsnotify.Watcher
	log *logrus.Logger
}

func NewWatcher(dirs []string, log *logrus.Logger) (*Watcher, error) {
	if log == nil {
		log = logrus.New()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, d := range dirs {
		if err := fsw.Add(d); err != nil {
			log.WithError(err).Warnf("loader: cannot watch %s", d)
		}
	}
	return &Watcher{fsw: fsw, log: log}, nil
}

// Run blocks, invoking onChange for every write/create event on a
// .feature file, until stop is closed.
func (w *Watcher) Run(stop <-chan struct{}, onChange func(LoadedFeature)) {
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Ext(ev.Name) != ".feature" {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			lf, err := LoadFile(ev.Name)
			if err != nil {
				w.log.WithError(err).Warnf("loader: reload failed for %s", ev.Name)
				continue
			}
			onChange(lf)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("loader: watch error")
		}
	}
}

func (w *Watcher) Close() error { return w.fsw.Close() }
