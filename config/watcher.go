package config

import (
	"context"
	"sync"

	"github.com/edaniels/golog"
	"github.com/fsnotify/fsnotify"
	"go.viam.com/utils"
)

// Watcher re-reads the configuration file whenever it changes on disk and
// hands the parsed result to the callback. Parse failures keep the previous
// configuration in force.
type Watcher struct {
	path     string
	onChange func(*Config)
	logger   golog.Logger
	fsw      *fsnotify.Watcher

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewWatcher starts watching the given file.
func NewWatcher(path string, onChange func(*Config), logger golog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		utils.UncheckedError(fsw.Close())
		return nil, err
	}
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	w := &Watcher{
		path:       path,
		onChange:   onChange,
		logger:     logger,
		fsw:        fsw,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}
	w.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(w.watch, w.activeBackgroundWorkers.Done)
	return w, nil
}

func (w *Watcher) watch() {
	for {
		select {
		case <-w.cancelCtx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Read(w.path)
			if err != nil {
				w.logger.Warnw("ignoring config reload", "error", err)
				continue
			}
			w.onChange(cfg)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("config watch error", "error", err)
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.cancelFunc()
	err := w.fsw.Close()
	w.activeBackgroundWorkers.Wait()
	return err
}
