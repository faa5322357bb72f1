package track

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/mpapenbr/racesim/log"
	"github.com/mpapenbr/racesim/pkg/model"
)

// Watcher reports new configurations whenever a track file changes.
// The directory is watched instead of the file, so editors replacing the
// file by rename are handled too.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	l       *log.Logger
}

func NewWatcher(path string, l *log.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("could not create fsnotify watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("could not watch %s: %w", abs, err)
	}
	if l == nil {
		l = log.Default().Named("track.watcher")
	}
	return &Watcher{path: abs, watcher: w, l: l}, nil
}

// Run blocks until ctx is done or the watcher is closed. onChange is called
// from the watcher goroutine with every successfully parsed configuration.
// Unparsable content (e.g. a half written file) is logged and skipped.
//
//nolint:gocognit // by design
func (w *Watcher) Run(ctx context.Context, onChange func(*model.TrackConfig)) {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			w.l.Debug("context done, stopping track watcher")
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.l.Debug("change detected",
				log.String("file", event.Name), log.String("op", event.Op.String()))
			cfg, err := ReadConfig(w.path)
			if err != nil {
				w.l.Warn("could not reload track", log.ErrorField(err))
				continue
			}
			onChange(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.l.Error("watcher error", log.ErrorField(err))
		}
	}
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}
