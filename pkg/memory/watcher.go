package memory

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// NoteWatcher watches note directories and flags the index dirty when
// markdown files change, debounced so bursts of writes trigger one sync.
type NoteWatcher struct {
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger
	onDirty  func()
	debounce time.Duration
	timer    *time.Timer
	stopCh   chan struct{}
}

// NewNoteWatcher creates a note watcher
func NewNoteWatcher(logger zerolog.Logger, onDirty func()) (*NoteWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	nw := &NoteWatcher{
		watcher:  watcher,
		logger:   logger,
		onDirty:  onDirty,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
	}

	go nw.run()

	return nw, nil
}

// Watch starts watching a directory
func (nw *NoteWatcher) Watch(path string) error {
	return nw.watcher.Add(path)
}

// Stop stops the watcher
func (nw *NoteWatcher) Stop() error {
	close(nw.stopCh)
	return nw.watcher.Close()
}

func (nw *NoteWatcher) run() {
	for {
		select {
		case event, ok := <-nw.watcher.Events:
			if !ok {
				return
			}

			// New subdirectories (e.g. a first note for an owner) must be
			// watched too.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					nw.watcher.Add(event.Name)
				}
			}

			if !strings.HasSuffix(strings.ToLower(event.Name), ".md") {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) {
				nw.logger.Debug().
					Str("note", filepath.Base(event.Name)).
					Str("op", event.Op.String()).
					Msg("Note change detected")

				nw.scheduleMarkDirty()
			}

		case err, ok := <-nw.watcher.Errors:
			if !ok {
				return
			}
			nw.logger.Error().Err(err).Msg("Note watcher error")

		case <-nw.stopCh:
			return
		}
	}
}

func (nw *NoteWatcher) scheduleMarkDirty() {
	if nw.timer != nil {
		nw.timer.Stop()
	}

	nw.timer = time.AfterFunc(nw.debounce, func() {
		nw.logger.Debug().Msg("Marking note index dirty")
		nw.onDirty()
	})
}
