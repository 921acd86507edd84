package rules

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/raaihank/compliance-sentinel/internal/logger"
)

// Watcher reloads the rule file when it changes on disk. The parent
// directory is watched rather than the file itself so atomic rename saves
// are seen. Rapid event bursts collapse into one reload per debounce window.
type Watcher struct {
	loader   *Loader
	path     string
	debounce time.Duration
	logger   *logger.Logger

	fw     *fsnotify.Watcher
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWatcher creates a watcher for the given rules file
func NewWatcher(loader *Loader, path string, debounce time.Duration, log *logger.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{
		loader:   loader,
		path:     path,
		debounce: debounce,
		logger:   log.WithComponent("rules-watcher"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins watching. It returns once the filesystem watch is registered.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	w.fw = fw

	w.wg.Add(1)
	go w.run()

	w.logger.Info("Watching rules file",
		zap.String("path", w.path),
		zap.Duration("debounce", w.debounce),
	)
	return nil
}

// Stop terminates the watch loop and releases the filesystem watch
func (w *Watcher) Stop() {
	close(w.stopCh)
	if w.fw != nil {
		w.fw.Close()
	}
	w.wg.Wait()
}

func (w *Watcher) run() {
	defer w.wg.Done()

	base := filepath.Base(w.path)
	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Collapse bursts of events into a single reload
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerCh = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case <-timerCh:
			timer = nil
			timerCh = nil
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			applied, err := w.loader.LoadFile(ctx, w.path)
			cancel()
			if err != nil {
				w.logger.Error("Rules reload failed", zap.Error(err))
				continue
			}
			w.logger.Info("Rules reloaded after file change", zap.Int("applied", applied))

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))

		case <-w.stopCh:
			return
		}
	}
}
