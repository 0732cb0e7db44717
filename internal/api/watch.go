package api

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const watchDebounce = 250 * time.Millisecond

// Watch refreshes the report whenever the file at path is written or
// replaced. It blocks until ctx is done.
func (s *Server) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors and writers often replace the file, so watch its directory.
	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	s.logger.Info("watching input", zap.String("path", target))

	var (
		timer   *time.Timer
		trigger <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			trigger = timer.C
		case <-trigger:
			trigger = nil
			if err := s.Refresh(ctx); err != nil {
				s.logger.Warn("refresh after change failed", zap.String("path", target), zap.Error(err))
				continue
			}
			s.logger.Info("report refreshed", zap.String("path", target), zap.String("run_id", s.Report().RunID))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// Poll refreshes the report every interval until ctx is done.
func (s *Server) Poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.logger.Warn("scheduled refresh failed", zap.Error(err))
			}
		}
	}
}
