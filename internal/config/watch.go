package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const watchDebounce = 100 * time.Millisecond

// Watch reloads path whenever it changes and hands each valid result to fn.
// It watches the containing directory so editors that replace the file on
// save are picked up. Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, base *Config, fn func(*Config), logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}
	logger.Info("watching config", zap.String("path", abs))

	debounce := time.NewTimer(watchDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			debounce.Reset(watchDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", zap.Error(err))

		case <-debounce.C:
			cfg, err := LoadOnto(abs, base)
			if err == nil {
				err = cfg.Validate()
			}
			if err != nil {
				logger.Warn("config reload rejected", zap.String("path", abs), zap.Error(err))
				continue
			}
			logger.Info("config reloaded", zap.String("path", abs))
			fn(cfg)
		}
	}
}
