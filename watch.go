package main

import (
	"context"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/lofiland/lofiproxy/internal/offline"
)

// watchGeneration redeploys the worker whenever the generation in the
// configuration file changes. It returns when ctx is done.
func watchGeneration(ctx context.Context, configPath string, worker *offline.Worker) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Error("error creating fsnotify watcher", "error", err)
		return
	}
	defer watcher.Close() //nolint:errcheck

	// Editors replace files rather than writing them, so watch the directory
	dir := filepath.Dir(configPath)
	if err := watcher.Add(dir); err != nil {
		log.Error("error adding dir to fsnotify watcher", "error", err)
		return
	}
	log.Info("Watching configuration", "path", configPath)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(configPath) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			log.Debug("fsnotify event", "file", event.Name, "event", event.Op)
			reloadGeneration(ctx, worker)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Error("fsnotify error", "error", err)
		}
	}
}

func reloadGeneration(ctx context.Context, worker *offline.Worker) {
	if err := viper.ReadInConfig(); err != nil {
		log.Warn("Could not parse configuration file", "error", err)
		return
	}

	next := viper.GetString("generation")
	if next == worker.Generation() {
		return
	}

	log.Info("Generation changed", "from", worker.Generation(), "to", next)
	if err := worker.Redeploy(ctx, next); err != nil {
		log.Error("Unable to redeploy", "generation", next, "error", err)
		return
	}
}
