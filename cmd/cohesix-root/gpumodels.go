package main

import (
	"os"
	"path/filepath"

	"github.com/cohesix/root/internal/logger"
	"github.com/cohesix/root/internal/providers"
	"github.com/fsnotify/fsnotify"
)

// gpuModelWatcher is the pump source that keeps /gpu/models/available in
// sync with the host bridge's model directory: one subdirectory per GPU
// id, each holding a manifest.toml the bridge drops in (or rewrites) out
// of band. Ticks drain fsnotify's event/error channels non-blockingly —
// the event pump has no background threads, so watching happens on the
// pump's own schedule rather than fsnotify's goroutine pushing work in
// whenever it likes.
//
// Grounded on dittofs's config-hot-reload fsnotify.Watcher usage for the
// watch-then-reread idiom, adapted from a single config file to a
// directory of per-device manifests, and on sources.go's existing
// select-with-default non-blocking drain pattern (serialRXSource,
// virtioRXSource) for folding an external event source into one tick.
type gpuModelWatcher struct {
	watcher *fsnotify.Watcher
	gpu     *providers.Gpu
	root    string
}

// newGpuModelWatcher watches root (and any subdirectory already present
// under it) for manifest.toml changes. A zero-value root disables the
// watcher: newGpuModelWatcher returns nil, and main.go skips registering
// it, since most manifests have no bridge-populated model directory.
func newGpuModelWatcher(root string, gpu *providers.Gpu) (*gpuModelWatcher, error) {
	if root == "" {
		return nil, nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Add(root); err != nil {
		w.Close()
		return nil, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if err := w.Add(dir); err != nil {
			logger.Warn("gpu model watch add failed", logger.Err(err))
			continue
		}
		loadGpuManifest(gpu, root, e.Name())
	}
	return &gpuModelWatcher{watcher: w, gpu: gpu, root: root}, nil
}

func (g *gpuModelWatcher) Name() string { return "gpu-model-watch" }

// Tick drains pending fsnotify events and errors without blocking, at
// most budget per call, reloading the affected device's manifest.toml on a Create or Write.
func (g *gpuModelWatcher) Tick(budget int) (int, error) {
	used := 0
	for used < budget {
		select {
		case ev, ok := <-g.watcher.Events:
			if !ok {
				return used, nil
			}
			used++
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			id := filepath.Base(filepath.Dir(ev.Name))
			if filepath.Base(ev.Name) == "manifest.toml" {
				loadGpuManifest(g.gpu, g.root, id)
			} else if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
				g.watcher.Add(ev.Name)
			}
		case err, ok := <-g.watcher.Errors:
			if !ok {
				return used, nil
			}
			used++
			logger.Warn("gpu model watch error", logger.Err(err))
		default:
			return used, nil
		}
	}
	return used, nil
}

// loadGpuManifest reads root/id/manifest.toml and installs it via
// SetModelManifest. A missing or unreadable file is logged, not
// propagated — a bad manifest drop must not stall the pump.
func loadGpuManifest(gpu *providers.Gpu, root, id string) {
	data, err := os.ReadFile(filepath.Join(root, id, "manifest.toml"))
	if err != nil {
		logger.Warn("gpu manifest read failed", logger.Err(err))
		return
	}
	gpu.SetModelManifest(id, data)
}
