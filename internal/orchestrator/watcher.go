package orchestrator

import (
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/codefionn/buildmender/internal/logger"
)

// touchWatcher records files actually written while a corrector call is in
// flight. Correctors declare what they intend to edit; the watcher catches
// what they really touched. Any setup failure degrades to declared paths
// only, it never blocks a fix.
type touchWatcher struct {
	watcher *fsnotify.Watcher
	root    string

	mu      sync.Mutex
	touched map[string]bool
	done    chan struct{}
}

var watcherSkippedDirs = map[string]bool{
	".git": true, "node_modules": true, "__pycache__": true,
	".venv": true, "venv": true, "vendor": true, "target": true,
	"dist": true, "build": true,
}

// startTouchWatcher begins watching projectRoot recursively. Returns nil
// when watching is unavailable.
func startTouchWatcher(projectRoot string) *touchWatcher {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("orchestrator: file watcher unavailable: %v", err)
		return nil
	}

	tw := &touchWatcher{
		watcher: w,
		root:    projectRoot,
		touched: make(map[string]bool),
		done:    make(chan struct{}),
	}

	err = filepath.WalkDir(projectRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		name := d.Name()
		if watcherSkippedDirs[name] || (strings.HasPrefix(name, ".") && p != projectRoot) {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
	if err != nil {
		logger.Warn("orchestrator: file watcher setup failed: %v", err)
		w.Close()
		return nil
	}

	go tw.run()
	return tw
}

func (tw *touchWatcher) run() {
	for {
		select {
		case ev, ok := <-tw.watcher.Events:
			if !ok {
				close(tw.done)
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			rel, err := filepath.Rel(tw.root, ev.Name)
			if err != nil || strings.HasPrefix(rel, "..") {
				continue
			}
			tw.mu.Lock()
			tw.touched[filepath.ToSlash(rel)] = true
			tw.mu.Unlock()
		case _, ok := <-tw.watcher.Errors:
			if !ok {
				close(tw.done)
				return
			}
		}
	}
}

// Stop closes the watcher and returns every path written while it ran
func (tw *touchWatcher) Stop() []string {
	if tw == nil {
		return nil
	}
	tw.watcher.Close()
	<-tw.done

	tw.mu.Lock()
	defer tw.mu.Unlock()
	out := make([]string, 0, len(tw.touched))
	for p := range tw.touched {
		out = append(out, p)
	}
	return out
}
