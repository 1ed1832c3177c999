package manifest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceDuration is how long Watch waits after the last file event
// before checking again.
var DebounceDuration = 100 * time.Millisecond

// Watch checks the manifests matched by patterns, calls report with the
// result, and checks again whenever a manifest or a template it refers to
// changes. It blocks until ctx is done.
func (c *Checker) Watch(ctx context.Context, report func([]Problem, error), patterns ...string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dirs, err := c.watchDirs(patterns)
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return err
		}
	}

	var mu sync.Mutex
	var timer *time.Timer
	check := func() {
		mu.Lock()
		defer mu.Unlock()
		report(c.Check(patterns...))
		timer = nil
	}
	check()

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Pick up directories created under a walked root.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					watcher.Add(event.Name)
				}
			}
			if !c.relevant(event.Name, patterns) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(DebounceDuration, check)
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			report(nil, err)
		}
	}
}

// watchDirs returns every directory holding a manifest or one of its
// templates, plus every directory under a walked root.
func (c *Checker) watchDirs(patterns []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	add := func(dir string) {
		if !seen[dir] {
			seen[dir] = true
			out = append(out, dir)
		}
	}
	for _, pattern := range patterns {
		if !strings.HasSuffix(pattern, "...") {
			add(filepath.Dir(pattern))
			continue
		}
		root := strings.TrimSuffix(strings.TrimSuffix(pattern, "..."), "/")
		if root == "" {
			root = "."
		}
		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	files, err := c.Find(patterns...)
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		if m, err := Load(file); err == nil {
			for _, tf := range m.Files() {
				add(filepath.Dir(tf))
			}
		}
	}
	return out, nil
}

// relevant reports whether a change to name can alter the result.
func (c *Checker) relevant(name string, patterns []string) bool {
	if strings.HasSuffix(name, c.opts.Suffix) {
		return true
	}
	files, err := c.Find(patterns...)
	if err != nil {
		return false
	}
	clean := filepath.Clean(name)
	for _, file := range files {
		if filepath.Clean(file) == clean {
			return true
		}
		if m, err := Load(file); err == nil {
			for _, tf := range m.Files() {
				if filepath.Clean(tf) == clean {
					return true
				}
			}
		}
	}
	return false
}
