package objsrv

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// DeviceWatcher reports device paths that disappear from the filesystem. Events are
// delivered on the loop goroutine.
type DeviceWatcher struct {
	loop    *Loop
	w       *fsnotify.Watcher
	removed func(path string)

	// dirs counts the watched paths per parent directory. Only the loop goroutine
	// touches it.
	dirs  map[string]int
	paths map[string]int

	wg sync.WaitGroup
}

func NewDeviceWatcher(loop *Loop, removed func(path string)) (*DeviceWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dw := &DeviceWatcher{
		loop:    loop,
		w:       w,
		removed: removed,
		dirs:    make(map[string]int),
		paths:   make(map[string]int),
	}
	dw.wg.Add(1)
	go dw.run()
	return dw, nil
}

// Add watches path. Watches are counted, each Add needs a Remove.
func (dw *DeviceWatcher) Add(path string) error {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)
	if dw.dirs[dir] == 0 {
		if err := dw.w.Add(dir); err != nil {
			return err
		}
	}
	dw.dirs[dir]++
	dw.paths[path]++
	return nil
}

func (dw *DeviceWatcher) Remove(path string) {
	path = filepath.Clean(path)
	if dw.paths[path] == 0 {
		return
	}
	if dw.paths[path]--; dw.paths[path] == 0 {
		delete(dw.paths, path)
	}

	dir := filepath.Dir(path)
	if dw.dirs[dir]--; dw.dirs[dir] == 0 {
		delete(dw.dirs, dir)
		_ = dw.w.Remove(dir)
	}
}

// Watching reports whether path is watched.
func (dw *DeviceWatcher) Watching(path string) bool {
	return dw.paths[filepath.Clean(path)] > 0
}

func (dw *DeviceWatcher) run() {
	defer dw.wg.Done()
	for {
		select {
		case ev, ok := <-dw.w.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			path := filepath.Clean(ev.Name)
			_ = dw.loop.Post(func() {
				if dw.paths[path] > 0 {
					dw.removed(path)
				}
			})
		case err, ok := <-dw.w.Errors:
			if !ok {
				return
			}
			_ = dw.loop.Post(func() {
				dw.loop.logger.Printf("device watcher: %v", err)
			})
		}
	}
}

func (dw *DeviceWatcher) Close() error {
	err := dw.w.Close()
	dw.wg.Wait()
	return err
}
