package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AlcorQi/kango/internal/logger"
)

// Watcher emits a notification whenever the config document changes on
// disk, so loops can await either their timer or a change instead of
// polling the file every tick.
//
// The parent directory is watched rather than the file itself: atomic
// rewrites replace the inode, and a watch on the old inode would go stale
// after the first update. When fsnotify cannot be set up the watcher falls
// back to mtime polling.
type Watcher struct {
	C    <-chan struct{}
	done chan struct{}
	log  logger.Logger
}

// NewWatcher starts watching the config document at path.
func NewWatcher(path string, log logger.Logger) *Watcher {
	if log == nil {
		log = logger.NewNop()
	}
	ch := make(chan struct{}, 1)
	w := &Watcher{C: ch, done: make(chan struct{}), log: log}

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		err = fsw.Add(filepath.Dir(path))
	}
	if err != nil {
		log.WithField("path", path).Warn("fsnotify unavailable, polling config file instead")
		go w.poll(path, ch)
		return w
	}
	go w.run(fsw, path, ch)
	return w
}

func (w *Watcher) run(fsw *fsnotify.Watcher, path string, ch chan struct{}) {
	defer fsw.Close()
	name := filepath.Base(path)
	for {
		select {
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.notify(ch)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.log.Error("config watch error", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) poll(path string, ch chan struct{}) {
	var last time.Time
	if st, err := os.Stat(path); err == nil {
		last = st.ModTime()
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			st, err := os.Stat(path)
			if err != nil {
				continue
			}
			if st.ModTime() != last {
				last = st.ModTime()
				w.notify(ch)
			}
		case <-w.done:
			return
		}
	}
}

// notify delivers without blocking; a pending notification already covers
// any change the receiver has not yet observed.
func (w *Watcher) notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (w *Watcher) Close() {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
}
