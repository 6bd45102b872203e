package skills

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 250 * time.Millisecond

// Watch starts an fsnotify watch on the Loader's directory, reloading
// (debounced) on any create/write/remove/rename until ctx is cancelled.
func (l *Loader) Watch(ctx context.Context, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(l.dir); err != nil {
		_ = watcher.Close()
		return err
	}
	l.addSkillSubdirs(watcher)

	go l.watchLoop(ctx, watcher, debounce)
	return nil
}

// addSkillSubdirs adds every existing skill subdirectory to watcher;
// fsnotify does not watch recursively, so a write to an existing SKILL.md
// needs its parent directory watched explicitly.
func (l *Loader) addSkillSubdirs(watcher *fsnotify.Watcher) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			_ = watcher.Add(filepath.Join(l.dir, entry.Name()))
		}
	}
}

func (l *Loader) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, debounce time.Duration) {
	defer watcher.Close()

	var timer *time.Timer
	scheduleReload := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			if err := l.Reload(); err != nil {
				l.logger.Warn("skills: reload failed", "error", err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				if event.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						_ = watcher.Add(event.Name)
					}
				}
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("skills: watch error", "error", err)
		}
	}
}
