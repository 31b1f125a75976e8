package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watcher hot-reloads a config file, invoking onReload with the freshly
// parsed File every time it changes on disk. Grounded on the teacher's
// own fsnotify watcher loop (cmd/dtn-tool/exchange.go): watch the
// containing directory rather than the file itself, since editors and
// atomic config deployments often replace a file via rename rather than
// writing it in place, which a direct file watch would miss.
type Watcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Watch starts watching path's directory and calls onReload(file) after
// every create/write event naming path, spec §6: "config.Watch hot-reloads
// it via fsnotify and re-applies only the documented set operations".
// onReload is responsible for calling the relevant Channel.Configure.
func Watch(path string, onReload func(*File)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, err
	}

	w := &Watcher{watcher: fw, done: make(chan struct{})}
	go w.run(path, onReload)
	return w, nil
}

func (w *Watcher) run(path string, onReload func(*File)) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	for {
		select {
		case <-w.done:
			return

		case e, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			eventPath, err := filepath.Abs(e.Name)
			if err != nil {
				eventPath = e.Name
			}
			if eventPath != abs {
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			f, err := Load(path)
			if err != nil {
				log.WithError(err).WithField("path", path).Warn("Reloading configuration failed, keeping prior configuration")
				continue
			}
			onReload(f)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("Configuration watcher errored")
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
