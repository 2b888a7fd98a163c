package scanner

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// RaceError is returned by Scan when DetectRaces is set and a watched
// directory reported a write, remove, or rename while the scan was
// still reading files beneath it: the digests collected for that
// directory can no longer be trusted to describe a quiescent tree.
type RaceError struct {
	Paths []string
}

func (e RaceError) Error() string {
	return fmt.Sprintf("scanner: filesystem changed during scan: %v", e.Paths)
}

// raceWatcher watches every directory the walk descends into and records
// which ones saw a write/remove/rename event before the scan finished.
// Grounded on the same fsnotify event loop the teacher's manifest
// watcher uses, adapted here to flag a race instead of reloading state.
type raceWatcher struct {
	w    *fsnotify.Watcher
	mu   sync.Mutex
	hit  map[string]bool
	done chan struct{}
}

func newRaceWatcher() (*raceWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	rw := &raceWatcher{w: w, hit: make(map[string]bool), done: make(chan struct{})}
	go rw.run()
	return rw, nil
}

func (rw *raceWatcher) run() {
	defer close(rw.done)
	for {
		select {
		case event, ok := <-rw.w.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				rw.mu.Lock()
				rw.hit[event.Name] = true
				rw.mu.Unlock()
			}
		case _, ok := <-rw.w.Errors:
			if !ok {
				return
			}
		}
	}
}

// watch adds absDir to the watch set. A directory that disappears before
// it can be watched is already reported by the walk itself failing to
// read it, so a watch failure here is not itself a race.
func (rw *raceWatcher) watch(absDir string) {
	_ = rw.w.Add(absDir)
}

// close stops the watcher and returns every path that changed while it
// was running, in no particular order.
func (rw *raceWatcher) close() []string {
	rw.w.Close()
	<-rw.done
	rw.mu.Lock()
	defer rw.mu.Unlock()
	paths := make([]string, 0, len(rw.hit))
	for p := range rw.hit {
		paths = append(paths, p)
	}
	return paths
}
