package signalengine

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// OnNewData is invoked synchronously by the watcher, once per logically
// new data row, in detection order. Returning an error aborts the poll
// loop: the watcher treats callback failures as fatal.
type OnNewData func(filename string, line string) error

// FolderWatcher polls a folder of append-only daily bar files and fires
// OnNewData for every new row. The first poll only records the current
// size of every existing file, so pre-existing content never triggers a
// callback. After that, a freshly created file fires exactly one callback
// with its first data row, and appends are read only from the
// lexicographically-last file, from the byte offset already consumed.
//
// All earlier files are assumed sealed: a producer must only ever grow
// the most recent file. On restart the bootstrap step treats every
// pre-existing byte as consumed, including rows written just before a
// crash.
type FolderWatcher struct {
	Folder       string
	PollInterval time.Duration
	OnNewData    OnNewData
	Stdout       *log.Logger
	Stderr       *log.Logger

	offsets      map[string]int64
	known        map[string]struct{}
	bootstrapped bool
}

// Start runs the poll loop until ctx is cancelled or a callback fails.
// A missing watch folder is a configuration error and fails fast.
//
// A fsnotify watcher on the folder, when available, wakes the loop as
// soon as the producer writes; the offset bookkeeping makes the extra
// polls harmless. Without it the loop degrades to plain interval polling.
func (w *FolderWatcher) Start(ctx context.Context) error {
	if err := w.setup(); err != nil {
		return err
	}
	w.Stdout.Printf("watching folder %s", w.Folder)

	var notifyEvents chan fsnotify.Event
	var notifyErrors chan error
	notify, err := fsnotify.NewWatcher()
	if err == nil {
		err = notify.Add(w.Folder)
	}
	if err != nil {
		w.Stderr.Printf("fsnotify unavailable, falling back to interval polling only - %v", err)
	} else {
		defer func() { _ = notify.Close() }()
		notifyEvents = notify.Events
		notifyErrors = notify.Errors
	}

	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()

	for {
		if err := w.pollOnce(); err != nil {
			return err
		}
		// wait for the next tick, a filesystem event, or shutdown

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case event, ok := <-notifyEvents:
			if !ok {
				notifyEvents = nil
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
		case err, ok := <-notifyErrors:
			if !ok {
				notifyErrors = nil
				continue
			}
			w.Stderr.Printf("fsnotify error - %v", err)
		}
	}
}

func (w *FolderWatcher) setup() error {
	if w.Stdout == nil {
		w.Stdout = log.New(os.Stdout, "", log.Lshortfile|log.Ltime)
	}
	if w.Stderr == nil {
		w.Stderr = log.New(os.Stderr, "[ERROR]", log.Lshortfile|log.Ltime|log.Lmsgprefix)
	}
	if w.PollInterval == 0 {
		w.PollInterval = 500 * time.Millisecond
	}
	if w.offsets == nil {
		w.offsets = map[string]int64{}
		w.known = map[string]struct{}{}
	}

	info, err := os.Stat(w.Folder)
	if err != nil {
		return errors.Wrapf(err, "can't watch folder %s", w.Folder)
	}
	if !info.IsDir() {
		return errors.Errorf("can't watch folder %s - not a directory", w.Folder)
	}
	return nil
}

// pollOnce is a single bounded unit of work: list the bar files, read
// the deltas, invoke the callbacks inline.
func (w *FolderWatcher) pollOnce() error {
	files, err := filepath.Glob(filepath.Join(w.Folder, "*.csv"))
	if err != nil || len(files) == 0 {
		return nil
	}
	// filepath.Glob returns the files in lexical order, which for
	// YYYY-MM-DD names is also chronological order.

	if !w.bootstrapped {
		for _, path := range files {
			w.known[path] = struct{}{}
			if info, err := os.Stat(path); err == nil {
				w.offsets[path] = info.Size()
			}
		}
		w.bootstrapped = true
		w.Stdout.Printf("bootstrap complete, skipped %v existing files", len(files))
		return nil
	}

	for _, path := range files {
		if _, seen := w.known[path]; seen {
			continue
		}
		w.known[path] = struct{}{}
		if err := w.handleNewFile(path); err != nil {
			return err
		}
	}

	return w.readAppends(files[len(files)-1])
}

// handleNewFile fires the callback for the first data row of a freshly
// created file only. The remaining rows signal the same "new day
// started" condition and are left to the active-file append path.
func (w *FolderWatcher) handleNewFile(path string) error {
	w.offsets[path] = 0

	contents, err := os.ReadFile(path)
	if err != nil {
		// deleted between polls, skip silently
		return nil
	}

	var first string
	for _, line := range strings.Split(string(contents), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || IsHeader(line) {
			continue
		}
		first = line
		break
	}

	if first != "" {
		w.Stdout.Printf("new bar file %s", filepath.Base(path))
		if err := w.OnNewData(filepath.Base(path), first); err != nil {
			return err
		}
	}

	if info, err := os.Stat(path); err == nil {
		w.offsets[path] = info.Size()
	}
	return nil
}

// readAppends reads the byte range [offset, size) of the active file and
// fires one callback per data row in it. A file that shrank below its
// stored offset is a no-op: under the append-only contract it can't
// happen, and the watcher never re-reads consumed bytes.
func (w *FolderWatcher) readAppends(path string) error {
	offset, tracked := w.offsets[path]
	if !tracked {
		if info, err := os.Stat(path); err == nil {
			w.offsets[path] = info.Size()
		}
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	size := info.Size()
	if size <= offset {
		return nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer func() { _ = file.Close() }()

	chunk := make([]byte, size-offset)
	n, err := file.ReadAt(chunk, offset)
	if n == 0 {
		if err != nil && err != io.EOF {
			w.Stderr.Printf("can't read %s at offset %v - %v", path, offset, err)
		}
		return nil
	}
	w.offsets[path] = offset + int64(n)

	for _, line := range strings.Split(string(chunk[:n]), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || IsHeader(line) {
			continue
		}
		if err := w.OnNewData(filepath.Base(path), line); err != nil {
			return err
		}
	}
	return nil
}
