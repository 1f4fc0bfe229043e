package signalengine

import (
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrNotEnoughBars is returned by LoadLatestWindow when fewer than the
// requested bars exist across all files, or when a file can't be parsed
// on this attempt (typically because the producer is mid-write). The
// caller retries on the next trigger.
var ErrNotEnoughBars = errors.New("not enough bars")

// WindowLoader reconstructs the most recent n bars as one chronological
// sequence, even though the bars are split across many daily files.
type WindowLoader struct {
	DataDir string
	Stderr  *log.Logger
}

// LoadLatestWindow returns the last n bars by open_time, ascending,
// reading as many trailing files as needed. It never returns a short
// window: fewer than n bars in total is ErrNotEnoughBars.
func (l *WindowLoader) LoadLatestWindow(n int) ([]Bar, error) {

	if l.Stderr == nil {
		l.Stderr = log.New(os.Stderr, "[ERROR]", log.Lshortfile|log.Ltime|log.Lmsgprefix)
	}
	if n <= 0 {
		return nil, errors.Errorf("window length must be > 0, got %v", n)
	}

	files, err := filepath.Glob(filepath.Join(l.DataDir, "*.csv"))
	if err != nil || len(files) == 0 {
		return nil, ErrNotEnoughBars
	}

	// Walk the files newest-first and keep only the trailing rows of
	// each until n bars are accumulated.
	var chunks [][]Bar
	total := 0
	for i := len(files) - 1; i >= 0 && total < n; i-- {
		bars, err := ReadBarFile(files[i])
		if err != nil {
			l.Stderr.Printf("can't read %s, skipping this window - %v", files[i], err)
			return nil, ErrNotEnoughBars
		}
		if len(bars) == 0 {
			continue
		}

		need := n - total
		if need < len(bars) {
			bars = bars[len(bars)-need:]
		}
		chunks = append(chunks, bars)
		total += len(bars)
	}

	if total < n {
		return nil, ErrNotEnoughBars
	}

	// chunks were accumulated newest-file-first; rebuild in ascending
	// file order and re-sort, in case files overlap in time.
	window := make([]Bar, 0, total)
	for i := len(chunks) - 1; i >= 0; i-- {
		window = append(window, chunks[i]...)
	}
	sort.SliceStable(window, func(i, j int) bool {
		return window[i].OpenTime.Before(window[j].OpenTime)
	})

	return window[len(window)-n:], nil
}

// ReadBarFile parses a whole daily bar file and returns its rows sorted
// ascending by open_time. On-disk order is usually already ascending but
// is not guaranteed, so it is enforced here with a stable sort.
func ReadBarFile(path string) ([]Bar, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "can't read bar file %s", path)
	}

	var bars []Bar
	for _, line := range strings.Split(string(contents), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || IsHeader(line) {
			continue
		}
		bar, err := ParseBarLine(line)
		if err != nil {
			return nil, errors.Wrapf(err, "bad row in %s", path)
		}
		bars = append(bars, bar)
	}

	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].OpenTime.Before(bars[j].OpenTime)
	})
	return bars, nil
}
