package signalengine

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

type watchEvent struct {
	Filename string
	Line     string
}

func newTestWatcher(t *testing.T, folder string, events *[]watchEvent) *FolderWatcher {
	t.Helper()
	w := &FolderWatcher{
		Folder:       folder,
		PollInterval: 10 * time.Millisecond,
		OnNewData: func(filename, line string) error {
			*events = append(*events, watchEvent{Filename: filename, Line: line})
			return nil
		},
	}
	if err := w.setup(); err != nil {
		t.Fatalf("watcher setup failed -- %v", err)
	}
	return w
}

func TestWatcherBootstrapSkipsExistingRows(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bars := hourlyBars(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 4)
	writeTestFile(t, dir, "2025-01-01.csv", barFileContents(bars[:2]))
	writeTestFile(t, dir, "2025-01-02.csv", barFileContents(bars[2:]))

	var events []watchEvent
	w := newTestWatcher(t, dir, &events)

	// first poll is the bootstrap, the second sees nothing new
	for i := 0; i < 2; i++ {
		if err := w.pollOnce(); err != nil {
			t.Fatalf("poll failed -- %v", err)
		}
	}
	if len(events) != 0 {
		t.Fatalf("expected no callbacks for pre-existing rows, got %v", events)
	}
}

func TestWatcherExactlyOnceAppends(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bars := hourlyBars(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 6)
	path := writeTestFile(t, dir, "2025-01-01.csv", barFileContents(bars[:1]))

	var events []watchEvent
	w := newTestWatcher(t, dir, &events)
	if err := w.pollOnce(); err != nil {
		t.Fatal(err)
	}

	var want []watchEvent
	appendRows := func(rows []Bar) {
		for _, b := range rows {
			appendTestFile(t, path, FormatBarLine(b)+"\n")
			want = append(want, watchEvent{Filename: "2025-01-01.csv", Line: FormatBarLine(b)})
		}
	}

	// N rows across arbitrarily many polls: exactly N callbacks,
	// correct raw lines, append order.
	appendRows(bars[1:3])
	if err := w.pollOnce(); err != nil {
		t.Fatal(err)
	}
	appendRows(bars[3:6])
	for i := 0; i < 3; i++ {
		if err := w.pollOnce(); err != nil {
			t.Fatal(err)
		}
	}

	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("append delivery mismatch (-want +got):\n%s", diff)
	}
}

func TestWatcherNewFileFirstRowOnly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bars := hourlyBars(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 2)
	writeTestFile(t, dir, "2025-01-01.csv", barFileContents(bars))

	var events []watchEvent
	w := newTestWatcher(t, dir, &events)
	if err := w.pollOnce(); err != nil {
		t.Fatal(err)
	}

	// a new file lands with 3 rows already in it: one callback, the
	// first data row only
	day2 := hourlyBars(time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), 3)
	path := writeTestFile(t, dir, "2025-01-02.csv", barFileContents(day2))
	if err := w.pollOnce(); err != nil {
		t.Fatal(err)
	}

	want := []watchEvent{{Filename: "2025-01-02.csv", Line: FormatBarLine(day2[0])}}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Fatalf("new file delivery mismatch (-want +got):\n%s", diff)
	}

	// the file is now the active one: appends resume row by row
	day2More := hourlyBars(time.Date(2025, 1, 2, 3, 0, 0, 0, time.UTC), 1)
	appendTestFile(t, path, FormatBarLine(day2More[0])+"\n")
	if err := w.pollOnce(); err != nil {
		t.Fatal(err)
	}

	want = append(want, watchEvent{Filename: "2025-01-02.csv", Line: FormatBarLine(day2More[0])})
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("active file delivery mismatch (-want +got):\n%s", diff)
	}
}

// The watcher only re-scans the lexicographically-last file: a producer
// appending to a sealed file is out of contract and the rows are
// dropped on purpose.
func TestWatcherIgnoresAppendsToSealedFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bars := hourlyBars(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 4)
	sealed := writeTestFile(t, dir, "2025-01-01.csv", barFileContents(bars[:2]))
	writeTestFile(t, dir, "2025-01-02.csv", barFileContents(bars[2:]))

	var events []watchEvent
	w := newTestWatcher(t, dir, &events)
	if err := w.pollOnce(); err != nil {
		t.Fatal(err)
	}

	appendTestFile(t, sealed, FormatBarLine(bars[3])+"\n")
	if err := w.pollOnce(); err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("expected appends to a sealed file to be dropped, got %v", events)
	}
}

func TestWatcherCallbackErrorAborts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bars := hourlyBars(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 2)
	path := writeTestFile(t, dir, "2025-01-01.csv", barFileContents(bars[:1]))

	boom := errors.New("boom")
	w := &FolderWatcher{
		Folder:       dir,
		PollInterval: 10 * time.Millisecond,
		OnNewData:    func(string, string) error { return boom },
	}
	if err := w.setup(); err != nil {
		t.Fatal(err)
	}
	if err := w.pollOnce(); err != nil {
		t.Fatal(err)
	}

	appendTestFile(t, path, FormatBarLine(bars[1])+"\n")
	if err := w.pollOnce(); errors.Cause(err) != boom {
		t.Errorf("expected the callback error to propagate, got %v", err)
	}
}

func TestWatcherFailsFastOnMissingFolder(t *testing.T) {
	t.Parallel()

	w := &FolderWatcher{Folder: "/does/not/exist", OnNewData: func(string, string) error { return nil }}
	if err := w.Start(context.Background()); err == nil {
		t.Fatal("expected a configuration error")
	}
}

func TestWatcherStartDeliversAndStopsOnCancel(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bars := hourlyBars(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 4)
	path := writeTestFile(t, dir, "2025-01-01.csv", barFileContents(bars[:1]))

	var events []watchEvent
	w := &FolderWatcher{
		Folder:       dir,
		PollInterval: 10 * time.Millisecond,
		OnNewData: func(filename, line string) error {
			events = append(events, watchEvent{Filename: filename, Line: line})
			return nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	time.Sleep(100 * time.Millisecond) // let the bootstrap poll run
	for _, b := range bars[1:] {
		appendTestFile(t, path, FormatBarLine(b)+"\n")
	}
	time.Sleep(300 * time.Millisecond)
	cancel()

	err := <-done
	if errors.Cause(err) != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	var want []watchEvent
	for _, b := range bars[1:] {
		want = append(want, watchEvent{Filename: "2025-01-01.csv", Line: FormatBarLine(b)})
	}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("delivery through Start mismatch (-want +got):\n%s", diff)
	}
}
