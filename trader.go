package signalengine

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.opencensus.io/stats"
)

// Trader is the realtime driver: it wires the folder watcher's callback
// to the window loader, the strategy and the signal writer. Every
// callback runs inline on the poll goroutine, so a slow strategy delays
// the next poll instead of piling up work.
//
// One Trader owns one watched directory. Watching several assets means
// several independent Trader instances, each with its own state.
type Trader struct {
	DataDir      string
	SignalDir    string
	Strategy     Strategy
	PollInterval time.Duration
	Stdout       *log.Logger
	Stderr       *log.Logger

	loader *WindowLoader
	writer *SignalWriter
}

func (t *Trader) setup() error {
	if t.Stdout == nil {
		t.Stdout = log.New(os.Stdout, "", log.Lshortfile|log.Ltime)
	}
	if t.Stderr == nil {
		t.Stderr = log.New(os.Stderr, "[ERROR]", log.Lshortfile|log.Ltime|log.Lmsgprefix)
	}
	if t.Strategy == nil {
		return errors.New("a Trader requires a Strategy")
	}

	info, err := os.Stat(t.DataDir)
	if err != nil {
		return errors.Wrapf(err, "data_dir not found: %s", t.DataDir)
	}
	if !info.IsDir() {
		return errors.Errorf("data_dir is not a directory: %s", t.DataDir)
	}

	t.loader = &WindowLoader{DataDir: t.DataDir, Stderr: t.Stderr}
	t.writer = &SignalWriter{SignalDir: t.SignalDir, Stdout: t.Stdout, Stderr: t.Stderr}
	return nil
}

// Run blocks on the poll loop until ctx is cancelled or a fatal error
// occurs. A misconfigured data_dir fails fast here instead of looping
// silently.
func (t *Trader) Run(ctx context.Context) error {
	if err := t.setup(); err != nil {
		return err
	}

	watcher := &FolderWatcher{
		Folder:       t.DataDir,
		PollInterval: t.PollInterval,
		OnNewData:    t.onNewData,
		Stdout:       t.Stdout,
		Stderr:       t.Stderr,
	}
	return watcher.Start(ctx)
}

// onNewData is the watcher callback: reload the trailing window,
// compute the signal for its last bar, persist it. Too few bars is a
// no-op, the next bar will retry; a failed write is fatal.
func (t *Trader) onNewData(filename string, line string) error {
	stats.Record(GetNewContextFromFile(filename), MBarsObserved.M(1))

	window, err := t.loader.LoadLatestWindow(t.Strategy.WindowLen())
	if errors.Cause(err) == ErrNotEnoughBars {
		t.Stdout.Println("new data bar detected but not enough bars for generating a signal, waiting for more bars")
		stats.Record(GetNewContextFromFile(filename), MInsufficientWindow.M(1))
		return nil
	}
	if err != nil {
		return err
	}
	stats.Record(GetNewContextFromFile(filename), MWindowLoads.M(1))

	signal, err := t.Strategy.PerStep(window)
	if err != nil {
		return errors.Wrap(err, "strategy failed")
	}

	last := window[len(window)-1]
	t.Stdout.Printf("[signal] %s -> %s : %s", FormatTime(last.OpenTime), FormatTime(last.CloseTime), signal)
	stats.Record(GetNewContextFromBar(last, signal), MSignalsWritten.M(1))

	return t.writer.Append(last.OpenTime, last.CloseTime, signal)
}
