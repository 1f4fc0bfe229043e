package signalengine

import (
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Backtester runs the same windowing as the realtime pipeline over the
// complete static dataset: every bar file is loaded up front, a window
// of Strategy.WindowLen() bars is rolled over the full history, and the
// resulting signals are written as whole per-day files.
//
// Unlike the realtime writer this is not an append path: each day file
// is rewritten completely, so re-running a backtest is naturally
// idempotent.
type Backtester struct {
	DataDir   string
	SignalDir string
	Strategy  Strategy
	Stdout    *log.Logger
	Stderr    *log.Logger
}

func (b *Backtester) Run() error {

	if b.Stdout == nil {
		b.Stdout = log.New(os.Stdout, "", log.Lshortfile|log.Ltime)
	}
	if b.Stderr == nil {
		b.Stderr = log.New(os.Stderr, "[ERROR]", log.Lshortfile|log.Ltime|log.Lmsgprefix)
	}
	if b.Strategy == nil {
		return errors.New("a Backtester requires a Strategy")
	}

	if _, err := os.Stat(b.DataDir); err != nil {
		return errors.Wrapf(err, "data_dir not found: %s", b.DataDir)
	}

	bars, err := b.loadAll()
	if err != nil {
		return err
	}
	if len(bars) == 0 {
		b.Stderr.Printf("no bar files found in %s", b.DataDir)
		return nil
	}

	n := b.Strategy.WindowLen()
	if len(bars) < n {
		b.Stdout.Printf("not enough data to generate even one signal window: need %v, got %v", n, len(bars))
		return nil
	}

	// One signal per bar from index n-1 on, grouped by the UTC date of
	// the bar's open.
	days := map[string][]SignalRecord{}
	var order []string
	for i := n - 1; i < len(bars); i++ {
		signal, err := b.Strategy.PerStep(bars[i-n+1 : i+1])
		if err != nil {
			return errors.Wrap(err, "strategy failed")
		}

		day := bars[i].Day()
		if _, seen := days[day]; !seen {
			order = append(order, day)
		}
		days[day] = append(days[day], SignalRecord{
			OpenTime:  bars[i].OpenTime,
			CloseTime: bars[i].CloseTime,
			Signal:    signal,
		})
	}

	if err := os.MkdirAll(b.SignalDir, 0o755); err != nil {
		return errors.Wrapf(err, "can't create signal folder %s", b.SignalDir)
	}

	for _, day := range order {
		var sb strings.Builder
		sb.WriteString(SignalHeader + "\n")
		for _, r := range days[day] {
			sb.WriteString(FormatTime(r.OpenTime) + "," + FormatTime(r.CloseTime) + "," + r.Signal.String() + "\n")
		}

		path := filepath.Join(b.SignalDir, day+".csv")
		if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
			return errors.Wrapf(err, "can't write signal file %s", path)
		}
	}

	b.Stdout.Printf("backtest complete: %v bars, %v signals over %v day files", len(bars), len(bars)-n+1, len(order))
	return nil
}

// loadAll concatenates every bar file in chronological order. Parse
// errors are fatal here: the dataset is static, not mid-write.
func (b *Backtester) loadAll() ([]Bar, error) {
	files, err := filepath.Glob(filepath.Join(b.DataDir, "*.csv"))
	if err != nil || len(files) == 0 {
		return nil, nil
	}

	var bars []Bar
	for _, path := range files {
		fileBars, err := ReadBarFile(path)
		if err != nil {
			return nil, err
		}
		bars = append(bars, fileBars...)
	}

	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].OpenTime.Before(bars[j].OpenTime)
	})
	return bars, nil
}
