package signalengine

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestBacktesterRun(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	signalDir := filepath.Join(t.TempDir(), "signals")

	err := GenerateHistory(HistoryConfig{
		DataDir:  dataDir,
		Start:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
		Interval: time.Hour,
		Seed:     1234,
	})
	if err != nil {
		t.Fatalf("can't generate the fixture history -- %v", err)
	}

	strategy := &MockStrategy{Len: 3, Signal: SignalHold}
	backtester := &Backtester{DataDir: dataDir, SignalDir: signalDir, Strategy: strategy}
	if err := backtester.Run(); err != nil {
		t.Fatalf("backtest failed -- %v", err)
	}

	// 48 hourly bars, window of 3: signals start at the bar opening at
	// 02:00 of day one
	day1, err := ReadSignalFile(filepath.Join(signalDir, "2025-01-01.csv"))
	if err != nil {
		t.Fatalf("can't read day 1 -- %v", err)
	}
	day2, err := ReadSignalFile(filepath.Join(signalDir, "2025-01-02.csv"))
	if err != nil {
		t.Fatalf("can't read day 2 -- %v", err)
	}

	if len(day1) != 22 || len(day2) != 24 {
		t.Fatalf("expected 22+24 signal rows, got %v+%v", len(day1), len(day2))
	}
	if strategy.Calls != 46 {
		t.Errorf("expected 46 strategy calls, got %v", strategy.Calls)
	}

	wantFirst := time.Date(2025, 1, 1, 2, 0, 0, 0, time.UTC)
	if !day1[0].OpenTime.Equal(wantFirst) {
		t.Errorf("first signal opens at %v, want %v", day1[0].OpenTime, wantFirst)
	}
	for _, r := range append(day1, day2...) {
		if r.Signal != SignalHold {
			t.Fatalf("unexpected signal %v in row %+v", r.Signal, r)
		}
	}
	for i := 1; i < len(day2); i++ {
		if !day2[i-1].OpenTime.Before(day2[i].OpenTime) {
			t.Fatalf("day 2 rows out of order at %v", i)
		}
	}
}

func TestBacktesterShortHistoryIsNoOp(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	signalDir := filepath.Join(t.TempDir(), "signals")
	bars := hourlyBars(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 2)
	writeTestFile(t, dataDir, "2025-01-01.csv", barFileContents(bars))

	backtester := &Backtester{
		DataDir:   dataDir,
		SignalDir: signalDir,
		Strategy:  &MockStrategy{Len: 3},
	}
	if err := backtester.Run(); err != nil {
		t.Fatalf("expected a no-op, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(signalDir, "2025-01-01.csv")); err == nil {
		t.Error("no signal file should have been written")
	}
}

func TestBacktesterMissingDataDir(t *testing.T) {
	t.Parallel()

	backtester := &Backtester{
		DataDir:   "/does/not/exist",
		SignalDir: t.TempDir(),
		Strategy:  &MockStrategy{Len: 3},
	}
	if err := backtester.Run(); err == nil {
		t.Fatal("expected a configuration error")
	}
}

// Re-running a backtest rewrites the day files instead of appending.
func TestBacktesterRerunIsIdempotent(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	signalDir := filepath.Join(t.TempDir(), "signals")
	bars := hourlyBars(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 6)
	writeTestFile(t, dataDir, "2025-01-01.csv", barFileContents(bars))

	backtester := &Backtester{
		DataDir:   dataDir,
		SignalDir: signalDir,
		Strategy:  &MockStrategy{Len: 3, Signal: SignalBuy},
	}
	for i := 0; i < 2; i++ {
		if err := backtester.Run(); err != nil {
			t.Fatalf("backtest failed -- %v", err)
		}
	}

	records, err := ReadSignalFile(filepath.Join(signalDir, "2025-01-01.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 4 {
		t.Errorf("expected 4 signal rows after a re-run, got %v", len(records))
	}
}
