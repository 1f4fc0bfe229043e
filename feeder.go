package signalengine

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// HistoryConfig drives GenerateHistory.
type HistoryConfig struct {
	DataDir    string
	Start      time.Time // first day, inclusive
	End        time.Time // last day, inclusive
	Interval   time.Duration
	Seed       int64
	StartPrice float64
	BaseVolume float64
}

// GenerateHistory writes one synthetic random-walk OHLCV file per day
// in [Start, End]. The walk is seeded, so the same config produces the
// same dataset.
func GenerateHistory(cfg HistoryConfig) error {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.StartPrice == 0 {
		cfg.StartPrice = 100.0
	}
	if cfg.BaseVolume == 0 {
		cfg.BaseVolume = 1000.0
	}

	start := cfg.Start.UTC().Truncate(24 * time.Hour)
	end := cfg.End.UTC().Truncate(24 * time.Hour)
	if end.Before(start) {
		return errors.Errorf("end day %s is before start day %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return errors.Wrapf(err, "can't create data folder %s", cfg.DataDir)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	price := cfg.StartPrice

	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		var sb strings.Builder
		sb.WriteString(BarHeader + "\n")

		dayEnd := day.AddDate(0, 0, 1)
		for open := day; open.Before(dayEnd); open = open.Add(cfg.Interval) {
			bar := nextSyntheticBar(rng, price, open, cfg.Interval, cfg.BaseVolume)
			price = bar.Close
			sb.WriteString(FormatBarLine(bar) + "\n")
		}

		path := filepath.Join(cfg.DataDir, day.Format("2006-01-02")+".csv")
		if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
			return errors.Wrapf(err, "can't write bar file %s", path)
		}
	}
	return nil
}

// Feeder appends one synthetic bar per tick to the per-day files of
// DataDir, continuing an existing history: the bar interval is inferred
// from the open_time deltas already on disk, and the walk is seeded
// from the latest close. When a bar's open crosses midnight the feeder
// rolls to a new day file, header included.
//
// It is the external append-only producer the watcher expects, useful
// to smoke-test the realtime pipeline end to end.
type Feeder struct {
	DataDir        string
	AppendInterval time.Duration // wall-clock delay between appends
	BaseVolume     float64
	Stdout         *log.Logger
	Stderr         *log.Logger

	rng         *rand.Rand
	last        Bar
	barInterval time.Duration
}

func (f *Feeder) Run(ctx context.Context) error {
	if err := f.bootstrap(); err != nil {
		return err
	}

	ticker := time.NewTicker(f.AppendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := f.appendOnce(); err != nil {
			return err
		}
	}
}

// bootstrap infers the bar interval as the median positive open_time
// delta over the most recent files and seeds the walk from the latest
// bar on disk. A folder without at least 3 readable bars can't seed a
// stream and is an error.
func (f *Feeder) bootstrap() error {
	if f.Stdout == nil {
		f.Stdout = log.New(os.Stdout, "", log.Lshortfile|log.Ltime)
	}
	if f.Stderr == nil {
		f.Stderr = log.New(os.Stderr, "[ERROR]", log.Lshortfile|log.Ltime|log.Lmsgprefix)
	}
	if f.AppendInterval == 0 {
		f.AppendInterval = 5 * time.Second
	}
	if f.BaseVolume == 0 {
		f.BaseVolume = 1000.0
	}
	if f.rng == nil {
		f.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	files, err := filepath.Glob(filepath.Join(f.DataDir, "*.csv"))
	if err != nil || len(files) == 0 {
		return errors.Errorf("no continuous bars detected in %s, generate a history first", f.DataDir)
	}
	if len(files) > 10 {
		files = files[len(files)-10:]
	}

	var diffs []time.Duration
	totalBars := 0
	var last Bar
	found := false
	for _, path := range files {
		bars, err := ReadBarFile(path)
		if err != nil {
			f.Stderr.Printf("skipping unreadable bar file %s - %v", path, err)
			continue
		}
		totalBars += len(bars)
		for i := 1; i < len(bars); i++ {
			if d := bars[i].OpenTime.Sub(bars[i-1].OpenTime); d > 0 {
				diffs = append(diffs, d)
			}
		}
		if len(bars) > 0 {
			if b := bars[len(bars)-1]; !found || b.CloseTime.After(last.CloseTime) {
				last = b
				found = true
			}
		}
	}

	if !found || totalBars < 3 || len(diffs) == 0 {
		return errors.Errorf("no continuous bars detected in %s, generate a history first", f.DataDir)
	}

	sort.Slice(diffs, func(i, j int) bool { return diffs[i] < diffs[j] })
	f.barInterval = diffs[len(diffs)/2]
	f.last = last

	f.Stdout.Printf("inferred bar interval %v, latest close_time %s, last close %.2f",
		f.barInterval, FormatTime(last.CloseTime), last.Close)
	return nil
}

// appendOnce writes one new bar. Timestamps advance by the inferred bar
// interval, not by the wall-clock append interval.
func (f *Feeder) appendOnce() error {
	bar := nextSyntheticBar(f.rng, f.last.Close, f.last.CloseTime, f.barInterval, f.BaseVolume)

	path := filepath.Join(f.DataDir, bar.Day()+".csv")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte(BarHeader+"\n"), 0o644); err != nil {
			return errors.Wrapf(err, "can't create bar file %s", path)
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "can't open bar file %s", path)
	}
	defer func() { _ = file.Close() }()

	if _, err := fmt.Fprintln(file, FormatBarLine(bar)); err != nil {
		return errors.Wrapf(err, "can't append to bar file %s", path)
	}

	f.last = bar
	f.Stdout.Printf("[append] %s open_time=%s close=%.2f", filepath.Base(path), FormatTime(bar.OpenTime), bar.Close)
	return nil
}

// nextSyntheticBar continues the random walk: the new bar opens at the
// previous close, both in time and in price.
func nextSyntheticBar(rng *rand.Rand, lastClose float64, open time.Time, interval time.Duration, baseVolume float64) Bar {
	o := lastClose
	c := o + rng.NormFloat64()*math.Max(1e-8, math.Abs(o)*0.0005)
	if c < 1e-8 {
		c = 1e-8
	}

	wiggle := math.Abs(rng.NormFloat64() * math.Max(1e-8, math.Abs(o)*0.0008))
	high := math.Max(o, c) + wiggle
	low := math.Max(1e-8, math.Min(o, c)-wiggle*0.8)
	volume := math.Max(0, baseVolume+rng.NormFloat64()*baseVolume*0.3)

	return Bar{
		OpenTime:  open,
		CloseTime: open.Add(interval),
		Open:      o,
		High:      high,
		Low:       low,
		Close:     c,
		Volume:    volume,
	}
}
