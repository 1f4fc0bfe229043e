package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	signalengine "github.com/glenn-altangerel/signal-engine"
	"golang.org/x/exp/slog"
)

var stdout = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{AddSource: true}))

// datagen produces the synthetic append-only bar stream the trader
// watches: -mode history seeds a dataset, -mode stream keeps appending
// one bar per tick to the latest day file.
func main() {
	mode := flag.String("mode", "stream", "history or stream")
	dataDir := flag.String("data-dir", "data/asset_name", "folder for the daily bar files")
	start := flag.String("start", "", "history: first day, YYYY-MM-DD")
	end := flag.String("end", "", "history: last day, YYYY-MM-DD")
	interval := flag.Duration("interval", time.Hour, "history: bar interval")
	seed := flag.Int64("seed", 1234, "history: random walk seed")
	appendEvery := flag.Duration("append-every", 5*time.Second, "stream: wall-clock delay between appends")
	flag.Parse()

	switch *mode {
	case "history":
		startDay, err := time.Parse("2006-01-02", *start)
		if err != nil {
			stdout.Error("invalid -start day", "error", err)
			os.Exit(1)
		}
		endDay, err := time.Parse("2006-01-02", *end)
		if err != nil {
			stdout.Error("invalid -end day", "error", err)
			os.Exit(1)
		}

		err = signalengine.GenerateHistory(signalengine.HistoryConfig{
			DataDir:  *dataDir,
			Start:    startDay,
			End:      endDay,
			Interval: *interval,
			Seed:     *seed,
		})
		if err != nil {
			stdout.Error("can't generate the history", "error", err)
			os.Exit(1)
		}
		stdout.Info("history generated", "dataDir", *dataDir, "from", *start, "to", *end)

	case "stream":
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		feeder := &signalengine.Feeder{
			DataDir:        *dataDir,
			AppendInterval: *appendEvery,
		}
		if err := feeder.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			stdout.Error("feeder stopped", "error", err)
			os.Exit(1)
		}

	default:
		stdout.Error("invalid mode, use -mode history|stream", "mode", *mode)
		os.Exit(1)
	}
}
