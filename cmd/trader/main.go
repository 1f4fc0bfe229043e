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
	_ "github.com/joho/godotenv/autoload"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/exp/slog"
)

var stdout = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{AddSource: true}))

// Config comes from the environment, with .env support via godotenv.
type Config struct {
	DataDir          string        `envconfig:"DATA_DIR" required:"true"`
	SignalDir        string        `envconfig:"SIGNAL_DIR" required:"true"`
	NumPastTimesteps int           `envconfig:"NUM_PAST_TIMESTEPS" default:"100"`
	PollInterval     time.Duration `envconfig:"POLL_INTERVAL" default:"500ms"`
	Strategy         string        `envconfig:"STRATEGY" default:"random"`
}

func main() {
	mode := flag.String("mode", "realtime", "realtime or backtest")
	flag.Parse()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		stdout.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var strategy signalengine.Strategy
	switch cfg.Strategy {
	case "random":
		strategy = signalengine.NewRandomStrategy(cfg.NumPastTimesteps)
	case "psar":
		strategy = &signalengine.PsarStrategy{NumPastTimesteps: cfg.NumPastTimesteps}
	default:
		stdout.Error("unknown strategy, use random or psar", "strategy", cfg.Strategy)
		os.Exit(1)
	}

	signalengine.RegisterViews()

	switch *mode {
	case "backtest":
		backtester := &signalengine.Backtester{
			DataDir:   cfg.DataDir,
			SignalDir: cfg.SignalDir,
			Strategy:  strategy,
		}
		if err := backtester.Run(); err != nil {
			stdout.Error("backtest failed", "error", err)
			os.Exit(1)
		}
		stdout.Info("backtesting completed")

	case "realtime":
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		trader := &signalengine.Trader{
			DataDir:      cfg.DataDir,
			SignalDir:    cfg.SignalDir,
			Strategy:     strategy,
			PollInterval: cfg.PollInterval,
		}
		if err := trader.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			stdout.Error("trader stopped", "error", err)
			os.Exit(1)
		}
		stdout.Info("shutdown complete")

	default:
		stdout.Error("invalid mode, use -mode realtime|backtest", "mode", *mode)
		os.Exit(1)
	}
}
