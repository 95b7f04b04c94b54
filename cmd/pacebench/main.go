// Command pacebench drives the frame pacer in a loop and reports how closely
// it holds the target rate.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/phuslu/log"

	"github.com/pboyd/hotpatch/internal/config"
	"github.com/pboyd/hotpatch/internal/logger"
	"github.com/pboyd/hotpatch/internal/pacer"
)

// Flags holds the command-line flags
type Flags struct {
	Rate           int
	Busy           bool
	Margin         int64
	Ticks          int
	ConfigPath     string
	GenerateConfig string
}

func parseFlags() *Flags {
	flags := &Flags{}

	flag.IntVar(&flags.Rate,
		"rate",
		config.DefaultValues().MaxFramerate,
		"Target ticks per second, 0 for uncapped.")
	flag.BoolVar(&flags.Busy,
		"busy",
		false,
		"Spin for the whole interval instead of waiting on the timer.")
	flag.Int64Var(&flags.Margin,
		"margin",
		config.DefaultValues().BusyLoopBuffer,
		"Time left to spinning before each tick, in 100ns units.")
	flag.IntVar(&flags.Ticks,
		"ticks",
		1000,
		"Number of ticks to run.")
	flag.StringVar(&flags.ConfigPath,
		"config",
		"",
		"Path to configuration file (optional).")
	flag.StringVar(&flags.GenerateConfig,
		"generate-config",
		"",
		"Generate example config file to specified path and exit.")
	flag.Parse()

	return flags
}

// isFlagPassed checks if a flag was explicitly set on the command line.
func isFlagPassed(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func main() {
	flags := parseFlags()

	if flags.GenerateConfig != "" {
		if err := config.GenerateExampleConfig(flags.GenerateConfig); err != nil {
			fmt.Fprintf(os.Stderr, "error generating example config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Generated %s successfully\n", flags.GenerateConfig)
		return
	}

	cfg, err := config.LoadConfig(flags.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := logger.ConfigureLogging(cfg.Logging, ""); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure loggers: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	l := logger.NewLoggerWithContext("pacebench")

	shared := config.NewShared(config.DefaultValues(), l)
	if flags.ConfigPath != "" {
		reloader := &config.Reloader{
			Shared: shared,
			Source: config.FileSource{Path: cfg.Agent.Settings},
			Logger: l,
		}
		reloader.Reload()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go reloader.Run(ctx)
	}

	shared.Update(func(v *config.Values) {
		if isFlagPassed("rate") {
			v.MaxFramerate = flags.Rate
		}
		if isFlagPassed("busy") {
			v.FullBusyLoop = flags.Busy
		}
		if isFlagPassed("margin") {
			v.BusyLoopBuffer = flags.Margin
		}
	})

	timer := pacer.SystemTimer()
	res := pacer.Negotiate(timer, cfg.Pacer.TimerAttempts, l)

	p := pacer.New(shared, pacer.SystemClock(), timer, res.Achieved, nil)
	p.Bucket = cfg.Pacer.Bucket.Duration

	v := shared.Snapshot()
	l.Info().
		Int("rate", v.MaxFramerate).
		Bool("busy", v.FullBusyLoop).
		Int64("margin_100ns", v.BusyLoopBuffer).
		Stringer("granularity", res.Achieved).
		Int("ticks", flags.Ticks).
		Msg("pacing")

	intervals := run(p, flags.Ticks)
	s := summarize(intervals, shared.Snapshot().TargetInterval())

	l.Info().
		Int("ticks", s.Count).
		Dur("target", s.Target).
		Dur("min", s.Min).
		Dur("mean", s.Mean).
		Dur("p99", s.P99).
		Dur("max", s.Max).
		Int("early", s.Early).
		Float64("rate", s.Rate()).
		Msg("done")
}

// run ticks p n times and returns the time between consecutive ticks.
func run(p *pacer.Pacer, n int) []time.Duration {
	intervals := make([]time.Duration, 0, n)

	p.Tick()
	last := time.Now()
	for range n {
		p.Tick()
		now := time.Now()
		intervals = append(intervals, now.Sub(last))
		last = now
	}
	return intervals
}
