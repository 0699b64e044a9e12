// Command extsort sorts a file of native-endian 4-byte records that may not
// fit in memory.
//
// Usage:
//
//	extsort [--gen N | --gen1g] [--sorted] [--ref] [-m mem] [-t threads] [-s slots | -p passes] [--test]
//
// With --gen, a test input is generated first. --ref replaces the external
// sort with an in-memory reference sort. --test verifies the result against
// the input afterwards.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/pflag"
	"github.com/tamirms/extsort"
	"go.uber.org/zap"
)

const gen1gRecords = 256 << 20

// actions are the one-shot steps requested on the command line; they are not
// part of the config file.
type actions struct {
	configFile string
	gen        int64
	gen1g      bool
	sorted     bool
	ref        bool
	test       bool
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "extsort: %v\n", err)
		os.Exit(1)
	}
}

func parseArgs(args []string, stderr io.Writer) (*Config, *actions, error) {
	fs := pflag.NewFlagSet("extsort", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, "extsort sorts a file of 4-byte records with bounded memory\n\nUsage:\n  extsort [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}

	flagCfg := defaultConfig()
	flagCfg.bindFlags(fs)

	act := &actions{}
	fs.StringVar(&act.configFile, "config", "", "TOML config `file`; explicit flags override it")
	fs.Int64Var(&act.gen, "gen", 0, "Generate an input of N records before sorting")
	fs.Lookup("gen").NoOptDefVal = "256"
	fs.BoolVar(&act.gen1g, "gen1g", false, "Generate an input of 256Mi records (1 GiB)")
	fs.BoolVar(&act.sorted, "sorted", false, "Generate an already sorted input")
	fs.BoolVar(&act.ref, "ref", false, "Sort in memory instead of externally, and skip --test")
	fs.BoolVar(&act.test, "test", false, "Verify the output against the input")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if fs.NArg() > 0 {
		return nil, nil, fmt.Errorf("unexpected arguments %v", fs.Args())
	}
	if act.gen1g {
		act.gen = gen1gRecords
	}

	if act.configFile == "" {
		return flagCfg, act, nil
	}
	cfg := defaultConfig()
	if err := cfg.Load(act.configFile); err != nil {
		return nil, nil, err
	}
	cfg.overrideFrom(flagCfg, fs)
	return cfg, act, nil
}

func run(args []string, stdout io.Writer) error {
	cfg, act, err := parseArgs(args, os.Stderr)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	memory, err := parseMemory(cfg.Memory)
	if err != nil {
		return err
	}
	refLimit, err := units.RAMInBytes(cfg.ReferenceLimit)
	if err != nil {
		return fmt.Errorf("parse reference limit %q: %w", cfg.ReferenceLimit, err)
	}
	opts := []extsort.Option{
		extsort.WithLogger(logger),
		extsort.WithBufferRecords(cfg.BufferRecords),
		extsort.WithParallelFactor(cfg.ParallelFactor),
		extsort.WithReferenceLimit(refLimit),
		extsort.WithSeed(cfg.Seed),
	}
	if cfg.RunDir != "" {
		opts = append(opts, extsort.WithRunDir(cfg.RunDir))
	}

	if act.gen > 0 {
		start := time.Now()
		gen := extsort.GenerateRandom
		if act.sorted {
			gen = extsort.GenerateSequential
		}
		if err := gen(cfg.Input, act.gen, opts...); err != nil {
			return err
		}
		logger.Info("generate test file",
			zap.Int64("records", act.gen),
			zap.Bool("sorted", act.sorted),
			zap.Duration("elapsed", time.Since(start)))
	}

	if act.ref {
		start := time.Now()
		if err := extsort.ReferenceSort(cfg.Input, cfg.Output, opts...); err != nil {
			return err
		}
		logger.Info("reference in-memory sort", zap.Duration("elapsed", time.Since(start)))
		return nil
	}

	start := time.Now()
	var stats *extsort.Stats
	if cfg.Passes >= 0 {
		stats, err = extsort.SortPasses(cfg.Input, cfg.Output, memory, cfg.Threads, cfg.Passes, opts...)
	} else {
		stats, err = extsort.Sort(cfg.Input, cfg.Output, memory, cfg.Threads, cfg.Slots, opts...)
	}
	if err != nil {
		logger.Error("external sort failed", zap.Error(err))
		return err
	}
	logger.Info("external sort",
		zap.Duration("elapsed", time.Since(start)),
		zap.String("memory", units.BytesSize(float64(memory))),
		zap.Int("threads", cfg.Threads),
		zap.Int64("records", stats.InputRecords),
		zap.Int("runs", stats.Runs),
		zap.Int("merges", stats.Merges),
		zap.Int("maxFanIn", stats.MaxFanIn),
		zap.Bool("parallelMerge", stats.ParallelMerge))

	if !act.test {
		return nil
	}
	start = time.Now()
	report, verr := extsort.Verify(cfg.Input, cfg.Output, opts...)
	logger.Info("check results", zap.Duration("elapsed", time.Since(start)))
	if verr != nil {
		fmt.Fprintln(stdout, "Test failed")
		return verr
	}
	fmt.Fprintf(stdout, "Test passed (%s, %d records)\n", report.Mode, report.Records)
	return nil
}
