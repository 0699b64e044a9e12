package main

import (
	"fmt"
	"runtime"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the sort configuration. It can be loaded from a TOML file;
// flags given explicitly on the command line take precedence.
type Config struct {
	Input  string `toml:"input"`
	Output string `toml:"output"`
	RunDir string `toml:"run-dir"`

	// Memory is the chunk memory budget: a size with a unit ("512MiB"), or a
	// bare record count.
	Memory  string `toml:"memory"`
	Threads int    `toml:"threads"`
	Slots   int    `toml:"slots"`
	// Passes selects the merge policy by pass count when non-negative,
	// overriding Slots. 0 picks automatically.
	Passes int `toml:"passes"`

	BufferRecords  int    `toml:"buffer-records"`
	ParallelFactor int    `toml:"parallel-factor"`
	ReferenceLimit string `toml:"reference-limit"`
	Seed           uint32 `toml:"seed"`

	Log LogConfig `toml:"log"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// One of "debug", "info", "warn", "error".
	Level string `toml:"level"`
	// "text" or "json".
	Format string `toml:"format"`
	// Log file path; empty writes to stderr.
	File string `toml:"file"`
}

func defaultConfig() *Config {
	return &Config{
		Input:          "input",
		Output:         "output",
		Memory:         "128MiB",
		Threads:        runtime.NumCPU(),
		Passes:         -1,
		BufferRecords:  256 * 1024,
		ParallelFactor: 2,
		ReferenceLimit: "1GiB",
		Seed:           0x9e3779b9,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load overlays the values present in a TOML file onto c.
func (c *Config) Load(file string) error {
	md, err := toml.DecodeFile(file, c)
	if err != nil {
		return fmt.Errorf("load config %s: %w", file, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config %s: unknown keys %v", file, undecoded)
	}
	return nil
}

// bindFlags registers the configuration flags on fs, writing into c.
func (c *Config) bindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Input, "input", c.Input, "Input record file")
	fs.StringVar(&c.Output, "output", c.Output, "Output record file")
	fs.StringVar(&c.RunDir, "run-dir", c.RunDir, "Directory for run files (default: directory of the output)")
	fs.StringVarP(&c.Memory, "memory", "m", c.Memory, "Chunk memory budget, e.g. '512MiB'; a bare number counts records")
	fs.IntVarP(&c.Threads, "threads", "t", c.Threads, "Number of worker goroutines")
	fs.IntVarP(&c.Slots, "slots", "s", c.Slots, "Maximum runs per merge, 0 for unlimited")
	fs.IntVarP(&c.Passes, "passes", "p", c.Passes, "Desired merge passes, 0 for automatic; overrides --slots when set")
	fs.IntVar(&c.BufferRecords, "buffer-records", c.BufferRecords, "Records per half of each double buffer")
	fs.IntVar(&c.ParallelFactor, "parallel-factor", c.ParallelFactor, "Merge partitions in parallel when runs > factor*threads (with --passes 0)")
	fs.StringVar(&c.ReferenceLimit, "reference-limit", c.ReferenceLimit, "Largest input sorted in memory by --ref and --test")
	fs.Uint32Var(&c.Seed, "seed", c.Seed, "Seed for --gen")
	fs.StringVar(&c.Log.Level, "loglevel", c.Log.Level, "Log level: {debug|info|warn|error}")
	fs.StringVar(&c.Log.Format, "logfmt", c.Log.Format, "Log `format`: {text|json}")
	fs.StringVarP(&c.Log.File, "logfile", "L", c.Log.File, "Log file `path`, leave empty to write to console")
}

// overrideFrom copies into c the values of flags explicitly set on fs,
// which were bound to from.
func (c *Config) overrideFrom(from *Config, fs *pflag.FlagSet) {
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "input":
			c.Input = from.Input
		case "output":
			c.Output = from.Output
		case "run-dir":
			c.RunDir = from.RunDir
		case "memory":
			c.Memory = from.Memory
		case "threads":
			c.Threads = from.Threads
		case "slots":
			c.Slots = from.Slots
		case "passes":
			c.Passes = from.Passes
		case "buffer-records":
			c.BufferRecords = from.BufferRecords
		case "parallel-factor":
			c.ParallelFactor = from.ParallelFactor
		case "reference-limit":
			c.ReferenceLimit = from.ReferenceLimit
		case "seed":
			c.Seed = from.Seed
		case "loglevel":
			c.Log.Level = from.Log.Level
		case "logfmt":
			c.Log.Format = from.Log.Format
		case "logfile":
			c.Log.File = from.Log.File
		}
	})
}

// parseMemory converts a memory budget to bytes. A bare integer is a record
// count; anything else is parsed as a binary size ("64MiB", "2g").
func parseMemory(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("memory budget %q must be positive", s)
		}
		return n * 4, nil
	}
	size, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("parse memory budget %q: %w", s, err)
	}
	if size <= 0 {
		return 0, fmt.Errorf("memory budget %q must be positive", s)
	}
	return size, nil
}

func newLogger(cfg LogConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = level
	zc.Sampling = nil
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	switch cfg.Format {
	case "text", "console":
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	case "json":
		zc.Encoding = "json"
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	if cfg.File != "" {
		zc.OutputPaths = []string{cfg.File}
	}
	return zc.Build()
}
