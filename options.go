package extsort

import (
	"github.com/tamirms/extsort/internal/recfile"
	"go.uber.org/zap"
)

const (
	// defaultParallelFactor is the automatic parallel-merge threshold: with
	// pass count 0, partitions are merged in parallel once the run count
	// exceeds this multiple of the thread count.
	defaultParallelFactor = 2

	// defaultReferenceLimit caps the in-memory reference used by
	// ReferenceSort and Verify.
	defaultReferenceLimit = 1 << 30

	// defaultSeed is an arbitrary seed for GenerateRandom; overridden via WithSeed.
	defaultSeed = 0x9e3779b9
)

// Option is a functional option for sorting, merging, generating and
// verifying record files.
type Option func(*config)

type config struct {
	runDir         string
	logger         *zap.Logger
	bufferRecords  int
	parallelFactor int
	referenceLimit int64
	seed           uint32
}

func defaultConfig() *config {
	return &config{
		logger:         zap.NewNop(),
		bufferRecords:  recfile.DefaultCapacity,
		parallelFactor: defaultParallelFactor,
		referenceLimit: defaultReferenceLimit,
		seed:           defaultSeed,
	}
}

func newConfig(opts []Option) *config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithRunDir sets the directory for numbered run files.
// The default is the directory of the output file, which keeps the final
// rename of a single run on one filesystem. Files in dir whose names are
// run numbers may be overwritten.
func WithRunDir(dir string) Option {
	return func(c *config) {
		c.runDir = dir
	}
}

// WithLogger sets the structured logger. The default discards all output.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		if logger == nil {
			logger = zap.NewNop()
		}
		c.logger = logger
	}
}

// WithBufferRecords sets the capacity, in records, of each half of the
// double buffers used by run readers and merge writers.
func WithBufferRecords(n int) Option {
	return func(c *config) {
		c.bufferRecords = n
	}
}

// WithParallelFactor sets the automatic parallel-merge threshold used by
// SortPasses with pass count 0: partitions are merged in parallel when
// runs > factor × threads. The factor must be positive.
func WithParallelFactor(factor int) Option {
	return func(c *config) {
		c.parallelFactor = factor
	}
}

// WithReferenceLimit sets the largest input, in bytes, that ReferenceSort
// and Verify load into memory. Verify falls back to a streaming check above it.
func WithReferenceLimit(bytes int64) Option {
	return func(c *config) {
		c.referenceLimit = bytes
	}
}

// WithSeed sets the seed of GenerateRandom.
func WithSeed(seed uint32) Option {
	return func(c *config) {
		c.seed = seed
	}
}
