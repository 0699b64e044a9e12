package extsort

import (
	"encoding/binary"
	"fmt"

	"github.com/spaolacci/murmur3"
	"github.com/tamirms/extsort/internal/recfile"
	"go.uber.org/zap"
)

// GenerateSequential writes the records 0, 1, ..., n-1 to path.
func GenerateSequential(path string, n int64, opts ...Option) error {
	return generate(path, n, newConfig(opts), func(i int64) Record {
		return Record(i)
	})
}

// GenerateRandom writes n pseudo-random records to path. Record i is the
// 32-bit murmur3 hash of i under the configured seed, so output is
// reproducible for a given seed (see WithSeed).
func GenerateRandom(path string, n int64, opts ...Option) error {
	cfg := newConfig(opts)
	var key [8]byte
	return generate(path, n, cfg, func(i int64) Record {
		binary.LittleEndian.PutUint64(key[:], uint64(i))
		return murmur3.Sum32WithSeed(key[:], cfg.seed)
	})
}

func generate(path string, n int64, cfg *config, next func(int64) Record) error {
	if n < 0 {
		return fmt.Errorf("generate %s: negative record count %d", path, n)
	}
	w, err := recfile.NewWriter(path, cfg.bufferRecords)
	if err != nil {
		return err
	}
	if err := w.Preallocate(n * recfile.Size); err != nil {
		cfg.logger.Debug("preallocate generated file", zap.String("path", path), zap.Error(err))
	}
	for i := range n {
		if err := w.Append(next(i)); err != nil {
			_ = w.Close()
			return fmt.Errorf("generate %s: %w", path, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("generate %s: %w", path, err)
	}
	if w.Resizes() > 0 {
		cfg.logger.Warn("generator buffer grew; flush could not keep up",
			zap.String("path", path),
			zap.Int("capacity", w.MaxCapacity()))
	}
	cfg.logger.Info("generated records",
		zap.String("path", path),
		zap.Int64("records", w.Written()),
		zap.Duration("writeWaits", w.Waits()))
	return nil
}
