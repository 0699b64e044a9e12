package extsort

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	streamerrors "github.com/tamirms/extsort/errors"
	"github.com/tamirms/extsort/internal/recfile"
	"go.uber.org/zap"
)

// Record is the fixed-width unit of data sorted by this package.
type Record = recfile.Record

// RecordSize is the on-disk width of a Record in bytes.
const RecordSize = recfile.Size

// sorter holds the state of one sort call. All run ids are allocated by the
// calling goroutine; mu guards stats while partition merges run in parallel.
type sorter struct {
	cfg          *config
	log          *zap.Logger
	memoryBudget int64
	threads      int
	ids          *runSeq

	mu    sync.Mutex
	stats Stats
}

func newSorter(input, output string, memoryBudget int64, threads int, opts []Option) (*sorter, error) {
	if threads <= 0 {
		return nil, streamerrors.ErrInvalidThreads
	}
	if memoryBudget/int64(threads) < recfile.Size {
		return nil, fmt.Errorf("%w: %d bytes for %d threads", streamerrors.ErrMemoryBudget, memoryBudget, threads)
	}
	cfg := newConfig(opts)
	if cfg.bufferRecords <= 0 {
		return nil, streamerrors.ErrInvalidBuffer
	}
	if cfg.parallelFactor <= 0 {
		return nil, fmt.Errorf("%w: %d", streamerrors.ErrInvalidParallelFactor, cfg.parallelFactor)
	}
	if cfg.runDir == "" {
		cfg.runDir = filepath.Dir(output)
	}
	return &sorter{
		cfg:          cfg,
		log:          cfg.logger,
		memoryBudget: memoryBudget,
		threads:      threads,
		ids:          newRunSeq(cfg.runDir, input, output),
	}, nil
}

// Sort sorts the records of input into output using at most memoryBudget
// bytes of chunk memory and threads workers. Runs are merged with fan-in at
// most slots per merge; slots 0 merges all runs in one pass.
//
// On success output holds every whole record of input in non-decreasing
// order and no run files remain. On failure numbered run files may be left
// in the run directory.
func Sort(input, output string, memoryBudget int64, threads, slots int, opts ...Option) (*Stats, error) {
	if slots < 0 || slots == 1 {
		return nil, fmt.Errorf("%w: %d", streamerrors.ErrInvalidSlots, slots)
	}
	s, err := newSorter(input, output, memoryBudget, threads, opts)
	if err != nil {
		return nil, err
	}
	return s.run(input, output, func(ids []RunID) mergePolicy {
		return mergePolicy{slots: slots}
	})
}

// SortPasses is Sort with the fan-in derived from a desired number of merge
// passes. passes 1, or at least the run count, merges everything at once; a
// smaller positive value bounds fan-in to ceil(runs/passes)+1; 0 picks
// automatically and merges partitions in parallel when there are enough runs
// (see WithParallelFactor).
func SortPasses(input, output string, memoryBudget int64, threads, passes int, opts ...Option) (*Stats, error) {
	if passes < 0 {
		return nil, fmt.Errorf("%w: %d", streamerrors.ErrInvalidPasses, passes)
	}
	s, err := newSorter(input, output, memoryBudget, threads, opts)
	if err != nil {
		return nil, err
	}
	return s.run(input, output, func(ids []RunID) mergePolicy {
		return planMerge(len(ids), s.threads, passes, s.cfg.parallelFactor)
	})
}

// run produces runs from input and recombines them into output with the
// policy chosen once the run count is known.
func (s *sorter) run(input, output string, plan func([]RunID) mergePolicy) (*Stats, error) {
	ids, err := s.produceRuns(input)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if err := s.finish(output, ids, plan(ids)); err != nil {
		return nil, err
	}
	s.stats.MergePhase = time.Since(start)
	s.log.Info("external sort finished",
		zap.String("output", output),
		zap.Int("runs", s.stats.Runs),
		zap.Int("intermediateRuns", s.stats.IntermediateRuns),
		zap.Int("merges", s.stats.Merges),
		zap.Duration("runPhase", s.stats.RunPhase),
		zap.Duration("mergePhase", s.stats.MergePhase))
	return &s.stats, nil
}

// finish turns the leaf runs into output. No runs yields an empty output and
// a single run is renamed into place.
func (s *sorter) finish(output string, ids []RunID, policy mergePolicy) error {
	switch len(ids) {
	case 0:
		f, err := recfile.Create(output)
		if err != nil {
			return err
		}
		return f.Close()
	case 1:
		src := s.ids.path(ids[0])
		err := os.Rename(src, output)
		if err == nil {
			s.stats.OutputRecords = s.stats.InputRecords
			return nil
		}
		// Rename fails across filesystems; copy through the merger instead.
		s.log.Debug("rename single run failed, copying", zap.String("run", src), zap.Error(err))
		return s.merge(output, ids)
	}

	if policy.parallel {
		return s.mergeParallel(output, ids)
	}
	return s.mergeBounded(output, ids, policy.slots)
}

// RemoveRuns deletes the run files ids from dir, ignoring ones that do not
// exist. Use it to clean up after a failed sort.
func RemoveRuns(dir string, ids []RunID) error {
	var errs []error
	for _, id := range ids {
		if err := os.Remove(runPath(dir, id)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
