package extsort

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	streamerrors "github.com/tamirms/extsort/errors"
	"github.com/tamirms/extsort/internal/recfile"
	"go.uber.org/zap"
)

// MergeRuns merges the sorted run files ids, found in the run directory,
// into output and deletes them on success. Duplicate keys keep the order of
// ids. On failure the run files are left in place.
func MergeRuns(output string, ids []RunID, opts ...Option) (*Stats, error) {
	if len(ids) == 0 {
		return nil, streamerrors.ErrNoRuns
	}
	cfg := newConfig(opts)
	if cfg.bufferRecords <= 0 {
		return nil, streamerrors.ErrInvalidBuffer
	}
	if cfg.runDir == "" {
		cfg.runDir = filepath.Dir(output)
	}
	out := absPath(output)
	for _, id := range ids {
		if absPath(runPath(cfg.runDir, id)) == out {
			return nil, fmt.Errorf("%w: output %s is run %d", streamerrors.ErrOutputIsRun, output, id)
		}
	}

	s := &sorter{cfg: cfg, log: cfg.logger}
	if err := s.merge(output, ids); err != nil {
		return nil, err
	}
	return &s.stats, nil
}

// merge runs one k-way merge and folds its result into the sort stats.
// Safe for concurrent use by parallel partition merges.
func (s *sorter) merge(output string, ids []RunID) error {
	res, err := s.mergeFiles(output, ids)
	return s.finishMerge(output, ids, res, err)
}

// finishMerge records the outcome of one merge in the stats and logs it.
func (s *sorter) finishMerge(output string, ids []RunID, res mergeResult, err error) error {
	s.mu.Lock()
	s.stats.addMerge(res)
	if err == nil {
		s.stats.OutputRecords = res.records
		s.stats.OutputChecksum = res.checksum
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.log.Debug("merged runs",
		zap.String("output", output),
		zap.Ints("runs", ids),
		zap.Int64("records", res.records),
		zap.Duration("readWaits", res.readWaits),
		zap.Duration("writeWaits", res.writeWaits))
	if res.resizes > 0 {
		s.log.Warn("merge output buffer grew; flush could not keep up",
			zap.String("output", output),
			zap.Int("capacity", res.maxCap))
	}
	return nil
}

// mergeFiles is a tournament merge of the runs ids into output.
//
// Each run gets a double-buffered reader and a heap entry holding its
// current record. A run that cannot be opened or has no records starts out
// exhausted. The loop moves the heap minimum to the output, refills it from
// the same run and sifts it down until every run is exhausted.
func (s *sorter) mergeFiles(output string, ids []RunID) (mergeResult, error) {
	res := mergeResult{fanIn: len(ids)}
	paths := make([]string, len(ids))
	readers := make([]*recfile.Reader, len(ids))
	h := newMergeHeap(len(ids))

	closeReaders := func() error {
		var errs []error
		for _, r := range readers {
			if r == nil {
				continue
			}
			res.readWaits += r.Waits()
			if err := r.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	finished := 0
	var totalBytes int64
	for i, id := range ids {
		paths[i] = runPath(s.cfg.runDir, id)
		r, err := recfile.NewReader(paths[i], s.cfg.bufferRecords)
		if err == nil {
			readers[i] = r
			if size, serr := r.Size(); serr == nil {
				totalBytes += size - size%recfile.Size
			}
			if x, ok := r.Next(); ok {
				h.set(i, x, i)
				continue
			}
			err = r.Err()
		}
		s.log.Warn("run has no records, treating as exhausted",
			zap.String("run", paths[i]), zap.Error(err))
		h.set(i, recfile.MaxRecord, exhausted)
		finished++
		res.degenerate++
	}
	h.init()

	w, err := recfile.NewWriter(output, s.cfg.bufferRecords)
	if err != nil {
		return res, errors.Join(err, closeReaders())
	}
	if err := w.Preallocate(totalBytes); err != nil {
		s.log.Debug("preallocate merge output", zap.String("output", output), zap.Error(err))
	}

	abort := func(err error) (mergeResult, error) {
		return res, errors.Join(fmt.Errorf("merge into %s: %w", output, err), w.Close(), closeReaders())
	}

	for finished < len(ids) {
		key, src := h.top()
		if src >= len(readers) {
			return abort(fmt.Errorf("%w: %d of %d runs finished", streamerrors.ErrMergeInvariant, finished, len(ids)))
		}
		if err := w.Append(key); err != nil {
			return abort(err)
		}
		if next, ok := readers[src].Next(); ok {
			h.replaceTop(next, src)
			continue
		}
		if err := readers[src].Err(); err != nil {
			return abort(fmt.Errorf("read run %s: %w", paths[src], err))
		}
		h.replaceTop(recfile.MaxRecord, exhausted)
		finished++
	}

	if err := errors.Join(w.Close(), closeReaders()); err != nil {
		return res, fmt.Errorf("merge into %s: %w", output, err)
	}
	res.records = w.Written()
	res.checksum = w.Sum64()
	res.resizes = w.Resizes()
	res.maxCap = w.MaxCapacity()
	res.writeWaits = w.Waits()

	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove run: %w", err))
		}
	}
	return res, errors.Join(errs...)
}
