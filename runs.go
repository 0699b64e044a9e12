package extsort

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/tamirms/extsort/internal/pool"
	"github.com/tamirms/extsort/internal/recfile"
	"go.uber.org/zap"
)

// RunID identifies a sorted run file. The file name is the decimal id
// inside the run directory.
type RunID = int

// runSeq allocates run ids for one sort call. Ids increase monotonically and
// are never reused; ids whose path collides with the caller's input or
// output are skipped. Only the scheduling goroutine allocates.
type runSeq struct {
	dir      string
	next     RunID
	reserved map[string]bool
}

func newRunSeq(dir string, reserved ...string) *runSeq {
	s := &runSeq{dir: dir, reserved: make(map[string]bool, len(reserved))}
	for _, p := range reserved {
		s.reserved[absPath(p)] = true
	}
	return s
}

func (s *runSeq) alloc() RunID {
	for s.reserved[absPath(s.path(s.next))] {
		s.next++
	}
	id := s.next
	s.next++
	return id
}

func (s *runSeq) path(id RunID) string {
	return runPath(s.dir, id)
}

func runPath(dir string, id RunID) string {
	return filepath.Join(dir, strconv.Itoa(id))
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

// chunk is the task data of one run-production worker. buf keeps its
// capacity across tasks so each worker allocates its chunk memory once.
type chunk struct {
	path string
	buf  []recfile.Record
}

// sortChunk sorts a chunk in place and persists it as a run file.
func sortChunk(c *chunk) error {
	slices.Sort(c.buf)
	f, err := recfile.Create(c.path)
	if err != nil {
		return err
	}
	if err := f.Write(c.buf); err != nil {
		return errors.Join(err, f.Close())
	}
	return f.Close()
}

// chunkCapacity returns the records per chunk such that threads chunks fit
// in memoryBudget bytes: the input is cut into
// ceil(size / (memoryBudget/threads)) pieces of equal record count.
func chunkCapacity(sizeBytes, memoryBudget int64, threads int) int64 {
	perThread := memoryBudget / int64(threads)
	pieces := (sizeBytes + perThread - 1) / perThread
	return (sizeBytes/recfile.Size)/pieces + 1
}

// produceRuns splits input into memory-sized chunks, sorts them on the
// worker pool and writes each as a numbered run. It returns the run ids in
// input order; an empty input yields none.
func (s *sorter) produceRuns(input string) ([]RunID, error) {
	start := time.Now()
	defer func() { s.stats.RunPhase = time.Since(start) }()

	f, err := recfile.Open(input)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	size, err := f.Size()
	if err != nil {
		return nil, err
	}
	total := size / recfile.Size
	s.stats.InputRecords = total
	if total == 0 {
		s.log.Info("input is empty, no runs produced", zap.String("input", input), zap.Int64("bytes", size))
		return nil, nil
	}

	capacity := chunkCapacity(size, s.memoryBudget, s.threads)
	s.stats.ChunkRecords = capacity
	s.log.Info("partial sort plan",
		zap.String("input", input),
		zap.Int64("bytes", size),
		zap.Int64("memory", s.memoryBudget),
		zap.Int("threads", s.threads),
		zap.Int64("chunkRecords", capacity),
		zap.Int64("pieces", (total+capacity-1)/capacity))

	p := pool.New(s.threads, sortChunk)
	var ids []RunID
	var readErr error
	for remaining := total; remaining > 0; {
		slot, err := p.Acquire()
		if err != nil {
			break // reported by Drain
		}
		c := slot.Data()
		if int64(cap(c.buf)) < capacity {
			c.buf = make([]recfile.Record, capacity)
		}
		c.buf = c.buf[:capacity]

		n, err := f.Read(c.buf)
		if err != nil || n == 0 {
			p.Release(slot)
			readErr = err
			break
		}
		c.buf = c.buf[:n]
		id := s.ids.alloc()
		c.path = s.ids.path(id)
		p.Dispatch(slot)

		ids = append(ids, id)
		remaining -= int64(n)
		if int64(n) < capacity {
			break // short read: final chunk
		}
	}

	drainErr := p.Drain()
	s.stats.PoolWaits = p.Waits()
	s.stats.Runs = len(ids)
	if err := errors.Join(readErr, drainErr); err != nil {
		return nil, fmt.Errorf("produce runs: %w", err)
	}

	s.log.Info("partial sort finished",
		zap.Int("runs", len(ids)),
		zap.Duration("elapsed", time.Since(start)),
		zap.Duration("poolWaits", p.Waits()))
	return ids, nil
}
