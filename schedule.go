package extsort

import (
	"fmt"
	"slices"

	"github.com/tamirms/extsort/internal/pool"
	"go.uber.org/zap"
)

// mergePolicy is how the runs of one sort are recombined.
type mergePolicy struct {
	parallel bool
	slots    int // fan-in limit for bounded merging; 0 means unlimited
}

// planMerge maps a pass-count hint to a merge policy:
//   - 0: parallel partitions when threads > 1 and runs > factor×threads,
//     otherwise a single unlimited pass
//   - 1 or ≥ runs: a single unlimited pass
//   - otherwise: bounded fan-in of ceil(runs/passes)+1
func planMerge(runs, threads, passes, factor int) mergePolicy {
	switch {
	case passes == 0 && threads > 1 && runs > factor*threads:
		return mergePolicy{parallel: true}
	case passes <= 1 || passes >= runs:
		return mergePolicy{}
	default:
		return mergePolicy{slots: (runs+passes-1)/passes + 1}
	}
}

// mergeBounded merges with fan-in at most slots. The oldest slots runs are
// merged into a new run appended to the queue until at most slots remain;
// those are merged into output.
func (s *sorter) mergeBounded(output string, ids []RunID, slots int) error {
	if slots == 0 {
		slots = len(ids)
	}
	s.stats.Slots = slots
	s.log.Info("merge plan",
		zap.String("policy", "bounded"),
		zap.Int("runs", len(ids)),
		zap.Int("slots", slots))

	for slots < len(ids) {
		batch := slices.Clone(ids[:slots])
		next := s.ids.alloc()
		ids = append(ids[slots:], next)
		if err := s.merge(s.ids.path(next), batch); err != nil {
			return err
		}
		s.stats.IntermediateRuns++
	}
	return s.merge(output, ids)
}

// partitionRuns splits ids into at most threads contiguous groups of about
// len(ids)/threads runs, at least 2 each. The last group absorbs the
// remainder so no trailing group is left with fewer than 2 runs.
func partitionRuns(ids []RunID, threads int) [][]RunID {
	n := len(ids)
	per := max(2, int(float64(n)/float64(threads)+0.5))
	var groups [][]RunID
	for i := 0; i < n; {
		m := per
		if len(groups)+1 == threads || n-i < m+2 {
			m = n - i
		}
		groups = append(groups, ids[i:i+m])
		i += m
	}
	return groups
}

// groupMerge is the task data of one parallel partition merge.
type groupMerge struct {
	output RunID
	ids    []RunID
}

// mergeParallel merges contiguous groups of runs concurrently, one
// intermediate run per group, then merges the intermediates into output.
// Output ids are allocated before any worker starts, so groups share no
// mutable state besides the stats lock.
func (s *sorter) mergeParallel(output string, ids []RunID) error {
	groups := partitionRuns(ids, s.threads)
	outs := make([]RunID, len(groups))
	for i := range groups {
		outs[i] = s.ids.alloc()
	}
	s.stats.ParallelMerge = true
	s.log.Info("merge plan",
		zap.String("policy", "parallel"),
		zap.Int("runs", len(ids)),
		zap.Int("groups", len(groups)))

	p := pool.New(len(groups), func(g *groupMerge) error {
		return s.merge(s.ids.path(g.output), g.ids)
	})
	for i, g := range groups {
		slot, err := p.Acquire()
		if err != nil {
			break // reported by Drain
		}
		*slot.Data() = groupMerge{output: outs[i], ids: g}
		p.Dispatch(slot)
	}
	if err := p.Drain(); err != nil {
		return fmt.Errorf("parallel merge: %w", err)
	}
	s.stats.IntermediateRuns += len(groups)
	return s.merge(output, outs)
}
