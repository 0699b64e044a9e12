// Package extsort sorts files of fixed-width records that do not fit in
// memory, using a bounded memory budget and a fixed number of worker
// goroutines.
//
// A record file is a raw sequence of 4-byte unsigned integers in native byte
// order. Sorting happens in two phases: the input is cut into chunks that
// fit the memory budget, each chunk is sorted on a worker and written as a
// numbered run file; the runs are then combined by k-way tournament merges
// until a single sorted output remains.
//
// # Basic Usage
//
// Sorting with a bounded merge fan-in:
//
//	stats, err := extsort.Sort("input", "output", 1<<30, runtime.NumCPU(), 16,
//	    extsort.WithRunDir("/scratch"),
//	    extsort.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%d runs, %d merges\n", stats.Runs, stats.Merges)
//
// Letting the library pick the merge policy from a pass hint:
//
//	stats, err := extsort.SortPasses("input", "output", 1<<30, runtime.NumCPU(), 0)
//
// Checking a result:
//
//	report, err := extsort.Verify("input", "output")
//
// # Package Structure
//
//   - Public API: sort.go (Sort, SortPasses), merge.go (MergeRuns)
//   - Configuration: options.go (Option, With* functions), stats.go (Stats)
//   - Run production: runs.go (chunking, run ids)
//   - Merging: merge.go (k-way merge), heap.go (tournament heap), schedule.go (policies)
//   - Collaborators: generate.go (test data), verify.go (reference sort, verification)
//   - Record streams: internal/recfile/ (plain and double-buffered I/O)
//   - Workers: internal/pool/ (acquire/dispatch/drain pool)
//   - Platform: madvise_*.go, internal/recfile/advise_*.go, internal/recfile/fallocate_*.go
package extsort
