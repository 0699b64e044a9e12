// Package errors defines all exported error sentinels for the extsort library.
//
// This is the single source of truth for error values. Both the top-level
// extsort package and the internal stream and pool packages import from here,
// ensuring errors.Is checks work across package boundaries.
package errors

import "errors"

// Configuration errors
var (
	ErrInvalidThreads = errors.New("extsort: thread count must be positive")
	ErrInvalidSlots   = errors.New("extsort: slot limit must be 0 (unlimited) or at least 2")
	ErrInvalidPasses  = errors.New("extsort: pass count must not be negative")
	ErrMemoryBudget   = errors.New("extsort: memory budget is smaller than one record per thread")
	ErrInvalidBuffer  = errors.New("extsort: stream buffer capacity must be positive")

	ErrInvalidParallelFactor = errors.New("extsort: parallel merge factor must be positive")
)

// I/O errors
var (
	ErrShortWrite   = errors.New("extsort: short write")
	ErrStreamClosed = errors.New("extsort: stream is closed")
)

// Merge errors
var (
	ErrNoRuns         = errors.New("extsort: no runs to merge")
	ErrOutputIsRun    = errors.New("extsort: merge output would overwrite one of its input runs")
	ErrMergeInvariant = errors.New("extsort: merge heap exhausted before all runs finished")
)

// Pool errors
var (
	ErrPoolDrained = errors.New("extsort: worker pool is drained")
)

// Verification errors
var (
	ErrReferenceTooLarge = errors.New("extsort: input exceeds in-memory reference limit")
	ErrLengthMismatch    = errors.New("extsort: result length differs from input")
	ErrNotSorted         = errors.New("extsort: result is not sorted")
	ErrContentMismatch   = errors.New("extsort: result records differ from input")
)
