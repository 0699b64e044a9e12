package extsort

import "time"

// Stats describes one sort or merge call.
type Stats struct {
	InputRecords int64 // whole records in the input
	ChunkRecords int64 // records per in-memory chunk
	Runs         int   // leaf runs produced from the input

	IntermediateRuns int  // runs produced by non-final merges
	Merges           int  // merge invocations, including the final one
	MaxFanIn         int  // largest number of runs consumed by one merge
	Slots            int  // fan-in limit of bounded merging, 0 if unlimited
	ParallelMerge    bool // partitions were merged concurrently
	DegenerateRuns   int  // empty or unreadable runs folded in as exhausted

	WriterResizes     int // times a merge output buffer grew
	MaxWriterCapacity int // largest merge output buffer capacity after growth

	ReadWaits  time.Duration // merge time blocked on run loads
	WriteWaits time.Duration // merge time spent handing off output buffers
	PoolWaits  time.Duration // run production time blocked on busy workers

	OutputRecords  int64
	OutputChecksum uint64 // xxHash64 of the output; 0 if it was renamed from a single run

	RunPhase   time.Duration
	MergePhase time.Duration
}

// mergeResult is what one k-way merge reports back to the scheduler.
type mergeResult struct {
	fanIn      int
	degenerate int
	records    int64
	checksum   uint64
	resizes    int
	maxCap     int
	readWaits  time.Duration
	writeWaits time.Duration
}

func (st *Stats) addMerge(res mergeResult) {
	st.Merges++
	st.MaxFanIn = max(st.MaxFanIn, res.fanIn)
	st.DegenerateRuns += res.degenerate
	st.WriterResizes += res.resizes
	st.MaxWriterCapacity = max(st.MaxWriterCapacity, res.maxCap)
	st.ReadWaits += res.readWaits
	st.WriteWaits += res.writeWaits
}
