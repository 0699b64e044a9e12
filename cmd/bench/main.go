// Bench is a benchmarking tool for measuring external sort throughput and
// memory usage.
//
// Usage:
//
//	go run ./cmd/bench --records 100000000 --memory 256MiB --threads 8
//
// Flags:
//
//	--records   Number of records to sort (default: 50,000,000)
//	--memory    Chunk memory budget (default: 64MiB)
//	--threads   Number of worker goroutines (default: NumCPU)
//	--slots     Maximum runs per merge, 0 for unlimited (default: 0)
//	--passes    Desired merge passes, -1 to use --slots (default: -1)
//	--sorted    Sort an already sorted input (default: false)
//	--dir       Directory for input, runs and output (default: a temp dir)
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/metrics"
	"runtime/pprof"
	"sync/atomic"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/pflag"
	"github.com/tamirms/extsort"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// getMaxRSS returns the maximum resident set size in bytes.
// Uses getrusage(RUSAGE_SELF) which tracks peak RSS since process start.
func getMaxRSS() uint64 {
	var rusage unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &rusage); err != nil {
		return 0
	}
	// On macOS, Maxrss is in bytes. On Linux, it's in kilobytes.
	maxRSS := uint64(rusage.Maxrss)
	if runtime.GOOS == "linux" {
		maxRSS *= 1024
	}
	return maxRSS
}

// peakSampler tracks peak heap and RSS at a fixed interval.
// Uses runtime/metrics instead of ReadMemStats to avoid stop-the-world pauses.
type peakSampler struct {
	heap atomic.Uint64
	rss  atomic.Uint64
	done chan struct{}
	wg   chan struct{}
}

func startSampler(interval time.Duration) *peakSampler {
	s := &peakSampler{done: make(chan struct{}), wg: make(chan struct{})}
	samples := []metrics.Sample{{Name: "/memory/classes/heap/objects:bytes"}}
	sample := func() {
		metrics.Read(samples)
		storeMax(&s.heap, samples[0].Value.Uint64())
		storeMax(&s.rss, getMaxRSS())
	}
	sample()
	go func() {
		defer close(s.wg)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				sample()
				return
			case <-ticker.C:
				sample()
			}
		}
	}()
	return s
}

func (s *peakSampler) stop() (heap, rss uint64) {
	close(s.done)
	<-s.wg
	return s.heap.Load(), s.rss.Load()
}

func storeMax(v *atomic.Uint64, x uint64) {
	for {
		old := v.Load()
		if x <= old || v.CompareAndSwap(old, x) {
			return
		}
	}
}

func main() {
	records := pflag.Int64("records", 50_000_000, "number of records")
	memoryFlag := pflag.String("memory", "64MiB", "chunk memory budget")
	threads := pflag.Int("threads", runtime.NumCPU(), "number of worker goroutines")
	slots := pflag.Int("slots", 0, "maximum runs per merge, 0 for unlimited")
	passes := pflag.Int("passes", -1, "desired merge passes, -1 to use --slots")
	sorted := pflag.Bool("sorted", false, "sort an already sorted input")
	dirFlag := pflag.String("dir", "", "directory for input, runs and output (default: temp dir)")
	verbose := pflag.Bool("verbose", false, "log sort phases")
	cpuprofile := pflag.String("cpuprofile", "", "write cpu profile to file (sort phase only)")
	memprofile := pflag.String("memprofile", "", "write memory profile to file (sort phase only)")
	pflag.Parse()

	memory, err := units.RAMInBytes(*memoryFlag)
	if err != nil {
		fmt.Printf("Invalid --memory %q: %v\n", *memoryFlag, err)
		return
	}

	dir := *dirFlag
	if dir == "" {
		tmp, err := os.MkdirTemp("", "bench-")
		if err != nil {
			fmt.Printf("Failed to create temp dir: %v\n", err)
			return
		}
		defer func() { _ = os.RemoveAll(tmp) }()
		dir = tmp
	}
	input := filepath.Join(dir, "input")
	output := filepath.Join(dir, "output")

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}
	opts := []extsort.Option{extsort.WithLogger(logger)}

	fmt.Println("Generating records...")
	genStart := time.Now()
	if *sorted {
		err = extsort.GenerateSequential(input, *records, opts...)
	} else {
		err = extsort.GenerateRandom(input, *records, opts...)
	}
	if err != nil {
		fmt.Printf("Generate failed: %v\n", err)
		return
	}
	genDuration := time.Since(genStart)

	runtime.GC()
	time.Sleep(50 * time.Millisecond)
	baselineHeap, baselineRSS := startSampler(time.Hour).stop()
	sampler := startSampler(10 * time.Millisecond)

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Printf("could not create CPU profile: %v\n", err)
			return
		}
		defer func() { _ = f.Close() }()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Printf("could not start CPU profile: %v\n", err)
			return
		}
	}

	fmt.Println("Sorting...")
	sortStart := time.Now()
	var stats *extsort.Stats
	if *passes >= 0 {
		stats, err = extsort.SortPasses(input, output, memory, *threads, *passes, opts...)
	} else {
		stats, err = extsort.Sort(input, output, memory, *threads, *slots, opts...)
	}
	sortDuration := time.Since(sortStart)

	if *cpuprofile != "" {
		pprof.StopCPUProfile()
	}
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			fmt.Printf("could not create memory profile: %v\n", err)
		} else {
			runtime.GC()
			if err := pprof.WriteHeapProfile(f); err != nil {
				fmt.Printf("could not write memory profile: %v\n", err)
			}
			_ = f.Close()
		}
	}

	peakHeap, peakRSS := sampler.stop()
	if err != nil {
		fmt.Printf("Sort failed: %v\n", err)
		return
	}

	fmt.Println("Checking order...")
	ok, err := extsort.IsSorted(output)
	if err != nil {
		fmt.Printf("Check failed: %v\n", err)
		return
	}

	bytes := float64(stats.InputRecords * extsort.RecordSize)
	fmt.Printf("\n")
	fmt.Printf("╔═════════════════════╦══════════════════╗\n")
	fmt.Printf("║ Metric              ║ Value            ║\n")
	fmt.Printf("╠═════════════════════╬══════════════════╣\n")
	fmt.Printf("║ Records             ║ %16d ║\n", stats.InputRecords)
	fmt.Printf("║ Memory budget       ║ %16s ║\n", units.BytesSize(float64(memory)))
	fmt.Printf("║ Threads             ║ %16d ║\n", *threads)
	fmt.Printf("║ Runs                ║ %16d ║\n", stats.Runs)
	fmt.Printf("║ Merges              ║ %16d ║\n", stats.Merges)
	fmt.Printf("║ Max fan-in          ║ %16d ║\n", stats.MaxFanIn)
	fmt.Printf("║ Parallel merge      ║ %16v ║\n", stats.ParallelMerge)
	fmt.Printf("║ Generate time       ║ %12.2f sec ║\n", genDuration.Seconds())
	fmt.Printf("║ Run phase           ║ %12.2f sec ║\n", stats.RunPhase.Seconds())
	fmt.Printf("║ Merge phase         ║ %12.2f sec ║\n", stats.MergePhase.Seconds())
	fmt.Printf("║ Sort time           ║ %12.2f sec ║\n", sortDuration.Seconds())
	fmt.Printf("║ Sort throughput     ║ %10.2f MB/sec ║\n", bytes/sortDuration.Seconds()/1_000_000)
	fmt.Printf("║ Read waits          ║ %12.2f sec ║\n", stats.ReadWaits.Seconds())
	fmt.Printf("║ Write waits         ║ %12.2f sec ║\n", stats.WriteWaits.Seconds())
	fmt.Printf("║ Pool waits          ║ %12.2f sec ║\n", stats.PoolWaits.Seconds())
	fmt.Printf("║ Writer resizes      ║ %16d ║\n", stats.WriterResizes)
	fmt.Printf("║ Peak heap memory    ║ %13.1f MB ║\n", float64(peakHeap-min(peakHeap, baselineHeap))/1_000_000)
	fmt.Printf("║ Peak RSS memory     ║ %13.1f MB ║\n", float64(peakRSS-min(peakRSS, baselineRSS))/1_000_000)
	fmt.Printf("║ Output sorted       ║ %16v ║\n", ok)
	fmt.Printf("╚═════════════════════╩══════════════════╝\n")
}
