package extsort

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/cespare/xxhash/v2"
	streamerrors "github.com/tamirms/extsort/errors"
	"github.com/tamirms/extsort/internal/recfile"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// writeRuns writes each of runs, sorted, as run files 0..len(runs)-1 in dir
// and returns their ids and the sorted concatenation.
func writeRuns(t *testing.T, dir string, runs [][]Record) ([]RunID, []Record) {
	t.Helper()
	var ids []RunID
	var all []Record
	for i, run := range runs {
		run = sortedCopy(run)
		writeRecordFile(t, runPath(dir, i), run)
		ids = append(ids, i)
		all = append(all, run...)
	}
	return ids, sortedCopy(all)
}

func TestMergeRuns(t *testing.T) {
	rng := newTestRNG(t)
	for _, tc := range []struct {
		name   string
		runs   int
		length int
		buffer int
	}{
		{"two", 2, 100, recfile.DefaultCapacity},
		{"many", 37, 50, 5},
		{"tinyBuffers", 8, 300, 1},
		{"duplicates", 10, 200, 16},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			runs := make([][]Record, tc.runs)
			for i := range runs {
				runs[i] = make([]Record, rng.IntN(tc.length)+1)
				for j := range runs[i] {
					if tc.name == "duplicates" {
						runs[i][j] = rng.Uint32N(8)
					} else {
						runs[i][j] = rng.Uint32()
					}
				}
			}
			ids, want := writeRuns(t, dir, runs)
			output := filepath.Join(dir, "output")

			stats, err := MergeRuns(output, ids, WithBufferRecords(tc.buffer))
			if err != nil {
				t.Fatalf("MergeRuns: %v", err)
			}
			if got := readRecordFile(t, output); !slices.Equal(got, want) {
				t.Fatal("output is not the merged runs")
			}
			if stats.Merges != 1 || stats.MaxFanIn != tc.runs {
				t.Errorf("Merges = %d, MaxFanIn = %d, want 1 and %d", stats.Merges, stats.MaxFanIn, tc.runs)
			}
			if stats.OutputRecords != int64(len(want)) {
				t.Errorf("OutputRecords = %d, want %d", stats.OutputRecords, len(want))
			}
			if got := dirEntries(t, dir); !slices.Equal(got, []string{"output"}) {
				t.Errorf("directory = %v, want [output]", got)
			}
		})
	}
}

func TestMergeRunsSingleRunCopies(t *testing.T) {
	dir := t.TempDir()
	recs := sortedCopy(randomRecords(t, 10_000, 1<<31))
	writeRecordFile(t, runPath(dir, 0), recs)
	want := encodeRecords(recs)

	output := filepath.Join(dir, "output")
	stats, err := MergeRuns(output, []RunID{0}, WithBufferRecords(333))
	if err != nil {
		t.Fatalf("MergeRuns: %v", err)
	}
	got, err := os.ReadFile(output)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("single-run merge is not a byte-identical copy")
	}
	if sum := xxhash.Sum64(want); stats.OutputChecksum != sum {
		t.Errorf("OutputChecksum = %#x, want %#x", stats.OutputChecksum, sum)
	}
}

func TestMergeRunsDegenerate(t *testing.T) {
	dir := t.TempDir()
	writeRecordFile(t, runPath(dir, 0), nil)
	writeRecordFile(t, runPath(dir, 1), []Record{1, 4, 4, 9})
	// run 2 does not exist
	writeRecordFile(t, runPath(dir, 3), []Record{0, 4, 10})

	output := filepath.Join(dir, "output")
	stats, err := MergeRuns(output, []RunID{0, 1, 2, 3})
	if err != nil {
		t.Fatalf("MergeRuns: %v", err)
	}
	want := []Record{0, 1, 4, 4, 4, 9, 10}
	if got := readRecordFile(t, output); !slices.Equal(got, want) {
		t.Fatalf("output = %v, want %v", got, want)
	}
	if stats.DegenerateRuns != 2 {
		t.Errorf("DegenerateRuns = %d, want 2", stats.DegenerateRuns)
	}
	if got := dirEntries(t, dir); !slices.Equal(got, []string{"output"}) {
		t.Errorf("directory = %v, want [output]", got)
	}
}

func TestMergeRunsAllEmpty(t *testing.T) {
	dir := t.TempDir()
	writeRecordFile(t, runPath(dir, 0), nil)
	writeRecordFile(t, runPath(dir, 1), nil)

	output := filepath.Join(dir, "output")
	stats, err := MergeRuns(output, []RunID{0, 1})
	if err != nil {
		t.Fatalf("MergeRuns: %v", err)
	}
	if got := readRecordFile(t, output); len(got) != 0 {
		t.Fatalf("output = %v, want empty", got)
	}
	if stats.DegenerateRuns != 2 {
		t.Errorf("DegenerateRuns = %d, want 2", stats.DegenerateRuns)
	}
}

func TestMergeRunsRunDir(t *testing.T) {
	dir := t.TempDir()
	runDir := filepath.Join(dir, "runs")
	if err := os.Mkdir(runDir, 0o755); err != nil {
		t.Fatal(err)
	}
	ids, want := writeRuns(t, runDir, [][]Record{{3, 1, 2}, {6, 5, 4}})

	output := filepath.Join(dir, "output")
	if _, err := MergeRuns(output, ids, WithRunDir(runDir)); err != nil {
		t.Fatalf("MergeRuns: %v", err)
	}
	if got := readRecordFile(t, output); !slices.Equal(got, want) {
		t.Fatalf("output = %v, want %v", got, want)
	}
	if got := dirEntries(t, runDir); len(got) != 0 {
		t.Errorf("run directory = %v, want empty", got)
	}
}

func TestMergeRunsErrors(t *testing.T) {
	dir := t.TempDir()
	ids, _ := writeRuns(t, dir, [][]Record{{1}, {2}})

	if _, err := MergeRuns(filepath.Join(dir, "output"), nil); !errors.Is(err, streamerrors.ErrNoRuns) {
		t.Errorf("no runs: err = %v, want ErrNoRuns", err)
	}
	if _, err := MergeRuns(runPath(dir, 1), ids); !errors.Is(err, streamerrors.ErrOutputIsRun) {
		t.Errorf("output is run: err = %v, want ErrOutputIsRun", err)
	}
	if _, err := MergeRuns(filepath.Join(dir, "output"), ids, WithBufferRecords(-1)); !errors.Is(err, streamerrors.ErrInvalidBuffer) {
		t.Errorf("bad buffer: err = %v, want ErrInvalidBuffer", err)
	}
	// Rejected calls leave the runs in place.
	if got := dirEntries(t, dir); !slices.Equal(got, []string{"0", "1"}) {
		t.Errorf("directory = %v, want [0 1]", got)
	}
}

func TestMergeRunsOutputUncreatable(t *testing.T) {
	dir := t.TempDir()
	ids, _ := writeRuns(t, dir, [][]Record{{1, 3}, {2}})

	_, err := MergeRuns(filepath.Join(dir, "missing", "output"), ids, WithRunDir(dir))
	if err == nil {
		t.Fatal("MergeRuns succeeded with an uncreatable output")
	}
	if got := dirEntries(t, dir); !slices.Equal(got, []string{"0", "1"}) {
		t.Errorf("directory = %v, want runs kept after failure", got)
	}
}

func TestFinishMergeBufferGrowth(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := &sorter{log: zap.New(core)}

	res := mergeResult{fanIn: 3, records: 5, resizes: 2, maxCap: 64}
	if err := s.finishMerge("out", []RunID{0, 1, 2}, res, nil); err != nil {
		t.Fatalf("finishMerge: %v", err)
	}
	if s.stats.WriterResizes != 2 || s.stats.MaxWriterCapacity != 64 {
		t.Errorf("WriterResizes = %d, MaxWriterCapacity = %d, want 2 and 64",
			s.stats.WriterResizes, s.stats.MaxWriterCapacity)
	}
	if s.stats.OutputRecords != 5 {
		t.Errorf("OutputRecords = %d, want 5", s.stats.OutputRecords)
	}
	warns := logs.FilterLevelExact(zapcore.WarnLevel).FilterMessageSnippet("buffer grew")
	if warns.Len() != 1 {
		t.Fatalf("got %d growth warnings, want 1", warns.Len())
	}
	if got := warns.All()[0].ContextMap()["capacity"]; got != int64(64) {
		t.Errorf("capacity field = %v, want 64", got)
	}

	// A clean merge does not warn, and a failed one keeps the earlier output
	// stats.
	logs.TakeAll()
	if err := s.finishMerge("out", []RunID{3}, mergeResult{records: 9}, nil); err != nil {
		t.Fatalf("finishMerge: %v", err)
	}
	boom := errors.New("boom")
	if err := s.finishMerge("out", []RunID{4}, mergeResult{records: 1}, boom); !errors.Is(err, boom) {
		t.Fatalf("finishMerge err = %v, want boom", err)
	}
	if s.stats.OutputRecords != 9 || s.stats.Merges != 3 {
		t.Errorf("OutputRecords = %d, Merges = %d, want 9 and 3", s.stats.OutputRecords, s.stats.Merges)
	}
	if n := logs.FilterLevelExact(zapcore.WarnLevel).Len(); n != 0 {
		t.Errorf("got %d warnings, want 0", n)
	}
}
