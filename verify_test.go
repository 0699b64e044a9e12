package extsort

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/spaolacci/murmur3"
	streamerrors "github.com/tamirms/extsort/errors"
)

func TestGenerateSequential(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seq")
	if err := GenerateSequential(path, 1000, WithBufferRecords(64)); err != nil {
		t.Fatalf("GenerateSequential: %v", err)
	}
	got := readRecordFile(t, path)
	if len(got) != 1000 {
		t.Fatalf("generated %d records, want 1000", len(got))
	}
	for i, x := range got {
		if x != Record(i) {
			t.Fatalf("record %d = %d", i, x)
		}
	}
}

func TestGenerateRandom(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	c := filepath.Join(dir, "c")
	if err := GenerateRandom(a, 500, WithSeed(42)); err != nil {
		t.Fatalf("GenerateRandom: %v", err)
	}
	if err := GenerateRandom(b, 500, WithSeed(42)); err != nil {
		t.Fatalf("GenerateRandom: %v", err)
	}
	if err := GenerateRandom(c, 500, WithSeed(43)); err != nil {
		t.Fatalf("GenerateRandom: %v", err)
	}

	ra, rb, rc := readRecordFile(t, a), readRecordFile(t, b), readRecordFile(t, c)
	if !slices.Equal(ra, rb) {
		t.Fatal("same seed produced different files")
	}
	if slices.Equal(ra, rc) {
		t.Fatal("different seeds produced identical files")
	}
	var key [8]byte
	binary.LittleEndian.PutUint64(key[:], 7)
	if want := murmur3.Sum32WithSeed(key[:], 42); ra[7] != want {
		t.Fatalf("record 7 = %d, want %d", ra[7], want)
	}
}

func TestGenerateEmptyAndNegative(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty")
	if err := GenerateRandom(path, 0); err != nil {
		t.Fatalf("GenerateRandom(0): %v", err)
	}
	if info, err := os.Stat(path); err != nil || info.Size() != 0 {
		t.Fatalf("empty file: info=%v err=%v", info, err)
	}
	if err := GenerateSequential(filepath.Join(dir, "neg"), -1); err == nil {
		t.Fatal("negative count accepted")
	}
}

func TestReferenceSort(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input")
	output := filepath.Join(dir, "ref")
	recs := randomRecords(t, 4000, 1<<31)
	// A trailing partial record is ignored.
	b := append(encodeRecords(recs), 1, 2)
	if err := os.WriteFile(input, b, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := ReferenceSort(input, output); err != nil {
		t.Fatalf("ReferenceSort: %v", err)
	}
	if got := readRecordFile(t, output); !slices.Equal(got, sortedCopy(recs)) {
		t.Fatal("reference output is not the sorted input")
	}

	err := ReferenceSort(input, filepath.Join(dir, "small"), WithReferenceLimit(100))
	if !errors.Is(err, streamerrors.ErrReferenceTooLarge) {
		t.Fatalf("err = %v, want ErrReferenceTooLarge", err)
	}
}

func TestReferenceSortEmpty(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input")
	output := filepath.Join(dir, "ref")
	writeRecordFile(t, input, nil)
	if err := ReferenceSort(input, output); err != nil {
		t.Fatalf("ReferenceSort: %v", err)
	}
	if got := readRecordFile(t, output); len(got) != 0 {
		t.Fatalf("output = %v, want empty", got)
	}
}

func TestIsSorted(t *testing.T) {
	dir := t.TempDir()
	for _, tc := range []struct {
		name string
		recs []Record
		want bool
	}{
		{"empty", nil, true},
		{"one", []Record{9}, true},
		{"ascending", []Record{1, 2, 2, 3, 1 << 31}, true},
		{"descentAtEnd", []Record{1, 2, 3, 0}, false},
		{"descentAtStart", []Record{5, 4, 6}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.name)
			writeRecordFile(t, path, tc.recs)
			got, err := IsSorted(path)
			if err != nil {
				t.Fatalf("IsSorted: %v", err)
			}
			if got != tc.want {
				t.Fatalf("IsSorted = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestVerify(t *testing.T) {
	recs := randomRecords(t, 3000, 500)
	sorted := sortedCopy(recs)

	// Same length and order, one record changed to a value that keeps the
	// file sorted.
	altered := slices.Clone(sorted)
	altered[len(altered)-1]++

	unsorted := slices.Clone(sorted)
	unsorted[10], unsorted[2000] = unsorted[2000], unsorted[10]

	for _, tc := range []struct {
		name   string
		result []Record
		limit  int64
		mode   VerifyMode
		want   error
	}{
		{"exact", sorted, 1 << 30, VerifyExact, nil},
		{"streaming", sorted, 100, VerifyStreaming, nil},
		{"exactShort", sorted[1:], 1 << 30, VerifyExact, streamerrors.ErrLengthMismatch},
		{"streamingLong", append(slices.Clone(sorted), 1<<31), 100, VerifyStreaming, streamerrors.ErrLengthMismatch},
		// The first out-of-order record is also the first one that differs
		// from the reference.
		{"exactUnsorted", unsorted, 1 << 30, VerifyExact, streamerrors.ErrContentMismatch},
		{"streamingUnsorted", unsorted, 100, VerifyStreaming, streamerrors.ErrNotSorted},
		{"exactAltered", altered, 1 << 30, VerifyExact, streamerrors.ErrContentMismatch},
		{"streamingAltered", altered, 100, VerifyStreaming, streamerrors.ErrContentMismatch},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			input := filepath.Join(dir, "input")
			result := filepath.Join(dir, "result")
			writeRecordFile(t, input, recs)
			writeRecordFile(t, result, tc.result)

			report, err := Verify(input, result, WithReferenceLimit(tc.limit), WithBufferRecords(64))
			if tc.want != nil {
				if !errors.Is(err, tc.want) {
					t.Fatalf("err = %v, want %v", err, tc.want)
				}
				return
			}
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if report.Mode != tc.mode {
				t.Errorf("Mode = %v, want %v", report.Mode, tc.mode)
			}
			if report.Records != int64(len(recs)) {
				t.Errorf("Records = %d, want %d", report.Records, len(recs))
			}
		})
	}
}

func TestVerifyEndToEnd(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input")
	output := filepath.Join(dir, "output")
	if err := GenerateRandom(input, 20_000, WithSeed(7)); err != nil {
		t.Fatalf("GenerateRandom: %v", err)
	}
	if _, err := SortPasses(input, output, 8<<10, 3, 0); err != nil {
		t.Fatalf("SortPasses: %v", err)
	}
	for _, limit := range []int64{1 << 30, 1} {
		if _, err := Verify(input, output, WithReferenceLimit(limit)); err != nil {
			t.Fatalf("Verify(limit=%d): %v", limit, err)
		}
	}
}

func TestVerifyModeString(t *testing.T) {
	if VerifyExact.String() != "exact" || VerifyStreaming.String() != "streaming" {
		t.Fatalf("String = %q, %q", VerifyExact, VerifyStreaming)
	}
	if got := VerifyMode(9).String(); got != "VerifyMode(9)" {
		t.Fatalf("String = %q", got)
	}
}
