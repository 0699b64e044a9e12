package recfile

import (
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/cespare/xxhash/v2"
	streamerrors "github.com/tamirms/extsort/errors"
)

func randomRecords(t *testing.T, n int) []Record {
	t.Helper()
	rng := rand.New(rand.NewPCG(uint64(n), 0x5eed))
	recs := make([]Record, n)
	for i := range recs {
		recs[i] = rng.Uint32()
	}
	return recs
}

func TestWriterRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		n        int
		capacity int
	}{
		{"empty", 0, 4},
		{"single", 1, 4},
		{"under_half", 3, 8},
		{"many_swaps", 10_000, 4},
		{"capacity_one", 257, 1},
		{"default_capacity", 100_000, DefaultCapacity},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			name := filepath.Join(t.TempDir(), "out")
			want := randomRecords(t, tc.n)

			w, err := NewWriter(name, tc.capacity)
			if err != nil {
				t.Fatalf("NewWriter: %v", err)
			}
			for i, x := range want {
				if err := w.Append(x); err != nil {
					t.Fatalf("Append %d: %v", i, err)
				}
			}
			if err := w.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}
			if w.Written() != int64(tc.n) {
				t.Fatalf("Written = %d, want %d", w.Written(), tc.n)
			}

			raw, err := os.ReadFile(name)
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			if len(raw) != tc.n*Size {
				t.Fatalf("file size = %d, want %d", len(raw), tc.n*Size)
			}
			if got := xxhash.Sum64(raw); got != w.Sum64() {
				t.Fatalf("Sum64 = %x, file hash = %x", w.Sum64(), got)
			}

			r, err := NewReader(name, max(1, tc.capacity/2))
			if err != nil {
				t.Fatalf("NewReader: %v", err)
			}
			defer r.Close()
			got := make([]Record, 0, tc.n)
			for {
				x, ok := r.Next()
				if !ok {
					break
				}
				got = append(got, x)
			}
			if err := r.Err(); err != nil {
				t.Fatalf("Err: %v", err)
			}
			if !slices.Equal(got, want) {
				t.Fatalf("read back %d records, mismatch with %d written", len(got), len(want))
			}
		})
	}
}

func TestWriterAppendAfterClose(t *testing.T) {
	w, err := NewWriter(filepath.Join(t.TempDir(), "out"), 4)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := w.Append(1); !errors.Is(err, streamerrors.ErrStreamClosed) {
		t.Fatalf("Append after Close: err = %v, want ErrStreamClosed", err)
	}
}

func TestStreamInvalidCapacity(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewWriter(filepath.Join(dir, "w"), 0); !errors.Is(err, streamerrors.ErrInvalidBuffer) {
		t.Fatalf("NewWriter(0): err = %v, want ErrInvalidBuffer", err)
	}
	if _, err := NewReader(filepath.Join(dir, "r"), -1); !errors.Is(err, streamerrors.ErrInvalidBuffer) {
		t.Fatalf("NewReader(-1): err = %v, want ErrInvalidBuffer", err)
	}
}

func TestWriterCreateFailure(t *testing.T) {
	_, err := NewWriter(filepath.Join(t.TempDir(), "no", "such", "dir"), 4)
	if err == nil {
		t.Fatal("NewWriter in missing directory succeeded")
	}
}

func TestReaderEmptyFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "empty")
	writeRecords(t, name, nil)

	r, err := NewReader(name, 4)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()
	if x, ok := r.Next(); ok {
		t.Fatalf("Next on empty file = %d, true", x)
	}
	if _, ok := r.Next(); ok {
		t.Fatal("Next after EOF returned true")
	}
	if r.Err() != nil {
		t.Fatalf("Err = %v", r.Err())
	}
}

func TestReaderCloseEarly(t *testing.T) {
	name := filepath.Join(t.TempDir(), "data")
	writeRecords(t, name, randomRecords(t, 1000))

	r, err := NewReader(name, 16)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	for range 20 {
		if _, ok := r.Next(); !ok {
			t.Fatal("unexpected EOF")
		}
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	// 20 records with capacity 16 leaves 12 buffered; Close drops them.
	for n := 0; ; n++ {
		if _, ok := r.Next(); !ok {
			if n > 0 {
				t.Fatalf("Next returned %d records after Close", n)
			}
			break
		}
	}
	if err := r.Err(); err != nil {
		t.Fatalf("Err after Close: %v", err)
	}
}

// TestWriterGrowsWhileFlushBusy holds the spare buffer so the flush goroutine
// looks busy: Append must keep going by growing the active buffer, and Close
// must still write every record in order.
func TestWriterGrowsWhileFlushBusy(t *testing.T) {
	name := filepath.Join(t.TempDir(), "out")
	const capacity = 4
	w, err := NewWriter(name, capacity)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	held := <-w.free

	want := randomRecords(t, 100)
	for i, x := range want {
		if err := w.Append(x); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if w.Resizes() == 0 {
		t.Fatal("Resizes = 0 with the flush goroutine busy")
	}
	if w.MaxCapacity() < len(want) {
		t.Fatalf("MaxCapacity = %d, want at least %d", w.MaxCapacity(), len(want))
	}

	w.free <- held
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if w.Written() != int64(len(want)) {
		t.Fatalf("Written = %d, want %d", w.Written(), len(want))
	}
	if got := readRecords(t, name); !slices.Equal(got, want) {
		t.Fatal("records on disk differ from appended records")
	}
}

func TestWriterNoGrowthWhenFlushIdle(t *testing.T) {
	name := filepath.Join(t.TempDir(), "out")
	w, err := NewWriter(name, 1024)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for i := range 100 {
		if err := w.Append(Record(i)); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if w.Resizes() != 0 || w.MaxCapacity() != 0 {
		t.Fatalf("Resizes = %d, MaxCapacity = %d, want 0 and 0", w.Resizes(), w.MaxCapacity())
	}
}

func TestReaderMissingFile(t *testing.T) {
	if _, err := NewReader(filepath.Join(t.TempDir(), "missing"), 4); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("NewReader missing: err = %v, want ErrNotExist", err)
	}
}
