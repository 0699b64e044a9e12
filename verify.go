package extsort

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/docker/go-units"
	"github.com/edsrzf/mmap-go"
	streamerrors "github.com/tamirms/extsort/errors"
	"github.com/tamirms/extsort/internal/recfile"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"
)

// VerifyMode is how Verify compared a result with its input.
type VerifyMode int

const (
	// VerifyExact sorts the input in memory and compares record by record.
	VerifyExact VerifyMode = iota
	// VerifyStreaming checks order and length, and compares an
	// order-independent fingerprint of the record multisets.
	VerifyStreaming
)

func (m VerifyMode) String() string {
	switch m {
	case VerifyExact:
		return "exact"
	case VerifyStreaming:
		return "streaming"
	default:
		return fmt.Sprintf("VerifyMode(%d)", int(m))
	}
}

// VerifyReport describes a successful verification.
type VerifyReport struct {
	Mode        VerifyMode
	Records     int64
	Fingerprint uint64 // multiset fingerprint, streaming mode only
	Elapsed     time.Duration
}

// recordMap is a read-only mapping of the whole records of a file.
// A file shorter than one record has an empty, unmapped view.
type recordMap struct {
	mm   mmap.MMap
	data []byte // mm truncated to whole records
}

func mapRecords(path string) (*recordMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() < recfile.Size {
		return &recordMap{}, nil
	}
	// The mapping stays valid after f is closed.
	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	m := &recordMap{mm: mm, data: mm[:len(mm)-len(mm)%recfile.Size]}
	adviseSequential(m.data)
	return m, nil
}

func (m *recordMap) len() int64 { return int64(len(m.data) / recfile.Size) }

func (m *recordMap) at(i int64) Record {
	return binary.NativeEndian.Uint32(m.data[i*recfile.Size:])
}

func (m *recordMap) unmap() error {
	if m.mm == nil {
		return nil
	}
	adviseDone(m.data)
	err := m.mm.Unmap()
	m.mm, m.data = nil, nil
	return err
}

// loadRecords reads every whole record of path into memory, refusing files
// larger than limit bytes.
func loadRecords(path string, limit int64) ([]Record, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > limit {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d",
			streamerrors.ErrReferenceTooLarge, path, info.Size(), limit)
	}
	m, err := mapRecords(path)
	if err != nil {
		return nil, err
	}
	recs := make([]Record, m.len())
	for i := range recs {
		recs[i] = m.at(int64(i))
	}
	return recs, m.unmap()
}

// ReferenceSort sorts input entirely in memory and writes the result to
// output. Inputs larger than the reference limit fail with
// ErrReferenceTooLarge (see WithReferenceLimit).
func ReferenceSort(input, output string, opts ...Option) error {
	cfg := newConfig(opts)
	start := time.Now()
	recs, err := loadRecords(input, cfg.referenceLimit)
	if err != nil {
		return fmt.Errorf("reference sort: %w", err)
	}
	slices.Sort(recs)

	f, err := recfile.Create(output)
	if err != nil {
		return fmt.Errorf("reference sort: %w", err)
	}
	if err := f.Write(recs); err != nil {
		return fmt.Errorf("reference sort: %w", errors.Join(err, f.Close()))
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("reference sort: %w", err)
	}
	cfg.logger.Info("reference sort finished",
		zap.String("output", output),
		zap.Int("records", len(recs)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// Verify checks that result is the sorted permutation of the whole records
// of input.
//
// Inputs within the reference limit are sorted in memory and compared
// record by record. Larger inputs get a streaming check: equal length,
// non-decreasing result and matching multiset fingerprints. The streaming
// check can in principle accept a wrong result whose fingerprint collides.
//
// A failed check returns an error wrapping ErrLengthMismatch, ErrNotSorted
// or ErrContentMismatch.
func Verify(input, result string, opts ...Option) (*VerifyReport, error) {
	cfg := newConfig(opts)
	start := time.Now()

	in, err := os.Stat(input)
	if err != nil {
		return nil, err
	}
	out, err := os.Stat(result)
	if err != nil {
		return nil, err
	}
	want := in.Size() / recfile.Size
	if out.Size() != want*recfile.Size {
		return nil, fmt.Errorf("%w: %s has %d bytes, want %d",
			streamerrors.ErrLengthMismatch, result, out.Size(), want*recfile.Size)
	}

	var report *VerifyReport
	if in.Size() <= cfg.referenceLimit {
		report, err = verifyExact(input, result, cfg)
	} else {
		cfg.logger.Info("input exceeds reference limit, verifying by fingerprint",
			zap.String("input", input),
			zap.String("size", units.BytesSize(float64(in.Size()))))
		report, err = verifyStreaming(input, result)
	}
	if err != nil {
		return nil, err
	}
	report.Elapsed = time.Since(start)
	cfg.logger.Info("verification passed",
		zap.Stringer("mode", report.Mode),
		zap.Int64("records", report.Records),
		zap.Duration("elapsed", report.Elapsed))
	return report, nil
}

func verifyExact(input, result string, cfg *config) (*VerifyReport, error) {
	ref, err := loadRecords(input, cfg.referenceLimit)
	if err != nil {
		return nil, err
	}
	slices.Sort(ref)

	r, err := recfile.NewReader(result, cfg.bufferRecords)
	if err != nil {
		return nil, err
	}
	var i int64
	for ; ; i++ {
		x, ok := r.Next()
		if !ok {
			break
		}
		if i >= int64(len(ref)) {
			return nil, errors.Join(fmt.Errorf("%w: %s has more than %d records",
				streamerrors.ErrLengthMismatch, result, len(ref)), r.Close())
		}
		if x != ref[i] {
			return nil, errors.Join(fmt.Errorf("%w: record %d is %d, want %d",
				streamerrors.ErrContentMismatch, i, x, ref[i]), r.Close())
		}
	}
	if err := errors.Join(r.Err(), r.Close()); err != nil {
		return nil, fmt.Errorf("read %s: %w", result, err)
	}
	if i != int64(len(ref)) {
		return nil, fmt.Errorf("%w: %s has %d records, want %d",
			streamerrors.ErrLengthMismatch, result, i, len(ref))
	}
	return &VerifyReport{Mode: VerifyExact, Records: i}, nil
}

func verifyStreaming(input, result string) (*VerifyReport, error) {
	res, err := mapRecords(result)
	if err != nil {
		return nil, err
	}
	if i, ok := firstDescent(res); !ok {
		return nil, errors.Join(fmt.Errorf("%w: record %d is %d after %d",
			streamerrors.ErrNotSorted, i, res.at(i), res.at(i-1)), res.unmap())
	}
	got := fingerprint(res)
	if err := res.unmap(); err != nil {
		return nil, err
	}

	in, err := mapRecords(input)
	if err != nil {
		return nil, err
	}
	want := fingerprint(in)
	n := in.len()
	if err := in.unmap(); err != nil {
		return nil, err
	}
	if got != want {
		return nil, fmt.Errorf("%w: fingerprint %#x, want %#x",
			streamerrors.ErrContentMismatch, got, want)
	}
	return &VerifyReport{Mode: VerifyStreaming, Records: n, Fingerprint: got}, nil
}

// fingerprint is the wrapping sum of the xxh3 hashes of every record. It
// does not depend on record order.
func fingerprint(m *recordMap) uint64 {
	var sum uint64
	for off := 0; off < len(m.data); off += recfile.Size {
		sum += xxh3.Hash(m.data[off : off+recfile.Size])
	}
	return sum
}

// firstDescent returns the index of the first record smaller than its
// predecessor, and false, or 0 and true if m is non-decreasing.
func firstDescent(m *recordMap) (int64, bool) {
	n := m.len()
	for i := int64(1); i < n; i++ {
		if m.at(i) < m.at(i-1) {
			return i, false
		}
	}
	return 0, true
}

// IsSorted reports whether the whole records of path are in non-decreasing
// order. Files with fewer than two records are sorted.
func IsSorted(path string) (bool, error) {
	m, err := mapRecords(path)
	if err != nil {
		return false, err
	}
	_, ok := firstDescent(m)
	return ok, m.unmap()
}
