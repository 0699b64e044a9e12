// bench_io compares I/O patterns for sequential record files:
//
//  1. "plain": blocking chunked reads and writes through recfile.File
//  2. "stream": per-record Append/Next through the double-buffered
//     recfile.Writer and recfile.Reader used by the merger
//  3. "bufio": per-record bufio encoding, as a stdlib baseline
//  4. "mmap": read-only sequential scan of a mapped file
//
// Each mode writes N records, drops nothing from the page cache, then reads
// them back and checks a running sum.
//
// Usage:
//
//	go run ./cmd/bench_io --size 2GiB
//	go run ./cmd/bench_io --size 512MiB --buffer 4096 --mode stream
//
// To simulate memory pressure (data exceeding page cache):
//
//	sudo systemd-run --scope -p MemoryMax=1G --uid=$(id -u) \
//	  go run ./cmd/bench_io --size 4GiB
package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/pflag"
	"github.com/tamirms/extsort/internal/recfile"
	"golang.org/x/sys/unix"
)

func main() {
	sizeFlag := pflag.String("size", "1GiB", "total data size")
	bufferRecords := pflag.Int("buffer", recfile.DefaultCapacity, "records per buffer")
	mode := pflag.String("mode", "all", "mode: plain, stream, bufio, mmap, or all")
	tmpDir := pflag.String("dir", "", "temp directory (default: os.TempDir())")
	pflag.Parse()

	totalBytes, err := units.RAMInBytes(*sizeFlag)
	if err != nil {
		fmt.Printf("invalid --size: %v\n", err)
		os.Exit(2)
	}
	numRecords := totalBytes / recfile.Size
	if *tmpDir == "" {
		*tmpDir = os.TempDir()
	}

	fmt.Printf("Configuration:\n")
	fmt.Printf("  Data size:    %s (%d records × %d bytes)\n", units.BytesSize(float64(totalBytes)), numRecords, recfile.Size)
	fmt.Printf("  Buffer:       %d records\n", *bufferRecords)
	fmt.Printf("  Temp dir:     %s\n", *tmpDir)
	fmt.Printf("  GOMAXPROCS:   %d\n", runtime.GOMAXPROCS(0))
	fmt.Println()

	benches := []struct {
		name string
		fn   func(path string, n int64, buffer int) (write, read time.Duration, sum uint64, err error)
	}{
		{"plain", benchPlain},
		{"stream", benchStream},
		{"bufio", benchBufio},
		{"mmap", benchMmap},
	}
	for _, b := range benches {
		if *mode != "all" && *mode != b.name {
			continue
		}
		fmt.Printf("=== %s ===\n", b.name)
		path := filepath.Join(*tmpDir, fmt.Sprintf("bench-io-%s-%d.tmp", b.name, os.Getpid()))
		write, read, sum, err := b.fn(path, numRecords, *bufferRecords)
		_ = os.Remove(path)
		if err != nil {
			fmt.Printf("  ERROR: %v\n\n", err)
			continue
		}
		report(totalBytes, write, read, sum)
	}
}

func report(total int64, write, read time.Duration, sum uint64) {
	mb := float64(total) / 1_000_000
	if write > 0 {
		fmt.Printf("  Write:  %7.2f sec  (%8.1f MB/sec)\n", write.Seconds(), mb/write.Seconds())
	}
	fmt.Printf("  Read:   %7.2f sec  (%8.1f MB/sec)\n", read.Seconds(), mb/read.Seconds())
	fmt.Printf("  Sum:    %#x\n\n", sum)
}

// value is the record written at position i.
func value(i int64) recfile.Record {
	return recfile.Record(uint64(i) * 0x9e3779b97f4a7c15 >> 32)
}

func benchPlain(path string, n int64, buffer int) (time.Duration, time.Duration, uint64, error) {
	buf := make([]recfile.Record, buffer)

	start := time.Now()
	f, err := recfile.Create(path)
	if err != nil {
		return 0, 0, 0, err
	}
	_ = f.Preallocate(n * recfile.Size)
	for i := int64(0); i < n; {
		m := min(int64(buffer), n-i)
		for j := range m {
			buf[j] = value(i + j)
		}
		if err := f.Write(buf[:m]); err != nil {
			_ = f.Close()
			return 0, 0, 0, err
		}
		i += m
	}
	if err := f.Close(); err != nil {
		return 0, 0, 0, err
	}
	write := time.Since(start)

	start = time.Now()
	if f, err = recfile.Open(path); err != nil {
		return 0, 0, 0, err
	}
	defer f.Close()
	f.AdviseSequential()
	var sum uint64
	for {
		m, err := f.Read(buf)
		if err != nil {
			return 0, 0, 0, err
		}
		for _, x := range buf[:m] {
			sum += uint64(x)
		}
		if m < len(buf) {
			break
		}
	}
	return write, time.Since(start), sum, nil
}

func benchStream(path string, n int64, buffer int) (time.Duration, time.Duration, uint64, error) {
	start := time.Now()
	w, err := recfile.NewWriter(path, buffer)
	if err != nil {
		return 0, 0, 0, err
	}
	_ = w.Preallocate(n * recfile.Size)
	for i := range n {
		if err := w.Append(value(i)); err != nil {
			_ = w.Close()
			return 0, 0, 0, err
		}
	}
	if err := w.Close(); err != nil {
		return 0, 0, 0, err
	}
	write := time.Since(start)
	fmt.Printf("  Writer: %d resizes, %.2f sec in hand-offs, xxhash %#x\n",
		w.Resizes(), w.Waits().Seconds(), w.Sum64())

	start = time.Now()
	r, err := recfile.NewReader(path, buffer)
	if err != nil {
		return 0, 0, 0, err
	}
	var sum uint64
	for {
		x, ok := r.Next()
		if !ok {
			break
		}
		sum += uint64(x)
	}
	read := time.Since(start)
	fmt.Printf("  Reader: %.2f sec waiting on loads\n", r.Waits().Seconds())
	if err := r.Err(); err != nil {
		_ = r.Close()
		return 0, 0, 0, err
	}
	return write, read, sum, r.Close()
}

func benchBufio(path string, n int64, buffer int) (time.Duration, time.Duration, uint64, error) {
	start := time.Now()
	f, err := os.Create(path)
	if err != nil {
		return 0, 0, 0, err
	}
	bw := bufio.NewWriterSize(f, buffer*recfile.Size)
	var rec [recfile.Size]byte
	for i := range n {
		binary.NativeEndian.PutUint32(rec[:], value(i))
		if _, err := bw.Write(rec[:]); err != nil {
			_ = f.Close()
			return 0, 0, 0, err
		}
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return 0, 0, 0, err
	}
	if err := f.Close(); err != nil {
		return 0, 0, 0, err
	}
	write := time.Since(start)

	start = time.Now()
	if f, err = os.Open(path); err != nil {
		return 0, 0, 0, err
	}
	defer f.Close()
	br := bufio.NewReaderSize(f, buffer*recfile.Size)
	var sum uint64
	for {
		if _, err := io.ReadFull(br, rec[:]); err != nil {
			if err == io.EOF {
				break
			}
			return 0, 0, 0, err
		}
		sum += uint64(binary.NativeEndian.Uint32(rec[:]))
	}
	return write, time.Since(start), sum, nil
}

// benchMmap reads a file written by the stream writer through a sequential
// mapping; only the read is timed.
func benchMmap(path string, n int64, buffer int) (time.Duration, time.Duration, uint64, error) {
	if n == 0 {
		return 0, 0, 0, fmt.Errorf("cannot map an empty file")
	}
	w, err := recfile.NewWriter(path, buffer)
	if err != nil {
		return 0, 0, 0, err
	}
	for i := range n {
		if err := w.Append(value(i)); err != nil {
			_ = w.Close()
			return 0, 0, 0, err
		}
	}
	if err := w.Close(); err != nil {
		return 0, 0, 0, err
	}

	start := time.Now()
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, 0, err
	}
	defer f.Close()
	data, err := unix.Mmap(int(f.Fd()), 0, int(n*recfile.Size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("mmap: %w", err)
	}
	defer func() { _ = unix.Munmap(data) }()
	_ = unix.Madvise(data, unix.MADV_SEQUENTIAL)

	var sum uint64
	for off := 0; off < len(data); off += recfile.Size {
		sum += uint64(binary.NativeEndian.Uint32(data[off:]))
	}
	return 0, time.Since(start), sum, nil
}
