package recfile

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	streamerrors "github.com/tamirms/extsort/errors"
)

// Writer is a double-buffered record writer.
//
// The caller appends into the active buffer. Once the active buffer reaches
// half its capacity (or had to grow), Writer tries to hand it to the flush
// goroutine and take back the buffer the flush goroutine has finished with.
// The hand-off never blocks: if the previous flush is still running the
// caller keeps appending and the active buffer grows. Growth is counted in
// Resizes and means the buffers are too small for the disk speed.
//
// Buffers move between the two goroutines over capacity-1 channels, so
// exactly one goroutine owns a given buffer at any time.
//
// A Writer is not safe for concurrent use.
type Writer struct {
	file   *File
	active []Record

	flushing chan []Record // caller -> flush goroutine
	free     chan []Record // flush goroutine -> caller
	done     chan struct{}

	// Owned by the flush goroutine until done is closed.
	digest  *xxhash.Digest
	written int64
	err     error
	failed  atomic.Bool // set after err is stored

	resizes int
	maxCap  int
	waits   time.Duration
	closed  bool
}

// NewWriter creates name and starts its flush goroutine. capacity is the
// number of records each of the two buffers holds before growing.
func NewWriter(name string, capacity int) (*Writer, error) {
	if capacity <= 0 {
		return nil, streamerrors.ErrInvalidBuffer
	}
	f, err := Create(name)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		file:     f,
		active:   make([]Record, 0, capacity),
		flushing: make(chan []Record, 1),
		free:     make(chan []Record, 1),
		done:     make(chan struct{}),
		digest:   xxhash.New(),
	}
	w.free <- make([]Record, 0, capacity)
	go w.run()
	return w, nil
}

// Preallocate reserves disk space for size bytes. Call before the first
// Append. Best-effort: the error is informational.
func (w *Writer) Preallocate(size int64) error {
	return w.file.Preallocate(size)
}

// Append adds one record to the stream.
//
// Append only reports flush failures that have already happened; the
// authoritative error is returned by Close.
func (w *Writer) Append(x Record) error {
	if w.closed {
		return streamerrors.ErrStreamClosed
	}
	grew := len(w.active) == cap(w.active)
	w.active = append(w.active, x)
	if !grew && 2*len(w.active) < cap(w.active) {
		return nil
	}
	return w.swap(grew)
}

// swap hands the active buffer to the flush goroutine if it is idle.
func (w *Writer) swap(grew bool) error {
	if w.failed.Load() {
		return w.err
	}
	start := time.Now()
	select {
	case buf := <-w.free:
		w.flushing <- w.active
		w.active = buf[:0]
	default:
		if grew {
			w.resizes++
			w.maxCap = max(w.maxCap, cap(w.active))
		}
	}
	w.waits += time.Since(start)
	return nil
}

// run is the flush goroutine.
func (w *Writer) run() {
	defer close(w.done)
	for buf := range w.flushing {
		if w.err == nil && len(buf) > 0 {
			if err := w.file.Write(buf); err != nil {
				w.err = err
				w.failed.Store(true)
			} else {
				_, _ = w.digest.Write(bytesOf(buf))
				w.written += int64(len(buf))
			}
		}
		w.free <- buf[:0]
	}
}

// Close waits for any in-flight flush, flushes the remaining records, stops
// the flush goroutine and closes the file. Every appended record has reached
// the file when Close returns nil. Safe to call more than once.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	start := time.Now()
	<-w.free // in-flight flush finished
	w.flushing <- w.active
	w.active = nil
	close(w.flushing)
	<-w.done
	w.waits += time.Since(start)

	return errors.Join(w.err, w.file.Close())
}

// Resizes reports how many times the active buffer grew because the flush
// goroutine was still busy.
func (w *Writer) Resizes() int { return w.resizes }

// MaxCapacity is the largest capacity the active buffer grew to, or 0 if it
// never grew.
func (w *Writer) MaxCapacity() int { return w.maxCap }

// Waits is the time the caller spent handing off buffers and closing.
func (w *Writer) Waits() time.Duration { return w.waits }

// Written is the number of records written to disk. Valid after Close.
func (w *Writer) Written() int64 { return w.written }

// Sum64 is the xxHash64 of every byte written. Valid after Close.
func (w *Writer) Sum64() uint64 { return w.digest.Sum64() }
