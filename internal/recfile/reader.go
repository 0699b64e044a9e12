package recfile

import (
	"time"

	streamerrors "github.com/tamirms/extsort/errors"
)

// load is one background fill of a buffer.
type load struct {
	buf []Record
	err error
}

// Reader is a double-buffered record reader.
//
// The caller consumes the ready buffer while the load goroutine fills the
// other one from disk. When the ready buffer runs out, Next waits for the
// pending load, swaps it in and immediately requests the next one.
//
// A Reader is not safe for concurrent use.
type Reader struct {
	file  *File
	ready []Record
	pos   int

	requests chan []Record // caller -> load goroutine
	loads    chan load     // load goroutine -> caller
	done     chan struct{}

	eof    bool
	err    error
	waits  time.Duration
	closed bool
}

// NewReader opens name and starts loading its first buffer in the background.
// capacity is the number of records per buffer.
func NewReader(name string, capacity int) (*Reader, error) {
	if capacity <= 0 {
		return nil, streamerrors.ErrInvalidBuffer
	}
	f, err := Open(name)
	if err != nil {
		return nil, err
	}
	f.AdviseSequential()

	r := &Reader{
		file:     f,
		ready:    make([]Record, 0, capacity),
		requests: make(chan []Record, 1),
		loads:    make(chan load, 1),
		done:     make(chan struct{}),
	}
	r.requests <- make([]Record, capacity)
	go r.run()
	return r, nil
}

// run is the load goroutine. At most one request is outstanding, so the
// send on loads never blocks.
func (r *Reader) run() {
	defer close(r.done)
	for buf := range r.requests {
		n, err := r.file.Read(buf[:cap(buf)])
		r.loads <- load{buf: buf[:n], err: err}
		if n == 0 || err != nil {
			return
		}
	}
}

// Next returns the next record. It returns false at end of file or after a
// read error; check Err to tell them apart.
func (r *Reader) Next() (Record, bool) {
	if r.pos < len(r.ready) {
		x := r.ready[r.pos]
		r.pos++
		return x, true
	}
	if r.eof {
		return 0, false
	}

	start := time.Now()
	l := <-r.loads
	r.waits += time.Since(start)
	if l.err != nil || len(l.buf) == 0 {
		r.err = l.err
		r.eof = true
		return 0, false
	}

	prev := r.ready
	r.ready, r.pos = l.buf, 1
	r.requests <- prev[:0]
	return r.ready[0], true
}

// Err returns the read error that ended the stream, if any.
func (r *Reader) Err() error { return r.err }

// Waits is the time Next spent blocked on background loads.
func (r *Reader) Waits() time.Duration { return r.waits }

// Size returns the size of the underlying file in bytes.
func (r *Reader) Size() (int64, error) { return r.file.Size() }

// Close stops the load goroutine and closes the file. Buffered records are
// discarded, so Next returns false afterwards. Safe to call more than once.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.eof = true
	r.ready, r.pos = nil, 0
	close(r.requests)
	<-r.done
	return r.file.Close()
}
