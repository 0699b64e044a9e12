package recfile

import (
	"errors"
	"fmt"
	"io"
	"os"

	streamerrors "github.com/tamirms/extsort/errors"
)

// File is an unbuffered sequential record file.
type File struct {
	f    *os.File
	name string
}

// Open opens name for reading.
func Open(name string) (*File, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open record file: %w", err)
	}
	return &File{f: f, name: name}, nil
}

// Create creates or truncates name for writing.
func Create(name string) (*File, error) {
	f, err := os.Create(name)
	if err != nil {
		return nil, fmt.Errorf("create record file: %w", err)
	}
	return &File{f: f, name: name}, nil
}

// Name returns the path the file was opened with.
func (f *File) Name() string {
	return f.name
}

// Size returns the current file size in bytes.
func (f *File) Size() (int64, error) {
	st, err := f.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", f.name, err)
	}
	return st.Size(), nil
}

// Records returns the number of whole records in the file.
// Trailing bytes that do not form a whole record are not counted.
func (f *File) Records() (int64, error) {
	size, err := f.Size()
	if err != nil {
		return 0, err
	}
	return size / Size, nil
}

// Read fills recs from the current position and returns the number of whole
// records read. A count below len(recs) means end of file was reached; a
// partial record at the end of the file is dropped.
func (f *File) Read(recs []Record) (int, error) {
	n, err := io.ReadFull(f.f, bytesOf(recs))
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		err = nil
	}
	if err != nil {
		return n / Size, fmt.Errorf("read %s: %w", f.name, err)
	}
	return n / Size, nil
}

// Write writes all of recs at the current position.
func (f *File) Write(recs []Record) error {
	want := len(recs) * Size
	n, err := f.f.Write(bytesOf(recs))
	if err != nil {
		return fmt.Errorf("write %s: %w", f.name, err)
	}
	if n != want {
		return fmt.Errorf("%w: %s wrote %d of %d bytes", streamerrors.ErrShortWrite, f.name, n, want)
	}
	return nil
}

// Preallocate reserves disk space for size bytes without changing the
// visible file size. Best-effort: callers may ignore the error.
func (f *File) Preallocate(size int64) error {
	if size <= 0 {
		return nil
	}
	return preallocate(f.f, size)
}

// Close closes the file. Safe to call more than once.
func (f *File) Close() error {
	if f.f == nil {
		return nil
	}
	err := f.f.Close()
	f.f = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", f.name, err)
	}
	return nil
}
