// Package recfile implements sequential record streams over files of
// fixed-width records.
//
// A record file is a raw concatenation of 4-byte unsigned integers in
// native byte order with no header; the record count is derived from the
// file length. File gives plain blocking reads and writes. Writer and Reader
// are double-buffered: each owns one background goroutine that moves a
// buffer to or from disk while the caller fills or drains the other one.
package recfile

import (
	"math"
	"unsafe"
)

// Record is the fixed-width unit of data. Records sort by natural numeric order.
type Record = uint32

const (
	// Size is the on-disk width of one record in bytes.
	Size = 4

	// MaxRecord is the largest record value.
	MaxRecord Record = math.MaxUint32

	// DefaultCapacity is the number of records held by each half of a
	// double buffer.
	DefaultCapacity = 256 * 1024
)

// bytesOf returns the native-byte-order view of recs without copying.
func bytesOf(recs []Record) []byte {
	if len(recs) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&recs[0])), len(recs)*Size)
}
