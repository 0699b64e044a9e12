//go:build linux

package recfile

import (
	"os"

	"golang.org/x/sys/unix"
)

// preallocate reserves disk blocks for a merge output whose final size is
// known up front. FALLOC_FL_KEEP_SIZE leaves the visible size untouched, so
// the file length still equals the bytes actually written.
func preallocate(file *os.File, size int64) error {
	return unix.Fallocate(int(file.Fd()), unix.FALLOC_FL_KEEP_SIZE, 0, size)
}
