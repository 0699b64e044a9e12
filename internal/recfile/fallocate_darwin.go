//go:build darwin

package recfile

import (
	"os"

	"golang.org/x/sys/unix"
)

// preallocate reserves disk space on macOS using fcntl F_PREALLOCATE.
// Unlike ftruncate this does not change the file size.
func preallocate(file *os.File, size int64) error {
	fst := unix.Fstore_t{
		Flags:   unix.F_ALLOCATEALL,
		Posmode: unix.F_PEOFPOSMODE,
		Offset:  0,
		Length:  size,
	}
	return unix.FcntlFstore(file.Fd(), unix.F_PREALLOCATE, &fst)
}
