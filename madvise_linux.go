//go:build linux

package extsort

import "golang.org/x/sys/unix"

// adviseSequential enables aggressive readahead on a mapping that is about to
// be scanned front to back. Best-effort: errors are ignored.
func adviseSequential(data []byte) {
	if len(data) == 0 {
		return
	}
	_ = unix.Madvise(data, unix.MADV_SEQUENTIAL)
}

// adviseDone tells the kernel the pages of a scanned mapping can be dropped.
func adviseDone(data []byte) {
	if len(data) == 0 {
		return
	}
	_ = unix.Madvise(data, unix.MADV_DONTNEED)
}
