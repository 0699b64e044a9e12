//go:build linux

package recfile

import "golang.org/x/sys/unix"

// AdviseSequential hints that the file will be read front to back, letting
// the kernel read ahead more aggressively. Errors are ignored.
func (f *File) AdviseSequential() {
	_ = unix.Fadvise(int(f.f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
}
