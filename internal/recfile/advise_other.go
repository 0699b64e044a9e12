//go:build !linux

package recfile

// AdviseSequential does nothing outside Linux.
func (f *File) AdviseSequential() {}
