//go:build !linux

package extsort

// adviseSequential is a no-op on non-Linux platforms.
func adviseSequential(data []byte) {}

func adviseDone(data []byte) {}
