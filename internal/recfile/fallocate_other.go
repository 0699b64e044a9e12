//go:build !linux && !darwin

package recfile

import "os"

// preallocate is a no-op on platforms without a size-preserving
// reservation call.
func preallocate(file *os.File, size int64) error {
	return nil
}
