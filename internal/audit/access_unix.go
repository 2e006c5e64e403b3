//go:build !windows

package audit

import "golang.org/x/sys/unix"

// canExecute asks the kernel whether the calling user may execute path.
func canExecute(path string) bool {
	return unix.Access(path, unix.X_OK) == nil
}
