//go:build windows

package audit

// canExecute is always true: Windows has no execute permission bit.
func canExecute(string) bool { return true }
