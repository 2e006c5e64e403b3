package audit

import (
	"os"
	"path/filepath"
)

// Script references the external audit executable. The service never creates
// or edits the file; it only sets execute bits before running it.
type Script struct {
	path string
}

// NewScript anchors a relative path at the current working directory, since
// the script is later started from the report directory.
func NewScript(path string) Script {
	if abs, err := filepath.Abs(path); err == nil {
		return Script{path: abs}
	}
	return Script{path: filepath.Clean(path)}
}

func (s Script) Path() string { return s.path }

// Name is the script's base file name.
func (s Script) Name() string { return filepath.Base(s.path) }

// Exists reports whether the path currently exists (symlinks followed).
func (s Script) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// chmod is swapped in tests to simulate a refused permission change.
var chmod = os.Chmod

// EnsureExecutable ORs the owner/group/other execute bits into the file mode
// when the current user cannot already execute the script. A runnable
// script is never touched.
func (s Script) EnsureExecutable() error {
	if canExecute(s.path) {
		return nil
	}
	fi, err := os.Stat(s.path)
	if err != nil {
		return err
	}
	return chmod(s.path, fi.Mode().Perm()|0o111)
}
