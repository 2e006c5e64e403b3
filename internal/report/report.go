// Package report manages the directory that collects audit run logs.
package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// TimestampLayout is YYYYMMDD_HHMMSS. Runs within the same second share a name.
	TimestampLayout = "20060102_150405"
	// DefaultPrefix names logs debian_system_audit_<timestamp>.log.
	DefaultPrefix = "debian_system_audit"
	// Pattern selects the files the clear operation removes.
	Pattern = "*.log"
)

// Report describes one log file found in the directory.
type Report struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Dir is the report directory. It holds no lock; concurrent runs and clears
// race on its contents.
type Dir struct {
	path   string
	prefix string
	now    func() time.Time
}

// Option customizes a Dir.
type Option func(*Dir)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(p string) Option {
	return func(d *Dir) {
		if p = strings.TrimSpace(p); p != "" {
			d.prefix = p
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dir) {
		if now != nil {
			d.now = now
		}
	}
}

// Open creates path (and parents) if absent and returns the Dir.
func Open(path string, opts ...Option) (*Dir, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("report dir path required")
	}
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("resolve report dir %s: %w", path, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create report dir %s: %w", abs, err)
	}
	d := &Dir{path: abs, prefix: DefaultPrefix, now: time.Now}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Path returns the absolute directory path.
func (d *Dir) Path() string { return d.path }

// Prefix returns the log file name prefix.
func (d *Dir) Prefix() string { return d.prefix }

// Now reads the directory clock. Runs take their start time from it so log
// names follow WithClock.
func (d *Dir) Now() time.Time { return d.now() }

// LogPath returns the log path for a run started at t (local time).
func (d *Dir) LogPath(t time.Time) string {
	return filepath.Join(d.path, fmt.Sprintf("%s_%s.log", d.prefix, t.Local().Format(TimestampLayout)))
}

// matches returns the paths of directory entries whose names match Pattern.
func (d *Dir) matches() ([]string, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if ok, _ := filepath.Match(Pattern, e.Name()); ok {
			out = append(out, filepath.Join(d.path, e.Name()))
		}
	}
	return out, nil
}

// List returns the regular files matching Pattern, newest first.
func (d *Dir) List() ([]Report, error) {
	matches, err := d.matches()
	if err != nil {
		return nil, fmt.Errorf("read report dir: %w", err)
	}
	out := make([]Report, 0, len(matches))
	for _, p := range matches {
		fi, err := os.Stat(p)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		out = append(out, Report{
			Name:     fi.Name(),
			Path:     p,
			Size:     fi.Size(),
			Modified: fi.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Modified.Equal(out[j].Modified) {
			return out[i].Name > out[j].Name
		}
		return out[i].Modified.After(out[j].Modified)
	})
	return out, nil
}

// Clear removes every file matching Pattern and returns how many were removed.
// Failures on individual files are skipped; the operation as a whole never fails.
func (d *Dir) Clear() int {
	matches, err := d.matches()
	if err != nil {
		return 0
	}
	deleted := 0
	for _, p := range matches {
		fi, err := os.Lstat(p)
		if err != nil || fi.IsDir() {
			continue
		}
		if err := os.Remove(p); err != nil {
			continue
		}
		deleted++
	}
	return deleted
}
