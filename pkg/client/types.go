package client

import (
	"fmt"
	"time"
)

// RunResult is the body of POST /run. ReturnCode is nil when the script
// never finished (missing, not executable, timed out).
type RunResult struct {
	OK         bool   `json:"ok"`
	Output     string `json:"output,omitempty"`
	LogPath    string `json:"log_path,omitempty"`
	ReturnCode *int   `json:"return_code,omitempty"`
	Message    string `json:"message,omitempty"`
	RunID      string `json:"run_id,omitempty"`
}

// ClearResult is the body of POST /clear-reports.
type ClearResult struct {
	OK      bool `json:"ok"`
	Deleted int  `json:"deleted"`
}

// Report describes one log file in the report directory.
type Report struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

type reportsResponse struct {
	OK      bool     `json:"ok"`
	Reports []Report `json:"reports"`
}

// Health is the body of GET /healthz.
type Health struct {
	OK           bool `json:"ok"`
	ScriptExists bool `json:"script_exists"`
}

// APIError is returned for any non-200 response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}
