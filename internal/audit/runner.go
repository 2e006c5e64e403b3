// Package audit runs the external system-audit script and classifies the outcome.
package audit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/auditweb/internal/env"
	"github.com/loykin/auditweb/internal/report"
)

// killGrace bounds how long Wait keeps reading output after a timeout kill.
const killGrace = 2 * time.Second

// Result describes one completed invocation of the script.
type Result struct {
	ID        string        `json:"id"`
	Script    string        `json:"script"`
	LogPath   string        `json:"log_path"`
	ExitCode  int           `json:"exit_code"`
	Output    string        `json:"output"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// OK is true iff the script exited with code zero.
func (r Result) OK() bool { return r.ExitCode == 0 }

// Hook observes every Run attempt, including failed preconditions.
type Hook func(ctx context.Context, res Result, err error)

type Options struct {
	// Timeout bounds a run. Zero leaves it unbounded.
	Timeout time.Duration
	// Env composes the child environment. Defaults to env.ForAudit("", nil).
	Env    *env.Env
	Logger *slog.Logger
	Hooks  []Hook
}

// Runner invokes the audit script synchronously. It keeps no state between
// runs and does not serialize concurrent callers.
type Runner struct {
	script  Script
	reports *report.Dir
	env     *env.Env
	timeout time.Duration
	logger  *slog.Logger
	hooks   []Hook
}

func NewRunner(script Script, reports *report.Dir, opts Options) *Runner {
	e := opts.Env
	if e == nil {
		e = env.ForAudit("", nil)
	}
	l := opts.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Runner{
		script:  script,
		reports: reports,
		env:     e,
		timeout: opts.Timeout,
		logger:  l.With("component", "audit"),
		hooks:   append([]Hook(nil), opts.Hooks...),
	}
}

func (r *Runner) Script() Script         { return r.script }
func (r *Runner) Reports() *report.Dir   { return r.reports }
func (r *Runner) Timeout() time.Duration { return r.timeout }
func (r *Runner) AddHook(h Hook)         { r.hooks = append(r.hooks, h) }
func (r *Runner) ScriptExists() bool     { return r.script.Exists() }

func (r *Runner) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout > 0 {
		return context.WithTimeout(ctx, r.timeout)
	}
	return ctx, func() {}
}

// Run executes the script with the destination log path as its only argument.
// A nil error means the script ran to completion; check Result.OK for its verdict.
func (r *Runner) Run(ctx context.Context) (res Result, err error) {
	res = Result{ID: uuid.NewString(), Script: r.script.Path(), StartedAt: r.reports.Now()}
	begin := time.Now()
	defer func() {
		r.finish(ctx, res, err)
	}()

	if !r.script.Exists() {
		return res, fmt.Errorf("%w: %s", ErrScriptNotFound, r.script.Path())
	}
	if err := r.script.EnsureExecutable(); err != nil {
		return res, &UnexpectedError{Err: err}
	}

	res.LogPath = r.reports.LogPath(res.StartedAt)

	runCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	// #nosec G204 -- the script path comes from configuration, never from the request
	cmd := exec.CommandContext(runCtx, r.script.Path(), res.LogPath)
	cmd.Dir = r.reports.Path()
	cmd.Env = r.env.Merge()
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	configureSysProcAttr(cmd)
	if r.timeout > 0 {
		cmd.WaitDelay = killGrace
	}

	r.logger.Debug("starting audit script", "run_id", res.ID, "script", r.script.Path(), "log_path", res.LogPath)
	runErr := cmd.Run()
	res.Duration = time.Since(begin)
	res.Output = out.String()

	if runErr == nil {
		return res, nil
	}
	if r.timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitCode(exitErr)
		}
		return res, fmt.Errorf("%w after %s", ErrTimeout, r.timeout)
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		res.ExitCode = exitCode(exitErr)
		return res, nil
	}
	if errors.Is(runErr, fs.ErrNotExist) || errors.Is(runErr, exec.ErrNotFound) {
		return res, fmt.Errorf("%w: %v", ErrCannotExecute, runErr)
	}
	return res, &UnexpectedError{Err: runErr}
}

func (r *Runner) finish(ctx context.Context, res Result, err error) {
	outcome := Outcome(res, err)
	attrs := []any{
		"run_id", res.ID,
		"outcome", outcome,
		"exit_code", res.ExitCode,
		"log_path", res.LogPath,
		"duration", res.Duration,
	}
	switch outcome {
	case OutcomeSuccess:
		r.logger.Info("audit run finished", attrs...)
	case OutcomeNonZeroExit, OutcomeNotFound:
		r.logger.Warn("audit run finished", attrs...)
	default:
		r.logger.Error("audit run failed", append(attrs, "error", err)...)
	}
	for _, h := range r.hooks {
		h(ctx, res, err)
	}
}
