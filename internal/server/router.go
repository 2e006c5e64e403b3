package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/auditweb/internal/audit"
	"github.com/loykin/auditweb/internal/history"
	"github.com/loykin/auditweb/internal/metrics"
	"github.com/loykin/auditweb/internal/report"
)

// Router provides embeddable HTTP handlers for the audit runner.
// Endpoints:
//   GET  {basePath}/               landing page
//   POST {basePath}/run            run the audit script and wait for it
//   POST {basePath}/clear-reports  delete every *.log in the report directory
//   GET  {basePath}/reports        list report files, newest first
//   GET  {basePath}/healthz        liveness plus script presence
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	runner   *audit.Runner
	reports  *report.Dir
	history  *history.Recorder
	logger   *slog.Logger
	basePath string
}

// Options configure optional collaborators. A nil History disables clear events.
type Options struct {
	BasePath string
	Logger   *slog.Logger
	History  *history.Recorder
}

// NewRouter constructs a Router serving runner and its report directory.
func NewRouter(runner *audit.Runner, opts Options) *Router {
	l := opts.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Router{
		runner:   runner,
		reports:  runner.Reports(),
		history:  opts.History,
		logger:   l.With("component", "http"),
		basePath: sanitizeBase(opts.BasePath),
	}
}

// BasePath returns the sanitized mount prefix.
func (r *Router) BasePath() string { return r.basePath }

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), requestLogger(r.logger))
	r.Register(g.Group(r.basePath))
	return g
}

// Register mounts the routes on an existing gin group.
func (r *Router) Register(group *gin.RouterGroup) {
	group.GET("/", r.handleIndex)
	group.POST("/run", r.handleRun)
	group.POST("/clear-reports", r.handleClear)
	group.GET("/reports", r.handleReports)
	group.GET("/healthz", r.handleHealth)
}

// NewServer builds an http.Server for r. There is no write timeout: a run
// holds its request open until the script exits.
func NewServer(addr string, r *Router, tlsConfig *tls.Config) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// --- Handlers ---

type errorResp struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	RunID   string `json:"run_id,omitempty"`
}

type runResp struct {
	OK         bool   `json:"ok"`
	Output     string `json:"output"`
	LogPath    string `json:"log_path"`
	ReturnCode *int   `json:"return_code,omitempty"`
	Message    string `json:"message,omitempty"`
	RunID      string `json:"run_id,omitempty"`
}

type clearResp struct {
	OK      bool `json:"ok"`
	Deleted int  `json:"deleted"`
}

type reportsResp struct {
	OK      bool            `json:"ok"`
	Reports []report.Report `json:"reports"`
}

type healthResp struct {
	OK           bool `json:"ok"`
	ScriptExists bool `json:"script_exists"`
}

const (
	msgNonZeroExit   = "The script exited with a nonzero return code. See the output for details."
	msgCannotExecute = "Could not execute the script. Check that its interpreter is available."
)

func (r *Router) handleRun(c *gin.Context) {
	// a client disconnect must not kill a running audit
	ctx := context.WithoutCancel(c.Request.Context())

	metrics.IncInflight()
	res, err := r.runner.Run(ctx)
	metrics.DecInflight()

	var unexpected *audit.UnexpectedError
	switch {
	case err == nil:
		code := res.ExitCode
		resp := runResp{
			OK:         res.OK(),
			Output:     res.Output,
			LogPath:    res.LogPath,
			ReturnCode: &code,
			RunID:      res.ID,
		}
		if !res.OK() {
			resp.Message = msgNonZeroExit
		}
		writeJSON(c, http.StatusOK, resp)
	case errors.Is(err, audit.ErrScriptNotFound):
		writeJSON(c, http.StatusNotFound, errorResp{
			Message: fmt.Sprintf("The script %s was not found.", r.runner.Script().Name()),
			RunID:   res.ID,
		})
	case errors.Is(err, audit.ErrCannotExecute):
		writeJSON(c, http.StatusInternalServerError, errorResp{Message: msgCannotExecute, RunID: res.ID})
	case errors.Is(err, audit.ErrTimeout):
		writeJSON(c, http.StatusGatewayTimeout, runResp{
			Output:  res.Output,
			LogPath: res.LogPath,
			Message: fmt.Sprintf("The script did not finish within %s.", r.runner.Timeout()),
			RunID:   res.ID,
		})
	case errors.As(err, &unexpected):
		writeJSON(c, http.StatusInternalServerError, errorResp{Message: "Unexpected error: " + unexpected.Err.Error(), RunID: res.ID})
	default:
		writeJSON(c, http.StatusInternalServerError, errorResp{Message: "Unexpected error: " + err.Error(), RunID: res.ID})
	}
}

func (r *Router) handleClear(c *gin.Context) {
	deleted := r.reports.Clear()
	metrics.ObserveClear(deleted)
	if r.history != nil {
		r.history.RecordClear(c.Request.Context(), deleted)
	}
	r.logger.Info("reports cleared", "dir", r.reports.Path(), "deleted", deleted)
	writeJSON(c, http.StatusOK, clearResp{OK: true, Deleted: deleted})
}

func (r *Router) handleReports(c *gin.Context) {
	list, err := r.reports.List()
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Message: err.Error()})
		return
	}
	if list == nil {
		list = []report.Report{}
	}
	writeJSON(c, http.StatusOK, reportsResp{OK: true, Reports: list})
}

func (r *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, healthResp{OK: true, ScriptExists: r.runner.ScriptExists()})
}

func (r *Router) handleIndex(c *gin.Context) {
	reports, err := r.reports.List()
	if err != nil {
		r.logger.Warn("list reports for landing page", "error", err)
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := indexPage(pageData{
		BasePath:     r.basePath,
		Script:       r.runner.Script().Path(),
		ScriptExists: r.runner.ScriptExists(),
		ReportDir:    r.reports.Path(),
		Reports:      reports,
	}).Render(c.Writer); err != nil {
		r.logger.Error("render landing page", "error", err)
	}
}
