package auditweb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/auditweb/internal/audit"
	cfg "github.com/loykin/auditweb/internal/config"
	"github.com/loykin/auditweb/internal/env"
	"github.com/loykin/auditweb/internal/history"
	"github.com/loykin/auditweb/internal/history/factory"
	"github.com/loykin/auditweb/internal/metrics"
	"github.com/loykin/auditweb/internal/report"
	iapi "github.com/loykin/auditweb/internal/server"
	itls "github.com/loykin/auditweb/internal/tls"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type Result = audit.Result

type Report = report.Report

type HistorySink = history.Sink

var (
	ErrScriptNotFound = audit.ErrScriptNotFound
	ErrCannotExecute  = audit.ErrCannotExecute
	ErrTimeout        = audit.ErrTimeout
)

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// Service wires the runner, report directory, history export and HTTP router
// from one Config.
type Service struct {
	runner  *audit.Runner
	reports *report.Dir
	history *history.Recorder
	router  *iapi.Router
	logger  *slog.Logger
}

// New builds a Service. Extra sinks are appended to those named in the
// history config and are used even when history.enabled is false.
func New(c *Config, logger *slog.Logger, extra ...HistorySink) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	reports, err := report.Open(c.ReportDir(), report.WithPrefix(c.Audit.ReportPrefix))
	if err != nil {
		return nil, err
	}
	kvs, err := c.AuditEnv()
	if err != nil {
		return nil, fmt.Errorf("audit env: %w", err)
	}

	var sinks []history.Sink
	if c.History.Enabled {
		sinks, err = factory.NewSinks(c.History.Sinks)
		if err != nil {
			return nil, fmt.Errorf("history sinks: %w", err)
		}
	}
	sinks = append(sinks, extra...)

	hooks := []audit.Hook{metrics.RunHook}
	var rec *history.Recorder
	if len(sinks) > 0 {
		rec = history.NewRecorder(logger, c.History.Timeout, sinks...)
		hooks = append(hooks, rec.RunHook)
	}

	runner := audit.NewRunner(audit.NewScript(c.ScriptPath()), reports, audit.Options{
		Timeout: c.Audit.Timeout,
		Env:     env.ForAudit(c.Audit.Locale, kvs),
		Logger:  logger,
		Hooks:   hooks,
	})

	return &Service{
		runner:  runner,
		reports: reports,
		history: rec,
		router:  iapi.NewRouter(runner, iapi.Options{BasePath: c.Server.BasePath, Logger: logger, History: rec}),
		logger:  logger,
	}, nil
}

func (s *Service) ScriptPath() string    { return s.runner.Script().Path() }
func (s *Service) ScriptExists() bool    { return s.runner.ScriptExists() }
func (s *Service) ReportDir() string     { return s.reports.Path() }
func (s *Service) Handler() http.Handler { return s.router.Handler() }
func (s *Service) BasePath() string      { return s.router.BasePath() }

// Register mounts the audit routes on an existing gin group. The group's
// prefix should equal BasePath so the page's links resolve.
func (s *Service) Register(group *gin.RouterGroup) { s.router.Register(group) }

// Run executes the audit script once. See audit.Runner.Run.
func (s *Service) Run(ctx context.Context) (Result, error) {
	metrics.IncInflight()
	defer metrics.DecInflight()
	return s.runner.Run(ctx)
}

// ClearReports deletes every *.log in the report directory.
func (s *Service) ClearReports(ctx context.Context) int {
	deleted := s.reports.Clear()
	metrics.ObserveClear(deleted)
	if s.history != nil {
		s.history.RecordClear(ctx, deleted)
	}
	s.logger.Info("reports cleared", "dir", s.reports.Path(), "deleted", deleted)
	return deleted
}

// Reports lists report files, newest first.
func (s *Service) Reports() ([]Report, error) { return s.reports.List() }

// Close releases history sinks.
func (s *Service) Close() error {
	if s.history == nil {
		return nil
	}
	return s.history.Close()
}

// NewHTTPServer returns an unstarted server for s on c's listen address.
// TLSConfig is set when server.tls is enabled; start it with ListenAndServeTLS("", "").
func NewHTTPServer(c *Config, s *Service) (*http.Server, error) {
	tlsConfig, err := itls.Setup(c)
	if err != nil {
		return nil, fmt.Errorf("tls setup: %w", err)
	}
	return iapi.NewServer(c.ListenAddr(), s.router, tlsConfig), nil
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// NewMetricsServer returns an unstarted server exposing /metrics on addr.
func NewMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// IsClosed reports whether err only signals an orderly server shutdown.
func IsClosed(err error) bool {
	return err == nil || errors.Is(err, http.ErrServerClosed)
}
