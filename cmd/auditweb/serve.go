package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/auditweb"
	"github.com/loykin/auditweb/internal/config"
	"github.com/loykin/auditweb/internal/logger"
)

const shutdownTimeout = 10 * time.Second

// serveOverrides maps serve flags onto config keys.
var serveOverrides = map[string]string{
	"listen":     "server.listen",
	"port":       "server.port",
	"base-path":  "server.base_path",
	"script":     "audit.script",
	"report-dir": "audit.report_dir",
	"timeout":    "audit.timeout",
	"log-level":  "log.level",
	"log-format": "log.format",
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	v := config.New()

	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the audit web server",
		Long: `Start the HTTP server that exposes the audit page and API.
Configuration comes from the optional config file, AUDITWEB_* environment
variables, PORT, and the flags below, in increasing precedence.

Examples:
  auditweb serve
  auditweb serve auditweb.toml
  PORT=8080 auditweb serve
  auditweb serve --script=/opt/audit/debian_system_audit.sh --report-dir=/var/lib/auditweb
  auditweb serve --daemonize --pidfile=/run/auditweb.pid --logfile=/var/log/auditweb.out`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			if len(args) > 0 {
				serveFlags.ConfigPath = args[0]
			}
			return runServeCommand(cmd.Context(), serveFlags, v)
		},
	}

	f := cmd.Flags()
	f.String("listen", "", "bind address (default 0.0.0.0)")
	f.Int("port", 0, "listen port (default $PORT or 5000)")
	f.String("base-path", "", "mount every route under this prefix")
	f.String("script", "", "audit script path, relative to base_dir")
	f.String("report-dir", "", "report directory, relative to base_dir")
	f.Duration("timeout", 0, "abort runs after this long (0 = never)")
	f.String("log-level", "", "debug, info, warn or error")
	f.String("log-format", "", "text or json")
	for name, key := range serveOverrides {
		_ = v.BindPFlag(key, f.Lookup(name))
	}

	f.BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	f.StringVar(&serveFlags.PidFile, "pidfile", "", "write the server PID to this file (overrides server.pidfile)")
	f.StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon output to file (overrides server.logfile)")

	return cmd
}

func runServeCommand(ctx context.Context, flags *ServeFlags, v *viper.Viper) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.LoadWith(v, flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	pidFile := cfg.Resolve(firstNonEmpty(flags.PidFile, cfg.Server.PIDFile))
	if flags.Daemonize {
		if !isDaemonSupported() {
			return fmt.Errorf("--daemonize is not supported on this platform")
		}
		return daemonize(pidFile, cfg.Resolve(firstNonEmpty(flags.LogFile, cfg.Server.LogFile)))
	}

	log, closer, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = closer.Close() }()
	slog.SetDefault(log)
	if lvl, _ := logger.ParseLevel(cfg.Log.Level); lvl > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		if err := auditweb.RegisterMetricsDefault(); err != nil {
			log.Warn("failed to register metrics", "error", err)
		} else if cfg.Metrics.Listen != "" {
			metricsSrv = auditweb.NewMetricsServer(cfg.Metrics.Listen)
		}
	}

	svc, err := auditweb.New(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Warn("closing history sinks", "error", err)
		}
	}()
	if !svc.ScriptExists() {
		log.Warn("audit script not found; /run will answer 404 until it exists", "script", svc.ScriptPath())
	}

	srv, err := auditweb.NewHTTPServer(cfg, svc)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	}

	if pidFile != "" {
		if err := writePidFile(pidFile, os.Getpid()); err != nil {
			_ = ln.Close()
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = removePidFile(pidFile) }()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("audit web server listening",
			"addr", ln.Addr().String(),
			"tls", srv.TLSConfig != nil,
			"base_path", cfg.Server.BasePath,
			"script", svc.ScriptPath(),
			"report_dir", svc.ReportDir())
		var err error
		if srv.TLSConfig != nil {
			err = srv.ServeTLS(ln, "", "")
		} else {
			err = srv.Serve(ln)
		}
		if auditweb.IsClosed(err) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	})
	if metricsSrv != nil {
		g.Go(func() error {
			log.Info("metrics server listening", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); !auditweb.IsClosed(err) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		if err := srv.Shutdown(sctx); err != nil {
			errs = append(errs, err)
		}
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(sctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
