package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/auditweb"
	"github.com/loykin/auditweb/internal/logger"
	"github.com/loykin/auditweb/pkg/client"
)

func addRemoteFlags(cmd *cobra.Command, f *RemoteFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "talk to a running server (e.g. http://host:5000) instead of running locally")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "timeout for clear-reports and reports calls")
	cmd.Flags().BoolVar(&f.Insecure, "insecure", false, "skip TLS verification for https api-url")
}

func createRunCommand(globalFlags *GlobalFlags) *cobra.Command {
	flags := &RunFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the audit script once",
		Long: `Run the audit script and print its merged output. The command exits
with the script's return code.

Examples:
  auditweb run
  auditweb run --json
  auditweb run --api-url=http://localhost:5000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flags.APIUrl != "" {
				return runViaAPI(cmd.Context(), cmd.OutOrStdout(), flags)
			}
			return runLocal(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), globalFlags.ConfigPath, flags.JSON)
		},
	}
	addRemoteFlags(cmd, &flags.RemoteFlags)
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print the result as JSON")
	return cmd
}

func createClearReportsCommand(globalFlags *GlobalFlags) *cobra.Command {
	flags := &ClearFlags{}
	cmd := &cobra.Command{
		Use:   "clear-reports",
		Short: "Delete every *.log file in the report directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var deleted int
			if flags.APIUrl != "" {
				c, err := newAPIClient(flags.RemoteFlags)
				if err != nil {
					return err
				}
				if deleted, err = c.ClearReports(cmd.Context()); err != nil {
					return err
				}
			} else {
				svc, release, err := localService(globalFlags.ConfigPath, cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				defer release()
				deleted = svc.ClearReports(contextOrBackground(cmd.Context()))
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "deleted %d report(s)\n", deleted)
			return err
		},
	}
	addRemoteFlags(cmd, &flags.RemoteFlags)
	return cmd
}

func createReportsCommand(globalFlags *GlobalFlags) *cobra.Command {
	flags := &ReportsFlags{}
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "List report logs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var list []client.Report
			if flags.APIUrl != "" {
				c, err := newAPIClient(flags.RemoteFlags)
				if err != nil {
					return err
				}
				if list, err = c.ListReports(cmd.Context()); err != nil {
					return err
				}
			} else {
				svc, release, err := localService(globalFlags.ConfigPath, cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				defer release()
				local, err := svc.Reports()
				if err != nil {
					return err
				}
				for _, r := range local {
					list = append(list, client.Report(r))
				}
			}
			return printReports(cmd.OutOrStdout(), list)
		},
	}
	addRemoteFlags(cmd, &flags.RemoteFlags)
	return cmd
}

func newAPIClient(f RemoteFlags) (*client.Client, error) {
	return client.New(client.Config{BaseURL: f.APIUrl, Timeout: f.APITimeout, Insecure: f.Insecure})
}

// localService builds a Service from the config file with logs on stderr.
// The returned release func closes the service and the log file.
func localService(configPath string, stderr io.Writer) (*auditweb.Service, func(), error) {
	cfg, err := auditweb.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading config: %w", err)
	}
	lc := cfg.LoggerConfig()
	lc.Output = stderr
	log, closer, err := logger.New(lc)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	svc, err := auditweb.New(cfg, log)
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}
	return svc, func() {
		_ = svc.Close()
		_ = closer.Close()
	}, nil
}

func runLocal(ctx context.Context, stdout, stderr io.Writer, configPath string, asJSON bool) error {
	svc, release, err := localService(configPath, stderr)
	if err != nil {
		return err
	}
	defer release()

	res, runErr := svc.Run(contextOrBackground(ctx))
	if errors.Is(runErr, auditweb.ErrScriptNotFound) {
		return runErr
	}
	out := client.RunResult{
		OK:      runErr == nil && res.OK(),
		Output:  res.Output,
		LogPath: res.LogPath,
		RunID:   res.ID,
	}
	if runErr == nil {
		code := res.ExitCode
		out.ReturnCode = &code
	} else {
		out.Message = runErr.Error()
	}
	if err := printRunResult(stdout, &out, asJSON); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	if res.ExitCode != 0 {
		return &exitError{code: res.ExitCode}
	}
	return nil
}

func runViaAPI(ctx context.Context, stdout io.Writer, flags *RunFlags) error {
	c, err := newAPIClient(flags.RemoteFlags)
	if err != nil {
		return err
	}
	res, err := c.Run(contextOrBackground(ctx))
	if res != nil {
		if perr := printRunResult(stdout, res, flags.JSON); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}
	if res.ReturnCode != nil && *res.ReturnCode != 0 {
		return &exitError{code: *res.ReturnCode}
	}
	return nil
}

func printRunResult(w io.Writer, res *client.RunResult, asJSON bool) error {
	if asJSON {
		b, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}
	if _, err := io.WriteString(w, res.Output); err != nil {
		return err
	}
	if res.LogPath != "" {
		_, _ = fmt.Fprintf(w, "\nlog: %s\n", res.LogPath)
	}
	if res.Message != "" {
		_, _ = fmt.Fprintln(w, res.Message)
	}
	return nil
}

func printReports(w io.Writer, list []client.Report) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, "no reports")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tSIZE\tMODIFIED")
	for _, r := range list {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\n", r.Name, r.Size, r.Modified.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
