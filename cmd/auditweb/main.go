package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// exitError carries the audit script's return code out of the run command.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("audit script exited with code %d", e.code) }

// buildRoot creates the root command and its subcommands
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createRunCommand(globalFlags),
		createClearReportsCommand(globalFlags),
		createReportsCommand(globalFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "auditweb",
		Short: "Web front end for the Debian system audit script",
		Long: `auditweb serves a small web page that runs the system audit script
on demand and manages the log files it leaves in the report directory.

Examples:
  auditweb serve                              # Listen on 0.0.0.0:$PORT (default 5000)
  auditweb serve --config=auditweb.toml
  auditweb run                                # Run the script once, locally
  auditweb run --api-url=http://host:5000     # Ask a running server to run it
  auditweb clear-reports
  auditweb reports --api-url=http://host:5000`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML/YAML/JSON config file (optional)")

	return root
}
