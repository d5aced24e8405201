package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(command{out: os.Stdout, errOut: os.Stderr})
	if err := root.Execute(); err != nil {
		var ee exitError
		if !errors.As(err, &ee) || ee.msg != "" {
			_, _ = fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// exitError ends the process with status 1. An empty msg means the failure
// has already been reported.
type exitError struct{ msg string }

func (e exitError) Error() string { return e.msg }

// buildRoot creates the root command and its subcommands.
func buildRoot(c command) *cobra.Command {
	global := &GlobalFlags{}
	root := createRootCommand(global)
	c.global = global

	root.AddCommand(
		createRunCommand(c, &RunFlags{}),
		createHealthCommand(c),
		createModelsCommand(c),
		createPullCommand(c),
		createPathsCommand(c),
	)
	return root
}

// createRootCommand creates the root command with the persistent flags shared by every subcommand.
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "launchr",
		Short: "Startup supervisor for the local AI backend",
		Long: `Launchr brings up the local model service, makes sure the required models
are present, starts the bundled backend and waits until it reports healthy.

Examples:
  launchr run                               # supervise until interrupted
  launchr run --once --metrics-file=/var/lib/node_exporter/launchr.prom
  launchr health --backend-url=http://localhost:8000
  launchr models
  launchr pull phi4-mini:latest
  launchr paths --resource-dir=/Applications/LocalBook.app/Contents/Resources`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	pf.BoolVar(&flags.NoColor, "no-color", false, "disable coloured output")
	pf.String("backend-url", "", "backend base URL")
	pf.String("ollama-url", "", "Ollama base URL")
	pf.String("resource-dir", "", "application resource directory holding the bundled backend")
	pf.String("mode", "", "backend launch mode: exec or sidecar")
	pf.String("output", "", "backend output: inherit, capture, file or discard")
	pf.String("log-level", "", "log level: debug, info, warn or error")
	pf.String("log-file", "", "also write logs to this rotated file")
	pf.String("metrics-file", "", "write Prometheus metrics to this textfile")
	pf.String("state-dir", "", "directory for the supervisor lock file")
	return root
}
