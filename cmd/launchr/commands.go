package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/loykin/launchr"
	"github.com/loykin/launchr/internal/config"
	"github.com/loykin/launchr/internal/logger"
	"github.com/loykin/launchr/internal/process"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// command carries the CLI's output streams and global flags.
type command struct {
	out    io.Writer
	errOut io.Writer
	global *GlobalFlags
	// signals overrides the interrupt source in tests.
	signals func(ctx context.Context) (context.Context, context.CancelFunc)
}

// setup loads configuration and builds the logger.
func (c command) setup(fs *pflag.FlagSet) (*launchr.Config, *loggerBundle, error) {
	cfg, err := launchr.LoadConfig(c.global.ConfigPath, fs)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Metrics.Textfile != "" {
		cfg.Metrics.Enabled = true
	}
	if c.global.NoColor {
		cfg.Log.Color = false
	}
	l, closer, err := logger.New(cfg.Log, c.errOut)
	if err != nil {
		return nil, nil, err
	}
	return cfg, &loggerBundle{Logger: l, closer: closer}, nil
}

func createRunCommand(c command, flags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the startup sequence and supervise the backend",
		Long: `Run starts Ollama if needed, pulls missing models, launches the bundled backend
and polls its health endpoint. Status changes are printed as they happen.
Once ready, the backend is kept running until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.Run(cmd.Context(), cmd.Flags(), *flags)
		},
	}
	cmd.Flags().BoolVar(&flags.Once, "once", false, "exit once the backend is ready and leave it running detached")
	cmd.Flags().DurationVar(&flags.StopTimeout, "stop-timeout", 0, "grace period before the backend is killed on shutdown")
	return cmd
}

// Run drives one supervisor to a terminal stage and renders its progress.
func (c command) Run(ctx context.Context, fs *pflag.FlagSet, f RunFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, lb, err := c.setup(fs)
	if err != nil {
		return err
	}
	defer lb.Close()

	lock, err := acquireLock(cfg.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	r := newRenderer(c.out, !c.global.NoColor)
	if f.Once {
		note, err := detachForOnce(cfg)
		if err != nil {
			return err
		}
		if note != "" {
			r.notice(note)
		}
	}

	notify := c.signals
	if notify == nil {
		notify = func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		}
	}
	sigCtx, stop := notify(ctx)
	defer stop()

	sup, err := launchr.New(launchr.Options{Config: cfg, Logger: lb.Logger})
	if err != nil {
		return err
	}
	updates, cancel := sup.Subscribe()
	defer cancel()
	r.render(sup.Status())
	if err := sup.Start(); err != nil {
		return err
	}

	stopWait := cfg.Backend.StopTimeout
	if f.StopTimeout > 0 {
		stopWait = f.StopTimeout
	}

wait:
	for {
		select {
		case rec := <-updates:
			r.render(rec)
		case <-sup.Done():
			break wait
		case <-sigCtx.Done():
			// the sequence cannot be cancelled; stop what we own and leave
			r.notice("Interrupted during startup, stopping backend")
			return errors.Join(sup.Shutdown(stopWait), exitError{})
		}
	}
	// drain what was published before Done
	for {
		select {
		case rec := <-updates:
			r.render(rec)
			continue
		default:
		}
		break
	}
	final := sup.Status()
	r.render(final)

	if final.Stage == launchr.StageError {
		r.guidance(cfg.HealthURL())
		_ = sup.Shutdown(stopWait)
		return exitError{}
	}
	if f.Once {
		r.notice(fmt.Sprintf("Backend ready at %s", cfg.Backend.URL))
		return nil
	}
	r.notice("Backend ready, press Ctrl+C to stop")
	<-sigCtx.Done()
	r.notice("Stopping backend")
	if err := sup.Shutdown(stopWait); err != nil {
		return fmt.Errorf("stop backend: %w", err)
	}
	return nil
}

// detachForOnce prepares cfg so the backend keeps running after launchr
// exits. Captured output is switched to discard; modes that need launchr to
// stay alive are rejected.
func detachForOnce(cfg *launchr.Config) (string, error) {
	cfg.Backend.Detached = true
	note := ""
	if process.OutputMode(cfg.Backend.Output) == process.OutputCapture && cfg.Backend.Mode == config.ModeExec {
		cfg.Backend.Output = string(process.OutputDiscard)
		note = "Backend output is discarded with --once; set backend.output = \"inherit\" to keep it"
	}
	if err := cfg.Validate(); err != nil {
		return "", fmt.Errorf("run --once: %w", err)
	}
	return note, nil
}

func createHealthCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe the backend health endpoint once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, lb, err := c.setup(cmd.Flags())
			if err != nil {
				return err
			}
			defer lb.Close()
			sup, err := launchr.New(launchr.Options{Config: cfg, Logger: lb.Logger})
			if err != nil {
				return err
			}
			if sup.CheckHealth(ctxOf(cmd)) {
				_, _ = fmt.Fprintf(c.out, "%s healthy\n", cfg.HealthURL())
				return nil
			}
			_, _ = fmt.Fprintf(c.out, "%s unhealthy\n", cfg.HealthURL())
			return exitError{}
		},
	}
}

func createModelsCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List required models and whether Ollama has them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, lb, err := c.setup(cmd.Flags())
			if err != nil {
				return err
			}
			defer lb.Close()
			sup, err := launchr.New(launchr.Options{Config: cfg, Logger: lb.Logger})
			if err != nil {
				return err
			}
			client := sup.Ollama()
			ctx := ctxOf(cmd)
			if !client.IsRunning(ctx) {
				return fmt.Errorf("ollama is not reachable at %s", client.BaseURL())
			}
			installed, err := client.ListModels(ctx)
			if err != nil {
				return err
			}
			sizes := make(map[string]int64, len(installed))
			for _, m := range installed {
				sizes[m.Name] = m.Size
			}
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "MODEL\tDESCRIPTION\tPRESENT")
			missing := 0
			for _, req := range cfg.Models {
				present := "no"
				if client.HasModel(ctx, req.ID) {
					present = "yes"
				} else {
					missing++
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", req.ID, req.Description, present)
			}
			_ = tw.Flush()
			_, _ = fmt.Fprintf(c.out, "%d installed, %d of %d required missing\n", len(installed), missing, len(cfg.Models))
			return nil
		},
	}
}

func createPullCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "pull <model>",
		Short: "Download one model through Ollama",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, lb, err := c.setup(cmd.Flags())
			if err != nil {
				return err
			}
			defer lb.Close()
			sup, err := launchr.New(launchr.Options{Config: cfg, Logger: lb.Logger})
			if err != nil {
				return err
			}
			start := time.Now()
			if err := sup.Ollama().Pull(ctxOf(cmd), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(c.out, "pulled %s in %s\n", args[0], time.Since(start).Round(time.Second))
			return nil
		},
	}
}

func createPathsCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Show where the bundled backend is looked for",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, lb, err := c.setup(cmd.Flags())
			if err != nil {
				return err
			}
			defer lb.Close()
			t := process.Target{Name: cfg.Backend.Name, ResourceDir: cfg.Backend.ResourceDir}
			cands, err := t.CandidatePaths()
			if err != nil {
				return err
			}
			resolved, found := process.Resolve(cands)
			for _, p := range cands {
				mark := " "
				if found && p == resolved {
					mark = "*"
				}
				_, _ = fmt.Fprintf(c.out, "%s %s\n", mark, p)
			}
			if !found {
				_, _ = fmt.Fprintln(c.out, "no bundled backend found; it is expected to be started externally")
			}
			return nil
		},
	}
}

func ctxOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

type loggerBundle struct {
	Logger *slog.Logger
	closer io.Closer
}

func (b *loggerBundle) Close() { _ = b.closer.Close() }

// defaultStateDir is where the lock file lives when state_dir is unset.
func defaultStateDir() string {
	if d, err := os.UserCacheDir(); err == nil {
		return filepath.Join(d, "launchr")
	}
	return filepath.Join(os.TempDir(), "launchr")
}
