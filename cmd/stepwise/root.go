package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/roushou/stepwise/internal/app"
	"github.com/roushou/stepwise/internal/platform/config"
	"github.com/roushou/stepwise/internal/platform/logging"
)

const (
	outputJSON = "json"
	outputText = "text"
)

type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	cfgFile string
	output  string
	cfg     config.Config
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	c := &cli{stdin: stdin, stdout: stdout, stderr: stderr}
	root := c.newRootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var reported reportedError
	if !errors.As(err, &reported) {
		fmt.Fprintf(stderr, "stepwise: %v\n", err)
	}
	return exitCode(err)
}

func (c *cli) newRootCmd() *cobra.Command {
	v := viper.New()
	root := &cobra.Command{
		Use:   "stepwise",
		Short: "Resumable, token-driven workflows over a queue of items",
		Long: `stepwise walks a driver through the items matched by a saved workflow,
one item per call. Each response carries a continuation token; pass it back
with the next action to advance.

Example:
  stepwise start unread-inbox
  stepwise continue <token> reply --body "Thanks, on it."
  stepwise continue <token> archive`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch c.output {
			case outputJSON, outputText:
			default:
				return usageError{fmt.Errorf("unsupported output %q (want json or text)", c.output)}
			}
			cfg, err := config.Load(v, c.cfgFile)
			if err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (default is $HOME/.stepwise.yaml)")
	flags.StringVarP(&c.output, "output", "o", outputJSON, "output format (json, text)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("state-dir", "", "directory for sessions, definitions and the run log")
	flags.String("session-backend", "", "session backend (file, redis, memory)")
	_ = v.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = v.BindPFlag("state_dir", flags.Lookup("state-dir"))
	_ = v.BindPFlag("session_backend", flags.Lookup("session-backend"))

	root.AddCommand(
		c.newStartCmd(),
		c.newContinueCmd(),
		c.newDeleteCmd(),
		c.newCleanupCmd(),
		c.newWorkflowsCmd(),
		c.newServeCmd(),
	)
	return root
}

// openApp builds the application for one command invocation.
func (c *cli) openApp() (*app.App, error) {
	return app.NewWithLogger(c.cfg, logging.NewWithWriter(c.cfg.LogLevel, c.stderr))
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}
