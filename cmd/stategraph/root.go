package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flowgraph/stategraph/internal/app/bootstrap"
	"github.com/flowgraph/stategraph/internal/config"
	"github.com/flowgraph/stategraph/internal/infrastructure/logging"
)

// globalFlags holds flags shared by every command.
type globalFlags struct {
	configFile string
	envFile    string
	output     string
	logLevel   string
}

// Execute runs the CLI with signal handling.
func Execute(ctx context.Context, args []string) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := newRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "stategraph",
		Short: "Run state graphs with checkpoints and interrupts",
		Long: `stategraph runs the bundled graph templates (diamond, review,
refine, tools) on the configured checkpoint store.

Resuming across invocations needs a durable store: set store.kind to
sqlite, postgres or file in the config file, or STATEGRAPH_STORE_KIND.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if flags.output != "text" && flags.output != "json" {
				return fmt.Errorf("unknown output format %q", flags.output)
			}
			return nil
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "Path to a YAML config file")
	pf.StringVar(&flags.envFile, "env-file", ".env", "Path to a dotenv file (ignored when missing)")
	pf.StringVarP(&flags.output, "output", "o", "text", "Output format (text|json)")
	pf.StringVar(&flags.logLevel, "log-level", "", "Override log level (debug|info|warn|error)")

	root.AddCommand(
		newRunCmd(flags),
		newResumeCmd(flags),
		newStateCmd(flags),
		newUpdateCmd(flags),
		newHistoryCmd(flags),
		newDeleteCmd(flags),
		newGraphsCmd(flags),
		newVersionCmd(),
	)
	return root
}

// openApp loads configuration and wires the application. Logs go to
// stderr so stdout carries only command output.
func openApp(cmd *cobra.Command, flags *globalFlags) (*bootstrap.App, context.Context, error) {
	cfg, err := config.Load(config.Options{File: flags.configFile, EnvFile: flags.envFile})
	if err != nil {
		return nil, nil, err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	app, err := bootstrap.New(cmd.Context(), cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	return app, logging.WithLogger(cmd.Context(), app.Logger), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readInput parses a JSON object from a literal or, with a leading @,
// from a file.
func readInput(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	data := []byte(raw)
	if raw[0] == '@' {
		var err error
		if data, err = os.ReadFile(raw[1:]); err != nil {
			return nil, err
		}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	return out, nil
}
