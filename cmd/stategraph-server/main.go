// Package main provides the stategraph HTTP server: run, resume and
// inspect threads of the bundled graphs, plus health, metrics and debug
// endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flowgraph/stategraph/internal/app/bootstrap"
	"github.com/flowgraph/stategraph/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts config.Options
	var addr string
	cmd := &cobra.Command{
		Use:           "stategraph-server",
		Short:         "Serve stategraph runs over HTTP",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg, err := config.Load(opts)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			app, err := bootstrap.New(ctx, cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer app.Close()
			return serve(ctx, app)
		},
	}
	cmd.Flags().StringVar(&opts.File, "config", "", "Path to a YAML config file")
	cmd.Flags().StringVar(&opts.EnvFile, "env-file", ".env", "Path to a dotenv file (ignored when missing)")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

// serve runs until ctx is done, then drains in-flight requests.
func serve(ctx context.Context, app *bootstrap.App) error {
	srv := &http.Server{
		Addr:    app.Config.Server.Addr,
		Handler: newHandler(app),
	}
	errc := make(chan error, 1)
	go func() {
		app.Logger.Info("starting stategraph server", "addr", srv.Addr, "graphs", app.Registry.Names())
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), app.Config.Server.ShutdownTimeout)
	defer cancel()
	app.Logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
