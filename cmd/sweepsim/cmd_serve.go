package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/nvandessel/sweepsim/internal/httpapi"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the sweep API over HTTP",
		Long: `Start an HTTP server that accepts sweep requests, reports status and
results, and streams progress to websocket clients at /ws.

The listen address comes from server.addr in the config file unless
--addr is given.

Examples:
  sweepsim serve
  sweepsim serve --addr 127.0.0.1:9000 --agent agent.yaml`,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "", "Listen address (default from config)")
	cmd.Flags().String("agent", "", "Default agent YAML file for requests that omit one")
	cmd.Flags().Bool("quiet", false, "Disable the access log")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	agentPath, _ := cmd.Flags().GetString("agent")
	quiet, _ := cmd.Flags().GetBool("quiet")

	agent, err := loadAgent(agentPath)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.Server.Addr
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := httpapi.Options{
		Engine:  a.engine,
		History: a.history,
		Agent:   agent,
		Trials:  cfg.Sweep.Trials,
		Ticks:   cfg.Sweep.Ticks,
		Config:  cfg.Server,
		Logger:  a.logger,
	}
	if !quiet {
		opts.AccessLog = cmd.OutOrStdout()
	}
	api := httpapi.New(opts)
	defer api.Close()

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", "addr", addr, "workers", a.engine.PoolSize())
		errCh <- srv.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)
	defer signal.Stop(sigChan)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-sigChan:
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
