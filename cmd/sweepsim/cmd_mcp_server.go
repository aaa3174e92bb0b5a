package main

import (
	"context"
	"fmt"

	"github.com/nvandessel/sweepsim/internal/mcp"
	"github.com/spf13/cobra"
)

func newMCPServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Run as an MCP server over stdio",
		Long: `Run sweepsim as a Model Context Protocol server. Tools:

  sweep_request   start a sweep over a scope, optionally waiting for it
  sweep_cancel    cancel a running sweep
  sweep_status    report one sweep or all of them
  result_get      read the telemetry and adjusted rates of one id
  filter_set      include or exclude an encounter or group
  history_list    list recorded sweep snapshots

Tool calls are audited to audit.jsonl in the logging directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			agentPath, _ := cmd.Flags().GetString("agent")
			agent, err := loadAgent(agentPath)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
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

			server, err := mcp.NewServer(&mcp.Config{
				Name:     "sweepsim",
				Version:  version,
				Engine:   a.engine,
				History:  a.history,
				Agent:    agent,
				Trials:   cfg.Sweep.Trials,
				Ticks:    cfg.Sweep.Ticks,
				AuditDir: cfg.EventDir(),
				Logger:   a.logger,
			})
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}
			a.logger.Info("mcp server starting", "version", version)
			return server.Run(ctx)
		},
	}
	cmd.Flags().String("agent", "", "Default agent YAML file for sweep_request")
	return cmd
}
