// Package mcp provides an MCP (Model Context Protocol) server that drives
// sweeps over stdio.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nvandessel/sweepsim/internal/history"
	"github.com/nvandessel/sweepsim/internal/logging"
	"github.com/nvandessel/sweepsim/internal/models"
	"github.com/nvandessel/sweepsim/internal/ratelimit"
	"github.com/nvandessel/sweepsim/internal/scheduler"
)

// Server wraps the MCP SDK server around a sweep engine.
type Server struct {
	server  *sdk.Server
	engine  *scheduler.Engine
	history *history.Store

	agent  models.AgentSnapshot
	trials int
	ticks  int

	toolLimiters ratelimit.ToolLimiters
	auditLogger  *AuditLogger
	logger       *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "sweepsim")
	Version string // Server version

	Engine *scheduler.Engine
	// History is nil when tracking is off.
	History *history.Store

	// Agent, Trials and Ticks are used by sweep_request unless overridden.
	Agent  models.AgentSnapshot
	Trials int
	Ticks  int

	// AuditDir receives audit.jsonl. Empty disables auditing.
	AuditDir string
	Logger   *slog.Logger
}

// NewServer creates an MCP server with the sweep tools registered.
func NewServer(cfg *Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	s := &Server{
		server:       mcpServer,
		engine:       cfg.Engine,
		history:      cfg.History,
		agent:        cfg.Agent.Clone(),
		trials:       cfg.Trials,
		ticks:        cfg.Ticks,
		toolLimiters: ratelimit.NewToolLimiters(),
		logger:       logging.OrDiscard(cfg.Logger),
	}
	if cfg.AuditDir != "" {
		s.auditLogger = NewAuditLogger(cfg.AuditDir)
	}

	s.registerTools()
	return s, nil
}

// Run starts the MCP server over stdio transport.
// This blocks until the client disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := s.server.Run(ctx, &sdk.StdioTransport{})

	if cerr := s.Close(); cerr != nil {
		s.logger.Warn("closing mcp server", "error", cerr)
	}
	return err
}

// Close cancels running sweeps and closes the audit log.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.engine.Close(ctx); err != nil {
		s.auditLogger.Close()
		return fmt.Errorf("waiting for sweeps: %w", err)
	}
	return s.auditLogger.Close()
}
