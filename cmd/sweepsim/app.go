package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nvandessel/sweepsim/internal/adjust"
	"github.com/nvandessel/sweepsim/internal/aggregate"
	"github.com/nvandessel/sweepsim/internal/catalog"
	"github.com/nvandessel/sweepsim/internal/config"
	"github.com/nvandessel/sweepsim/internal/history"
	"github.com/nvandessel/sweepsim/internal/logging"
	"github.com/nvandessel/sweepsim/internal/loot"
	"github.com/nvandessel/sweepsim/internal/models"
	"github.com/nvandessel/sweepsim/internal/pathutil"
	"github.com/nvandessel/sweepsim/internal/runner"
	"github.com/nvandessel/sweepsim/internal/scheduler"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// app holds everything a command needs to run sweeps.
type app struct {
	cfg     *config.SimConfig
	logger  *slog.Logger
	events  *logging.EventLogger
	catalog *catalog.Catalog
	history *history.Store
	engine  *scheduler.Engine
}

// loadConfig reads the --config file (or the default one) and validates it.
func loadConfig(cmd *cobra.Command) (*config.SimConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newApp wires config into a ready engine. The caller must Close it.
func newApp(ctx context.Context, cmd *cobra.Command, cfg *config.SimConfig) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr()),
		events: logging.NewEventLogger(cfg.EventDir(), cfg.Logging.Level),
	}

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		a.events.Close()
		return nil, err
	}
	a.catalog = cat

	var table *loot.Table
	if cfg.Loot.Path != "" {
		if table, err = loot.Load(cfg.Loot.Path); err != nil {
			a.events.Close()
			return nil, err
		}
	}
	pass := loot.NewPass(table, cat, loot.Options{Alch: cfg.Loot.Alch, SessionSeconds: cfg.Loot.SessionSeconds})

	opts := scheduler.Options{
		Workers:      cfg.Sweep.Workers,
		Costs:        adjust.FromConfig(cfg.Costs),
		Loot:         pass,
		Aggregate:    aggregate.Options{SessionSeconds: cfg.Loot.SessionSeconds},
		TrackHistory: cfg.Sweep.TrackHistory,
		Logger:       a.logger,
		Events:       a.events,
	}
	if cfg.Sweep.TrackHistory {
		if a.history, err = history.New(ctx); err != nil {
			a.events.Close()
			return nil, fmt.Errorf("failed to open history: %w", err)
		}
		opts.History = a.history
	}

	a.engine = scheduler.New(cat, runner.Duel{Seed: cfg.Sweep.Seed}, opts)
	a.logger.Debug("engine ready",
		"catalog", pathutil.RedactPath(cfg.Catalog.Path),
		"encounters", len(cat.Encounters),
		"groups", len(cat.GroupIDs()),
		"workers", a.engine.PoolSize(),
		"history", cfg.Sweep.TrackHistory)
	return a, nil
}

// Close cancels running sweeps and releases the history and event log.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := a.engine.Close(ctx)
	if a.history != nil {
		if herr := a.history.Close(); herr != nil && err == nil {
			err = herr
		}
	}
	a.events.Close()
	return err
}

// defaultAgent is used when no agent file is given.
func defaultAgent() models.AgentSnapshot {
	return models.AgentSnapshot{
		Name:             "novice",
		Level:            3,
		MaxHitpoints:     10,
		AttackIntervalMs: 2400,
		MaxHit:           3,
		Accuracy:         200,
		Evasion:          150,
		FoodHeal:         3,
		AutoEatThreshold: 0.4,
		XPPerDamage:      map[string]float64{"attack": 4, "hitpoints": 1.33},
	}
}

// loadAgent reads an AgentSnapshot from a YAML file, or returns the
// default agent for an empty path.
func loadAgent(path string) (models.AgentSnapshot, error) {
	if path == "" {
		return defaultAgent(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return models.AgentSnapshot{}, fmt.Errorf("reading agent %s: %w", pathutil.RedactPath(path), err)
	}
	var agent models.AgentSnapshot
	if err := yaml.Unmarshal(data, &agent); err != nil {
		return models.AgentSnapshot{}, fmt.Errorf("parsing agent: %w", err)
	}
	if agent.MaxHitpoints <= 0 || agent.AttackIntervalMs <= 0 {
		return models.AgentSnapshot{}, fmt.Errorf("agent %q needs positive max_hitpoints and attack_interval_ms", agent.Name)
	}
	return agent, nil
}
