// Package runner defines the boundary to the combat engine: one call runs
// every trial for one encounter and returns normalized telemetry.
package runner

import (
	"context"

	"github.com/nvandessel/sweepsim/internal/catalog"
	"github.com/nvandessel/sweepsim/internal/models"
)

// Request is the input of one runner invocation.
type Request struct {
	ID        models.EncounterID
	Encounter catalog.Encounter
	Agent     models.AgentSnapshot
	// Trials is the number of kills (or deaths) to simulate.
	Trials int
	// Ticks caps the total simulated ticks across all trials.
	Ticks int
}

// Runner executes one encounter's trials. Implementations may check ctx
// between trials; they are never interrupted mid-trial.
// A returned error is recorded as a failed record carrying its message.
type Runner interface {
	Run(ctx context.Context, req Request) (models.Telemetry, error)
}

// Func adapts a function to the Runner interface.
type Func func(ctx context.Context, req Request) (models.Telemetry, error)

// Run implements Runner.
func (f Func) Run(ctx context.Context, req Request) (models.Telemetry, error) {
	return f(ctx, req)
}
