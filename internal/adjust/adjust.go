// Package adjust rescales per-second rates to account for the downtime
// needed to replenish consumed resources.
package adjust

import (
	"encoding/json"
	"maps"
	"math"

	"github.com/nvandessel/sweepsim/internal/models"
)

// CostModel maps a resource to the seconds needed to replenish one unit.
// Resources without an entry are free.
type CostModel map[models.ResourceID]float64

// Seconds returns the replenish cost of one unit of r.
func (c CostModel) Seconds(r models.ResourceID) float64 {
	return c[r]
}

// FromConfig converts a string-keyed cost table.
func FromConfig(m map[string]float64) CostModel {
	out := make(CostModel, len(m))
	for k, v := range m {
		out[models.ResourceID(k)] = v
	}
	return out
}

// Rates is the adjusted view of a Telemetry record.
type Rates struct {
	// Factor is real elapsed time over simulated time.
	Factor float64

	KillTimeSeconds    float64
	KillsPerSecond     float64
	XPPerSecond        map[string]float64
	ResourcesPerSecond map[models.ResourceID]float64
	LootValuePerSecond float64
	KillGPPerSecond    float64
	GPPerSecond        float64
}

// Factor returns 1 + Σ consumptionRate × replenishSeconds.
func Factor(t models.Telemetry, cost CostModel) float64 {
	f := 1.0
	for r, rate := range t.ResourcesPerSecond {
		if s := cost.Seconds(r); s != 0 {
			f += rate * s
		}
	}
	return f
}

// Adjust divides every simple rate by the downtime factor. Currency is
// recombined from its kill-derived part, which is earned once per kill cycle
// however long the cycle takes, and its alching part, which costs fixed time
// per cycle.
func Adjust(t models.Telemetry, cost CostModel) Rates {
	f := Factor(t, cost)
	r := Rates{
		Factor:             f,
		KillTimeSeconds:    t.KillTimeSeconds * f,
		KillsPerSecond:     t.KillsPerSecond / f,
		XPPerSecond:        scaleMap(t.XPPerSecond, f),
		ResourcesPerSecond: scaleMap(t.ResourcesPerSecond, f),
		LootValuePerSecond: t.LootValuePerSecond / f,
		KillGPPerSecond:    t.KillGPPerSecond / f,
	}
	perCycle := t.KillGPPerSecond*t.KillTimeSeconds + t.AlchGPPerKill
	r.GPPerSecond = math.NaN()
	if denom := r.KillTimeSeconds + t.AlchTimeSeconds; denom > 0 {
		r.GPPerSecond = perCycle / denom
	}
	return r
}

// MarshalJSON encodes NaN rates as null.
func (r Rates) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Factor             *float64                      `json:"factor"`
		KillTimeSeconds    *float64                      `json:"kill_time_seconds"`
		KillsPerSecond     *float64                      `json:"kills_per_second"`
		XPPerSecond        map[string]float64            `json:"xp_per_second"`
		ResourcesPerSecond map[models.ResourceID]float64 `json:"resources_per_second"`
		LootValuePerSecond *float64                      `json:"loot_value_per_second"`
		KillGPPerSecond    *float64                      `json:"kill_gp_per_second"`
		GPPerSecond        *float64                      `json:"gp_per_second"`
	}{
		Factor:             models.Nullable(r.Factor),
		KillTimeSeconds:    models.Nullable(r.KillTimeSeconds),
		KillsPerSecond:     models.Nullable(r.KillsPerSecond),
		XPPerSecond:        r.XPPerSecond,
		ResourcesPerSecond: r.ResourcesPerSecond,
		LootValuePerSecond: models.Nullable(r.LootValuePerSecond),
		KillGPPerSecond:    models.Nullable(r.KillGPPerSecond),
		GPPerSecond:        models.Nullable(r.GPPerSecond),
	})
}

func scaleMap[K comparable](m map[K]float64, f float64) map[K]float64 {
	out := maps.Clone(m)
	if out == nil {
		out = map[K]float64{}
	}
	for k := range out {
		out[k] /= f
	}
	return out
}
