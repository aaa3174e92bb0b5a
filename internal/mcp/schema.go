package mcp

import (
	"strconv"
	"time"

	"github.com/nvandessel/sweepsim/internal/adjust"
	"github.com/nvandessel/sweepsim/internal/history"
	"github.com/nvandessel/sweepsim/internal/models"
	"github.com/nvandessel/sweepsim/internal/scheduler"
)

// SweepRequestInput defines the input for the sweep_request tool.
type SweepRequestInput struct {
	Scope  string `json:"scope" jsonschema:"What to sweep: all, encounter:<id>, instance:<id> or taskset:<id>"`
	Trials int    `json:"trials,omitempty" jsonschema:"Trials per encounter, defaults to the configured budget"`
	Ticks  int    `json:"ticks,omitempty" jsonschema:"Tick cap per encounter, defaults to the configured budget"`
	Wait   bool   `json:"wait,omitempty" jsonschema:"Block until the sweep has finished"`
}

// SweepCancelInput defines the input for the sweep_cancel tool.
type SweepCancelInput struct {
	ID string `json:"id" jsonschema:"Sweep handle returned by sweep_request"`
}

// SweepStatusInput defines the input for the sweep_status tool.
type SweepStatusInput struct {
	ID string `json:"id,omitempty" jsonschema:"Sweep handle; empty lists every sweep"`
}

// SweepStatusOutput defines the output for sweep_request, sweep_cancel and
// sweep_status.
type SweepStatusOutput struct {
	Sweeps []SweepView `json:"sweeps" jsonschema:"Matching sweeps, oldest first"`
	Count  int         `json:"count" jsonschema:"Number of sweeps returned"`
}

// SweepView is one sweep's progress.
type SweepView struct {
	ID        string `json:"id"`
	Scope     string `json:"scope"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Cancelled bool   `json:"cancelled"`
	Done      bool   `json:"done"`
	Started   string `json:"started"`
	Finished  string `json:"finished,omitempty"`
}

func sweepView(st scheduler.Status) SweepView {
	v := SweepView{
		ID:        st.ID,
		Scope:     st.Scope,
		Completed: st.Completed,
		Total:     st.Total,
		Cancelled: st.Cancelled,
		Done:      st.Done,
		Started:   st.Started.UTC().Format(time.RFC3339Nano),
	}
	if !st.Finished.IsZero() {
		v.Finished = st.Finished.UTC().Format(time.RFC3339Nano)
	}
	return v
}

// ResultGetInput defines the input for the result_get tool.
type ResultGetInput struct {
	ID string `json:"id" jsonschema:"Group ID or encounter ID (member or group/member)"`
}

// ResultGetOutput defines the output for the result_get tool.
type ResultGetOutput struct {
	ID        string         `json:"id"`
	Found     bool           `json:"found"`
	Telemetry *TelemetryView `json:"telemetry,omitempty" jsonschema:"Raw simulated rates"`
	Adjusted  *RatesView     `json:"adjusted,omitempty" jsonschema:"Rates adjusted for resource downtime"`
}

// TelemetryView is Telemetry with uncomputed values as null.
type TelemetryView struct {
	SimSuccess         bool               `json:"sim_success"`
	Reason             string             `json:"reason,omitempty"`
	XPPerSecond        map[string]float64 `json:"xp_per_second"`
	ResourcesPerSecond map[string]float64 `json:"resources_per_second"`
	DeathRate          *float64           `json:"death_rate"`
	HighestDamageTaken *float64           `json:"highest_damage_taken"`
	LowestHitpoints    *float64           `json:"lowest_hitpoints"`
	KillTimeSeconds    *float64           `json:"kill_time_seconds"`
	KillsPerSecond     *float64           `json:"kills_per_second"`
	LootValuePerSecond *float64           `json:"loot_value_per_second"`
	GPPerSecond        *float64           `json:"gp_per_second"`
	RareDropChance     *float64           `json:"rare_drop_chance"`
	ExtraRolls         map[string]float64 `json:"extra_rolls,omitempty" jsonschema:"Rolls per second keyed by interval in milliseconds"`
}

func telemetryView(t models.Telemetry) *TelemetryView {
	v := &TelemetryView{
		SimSuccess:         t.SimSuccess,
		Reason:             t.Reason,
		XPPerSecond:        finite(t.XPPerSecond),
		ResourcesPerSecond: finite(stringKeys(t.ResourcesPerSecond)),
		DeathRate:          models.Nullable(t.DeathRate),
		HighestDamageTaken: models.Nullable(t.HighestDamageTaken),
		LowestHitpoints:    models.Nullable(t.LowestHitpoints),
		KillTimeSeconds:    models.Nullable(t.KillTimeSeconds),
		KillsPerSecond:     models.Nullable(t.KillsPerSecond),
		LootValuePerSecond: models.Nullable(t.LootValuePerSecond),
		GPPerSecond:        models.Nullable(t.GPPerSecond),
		RareDropChance:     models.Nullable(t.RareDropChance),
	}
	if len(t.ExtraRolls) > 0 {
		v.ExtraRolls = make(map[string]float64, len(t.ExtraRolls))
		for ms, rate := range t.ExtraRolls {
			v.ExtraRolls[strconv.Itoa(ms)] = rate
		}
	}
	return v
}

// RatesView is adjust.Rates with uncomputed values as null.
type RatesView struct {
	Factor             *float64           `json:"factor"`
	KillTimeSeconds    *float64           `json:"kill_time_seconds"`
	KillsPerSecond     *float64           `json:"kills_per_second"`
	XPPerSecond        map[string]float64 `json:"xp_per_second"`
	ResourcesPerSecond map[string]float64 `json:"resources_per_second"`
	GPPerSecond        *float64           `json:"gp_per_second"`
}

func ratesView(r adjust.Rates) *RatesView {
	return &RatesView{
		Factor:             models.Nullable(r.Factor),
		KillTimeSeconds:    models.Nullable(r.KillTimeSeconds),
		KillsPerSecond:     models.Nullable(r.KillsPerSecond),
		XPPerSecond:        finite(r.XPPerSecond),
		ResourcesPerSecond: finite(stringKeys(r.ResourcesPerSecond)),
		GPPerSecond:        models.Nullable(r.GPPerSecond),
	}
}

func stringKeys(m map[models.ResourceID]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}

// finite drops NaN and infinite entries, which JSON cannot carry.
func finite(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		if models.Nullable(v) != nil {
			out[k] = v
		}
	}
	return out
}

// FilterSetInput defines the input for the filter_set tool.
type FilterSetInput struct {
	ID       string `json:"id" jsonschema:"Group ID or encounter ID"`
	Included bool   `json:"included" jsonschema:"Whether the entity takes part in aggregation"`
}

// FilterSetOutput defines the output for the filter_set tool.
type FilterSetOutput struct {
	ID       string `json:"id"`
	Included bool   `json:"included"`
	Message  string `json:"message"`
}

// HistoryListInput defines the input for the history_list tool.
type HistoryListInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum snapshots to return, newest first; 0 returns all"`
}

// HistoryListOutput defines the output for the history_list tool.
type HistoryListOutput struct {
	Enabled   bool          `json:"enabled" jsonschema:"Whether history tracking is on"`
	Snapshots []HistoryView `json:"snapshots"`
	Count     int           `json:"count"`
}

// HistoryView summarizes one stored snapshot.
type HistoryView struct {
	ID         string `json:"id"`
	SweepID    string `json:"sweep_id"`
	Scope      string `json:"scope"`
	RecordedAt string `json:"recorded_at"`
	Encounters int    `json:"encounters"`
	Groups     int    `json:"groups"`
	Succeeded  int    `json:"succeeded"`
}

func historyView(s history.Summary) HistoryView {
	return HistoryView{
		ID:         s.ID,
		SweepID:    s.SweepID,
		Scope:      s.Scope,
		RecordedAt: s.RecordedAt.UTC().Format(time.RFC3339Nano),
		Encounters: s.Encounters,
		Groups:     s.Groups,
		Succeeded:  s.Succeeded,
	}
}
