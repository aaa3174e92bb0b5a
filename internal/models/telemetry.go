package models

import (
	"encoding/json"
	"maps"
	"math"
)

// ResourceID names a consumable or replenishable resource, e.g. "food",
// "prayer", "runes:air". The set is open ended.
type ResourceID string

// Reasons recorded on failed telemetry.
const (
	ReasonFiltered    = "entity filtered"
	ReasonCancelled   = "cancelled"
	ReasonNotRun      = "not simulated"
	ReasonNoKills     = "no kills within tick budget"
	ReasonUnreachable = "encounter not accessible"
)

// Telemetry is the normalized per-second statistics record produced for one
// encounter or one group. Numeric fields that have not been computed hold
// NaN, never a zero placeholder, so consumers can test with math.IsNaN.
type Telemetry struct {
	SimSuccess bool
	// Reason is empty on success. Group records join distinct member
	// reasons with ReasonSeparator.
	Reason string

	// XPPerSecond holds one rate per experience category.
	XPPerSecond map[string]float64
	// ResourcesPerSecond holds consumption rates keyed by resource.
	ResourcesPerSecond map[ResourceID]float64

	DeathRate          float64
	HighestDamageTaken float64
	LowestHitpoints    float64

	KillTimeSeconds float64
	KillsPerSecond  float64

	// Loot-derived fields stay NaN until the loot pass fills them.
	LootValuePerSecond float64
	KillGPPerSecond    float64
	AlchGPPerKill      float64
	AlchTimeSeconds    float64
	GPPerSecond        float64
	RareDropChance     float64

	// ExtraRolls maps a roll interval in milliseconds to rolls per second.
	// It feeds compound probability composition.
	ExtraRolls map[int]float64

	Trials int
	Ticks  int
}

// ReasonSeparator joins multiple reasons on group records.
const ReasonSeparator = "; "

// NewTelemetry returns a record with every numeric field set to NaN and
// empty maps.
func NewTelemetry() Telemetry {
	nan := math.NaN()
	return Telemetry{
		XPPerSecond:        map[string]float64{},
		ResourcesPerSecond: map[ResourceID]float64{},
		DeathRate:          nan,
		HighestDamageTaken: nan,
		LowestHitpoints:    nan,
		KillTimeSeconds:    nan,
		KillsPerSecond:     nan,
		LootValuePerSecond: nan,
		KillGPPerSecond:    nan,
		AlchGPPerKill:      nan,
		AlchTimeSeconds:    nan,
		GPPerSecond:        nan,
		RareDropChance:     nan,
		ExtraRolls:         map[int]float64{},
	}
}

// Failed returns an unsuccessful record carrying reason.
func Failed(reason string) Telemetry {
	t := NewTelemetry()
	t.Reason = reason
	return t
}

// SetKillTime sets KillTimeSeconds and keeps KillsPerSecond as its inverse.
func (t *Telemetry) SetKillTime(seconds float64) {
	t.KillTimeSeconds = seconds
	if math.IsNaN(seconds) || seconds <= 0 {
		t.KillsPerSecond = math.NaN()
		return
	}
	t.KillsPerSecond = 1 / seconds
}

// ClearLoot resets the loot-derived fields to NaN.
func (t *Telemetry) ClearLoot() {
	nan := math.NaN()
	t.LootValuePerSecond = nan
	t.KillGPPerSecond = nan
	t.AlchGPPerKill = nan
	t.AlchTimeSeconds = nan
	t.GPPerSecond = nan
	t.RareDropChance = nan
}

// HasLoot reports whether the loot pass has filled this record.
func (t Telemetry) HasLoot() bool {
	return !math.IsNaN(t.GPPerSecond)
}

// Clone returns a deep copy.
func (t Telemetry) Clone() Telemetry {
	c := t
	c.XPPerSecond = maps.Clone(t.XPPerSecond)
	c.ResourcesPerSecond = maps.Clone(t.ResourcesPerSecond)
	c.ExtraRolls = maps.Clone(t.ExtraRolls)
	if c.XPPerSecond == nil {
		c.XPPerSecond = map[string]float64{}
	}
	if c.ResourcesPerSecond == nil {
		c.ResourcesPerSecond = map[ResourceID]float64{}
	}
	if c.ExtraRolls == nil {
		c.ExtraRolls = map[int]float64{}
	}
	return c
}

// telemetryJSON mirrors Telemetry with nullable floats; encoding/json
// rejects NaN.
type telemetryJSON struct {
	SimSuccess         bool                   `json:"sim_success"`
	Reason             string                 `json:"reason,omitempty"`
	XPPerSecond        map[string]float64     `json:"xp_per_second"`
	ResourcesPerSecond map[ResourceID]float64 `json:"resources_per_second"`
	DeathRate          *float64               `json:"death_rate"`
	HighestDamageTaken *float64               `json:"highest_damage_taken"`
	LowestHitpoints    *float64               `json:"lowest_hitpoints"`
	KillTimeSeconds    *float64               `json:"kill_time_seconds"`
	KillsPerSecond     *float64               `json:"kills_per_second"`
	LootValuePerSecond *float64               `json:"loot_value_per_second"`
	KillGPPerSecond    *float64               `json:"kill_gp_per_second"`
	AlchGPPerKill      *float64               `json:"alch_gp_per_kill"`
	AlchTimeSeconds    *float64               `json:"alch_time_seconds"`
	GPPerSecond        *float64               `json:"gp_per_second"`
	RareDropChance     *float64               `json:"rare_drop_chance"`
	ExtraRolls         map[int]float64        `json:"extra_rolls,omitempty"`
	Trials             int                    `json:"trials,omitempty"`
	Ticks              int                    `json:"ticks,omitempty"`
}

// Nullable returns nil for NaN and infinities.
func Nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func fromNullable(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// MarshalJSON encodes NaN fields as null.
func (t Telemetry) MarshalJSON() ([]byte, error) {
	return json.Marshal(telemetryJSON{
		SimSuccess:         t.SimSuccess,
		Reason:             t.Reason,
		XPPerSecond:        t.XPPerSecond,
		ResourcesPerSecond: t.ResourcesPerSecond,
		DeathRate:          Nullable(t.DeathRate),
		HighestDamageTaken: Nullable(t.HighestDamageTaken),
		LowestHitpoints:    Nullable(t.LowestHitpoints),
		KillTimeSeconds:    Nullable(t.KillTimeSeconds),
		KillsPerSecond:     Nullable(t.KillsPerSecond),
		LootValuePerSecond: Nullable(t.LootValuePerSecond),
		KillGPPerSecond:    Nullable(t.KillGPPerSecond),
		AlchGPPerKill:      Nullable(t.AlchGPPerKill),
		AlchTimeSeconds:    Nullable(t.AlchTimeSeconds),
		GPPerSecond:        Nullable(t.GPPerSecond),
		RareDropChance:     Nullable(t.RareDropChance),
		ExtraRolls:         t.ExtraRolls,
		Trials:             t.Trials,
		Ticks:              t.Ticks,
	})
}

// UnmarshalJSON decodes null fields as NaN.
func (t *Telemetry) UnmarshalJSON(b []byte) error {
	var w telemetryJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*t = Telemetry{
		SimSuccess:         w.SimSuccess,
		Reason:             w.Reason,
		XPPerSecond:        w.XPPerSecond,
		ResourcesPerSecond: w.ResourcesPerSecond,
		DeathRate:          fromNullable(w.DeathRate),
		HighestDamageTaken: fromNullable(w.HighestDamageTaken),
		LowestHitpoints:    fromNullable(w.LowestHitpoints),
		KillTimeSeconds:    fromNullable(w.KillTimeSeconds),
		KillsPerSecond:     fromNullable(w.KillsPerSecond),
		LootValuePerSecond: fromNullable(w.LootValuePerSecond),
		KillGPPerSecond:    fromNullable(w.KillGPPerSecond),
		AlchGPPerKill:      fromNullable(w.AlchGPPerKill),
		AlchTimeSeconds:    fromNullable(w.AlchTimeSeconds),
		GPPerSecond:        fromNullable(w.GPPerSecond),
		RareDropChance:     fromNullable(w.RareDropChance),
		ExtraRolls:         w.ExtraRolls,
		Trials:             w.Trials,
		Ticks:              w.Ticks,
	}
	*t = t.Clone()
	return nil
}
