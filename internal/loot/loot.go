// Package loot holds the static drop-value table and the pass that turns
// it into per-second loot rates on encounter telemetry.
package loot

import (
	"fmt"
	"math"
	"os"

	"github.com/nvandessel/sweepsim/internal/aggregate"
	"github.com/nvandessel/sweepsim/internal/catalog"
	"github.com/nvandessel/sweepsim/internal/models"
	"github.com/nvandessel/sweepsim/internal/pathutil"
	"gopkg.in/yaml.v3"
)

// Drop is the expected loot of one kill.
type Drop struct {
	CoinsPerKill     float64 `json:"coins_per_kill" yaml:"coins_per_kill"`
	ItemValuePerKill float64 `json:"item_value_per_kill" yaml:"item_value_per_kill"`
	// AlchBonusPerKill is the extra currency from converting the kill's
	// items instead of selling them.
	AlchBonusPerKill   float64 `json:"alch_bonus_per_kill" yaml:"alch_bonus_per_kill"`
	AlchSecondsPerKill float64 `json:"alch_seconds_per_kill" yaml:"alch_seconds_per_kill"`
	// RareChancePerRoll is the chance of the rare reward per extra roll.
	RareChancePerRoll float64 `json:"rare_chance_per_roll" yaml:"rare_chance_per_roll"`
}

// InstanceReward is paid once per instance clear, on the boss kill.
type InstanceReward struct {
	CompletionValue float64 `json:"completion_value" yaml:"completion_value"`
}

// Table is the static lookup data keyed by encounter and instance ID.
type Table struct {
	Encounters map[string]Drop           `json:"encounters" yaml:"encounters"`
	Instances  map[string]InstanceReward `json:"instances" yaml:"instances"`
}

// Load reads a loot table from a YAML file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading loot table %s: %w", pathutil.RedactPath(path), err)
	}
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing loot table: %w", err)
	}
	for id, d := range t.Encounters {
		if d.RareChancePerRoll < 0 || d.RareChancePerRoll > 1 {
			return nil, fmt.Errorf("encounter %q: rare_chance_per_roll %v outside [0,1]", id, d.RareChancePerRoll)
		}
	}
	return &t, nil
}

// Options controls the loot pass.
type Options struct {
	// Alch converts drops to currency at a time cost.
	Alch bool
	// SessionSeconds is the budget for RareDropChance. Zero disables it.
	SessionSeconds float64
}

// Pass fills loot-derived telemetry fields. A nil table leaves them NaN.
type Pass struct {
	table *Table
	cat   *catalog.Catalog
	opts  Options
}

// NewPass creates a loot pass.
func NewPass(table *Table, cat *catalog.Catalog, opts Options) *Pass {
	return &Pass{table: table, cat: cat, opts: opts}
}

// Lookup returns the drop for id, including the instance completion
// reward when id is the instance's boss.
func (p *Pass) Lookup(id models.EncounterID) (Drop, bool) {
	if p == nil || p.table == nil {
		return Drop{}, false
	}
	d, ok := p.table.Encounters[id.Member]
	if !ok {
		return Drop{}, false
	}
	if id.IsComposite() && p.isBoss(id) {
		d.ItemValuePerKill += p.table.Instances[id.Group].CompletionValue
	}
	return d, true
}

func (p *Pass) isBoss(id models.EncounterID) bool {
	if p.cat == nil {
		return false
	}
	in, ok := p.cat.Instance(id.Group)
	if !ok || len(in.Members) == 0 {
		return false
	}
	return in.Members[len(in.Members)-1] == id.Member
}

// RareChancePerRoll returns the per-roll rare chance for id, or NaN.
func (p *Pass) RareChancePerRoll(id models.EncounterID) float64 {
	d, ok := p.Lookup(id)
	if !ok {
		return math.NaN()
	}
	return d.RareChancePerRoll
}

// Apply fills the loot fields of a successful encounter record.
func (p *Pass) Apply(id models.EncounterID, t *models.Telemetry) {
	t.ClearLoot()
	if !t.SimSuccess {
		return
	}
	d, ok := p.Lookup(id)
	if !ok {
		return
	}
	kps := t.KillsPerSecond
	t.LootValuePerSecond = d.ItemValuePerKill * kps
	t.KillGPPerSecond = (d.CoinsPerKill + d.ItemValuePerKill) * kps
	t.AlchGPPerKill = 0
	t.AlchTimeSeconds = 0
	if p.opts.Alch {
		t.AlchGPPerKill = d.AlchBonusPerKill
		t.AlchTimeSeconds = d.AlchSecondsPerKill
	}
	t.GPPerSecond = aggregate.GPPerSecond(t.KillGPPerSecond, t.KillTimeSeconds, t.AlchGPPerKill, t.AlchTimeSeconds)
	if p.opts.SessionSeconds > 0 {
		notGet := aggregate.ChanceToNotGet(t.ExtraRolls, d.RareChancePerRoll, p.opts.SessionSeconds, 1)
		t.RareDropChance = aggregate.CompoundChance(notGet)
	}
}
