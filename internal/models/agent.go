package models

import (
	"maps"
	"slices"
)

// AgentSnapshot is an immutable copy of the agent configuration taken when a
// sweep is requested. Workers receive clones, never a shared live value.
type AgentSnapshot struct {
	Name  string `json:"name" yaml:"name"`
	Level int    `json:"level" yaml:"level"`

	MaxHitpoints     float64 `json:"max_hitpoints" yaml:"max_hitpoints"`
	AttackIntervalMs int     `json:"attack_interval_ms" yaml:"attack_interval_ms"`
	MaxHit           float64 `json:"max_hit" yaml:"max_hit"`
	Accuracy         float64 `json:"accuracy" yaml:"accuracy"`
	Evasion          float64 `json:"evasion" yaml:"evasion"`
	// DamageReduction is a fraction in [0,1).
	DamageReduction float64 `json:"damage_reduction" yaml:"damage_reduction"`

	// FoodHeal is the hitpoints restored per food eaten. Zero disables eating.
	FoodHeal float64 `json:"food_heal" yaml:"food_heal"`
	// AutoEatThreshold is the fraction of max hitpoints at which food is eaten.
	AutoEatThreshold float64 `json:"auto_eat_threshold" yaml:"auto_eat_threshold"`

	// XPPerDamage maps an experience category to experience per damage dealt.
	XPPerDamage map[string]float64 `json:"xp_per_damage" yaml:"xp_per_damage"`
	// ResourcesPerAttack maps a resource to units used per attack.
	ResourcesPerAttack map[ResourceID]float64 `json:"resources_per_attack,omitempty" yaml:"resources_per_attack,omitempty"`
	// ResourcesPerSecond maps a resource to units drained per second of combat.
	ResourcesPerSecond map[ResourceID]float64 `json:"resources_per_second,omitempty" yaml:"resources_per_second,omitempty"`

	// Access lists the area or dungeon keys the agent may enter.
	Access []string `json:"access,omitempty" yaml:"access,omitempty"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (a AgentSnapshot) Clone() AgentSnapshot {
	c := a
	c.XPPerDamage = maps.Clone(a.XPPerDamage)
	c.ResourcesPerAttack = maps.Clone(a.ResourcesPerAttack)
	c.ResourcesPerSecond = maps.Clone(a.ResourcesPerSecond)
	c.Access = slices.Clone(a.Access)
	return c
}

// CanAccess reports whether the agent holds the given access key.
// An empty key is always accessible.
func (a AgentSnapshot) CanAccess(key string) bool {
	if key == "" {
		return true
	}
	return slices.Contains(a.Access, key)
}

// Status is the lifecycle state of a ResultStore entry.
type Status string

const (
	StatusNotRun  Status = "not-run"
	StatusQueued  Status = "queued"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Terminal reports whether s is a finished state.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}
