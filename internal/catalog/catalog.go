// Package catalog provides the read-only encounter catalog consumed by the
// scheduler: encounter definitions, the zones that hold them, ordered
// instances and level-filtered task-sets.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/nvandessel/sweepsim/internal/models"
	"github.com/nvandessel/sweepsim/internal/pathutil"
	"gopkg.in/yaml.v3"
)

// ErrDuplicateID is returned when two catalog entries share an ID.
var ErrDuplicateID = errors.New("duplicate catalog id")

// ErrUnknownID is returned when a reference cannot be resolved.
var ErrUnknownID = errors.New("unknown catalog id")

// Encounter is a single fightable enemy definition.
type Encounter struct {
	ID               string  `json:"id" yaml:"id"`
	Name             string  `json:"name" yaml:"name"`
	Level            int     `json:"level" yaml:"level"`
	Hitpoints        float64 `json:"hitpoints" yaml:"hitpoints"`
	MaxHit           float64 `json:"max_hit" yaml:"max_hit"`
	AttackIntervalMs int     `json:"attack_interval_ms" yaml:"attack_interval_ms"`
	Accuracy         float64 `json:"accuracy" yaml:"accuracy"`
	Evasion          float64 `json:"evasion" yaml:"evasion"`
	// Requires is an access key the agent must hold.
	Requires string `json:"requires,omitempty" yaml:"requires,omitempty"`
}

// Zone groups standalone encounters behind an access key.
type Zone struct {
	ID         string   `json:"id" yaml:"id"`
	Name       string   `json:"name" yaml:"name"`
	Requires   string   `json:"requires,omitempty" yaml:"requires,omitempty"`
	Encounters []string `json:"encounters" yaml:"encounters"`
}

// Instance is an ordered chain of encounters. The last member is the boss.
type Instance struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	Requires string   `json:"requires,omitempty" yaml:"requires,omitempty"`
	Members  []string `json:"members" yaml:"members"`
}

// TaskSet is a pool of zone encounters whose level falls in
// [MinLevel, MaxLevel]. MaxLevel zero means unbounded.
type TaskSet struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	MinLevel int    `json:"min_level" yaml:"min_level"`
	MaxLevel int    `json:"max_level" yaml:"max_level"`
}

// Catalog is the immutable encounter catalog.
type Catalog struct {
	Encounters []Encounter `json:"encounters" yaml:"encounters"`
	Zones      []Zone      `json:"zones" yaml:"zones"`
	Instances  []Instance  `json:"instances" yaml:"instances"`
	TaskSets   []TaskSet   `json:"task_sets" yaml:"task_sets"`

	encounters map[string]*Encounter
	instances  map[string]*Instance
	taskSets   map[string]*TaskSet
	// zonesOf maps an encounter ID to the zones listing it.
	zonesOf map[string][]*Zone
}

// New indexes and validates a catalog.
func New(encounters []Encounter, zones []Zone, instances []Instance, taskSets []TaskSet) (*Catalog, error) {
	c := &Catalog{
		Encounters: encounters,
		Zones:      zones,
		Instances:  instances,
		TaskSets:   taskSets,
	}
	if err := c.index(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads a catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", pathutil.RedactPath(path), err)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if err := c.index(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) index() error {
	c.encounters = make(map[string]*Encounter, len(c.Encounters))
	c.instances = make(map[string]*Instance, len(c.Instances))
	c.taskSets = make(map[string]*TaskSet, len(c.TaskSets))
	c.zonesOf = make(map[string][]*Zone)

	for i := range c.Encounters {
		e := &c.Encounters[i]
		if err := validID(e.ID); err != nil {
			return fmt.Errorf("encounter: %w", err)
		}
		if _, ok := c.encounters[e.ID]; ok {
			return fmt.Errorf("encounter %q: %w", e.ID, ErrDuplicateID)
		}
		c.encounters[e.ID] = e
	}

	for i := range c.Zones {
		z := &c.Zones[i]
		for _, id := range z.Encounters {
			if _, ok := c.encounters[id]; !ok {
				return fmt.Errorf("zone %q lists encounter %q: %w", z.ID, id, ErrUnknownID)
			}
			c.zonesOf[id] = append(c.zonesOf[id], z)
		}
	}

	// Instance and task-set IDs share one namespace so a group ID is
	// unambiguous when used as a filter or result key.
	groups := make(map[string]bool)
	for i := range c.Instances {
		in := &c.Instances[i]
		if err := validID(in.ID); err != nil {
			return fmt.Errorf("instance: %w", err)
		}
		if groups[in.ID] || c.encounters[in.ID] != nil {
			return fmt.Errorf("instance %q: %w", in.ID, ErrDuplicateID)
		}
		groups[in.ID] = true
		if len(in.Members) == 0 {
			return fmt.Errorf("instance %q has no members", in.ID)
		}
		seen := make(map[string]bool, len(in.Members))
		for _, m := range in.Members {
			if _, ok := c.encounters[m]; !ok {
				return fmt.Errorf("instance %q member %q: %w", in.ID, m, ErrUnknownID)
			}
			if seen[m] {
				return fmt.Errorf("instance %q member %q: %w", in.ID, m, ErrDuplicateID)
			}
			seen[m] = true
		}
		c.instances[in.ID] = in
	}

	for i := range c.TaskSets {
		ts := &c.TaskSets[i]
		if err := validID(ts.ID); err != nil {
			return fmt.Errorf("task set: %w", err)
		}
		if groups[ts.ID] || c.encounters[ts.ID] != nil {
			return fmt.Errorf("task set %q: %w", ts.ID, ErrDuplicateID)
		}
		groups[ts.ID] = true
		if ts.MaxLevel != 0 && ts.MaxLevel < ts.MinLevel {
			return fmt.Errorf("task set %q: max_level %d below min_level %d", ts.ID, ts.MaxLevel, ts.MinLevel)
		}
		c.taskSets[ts.ID] = ts
	}
	return nil
}

func validID(id string) error {
	if id == "" {
		return fmt.Errorf("id is required")
	}
	if strings.Contains(id, models.IDSeparator) {
		return fmt.Errorf("id %q must not contain %q", id, models.IDSeparator)
	}
	return nil
}

// Encounter resolves the definition behind an EncounterID. Composite IDs
// resolve through their member part.
func (c *Catalog) Encounter(id models.EncounterID) (Encounter, bool) {
	e, ok := c.encounters[id.Member]
	if !ok {
		return Encounter{}, false
	}
	if id.IsComposite() {
		in, ok := c.instances[id.Group]
		if !ok || !slices.Contains(in.Members, id.Member) {
			return Encounter{}, false
		}
	}
	return *e, true
}

// Instance returns the named instance.
func (c *Catalog) Instance(id string) (Instance, bool) {
	in, ok := c.instances[id]
	if !ok {
		return Instance{}, false
	}
	return *in, true
}

// TaskSet returns the named task-set.
func (c *Catalog) TaskSet(id string) (TaskSet, bool) {
	ts, ok := c.taskSets[id]
	if !ok {
		return TaskSet{}, false
	}
	return *ts, true
}

// GroupKind reports the kind of a group ID.
func (c *Catalog) GroupKind(id string) (models.GroupKind, bool) {
	if _, ok := c.instances[id]; ok {
		return models.KindInstance, true
	}
	if _, ok := c.taskSets[id]; ok {
		return models.KindTaskSet, true
	}
	return "", false
}

// InstanceMembers returns the ordered composite IDs of an instance.
func (c *Catalog) InstanceMembers(id string) ([]models.EncounterID, bool) {
	in, ok := c.instances[id]
	if !ok {
		return nil, false
	}
	out := make([]models.EncounterID, len(in.Members))
	for i, m := range in.Members {
		out[i] = models.Composite(in.ID, m)
	}
	return out, true
}

// ZoneEncounters returns every standalone encounter in zone order,
// each listed once.
func (c *Catalog) ZoneEncounters() []models.EncounterID {
	seen := make(map[string]bool)
	var out []models.EncounterID
	for _, z := range c.Zones {
		for _, id := range z.Encounters {
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, models.Plain(id))
		}
	}
	return out
}

// Accessible reports whether the agent can legally reach a standalone
// encounter: it must satisfy the encounter's own requirement and at least
// one zone listing it.
func (c *Catalog) Accessible(encounterID string, agent models.AgentSnapshot) bool {
	e, ok := c.encounters[encounterID]
	if !ok || !agent.CanAccess(e.Requires) {
		return false
	}
	zones := c.zonesOf[encounterID]
	if len(zones) == 0 {
		return false
	}
	for _, z := range zones {
		if agent.CanAccess(z.Requires) {
			return true
		}
	}
	return false
}

// CanFight reports whether the agent may fight id. Instance members are
// gated by the instance requirement instead of zones.
func (c *Catalog) CanFight(id models.EncounterID, agent models.AgentSnapshot) bool {
	if !id.IsComposite() {
		return c.Accessible(id.Member, agent)
	}
	in, ok := c.instances[id.Group]
	if !ok || !agent.CanAccess(in.Requires) {
		return false
	}
	e, ok := c.encounters[id.Member]
	return ok && agent.CanAccess(e.Requires)
}

// InLevelRange reports whether level qualifies for the task-set.
func (ts TaskSet) InLevelRange(level int) bool {
	if level < ts.MinLevel {
		return false
	}
	return ts.MaxLevel == 0 || level <= ts.MaxLevel
}

// TaskSetMembers filters the zone encounters against the task-set's level
// range and the agent's access. The result depends on the agent and must be
// recomputed for every request.
func (c *Catalog) TaskSetMembers(id string, agent models.AgentSnapshot) ([]models.EncounterID, bool) {
	ts, ok := c.taskSets[id]
	if !ok {
		return nil, false
	}
	var out []models.EncounterID
	for _, eid := range c.ZoneEncounters() {
		e := c.encounters[eid.Member]
		if ts.InLevelRange(e.Level) && c.Accessible(e.ID, agent) {
			out = append(out, eid)
		}
	}
	return out, true
}

// Group resolves a group ID into its membership for this agent.
func (c *Catalog) Group(id string, agent models.AgentSnapshot) (models.GroupSpec, bool) {
	if members, ok := c.InstanceMembers(id); ok {
		return models.GroupSpec{ID: id, Kind: models.KindInstance, Members: members}, true
	}
	if members, ok := c.TaskSetMembers(id, agent); ok {
		return models.GroupSpec{ID: id, Kind: models.KindTaskSet, Members: members}, true
	}
	return models.GroupSpec{}, false
}

// GroupIDs returns every instance ID followed by every task-set ID.
func (c *Catalog) GroupIDs() []string {
	out := make([]string, 0, len(c.Instances)+len(c.TaskSets))
	for _, in := range c.Instances {
		out = append(out, in.ID)
	}
	for _, ts := range c.TaskSets {
		out = append(out, ts.ID)
	}
	return out
}
