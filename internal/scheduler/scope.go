package scheduler

import (
	"fmt"
	"strings"

	"github.com/nvandessel/sweepsim/internal/catalog"
	"github.com/nvandessel/sweepsim/internal/models"
	"github.com/nvandessel/sweepsim/internal/results"
)

// ScopeKind selects what a sweep covers.
type ScopeKind string

const (
	ScopeAll       ScopeKind = "all"
	ScopeEncounter ScopeKind = "encounter"
	ScopeInstance  ScopeKind = "instance"
	ScopeTaskSet   ScopeKind = "taskset"
)

// Scope is one sweep target. ID is empty for ScopeAll.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	ID   string    `json:"id,omitempty"`
}

func (s Scope) String() string {
	if s.Kind == ScopeAll {
		return string(ScopeAll)
	}
	return string(s.Kind) + ":" + s.ID
}

// ParseScope parses "all", "encounter:<id>", "instance:<id>" or
// "taskset:<id>".
func ParseScope(s string) (Scope, error) {
	if s == string(ScopeAll) {
		return Scope{Kind: ScopeAll}, nil
	}
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Scope{}, fmt.Errorf("invalid scope %q: want all or <kind>:<id>", s)
	}
	switch k := ScopeKind(kind); k {
	case ScopeEncounter, ScopeInstance, ScopeTaskSet:
		return Scope{Kind: k, ID: id}, nil
	}
	return Scope{}, fmt.Errorf("invalid scope kind %q", kind)
}

// Plan is an expanded scope.
type Plan struct {
	// IDs is deduplicated, in first-seen order.
	IDs []models.EncounterID
	// Groups named by the scope. They are re-aggregated even when none of
	// their members ran, so a filtered group still gets its record.
	Groups []string
}

// Expander turns scopes into plans. Task-set membership depends on the
// agent and is recomputed on every call.
type Expander struct {
	cat   *catalog.Catalog
	store *results.Store
}

// NewExpander creates an Expander reading filter flags from store.
func NewExpander(cat *catalog.Catalog, store *results.Store) *Expander {
	return &Expander{cat: cat, store: store}
}

// Expand resolves scope for agent. Filter flags apply to group and full
// sweeps; an explicit encounter request always runs.
func (x *Expander) Expand(scope Scope, agent models.AgentSnapshot) (Plan, error) {
	var (
		plan Plan
		seen = make(map[models.EncounterID]bool)
	)
	add := func(ids []models.EncounterID) {
		for _, id := range ids {
			if seen[id] || !x.store.EncounterIncluded(id) {
				continue
			}
			seen[id] = true
			plan.IDs = append(plan.IDs, id)
		}
	}
	addGroup := func(id string) {
		plan.Groups = append(plan.Groups, id)
		if !x.store.GroupIncluded(id) {
			return
		}
		spec, _ := x.cat.Group(id, agent)
		add(spec.Members)
	}

	switch scope.Kind {
	case ScopeEncounter:
		id, err := models.ParseEncounterID(scope.ID)
		if err != nil {
			return Plan{}, fmt.Errorf("%w: %v", ErrUnknownEncounter, err)
		}
		if _, ok := x.cat.Encounter(id); !ok {
			return Plan{}, fmt.Errorf("%w: %s", ErrUnknownEncounter, id)
		}
		plan.IDs = []models.EncounterID{id}

	case ScopeInstance, ScopeTaskSet:
		want := models.KindInstance
		if scope.Kind == ScopeTaskSet {
			want = models.KindTaskSet
		}
		if kind, ok := x.cat.GroupKind(scope.ID); !ok || kind != want {
			return Plan{}, fmt.Errorf("%w: %s %s", ErrUnknownGroup, scope.Kind, scope.ID)
		}
		addGroup(scope.ID)

	case ScopeAll:
		add(x.cat.ZoneEncounters())
		for _, in := range x.cat.Instances {
			addGroup(in.ID)
		}
		for _, ts := range x.cat.TaskSets {
			addGroup(ts.ID)
		}

	default:
		return Plan{}, fmt.Errorf("invalid scope kind %q", scope.Kind)
	}
	return plan, nil
}

// AffectedGroups returns every group that names one of ids as a member,
// plus the plan's own groups, without duplicates.
func (x *Expander) AffectedGroups(plan Plan, ids []models.EncounterID, agent models.AgentSnapshot) []string {
	touched := make(map[models.EncounterID]bool, len(ids))
	for _, id := range ids {
		touched[id] = true
	}

	var out []string
	seen := make(map[string]bool)
	for _, g := range plan.Groups {
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	for _, g := range x.cat.GroupIDs() {
		if seen[g] {
			continue
		}
		spec, _ := x.cat.Group(g, agent)
		for _, m := range spec.Members {
			if touched[m] {
				seen[g] = true
				out = append(out, g)
				break
			}
		}
	}
	return out
}
