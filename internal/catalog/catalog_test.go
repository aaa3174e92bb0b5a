package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nvandessel/sweepsim/internal/models"
)

const testCatalogYAML = `
encounters:
  - {id: chicken, name: Chicken, level: 2, hitpoints: 30, max_hit: 1, attack_interval_ms: 2400}
  - {id: cow, name: Cow, level: 5, hitpoints: 80, max_hit: 2, attack_interval_ms: 2400}
  - {id: golem, name: Golem, level: 40, hitpoints: 600, max_hit: 40, attack_interval_ms: 3000}
  - {id: goblin, name: Goblin, level: 8, hitpoints: 90, max_hit: 5, attack_interval_ms: 2400}
  - {id: chief, name: Goblin Chief, level: 20, hitpoints: 300, max_hit: 15, attack_interval_ms: 2600}
zones:
  - id: farm
    encounters: [chicken, cow]
  - id: quarry
    requires: pickaxe
    encounters: [golem]
instances:
  - id: camp
    members: [goblin, chief]
task_sets:
  - {id: easy, min_level: 1, max_level: 10}
  - {id: hard, min_level: 30}
`

func mustParse(t *testing.T) *Catalog {
	t.Helper()
	c, err := Parse([]byte(testCatalogYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return c
}

func TestParse_Indexes(t *testing.T) {
	c := mustParse(t)

	if len(c.Encounters) != 5 {
		t.Errorf("len(Encounters) = %d, want 5", len(c.Encounters))
	}
	if kind, ok := c.GroupKind("camp"); !ok || kind != models.KindInstance {
		t.Errorf("GroupKind(camp) = %v, %v", kind, ok)
	}
	if kind, ok := c.GroupKind("easy"); !ok || kind != models.KindTaskSet {
		t.Errorf("GroupKind(easy) = %v, %v", kind, ok)
	}
	if _, ok := c.GroupKind("farm"); ok {
		t.Error("zones are not groups")
	}
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr error
	}{
		{
			name:    "duplicate encounter",
			yaml:    "encounters: [{id: a}, {id: a}]",
			wantErr: ErrDuplicateID,
		},
		{
			name:    "group id shared by instance and task set",
			yaml:    "encounters: [{id: a}]\ninstances: [{id: g, members: [a]}]\ntask_sets: [{id: g}]",
			wantErr: ErrDuplicateID,
		},
		{
			name:    "unknown instance member",
			yaml:    "encounters: [{id: a}]\ninstances: [{id: g, members: [b]}]",
			wantErr: ErrUnknownID,
		},
		{
			name:    "unknown zone encounter",
			yaml:    "zones: [{id: z, encounters: [x]}]",
			wantErr: ErrUnknownID,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Parse() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParse_RejectsSeparatorInID(t *testing.T) {
	if _, err := Parse([]byte("encounters: [{id: a/b}]")); err == nil {
		t.Error("expected error for id containing separator")
	}
}

func TestInstanceMembers_KeepsOrder(t *testing.T) {
	c := mustParse(t)
	members, ok := c.InstanceMembers("camp")
	if !ok {
		t.Fatal("InstanceMembers(camp) not found")
	}
	want := []models.EncounterID{models.Composite("camp", "goblin"), models.Composite("camp", "chief")}
	if len(members) != len(want) {
		t.Fatalf("members = %v, want %v", members, want)
	}
	for i := range want {
		if members[i] != want[i] {
			t.Errorf("members[%d] = %v, want %v", i, members[i], want[i])
		}
	}
}

func TestTaskSetMembers_FiltersByLevelAndAccess(t *testing.T) {
	c := mustParse(t)

	noPick := models.AgentSnapshot{}
	members, _ := c.TaskSetMembers("hard", noPick)
	if len(members) != 0 {
		t.Errorf("hard without pickaxe = %v, want none", members)
	}

	withPick := models.AgentSnapshot{Access: []string{"pickaxe"}}
	members, _ = c.TaskSetMembers("hard", withPick)
	if len(members) != 1 || members[0] != models.Plain("golem") {
		t.Errorf("hard with pickaxe = %v, want [golem]", members)
	}

	members, _ = c.TaskSetMembers("easy", noPick)
	if len(members) != 2 {
		t.Errorf("easy = %v, want chicken and cow", members)
	}
}

func TestEncounter_CompositeMustBelongToInstance(t *testing.T) {
	c := mustParse(t)
	if _, ok := c.Encounter(models.Composite("camp", "chief")); !ok {
		t.Error("camp/chief should resolve")
	}
	if _, ok := c.Encounter(models.Composite("camp", "cow")); ok {
		t.Error("camp/cow should not resolve")
	}
	if e, ok := c.Encounter(models.Plain("cow")); !ok || e.Level != 5 {
		t.Errorf("Encounter(cow) = %+v, %v", e, ok)
	}
}

func TestCanFight(t *testing.T) {
	c := mustParse(t)
	agent := models.AgentSnapshot{}
	if !c.CanFight(models.Plain("cow"), agent) {
		t.Error("cow should be fightable")
	}
	if c.CanFight(models.Plain("golem"), agent) {
		t.Error("golem requires pickaxe")
	}
	if c.CanFight(models.Plain("goblin"), agent) {
		t.Error("goblin is not in any zone")
	}
	if !c.CanFight(models.Composite("camp", "goblin"), agent) {
		t.Error("camp/goblin should be fightable")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(testCatalogYAML), 0644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := len(c.GroupIDs()); got != 3 {
		t.Errorf("len(GroupIDs()) = %d, want 3", got)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load(missing) should fail")
	}
}
