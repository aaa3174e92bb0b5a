package runner

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/nvandessel/sweepsim/internal/catalog"
	"github.com/nvandessel/sweepsim/internal/models"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// punchingBag never attacks back and always takes one damage per hit.
func punchingBag() Request {
	return Request{
		ID:        models.Plain("dummy"),
		Encounter: catalog.Encounter{ID: "dummy", Hitpoints: 10},
		Agent: models.AgentSnapshot{
			MaxHitpoints:       50,
			AttackIntervalMs:   50,
			MaxHit:             1,
			Accuracy:           10,
			XPPerDamage:        map[string]float64{"attack": 4},
			ResourcesPerAttack: map[models.ResourceID]float64{"arrows": 1},
		},
		Trials: 5,
		Ticks:  1000,
	}
}

func TestFunc(t *testing.T) {
	called := false
	r := Func(func(ctx context.Context, req Request) (models.Telemetry, error) {
		called = true
		return models.Failed(req.ID.String()), nil
	})
	got, err := r.Run(context.Background(), Request{ID: models.Plain("x")})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !called || got.Reason != "x" {
		t.Errorf("Run() = %+v, called = %v", got, called)
	}
}

func TestHitChance(t *testing.T) {
	tests := []struct {
		name     string
		acc, eva float64
		want     float64
	}{
		{"no evasion", 10, 0, 1},
		{"no accuracy", 0, 10, 0},
		{"equal", 10, 10, 0.5},
		{"accuracy below evasion", 5, 10, 0.25},
		{"accuracy above evasion", 20, 10, 0.75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hitChance(tt.acc, tt.eva); got != tt.want {
				t.Errorf("hitChance(%v, %v) = %v, want %v", tt.acc, tt.eva, got, tt.want)
			}
		})
	}
}

func TestIntervalTicks(t *testing.T) {
	tests := map[int]int{0: 0, 50: 1, 10: 1, 2400: 48, 3000: 60}
	for ms, want := range tests {
		if got := intervalTicks(ms); got != want {
			t.Errorf("intervalTicks(%d) = %d, want %d", ms, got, want)
		}
	}
}

func TestDuel_PunchingBag(t *testing.T) {
	got, err := Duel{Seed: 1}.Run(context.Background(), punchingBag())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !got.SimSuccess {
		t.Fatalf("SimSuccess = false, reason %q", got.Reason)
	}
	// 5 kills at 10 ticks each: 2.5 seconds.
	if got.Trials != 5 || got.Ticks != 50 {
		t.Errorf("Trials/Ticks = %d/%d, want 5/50", got.Trials, got.Ticks)
	}
	if !approx(got.KillTimeSeconds, 0.5) {
		t.Errorf("KillTimeSeconds = %v, want 0.5", got.KillTimeSeconds)
	}
	if got.KillsPerSecond != 1/got.KillTimeSeconds {
		t.Errorf("KillsPerSecond = %v, want 1/%v", got.KillsPerSecond, got.KillTimeSeconds)
	}
	if !approx(got.XPPerSecond["attack"], 80) {
		t.Errorf("attack xp = %v, want 80", got.XPPerSecond["attack"])
	}
	if !approx(got.ResourcesPerSecond["arrows"], 20) {
		t.Errorf("arrows = %v, want 20", got.ResourcesPerSecond["arrows"])
	}
	if !approx(got.ExtraRolls[50], 20) {
		t.Errorf("ExtraRolls = %v, want 20 rolls/s at 50ms", got.ExtraRolls)
	}
	if got.DeathRate != 0 || got.HighestDamageTaken != 0 || got.LowestHitpoints != 50 {
		t.Errorf("survivability stats = %v/%v/%v", got.DeathRate, got.HighestDamageTaken, got.LowestHitpoints)
	}
	if got.HasLoot() {
		t.Error("runner should leave loot NaN")
	}
}

func TestDuel_Deterministic(t *testing.T) {
	req := punchingBag()
	req.Agent.MaxHit = 6
	req.Agent.Evasion = 5
	req.Encounter.Hitpoints = 30
	req.Encounter.MaxHit = 4
	req.Encounter.AttackIntervalMs = 100
	req.Encounter.Accuracy = 5
	req.Trials = 50
	req.Ticks = 100000

	a, err := Duel{Seed: 7}.Run(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Duel{Seed: 7}.Run(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if a.KillTimeSeconds != b.KillTimeSeconds || a.Ticks != b.Ticks || a.HighestDamageTaken != b.HighestDamageTaken {
		t.Errorf("same seed gave different results: %v vs %v", a.KillTimeSeconds, b.KillTimeSeconds)
	}
	if a.HighestDamageTaken <= 0 || a.HighestDamageTaken > 4 {
		t.Errorf("HighestDamageTaken = %v, want in (0,4]", a.HighestDamageTaken)
	}
}

func TestDuel_DeathsAndFood(t *testing.T) {
	req := punchingBag()
	req.Agent.MaxHitpoints = 10
	req.Agent.FoodHeal = 5
	req.Agent.AutoEatThreshold = 0.5
	req.Encounter.Hitpoints = 1000
	req.Encounter.MaxHit = 1
	req.Encounter.AttackIntervalMs = 50
	req.Trials = 3
	req.Ticks = 5000

	got, err := Duel{}.Run(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !got.SimSuccess {
		t.Fatalf("reason %q", got.Reason)
	}
	if got.ResourcesPerSecond[ResourceFood] <= 0 {
		t.Errorf("food = %v, want > 0", got.ResourcesPerSecond[ResourceFood])
	}
	if got.LowestHitpoints >= 10 {
		t.Errorf("LowestHitpoints = %v, want below max", got.LowestHitpoints)
	}
}

func TestDuel_NoKills(t *testing.T) {
	req := punchingBag()
	req.Encounter.Hitpoints = 1e6
	req.Ticks = 100

	got, err := Duel{}.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got.SimSuccess || got.Reason != models.ReasonNoKills {
		t.Errorf("got success=%v reason=%q, want %q", got.SimSuccess, got.Reason, models.ReasonNoKills)
	}
	if !math.IsNaN(got.KillsPerSecond) {
		t.Errorf("KillsPerSecond = %v, want NaN", got.KillsPerSecond)
	}
}

func TestDuel_InvalidRequest(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"no trials", func(r *Request) { r.Trials = 0 }},
		{"no ticks", func(r *Request) { r.Ticks = 0 }},
		{"no interval", func(r *Request) { r.Agent.AttackIntervalMs = 0 }},
		{"no damage", func(r *Request) { r.Agent.MaxHit = 0 }},
		{"no agent hitpoints", func(r *Request) { r.Agent.MaxHitpoints = 0 }},
		{"no enemy hitpoints", func(r *Request) { r.Encounter.Hitpoints = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := punchingBag()
			tt.mutate(&req)
			if _, err := (Duel{}).Run(context.Background(), req); err == nil {
				t.Error("Run() error = nil, want error")
			}
		})
	}
}

func TestDuel_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Duel{}.Run(ctx, punchingBag())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}
