package models

import (
	"encoding/json"
	"math"
	"slices"
	"strings"
	"testing"
)

func TestNewTelemetry_AllNaN(t *testing.T) {
	tel := NewTelemetry()
	fields := map[string]float64{
		"DeathRate":       tel.DeathRate,
		"KillTimeSeconds": tel.KillTimeSeconds,
		"KillsPerSecond":  tel.KillsPerSecond,
		"GPPerSecond":     tel.GPPerSecond,
		"RareDropChance":  tel.RareDropChance,
	}
	for name, v := range fields {
		if !math.IsNaN(v) {
			t.Errorf("%s = %v, want NaN", name, v)
		}
	}
	if tel.XPPerSecond == nil || tel.ResourcesPerSecond == nil || tel.ExtraRolls == nil {
		t.Error("maps should be non-nil")
	}
}

func TestSetKillTime(t *testing.T) {
	tel := NewTelemetry()
	tel.SetKillTime(4)
	if tel.KillsPerSecond != 0.25 {
		t.Errorf("KillsPerSecond = %v, want 0.25", tel.KillsPerSecond)
	}
	tel.SetKillTime(0)
	if !math.IsNaN(tel.KillsPerSecond) {
		t.Errorf("KillsPerSecond = %v, want NaN for zero kill time", tel.KillsPerSecond)
	}
}

func TestTelemetry_JSONRoundTripKeepsNaN(t *testing.T) {
	tel := NewTelemetry()
	tel.SimSuccess = true
	tel.SetKillTime(2)
	tel.XPPerSecond["attack"] = 3
	tel.ExtraRolls[2400] = 0.4

	data, err := json.Marshal(tel)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), `"gp_per_second":null`) {
		t.Errorf("NaN should encode as null: %s", data)
	}

	var got Telemetry
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !math.IsNaN(got.GPPerSecond) {
		t.Errorf("GPPerSecond = %v, want NaN", got.GPPerSecond)
	}
	if got.KillTimeSeconds != 2 || got.XPPerSecond["attack"] != 3 || got.ExtraRolls[2400] != 0.4 {
		t.Errorf("round trip lost data: %+v", got)
	}
}

func TestTelemetry_CloneIsDeep(t *testing.T) {
	tel := NewTelemetry()
	tel.ResourcesPerSecond["food"] = 1
	c := tel.Clone()
	c.ResourcesPerSecond["food"] = 2
	if tel.ResourcesPerSecond["food"] != 1 {
		t.Error("Clone shares resource map")
	}
}

func TestParseEncounterID(t *testing.T) {
	tests := []struct {
		in      string
		want    EncounterID
		wantErr bool
	}{
		{in: "cow", want: Plain("cow")},
		{in: "camp/chief", want: Composite("camp", "chief")},
		{in: "", wantErr: true},
		{in: "/chief", wantErr: true},
		{in: "camp/", wantErr: true},
		{in: "a/b/c", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEncounterID(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseEncounterID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseEncounterID(%q) = %v, want %v", tt.in, got, tt.want)
			}
			if !tt.wantErr && got.String() != tt.in {
				t.Errorf("String() = %q, want %q", got.String(), tt.in)
			}
		})
	}
}

func TestCompareIDs_TotalOrder(t *testing.T) {
	ids := []EncounterID{Composite("b", "x"), Plain("z"), Composite("a", "y"), Plain("c")}
	slices.SortFunc(ids, CompareIDs)
	want := []EncounterID{Plain("c"), Plain("z"), Composite("a", "y"), Composite("b", "x")}
	if !slices.Equal(ids, want) {
		t.Errorf("sorted = %v, want %v", ids, want)
	}
}

func TestAgentSnapshot_CloneIsDeep(t *testing.T) {
	a := AgentSnapshot{Access: []string{"x"}, XPPerDamage: map[string]float64{"attack": 4}}
	c := a.Clone()
	c.Access[0] = "y"
	c.XPPerDamage["attack"] = 1
	if a.Access[0] != "x" || a.XPPerDamage["attack"] != 4 {
		t.Error("Clone shares state with original")
	}
	if !a.CanAccess("") || !a.CanAccess("x") || a.CanAccess("y") {
		t.Error("CanAccess mismatch")
	}
}
