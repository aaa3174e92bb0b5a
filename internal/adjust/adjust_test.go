package adjust

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/nvandessel/sweepsim/internal/aggregate"
	"github.com/nvandessel/sweepsim/internal/models"
)

func sample() models.Telemetry {
	t := models.NewTelemetry()
	t.SimSuccess = true
	t.SetKillTime(4)
	t.XPPerSecond["attack"] = 12
	t.XPPerSecond["hitpoints"] = 4
	t.ResourcesPerSecond["food"] = 0.5
	t.ResourcesPerSecond["arrows"] = 0.25
	t.LootValuePerSecond = 3
	t.KillGPPerSecond = 10
	t.AlchGPPerKill = 20
	t.AlchTimeSeconds = 1
	t.GPPerSecond = aggregate.GPPerSecond(10, 4, 20, 1)
	return t
}

func TestAdjust_ZeroCostIsIdentity(t *testing.T) {
	tel := sample()
	for name, cost := range map[string]CostModel{
		"nil":        nil,
		"empty":      {},
		"all zeroes": {"food": 0, "arrows": 0},
	} {
		t.Run(name, func(t *testing.T) {
			r := Adjust(tel, cost)
			if r.Factor != 1 {
				t.Errorf("Factor = %v, want 1", r.Factor)
			}
			if r.KillTimeSeconds != tel.KillTimeSeconds || r.KillsPerSecond != tel.KillsPerSecond {
				t.Errorf("kill timing changed: %v/%v", r.KillTimeSeconds, r.KillsPerSecond)
			}
			for k, v := range tel.XPPerSecond {
				if r.XPPerSecond[k] != v {
					t.Errorf("xp %s = %v, want %v", k, r.XPPerSecond[k], v)
				}
			}
			for k, v := range tel.ResourcesPerSecond {
				if r.ResourcesPerSecond[k] != v {
					t.Errorf("resource %s = %v, want %v", k, r.ResourcesPerSecond[k], v)
				}
			}
			if r.GPPerSecond != tel.GPPerSecond {
				t.Errorf("GPPerSecond = %v, want %v", r.GPPerSecond, tel.GPPerSecond)
			}
			if r.LootValuePerSecond != tel.LootValuePerSecond {
				t.Errorf("LootValuePerSecond = %v, want %v", r.LootValuePerSecond, tel.LootValuePerSecond)
			}
		})
	}
}

func TestAdjust_ScalesByFactor(t *testing.T) {
	tel := sample()
	// 1 + 0.5*2 + 0.25*4 = 3
	r := Adjust(tel, CostModel{"food": 2, "arrows": 4, "unused": 100})
	if r.Factor != 3 {
		t.Fatalf("Factor = %v, want 3", r.Factor)
	}
	if r.XPPerSecond["attack"] != 4 {
		t.Errorf("attack = %v, want 4", r.XPPerSecond["attack"])
	}
	if r.KillTimeSeconds != 12 {
		t.Errorf("KillTimeSeconds = %v, want 12", r.KillTimeSeconds)
	}
	if math.Abs(r.KillsPerSecond-1.0/12) > 1e-12 {
		t.Errorf("KillsPerSecond = %v, want 1/12", r.KillsPerSecond)
	}
	if tel.XPPerSecond["attack"] != 12 {
		t.Error("Adjust mutated its input")
	}
}

func TestAdjust_CurrencySplitsKillAndAlchTime(t *testing.T) {
	tel := sample()
	r := Adjust(tel, CostModel{"food": 2, "arrows": 4})
	// per cycle: 10*4 + 20 = 60 gp over 4*3 + 1 seconds
	want := 60.0 / 13.0
	if math.Abs(r.GPPerSecond-want) > 1e-12 {
		t.Errorf("GPPerSecond = %v, want %v", r.GPPerSecond, want)
	}
	if uniform := tel.GPPerSecond / r.Factor; math.Abs(uniform-want) < 1e-9 {
		t.Error("currency should not be a uniform division by factor")
	}
}

func TestAdjust_FailedTelemetryStaysNaN(t *testing.T) {
	r := Adjust(models.Failed("boom"), CostModel{"food": 1})
	if !math.IsNaN(r.KillsPerSecond) || !math.IsNaN(r.GPPerSecond) {
		t.Errorf("got %+v, want NaN rates", r)
	}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), `"gp_per_second":null`) {
		t.Errorf("NaN should encode as null: %s", data)
	}
}

func TestFromConfig(t *testing.T) {
	c := FromConfig(map[string]float64{"food": 1.5})
	if c.Seconds("food") != 1.5 || c.Seconds("other") != 0 {
		t.Errorf("FromConfig = %v", c)
	}
}
