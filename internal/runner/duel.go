package runner

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"math/rand/v2"

	"github.com/nvandessel/sweepsim/internal/models"
)

// TickSeconds is the length of one combat tick.
const TickSeconds = 0.05

// ResourceFood counts food eaten by the auto-eat rule.
const ResourceFood models.ResourceID = "food"

// Duel is a reference Runner: a tick-based one-on-one fight between the
// agent and the encounter. Agent hitpoints carry over between kills and
// reset after a death. Results are deterministic for a given Seed and
// encounter ID.
type Duel struct {
	Seed uint64
}

type duelState struct {
	rng *rand.Rand

	agentHP, enemyHP float64
	agentTimer       int
	enemyTimer       int

	kills, deaths int
	ticks         int
	attacks       int
	foodEaten     int
	damageDealt   float64
	highestTaken  float64
	lowestHP      float64
}

// Run implements Runner.
func (d Duel) Run(ctx context.Context, req Request) (models.Telemetry, error) {
	if err := validate(req); err != nil {
		return models.Telemetry{}, err
	}
	a, e := req.Agent, req.Encounter

	agentInterval := intervalTicks(a.AttackIntervalMs)
	enemyInterval := intervalTicks(e.AttackIntervalMs)
	agentHit := hitChance(a.Accuracy, e.Evasion)
	enemyHit := hitChance(e.Accuracy, a.Evasion)

	s := &duelState{
		rng:      rand.New(rand.NewPCG(d.Seed, seedFor(req.ID))),
		agentHP:  a.MaxHitpoints,
		lowestHP: a.MaxHitpoints,
	}

	for trial := 0; trial < req.Trials && s.ticks < req.Ticks; trial++ {
		if err := ctx.Err(); err != nil {
			return models.Telemetry{}, err
		}
		s.enemyHP = e.Hitpoints
		s.agentTimer = agentInterval
		s.enemyTimer = enemyInterval

		for s.ticks < req.Ticks {
			s.ticks++

			s.agentTimer--
			if s.agentTimer == 0 {
				s.agentTimer = agentInterval
				s.attacks++
				if s.rng.Float64() < agentHit {
					dmg := math.Min(rollDamage(s.rng, a.MaxHit), s.enemyHP)
					s.enemyHP -= dmg
					s.damageDealt += dmg
				}
				if s.enemyHP <= 0 {
					s.kills++
					break
				}
			}

			if enemyInterval > 0 {
				s.enemyTimer--
				if s.enemyTimer == 0 {
					s.enemyTimer = enemyInterval
					if s.rng.Float64() < enemyHit {
						dmg := rollDamage(s.rng, e.MaxHit) * (1 - a.DamageReduction)
						s.agentHP -= dmg
						s.highestTaken = math.Max(s.highestTaken, dmg)
						s.lowestHP = math.Min(s.lowestHP, s.agentHP)
					}
					if s.agentHP <= 0 {
						s.deaths++
						s.agentHP = a.MaxHitpoints
						break
					}
					s.autoEat(a)
				}
			}
		}
	}

	return s.telemetry(a), nil
}

func (s *duelState) autoEat(a models.AgentSnapshot) {
	if a.FoodHeal <= 0 {
		return
	}
	for s.agentHP < a.AutoEatThreshold*a.MaxHitpoints {
		s.agentHP = math.Min(a.MaxHitpoints, s.agentHP+a.FoodHeal)
		s.foodEaten++
	}
}

func (s *duelState) telemetry(a models.AgentSnapshot) models.Telemetry {
	if s.kills == 0 {
		t := models.Failed(models.ReasonNoKills)
		t.Ticks = s.ticks
		t.Trials = s.deaths
		return t
	}

	elapsed := float64(s.ticks) * TickSeconds
	t := models.NewTelemetry()
	t.SimSuccess = true
	t.Trials = s.kills + s.deaths
	t.Ticks = s.ticks
	t.SetKillTime(elapsed / float64(s.kills))

	for cat, perDamage := range a.XPPerDamage {
		t.XPPerSecond[cat] = s.damageDealt * perDamage / elapsed
	}
	for r, perAttack := range a.ResourcesPerAttack {
		t.ResourcesPerSecond[r] += perAttack * float64(s.attacks) / elapsed
	}
	for r, perSecond := range a.ResourcesPerSecond {
		t.ResourcesPerSecond[r] += perSecond
	}
	if s.foodEaten > 0 {
		t.ResourcesPerSecond[ResourceFood] += float64(s.foodEaten) / elapsed
	}

	t.DeathRate = float64(s.deaths) / float64(t.Trials)
	t.HighestDamageTaken = s.highestTaken
	t.LowestHitpoints = s.lowestHP
	t.ExtraRolls[a.AttackIntervalMs] = float64(s.attacks) / elapsed
	return t
}

func validate(req Request) error {
	switch {
	case req.Trials <= 0:
		return errors.New("trial budget must be positive")
	case req.Ticks <= 0:
		return errors.New("tick budget must be positive")
	case req.Agent.AttackIntervalMs <= 0:
		return errors.New("agent attack interval must be positive")
	case req.Agent.MaxHit <= 0:
		return errors.New("agent cannot deal damage")
	case req.Agent.MaxHitpoints <= 0:
		return errors.New("agent has no hitpoints")
	case req.Encounter.Hitpoints <= 0:
		return errors.New("encounter has no hitpoints")
	}
	return nil
}

func intervalTicks(ms int) int {
	if ms <= 0 {
		return 0
	}
	return max(1, int(math.Round(float64(ms)/1000/TickSeconds)))
}

// hitChance compares accuracy against evasion.
func hitChance(accuracy, evasion float64) float64 {
	switch {
	case evasion <= 0:
		return 1
	case accuracy <= 0:
		return 0
	case accuracy < evasion:
		return 0.5 * accuracy / evasion
	default:
		return 1 - 0.5*evasion/accuracy
	}
}

// rollDamage draws uniformly from [1, maxHit].
func rollDamage(rng *rand.Rand, maxHit float64) float64 {
	if maxHit <= 1 {
		return math.Max(maxHit, 0)
	}
	return 1 + math.Floor(rng.Float64()*maxHit)
}

func seedFor(id models.EncounterID) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id.String()))
	return h.Sum64()
}
