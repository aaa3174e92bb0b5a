// Package aggregate composes per-encounter telemetry into group telemetry
// for instances and task-sets.
//
// Rates are averaged weighted by kill time, since a member that takes longer
// to kill dominates the group's steady-state throughput. Death rate and rare
// reward chances are composed multiplicatively as independent events.
package aggregate

import (
	"math"
	"strings"

	"github.com/nvandessel/sweepsim/internal/models"
)

// ReasonNoMembers marks a group that resolved to zero members.
const ReasonNoMembers = "group has no members"

// reasonMemberFailed is used when a failed member carries no reason.
const reasonMemberFailed = "member simulation failed"

// Member is one group member's telemetry as seen by the aggregator.
type Member struct {
	ID        models.EncounterID
	Telemetry models.Telemetry
	// RareChancePerRoll is the per-roll chance of the rare reward, or NaN
	// when the loot table has no entry.
	RareChancePerRoll float64
}

// Options tunes compound event composition.
type Options struct {
	// SessionSeconds is the time budget over which rare reward chances are
	// evaluated. Zero or negative leaves RareDropChance NaN.
	SessionSeconds float64
}

// Source supplies member data to an Aggregator.
type Source interface {
	// MemberTelemetry returns the current record for id. Filtered and
	// never-run members come back as failed records with a reason.
	MemberTelemetry(id models.EncounterID) models.Telemetry
	// RareChancePerRoll returns the per-roll rare chance for id or NaN.
	RareChancePerRoll(id models.EncounterID) float64
}

// Aggregator derives group records from a Source.
type Aggregator struct {
	src  Source
	opts Options
}

// New creates an Aggregator.
func New(src Source, opts Options) *Aggregator {
	return &Aggregator{src: src, opts: opts}
}

// Aggregate computes the record for one group. include is the group's own
// filter flag.
func (a *Aggregator) Aggregate(spec models.GroupSpec, include bool) models.Telemetry {
	if !include {
		return models.Failed(models.ReasonFiltered)
	}
	members := make([]Member, len(spec.Members))
	for i, id := range spec.Members {
		members[i] = Member{
			ID:                id,
			Telemetry:         a.src.MemberTelemetry(id),
			RareChancePerRoll: a.src.RareChancePerRoll(id),
		}
	}
	return Group(spec.Kind, members, true, a.opts)
}

// Group is the pure aggregation algorithm.
func Group(kind models.GroupKind, members []Member, include bool, opts Options) models.Telemetry {
	if !include {
		return models.Failed(models.ReasonFiltered)
	}
	if len(members) == 0 {
		return models.Failed(ReasonNoMembers)
	}

	if reasons := memberReasons(members); len(reasons) > 0 {
		return models.Failed(strings.Join(reasons, models.ReasonSeparator))
	}

	out := sequentialClear(members)
	if kind == models.KindTaskSet {
		applyTaskSetCorrection(&out, len(members))
	}
	out.RareDropChance = groupRareChance(kind, members, out.KillTimeSeconds, opts)
	return out
}

// memberReasons returns the distinct failure reasons in member order.
func memberReasons(members []Member) []string {
	var reasons []string
	seen := make(map[string]bool)
	add := func(r string) {
		if !seen[r] {
			seen[r] = true
			reasons = append(reasons, r)
		}
	}
	for _, m := range members {
		t := m.Telemetry
		for _, r := range splitReasons(t.Reason) {
			add(r)
		}
		if !t.SimSuccess && t.Reason == "" {
			add(reasonMemberFailed)
		}
	}
	return reasons
}

func splitReasons(reason string) []string {
	if reason == "" {
		return nil
	}
	return strings.Split(reason, models.ReasonSeparator)
}

// sequentialClear models one run as clearing every member once.
func sequentialClear(members []Member) models.Telemetry {
	out := models.NewTelemetry()
	out.SimSuccess = true

	killTime := 0.0
	for _, m := range members {
		killTime += m.Telemetry.KillTimeSeconds
	}
	out.SetKillTime(killTime)

	survive := 1.0
	highest := math.Inf(-1)
	lowest := math.Inf(1)
	for _, m := range members {
		t := m.Telemetry
		survive *= 1 - t.DeathRate
		highest = math.Max(highest, t.HighestDamageTaken)
		lowest = math.Min(lowest, t.LowestHitpoints)
		out.Trials += t.Trials
		out.Ticks += t.Ticks
	}
	out.DeathRate = 1 - survive
	out.HighestDamageTaken = highest
	out.LowestHitpoints = lowest

	out.XPPerSecond = weightedMap(members, killTime, func(t models.Telemetry) map[string]float64 { return t.XPPerSecond })
	out.ResourcesPerSecond = weightedMap(members, killTime, func(t models.Telemetry) map[models.ResourceID]float64 { return t.ResourcesPerSecond })
	out.ExtraRolls = weightedMap(members, killTime, func(t models.Telemetry) map[int]float64 { return t.ExtraRolls })

	if allHaveLoot(members) {
		out.LootValuePerSecond = weighted(members, killTime, func(t models.Telemetry) float64 { return t.LootValuePerSecond })
		out.KillGPPerSecond = weighted(members, killTime, func(t models.Telemetry) float64 { return t.KillGPPerSecond })
		out.AlchGPPerKill = 0
		out.AlchTimeSeconds = 0
		for _, m := range members {
			out.AlchGPPerKill += m.Telemetry.AlchGPPerKill
			out.AlchTimeSeconds += m.Telemetry.AlchTimeSeconds
		}
		out.GPPerSecond = GPPerSecond(out.KillGPPerSecond, out.KillTimeSeconds, out.AlchGPPerKill, out.AlchTimeSeconds)
	}
	return out
}

// applyTaskSetCorrection rescales a sequential-clear record so it describes
// one representative member per completion cycle.
// TODO(product): confirm whether this rescale is intended semantics or
// compensates for an upstream data inconsistency. Rare-chance member shares
// are taken from the corrected kill time, so for task-sets
// memberKillTime / (groupKillTime × memberCount) equals the instance share;
// the same review should settle whether the share should use the
// uncorrected sum instead.
func applyTaskSetCorrection(t *models.Telemetry, memberCount int) {
	n := float64(memberCount)
	t.KillsPerSecond *= n
	t.KillTimeSeconds /= n
	if t.HasLoot() {
		t.AlchGPPerKill /= n
		t.AlchTimeSeconds /= n
	}
}

// weighted returns Σ(rate × killTime) / groupKillTime.
func weighted(members []Member, groupKillTime float64, rate func(models.Telemetry) float64) float64 {
	sum := 0.0
	for _, m := range members {
		sum += rate(m.Telemetry) * m.Telemetry.KillTimeSeconds
	}
	return sum / groupKillTime
}

// weightedMap applies weighted to every key in the union of member maps,
// treating absent keys as zero.
func weightedMap[K comparable](members []Member, groupKillTime float64, get func(models.Telemetry) map[K]float64) map[K]float64 {
	out := make(map[K]float64)
	for _, m := range members {
		for k, v := range get(m.Telemetry) {
			out[k] += v * m.Telemetry.KillTimeSeconds
		}
	}
	for k := range out {
		out[k] /= groupKillTime
	}
	return out
}

func allHaveLoot(members []Member) bool {
	for _, m := range members {
		if !m.Telemetry.HasLoot() {
			return false
		}
	}
	return true
}

// GPPerSecond combines the kill-derived currency rate with per-kill alching
// gains, which add time of their own.
func GPPerSecond(killGPPerSecond, killTimeSeconds, alchGPPerKill, alchTimeSeconds float64) float64 {
	denom := killTimeSeconds + alchTimeSeconds
	if denom <= 0 {
		return math.NaN()
	}
	return (killGPPerSecond*killTimeSeconds + alchGPPerKill) / denom
}

// memberTimeShare is the member's fraction of total group time.
func memberTimeShare(kind models.GroupKind, memberKillTime, groupKillTime float64, memberCount int) float64 {
	if kind == models.KindTaskSet {
		return memberKillTime / (groupKillTime * float64(memberCount))
	}
	return memberKillTime / groupKillTime
}

func groupRareChance(kind models.GroupKind, members []Member, groupKillTime float64, opts Options) float64 {
	if opts.SessionSeconds <= 0 {
		return math.NaN()
	}
	notGet := make([]float64, 0, len(members))
	for _, m := range members {
		if math.IsNaN(m.RareChancePerRoll) {
			return math.NaN()
		}
		share := memberTimeShare(kind, m.Telemetry.KillTimeSeconds, groupKillTime, len(members))
		notGet = append(notGet, ChanceToNotGet(m.Telemetry.ExtraRolls, m.RareChancePerRoll, opts.SessionSeconds, share))
	}
	return CompoundChance(notGet...)
}
