package aggregate

import "math"

// ChanceToNotGet returns the probability of never hitting a per-roll chance
// over a session of sessionSeconds, of which this member receives share.
// rolls maps a roll interval to rolls per second:
//
//	Π over intervals of (1 - perRoll)^(rollsPerSecond × sessionSeconds × share)
//
// The product is evaluated in log space.
func ChanceToNotGet(rolls map[int]float64, perRoll, sessionSeconds, share float64) float64 {
	if perRoll <= 0 {
		return 1
	}
	logNot := math.Log1p(-math.Min(perRoll, 1))
	exp := 0.0
	for _, rps := range rolls {
		n := rps * sessionSeconds * share
		if n <= 0 {
			continue
		}
		exp += n * logNot
	}
	return math.Exp(exp)
}

// CompoundChance returns the chance of at least one success given each
// independent source's chance to not succeed.
func CompoundChance(notGet ...float64) float64 {
	p := 1.0
	for _, q := range notGet {
		p *= q
	}
	return 1 - p
}
