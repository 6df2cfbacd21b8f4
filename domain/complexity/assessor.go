// Package complexity implements the Complexity Assessor: a pure heuristic
// classifier with zero I/O, mapping a query's signals to a routing tier.
package complexity

import (
	"regexp"
	"strings"

	"github.com/dlorp/synapse-engine-sub002/domain/query"
)

// Tier mirrors the three complexity buckets the Assessor can report;
// query.Tier carries the routing-level UNKNOWN value this package never
// produces.
type Tier string

const (
	Simple   Tier = "SIMPLE"
	Moderate Tier = "MODERATE"
	Complex  Tier = "COMPLEX"
)

// RouteTier maps a complexity tier to the Router's model tier.
func (t Tier) RouteTier() query.Tier {
	switch t {
	case Simple:
		return query.TierFAST
	case Moderate:
		return query.TierBALANCED
	case Complex:
		return query.TierPOWERFUL
	default:
		return query.TierUNKNOWN
	}
}

// Score is the Assessor's output: a complexity tier, the raw additive
// score that produced it, and a confidence derived from distance to the
// nearest interval boundary.
type Score struct {
	Tier       Tier
	Raw        float64
	Confidence float64
}

const (
	simpleUpper   = 3.0
	moderateUpper = 7.0
)

// tokenWeightDivisor converts a word count into the token-count signal;
// every ~8 words contributes one point.
const tokenWeightDivisor = 8.0

var (
	multiPartConnectors = regexp.MustCompile(`(?i)\b(and then|after that|additionally|furthermore|also|as well as|followed by)\b`)
	comparisonMarkers   = regexp.MustCompile(`(?i)\b(compare|versus|vs\.?|better than|worse than|difference between|which is (better|worse))\b`)
	reasoningMarkers    = regexp.MustCompile(`(?i)\b(why|explain|because|reason|justify|rationale)\b`)
)

// weight per signal, applied in the order spec.md §4.G lists: token count,
// multi-part connectors, comparison markers, reasoning markers.
const (
	connectorWeight  = 1.5
	comparisonWeight = 2.0
	reasoningWeight  = 2.5
)

// Assess classifies a query's text into a complexity tier. It is a pure
// function: no I/O, no randomness, safe to call concurrently.
func Assess(text string) Score {
	words := strings.Fields(text)
	score := float64(len(words)) / tokenWeightDivisor

	if multiPartConnectors.MatchString(text) {
		score += connectorWeight
	}
	if comparisonMarkers.MatchString(text) {
		score += comparisonWeight
	}
	if reasoningMarkers.MatchString(text) {
		score += reasoningWeight
	}

	return Score{
		Tier:       tierFor(score),
		Raw:        score,
		Confidence: confidenceFor(score),
	}
}

// tierFor applies the half-open interval boundaries [0,3) SIMPLE,
// [3,7) MODERATE, [7,inf) COMPLEX.
func tierFor(score float64) Tier {
	switch {
	case score < simpleUpper:
		return Simple
	case score < moderateUpper:
		return Moderate
	default:
		return Complex
	}
}

// confidenceFor is the distance from the score to the nearest boundary of
// its tier's interval, divided by half the interval width and clamped to
// [0,1]. A score deep inside its interval is high-confidence; a score
// just past a boundary is low-confidence. COMPLEX is unbounded above, so
// only its lower boundary counts, normalized over a width of 3.
func confidenceFor(score float64) float64 {
	var lower, upper float64
	switch tierFor(score) {
	case Simple:
		lower, upper = 0, simpleUpper
	case Moderate:
		lower, upper = simpleUpper, moderateUpper
	default:
		lower, upper = moderateUpper, moderateUpper+simpleUpper
	}

	width := upper - lower
	if width <= 0 {
		return 1
	}
	distanceToNearestBoundary := min(score-lower, upper-score)
	if tierFor(score) == Complex {
		distanceToNearestBoundary = score - lower
	}
	normalized := distanceToNearestBoundary / (width / 2)
	if normalized > 1 {
		normalized = 1
	}
	if normalized < 0 {
		normalized = 0
	}
	return normalized
}
