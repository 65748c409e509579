package experiments

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// ScoreMethod selects the statistical model used to pick a winner.
type ScoreMethod string

const (
	// MethodZScore is the frequentist two-proportion z-test.
	MethodZScore ScoreMethod = "z_score"
	// MethodBayesBandit is the posterior probability-of-being-best model.
	MethodBayesBandit ScoreMethod = "bayes_bandit"
)

// DefaultProbability is the significance threshold (percent) a best-performing
// alternative must clear before it is declared the winner.
const DefaultProbability = 90.0

// Score is the result of running a scorer over an experiment's alternatives.
//
// Base is the second-highest alternative by conversion rate (the control
// proxy the z-test compares against). Least is the worst alternative that
// still converted. Best is the highest-rate alternative, nil until somebody
// converts. Choice is the recorded outcome if the experiment completed, else
// Best once it clears the significance threshold, else nil ("no winner yet").
type Score struct {
	Alternatives []*Alternative
	Base         *Alternative
	Least        *Alternative
	Best         *Alternative
	Choice       *Alternative
	Method       ScoreMethod
}

// zThresholds maps significance percentages to the minimum |z| that reaches
// them. Built once by scanning the normal CDF over [0, 3.1] in 0.01 steps,
// ordered most significant first.
var zThresholds = buildZThresholds()

type zThreshold struct {
	probability float64
	z           float64
}

func buildZThresholds() []zThreshold {
	normal := distuv.Normal{Mu: 0, Sigma: 1}
	targets := []float64{99.9, 99, 95, 90}

	thresholds := make([]zThreshold, 0, len(targets))
	for _, target := range targets {
		for i := 0; i <= 310; i++ {
			z := float64(i) / 100
			if normal.CDF(z)*100 >= target {
				thresholds = append(thresholds, zThreshold{probability: target, z: z})
				break
			}
		}
	}
	return thresholds
}

// probabilityFromZ maps |z| to the highest significance percentage whose
// threshold it clears, or 0. NaN input compares false everywhere and yields 0.
func probabilityFromZ(z float64) float64 {
	abs := math.Abs(z)
	for _, t := range zThresholds {
		if abs >= t.z {
			return t.probability
		}
	}
	return 0
}

// scoreZScore runs the frequentist scorer. Each alternative's z-score is the
// signed two-proportion statistic against the base (second-highest rate);
// the absolute value is used only for the probability bucket lookup, the sign
// is preserved on the returned ZScore. Zero participants anywhere in the
// divisor leaves the z-score NaN on purpose: that is the "not enough data"
// signal, not an error.
func scoreZScore(alts []*Alternative, outcome *int, threshold float64) Score {
	sorted := sortedByRate(alts)
	base := sorted[len(sorted)-2]
	pc := base.ConversionRate()
	nc := float64(base.Participants)

	for _, alt := range alts {
		p := alt.ConversionRate()
		n := float64(alt.Participants)
		alt.ZScore = (p - pc) / math.Sqrt(p*(1-p)/n+pc*(1-pc)/nc)
		alt.Probability = probabilityFromZ(alt.ZScore)
	}

	return finalize(alts, base, outcome, threshold, MethodZScore)
}

// finalize fills in the rate-derived fields shared by both scorers: least,
// per-alternative difference, best, and choice.
func finalize(alts []*Alternative, base *Alternative, outcome *int, threshold float64, method ScoreMethod) Score {
	score := Score{Alternatives: alts, Base: base, Method: method}

	// Least is the worst alternative that converted at all; everything above
	// it gets a relative improvement percentage.
	converted := make([]*Alternative, 0, len(alts))
	for _, alt := range sortedByRate(alts) {
		if alt.ConversionRate() > 0 {
			converted = append(converted, alt)
		}
	}
	if len(converted) > 0 {
		least := converted[0]
		score.Least = least
		for _, alt := range converted[1:] {
			if alt.ConversionRate() > least.ConversionRate() {
				diff := (alt.ConversionRate() - least.ConversionRate()) / least.ConversionRate() * 100
				alt.Difference = &diff
			}
		}

		best := converted[len(converted)-1]
		if best.ConversionRate() > 0 {
			score.Best = best
		}
	}

	switch {
	case outcome != nil && *outcome >= 0 && *outcome < len(alts):
		score.Choice = alts[*outcome]
	case score.Best != nil && score.Best.Probability >= threshold:
		score.Choice = score.Best
	}
	return score
}

// sortedByRate returns the alternatives ordered by conversion rate ascending,
// stable in index order for ties.
func sortedByRate(alts []*Alternative) []*Alternative {
	sorted := make([]*Alternative, len(alts))
	copy(sorted, alts)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ConversionRate() < sorted[j].ConversionRate()
	})
	return sorted
}
