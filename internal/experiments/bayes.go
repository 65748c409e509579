package experiments

import (
	"gonum.org/v1/gonum/stat/distuv"
)

// integrationTolerance bounds the error of the probability-of-being-best
// integral.
const integrationTolerance = 1e-4

// scoreBayesBandit runs the Bayesian bandit scorer. Each alternative gets a
// Beta(converted+1, participants-converted+1) posterior over its true
// conversion rate; its Probability is 100 × P(this alternative is truly best),
// the integral over [0,1] of its posterior density times the product of every
// other alternative's posterior CDF. Probabilities across all alternatives sum
// to ~100 within integration tolerance.
func scoreBayesBandit(alts []*Alternative, outcome *int, threshold float64) Score {
	posteriors := make([]distuv.Beta, len(alts))
	for i, alt := range alts {
		posteriors[i] = distuv.Beta{
			Alpha: float64(alt.Converted) + 1,
			Beta:  float64(alt.Participants-alt.Converted) + 1,
		}
	}

	for i, alt := range alts {
		alt.Probability = 100 * probabilityOfBeingBest(posteriors, i)
	}

	sorted := sortedByRate(alts)
	base := sorted[len(sorted)-2]
	return finalize(alts, base, outcome, threshold, MethodBayesBandit)
}

// probabilityOfBeingBest estimates P(alternative i has the highest true
// conversion rate) given all posteriors.
func probabilityOfBeingBest(posteriors []distuv.Beta, i int) float64 {
	f := func(x float64) float64 {
		v := posteriors[i].Prob(x)
		for j := range posteriors {
			if j != i {
				v *= posteriors[j].CDF(x)
			}
		}
		return v
	}
	return integrate(f, 0, 1, integrationTolerance)
}

// integrate evaluates ∫f over [a,b] by composite Simpson's rule, doubling the
// panel count until two successive estimates agree within tol.
func integrate(f func(float64) float64, a, b, tol float64) float64 {
	const maxPanels = 1 << 16

	prev := simpson(f, a, b, 64)
	for n := 128; n <= maxPanels; n *= 2 {
		current := simpson(f, a, b, n)
		if diff := current - prev; -tol < diff && diff < tol {
			return current
		}
		prev = current
	}
	return prev
}

// simpson is composite Simpson's rule with n panels (n must be even).
func simpson(f func(float64) float64, a, b float64, n int) float64 {
	h := (b - a) / float64(n)
	sum := f(a) + f(b)
	for i := 1; i < n; i++ {
		x := a + float64(i)*h
		if i%2 == 1 {
			sum += 4 * f(x)
		} else {
			sum += 2 * f(x)
		}
	}
	return sum * h / 3
}
