package experiments

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gonum.org/v1/gonum/stat/distuv"
)

func TestScoreBayesBandit_ProbabilitiesSumToOneHundred(t *testing.T) {
	alts := testAlternatives(
		[2]int{182, 35},
		[2]int{180, 45},
		[2]int{189, 28},
		[2]int{188, 61},
	)

	scoreBayesBandit(alts, nil, DefaultProbability)

	sum := 0.0
	for _, alt := range alts {
		assert.GreaterOrEqual(t, alt.Probability, 0.0)
		assert.LessOrEqual(t, alt.Probability, 100.0)
		sum += alt.Probability
	}
	assert.InDelta(t, 100, sum, 0.5, "being-best probabilities partition certainty")
}

func TestScoreBayesBandit_DominantAlternativeWins(t *testing.T) {
	alts := testAlternatives(
		[2]int{200, 20},
		[2]int{200, 80},
	)

	score := scoreBayesBandit(alts, nil, DefaultProbability)

	assert.Greater(t, alts[1].Probability, 99.0, "a 40 vs 10 percent split is overwhelming evidence")
	assert.Less(t, alts[0].Probability, 1.0)
	require.NotNil(t, score.Best)
	assert.Equal(t, 1, score.Best.Index)
	require.NotNil(t, score.Choice)
	assert.Equal(t, 1, score.Choice.Index)
	assert.Equal(t, MethodBayesBandit, score.Method)
}

func TestScoreBayesBandit_NoDataIsEvenSplit(t *testing.T) {
	alts := testAlternatives([2]int{0, 0}, [2]int{0, 0})

	score := scoreBayesBandit(alts, nil, DefaultProbability)

	assert.InDelta(t, 50, alts[0].Probability, 1)
	assert.InDelta(t, 50, alts[1].Probability, 1)
	assert.Nil(t, score.Best)
	assert.Nil(t, score.Choice)
}

func TestIntegrate_MatchesClosedForms(t *testing.T) {
	// ∫x² over [0,1] = 1/3.
	result := integrate(func(x float64) float64 { return x * x }, 0, 1, 1e-6)
	assert.InDelta(t, 1.0/3, result, 1e-6)

	// A Beta pdf integrates to 1 over its support.
	beta := distuv.Beta{Alpha: 46, Beta: 136}
	result = integrate(beta.Prob, 0, 1, 1e-6)
	assert.InDelta(t, 1, result, 1e-4)
}
