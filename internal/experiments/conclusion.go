package experiments

import (
	"fmt"
	"math"
	"strings"
)

// Conclusion renders a score as an ordered list of human-readable claims:
// participant count, best-vs-runner-up lift, significance verdict,
// per-alternative conversion percentages, and the outcome announcement when a
// winner has been chosen.
func Conclusion(score Score) []string {
	claims := []string{}

	participants := 0
	for _, alt := range score.Alternatives {
		participants += alt.Participants
	}
	switch participants {
	case 0:
		claims = append(claims, "There are no participants in this experiment yet.")
	case 1:
		claims = append(claims, "There is one participant in this experiment.")
	default:
		claims = append(claims, fmt.Sprintf("There are %d participants in this experiment.", participants))
	}

	// Descending by conversion rate.
	sorted := sortedByRate(score.Alternatives)
	for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
		sorted[i], sorted[j] = sorted[j], sorted[i]
	}

	if sorted[0].ConversionRate() > 0 {
		best, second := sorted[0], sorted[1]
		if best.ConversionRate() > second.ConversionRate() {
			// The relative lift is only meaningful against a runner-up that
			// converted; dividing by a zero rate is not.
			better := ""
			if second.ConversionRate() > 0 {
				diff := int(math.Round((best.ConversionRate() - second.ConversionRate()) / second.ConversionRate() * 100))
				if diff > 0 {
					better = fmt.Sprintf(" (%d%% better than %s)", diff, second.Name())
				}
			}
			claims = append(claims, fmt.Sprintf("The best choice is %s: it converted at %.1f%%%s.",
				best.Name(), best.ConversionRate()*100, better))
			if best.Probability >= 90 {
				claims = append(claims, fmt.Sprintf("With %d%% probability this result is statistically significant.",
					int(best.Probability)))
			} else {
				claims = append(claims, "This result is not statistically significant, suggest you continue this experiment.")
			}
			sorted = sorted[1:]
		}
		for _, alt := range sorted {
			if alt.ConversionRate() > 0 {
				claims = append(claims, fmt.Sprintf("%s converted at %.1f%%.", capitalize(alt.Name()), alt.ConversionRate()*100))
			} else {
				claims = append(claims, fmt.Sprintf("%s did not convert.", capitalize(alt.Name())))
			}
		}
	} else {
		claims = append(claims, "This experiment did not run long enough to find a clear winner.")
	}

	if score.Choice != nil {
		claims = append(claims, fmt.Sprintf("%s selected as the best alternative.", capitalize(score.Choice.Name())))
	}

	return claims
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
