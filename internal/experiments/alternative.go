package experiments

import "fmt"

// Alternative is one candidate variant within an experiment, identified by
// its position in the definition order. The scoring fields (ZScore,
// Probability, Difference) are transient: they are populated by a scorer on a
// freshly loaded copy and never persisted. Counts live in the datastore,
// keyed by (experiment id, index); Alternative values are views over them.
type Alternative struct {
	Index int
	Value interface{}

	// Loaded counts (zero until loaded from the store).
	Participants int
	Converted    int
	Conversions  int

	// Scoring outputs.
	ZScore      float64  // NaN when there is not enough data; callers must check
	Probability float64  // 0, 90, 95, 99 or 99.9 (bayes: continuous 0..100)
	Difference  *float64 // percent above the least-performing alternative, nil if not comparable

	experimentID string
}

// Name returns the derived label: "option A", "option B", …
func (a *Alternative) Name() string {
	return fmt.Sprintf("option %c", 'A'+rune(a.Index))
}

// ConversionRate is distinct converted identities over participants, 0.0 when
// nobody participated yet.
func (a *Alternative) ConversionRate() float64 {
	if a.Participants == 0 {
		return 0.0
	}
	return float64(a.Converted) / float64(a.Participants)
}

// Fingerprint returns the stable 10-character token identifying this
// alternative to external collaborators.
func (a *Alternative) Fingerprint() string {
	return fingerprint(a.experimentID, a.Index)
}

func (a *Alternative) String() string {
	return fmt.Sprintf("%s (%v)", a.Name(), a.Value)
}
