package experiments

import (
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlternativeIndex_Deterministic(t *testing.T) {
	for i := 0; i < 1000; i++ {
		identity := fmt.Sprintf("visitor-%d", i)
		first := alternativeIndex("Price test", identity, 3)
		for j := 0; j < 5; j++ {
			assert.Equal(t, first, alternativeIndex("Price test", identity, 3),
				"assignment must be stable for identity %s", identity)
		}
	}
}

func TestAlternativeIndex_InRange(t *testing.T) {
	for count := 2; count <= 5; count++ {
		for i := 0; i < 200; i++ {
			index := alternativeIndex("Price test", fmt.Sprintf("visitor-%d", i), count)
			assert.GreaterOrEqual(t, index, 0)
			assert.Less(t, index, count)
		}
	}
}

func TestAlternativeIndex_RoughlyUniform(t *testing.T) {
	buckets := make([]int, 2)
	for i := 0; i < 1000; i++ {
		buckets[alternativeIndex("Signup test", fmt.Sprintf("visitor-%d", i), 2)]++
	}

	for index, n := range buckets {
		assert.InDelta(t, 500, n, 100, "alternative %d received %d of 1000 identities", index, n)
	}
}

func TestAlternativeIndex_VariesByExperiment(t *testing.T) {
	// The same identity may land on different alternatives in different
	// experiments; across many identities the assignments must not be
	// identical experiment to experiment.
	same := 0
	for i := 0; i < 200; i++ {
		identity := fmt.Sprintf("visitor-%d", i)
		if alternativeIndex("First test", identity, 2) == alternativeIndex("Second test", identity, 2) {
			same++
		}
	}
	assert.Less(t, same, 200, "experiment name must feed the hash")
}

func TestFingerprint_Format(t *testing.T) {
	hexToken := regexp.MustCompile(`^[0-9a-f]{10}$`)
	for alt := 0; alt < 4; alt++ {
		token := fingerprint("price_test", alt)
		assert.Regexp(t, hexToken, token)
	}
}

func TestFingerprint_DistinctPerAlternative(t *testing.T) {
	seen := make(map[string]int)
	for alt := 0; alt < 4; alt++ {
		token := fingerprint("price_test", alt)
		previous, dup := seen[token]
		require.False(t, dup, "alternatives %d and %d share fingerprint %s", previous, alt, token)
		seen[token] = alt
	}
}

func TestFingerprint_Stable(t *testing.T) {
	assert.Equal(t, fingerprint("price_test", 1), fingerprint("price_test", 1))
	assert.NotEqual(t, fingerprint("price_test", 1), fingerprint("other_test", 1))
}
