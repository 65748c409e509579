package scheduler

import (
	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/experiments"
)

// RebalanceJob republishes Bayesian assignment probabilities for every
// active, Bayesian-scored experiment in the registry. Experiments scored by
// the z-test are skipped by Rebalance itself.
type RebalanceJob struct {
	registry *experiments.Registry
	log      zerolog.Logger
}

// NewRebalanceJob creates a rebalance job over the registry.
func NewRebalanceJob(registry *experiments.Registry, log zerolog.Logger) *RebalanceJob {
	return &RebalanceJob{
		registry: registry,
		log:      log.With().Str("job", "rebalance").Logger(),
	}
}

// Name identifies the job in scheduler logs.
func (j *RebalanceJob) Name() string {
	return "rebalance"
}

// Run rebalances every registered experiment.
func (j *RebalanceJob) Run() error {
	for _, exp := range j.registry.Experiments() {
		exp.Rebalance()
	}
	return nil
}
