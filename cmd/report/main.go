// Package main runs a self-contained experiment demo: it defines a sample
// A/B test against the configured datastore, simulates visitor traffic with
// per-alternative conversion rates, and prints the score and conclusion.
// Useful for smoke-testing a datastore backend and for eyeballing scorer
// output.
package main

import (
	"fmt"
	"math/rand"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/config"
	"github.com/aristath/vantage/internal/experiments"
	"github.com/aristath/vantage/internal/storage"
	"github.com/aristath/vantage/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
	})

	store, err := openStore(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open datastore")
	}
	defer store.Close()

	registry := experiments.New(store, log,
		experiments.WithCollecting(cfg.Collecting),
		experiments.WithExperimentsStartEnabled(cfg.ExperimentsStartEnabled),
	)

	exp, err := registry.Define(experiments.Definition{
		Name:         "Signup button color",
		Kind:         experiments.KindABTest,
		Alternatives: []interface{}{"green", "blue", "red"},
		Metrics:      []string{"signup"},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to define experiment")
	}

	// Simulated true conversion rates per alternative.
	rates := []float64{0.10, 0.16, 0.12}
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 1500; i++ {
		ctx := experiments.NewContext(fmt.Sprintf("visitor-%d", i))
		alt := exp.Choose(ctx)
		if rng.Float64() < rates[alt.Index] {
			registry.Track(ctx, "signup", 1)
		}
	}

	score := exp.Score(experiments.DefaultProbability)
	for _, alt := range score.Alternatives {
		log.Info().
			Str("alternative", alt.Name()).
			Int("participants", alt.Participants).
			Int("converted", alt.Converted).
			Float64("rate", alt.ConversionRate()).
			Float64("z", alt.ZScore).
			Float64("probability", alt.Probability).
			Msg("Alternative scored")
	}

	for _, claim := range experiments.Conclusion(score) {
		fmt.Println(claim)
	}
}

// openStore builds the configured datastore backend.
func openStore(cfg *config.Config, log zerolog.Logger) (storage.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return storage.NewMemoryStore(log), nil
	case config.StoreBadger:
		return storage.NewBadgerStore(storage.BadgerConfig{
			Path:       filepath.Join(cfg.DataDir, "experiments-badger"),
			SyncWrites: true,
		}, log)
	default:
		return storage.NewSQLiteStore(filepath.Join(cfg.DataDir, "experiments.db"), log)
	}
}
