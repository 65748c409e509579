package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNew_SetsGlobalLevel(t *testing.T) {
	New(Config{Level: "warn"})
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	New(Config{Level: "debug"})
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	New(Config{Level: "verbose"})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestNew_PrettyAndPlainBothConstruct(t *testing.T) {
	plain := New(Config{Level: "info"})
	pretty := New(Config{Level: "info", Pretty: true})

	assert.NotPanics(t, func() { plain.Info().Msg("plain") })
	assert.NotPanics(t, func() { pretty.Info().Msg("pretty") })
}
