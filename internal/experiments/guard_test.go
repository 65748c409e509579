package experiments

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuarded_PassesThroughResult(t *testing.T) {
	result, err := guarded(func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestGuarded_PassesThroughError(t *testing.T) {
	boom := errors.New("boom")
	_, err := guarded(func() (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
}

func TestGuarded_RecoversPanic(t *testing.T) {
	result, err := guarded(func() (int, error) { panic("user callback exploded") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user callback exploded")
	assert.Zero(t, result)
}

func TestGuarded_RecoversErrorPanic(t *testing.T) {
	boom := errors.New("boom")
	_, err := guarded(func() (int, error) { panic(boom) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
