package audio

import (
	"context"
	"errors"
	"testing"

	"guardian/internal/logger"
	"guardian/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type invocation struct {
	name string
	args []string
}

func newTestPlayer(t *testing.T, cfg models.AudioConfig, err error) (*CommandPlayer, *[]invocation) {
	t.Helper()
	p, perr := NewCommandPlayer(cfg, logger.Discard())
	require.NoError(t, perr)
	var calls []invocation
	p.run = func(_ context.Context, name string, args ...string) error {
		calls = append(calls, invocation{name: name, args: args})
		return err
	}
	return p, &calls
}

func TestCommandPlayerExpandsArgs(t *testing.T) {
	p, calls := newTestPlayer(t, models.AudioConfig{
		Command: "aplay",
		Args:    []string{"-q", "--volume={volume}", "{file}"},
		Sounds:  map[string]string{"alert": "/sounds/alert.wav"},
	}, nil)

	require.NoError(t, p.Play(context.Background(), "alert", 0.7))
	require.Len(t, *calls, 1)
	assert.Equal(t, "aplay", (*calls)[0].name)
	assert.Equal(t, []string{"-q", "--volume=70", "/sounds/alert.wav"}, (*calls)[0].args)
	assert.Equal(t, uint64(1), p.Played())
}

func TestCommandPlayerDefaultArgs(t *testing.T) {
	p, calls := newTestPlayer(t, models.AudioConfig{
		Command: "paplay",
		Sounds:  map[string]string{"emergency": "e.wav"},
	}, nil)

	require.NoError(t, p.Play(context.Background(), "emergency", 1))
	assert.Equal(t, []string{"e.wav"}, (*calls)[0].args)
}

func TestCommandPlayerUnknownSound(t *testing.T) {
	p, calls := newTestPlayer(t, models.AudioConfig{Command: "aplay"}, nil)

	err := p.Play(context.Background(), "siren", 1)
	assert.ErrorIs(t, err, ErrUnknownSound)
	assert.Empty(t, *calls)
}

func TestCommandPlayerCommandFailure(t *testing.T) {
	p, _ := newTestPlayer(t, models.AudioConfig{
		Command: "aplay",
		Sounds:  map[string]string{"alert": "a.wav"},
	}, errors.New("exit status 1"))

	err := p.Play(context.Background(), "alert", 0.5)
	assert.Error(t, err)
	assert.Zero(t, p.Played())
}

func TestNewSelectsPlayer(t *testing.T) {
	p, err := New(models.AudioConfig{}, logger.Discard())
	require.NoError(t, err)
	assert.IsType(t, &LogPlayer{}, p)
	assert.NoError(t, p.Play(context.Background(), "alert", 0.5))

	p, err = New(models.AudioConfig{Command: "aplay"}, logger.Discard())
	require.NoError(t, err)
	assert.IsType(t, &CommandPlayer{}, p)
}
