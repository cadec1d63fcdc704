// Package audio plays alert sounds through an external command.
package audio

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"

	"guardian/internal/logger"
	"guardian/internal/models"
)

var ErrUnknownSound = errors.New("unknown sound")

// runner starts name with args and waits for it to exit
type runner func(ctx context.Context, name string, args ...string) error

func execRunner(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// CommandPlayer plays a sound by running Command with Args, where the
// placeholders {file} and {volume} are replaced per invocation. Volume is
// passed as an integer percentage.
type CommandPlayer struct {
	command string
	args    []string
	sounds  map[string]string
	log     *logger.Logger
	run     runner
	played  atomic.Uint64
}

func NewCommandPlayer(cfg models.AudioConfig, log *logger.Logger) (*CommandPlayer, error) {
	if cfg.Command == "" {
		return nil, errors.New("audio command is required")
	}
	args := cfg.Args
	if len(args) == 0 {
		args = []string{"{file}"}
	}
	sounds := make(map[string]string, len(cfg.Sounds))
	for name, file := range cfg.Sounds {
		sounds[name] = file
	}
	return &CommandPlayer{
		command: cfg.Command,
		args:    args,
		sounds:  sounds,
		log:     log.With("audio"),
		run:     execRunner,
	}, nil
}

func (p *CommandPlayer) Play(ctx context.Context, sound string, volume float64) error {
	file, ok := p.sounds[sound]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSound, sound)
	}

	args := expandArgs(p.args, file, volume)
	p.log.Debugf("Playing %s: %s %s", sound, p.command, strings.Join(args, " "))
	if err := p.run(ctx, p.command, args...); err != nil {
		return fmt.Errorf("play %s: %w", sound, err)
	}
	p.played.Add(1)
	return nil
}

// Played reports completed playbacks.
func (p *CommandPlayer) Played() uint64 {
	return p.played.Load()
}

func expandArgs(args []string, file string, volume float64) []string {
	pct := strconv.Itoa(int(volume*100 + 0.5))
	r := strings.NewReplacer("{file}", file, "{volume}", pct)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}

// LogPlayer stands in when no audio command is configured.
type LogPlayer struct {
	log *logger.Logger
}

func NewLogPlayer(log *logger.Logger) *LogPlayer {
	return &LogPlayer{log: log.With("audio")}
}

func (p *LogPlayer) Play(_ context.Context, sound string, volume float64) error {
	p.log.Infof("Sound %s at volume %.2f", sound, volume)
	return nil
}

type Player interface {
	Play(ctx context.Context, sound string, volume float64) error
}

// New picks a CommandPlayer when a command is configured.
func New(cfg models.AudioConfig, log *logger.Logger) (Player, error) {
	if cfg.Command == "" {
		return NewLogPlayer(log), nil
	}
	p, err := NewCommandPlayer(cfg, log)
	if err != nil {
		return nil, err
	}
	return p, nil
}
