package alert

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Player plays an encoded WAV file.
type Player interface {
	Play(ctx context.Context, path string) error
}

// CommandPlayer shells out to a player such as aplay or paplay.
type CommandPlayer struct {
	Command string
	Args    []string
}

// NewCommandPlayer splits a command line like "aplay -q".
func NewCommandPlayer(cmdline string) *CommandPlayer {
	parts := strings.Fields(cmdline)
	if len(parts) == 0 {
		return &CommandPlayer{}
	}
	return &CommandPlayer{Command: parts[0], Args: parts[1:]}
}

func (p *CommandPlayer) Play(ctx context.Context, path string) error {
	if p == nil || p.Command == "" {
		return fmt.Errorf("player command is empty")
	}
	args := append(append([]string{}, p.Args...), path)
	out, err := exec.CommandContext(ctx, p.Command, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", p.Command, err, strings.TrimSpace(string(out)))
	}
	return nil
}

type nopPlayer struct{}

func (nopPlayer) Play(context.Context, string) error { return nil }

// NopPlayer discards tones; used on headless hosts.
var NopPlayer Player = nopPlayer{}
