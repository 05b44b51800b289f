package playback

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

type discard struct{}

func (discard) Play(context.Context, Clip) error { return nil }

// Discard drops every clip.
var Discard Output = discard{}

// CommandOutput plays clips through an external player that takes a file
// path as its last argument, e.g. "mpv --no-video" or "afplay".
type CommandOutput struct {
	Command []string
	TempDir string
}

// NewCommandOutput parses a player command line. An empty line yields
// Discard.
func NewCommandOutput(cmdline string) Output {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return Discard
	}
	return &CommandOutput{Command: fields}
}

func (o *CommandOutput) Play(ctx context.Context, clip Clip) error {
	f, err := os.CreateTemp(o.TempDir, "kotoba-*"+extension(clip.MIME))
	if err != nil {
		return fmt.Errorf("create clip file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(clip.Data); err != nil {
		f.Close()
		return fmt.Errorf("write clip file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close clip file: %w", err)
	}

	args := append(append([]string(nil), o.Command[1:]...), f.Name())
	cmd := exec.CommandContext(ctx, o.Command[0], args...)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("run %s: %w", o.Command[0], err)
	}
	return nil
}

func extension(mime string) string {
	switch mime {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/webm":
		return ".webm"
	case "audio/L16", "audio/pcm":
		return ".pcm"
	}
	return ".mp3"
}
