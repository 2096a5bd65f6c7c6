// Package ffmpeg extracts transcription-ready audio from fetched media.
package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// DefaultBinary is used when no ffmpeg path is configured.
const DefaultBinary = "ffmpeg"

// Runner executes a command to completion.
type Runner func(ctx context.Context, name string, args ...string) error

// ExecRunner runs the command and folds its combined output into the error.
func ExecRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// ExtractArgs builds arguments that decode the first audio stream of source
// into a mono 16kHz PCM WAV file.
func ExtractArgs(source, dest string) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", source,
		"-map", "0:a:0",
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		dest,
	}
}

// ExtractAudio writes a WhisperX/Whisper compatible WAV for source at dest.
func ExtractAudio(ctx context.Context, run Runner, binary, source, dest string) error {
	if strings.TrimSpace(source) == "" || strings.TrimSpace(dest) == "" {
		return fmt.Errorf("extract audio: source and destination required")
	}
	if strings.TrimSpace(binary) == "" {
		binary = DefaultBinary
	}
	if run == nil {
		run = ExecRunner
	}
	if err := run(ctx, binary, ExtractArgs(source, dest)...); err != nil {
		return fmt.Errorf("ffmpeg extract: %w", err)
	}
	return nil
}
