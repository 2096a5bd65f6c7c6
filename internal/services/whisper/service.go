// Package whisper runs the openai-whisper CLI for the transcribe stage when
// transcription.engine is "whisper".
package whisper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"vidscribe/internal/deps"
	"vidscribe/internal/media/ffmpeg"
	"vidscribe/internal/services"
	"vidscribe/internal/stage"
	"vidscribe/internal/transcript"
)

// Defaults for the openai-whisper CLI.
const (
	DefaultBinary = "whisper"
	DefaultModel  = "medium"
)

// Config captures runtime settings for openai-whisper.
type Config struct {
	Binary       string
	Model        string
	FFmpegBinary string
	CUDAEnabled  bool
}

// Service transcribes audio with the openai-whisper command line tool.
type Service struct {
	cfg Config
	run ffmpeg.Runner
}

// NewService creates a whisper service with the given configuration.
func NewService(cfg Config) *Service {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.FFmpegBinary == "" {
		cfg.FFmpegBinary = ffmpeg.DefaultBinary
	}
	return &Service{cfg: cfg, run: ffmpeg.ExecRunner}
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *Service) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) error) {
	if runner != nil {
		s.run = runner
	}
}

// Name identifies the engine in logs and run summaries.
func (s *Service) Name() string {
	return "whisper"
}

// HealthCheck reports whether whisper and ffmpeg are installed.
func (s *Service) HealthCheck(context.Context) stage.Health {
	for _, req := range []deps.Requirement{
		{Name: "whisper", Command: s.cfg.Binary},
		{Name: "ffmpeg", Command: s.cfg.FFmpegBinary},
	} {
		if status := deps.CheckBinary(req); !status.Available {
			return stage.Unhealthy(s.Name(), status.Detail)
		}
	}
	return stage.Healthy(s.Name())
}

// Transcribe extracts audio from the request's media and runs whisper on it.
func (s *Service) Transcribe(ctx context.Context, req transcript.Request) (transcript.Raw, error) {
	if strings.TrimSpace(req.MediaPath) == "" {
		return transcript.Raw{}, services.Wrap(services.ErrTranscription, stage.Transcribe, "whisper", "Media path required", nil)
	}
	workDir := req.WorkDir
	if workDir == "" {
		workDir = filepath.Dir(req.MediaPath)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return transcript.Raw{}, services.Wrap(services.ErrTranscription, stage.Transcribe, "whisper", "Failed to create work directory", err)
	}

	baseName := strings.TrimSuffix(filepath.Base(req.MediaPath), filepath.Ext(req.MediaPath))
	audioPath := filepath.Join(workDir, baseName+".wav")
	if err := ffmpeg.ExtractAudio(ctx, s.run, s.cfg.FFmpegBinary, req.MediaPath, audioPath); err != nil {
		return transcript.Raw{}, services.Wrap(services.ErrTranscription, stage.Transcribe, "extract audio", "Audio extraction failed", err)
	}

	if err := s.run(ctx, s.cfg.Binary, s.buildArgs(audioPath, workDir, req.Model, req.Language)...); err != nil {
		return transcript.Raw{}, services.Wrap(services.ErrTranscription, stage.Transcribe, "whisper", "Whisper transcription failed", err)
	}

	jsonPath := filepath.Join(workDir, baseName+".json")
	raw, err := transcript.LoadRaw(jsonPath)
	if err != nil {
		return transcript.Raw{}, services.Wrap(services.ErrTranscription, stage.Transcribe, "load output",
			fmt.Sprintf("Whisper output %s unreadable", jsonPath), err)
	}
	if raw.Language == "" {
		raw.Language = req.Language
	}
	return raw, nil
}

func (s *Service) buildArgs(audioPath, outputDir, model, language string) []string {
	if model == "" {
		model = s.cfg.Model
	}
	args := []string{
		audioPath,
		"--model", model,
		"--output_format", "json",
		"--output_dir", outputDir,
		"--verbose", "False",
	}
	if language != "" {
		args = append(args, "--language", language)
	}
	if s.cfg.CUDAEnabled {
		args = append(args, "--device", "cuda")
	} else {
		args = append(args, "--device", "cpu", "--fp16", "False")
	}
	return args
}
