package whisperx

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"vidscribe/internal/deps"
	"vidscribe/internal/media/ffmpeg"
	"vidscribe/internal/services"
	"vidscribe/internal/stage"
	"vidscribe/internal/transcript"
)

// Service provides WhisperX transcription capabilities.
type Service struct {
	cfg           Config
	commandRunner func(ctx context.Context, name string, args ...string) error
}

// NewService creates a WhisperX service with the given configuration.
func NewService(cfg Config) *Service {
	if cfg.FFmpegBinary == "" {
		cfg.FFmpegBinary = ffmpeg.DefaultBinary
	}
	return &Service{cfg: cfg}
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *Service) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) error) {
	s.commandRunner = runner
}

// Name identifies the engine in logs and run summaries.
func (s *Service) Name() string {
	return "whisperx"
}

// Model returns the configured model name for logging.
func (s *Service) Model() string {
	if s.cfg.Model != "" {
		return s.cfg.Model
	}
	return DefaultModel
}

// HealthCheck reports whether uvx and ffmpeg are installed.
func (s *Service) HealthCheck(context.Context) stage.Health {
	for _, req := range []deps.Requirement{
		{Name: "uvx", Command: UVXCommand},
		{Name: "ffmpeg", Command: s.cfg.FFmpegBinary},
	} {
		if status := deps.CheckBinary(req); !status.Available {
			return stage.Unhealthy(s.Name(), status.Detail)
		}
	}
	return stage.Healthy(s.Name())
}

// run executes a command, using the custom runner if set.
func (s *Service) run(ctx context.Context, name string, args ...string) error {
	if s.commandRunner != nil {
		return s.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec

	// Torch 2.6 changed torch.load default to weights_only=true, breaking WhisperX/pyannote.
	// Force legacy behavior so bundled WhisperX binaries can load checkpoints safely.
	if os.Getenv("TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD") == "" {
		cmd.Env = append(os.Environ(), "TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1")
	}

	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Transcribe extracts audio from the request's media and runs WhisperX on it.
func (s *Service) Transcribe(ctx context.Context, req transcript.Request) (transcript.Raw, error) {
	if strings.TrimSpace(req.MediaPath) == "" {
		return transcript.Raw{}, services.Wrap(services.ErrTranscription, stage.Transcribe, "whisperx", "Media path required", nil)
	}
	workDir := req.WorkDir
	if workDir == "" {
		workDir = filepath.Dir(req.MediaPath)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return transcript.Raw{}, services.Wrap(services.ErrTranscription, stage.Transcribe, "whisperx", "Failed to create work directory", err)
	}

	baseName := strings.TrimSuffix(filepath.Base(req.MediaPath), filepath.Ext(req.MediaPath))
	audioPath := filepath.Join(workDir, baseName+".wav")
	if err := ffmpeg.ExtractAudio(ctx, s.run, s.cfg.FFmpegBinary, req.MediaPath, audioPath); err != nil {
		return transcript.Raw{}, services.Wrap(services.ErrTranscription, stage.Transcribe, "extract audio", "Audio extraction failed", err)
	}

	args := s.buildArgs(audioPath, workDir, req.Model, req.Language)
	if err := s.run(ctx, UVXCommand, args...); err != nil {
		return transcript.Raw{}, services.Wrap(services.ErrTranscription, stage.Transcribe, "whisperx", "WhisperX transcription failed", err)
	}

	jsonPath := filepath.Join(workDir, baseName+".json")
	raw, err := transcript.LoadRaw(jsonPath)
	if err != nil {
		return transcript.Raw{}, services.Wrap(services.ErrTranscription, stage.Transcribe, "load output",
			fmt.Sprintf("WhisperX output %s unreadable", jsonPath), err)
	}
	if raw.Language == "" {
		raw.Language = req.Language
	}
	return raw, nil
}

// buildArgs constructs the uvx command arguments for WhisperX.
func (s *Service) buildArgs(source, outputDir, model, language string) []string {
	args := make([]string, 0, 40)

	// Index URLs
	if s.cfg.CUDAEnabled {
		args = append(args,
			"--index-url", CUDAIndexURL,
			"--extra-index-url", PypiIndexURL,
		)
	} else {
		args = append(args, "--index-url", PypiIndexURL)
	}

	if model == "" {
		model = s.Model()
	}

	args = append(args,
		"whisperx",
		source,
		"--model", model,
		"--batch_size", BatchSize,
		"--output_dir", outputDir,
		"--output_format", OutputFormat,
		"--segment_resolution", SegmentResolution,
		"--chunk_size", ChunkSize,
		"--vad_onset", VADOnset,
		"--vad_offset", VADOffset,
		"--beam_size", BeamSize,
		"--best_of", BestOf,
		"--temperature", Temperature,
		"--patience", Patience,
	)

	// VAD method
	vadMethod := s.cfg.VADMethod
	if vadMethod == "" {
		vadMethod = VADMethodSilero
	}
	args = append(args, "--vad_method", vadMethod)
	if vadMethod == VADMethodPyannote && s.cfg.HFToken != "" {
		args = append(args, "--hf_token", s.cfg.HFToken)
	}

	if language != "" {
		args = append(args, "--language", language)
	}

	// Device
	if s.cfg.CUDAEnabled {
		args = append(args, "--device", CUDADevice)
	} else {
		args = append(args, "--device", CPUDevice, "--compute_type", CPUComputeType)
	}

	return args
}
