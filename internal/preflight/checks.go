package preflight

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"vidscribe/internal/config"
	"vidscribe/internal/deps"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// Requirements lists the binaries the configured collaborators need.
func Requirements(cfg *config.Config) []deps.Requirement {
	requirements := []deps.Requirement{
		{
			Name:        "yt-dlp",
			Command:     cfg.Fetch.YtDlpBinary,
			Description: "Required to fetch remote videos",
		},
		{
			Name:        "FFprobe",
			Command:     cfg.Fetch.FFprobeBinary,
			Description: "Required to probe local media duration",
		},
		{
			Name:        "FFmpeg",
			Command:     cfg.Transcription.FFmpegBinary,
			Description: "Required to extract audio for transcription",
		},
	}
	switch cfg.Transcription.Engine {
	case config.EngineWhisper:
		requirements = append(requirements, deps.Requirement{
			Name:        "whisper",
			Command:     cfg.Transcription.WhisperBinary,
			Description: "Required for openai-whisper transcription",
		})
	default:
		requirements = append(requirements, deps.Requirement{
			Name:        "uvx",
			Command:     "uvx",
			Description: "Required for WhisperX-driven transcription",
		})
	}
	return requirements
}

// CheckSystemDeps evaluates the binaries required by the configured engines.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	return deps.CheckBinaries(Requirements(cfg))
}

// CheckHuggingFaceToken reports whether pyannote VAD has the token it needs.
func CheckHuggingFaceToken(cfg *config.Config) Result {
	const name = "Hugging Face token"
	if cfg.Transcription.Engine != config.EngineWhisperX || cfg.Transcription.VADMethod != "pyannote" {
		return Result{Name: name, Passed: true, Detail: "not required"}
	}
	if cfg.Transcription.HFToken == "" {
		return Result{Name: name, Detail: "pyannote VAD requires transcription.hf_token or HF_TOKEN"}
	}
	return Result{Name: name, Passed: true, Detail: "configured"}
}
