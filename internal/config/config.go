package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the directories the pipeline reads from and writes to.
type Paths struct {
	CacheDir  string `toml:"cache_dir"`
	WorkDir   string `toml:"work_dir"`
	OutputDir string `toml:"output_dir"`
	LogDir    string `toml:"log_dir"`
}

// Fetch contains settings for the media fetch collaborator.
type Fetch struct {
	YtDlpBinary   string `toml:"ytdlp_binary"`
	Format        string `toml:"format"`
	FFprobeBinary string `toml:"ffprobe_binary"`
}

// Engine selects the speech-to-text collaborator.
type Engine string

const (
	EngineWhisperX Engine = "whisperx"
	EngineWhisper  Engine = "whisper"
)

// Transcription contains settings for the transcription collaborator.
type Transcription struct {
	Engine        Engine `toml:"engine"`
	Model         string `toml:"model"`
	Language      string `toml:"language"`
	FFmpegBinary  string `toml:"ffmpeg_binary"`
	WhisperBinary string `toml:"whisper_binary"`
	CUDAEnabled   bool   `toml:"cuda_enabled"`
	VADMethod     string `toml:"vad_method"`
	HFToken       string `toml:"hf_token"`
}

// Article contains the requirements written into handoff documents.
type Article struct {
	Style            string `toml:"style"`
	TargetWordCount  int    `toml:"target_word_count"`
	KeyMomentsMin    int    `toml:"key_moments_min"`
	KeyMomentsMax    int    `toml:"key_moments_max"`
	DescriptionLimit int    `toml:"description_limit"`
}

// Handoff selects which document the render-handoff stage writes.
type Handoff struct {
	Variant string `toml:"variant"`
}

// Docs contains the requirements written into documentation handoffs.
type Docs struct {
	Style          string `toml:"style"`
	ImageSubfolder string `toml:"image_subfolder"`
	KeyMomentsMin  int    `toml:"key_moments_min"`
	KeyMomentsMax  int    `toml:"key_moments_max"`
}

// RunLog contains configuration for the sqlite run history.
type RunLog struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for vidscribe.
//
// Configuration sections by subsystem:
//   - Paths: cache, scratch, output, and log directories
//   - Fetch: yt-dlp and ffprobe settings for the fetch stage
//   - Transcription: engine selection and model for the transcribe stage
//   - Handoff: article or documentation handoff
//   - Article: requirements embedded in article handoffs
//   - Docs: requirements embedded in documentation handoffs
//   - RunLog: sqlite history of pipeline runs
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Fetch         Fetch         `toml:"fetch"`
	Transcription Transcription `toml:"transcription"`
	Handoff       Handoff       `toml:"handoff"`
	Article       Article       `toml:"article"`
	Docs          Docs          `toml:"docs"`
	RunLog        RunLog        `toml:"run_log"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, "", false, fmt.Errorf("parse config: %s", strings.TrimSpace(strict.String()))
			}
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("vidscribe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories a pipeline run writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.CacheDir, c.Paths.WorkDir, c.Paths.OutputDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.RunLog.Enabled && c.RunLog.Path != "" {
		if err := os.MkdirAll(filepath.Dir(c.RunLog.Path), 0o755); err != nil {
			return fmt.Errorf("create run log directory: %w", err)
		}
	}
	return nil
}

// RunsDir returns the directory receiving per-run JSON summaries.
func (c *Config) RunsDir() string {
	return filepath.Join(c.Paths.OutputDir, "runs")
}

// TranscriptsDir returns the directory receiving readable transcript exports.
func (c *Config) TranscriptsDir() string {
	return filepath.Join(c.Paths.OutputDir, "transcripts")
}

// ArticlesDir returns the directory where the external agent writes articles.
func (c *Config) ArticlesDir() string {
	return filepath.Join(c.Paths.OutputDir, "articles")
}

// DocsDir returns the directory where the external agent writes
// documentation structures and where exported pages land.
func (c *Config) DocsDir() string {
	return filepath.Join(c.Paths.OutputDir, "documentation")
}

// HandoffDir returns the directory receiving handoff documents.
func (c *Config) HandoffDir() string {
	return filepath.Join(c.Paths.OutputDir, "handoff")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func defaultCacheDir() string {
	if base, ok := os.LookupEnv("XDG_CACHE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "vidscribe")
	}
	return "~/.cache/vidscribe"
}

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes a sample configuration file to the specified location.
// An existing file is never overwritten.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("config already exists at %s", path)
		}
		return fmt.Errorf("write sample config: %w", err)
	}
	if _, err := file.WriteString(sampleConfig); err != nil {
		file.Close()
		return fmt.Errorf("write sample config: %w", err)
	}
	return file.Close()
}
