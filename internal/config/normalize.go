package config

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/language"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeFetch()
	if err := c.normalizeTranscription(); err != nil {
		return err
	}
	c.normalizeArticle()
	c.normalizeDocs()
	if err := c.normalizeRunLog(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	defaults := Default().Paths
	fields := []struct {
		name     string
		value    *string
		fallback string
	}{
		{"paths.cache_dir", &c.Paths.CacheDir, defaults.CacheDir},
		{"paths.work_dir", &c.Paths.WorkDir, defaults.WorkDir},
		{"paths.output_dir", &c.Paths.OutputDir, defaults.OutputDir},
		{"paths.log_dir", &c.Paths.LogDir, ""},
	}
	for _, field := range fields {
		if strings.TrimSpace(*field.value) == "" {
			*field.value = field.fallback
		}
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = expanded
	}
	return nil
}

func (c *Config) normalizeFetch() {
	c.Fetch.YtDlpBinary = strings.TrimSpace(c.Fetch.YtDlpBinary)
	if c.Fetch.YtDlpBinary == "" {
		c.Fetch.YtDlpBinary = defaultYtDlpBinary
	}
	c.Fetch.Format = strings.TrimSpace(c.Fetch.Format)
	if c.Fetch.Format == "" {
		c.Fetch.Format = defaultFetchFormat
	}
	c.Fetch.FFprobeBinary = strings.TrimSpace(c.Fetch.FFprobeBinary)
	if c.Fetch.FFprobeBinary == "" {
		c.Fetch.FFprobeBinary = defaultFFprobeBinary
	}
}

func (c *Config) normalizeTranscription() error {
	t := &c.Transcription
	t.Engine = Engine(strings.ToLower(strings.TrimSpace(string(t.Engine))))
	if t.Engine == "" {
		t.Engine = EngineWhisperX
	}
	t.Model = strings.TrimSpace(t.Model)
	if t.Model == "" {
		t.Model = defaultTranscribeModel
	}
	lang, err := CanonicalLanguage(t.Language)
	if err != nil {
		return fmt.Errorf("transcription.language: %w", err)
	}
	t.Language = lang
	t.FFmpegBinary = strings.TrimSpace(t.FFmpegBinary)
	if t.FFmpegBinary == "" {
		t.FFmpegBinary = defaultFFmpegBinary
	}
	t.WhisperBinary = strings.TrimSpace(t.WhisperBinary)
	if t.WhisperBinary == "" {
		t.WhisperBinary = defaultWhisperBinary
	}
	t.VADMethod = strings.ToLower(strings.TrimSpace(t.VADMethod))
	if t.VADMethod == "" {
		t.VADMethod = defaultVADMethod
	}
	t.HFToken = strings.TrimSpace(t.HFToken)
	if t.HFToken == "" {
		if value, ok := os.LookupEnv("HUGGING_FACE_HUB_TOKEN"); ok {
			t.HFToken = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("HF_TOKEN"); ok {
			t.HFToken = strings.TrimSpace(value)
		}
	}
	return nil
}

// CanonicalLanguage reduces a language code or tag to its base ISO 639-1 form
// ("en-US" becomes "en"). Empty input and "auto" mean auto-detection and
// return "".
func CanonicalLanguage(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, "auto") {
		return "", nil
	}
	tag, err := language.Parse(value)
	if err != nil {
		return "", fmt.Errorf("unrecognized language %q", value)
	}
	base, confidence := tag.Base()
	if confidence == language.No {
		return "", fmt.Errorf("unrecognized language %q", value)
	}
	return base.String(), nil
}

func (c *Config) normalizeArticle() {
	c.Article.Style = strings.ToLower(strings.TrimSpace(c.Article.Style))
	if c.Article.Style == "" {
		c.Article.Style = defaultArticleStyle
	}
}

func (c *Config) normalizeDocs() {
	defaults := Default()
	c.Handoff.Variant = strings.ToLower(strings.TrimSpace(c.Handoff.Variant))
	if c.Handoff.Variant == "" {
		c.Handoff.Variant = defaults.Handoff.Variant
	}
	c.Docs.Style = strings.ToLower(strings.TrimSpace(c.Docs.Style))
	if c.Docs.Style == "" {
		c.Docs.Style = defaults.Docs.Style
	}
	c.Docs.ImageSubfolder = strings.Trim(strings.TrimSpace(c.Docs.ImageSubfolder), "/")
}

func (c *Config) normalizeRunLog() error {
	if strings.TrimSpace(c.RunLog.Path) == "" {
		c.RunLog.Path = defaultRunLogPath
	}
	expanded, err := expandPath(strings.TrimSpace(c.RunLog.Path))
	if err != nil {
		return fmt.Errorf("run_log.path: %w", err)
	}
	c.RunLog.Path = expanded
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
