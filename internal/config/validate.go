package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ArticleStyles lists the accepted article.style values.
var ArticleStyles = []string{"blog", "tutorial", "news", "summary"}

// DocsStyles lists the accepted docs.style values.
var DocsStyles = []string{"technical", "tutorial", "reference"}

// HandoffVariants lists the accepted handoff.variant values.
var HandoffVariants = []string{"article", "docs"}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateTranscription(); err != nil {
		return err
	}
	if err := c.validateArticle(); err != nil {
		return err
	}
	if err := c.validateDocs(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.CacheDir == "" {
		return errors.New("paths.cache_dir must be set")
	}
	if c.Paths.WorkDir == "" {
		return errors.New("paths.work_dir must be set")
	}
	if c.Paths.OutputDir == "" {
		return errors.New("paths.output_dir must be set")
	}
	if c.Paths.CacheDir == c.Paths.WorkDir {
		return errors.New("paths.work_dir must differ from paths.cache_dir")
	}
	return nil
}

func (c *Config) validateTranscription() error {
	switch c.Transcription.Engine {
	case EngineWhisperX, EngineWhisper:
	default:
		return fmt.Errorf("transcription.engine must be %q or %q, got %q", EngineWhisperX, EngineWhisper, c.Transcription.Engine)
	}
	if strings.ContainsAny(c.Transcription.Model, "/\\@ ") {
		return fmt.Errorf("transcription.model %q must not contain path separators, '@', or spaces", c.Transcription.Model)
	}
	switch c.Transcription.VADMethod {
	case "silero", "pyannote":
	default:
		return fmt.Errorf("transcription.vad_method must be silero or pyannote, got %q", c.Transcription.VADMethod)
	}
	return nil
}

func (c *Config) validateArticle() error {
	if !slices.Contains(ArticleStyles, c.Article.Style) {
		return fmt.Errorf("article.style must be one of %s, got %q", strings.Join(ArticleStyles, ", "), c.Article.Style)
	}
	if err := ensurePositiveMap(map[string]int{
		"article.target_word_count": c.Article.TargetWordCount,
		"article.key_moments_min":   c.Article.KeyMomentsMin,
		"article.key_moments_max":   c.Article.KeyMomentsMax,
		"article.description_limit": c.Article.DescriptionLimit,
	}); err != nil {
		return err
	}
	if c.Article.KeyMomentsMin > c.Article.KeyMomentsMax {
		return errors.New("article.key_moments_min must not exceed article.key_moments_max")
	}
	return nil
}

func (c *Config) validateDocs() error {
	if !slices.Contains(HandoffVariants, c.Handoff.Variant) {
		return fmt.Errorf("handoff.variant must be one of %s, got %q", strings.Join(HandoffVariants, ", "), c.Handoff.Variant)
	}
	if !slices.Contains(DocsStyles, c.Docs.Style) {
		return fmt.Errorf("docs.style must be one of %s, got %q", strings.Join(DocsStyles, ", "), c.Docs.Style)
	}
	if strings.ContainsAny(c.Docs.ImageSubfolder, "\\ ") || strings.Contains(c.Docs.ImageSubfolder, "..") {
		return fmt.Errorf("docs.image_subfolder %q must be a plain path segment", c.Docs.ImageSubfolder)
	}
	if err := ensurePositiveMap(map[string]int{
		"docs.key_moments_min": c.Docs.KeyMomentsMin,
		"docs.key_moments_max": c.Docs.KeyMomentsMax,
	}); err != nil {
		return err
	}
	if c.Docs.KeyMomentsMin > c.Docs.KeyMomentsMax {
		return errors.New("docs.key_moments_min must not exceed docs.key_moments_max")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
