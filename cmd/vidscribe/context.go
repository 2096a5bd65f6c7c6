package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"vidscribe/internal/cachestore"
	"vidscribe/internal/config"
	"vidscribe/internal/handoff"
	"vidscribe/internal/logging"
	"vidscribe/internal/pipeline"
	"vidscribe/internal/runlog"
	"vidscribe/internal/services"
	"vidscribe/internal/services/whisper"
	"vidscribe/internal/services/whisperx"
	"vidscribe/internal/services/ytdlp"
	"vidscribe/internal/stage"
)

// healthChecker is implemented by the stage collaborators.
type healthChecker interface {
	HealthCheck(ctx context.Context) stage.Health
}

// transcriberService is a transcription engine that can report readiness.
type transcriberService interface {
	pipeline.Transcriber
	healthChecker
}

// pipelineFactory builds the orchestrator for a run. The returned function
// releases whatever the orchestrator holds open.
type pipelineFactory func(cfg *config.Config, logger *slog.Logger) (*pipeline.Orchestrator, func() error, error)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error

	newPipeline pipelineFactory
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		newPipeline: buildPipeline,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, path, _, err := config.Load(c.configFlagValue())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = path
	})
	return c.config, c.configErr
}

func (c *commandContext) configFlagValue() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		c.logger, c.loggerErr = logging.NewFromConfig(cfg)
	})
	return c.logger, c.loggerErr
}

func (c *commandContext) cacheStore() (*cachestore.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, err
	}
	return cachestore.New(cfg.Paths.CacheDir, logger), nil
}

func (c *commandContext) withRunLog(fn func(*runlog.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	if !cfg.RunLog.Enabled {
		return services.Wrap(services.ErrConfiguration, "", "run history", "",
			fmt.Errorf("disabled; set run_log.enabled = true in %s", displayPath(c.configPath)))
	}
	store, err := runlog.Open(cfg.RunLog.Path)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

// buildPipeline wires the production collaborators for cfg.
func buildPipeline(cfg *config.Config, logger *slog.Logger) (*pipeline.Orchestrator, func() error, error) {
	deps := pipeline.Deps{
		Store:       cachestore.New(cfg.Paths.CacheDir, logger),
		Fetcher:     newFetcher(cfg),
		Transcriber: newTranscriber(cfg),
		Builder:     handoff.NewBuilder(cfg, logger),
		Logger:      logger,
	}
	closer := func() error { return nil }
	if cfg.RunLog.Enabled {
		store, err := runlog.Open(cfg.RunLog.Path)
		if err != nil {
			return nil, nil, err
		}
		deps.Recorder = store
		closer = store.Close
	}
	return pipeline.New(cfg, deps), closer, nil
}

func newFetcher(cfg *config.Config) *ytdlp.Service {
	return ytdlp.NewService(ytdlp.Config{
		Binary:        cfg.Fetch.YtDlpBinary,
		Format:        cfg.Fetch.Format,
		FFprobeBinary: cfg.Fetch.FFprobeBinary,
	})
}

func newTranscriber(cfg *config.Config) transcriberService {
	tc := cfg.Transcription
	if tc.Engine == config.EngineWhisper {
		return whisper.NewService(whisper.Config{
			Binary:       tc.WhisperBinary,
			Model:        tc.Model,
			FFmpegBinary: tc.FFmpegBinary,
			CUDAEnabled:  tc.CUDAEnabled,
		})
	}
	return whisperx.NewService(whisperx.Config{
		Model:        tc.Model,
		CUDAEnabled:  tc.CUDAEnabled,
		VADMethod:    tc.VADMethod,
		HFToken:      tc.HFToken,
		FFmpegBinary: tc.FFmpegBinary,
	})
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func displayPath(path string) string {
	if strings.TrimSpace(path) == "" {
		return "the config file"
	}
	return path
}
