package config

const (
	defaultConfigPath       = "~/.config/vidscribe/config.toml"
	defaultWorkDir          = "~/.local/share/vidscribe/work"
	defaultOutputDir        = "~/vidscribe"
	defaultLogDir           = "~/.local/share/vidscribe/logs"
	defaultRunLogPath       = "~/.local/share/vidscribe/runs.db"
	defaultYtDlpBinary      = "yt-dlp"
	defaultFetchFormat      = "best[ext=mp4]/best"
	defaultFFprobeBinary    = "ffprobe"
	defaultFFmpegBinary     = "ffmpeg"
	defaultWhisperBinary    = "whisper"
	defaultTranscribeModel  = "medium"
	defaultVADMethod        = "silero"
	defaultArticleStyle     = "blog"
	defaultTargetWordCount  = 1200
	defaultKeyMomentsMin    = 5
	defaultKeyMomentsMax    = 10
	defaultDescriptionLimit = 500
	defaultHandoffVariant   = "article"
	defaultDocsStyle        = "technical"
	defaultDocsMomentsMin   = 3
	defaultDocsMomentsMax   = 5
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			CacheDir:  defaultCacheDir(),
			WorkDir:   defaultWorkDir,
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
		},
		Fetch: Fetch{
			YtDlpBinary:   defaultYtDlpBinary,
			Format:        defaultFetchFormat,
			FFprobeBinary: defaultFFprobeBinary,
		},
		Transcription: Transcription{
			Engine:        EngineWhisperX,
			Model:         defaultTranscribeModel,
			FFmpegBinary:  defaultFFmpegBinary,
			WhisperBinary: defaultWhisperBinary,
			VADMethod:     defaultVADMethod,
		},
		Article: Article{
			Style:            defaultArticleStyle,
			TargetWordCount:  defaultTargetWordCount,
			KeyMomentsMin:    defaultKeyMomentsMin,
			KeyMomentsMax:    defaultKeyMomentsMax,
			DescriptionLimit: defaultDescriptionLimit,
		},
		Handoff: Handoff{
			Variant: defaultHandoffVariant,
		},
		Docs: Docs{
			Style:         defaultDocsStyle,
			KeyMomentsMin: defaultDocsMomentsMin,
			KeyMomentsMax: defaultDocsMomentsMax,
		},
		RunLog: RunLog{
			Enabled: true,
			Path:    defaultRunLogPath,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
