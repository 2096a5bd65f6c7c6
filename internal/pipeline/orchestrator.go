package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"vidscribe/internal/cachestore"
	"vidscribe/internal/config"
	"vidscribe/internal/fileutil"
	"vidscribe/internal/handoff"
	"vidscribe/internal/logging"
	"vidscribe/internal/media"
	"vidscribe/internal/runlog"
	"vidscribe/internal/services"
	"vidscribe/internal/source"
	"vidscribe/internal/stage"
	"vidscribe/internal/stageexec"
	"vidscribe/internal/transcript"
)

// Fetcher materializes a source reference as a local media file.
type Fetcher interface {
	Fetch(ctx context.Context, ref source.Reference, workDir string) (media.Asset, error)
}

// Transcriber turns a media file into raw timestamped segments.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, req transcript.Request) (transcript.Raw, error)
}

// HandoffBuilder renders the handoff document for a completed run.
type HandoffBuilder interface {
	Build(ctx context.Context, in handoff.Input) (handoff.Artifact, error)
}

// Recorder persists run summaries.
type Recorder interface {
	Record(ctx context.Context, e runlog.Entry) error
}

// Options configure a single run. Zero values fall back to the config.
type Options struct {
	Policy   stage.CachePolicy
	Model    string
	Language string
	// Variant selects the handoff document; empty uses handoff.variant.
	Variant string
	// OutputJSON receives a copy of the run summary when set.
	OutputJSON string
}

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Store       *cachestore.Store
	Fetcher     Fetcher
	Transcriber Transcriber
	Builder     HandoffBuilder
	// Recorder is optional; nil disables the run log.
	Recorder Recorder
	Logger   *slog.Logger
}

// TranscriptInfo summarizes the transcript a run produced.
type TranscriptInfo struct {
	Path     string  `json:"path"`
	Model    string  `json:"model"`
	Language string  `json:"language,omitempty"`
	Segments int     `json:"segments"`
	Words    int     `json:"words"`
	Duration float64 `json:"duration_seconds"`
}

// Run is the outcome of one pipeline invocation.
type Run struct {
	RunID       string            `json:"run_id"`
	SourceRef   string            `json:"source_ref"`
	SourceID    string            `json:"source_id"`
	Status      stage.RunStatus   `json:"status"`
	CachePolicy string            `json:"cache_policy"`
	Engine      string            `json:"engine"`
	Model       string            `json:"model"`
	Language    string            `json:"language,omitempty"`
	Variant     handoff.Variant   `json:"handoff_variant"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
	Stages      []stage.Result    `json:"stages"`
	Media       *media.Asset      `json:"media,omitempty"`
	Transcript  *TranscriptInfo   `json:"transcript,omitempty"`
	Handoff     *handoff.Artifact `json:"handoff,omitempty"`
	SummaryPath string            `json:"-"`
}

// Failure returns the failed stage result, if any.
func (r *Run) Failure() (stage.Result, bool) {
	for _, res := range r.Stages {
		if res.Failed() {
			return res, true
		}
	}
	return stage.Result{}, false
}

// Orchestrator runs the pipeline for one source at a time.
type Orchestrator struct {
	cfg         *config.Config
	runner      *stageexec.Runner
	fetcher     Fetcher
	transcriber Transcriber
	builder     HandoffBuilder
	recorder    Recorder
	logger      *slog.Logger
	now         func() time.Time
	newRunID    func() string
}

// New wires an Orchestrator from the configuration and collaborators.
func New(cfg *config.Config, deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		cfg:         cfg,
		runner:      stageexec.NewRunner(deps.Store, logger),
		fetcher:     deps.Fetcher,
		transcriber: deps.Transcriber,
		builder:     deps.Builder,
		recorder:    deps.Recorder,
		logger:      logging.NewComponentLogger(logger, "pipeline"),
		now:         time.Now,
		newRunID:    uuid.NewString,
	}
}

type transcribeInput struct {
	asset    media.Asset
	model    string
	language string
}

// Run executes fetch, transcribe and render-handoff for sourceRef. The
// returned Run is non-nil whenever the source reference parsed; the error is
// a *StageError when a stage failed.
func (o *Orchestrator) Run(ctx context.Context, sourceRef string, opts Options) (*Run, error) {
	ref, err := source.Parse(sourceRef)
	if err != nil {
		return nil, err
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = o.cfg.Transcription.Model
	}
	language := o.cfg.Transcription.Language
	if strings.TrimSpace(opts.Language) != "" {
		if language, err = config.CanonicalLanguage(opts.Language); err != nil {
			return nil, services.Wrap(services.ErrValidation, "", "options", "Invalid language", err)
		}
	}

	variantName := opts.Variant
	if strings.TrimSpace(variantName) == "" {
		variantName = o.cfg.Handoff.Variant
	}
	variant, err := handoff.ParseVariant(variantName)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "", "options", "Invalid handoff variant", err)
	}

	run := &Run{
		RunID:       o.newRunID(),
		SourceRef:   sourceRef,
		SourceID:    ref.ID,
		CachePolicy: opts.Policy.String(),
		Engine:      o.transcriber.Name(),
		Model:       model,
		Language:    language,
		Variant:     variant,
		StartedAt:   o.now(),
	}
	ctx = services.WithRunID(services.WithSourceID(ctx, ref.ID), run.RunID)
	logger := logging.WithContext(ctx, o.logger)
	logger.Info("pipeline run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.String("source_ref", sourceRef),
		logging.String("model", model),
		logging.String("handoff_variant", string(variant)),
		logging.String("cache_policy", run.CachePolicy),
	)

	workDir := filepath.Join(o.cfg.Paths.WorkDir, run.RunID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			logger.Warn("work directory cleanup failed",
				logging.String(logging.FieldEventType, "cleanup_failed"),
				logging.String("work_dir", workDir),
				logging.String(logging.FieldErrorHint, "remove the directory manually"),
				logging.Error(err),
			)
		}
	}()

	runErr := o.execute(ctx, run, ref, workDir, opts.Policy)
	run.Status = stage.Aggregate(run.Stages, len(stage.Order))
	run.FinishedAt = o.now()
	o.persist(context.WithoutCancel(ctx), run, opts.OutputJSON)

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "run_complete"),
		logging.String("status", string(run.Status)),
		logging.Duration("duration", run.FinishedAt.Sub(run.StartedAt)),
		logging.String("summary_path", run.SummaryPath),
	}
	if run.Handoff != nil {
		attrs = append(attrs, logging.String("handoff_path", run.Handoff.Path))
	}
	if runErr != nil {
		attrs = append(attrs, logging.Error(runErr))
		logger.Error("pipeline run failed", logging.Args(attrs...)...)
	} else {
		logger.Info("pipeline run complete", logging.Args(attrs...)...)
	}
	return run, runErr
}

func (o *Orchestrator) execute(ctx context.Context, run *Run, ref source.Reference, workDir string, policy stage.CachePolicy) error {
	store := o.runner.Store()

	if err := o.boundary(ctx, run, stage.Fetch); err != nil {
		return err
	}
	fetchSpec := stageexec.Spec[source.Reference, media.Asset]{
		Name: stage.Fetch,
		Key: func(r source.Reference) cachestore.Key {
			return cachestore.MediaKey(r.ID)
		},
		Compute: func(ctx context.Context, r source.Reference) (media.Asset, error) {
			return o.fetcher.Fetch(ctx, r, filepath.Join(workDir, "fetch"))
		},
		Validate: func(a media.Asset) error {
			if a.SourceID != ref.ID {
				return services.Wrap(services.ErrValidation, stage.Fetch, "validate asset",
					fmt.Sprintf("Fetcher returned asset for %q, expected %q", a.SourceID, ref.ID), nil)
			}
			return a.Validate()
		},
		Commit: func(key cachestore.Key, a media.Asset) (media.Asset, error) {
			dest, err := moveIntoBlobDir(a.Path, store.BlobDir(key))
			if err != nil {
				return a, err
			}
			a.Path = dest
			return a, nil
		},
		Check: func(a media.Asset) error {
			return a.Validate()
		},
	}
	asset, result := stageexec.Run(ctx, o.runner, fetchSpec, ref, policy)
	if halted := o.record(run, result); halted != nil {
		return halted
	}
	run.Media = &asset

	if err := o.boundary(ctx, run, stage.Transcribe); err != nil {
		return err
	}
	transcribeSpec := stageexec.Spec[transcribeInput, transcript.Transcript]{
		Name: stage.Transcribe,
		Key: func(in transcribeInput) cachestore.Key {
			return cachestore.TranscriptKey(in.asset.SourceID, transcript.ModelKey(in.model, in.language))
		},
		Compute: func(ctx context.Context, in transcribeInput) (transcript.Transcript, error) {
			raw, err := o.transcriber.Transcribe(ctx, transcript.Request{
				MediaPath: in.asset.Path,
				Model:     in.model,
				Language:  in.language,
				WorkDir:   filepath.Join(workDir, "transcribe"),
			})
			if err != nil {
				return transcript.Transcript{}, err
			}
			lang := in.language
			if lang == "" {
				lang = raw.Language
			}
			return transcript.Normalize(in.asset.SourceID, in.model, lang, raw.Segments, in.asset.DurationSeconds)
		},
		Validate: func(t transcript.Transcript) error {
			return t.Verify()
		},
		Check: func(t transcript.Transcript) error {
			if t.SourceID != ref.ID || t.Model != run.Model {
				return fmt.Errorf("record belongs to %s/%s", t.SourceID, t.Model)
			}
			return t.Verify()
		},
	}
	tr, result := stageexec.Run(ctx, o.runner, transcribeSpec, transcribeInput{asset: asset, model: run.Model, language: run.Language}, policy)
	if halted := o.record(run, result); halted != nil {
		return halted
	}
	run.Transcript = &TranscriptInfo{
		Path:     result.OutputRef,
		Model:    tr.Model,
		Language: tr.Language,
		Segments: len(tr.Segments),
		Words:    tr.WordCount(),
		Duration: tr.Duration,
	}

	if err := o.boundary(ctx, run, stage.RenderHandoff); err != nil {
		return err
	}
	started := time.Now()
	artifact, err := o.builder.Build(ctx, handoff.Input{
		RunID:       run.RunID,
		Variant:     run.Variant,
		Status:      stage.Aggregate(run.Stages, len(run.Stages)),
		Asset:       asset,
		Transcript:  tr,
		GeneratedAt: o.now(),
	})
	result = stage.Result{Stage: stage.RenderHandoff, Duration: time.Since(started)}
	if err != nil {
		result.Status = stage.StatusFailed
		result.ErrorKind = services.Kind(err)
		result.Error = err.Error()
		result.Err = err
		return o.record(run, result)
	}
	result.Status = stage.StatusComputed
	result.OutputRef = artifact.Path
	run.Handoff = &artifact
	return o.record(run, result)
}

// boundary stops the run before stageName when ctx is done.
func (o *Orchestrator) boundary(ctx context.Context, run *Run, stageName string) error {
	if ctx.Err() == nil {
		return nil
	}
	err := services.Wrap(services.ErrCancelled, stageName, "start stage", "Run cancelled before the stage started", ctx.Err())
	return o.record(run, stage.Result{
		Stage:     stageName,
		Status:    stage.StatusFailed,
		ErrorKind: services.Kind(err),
		Error:     err.Error(),
		Err:       err,
	})
}

// record appends a stage result and converts failures into a *StageError.
func (o *Orchestrator) record(run *Run, result stage.Result) error {
	run.Stages = append(run.Stages, result)
	if !result.Failed() {
		return nil
	}
	err := result.Err
	if err == nil {
		err = errors.New(result.Error)
	}
	return &StageError{Stage: result.Stage, Err: err}
}

// persist writes the summary file(s) and the run log row. Failures here are
// logged and do not change the run outcome.
func (o *Orchestrator) persist(ctx context.Context, run *Run, outputJSON string) {
	logger := logging.WithContext(ctx, o.logger)
	warn := func(msg, event string, err error) {
		logging.WarnWithContext(logger, msg, event,
			logging.String(logging.FieldImpact, "run outcome is unaffected"),
			logging.String(logging.FieldErrorHint, "check output directory permissions"),
			logging.Error(err),
		)
	}

	name := fmt.Sprintf("pipeline_results_%s_%s.json", run.SourceID, run.StartedAt.Format("20060102_150405"))
	path := filepath.Join(o.cfg.RunsDir(), name)
	if err := os.MkdirAll(o.cfg.RunsDir(), 0o755); err != nil {
		warn("run summary not written", "summary_failed", err)
	} else if err := fileutil.WriteJSONAtomic(path, run); err != nil {
		warn("run summary not written", "summary_failed", err)
	} else {
		run.SummaryPath = path
	}

	if outputJSON = strings.TrimSpace(outputJSON); outputJSON != "" {
		if err := os.MkdirAll(filepath.Dir(outputJSON), 0o755); err != nil {
			warn("summary copy not written", "summary_copy_failed", err)
		} else if err := fileutil.WriteJSONAtomic(outputJSON, run); err != nil {
			warn("summary copy not written", "summary_copy_failed", err)
		}
	}

	if o.recorder == nil {
		return
	}
	entry := runlog.Entry{
		RunID:       run.RunID,
		SourceID:    run.SourceID,
		SourceRef:   run.SourceRef,
		Status:      run.Status,
		Model:       transcript.ModelKey(run.Model, run.Language),
		CachePolicy: run.CachePolicy,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		SummaryPath: run.SummaryPath,
		Stages:      run.Stages,
	}
	if run.Handoff != nil {
		entry.HandoffPath = run.Handoff.Path
	}
	if failed, ok := run.Failure(); ok {
		entry.FailedStage = failed.Stage
		entry.ErrorKind = failed.ErrorKind
		entry.Error = failed.Error
	}
	if err := o.recorder.Record(ctx, entry); err != nil {
		warn("run log entry not recorded", "runlog_failed", err)
	}
}

// moveIntoBlobDir relocates a fetched file into the cache blob directory,
// copying when the work and cache directories are on different filesystems.
// Anything else left in the blob directory by an earlier fetch is removed
// once the new file is in place.
func moveIntoBlobDir(src, blobDir string) (string, error) {
	if err := os.MkdirAll(blobDir, 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	dest := filepath.Join(blobDir, filepath.Base(src))
	if filepath.Clean(src) != filepath.Clean(dest) {
		if err := relocate(src, dest); err != nil {
			return "", err
		}
	}
	if err := pruneBlobDir(blobDir, filepath.Base(dest)); err != nil {
		return "", err
	}
	return dest, nil
}

func relocate(src, dest string) error {
	err := os.Rename(src, dest)
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EXDEV) {
		return fmt.Errorf("move media into cache: %w", err)
	}
	if err := fileutil.CopyFileVerified(src, dest); err != nil {
		return fmt.Errorf("copy media into cache: %w", err)
	}
	_ = os.Remove(src)
	return nil
}

func pruneBlobDir(blobDir, keep string) error {
	entries, err := os.ReadDir(blobDir)
	if err != nil {
		return fmt.Errorf("read blob dir: %w", err)
	}
	for _, entry := range entries {
		if entry.Name() == keep {
			continue
		}
		if err := os.RemoveAll(filepath.Join(blobDir, entry.Name())); err != nil {
			return fmt.Errorf("remove stale media: %w", err)
		}
	}
	return nil
}
