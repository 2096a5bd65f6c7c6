package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"vidscribe/internal/cachestore"
	"vidscribe/internal/config"
	"vidscribe/internal/handoff"
	"vidscribe/internal/media"
	"vidscribe/internal/services"
	"vidscribe/internal/source"
	"vidscribe/internal/stage"
	"vidscribe/internal/testsupport"
	"vidscribe/internal/transcript"
)

type fakeFetcher struct {
	calls    atomic.Int32
	err      error
	duration float64
	ext      string
}

func (f *fakeFetcher) Fetch(_ context.Context, ref source.Reference, workDir string) (media.Asset, error) {
	f.calls.Add(1)
	if f.err != nil {
		return media.Asset{}, f.err
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return media.Asset{}, err
	}
	ext := f.ext
	if ext == "" {
		ext = ".mp4"
	}
	path := filepath.Join(workDir, ref.ID+ext)
	if err := os.WriteFile(path, []byte("media bytes"), 0o644); err != nil {
		return media.Asset{}, err
	}
	duration := f.duration
	if duration == 0 {
		duration = 120
	}
	return media.Asset{SourceID: ref.ID, Path: path, DurationSeconds: duration, Title: "Demo", URL: ref.URL}, nil
}

type fakeTranscriber struct {
	calls    atomic.Int32
	segments []transcript.Segment
	err      error
	lastReq  transcript.Request
}

func (f *fakeTranscriber) Name() string { return "fake" }

func (f *fakeTranscriber) Transcribe(_ context.Context, req transcript.Request) (transcript.Raw, error) {
	f.calls.Add(1)
	f.lastReq = req
	if f.err != nil {
		return transcript.Raw{}, f.err
	}
	return transcript.Raw{Segments: f.segments, Language: "en"}, nil
}

func defaultSegments() []transcript.Segment {
	return []transcript.Segment{
		{Start: 30, End: 45, Text: "second part"},
		{Start: 0, End: 12.5, Text: "  opening   words "},
		{Start: 100, End: 140, Text: "closing"},
	}
}

type harness struct {
	cfg         *config.Config
	store       *cachestore.Store
	fetcher     *fakeFetcher
	transcriber *fakeTranscriber
	orch        *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store := cachestore.New(cfg.Paths.CacheDir, nil)
	h := &harness{
		cfg:         cfg,
		store:       store,
		fetcher:     &fakeFetcher{},
		transcriber: &fakeTranscriber{segments: defaultSegments()},
	}
	h.orch = New(cfg, Deps{
		Store:       store,
		Fetcher:     h.fetcher,
		Transcriber: h.transcriber,
		Builder:     handoff.NewBuilder(cfg, nil),
		Recorder:    testsupport.MustOpenRunLog(t, cfg),
	})
	// Distinct seconds keep handoff names unique across runs in one test.
	var tick atomic.Int64
	base := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	h.orch.now = func() time.Time {
		return base.Add(time.Duration(tick.Add(1)) * time.Second)
	}
	return h
}

func handoffDocs(t *testing.T, cfg *config.Config) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(cfg.HandoffDir())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("read handoff dir: %v", err)
	}
	return entries
}

func TestRunCompletesAndRerunUsesCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.orch.Run(ctx, "https://youtu.be/abc123", Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if first.Status != stage.RunComplete || len(first.Stages) != 3 {
		t.Fatalf("unexpected run: %+v", first)
	}
	for i, want := range []stage.Status{stage.StatusComputed, stage.StatusComputed, stage.StatusComputed} {
		if first.Stages[i].Status != want || first.Stages[i].Stage != stage.Order[i] {
			t.Fatalf("stage %d = %+v", i, first.Stages[i])
		}
	}
	if !h.store.Exists(cachestore.MediaKey("abc123")) || !h.store.Exists(cachestore.TranscriptKey("abc123", "medium")) {
		t.Fatal("expected media and transcript records")
	}
	if first.Media == nil || filepath.Dir(first.Media.Path) != h.store.BlobDir(cachestore.MediaKey("abc123")) {
		t.Fatalf("expected media moved into blob dir, got %+v", first.Media)
	}
	if first.Transcript.Segments != 3 || first.Transcript.Language != "en" {
		t.Fatalf("unexpected transcript info: %+v", first.Transcript)
	}
	firstTranscript, err := h.store.Read(cachestore.TranscriptKey("abc123", "medium"))
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}

	second, err := h.orch.Run(ctx, "https://youtu.be/abc123", Options{})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second.Status != stage.RunComplete {
		t.Fatalf("second run status %s", second.Status)
	}
	if second.Stages[0].Status != stage.StatusCached || second.Stages[1].Status != stage.StatusCached {
		t.Fatalf("expected cached stages, got %+v", second.Stages)
	}
	if second.Stages[2].Status != stage.StatusComputed {
		t.Fatalf("handoff must always be rendered, got %+v", second.Stages[2])
	}
	if h.fetcher.calls.Load() != 1 || h.transcriber.calls.Load() != 1 {
		t.Fatalf("expected one call each, got fetch=%d transcribe=%d", h.fetcher.calls.Load(), h.transcriber.calls.Load())
	}
	secondTranscript, _ := h.store.Read(cachestore.TranscriptKey("abc123", "medium"))
	if string(firstTranscript) != string(secondTranscript) {
		t.Fatal("transcript record changed across cached runs")
	}
	if len(handoffDocs(t, h.cfg)) != 2 {
		t.Fatalf("expected a fresh handoff document per run")
	}
	if first.Handoff.Path == second.Handoff.Path {
		t.Fatal("handoff path reused")
	}
}

func TestHandoffReferencesSegmentsWithinDuration(t *testing.T) {
	h := newHarness(t)
	run, err := h.orch.Run(context.Background(), "https://youtu.be/abc123", Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	meta, err := handoff.ReadMetadata(run.Handoff.Path)
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if meta.SegmentCount != 3 || meta.TranscriptStart != 0 || meta.TranscriptEnd != 120 || meta.DurationSeconds != 120 {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if meta.RunID != run.RunID {
		t.Fatalf("metadata run id %q, want %q", meta.RunID, run.RunID)
	}
}

func TestVariantSelectsHandoffDocument(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	run, err := h.orch.Run(ctx, "https://youtu.be/abc123", Options{Variant: "docs"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Variant != handoff.VariantDocs || run.Handoff.Variant != handoff.VariantDocs {
		t.Fatalf("variant = %q / %q", run.Variant, run.Handoff.Variant)
	}
	if !strings.HasPrefix(filepath.Base(run.Handoff.Path), "doc_prompt_abc123_") {
		t.Fatalf("unexpected handoff path %s", run.Handoff.Path)
	}

	h.cfg.Handoff.Variant = "docs"
	run, err = h.orch.Run(ctx, "https://youtu.be/abc123", Options{Variant: "article"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Variant != handoff.VariantArticle {
		t.Fatalf("explicit option should win over config, got %q", run.Variant)
	}
	run, err = h.orch.Run(ctx, "https://youtu.be/abc123", Options{})
	if err != nil || run.Variant != handoff.VariantDocs {
		t.Fatalf("config default not applied: %v %+v", err, run)
	}

	if _, err := h.orch.Run(ctx, "https://youtu.be/abc123", Options{Variant: "slides"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown variant, got %v", err)
	}
}

func TestEmptyTranscriptFailsWithoutHandoff(t *testing.T) {
	h := newHarness(t)
	h.transcriber.segments = []transcript.Segment{{Start: 0, End: 1, Text: "   "}}

	run, err := h.orch.Run(context.Background(), "https://youtu.be/abc123", Options{})
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != stage.Transcribe {
		t.Fatalf("expected transcribe StageError, got %v", err)
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ValidationFailure, got %v", err)
	}
	if run.Status != stage.RunFailed || len(run.Stages) != 2 {
		t.Fatalf("unexpected run: %+v", run)
	}
	if run.Stages[1].ErrorKind != services.KindValidation {
		t.Fatalf("error kind = %q", run.Stages[1].ErrorKind)
	}
	if h.store.Exists(cachestore.TranscriptKey("abc123", "medium")) {
		t.Fatal("failed transcript must not be cached")
	}
	if len(handoffDocs(t, h.cfg)) != 0 {
		t.Fatal("no handoff document expected")
	}
}

func TestFetchFailureHaltsRun(t *testing.T) {
	h := newHarness(t)
	h.fetcher.err = services.Wrap(services.ErrFetch, stage.Fetch, "yt-dlp", "boom", nil)

	run, err := h.orch.Run(context.Background(), "https://youtu.be/abc123", Options{})
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != stage.Fetch {
		t.Fatalf("expected fetch StageError, got %v", err)
	}
	if len(run.Stages) != 1 || run.Stages[0].ErrorKind != services.KindFetch {
		t.Fatalf("unexpected stages: %+v", run.Stages)
	}
	if h.transcriber.calls.Load() != 0 {
		t.Fatal("transcriber must not run after a fetch failure")
	}
}

func TestTranscriberErrorIsCollaboratorFailure(t *testing.T) {
	h := newHarness(t)
	h.transcriber.err = errors.New("engine crashed")

	run, err := h.orch.Run(context.Background(), "https://youtu.be/abc123", Options{})
	if !errors.Is(err, services.ErrCollaborator) {
		t.Fatalf("expected CollaboratorFailure, got %v", err)
	}
	if run.Stages[0].Status != stage.StatusComputed || run.Stages[1].ErrorKind != services.KindCollaborator {
		t.Fatalf("unexpected stages: %+v", run.Stages)
	}

	// The fetched media stays cached, so a retry only re-runs transcription.
	h.transcriber.err = nil
	retry, err := h.orch.Run(context.Background(), "https://youtu.be/abc123", Options{})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retry.Stages[0].Status != stage.StatusCached || h.fetcher.calls.Load() != 1 {
		t.Fatalf("expected cached fetch on retry, got %+v", retry.Stages[0])
	}
}

func TestRefreshPolicyRecomputes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.orch.Run(ctx, "https://youtu.be/abc123", Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	run, err := h.orch.Run(ctx, "https://youtu.be/abc123", Options{Policy: stage.CacheRefresh})
	if err != nil {
		t.Fatalf("refresh Run: %v", err)
	}
	if run.Stages[0].Status != stage.StatusComputed || run.Stages[1].Status != stage.StatusComputed {
		t.Fatalf("expected recomputation, got %+v", run.Stages)
	}
	if h.fetcher.calls.Load() != 2 || h.transcriber.calls.Load() != 2 {
		t.Fatalf("expected two calls each, got %d/%d", h.fetcher.calls.Load(), h.transcriber.calls.Load())
	}
}

func TestRefreshReplacesMediaWithDifferentExtension(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.orch.Run(ctx, "https://youtu.be/abc123", Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	h.fetcher.ext = ".webm"
	run, err := h.orch.Run(ctx, "https://youtu.be/abc123", Options{Policy: stage.CacheRefresh})
	if err != nil {
		t.Fatalf("refresh Run: %v", err)
	}
	entries, err := os.ReadDir(h.store.BlobDir(cachestore.MediaKey("abc123")))
	if err != nil {
		t.Fatalf("read blob dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "abc123.webm" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("blob dir holds %v, want only abc123.webm", names)
	}
	if filepath.Base(run.Media.Path) != "abc123.webm" {
		t.Fatalf("media path %s", run.Media.Path)
	}
}

func TestModelAndLanguageSelectDistinctTranscripts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.orch.Run(ctx, "https://youtu.be/abc123", Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	run, err := h.orch.Run(ctx, "https://youtu.be/abc123", Options{Model: "large-v3", Language: "de-DE"})
	if err != nil {
		t.Fatalf("Run with model: %v", err)
	}
	if run.Stages[0].Status != stage.StatusCached || run.Stages[1].Status != stage.StatusComputed {
		t.Fatalf("unexpected stages: %+v", run.Stages)
	}
	if h.transcriber.lastReq.Model != "large-v3" || h.transcriber.lastReq.Language != "de" {
		t.Fatalf("unexpected request: %+v", h.transcriber.lastReq)
	}
	if !h.store.Exists(cachestore.TranscriptKey("abc123", "large-v3@de")) || !h.store.Exists(cachestore.TranscriptKey("abc123", "medium")) {
		t.Fatal("expected both transcript records to coexist")
	}
	if run.Transcript.Language != "de" {
		t.Fatalf("forced language should be recorded, got %q", run.Transcript.Language)
	}
}

func TestCorruptTranscriptIsRecomputed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.orch.Run(ctx, "https://youtu.be/abc123", Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	key := cachestore.TranscriptKey("abc123", "medium")
	if err := h.store.Write(key, []byte(`{"source_id":"abc123","segments":[]}`), cachestore.WriteOverwrite); err != nil {
		t.Fatalf("corrupt record: %v", err)
	}
	run, err := h.orch.Run(ctx, "https://youtu.be/abc123", Options{})
	if err != nil {
		t.Fatalf("Run after corruption: %v", err)
	}
	if run.Stages[1].Status != stage.StatusComputed || h.transcriber.calls.Load() != 2 {
		t.Fatalf("expected recompute, got %+v", run.Stages[1])
	}
	var tr transcript.Transcript
	if err := h.store.ReadJSON(key, &tr); err != nil || tr.Verify() != nil {
		t.Fatalf("expected repaired record, got %v / %v", err, tr.Verify())
	}
}

func TestMissingBlobRefetches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first, err := h.orch.Run(ctx, "https://youtu.be/abc123", Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := os.Remove(first.Media.Path); err != nil {
		t.Fatalf("remove blob: %v", err)
	}
	run, err := h.orch.Run(ctx, "https://youtu.be/abc123", Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Stages[0].Status != stage.StatusComputed || h.fetcher.calls.Load() != 2 {
		t.Fatalf("expected refetch, got %+v", run.Stages[0])
	}
}

func TestCancelledBeforeStartInvokesNothing(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := h.orch.Run(ctx, "https://youtu.be/abc123", Options{})
	if !errors.Is(err, services.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if run.Status != stage.RunFailed || len(run.Stages) != 1 || run.Stages[0].ErrorKind != services.KindCancelled {
		t.Fatalf("unexpected run: %+v", run)
	}
	if h.fetcher.calls.Load() != 0 {
		t.Fatal("fetcher must not be invoked after cancellation")
	}
	if run.SummaryPath == "" {
		t.Fatal("cancelled runs still write a summary")
	}
}

type cancellingFetcher struct {
	fakeFetcher
	cancel context.CancelFunc
}

func (c *cancellingFetcher) Fetch(ctx context.Context, ref source.Reference, workDir string) (media.Asset, error) {
	c.cancel()
	if ctx.Err() != nil {
		return media.Asset{}, errors.New("collaborator saw cancellation")
	}
	return c.fakeFetcher.Fetch(ctx, ref, workDir)
}

func TestCancellationMidStageCompletesAndCachesThatStage(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fetcher := &cancellingFetcher{cancel: cancel}
	h.orch.fetcher = fetcher

	run, err := h.orch.Run(ctx, "https://youtu.be/abc123", Options{})
	if !errors.Is(err, services.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if run.Stages[0].Status != stage.StatusComputed {
		t.Fatalf("in-flight fetch should complete, got %+v", run.Stages[0])
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != stage.Transcribe {
		t.Fatalf("expected halt before transcribe, got %v", err)
	}
	if !h.store.Exists(cachestore.MediaKey("abc123")) {
		t.Fatal("completed fetch must be cached")
	}
	if h.transcriber.calls.Load() != 0 {
		t.Fatal("transcriber must not start after cancellation")
	}
}

func TestSummaryRunLogAndWorkDirCleanup(t *testing.T) {
	h := newHarness(t)
	copyPath := filepath.Join(t.TempDir(), "out", "result.json")

	run, err := h.orch.Run(context.Background(), "https://youtu.be/abc123", Options{OutputJSON: copyPath})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if filepath.Dir(run.SummaryPath) != h.cfg.RunsDir() {
		t.Fatalf("unexpected summary path %s", run.SummaryPath)
	}
	for _, path := range []string{run.SummaryPath, copyPath} {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		var decoded Run
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
		if decoded.RunID != run.RunID || decoded.Status != stage.RunComplete || len(decoded.Stages) != 3 {
			t.Fatalf("unexpected summary in %s: %+v", path, decoded)
		}
	}

	entries, err := os.ReadDir(h.cfg.Paths.WorkDir)
	if err != nil {
		t.Fatalf("read work dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected per-run work dir removed, found %d entries", len(entries))
	}

	logStore := testsupport.MustOpenRunLog(t, h.cfg)
	entry, err := logStore.Get(context.Background(), run.RunID)
	if err != nil {
		t.Fatalf("runlog Get: %v", err)
	}
	if entry.Status != stage.RunComplete || entry.HandoffPath != run.Handoff.Path || entry.SummaryPath != run.SummaryPath {
		t.Fatalf("unexpected run log entry: %+v", entry)
	}
}

func TestInvalidSourceFailsBeforeRun(t *testing.T) {
	h := newHarness(t)
	run, err := h.orch.Run(context.Background(), "   ", Options{})
	if run != nil || !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error and no run, got %+v %v", run, err)
	}
	if h.fetcher.calls.Load() != 0 {
		t.Fatal("no collaborator call expected")
	}
}
