package runlog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"vidscribe/internal/services"
	"vidscribe/internal/stage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "runs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleEntry(runID, sourceID string, started time.Time, status stage.RunStatus) Entry {
	return Entry{
		RunID:       runID,
		SourceID:    sourceID,
		SourceRef:   "https://youtu.be/" + sourceID,
		Status:      status,
		Model:       "medium",
		CachePolicy: stage.CacheReuse.String(),
		StartedAt:   started,
		FinishedAt:  started.Add(1500 * time.Millisecond),
		Stages: []stage.Result{
			{Stage: stage.Fetch, Status: stage.StatusCached, OutputRef: "/cache/media/" + sourceID + ".json"},
			{Stage: stage.Transcribe, Status: stage.StatusComputed, Duration: time.Second},
		},
	}
}

func TestRecordAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 1, 2, 3, 4, 5, 600, time.UTC)
	entry := sampleEntry("11111111-aaaa", "abc", started, stage.RunComplete)
	entry.HandoffPath = "/out/handoff/x.md"

	if err := store.Record(ctx, entry); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got, err := store.Get(ctx, "11111111-aaaa")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SourceID != "abc" || got.Status != stage.RunComplete || got.HandoffPath != entry.HandoffPath {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if !got.StartedAt.Equal(started) || got.Duration() != 1500*time.Millisecond {
		t.Fatalf("timestamps not preserved: %v %v", got.StartedAt, got.Duration())
	}
	if len(got.Stages) != 2 || got.Stages[1].Duration != time.Second || got.Stages[0].Status != stage.StatusCached {
		t.Fatalf("stages not preserved: %+v", got.Stages)
	}
	if got.FailedStage != "" || got.Error != "" {
		t.Fatalf("expected empty optional fields, got %+v", got)
	}
}

func TestGetByPrefix(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	for _, id := range []string{"abcd-1", "abcd-2", "ffff-1"} {
		if err := store.Record(ctx, sampleEntry(id, "src", now, stage.RunComplete)); err != nil {
			t.Fatalf("Record %s: %v", id, err)
		}
	}
	if got, err := store.Get(ctx, "ffff"); err != nil || got.RunID != "ffff-1" {
		t.Fatalf("Get unique prefix = %+v, %v", got, err)
	}
	if _, err := store.Get(ctx, "abcd"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ambiguous prefix error, got %v", err)
	}
	if _, err := store.Get(ctx, "zzzz"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Get(ctx, "abc_"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected LIKE wildcards to be escaped, got %v", err)
	}
}

func TestListNewestFirstWithLimit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	ids := []string{"r1", "r2", "r3"}
	for i, id := range ids {
		started := base.Add(time.Duration(i) * 500 * time.Millisecond)
		if err := store.Record(ctx, sampleEntry(id, "src", started, stage.RunComplete)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	all, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 || all[0].RunID != "r3" || all[2].RunID != "r1" {
		t.Fatalf("unexpected order: %+v", all)
	}
	limited, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("List limit: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(limited))
	}
}

func TestLatestForSource(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()
	failed := sampleEntry("late", "abc", base.Add(time.Minute), stage.RunFailed)
	failed.FailedStage = stage.Transcribe
	failed.ErrorKind = services.KindTranscription
	failed.Error = "whisperx exploded"
	for _, e := range []Entry{sampleEntry("early", "abc", base, stage.RunComplete), failed, sampleEntry("other", "xyz", base.Add(time.Hour), stage.RunComplete)} {
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	got, err := store.LatestForSource(ctx, "abc")
	if err != nil {
		t.Fatalf("LatestForSource: %v", err)
	}
	if got.RunID != "late" || got.FailedStage != stage.Transcribe || got.ErrorKind != services.KindTranscription {
		t.Fatalf("unexpected latest: %+v", got)
	}
	if _, err := store.LatestForSource(ctx, "none"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReopenKeepsHistoryAndRejectsOtherVersions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Record(context.Background(), sampleEntry("r1", "abc", time.Now(), stage.RunComplete)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := store.db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = store.Close()

	if _, err := Open(path); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestRecordRequiresRunID(t *testing.T) {
	store := openTestStore(t)
	if err := store.Record(context.Background(), Entry{}); err == nil {
		t.Fatal("expected error for empty run id")
	}
}

func TestIsSQLiteBusy(t *testing.T) {
	if !isSQLiteBusy(errors.New("database is locked (5) (SQLITE_BUSY)")) {
		t.Fatal("expected busy detection by message")
	}
	if isSQLiteBusy(errors.New("syntax error")) || isSQLiteBusy(nil) {
		t.Fatal("unexpected busy detection")
	}
}
