package handoff

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vidscribe/internal/media"
	"vidscribe/internal/services"
	"vidscribe/internal/stage"
	"vidscribe/internal/testsupport"
	"vidscribe/internal/transcript"
)

func sampleInput(t *testing.T) Input {
	t.Helper()
	tr, err := transcript.Normalize("abc123", "medium", "en", []transcript.Segment{
		{Start: 0, End: 4, Text: "Welcome to the show."},
		{Start: 65, End: 70, Text: "Here is the main idea."},
		{Start: 118, End: 120, Text: "Thanks for watching."},
	}, 120)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	return Input{
		RunID:  "0f8fad5b-d9cb-469f-a165-70867728950e",
		Status: stage.RunComplete,
		Asset: media.Asset{
			SourceID:        "abc123",
			Title:           "Demo Talk",
			URL:             "https://www.youtube.com/watch?v=abc123",
			Description:     strings.Repeat("d", 40),
			DurationSeconds: 120,
		},
		Transcript:  tr,
		GeneratedAt: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
	}
}

func TestBuildWritesDocumentAndTranscript(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Article.DescriptionLimit = 10
	builder := NewBuilder(cfg, nil)
	in := sampleInput(t)

	artifact, err := builder.Build(context.Background(), in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	wantName := "article_prompt_abc123_20260304_050607_0f8fad5b.md"
	if artifact.Path != filepath.Join(cfg.HandoffDir(), wantName) {
		t.Fatalf("unexpected path %s", artifact.Path)
	}
	if artifact.ResponsePath != filepath.Join(cfg.ArticlesDir(), "abc123_article.json") {
		t.Fatalf("unexpected response path %s", artifact.ResponsePath)
	}
	if artifact.SegmentCount != 3 {
		t.Fatalf("expected 3 segments, got %d", artifact.SegmentCount)
	}

	data, err := os.ReadFile(artifact.Path)
	if err != nil {
		t.Fatalf("read document: %v", err)
	}
	doc := string(data)
	for _, want := range []string{
		"kind: vidscribe-handoff",
		"# Article Generation Task",
		"**Title:** Demo Talk",
		"**Duration:** 02:00 (2 minutes)",
		"dddddddddd...",
		"**Target Word Count:** 1200 words",
		"between 00:00 and 02:00",
		`"key_moments"`,
		artifact.ResponsePath,
		"[00:00] Welcome to the show.",
		"[01:05] Here is the main idea.",
		"[01:58] Thanks for watching.",
	} {
		if !strings.Contains(doc, want) {
			t.Fatalf("document missing %q:\n%s", want, doc)
		}
	}

	export, err := os.ReadFile(artifact.TranscriptPath)
	if err != nil {
		t.Fatalf("read transcript export: %v", err)
	}
	if !strings.Contains(string(export), "TRANSCRIPT: Demo Talk") || !strings.Contains(string(export), "[01:05] Here is the main idea.") {
		t.Fatalf("unexpected export:\n%s", export)
	}
}

func TestBuildDocsVariant(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Docs.ImageSubfolder = "demo-talk"
	builder := NewBuilder(cfg, nil)
	in := sampleInput(t)
	in.Variant = VariantDocs

	artifact, err := builder.Build(context.Background(), in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if artifact.Variant != VariantDocs {
		t.Fatalf("variant = %q", artifact.Variant)
	}
	wantName := "doc_prompt_abc123_20260304_050607_0f8fad5b.md"
	if artifact.Path != filepath.Join(cfg.HandoffDir(), wantName) {
		t.Fatalf("unexpected path %s", artifact.Path)
	}
	if artifact.ResponsePath != filepath.Join(cfg.DocsDir(), "abc123_docs.json") {
		t.Fatalf("unexpected response path %s", artifact.ResponsePath)
	}

	data, err := os.ReadFile(artifact.Path)
	if err != nil {
		t.Fatalf("read document: %v", err)
	}
	doc := string(data)
	for _, want := range []string{
		"kind: vidscribe-docs-handoff",
		"# Documentation Generation Task",
		"**Image Path:** `/img/demo-talk/`",
		"3-5 per page",
		`"sidebar_position"`,
		"sidebar_position: 1",
		"vidscribe handoff export abc123",
		"[01:05] Here is the main idea.",
	} {
		if !strings.Contains(doc, want) {
			t.Fatalf("document missing %q:\n%s", want, doc)
		}
	}
	if strings.Contains(doc, "Target Word Count") {
		t.Fatal("docs handoff carries article requirements")
	}

	meta, err := ReadMetadata(artifact.Path)
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if meta.Variant() != VariantDocs || meta.Docs.ImageSubfolder != "demo-talk" || meta.Docs.KeyMomentsMax != 5 {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if meta.Requirements != (Requirements{}) {
		t.Fatalf("article requirements leaked into docs metadata: %+v", meta.Requirements)
	}
}

func TestBuildRejectsUnknownVariant(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	in := sampleInput(t)
	in.Variant = Variant("slides")
	_, err := NewBuilder(cfg, nil).Build(context.Background(), in)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestBuildIsDeterministicForSameInput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	in := sampleInput(t)

	first, err := NewBuilder(cfg, nil).Build(context.Background(), in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	firstData, _ := os.ReadFile(first.Path)
	if err := os.Remove(first.Path); err != nil {
		t.Fatal(err)
	}
	second, err := NewBuilder(cfg, nil).Build(context.Background(), in)
	if err != nil {
		t.Fatalf("second Build: %v", err)
	}
	secondData, _ := os.ReadFile(second.Path)
	if string(firstData) != string(secondData) {
		t.Fatal("expected identical documents for identical input")
	}
}

func TestBuildNeverReusesPath(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	builder := NewBuilder(cfg, nil)
	in := sampleInput(t)

	if _, err := builder.Build(context.Background(), in); err != nil {
		t.Fatalf("Build: %v", err)
	}
	_, err := builder.Build(context.Background(), in)
	if !errors.Is(err, services.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists for a reused path, got %v", err)
	}

	in.GeneratedAt = in.GeneratedAt.Add(time.Second)
	if _, err := builder.Build(context.Background(), in); err != nil {
		t.Fatalf("Build at a later time: %v", err)
	}
	entries, _ := os.ReadDir(cfg.HandoffDir())
	if len(entries) != 2 {
		t.Fatalf("expected two documents, got %d", len(entries))
	}
}

func TestBuildRequiresCompleteRun(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	in := sampleInput(t)
	in.Status = stage.RunFailed

	_, err := NewBuilder(cfg, nil).Build(context.Background(), in)
	if !errors.Is(err, services.ErrIncompletePipeline) {
		t.Fatalf("expected ErrIncompletePipeline, got %v", err)
	}
	if entries, _ := os.ReadDir(cfg.HandoffDir()); len(entries) != 0 {
		t.Fatalf("expected no document, found %d", len(entries))
	}
}

func TestReadMetadataRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	builder := NewBuilder(cfg, nil)
	in := sampleInput(t)
	artifact, err := builder.Build(context.Background(), in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	meta, err := ReadMetadata(artifact.Path)
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if meta.SourceID != "abc123" || meta.DurationSeconds != 120 || meta.Model != "medium" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if !meta.GeneratedAt.Equal(in.GeneratedAt) {
		t.Fatalf("generated_at = %v", meta.GeneratedAt)
	}
	if meta.Requirements.KeyMomentsMin != cfg.Article.KeyMomentsMin || meta.Requirements.Style != cfg.Article.Style {
		t.Fatalf("requirements not preserved: %+v", meta.Requirements)
	}
	if meta.TranscriptEnd != 120 {
		t.Fatalf("transcript end = %v", meta.TranscriptEnd)
	}
	if meta.Variant() != VariantArticle || meta.Docs != (DocsRequirements{}) {
		t.Fatalf("unexpected variant data: %q %+v", meta.Variant(), meta.Docs)
	}
}

func TestReadMetadataRejectsOtherDocuments(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "plain.md")
	other := filepath.Join(dir, "other.md")
	_ = os.WriteFile(plain, []byte("# Title\n"), 0o644)
	_ = os.WriteFile(other, []byte("---\nkind: note\n---\nbody\n"), 0o644)
	for _, path := range []string{plain, other} {
		if _, err := ReadMetadata(path); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("%s: expected ErrValidation, got %v", path, err)
		}
	}
}

func TestLatestPicksNewestForSource(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"article_prompt_abc_20260101_000000_aaaaaaaa.md",
		"article_prompt_abc_20260102_000000_bbbbbbbb.md",
		"article_prompt_abc_def_20260105_000000_cccccccc.md",
		"doc_prompt_abc_20260103_000000_dddddddd.md",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	got, err := Latest(dir, "abc", VariantArticle)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if filepath.Base(got) != "article_prompt_abc_20260102_000000_bbbbbbbb.md" {
		t.Fatalf("Latest = %s", got)
	}
	got, err = Latest(dir, "abc", VariantDocs)
	if err != nil || filepath.Base(got) != "doc_prompt_abc_20260103_000000_dddddddd.md" {
		t.Fatalf("Latest docs = %s, %v", got, err)
	}
	if _, err := Latest(dir, "zzz", VariantArticle); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLatestIgnoresIdsWithDateSuffix(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"article_prompt_talk_20260101_000000_aaaaaaaa.md",
		"article_prompt_talk_20240101_20260301_000000_bbbbbbbb.md",
		"article_prompt_talk_20240101_120000_20260401_000000_cccccccc.md",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	cases := map[string]string{
		"talk":                 "article_prompt_talk_20260101_000000_aaaaaaaa.md",
		"talk_20240101":        "article_prompt_talk_20240101_20260301_000000_bbbbbbbb.md",
		"talk_20240101_120000": "article_prompt_talk_20240101_120000_20260401_000000_cccccccc.md",
	}
	for id, want := range cases {
		got, err := Latest(dir, id, VariantArticle)
		if err != nil {
			t.Fatalf("Latest(%s): %v", id, err)
		}
		if filepath.Base(got) != want {
			t.Fatalf("Latest(%s) = %s, want %s", id, filepath.Base(got), want)
		}
	}
}
