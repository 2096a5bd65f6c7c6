package handoff

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"vidscribe/internal/config"
	"vidscribe/internal/fileutil"
	"vidscribe/internal/logging"
	"vidscribe/internal/media"
	"vidscribe/internal/services"
	"vidscribe/internal/stage"
	"vidscribe/internal/textutil"
	"vidscribe/internal/transcript"
)

// DocumentKind tags the metadata block of article handoff documents.
const DocumentKind = "vidscribe-handoff"

// DocsDocumentKind tags the metadata block of documentation handoffs.
const DocsDocumentKind = "vidscribe-docs-handoff"

// DocumentVersion is bumped when the document layout changes incompatibly.
const DocumentVersion = 1

const timestampLayout = "20060102_150405"

// Requirements describe the article the agent is asked to write.
type Requirements struct {
	Style            string `yaml:"style"`
	TargetWordCount  int    `yaml:"target_word_count"`
	KeyMomentsMin    int    `yaml:"key_moments_min"`
	KeyMomentsMax    int    `yaml:"key_moments_max"`
	DescriptionLimit int    `yaml:"-"`
}

// RequirementsFromConfig copies the article section of the configuration.
func RequirementsFromConfig(cfg config.Article) Requirements {
	return Requirements{
		Style:            cfg.Style,
		TargetWordCount:  cfg.TargetWordCount,
		KeyMomentsMin:    cfg.KeyMomentsMin,
		KeyMomentsMax:    cfg.KeyMomentsMax,
		DescriptionLimit: cfg.DescriptionLimit,
	}
}

// Input is the completed pipeline state a handoff is rendered from.
type Input struct {
	RunID       string
	Variant     Variant
	Status      stage.RunStatus
	Asset       media.Asset
	Transcript  transcript.Transcript
	GeneratedAt time.Time
}

// Metadata is the machine-readable block at the top of a handoff document.
type Metadata struct {
	Kind            string       `yaml:"kind"`
	Version         int          `yaml:"version"`
	SourceID        string       `yaml:"source_id"`
	RunID           string       `yaml:"run_id"`
	GeneratedAt     time.Time    `yaml:"generated_at"`
	Title           string       `yaml:"title"`
	URL             string       `yaml:"url,omitempty"`
	DurationSeconds float64      `yaml:"duration_seconds"`
	Model           string       `yaml:"model"`
	Language        string       `yaml:"language,omitempty"`
	SegmentCount    int          `yaml:"segment_count"`
	TranscriptStart float64      `yaml:"transcript_start"`
	TranscriptEnd   float64      `yaml:"transcript_end"`
	ResponsePath    string       `yaml:"response_path"`
	TranscriptPath  string           `yaml:"transcript_path"`
	Requirements    Requirements     `yaml:"requirements,omitempty"`
	Docs            DocsRequirements `yaml:"docs,omitempty"`
}

// Variant reports which kind of handoff the metadata describes.
func (m Metadata) Variant() Variant {
	if m.Kind == DocsDocumentKind {
		return VariantDocs
	}
	return VariantArticle
}

// Artifact describes a written handoff document.
type Artifact struct {
	SourceID       string    `json:"source_id"`
	Variant        Variant   `json:"variant"`
	Path           string    `json:"path"`
	ResponsePath   string    `json:"response_path"`
	TranscriptPath string    `json:"transcript_path"`
	GeneratedAt    time.Time `json:"generated_at"`
	SegmentCount   int       `json:"segment_count"`
	Metadata       Metadata  `json:"-"`
}

// Builder renders handoff documents into the configured output tree.
type Builder struct {
	handoffDir     string
	transcriptsDir string
	articlesDir    string
	docsDir        string
	requirements   Requirements
	docs           config.Docs
	logger         *slog.Logger
	now            func() time.Time
}

// NewBuilder constructs a builder writing below cfg's output directory.
func NewBuilder(cfg *config.Config, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Builder{
		handoffDir:     cfg.HandoffDir(),
		transcriptsDir: cfg.TranscriptsDir(),
		articlesDir:    cfg.ArticlesDir(),
		docsDir:        cfg.DocsDir(),
		requirements:   RequirementsFromConfig(cfg.Article),
		docs:           cfg.Docs,
		logger:         logging.NewComponentLogger(logger, "handoff"),
		now:            time.Now,
	}
}

// ResponsePath is where the agent must save its JSON answer for sourceID.
func (b *Builder) ResponsePath(variant Variant, sourceID string) string {
	if variant == VariantDocs {
		return filepath.Join(b.docsDir, sourceID+"_docs.json")
	}
	return filepath.Join(b.articlesDir, sourceID+"_article.json")
}

// TranscriptPath is the readable transcript export for sourceID.
func (b *Builder) TranscriptPath(sourceID string) string {
	return filepath.Join(b.transcriptsDir, "transcript_"+sourceID+".txt")
}

// Build renders the handoff document for a completed run.
func (b *Builder) Build(ctx context.Context, in Input) (Artifact, error) {
	if in.Status != stage.RunComplete {
		return Artifact{}, services.Wrap(services.ErrIncompletePipeline, stage.RenderHandoff, "build",
			fmt.Sprintf("Pipeline status is %q; a handoff needs a complete run", in.Status), nil)
	}
	if err := in.Transcript.Verify(); err != nil {
		return Artifact{}, services.Wrap(services.ErrValidation, stage.RenderHandoff, "build", "Transcript is not renderable", err)
	}
	sourceID := in.Transcript.SourceID
	if sourceID == "" {
		sourceID = in.Asset.SourceID
	}
	generatedAt := in.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = b.now()
	}
	generatedAt = generatedAt.UTC().Truncate(time.Second)
	variant := in.Variant
	if variant == "" {
		variant = VariantArticle
	}
	if err := variant.Validate(); err != nil {
		return Artifact{}, services.Wrap(services.ErrValidation, stage.RenderHandoff, "build", "Unknown handoff variant", err)
	}

	meta := b.metadata(variant, sourceID, in, generatedAt)
	for _, dir := range []string{b.handoffDir, b.transcriptsDir, filepath.Dir(meta.ResponsePath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Artifact{}, services.Wrap(nil, stage.RenderHandoff, "prepare", "Failed to create output directory", err)
		}
	}

	transcriptPath := meta.TranscriptPath
	if err := fileutil.WriteFileAtomic(transcriptPath, []byte(b.renderTranscriptExport(in)), 0o644); err != nil {
		return Artifact{}, services.Wrap(nil, stage.RenderHandoff, "write transcript", "Failed to write transcript export", err)
	}

	var doc []byte
	var err error
	if variant == VariantDocs {
		doc, err = b.renderDocs(meta, in)
	} else {
		doc, err = b.renderArticle(meta, in)
	}
	if err != nil {
		return Artifact{}, services.Wrap(nil, stage.RenderHandoff, "render", "Failed to render handoff document", err)
	}

	path := filepath.Join(b.handoffDir, documentName(variant, sourceID, in.RunID, generatedAt))
	if err := writeExclusive(path, doc); err != nil {
		if errors.Is(err, os.ErrExist) {
			return Artifact{}, services.Wrap(services.ErrAlreadyExists, stage.RenderHandoff, "write",
				fmt.Sprintf("Handoff document %s already exists", path), nil)
		}
		return Artifact{}, services.Wrap(nil, stage.RenderHandoff, "write", "Failed to write handoff document", err)
	}

	logging.WithContext(ctx, b.logger).Info("handoff document written",
		logging.String(logging.FieldEventType, "handoff_written"),
		logging.String("path", path),
		logging.String("variant", string(variant)),
		logging.String("response_path", meta.ResponsePath),
		logging.Int("segments", meta.SegmentCount),
	)

	return Artifact{
		SourceID:       sourceID,
		Variant:        variant,
		Path:           path,
		ResponsePath:   meta.ResponsePath,
		TranscriptPath: transcriptPath,
		GeneratedAt:    generatedAt,
		SegmentCount:   meta.SegmentCount,
		Metadata:       meta,
	}, nil
}

func documentName(variant Variant, sourceID, runID string, at time.Time) string {
	run := strings.ReplaceAll(runID, "-", "")
	if len(run) > 8 {
		run = run[:8]
	}
	if run == "" {
		run = "adhoc"
	}
	return fmt.Sprintf("%s%s_%s_%s.md", variant.documentPrefix(), sourceID, at.Format(timestampLayout), run)
}

func writeExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}

func (b *Builder) metadata(variant Variant, sourceID string, in Input, generatedAt time.Time) Metadata {
	segs := in.Transcript.Segments
	duration := in.Transcript.Duration
	if duration <= 0 {
		duration = in.Asset.DurationSeconds
	}
	meta := Metadata{
		Kind:            variant.kind(),
		Version:         DocumentVersion,
		SourceID:        sourceID,
		RunID:           in.RunID,
		GeneratedAt:     generatedAt,
		Title:           in.Asset.DisplayTitle(),
		URL:             in.Asset.URL,
		DurationSeconds: duration,
		Model:           in.Transcript.Model,
		Language:        in.Transcript.Language,
		SegmentCount:    len(segs),
		TranscriptStart: segs[0].Start,
		TranscriptEnd:   in.Transcript.LastTimestamp(),
		ResponsePath:    b.ResponsePath(variant, sourceID),
		TranscriptPath:  b.TranscriptPath(sourceID),
	}
	if variant == VariantDocs {
		meta.Docs = DocsRequirementsFromConfig(b.docs, sourceID)
	} else {
		meta.Requirements = b.requirements
	}
	return meta
}

// writeFrontMatter opens a document with its YAML metadata block.
func writeFrontMatter(buf *bytes.Buffer, meta Metadata) error {
	front, err := yaml.Marshal(meta)
	if err != nil {
		return err
	}
	buf.WriteString("---\n")
	buf.Write(front)
	buf.WriteString("---\n\n")
	return nil
}

func (b *Builder) writeVideoInfo(buf *bytes.Buffer, meta Metadata, in Input) {
	buf.WriteString("## Video Information\n\n")
	fmt.Fprintf(buf, "- **Title:** %s\n", meta.Title)
	fmt.Fprintf(buf, "- **Duration:** %s (%d minutes)\n", transcript.FormatTimestamp(meta.DurationSeconds), int(meta.DurationSeconds/60))
	fmt.Fprintf(buf, "- **Source ID:** %s\n", meta.SourceID)
	if meta.URL != "" {
		fmt.Fprintf(buf, "- **URL:** %s\n", meta.URL)
	}
	if in.Asset.Uploader != "" {
		fmt.Fprintf(buf, "- **Uploader:** %s\n", in.Asset.Uploader)
	}
	if meta.Language != "" {
		fmt.Fprintf(buf, "- **Language:** %s\n", meta.Language)
	}
	description := strings.TrimSpace(in.Asset.Description)
	if description == "" {
		description = "No description"
	}
	if b.requirements.DescriptionLimit > 0 {
		description = textutil.Truncate(description, b.requirements.DescriptionLimit)
	}
	fmt.Fprintf(buf, "\n**Description:**\n\n%s\n\n", description)
}

func writeTranscript(buf *bytes.Buffer, in Input) {
	buf.WriteString("## Transcript\n\n")
	for _, line := range in.Transcript.Lines() {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
}

func (b *Builder) renderArticle(meta Metadata, in Input) ([]byte, error) {
	req := meta.Requirements
	var buf bytes.Buffer
	if err := writeFrontMatter(&buf, meta); err != nil {
		return nil, err
	}
	buf.WriteString("# Article Generation Task\n\n")
	buf.WriteString("You are tasked with converting a video transcript into a well-structured, engaging article.\n\n")
	b.writeVideoInfo(&buf, meta, in)

	buf.WriteString("## Article Requirements\n\n")
	fmt.Fprintf(&buf, "- **Style:** %s\n", req.Style)
	fmt.Fprintf(&buf, "- **Target Word Count:** %d words\n", req.TargetWordCount)
	buf.WriteString("- **Format:** Markdown with proper headings and structure\n")
	fmt.Fprintf(&buf, "- **Key Moments:** %d-%d, each with a timestamp between %s and %s\n\n",
		req.KeyMomentsMin, req.KeyMomentsMax,
		transcript.FormatTimestamp(0), transcript.FormatTimestamp(meta.DurationSeconds))

	buf.WriteString("## Your Task\n\n")
	buf.WriteString("1. **Analyze the transcript below** and understand the key points, insights, and flow\n")
	buf.WriteString("2. **Write a compelling article** that:\n")
	buf.WriteString("   - Has an engaging title and subtitle\n")
	buf.WriteString("   - Maintains the speaker's voice and key insights\n")
	buf.WriteString("   - Is structured with clear sections and Markdown headings\n")
	buf.WriteString("   - Transforms the transcript into article form instead of restating it\n")
	fmt.Fprintf(&buf, "3. **Identify %d-%d key moments** where screenshots would enhance the article\n", req.KeyMomentsMin, req.KeyMomentsMax)
	buf.WriteString("   - For each moment, provide: timestamp (MM:SS), description, and caption\n")
	buf.WriteString("4. **Produce a JSON document** that satisfies the schema below\n")
	fmt.Fprintf(&buf, "5. **Save the JSON** to: `%s`\n\n", meta.ResponsePath)

	buf.WriteString("## Response Schema\n\n```json\n")
	buf.WriteString(strings.TrimSpace(SchemaJSON()))
	buf.WriteString("\n```\n\n")

	buf.WriteString("## Response Path\n\n")
	fmt.Fprintf(&buf, "`%s`\n\n", meta.ResponsePath)

	writeTranscript(&buf, in)

	buf.WriteString("\n---\n\n## Instructions for Execution\n\n")
	buf.WriteString("After reading this file:\n\n")
	buf.WriteString("1. Generate the article following all requirements above\n")
	fmt.Fprintf(&buf, "2. Save the JSON output to `%s`\n", meta.ResponsePath)
	fmt.Fprintf(&buf, "3. Run `vidscribe handoff validate %s` to check the result\n", meta.SourceID)
	return buf.Bytes(), nil
}

func (b *Builder) renderTranscriptExport(in Input) string {
	rule := strings.Repeat("=", 70)
	url := in.Asset.URL
	if url == "" {
		url = "local file"
	}
	lines := []string{
		rule,
		"TRANSCRIPT: " + in.Asset.DisplayTitle(),
		rule,
		"Source ID: " + in.Transcript.SourceID,
		fmt.Sprintf("Duration: %s", transcript.FormatTimestamp(in.Transcript.Duration)),
		"URL: " + url,
		"Model: " + in.Transcript.Model,
		rule,
		"",
	}
	lines = append(lines, in.Transcript.Lines()...)
	return strings.Join(lines, "\n") + "\n"
}
