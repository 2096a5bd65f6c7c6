package handoff

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"vidscribe/internal/services"
	"vidscribe/internal/stage"
	"vidscribe/internal/textutil"
	"vidscribe/internal/transcript"
)

// wordsPerMinute converts word counts into reading time.
const wordsPerMinute = 200

// Article is the JSON document the agent writes at the response path.
type Article struct {
	Title       string          `json:"title"`
	Subtitle    string          `json:"subtitle"`
	ArticleBody string          `json:"article_body"`
	KeyMoments  []KeyMoment     `json:"key_moments"`
	Metadata    ArticleMetadata `json:"metadata"`
}

// KeyMoment references a point in the transcript worth illustrating.
type KeyMoment struct {
	Timestamp   string  `json:"timestamp"`
	Description string  `json:"description"`
	Caption     string  `json:"caption"`
	Seconds     float64 `json:"-"`
}

// ArticleMetadata holds the agent's own accounting of the article.
type ArticleMetadata struct {
	WordCount          int      `json:"word_count"`
	ReadingTimeMinutes float64  `json:"reading_time_minutes"`
	KeyTopics          []string `json:"key_topics"`
}

// Expectation is what a returned article or documentation structure is
// checked against.
type Expectation struct {
	SourceID        string
	DurationSeconds float64
	Requirements    Requirements
	Docs            DocsRequirements
}

// ExpectationFrom derives the checks for an answer from its handoff metadata.
func ExpectationFrom(meta Metadata) Expectation {
	return Expectation{
		SourceID:        meta.SourceID,
		DurationSeconds: meta.DurationSeconds,
		Requirements:    meta.Requirements,
		Docs:            meta.Docs,
	}
}

// Review is the outcome of loading an article. Notes flag drift from the
// requested shape that does not make the article unusable.
type Review struct {
	Path          string   `json:"path"`
	Article       Article  `json:"article"`
	BodyWordCount int      `json:"body_word_count"`
	Headings      int      `json:"headings"`
	Notes         []string `json:"notes,omitempty"`
}

// LoadArticle reads and checks the agent's article at path.
func LoadArticle(path string, exp Expectation) (Review, error) {
	data, err := readResponse(path, "article")
	if err != nil {
		return Review{}, err
	}
	if problems := validateJSON(articleSchema, data); len(problems) > 0 {
		return Review{}, violation("validate article", "Article does not match the response schema", problems)
	}
	var article Article
	if err := json.Unmarshal(data, &article); err != nil {
		return Review{}, services.Wrap(services.ErrValidation, stage.RenderHandoff, "load article", "Article JSON could not be decoded", err)
	}

	var problems []string
	for i := range article.KeyMoments {
		moment := &article.KeyMoments[i]
		seconds, problem := momentSeconds(fmt.Sprintf("key_moments[%d]", i), moment.Timestamp, exp.DurationSeconds)
		moment.Seconds = seconds
		if problem != "" {
			problems = append(problems, problem)
		}
	}

	body := []byte(article.ArticleBody)
	headings, words := inspectBody(body)
	if headings == 0 {
		problems = append(problems, "article_body: no Markdown headings found")
	}
	if len(problems) > 0 {
		return Review{}, violation("validate article", "Article failed content checks", problems)
	}

	review := Review{
		Path:          path,
		Article:       article,
		BodyWordCount: words,
		Headings:      headings,
	}
	review.Notes = driftNotes(article, words, exp.Requirements)
	return review, nil
}

// readResponse reads the agent's JSON answer; noun names it in errors.
func readResponse(path, noun string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return data, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, services.Wrap(services.ErrNotFound, stage.RenderHandoff, "load "+noun,
			fmt.Sprintf("No %s at %s yet", noun, path), nil)
	}
	return nil, services.Wrap(nil, stage.RenderHandoff, "load "+noun, "Failed to read "+noun, err)
}

func violation(op, summary string, problems []string) error {
	return services.Wrap(services.ErrValidation, stage.RenderHandoff, op,
		summary+": "+strings.Join(problems, "; "), nil)
}

// momentSeconds parses a key moment timestamp and checks that it falls inside
// the video. The problem is empty when the moment is usable.
func momentSeconds(label, timestamp string, duration float64) (float64, string) {
	seconds, err := transcript.ParseTimestamp(timestamp)
	if err != nil {
		return 0, fmt.Sprintf("%s: %v", label, err)
	}
	if seconds < 0 {
		return seconds, fmt.Sprintf("%s: %s is before the start of the video", label, timestamp)
	}
	if duration > 0 && seconds > math.Floor(duration) {
		return seconds, fmt.Sprintf("%s: %s is past the end of the video (%s)",
			label, timestamp, transcript.FormatTimestamp(duration))
	}
	return seconds, ""
}

// inspectBody counts Markdown headings and the words of rendered text.
func inspectBody(source []byte) (headings, words int) {
	doc := goldmark.New().Parser().Parse(text.NewReader(source))
	var textBuf bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := n.(type) {
		case *ast.Heading:
			headings++
		case *ast.Text:
			textBuf.Write(v.Segment.Value(source))
			textBuf.WriteByte(' ')
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := v.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				textBuf.Write(seg.Value(source))
			}
			textBuf.WriteByte(' ')
		}
		return ast.WalkContinue, nil
	})
	return headings, textutil.CountWords(textBuf.String())
}

func driftNotes(article Article, bodyWords int, req Requirements) []string {
	var notes []string
	if bodyWords > 0 && !within(article.Metadata.WordCount, bodyWords, 0.10) {
		notes = append(notes, fmt.Sprintf("metadata.word_count is %d but the body has %d words",
			article.Metadata.WordCount, bodyWords))
	}
	if req.TargetWordCount > 0 && !within(bodyWords, req.TargetWordCount, 0.25) {
		notes = append(notes, fmt.Sprintf("body has %d words; %d were requested", bodyWords, req.TargetWordCount))
	}
	expectedMinutes := math.Ceil(float64(bodyWords) / wordsPerMinute)
	if bodyWords > 0 && math.Abs(article.Metadata.ReadingTimeMinutes-expectedMinutes) > 1 {
		notes = append(notes, fmt.Sprintf("metadata.reading_time_minutes is %g; about %g expected",
			article.Metadata.ReadingTimeMinutes, expectedMinutes))
	}
	count := len(article.KeyMoments)
	if req.KeyMomentsMax > 0 && (count < req.KeyMomentsMin || count > req.KeyMomentsMax) {
		notes = append(notes, fmt.Sprintf("%d key moments; %d-%d were requested", count, req.KeyMomentsMin, req.KeyMomentsMax))
	}
	if !sort.SliceIsSorted(article.KeyMoments, func(i, j int) bool {
		return article.KeyMoments[i].Seconds < article.KeyMoments[j].Seconds
	}) {
		notes = append(notes, "key moments are not in chronological order")
	}
	if len(article.Metadata.KeyTopics) == 0 {
		notes = append(notes, "metadata.key_topics is empty")
	}
	return notes
}

// within reports whether got is within tolerance (a fraction) of want.
func within(got, want int, tolerance float64) bool {
	if want == 0 {
		return got == 0
	}
	return math.Abs(float64(got-want))/float64(want) <= tolerance
}

// ReadMetadata parses the YAML block at the top of a handoff document.
func ReadMetadata(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, err
	}
	if !bytes.HasPrefix(data, []byte("---\n")) {
		return Metadata{}, services.Wrap(services.ErrValidation, stage.RenderHandoff, "read metadata",
			fmt.Sprintf("%s has no metadata block", path), nil)
	}
	block, _, ok := splitFrontMatter(data)
	if !ok {
		return Metadata{}, services.Wrap(services.ErrValidation, stage.RenderHandoff, "read metadata",
			fmt.Sprintf("%s has an unterminated metadata block", path), nil)
	}
	var meta Metadata
	if err := yaml.Unmarshal(block, &meta); err != nil {
		return Metadata{}, services.Wrap(services.ErrValidation, stage.RenderHandoff, "read metadata", "Metadata block is not valid YAML", err)
	}
	if meta.Kind != DocumentKind && meta.Kind != DocsDocumentKind {
		return Metadata{}, services.Wrap(services.ErrValidation, stage.RenderHandoff, "read metadata",
			fmt.Sprintf("%s is not a handoff document (kind %q)", path, meta.Kind), nil)
	}
	return meta, nil
}

// splitFrontMatter separates a leading "---" delimited YAML block from the
// rest of data. ok is false when data has no complete block.
func splitFrontMatter(data []byte) (block, body []byte, ok bool) {
	rest, found := bytes.CutPrefix(data, []byte("---\n"))
	if !found {
		return nil, data, false
	}
	block, body, found = bytes.Cut(rest, []byte("\n---\n"))
	if !found {
		return nil, data, false
	}
	return block, body, true
}

// documentSuffix matches what follows the source id in a document name.
var documentSuffix = regexp.MustCompile(`^\d{8}_\d{6}_[0-9A-Za-z]+\.md$`)

// Latest returns the newest handoff document of the given variant written for
// sourceID in dir. Document names embed a sortable generation timestamp.
func Latest(dir, sourceID string, variant Variant) (string, error) {
	prefix := variant.documentPrefix() + sourceID + "_"
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"*.md"))
	if err != nil {
		return "", err
	}
	var candidates []string
	for _, match := range matches {
		rest := strings.TrimPrefix(filepath.Base(match), prefix)
		// Ids may prefix other ids (talk vs talk_20240101).
		if documentSuffix.MatchString(rest) {
			candidates = append(candidates, match)
		}
	}
	if len(candidates) == 0 {
		return "", services.Wrap(services.ErrNotFound, stage.RenderHandoff, "locate handoff",
			fmt.Sprintf("No %s handoff document for %s in %s", variant, sourceID, dir), nil)
	}
	sort.Strings(candidates)
	return candidates[len(candidates)-1], nil
}
