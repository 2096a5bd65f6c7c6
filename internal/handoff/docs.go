package handoff

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"vidscribe/internal/config"
	"vidscribe/internal/services"
	"vidscribe/internal/stage"
	"vidscribe/internal/transcript"
)

// DocsRequirements describe the documentation section the agent is asked
// to write.
type DocsRequirements struct {
	Style          string `yaml:"style"`
	ImageSubfolder string `yaml:"image_subfolder"`
	KeyMomentsMin  int    `yaml:"key_moments_min"`
	KeyMomentsMax  int    `yaml:"key_moments_max"`
}

// DocsRequirementsFromConfig copies the docs section of the configuration.
// An unset image subfolder falls back to the source id.
func DocsRequirementsFromConfig(cfg config.Docs, sourceID string) DocsRequirements {
	sub := cfg.ImageSubfolder
	if sub == "" {
		sub = sourceID
	}
	return DocsRequirements{
		Style:          cfg.Style,
		ImageSubfolder: sub,
		KeyMomentsMin:  cfg.KeyMomentsMin,
		KeyMomentsMax:  cfg.KeyMomentsMax,
	}
}

// ImagePath is the site path screenshots are referenced under.
func (r DocsRequirements) ImagePath() string {
	return "/img/" + r.ImageSubfolder + "/"
}

// Documentation is the JSON structure the agent writes for a docs handoff.
type Documentation struct {
	MainTopic string       `json:"main_topic"`
	Overview  string       `json:"overview"`
	Pages     []Page       `json:"pages"`
	Metadata  DocsMetadata `json:"metadata"`
}

// Page is one Markdown page of the documentation section.
type Page struct {
	PageID          string       `json:"page_id"`
	Title           string       `json:"title"`
	SidebarPosition int          `json:"sidebar_position"`
	Content         string       `json:"content"`
	KeyMoments      []PageMoment `json:"key_moments"`
	RelatedPages    []string     `json:"related_pages"`
}

// PageMoment is a key moment illustrated by a screenshot on a page.
type PageMoment struct {
	Timestamp   string  `json:"timestamp"`
	Description string  `json:"description"`
	Caption     string  `json:"caption"`
	ImageName   string  `json:"image_name"`
	Seconds     float64 `json:"-"`
}

// DocsMetadata holds the agent's own accounting of the structure.
type DocsMetadata struct {
	TotalPages      int      `json:"total_pages"`
	MainTopic       string   `json:"main_topic"`
	Subtopics       []string `json:"subtopics"`
	TotalKeyMoments int      `json:"total_key_moments"`
	ImageSubfolder  string   `json:"image_subfolder"`
}

// PageSummary is what LoadDocs measured on one page.
type PageSummary struct {
	PageID      string `json:"page_id"`
	Title       string `json:"title"`
	Words       int    `json:"words"`
	Headings    int    `json:"headings"`
	KeyMoments  int    `json:"key_moments"`
	FrontMatter bool   `json:"front_matter"`
}

// DocsReview is the outcome of loading a documentation structure.
type DocsReview struct {
	Path  string        `json:"path"`
	Docs  Documentation `json:"docs"`
	Pages []PageSummary `json:"pages"`
	Notes []string      `json:"notes,omitempty"`
}

// LoadDocs reads and checks the agent's documentation structure at path.
func LoadDocs(path string, exp Expectation) (DocsReview, error) {
	data, err := readResponse(path, "documentation")
	if err != nil {
		return DocsReview{}, err
	}
	if problems := validateJSON(docsSchema, data); len(problems) > 0 {
		return DocsReview{}, violation("validate docs", "Documentation does not match the response schema", problems)
	}
	var docs Documentation
	if err := json.Unmarshal(data, &docs); err != nil {
		return DocsReview{}, services.Wrap(services.ErrValidation, stage.RenderHandoff, "load documentation",
			"Documentation JSON could not be decoded", err)
	}

	var problems []string
	ids := make(map[string]bool, len(docs.Pages))
	for i, page := range docs.Pages {
		if ids[page.PageID] {
			problems = append(problems, fmt.Sprintf("pages[%d]: duplicate page_id %q", i, page.PageID))
		}
		ids[page.PageID] = true
	}

	images := make(map[string]string)
	summaries := make([]PageSummary, 0, len(docs.Pages))
	for i := range docs.Pages {
		page := &docs.Pages[i]
		for j := range page.KeyMoments {
			moment := &page.KeyMoments[j]
			label := fmt.Sprintf("pages[%d].key_moments[%d]", i, j)
			seconds, problem := momentSeconds(label, moment.Timestamp, exp.DurationSeconds)
			moment.Seconds = seconds
			if problem != "" {
				problems = append(problems, problem)
			}
			if owner, taken := images[moment.ImageName]; taken {
				problems = append(problems, fmt.Sprintf("%s: image_name %q is already used by %s", label, moment.ImageName, owner))
			} else {
				images[moment.ImageName] = page.PageID
			}
		}
		for _, related := range page.RelatedPages {
			if !ids[related] {
				problems = append(problems, fmt.Sprintf("pages[%d]: related page %q does not exist", i, related))
			}
		}

		_, body, hasFront := splitFrontMatter([]byte(page.Content))
		headings, words := inspectBody(body)
		if headings == 0 {
			problems = append(problems, fmt.Sprintf("pages[%d]: content has no Markdown headings", i))
		}
		summaries = append(summaries, PageSummary{
			PageID:      page.PageID,
			Title:       page.Title,
			Words:       words,
			Headings:    headings,
			KeyMoments:  len(page.KeyMoments),
			FrontMatter: hasFront,
		})
	}
	if len(problems) > 0 {
		return DocsReview{}, violation("validate docs", "Documentation failed content checks", problems)
	}

	return DocsReview{
		Path:  path,
		Docs:  docs,
		Pages: summaries,
		Notes: docsDriftNotes(docs, summaries, exp.Docs),
	}, nil
}

func docsDriftNotes(docs Documentation, pages []PageSummary, req DocsRequirements) []string {
	var notes []string
	if docs.Metadata.TotalPages != len(docs.Pages) {
		notes = append(notes, fmt.Sprintf("metadata.total_pages is %d but %d pages were written",
			docs.Metadata.TotalPages, len(docs.Pages)))
	}
	moments := 0
	positions := make(map[int]string, len(docs.Pages))
	for i, page := range docs.Pages {
		moments += len(page.KeyMoments)
		count := len(page.KeyMoments)
		if req.KeyMomentsMax > 0 && (count < req.KeyMomentsMin || count > req.KeyMomentsMax) {
			notes = append(notes, fmt.Sprintf("page %s has %d key moments; %d-%d were requested",
				page.PageID, count, req.KeyMomentsMin, req.KeyMomentsMax))
		}
		if !sort.SliceIsSorted(page.KeyMoments, func(a, b int) bool {
			return page.KeyMoments[a].Seconds < page.KeyMoments[b].Seconds
		}) {
			notes = append(notes, fmt.Sprintf("page %s key moments are not in chronological order", page.PageID))
		}
		if other, taken := positions[page.SidebarPosition]; taken {
			notes = append(notes, fmt.Sprintf("pages %s and %s share sidebar_position %d", other, page.PageID, page.SidebarPosition))
		} else {
			positions[page.SidebarPosition] = page.PageID
		}
		if !pages[i].FrontMatter {
			notes = append(notes, fmt.Sprintf("page %s has no front matter; export will add it", page.PageID))
		}
	}
	if docs.Metadata.TotalKeyMoments != moments {
		notes = append(notes, fmt.Sprintf("metadata.total_key_moments is %d but the pages hold %d",
			docs.Metadata.TotalKeyMoments, moments))
	}
	if req.ImageSubfolder != "" && docs.Metadata.ImageSubfolder != req.ImageSubfolder {
		notes = append(notes, fmt.Sprintf("metadata.image_subfolder is %q; %q was requested",
			docs.Metadata.ImageSubfolder, req.ImageSubfolder))
	}
	return notes
}

// pageFrontMatter is the Docusaurus block written ahead of page content.
type pageFrontMatter struct {
	SidebarPosition int    `yaml:"sidebar_position"`
	Label           string `yaml:"label"`
}

func (b *Builder) renderDocs(meta Metadata, in Input) ([]byte, error) {
	req := meta.Docs
	var buf bytes.Buffer
	if err := writeFrontMatter(&buf, meta); err != nil {
		return nil, err
	}
	buf.WriteString("# Documentation Generation Task\n\n")
	buf.WriteString("You are tasked with converting a video transcript into a Docusaurus documentation section.\n\n")
	b.writeVideoInfo(&buf, meta, in)

	buf.WriteString("## Documentation Requirements\n\n")
	fmt.Fprintf(&buf, "- **Style:** %s\n", req.Style)
	buf.WriteString("- **Target Format:** Docusaurus Markdown pages\n")
	buf.WriteString("- **Page Structure:** one page per major topic; subtopics become `##` or `###` sections\n")
	fmt.Fprintf(&buf, "- **Image Path:** `%s`\n", req.ImagePath())
	buf.WriteString("- **Front Matter:** every page starts with YAML front matter holding `sidebar_position` and `label`\n")
	fmt.Fprintf(&buf, "- **Key Moments:** %d-%d per page, each with a timestamp between %s and %s\n\n",
		req.KeyMomentsMin, req.KeyMomentsMax,
		transcript.FormatTimestamp(0), transcript.FormatTimestamp(meta.DurationSeconds))

	buf.WriteString("## Your Task\n\n")
	buf.WriteString("1. **Analyze the transcript below** and identify the main topic and its subtopics\n")
	buf.WriteString("2. **Organize the material into pages** so that:\n")
	buf.WriteString("   - Each major topic becomes its own page with a lowercase, dash-separated `page_id`\n")
	buf.WriteString("   - Pages open with an overview and continue with step-by-step sections where they apply\n")
	buf.WriteString("   - Tips and key points stand out with blockquotes or emphasis\n")
	buf.WriteString("   - Related pages are linked with `[link text](page-id)` and listed in `related_pages`\n")
	fmt.Fprintf(&buf, "3. **Identify %d-%d key moments per page** where a screenshot would help the reader\n", req.KeyMomentsMin, req.KeyMomentsMax)
	buf.WriteString("   - For each moment, provide: timestamp (MM:SS), description, caption, and a unique `image_name`\n")
	fmt.Fprintf(&buf, "   - Reference each image in the page as `![Description](%simage-name.png)`\n", req.ImagePath())
	buf.WriteString("4. **Produce a JSON document** that satisfies the schema below\n")
	fmt.Fprintf(&buf, "5. **Save the JSON** to: `%s`\n\n", meta.ResponsePath)

	example, err := yaml.Marshal(pageFrontMatter{SidebarPosition: 1, Label: "Getting Started"})
	if err != nil {
		return nil, err
	}
	buf.WriteString("## Example Page Content\n\n```markdown\n---\n")
	buf.Write(example)
	buf.WriteString("---\n\n# Getting Started\n\nA short overview of what this page covers.\n\n## First Steps\n\n")
	fmt.Fprintf(&buf, "1. Open the project settings\n2. Enable the feature\n\n![Feature enabled](%sgetting-started-1.png)\n```\n\n", req.ImagePath())

	buf.WriteString("## Response Schema\n\n```json\n")
	buf.WriteString(strings.TrimSpace(DocsSchemaJSON()))
	buf.WriteString("\n```\n\n")

	buf.WriteString("## Response Path\n\n")
	fmt.Fprintf(&buf, "`%s`\n\n", meta.ResponsePath)

	writeTranscript(&buf, in)

	buf.WriteString("\n---\n\n## Instructions for Execution\n\n")
	buf.WriteString("After reading this file:\n\n")
	buf.WriteString("1. Generate the documentation structure following all requirements above\n")
	fmt.Fprintf(&buf, "2. Save the JSON output to `%s`\n", meta.ResponsePath)
	fmt.Fprintf(&buf, "3. Run `vidscribe handoff validate --variant docs %s` to check the result\n", meta.SourceID)
	fmt.Fprintf(&buf, "4. Run `vidscribe handoff export %s` to write the pages\n", meta.SourceID)
	return buf.Bytes(), nil
}
