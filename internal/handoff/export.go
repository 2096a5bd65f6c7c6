package handoff

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"vidscribe/internal/fileutil"
	"vidscribe/internal/logging"
	"vidscribe/internal/services"
	"vidscribe/internal/stage"
)

// Export describes the pages written from a reviewed documentation structure.
type Export struct {
	Dir       string   `json:"dir"`
	IndexPath string   `json:"index_path"`
	Pages     []string `json:"pages"`
}

type category struct {
	Label     string         `json:"label"`
	Position  int            `json:"position"`
	Collapsed bool           `json:"collapsed"`
	Items     []categoryItem `json:"items"`
}

type categoryItem struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Label string `json:"label"`
}

// ExportDocs writes every page of review as <page_id>.md below the docs
// output directory in a folder named after the main topic, together with the
// _category_.json sidebar index. Markdown files from an earlier export of the
// same topic are removed.
func (b *Builder) ExportDocs(ctx context.Context, review DocsReview) (Export, error) {
	docs := review.Docs
	dir := filepath.Join(b.docsDir, topicSlug(docs.MainTopic))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Export{}, services.Wrap(nil, stage.RenderHandoff, "export docs", "Failed to create documentation directory", err)
	}

	pages := append([]Page(nil), docs.Pages...)
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].SidebarPosition < pages[j].SidebarPosition })

	out := Export{Dir: dir, IndexPath: filepath.Join(dir, "_category_.json")}
	keep := map[string]bool{}
	index := category{Label: docs.MainTopic, Position: 1}
	for _, page := range pages {
		content, err := pageWithFrontMatter(page)
		if err != nil {
			return Export{}, services.Wrap(nil, stage.RenderHandoff, "export docs", "Failed to render page front matter", err)
		}
		name := page.PageID + ".md"
		path := filepath.Join(dir, name)
		if err := fileutil.WriteFileAtomic(path, content, 0o644); err != nil {
			return Export{}, services.Wrap(nil, stage.RenderHandoff, "export docs", fmt.Sprintf("Failed to write %s", name), err)
		}
		keep[name] = true
		out.Pages = append(out.Pages, path)
		index.Items = append(index.Items, categoryItem{Type: "doc", ID: page.PageID, Label: page.Title})
	}
	if err := fileutil.WriteJSONAtomic(out.IndexPath, index); err != nil {
		return Export{}, services.Wrap(nil, stage.RenderHandoff, "export docs", "Failed to write sidebar index", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return Export{}, services.Wrap(nil, stage.RenderHandoff, "export docs", "Failed to list documentation directory", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".md" || keep[name] {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return Export{}, services.Wrap(nil, stage.RenderHandoff, "export docs", fmt.Sprintf("Failed to remove stale page %s", name), err)
		}
	}

	logging.WithContext(ctx, b.logger).Info("documentation exported",
		logging.String(logging.FieldEventType, "docs_exported"),
		logging.String("dir", dir),
		logging.Int("pages", len(out.Pages)),
	)
	return out, nil
}

// pageWithFrontMatter returns the page content, adding Docusaurus front
// matter when the agent left it out.
func pageWithFrontMatter(page Page) ([]byte, error) {
	content := []byte(strings.TrimLeft(page.Content, "\n"))
	if _, _, ok := splitFrontMatter(content); ok {
		return content, nil
	}
	front, err := yaml.Marshal(pageFrontMatter{SidebarPosition: page.SidebarPosition, Label: page.Title})
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	sb.WriteString("---\n")
	sb.Write(front)
	sb.WriteString("---\n\n")
	sb.Write(content)
	if !strings.HasSuffix(sb.String(), "\n") {
		sb.WriteByte('\n')
	}
	return []byte(sb.String()), nil
}

// topicSlug lowercases topic and joins its words with dashes.
func topicSlug(topic string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(topic)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		return "docs"
	}
	return slug
}
