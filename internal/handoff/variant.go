package handoff

import (
	"fmt"
	"strings"
)

// Variant names the kind of handoff document a run renders.
type Variant string

const (
	// VariantArticle asks the agent for a single article.
	VariantArticle Variant = "article"
	// VariantDocs asks the agent for a multi-page documentation structure.
	VariantDocs Variant = "docs"
)

// ParseVariant accepts "article" or "docs"; an empty value means article.
func ParseVariant(value string) (Variant, error) {
	v := Variant(strings.ToLower(strings.TrimSpace(value)))
	if v == "" {
		return VariantArticle, nil
	}
	if err := v.Validate(); err != nil {
		return "", err
	}
	return v, nil
}

// Validate rejects unknown variants.
func (v Variant) Validate() error {
	switch v {
	case VariantArticle, VariantDocs:
		return nil
	}
	return fmt.Errorf("handoff variant must be %q or %q, got %q", VariantArticle, VariantDocs, string(v))
}

func (v Variant) kind() string {
	if v == VariantDocs {
		return DocsDocumentKind
	}
	return DocumentKind
}

func (v Variant) documentPrefix() string {
	if v == VariantDocs {
		return "doc_prompt_"
	}
	return "article_prompt_"
}

// SchemaFor returns the JSON schema the agent's answer must satisfy.
func SchemaFor(v Variant) string {
	if v == VariantDocs {
		return DocsSchemaJSON()
	}
	return SchemaJSON()
}
