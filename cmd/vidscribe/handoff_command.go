package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"vidscribe/internal/handoff"
	"vidscribe/internal/services"
	"vidscribe/internal/source"
)

func newHandoffCommand(ctx *commandContext) *cobra.Command {
	handoffCmd := &cobra.Command{
		Use:   "handoff",
		Short: "Work with article and documentation handoff documents",
	}

	handoffCmd.AddCommand(newHandoffValidateCommand(ctx))
	handoffCmd.AddCommand(newHandoffExportCommand(ctx))
	handoffCmd.AddCommand(newHandoffSchemaCommand())

	return handoffCmd
}

// latestHandoff resolves the newest handoff of variant for a source argument.
func latestHandoff(ctx *commandContext, sourceArg string, variant handoff.Variant) (string, handoff.Metadata, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return "", handoff.Metadata{}, err
	}
	ref, err := source.Parse(sourceArg)
	if err != nil {
		return "", handoff.Metadata{}, err
	}
	docPath, err := handoff.Latest(cfg.HandoffDir(), ref.ID, variant)
	if err != nil {
		return "", handoff.Metadata{}, err
	}
	meta, err := handoff.ReadMetadata(docPath)
	if err != nil {
		return "", handoff.Metadata{}, err
	}
	return docPath, meta, nil
}

func parseVariantFlag(value string) (handoff.Variant, error) {
	variant, err := handoff.ParseVariant(value)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "", "handoff", "Invalid --variant", err)
	}
	return variant, nil
}

func newHandoffValidateCommand(ctx *commandContext) *cobra.Command {
	var articlePath string
	var variantName string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "validate <source>",
		Short: "Check the JSON an agent wrote for a source",
		Long: "Locate the newest handoff document for the source, load the agent's JSON\n" +
			"from its response path (or --article), and check it against the schema\n" +
			"and the requirements recorded in the handoff. --variant docs checks a\n" +
			"documentation structure instead of an article.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			variant, err := parseVariantFlag(variantName)
			if err != nil {
				return err
			}
			docPath, meta, err := latestHandoff(ctx, args[0], variant)
			if err != nil {
				return err
			}
			target := strings.TrimSpace(articlePath)
			if target == "" {
				target = meta.ResponsePath
			}
			exp := handoff.ExpectationFrom(meta)

			if variant == handoff.VariantDocs {
				review, err := handoff.LoadDocs(target, exp)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, review)
				}
				printDocsReview(cmd.OutOrStdout(), docPath, review)
				return nil
			}

			review, err := handoff.LoadArticle(target, exp)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, review)
			}
			printReview(cmd.OutOrStdout(), docPath, review)
			return nil
		},
	}

	cmd.Flags().StringVar(&articlePath, "article", "", "JSON to check instead of the handoff's response path")
	cmd.Flags().StringVar(&variantName, "variant", "article", "Handoff variant: article or docs")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the review as JSON")
	return cmd
}

func newHandoffExportCommand(ctx *commandContext) *cobra.Command {
	var docsPath string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "export <source>",
		Short: "Write the pages of a checked documentation structure",
		Long: "Check the documentation JSON for the source's newest docs handoff and write\n" +
			"each page as a Markdown file, plus a Docusaurus _category_.json sidebar\n" +
			"index, below the documentation output directory.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docPath, meta, err := latestHandoff(ctx, args[0], handoff.VariantDocs)
			if err != nil {
				return err
			}
			target := strings.TrimSpace(docsPath)
			if target == "" {
				target = meta.ResponsePath
			}
			review, err := handoff.LoadDocs(target, handoff.ExpectationFrom(meta))
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			out, err := handoff.NewBuilder(cfg, logger).ExportDocs(cmd.Context(), review)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, out)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Handoff:  %s\n", docPath)
			fmt.Fprintf(w, "Pages:    %d written to %s\n", len(out.Pages), out.Dir)
			fmt.Fprintf(w, "Sidebar:  %s\n", out.IndexPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&docsPath, "docs", "", "Documentation JSON to export instead of the handoff's response path")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the export as JSON")
	return cmd
}

func newHandoffSchemaCommand() *cobra.Command {
	var variantName string

	cmd := &cobra.Command{
		Use:         "schema",
		Short:       "Print the JSON schema for the agent's answer",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			variant, err := parseVariantFlag(variantName)
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), handoff.SchemaFor(variant))
			return err
		},
	}

	cmd.Flags().StringVar(&variantName, "variant", "article", "Handoff variant: article or docs")
	return cmd
}

func printReview(out io.Writer, docPath string, review handoff.Review) {
	fmt.Fprintf(out, "Handoff:     %s\n", docPath)
	fmt.Fprintf(out, "Article:     %s\n", review.Path)
	fmt.Fprintf(out, "Title:       %s\n", review.Article.Title)
	fmt.Fprintf(out, "Body words:  %d (%d headings)\n", review.BodyWordCount, review.Headings)

	rows := make([][]string, 0, len(review.Article.KeyMoments))
	for _, moment := range review.Article.KeyMoments {
		rows = append(rows, []string{moment.Timestamp, moment.Description})
	}
	if len(rows) > 0 {
		fmt.Fprintln(out, renderTable([]string{"Timestamp", "Key moment"}, rows, []columnAlignment{alignRight, alignLeft}))
	}
	printNotes(out, "Article", review.Notes)
}

func printDocsReview(out io.Writer, docPath string, review handoff.DocsReview) {
	fmt.Fprintf(out, "Handoff:     %s\n", docPath)
	fmt.Fprintf(out, "Docs:        %s\n", review.Path)
	fmt.Fprintf(out, "Topic:       %s\n", review.Docs.MainTopic)

	rows := make([][]string, 0, len(review.Pages))
	for _, page := range review.Pages {
		rows = append(rows, []string{page.PageID, page.Title, strconv.Itoa(page.Words), strconv.Itoa(page.KeyMoments)})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Page", "Title", "Words", "Moments"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight},
	))
	printNotes(out, "Documentation", review.Notes)
}

func printNotes(out io.Writer, noun string, notes []string) {
	if len(notes) == 0 {
		fmt.Fprintf(out, "%s valid\n", noun)
		return
	}
	fmt.Fprintf(out, "%s valid with notes:\n", noun)
	for _, note := range notes {
		fmt.Fprintf(out, "  - %s\n", note)
	}
}
