package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Inspect stored documents",
	Long:  `List documents in a run, show one document, or list chunking skips.`,
}

var docsListCmd = &cobra.Command{
	Use:   "list [run-id]",
	Short: "List documents for a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocsList,
}

var docsGetCmd = &cobra.Command{
	Use:   "get [doc-id]",
	Short: "Show document metadata",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocsGet,
}

var docsSkipsCmd = &cobra.Command{
	Use:   "skips [run-id]",
	Short: "List documents skipped during chunking",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocsSkips,
}

func init() {
	docsCmd.AddCommand(docsListCmd)
	docsCmd.AddCommand(docsGetCmd)
	docsCmd.AddCommand(docsSkipsCmd)
	rootCmd.AddCommand(docsCmd)
}

func runDocsList(cmd *cobra.Command, args []string) error {
	if documentStore == nil {
		return errors.New("document store not configured")
	}

	docs, err := documentStore.ListDocuments(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		cmd.Println("No documents found.")
		return nil
	}

	for _, doc := range docs {
		cmd.Printf("%s  [%s/%s]  %s\n", doc.DocID, doc.Space, doc.DocClass, doc.Title)
	}
	return nil
}

func runDocsGet(cmd *cobra.Command, args []string) error {
	if documentStore == nil {
		return errors.New("document store not configured")
	}

	doc, err := documentStore.GetDocument(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("get document: %w", err)
	}

	cmd.Printf("ID:      %s\n", doc.DocID)
	cmd.Printf("Title:   %s\n", doc.Title)
	cmd.Printf("URL:     %s\n", doc.URL)
	cmd.Printf("Source:  %s\n", doc.SourceSystem)
	cmd.Printf("Space:   %s\n", doc.Space)
	cmd.Printf("Class:   %s\n", doc.DocClass)
	cmd.Printf("Run:     %s\n", doc.RunID)
	cmd.Printf("Length:  %d chars, %d sections\n", len(doc.BodyText), len(doc.Sections))
	return nil
}

func runDocsSkips(cmd *cobra.Command, args []string) error {
	if documentStore == nil {
		return errors.New("document store not configured")
	}

	skips, err := documentStore.ListSkips(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(skips) == 0 {
		cmd.Println("No skips recorded.")
		return nil
	}

	for _, skip := range skips {
		cmd.Printf("%s: %s\n", skip.DocID, skip.Reason)
	}
	return nil
}
