package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lodestone-kb/lodestone/internal/core/domain"
)

var (
	searchLimit   int
	searchJSON    bool
	searchSpaces  []string
	searchExpand  bool
	searchContext bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the knowledge base",
	Long: `Performs hybrid retrieval over stored chunks. Dense (vector) and
BM25 (lexical) candidates run in parallel and are merged with
reciprocal rank fusion; every hit carries its source title and URL.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum number of results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	searchCmd.Flags().StringSliceVar(&searchSpaces, "spaces", nil, "restrict results to these content spaces")
	searchCmd.Flags().BoolVar(&searchExpand, "expand", false, "run the domain query classifier")
	searchCmd.Flags().BoolVar(&searchContext, "context", false, "print packed context instead of a hit list")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	if retrievalService == nil {
		return errors.New("retrieval service not configured")
	}

	req := searchRequest(args[0])
	result, err := retrievalService.Retrieve(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	if searchContext {
		cmd.Println(result.Context)
		return nil
	}
	return outputSearchTable(cmd, result)
}

// searchRequest maps configuration defaults and flags onto a request.
// Flags win when set.
func searchRequest(query string) domain.RetrievalRequest {
	r := cfg.Retrieval
	req := domain.RetrievalRequest{
		QueryText:           query,
		TopK:                r.TopK,
		Provider:            cfg.Embedding.Provider,
		HybridEnabled:       r.Hybrid,
		RRFK:                r.RRFK,
		TopKDense:           r.LegTopK,
		TopKBM25:            r.LegTopK,
		BoostsEnabled:       r.BoostsEnabled,
		DomainFilterEnabled: r.DomainFilter,
		SpaceWhitelist:      r.SpaceWhitelist,
		MaxPerDoc:           r.MaxPerDoc,
	}

	if searchLimit > 0 {
		req.TopK = searchLimit
	}
	if len(searchSpaces) > 0 {
		req.SpaceWhitelist = searchSpaces
	}
	if searchExpand {
		req.DomainFilterEnabled = true
	}
	if searchContext {
		req.Budgets = r.ContextBudgets
		if len(req.Budgets) == 0 {
			req.Budgets = []int{1200, 800, 600}
		}
	}
	return req
}

func outputSearchTable(cmd *cobra.Command, result *domain.RetrievalResult) error {
	if len(result.Hits) == 0 {
		cmd.Println("No results found.")
		return nil
	}

	if result.ExpandedQuery != "" {
		cmd.Printf("Query expanded to: %s\n", result.ExpandedQuery)
	}
	cmd.Println("Results:")
	cmd.Println()
	for i, hit := range result.Hits {
		cmd.Printf("[%d] %s (%.4f)\n", i+1, hit.Title, hit.FusedScore)
		cmd.Printf("    %s\n", hit.URL)
		if hit.Snippet != "" {
			cmd.Printf("    %s\n", hit.Snippet)
		}
		cmd.Println()
	}
	return nil
}
