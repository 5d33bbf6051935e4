package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

// ScoredItem represents a scored match in a semantic search response.
type ScoredItem struct {
	Score float64 `json:"score"`
	Fact  *struct {
		ID      string `json:"id"`
		Content string `json:"content"`
	} `json:"fact,omitempty"`
}

// MemoryCmd creates the memory command group.
func MemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Query and maintain shared conversation memory",
	}

	cmd.AddCommand(memoryShowCmd())
	cmd.AddCommand(memorySearchCmd())
	cmd.AddCommand(memoryRelevantCmd())
	cmd.AddCommand(memoryExtractCmd())
	cmd.AddCommand(memoryStatsCmd())
	cmd.AddCommand(memoryCleanupCmd())

	return cmd
}

func memoryShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Show the full shared memory snapshot for a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}

			resp, err := api.Get("/conversations/" + url.PathEscape(args[0]) + "/memory")
			if err != nil {
				return fmt.Errorf("failed to fetch memory: %w", err)
			}

			return printData(resp.Data)
		},
	}

	return cmd
}

func memorySearchCmd() *cobra.Command {
	var (
		searchType string
		limit      int
		semantic   bool
		minSim     float64
	)

	cmd := &cobra.Command{
		Use:   "search <conversation-id> <query>",
		Short: "Search conversation memory",
		Long:  "Searches memory by substring match, or by embedding similarity with --semantic.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}

			base := "/conversations/" + url.PathEscape(args[0]) + "/memory"
			var resp *APIResponse
			if semantic {
				resp, err = api.Post(base+"/semantic-search", map[string]interface{}{
					"query":          args[1],
					"type":           searchType,
					"limit":          limit,
					"min_similarity": minSim,
				})
			} else {
				resp, err = api.Post(base+"/search", map[string]interface{}{
					"query": args[1],
					"type":  searchType,
					"limit": limit,
				})
			}
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}

			if outputJSON {
				return printData(resp.Data)
			}

			var result struct {
				Facts []struct {
					Fact struct {
						ID      string `json:"id"`
						Content string `json:"content"`
					} `json:"fact"`
					Score float64 `json:"score"`
				} `json:"facts"`
				TotalCount int `json:"total_count"`
			}
			if err := json.Unmarshal(resp.Data, &result); err != nil {
				return printData(resp.Data)
			}

			if len(result.Facts) == 0 {
				fmt.Println("No results found.")
				return nil
			}
			for i, f := range result.Facts {
				fmt.Printf("%d. %s (%.2f)\n", i+1, f.Fact.Content, f.Score)
				fmt.Printf("   ID: %s\n", f.Fact.ID)
				if i < len(result.Facts)-1 {
					fmt.Println(strings.Repeat("-", 40))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&searchType, "type", "t", "all", "Search type (facts, summaries, relationships, all)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().BoolVar(&semantic, "semantic", false, "Use embedding similarity instead of substring match")
	cmd.Flags().Float64Var(&minSim, "min-similarity", 0, "Minimum cosine similarity (semantic only)")

	return cmd
}

func memoryRelevantCmd() *cobra.Command {
	var maxTokens int

	cmd := &cobra.Command{
		Use:   "relevant <conversation-id> <message>",
		Short: "Assemble a token-budgeted context block for a message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}

			resp, err := api.Post("/conversations/"+url.PathEscape(args[0])+"/memory/relevant", map[string]interface{}{
				"message":    args[1],
				"max_tokens": maxTokens,
			})
			if err != nil {
				return fmt.Errorf("failed to fetch relevant memory: %w", err)
			}

			if outputJSON {
				return printData(resp.Data)
			}

			var result struct {
				Context    string `json:"context"`
				TokenCount int    `json:"token_count"`
			}
			if err := json.Unmarshal(resp.Data, &result); err != nil {
				return printData(resp.Data)
			}
			if result.Context == "" {
				fmt.Println("No relevant memory found.")
				return nil
			}
			fmt.Println(result.Context)
			fmt.Printf("(%d tokens)\n", result.TokenCount)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxTokens, "max-tokens", 1000, "Token budget for the assembled context")

	return cmd
}

func memoryExtractCmd() *cobra.Command {
	var (
		extractType string
		source      string
	)

	cmd := &cobra.Command{
		Use:   "extract <conversation-id> <message...>",
		Short: "Extract and store facts, relationships and a summary from messages",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}

			messages := make([]map[string]string, 0, len(args)-1)
			for _, m := range args[1:] {
				messages = append(messages, map[string]string{
					"content": m,
					"sender":  source,
				})
			}

			resp, err := api.Post("/conversations/"+url.PathEscape(args[0])+"/memory/extract", map[string]interface{}{
				"type":     extractType,
				"source":   source,
				"messages": messages,
			})
			if err != nil {
				return fmt.Errorf("extraction failed: %w", err)
			}

			if outputJSON {
				return printData(resp.Data)
			}

			var result struct {
				FactsAdded         int     `json:"facts_added"`
				RelationshipsAdded int     `json:"relationships_added"`
				SummaryAdded       bool    `json:"summary_added"`
				Confidence         float64 `json:"confidence"`
			}
			if err := json.Unmarshal(resp.Data, &result); err != nil {
				return printData(resp.Data)
			}
			fmt.Printf("Extracted: %d facts, %d relationships, summary=%v (confidence %.2f)\n",
				result.FactsAdded, result.RelationshipsAdded, result.SummaryAdded, result.Confidence)
			return nil
		},
	}

	cmd.Flags().StringVarP(&extractType, "type", "t", "all", "Extraction type (facts, relationships, summary, all)")
	cmd.Flags().StringVarP(&source, "source", "s", "cli", "Source attributed to the extracted items")

	return cmd
}

func memoryStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats <conversation-id>",
		Short: "Show memory statistics for a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}

			resp, err := api.Get("/conversations/" + url.PathEscape(args[0]) + "/memory/stats")
			if err != nil {
				return fmt.Errorf("failed to fetch stats: %w", err)
			}

			return printData(resp.Data)
		},
	}

	return cmd
}

func memoryCleanupCmd() *cobra.Command {
	var retentionDays int

	cmd := &cobra.Command{
		Use:   "cleanup <conversation-id>",
		Short: "Delete memory items older than the retention window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}

			resp, err := api.Post("/conversations/"+url.PathEscape(args[0])+"/memory/cleanup", map[string]interface{}{
				"retention_days": retentionDays,
			})
			if err != nil {
				return fmt.Errorf("cleanup failed: %w", err)
			}

			if outputJSON {
				return printData(resp.Data)
			}

			var result struct {
				FactsDeleted         int `json:"facts_deleted"`
				SummariesDeleted     int `json:"summaries_deleted"`
				RelationshipsDeleted int `json:"relationships_deleted"`
			}
			if err := json.Unmarshal(resp.Data, &result); err != nil {
				return printData(resp.Data)
			}
			fmt.Printf("Deleted %d facts, %d summaries, %d relationships\n",
				result.FactsDeleted, result.SummariesDeleted, result.RelationshipsDeleted)
			return nil
		},
	}

	cmd.Flags().IntVar(&retentionDays, "retention-days", 30, "Delete items older than this many days")

	return cmd
}
