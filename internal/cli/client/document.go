package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// DocumentInfo represents an indexed document as returned by the API.
type DocumentInfo struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Path     string   `json:"path"`
	Type     string   `json:"type"`
	Size     int64    `json:"size"`
	Keywords []string `json:"keywords,omitempty"`
	Summary  string   `json:"summary,omitempty"`
}

// DocumentCmd creates the document command group.
func DocumentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "document",
		Short: "Manage the knowledge base document index",
	}

	cmd.AddCommand(documentAddCmd())
	cmd.AddCommand(documentListCmd())
	cmd.AddCommand(documentRemoveCmd())
	cmd.AddCommand(documentQueryCmd())

	return cmd
}

func documentAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <path...>",
		Short: "Index one or more files into the knowledge base",
		Long:  "Paths are resolved on the server side, so they must be absolute or relative to the server's working directory.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}

			var failed int
			for _, path := range args {
				abs, err := filepath.Abs(path)
				if err != nil {
					abs = path
				}

				resp, err := api.Post("/documents", map[string]string{"path": abs})
				if err != nil {
					fmt.Printf("failed to index %s: %v\n", path, err)
					failed++
					continue
				}

				if outputJSON {
					if err := printData(resp.Data); err != nil {
						return err
					}
					continue
				}

				var doc DocumentInfo
				if err := json.Unmarshal(resp.Data, &doc); err != nil {
					return fmt.Errorf("failed to parse response: %w", err)
				}
				fmt.Printf("Indexed %s (%s, %d bytes) as %s\n", doc.Name, doc.Type, doc.Size, doc.ID)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d documents failed", failed, len(args))
			}
			return nil
		},
	}

	return cmd
}

func documentListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List indexed documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}

			resp, err := api.Get("/documents")
			if err != nil {
				return fmt.Errorf("failed to list documents: %w", err)
			}

			if outputJSON {
				return printData(resp.Data)
			}

			var docs []DocumentInfo
			if err := json.Unmarshal(resp.Data, &docs); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			if len(docs) == 0 {
				fmt.Println("No documents indexed.")
				return nil
			}
			for _, d := range docs {
				fmt.Printf("%s  %-8s  %s\n", d.ID, d.Type, d.Path)
			}
			return nil
		},
	}

	return cmd
}

func documentRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <document-id>",
		Short: "Remove a document and its chunks from the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}

			if _, err := api.Delete("/documents/" + url.PathEscape(args[0])); err != nil {
				return fmt.Errorf("failed to remove document: %w", err)
			}

			fmt.Printf("Removed document: %s\n", args[0])
			return nil
		},
	}

	return cmd
}

func documentQueryCmd() *cobra.Command {
	var (
		maxTokens int
		minScore  float64
		fileTypes []string
		limit     int
		hybrid    bool
		keywords  []string
	)

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Query the knowledge base",
		Long:  "Assembles a token-budgeted context block from the most relevant document chunks. With --hybrid, returns scored chunks blending similarity with keyword matches.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}

			if hybrid {
				resp, err := api.Post("/documents/hybrid-search", map[string]interface{}{
					"query":    args[0],
					"keywords": keywords,
				})
				if err != nil {
					return fmt.Errorf("hybrid search failed: %w", err)
				}
				if outputJSON {
					return printData(resp.Data)
				}

				var chunks []struct {
					DocumentID string  `json:"document_id"`
					Content    string  `json:"content"`
					Section    string  `json:"section"`
					Score      float64 `json:"score"`
				}
				if err := json.Unmarshal(resp.Data, &chunks); err != nil {
					return printData(resp.Data)
				}
				if len(chunks) == 0 {
					fmt.Println("No results found.")
					return nil
				}
				for i, c := range chunks {
					snippet := c.Content
					if len(snippet) > 120 {
						snippet = snippet[:117] + "..."
					}
					fmt.Printf("%d. (%.2f) %s\n", i+1, c.Score, snippet)
					if c.Section != "" {
						fmt.Printf("   Section: %s\n", c.Section)
					}
					if i < len(chunks)-1 {
						fmt.Println(strings.Repeat("-", 40))
					}
				}
				return nil
			}

			resp, err := api.Post("/documents/query", map[string]interface{}{
				"query":      args[0],
				"max_tokens": maxTokens,
				"min_score":  minScore,
				"file_types": fileTypes,
				"limit":      limit,
			})
			if err != nil {
				return fmt.Errorf("query failed: %w", err)
			}
			if outputJSON {
				return printData(resp.Data)
			}

			var result struct {
				Context    string `json:"context"`
				TokenCount int    `json:"token_count"`
				CacheHit   bool   `json:"cache_hit"`
				Sources    []struct {
					Path      string  `json:"path"`
					Section   string  `json:"section"`
					StartLine int     `json:"start_line"`
					EndLine   int     `json:"end_line"`
					Score     float64 `json:"score"`
				} `json:"sources"`
			}
			if err := json.Unmarshal(resp.Data, &result); err != nil {
				return printData(resp.Data)
			}

			if result.Context == "" {
				fmt.Println("No relevant content found.")
				return nil
			}
			fmt.Println(result.Context)
			fmt.Printf("\nSources (%d tokens", result.TokenCount)
			if result.CacheHit {
				fmt.Printf(", cached")
			}
			fmt.Println("):")
			for _, s := range result.Sources {
				fmt.Printf("  %s:%d-%d (%.2f)\n", s.Path, s.StartLine, s.EndLine, s.Score)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&maxTokens, "max-tokens", 2000, "Token budget for the assembled context")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "Minimum relevance score")
	cmd.Flags().StringSliceVar(&fileTypes, "type", nil, "Filter by document type (markdown, code, text)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of source chunks")
	cmd.Flags().BoolVar(&hybrid, "hybrid", false, "Use hybrid similarity plus keyword search")
	cmd.Flags().StringSliceVarP(&keywords, "keyword", "k", nil, "Keyword to boost (hybrid only, repeatable)")

	return cmd
}
