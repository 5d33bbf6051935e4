package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

// Fact represents a memory fact as returned by the API.
type Fact struct {
	ID             string   `json:"id"`
	ConversationID string   `json:"conversation_id"`
	Content        string   `json:"content"`
	Source         string   `json:"source"`
	Timestamp      string   `json:"timestamp"`
	RelevanceScore float64  `json:"relevance_score"`
	Tags           []string `json:"tags,omitempty"`
	Verified       bool     `json:"verified"`
	HasEmbedding   bool     `json:"has_embedding"`
}

// FactPage represents a page of facts with pagination info.
type FactPage struct {
	Items      []Fact `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// FactCmd creates the fact command group.
func FactCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fact",
		Short: "Manage memory facts",
	}

	cmd.AddCommand(factAddCmd())
	cmd.AddCommand(factListCmd())
	cmd.AddCommand(factUpdateCmd())
	cmd.AddCommand(factDeleteCmd())

	return cmd
}

func factAddCmd() *cobra.Command {
	var (
		source    string
		tags      []string
		relevance float64
	)

	cmd := &cobra.Command{
		Use:   "add <conversation-id> <content>",
		Short: "Add a fact to a conversation's memory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}

			req := map[string]interface{}{
				"content":         args[1],
				"source":          source,
				"relevance_score": relevance,
			}
			if len(tags) > 0 {
				req["tags"] = tags
			}

			resp, err := api.Post("/conversations/"+url.PathEscape(args[0])+"/facts", req)
			if err != nil {
				return fmt.Errorf("failed to add fact: %w", err)
			}

			var fact Fact
			if err := json.Unmarshal(resp.Data, &fact); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			if outputJSON {
				return printData(resp.Data)
			}
			fmt.Printf("Added fact: %s\n", fact.ID)
			if !fact.HasEmbedding {
				fmt.Println("Embedding pending (queued for backfill).")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&source, "source", "s", "cli", "Source model or agent that produced the fact")
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "Tag to attach (repeatable)")
	cmd.Flags().Float64Var(&relevance, "relevance", 0.5, "Initial relevance score [0,1]")

	return cmd
}

func factListCmd() *cobra.Command {
	var (
		limit  int
		cursor string
	)

	cmd := &cobra.Command{
		Use:   "list <conversation-id>",
		Short: "List facts for a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}

			path := fmt.Sprintf("/conversations/%s/facts?limit=%d", url.PathEscape(args[0]), limit)
			if cursor != "" {
				path += "&cursor=" + url.QueryEscape(cursor)
			}

			resp, err := api.Get(path)
			if err != nil {
				return fmt.Errorf("failed to list facts: %w", err)
			}

			if outputJSON {
				return printData(resp.Data)
			}

			var page FactPage
			if err := json.Unmarshal(resp.Data, &page); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			if len(page.Items) == 0 {
				fmt.Println("No facts found.")
				return nil
			}

			for i, f := range page.Items {
				fmt.Printf("%d. %s (%.2f)\n", i+1, f.Content, f.RelevanceScore)
				fmt.Printf("   ID: %s  Source: %s\n", f.ID, f.Source)
				if len(f.Tags) > 0 {
					fmt.Printf("   Tags: %s\n", strings.Join(f.Tags, ", "))
				}
			}
			if page.HasMore && page.NextCursor != "" {
				fmt.Printf("\nMore results available. Use --cursor %s\n", page.NextCursor)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of facts")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Pagination cursor from previous response")

	return cmd
}

func factUpdateCmd() *cobra.Command {
	var (
		content   string
		relevance float64
		tags      []string
		verified  bool
	)

	cmd := &cobra.Command{
		Use:   "update <fact-id>",
		Short: "Update a fact's content, relevance, tags or verified flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}

			req := map[string]interface{}{}
			if cmd.Flags().Changed("content") {
				req["content"] = content
			}
			if cmd.Flags().Changed("relevance") {
				req["relevance_score"] = relevance
			}
			if cmd.Flags().Changed("tag") {
				req["tags"] = tags
			}
			if cmd.Flags().Changed("verified") {
				req["verified"] = verified
			}
			if len(req) == 0 {
				return fmt.Errorf("no fields to update")
			}

			resp, err := api.Patch("/facts/"+url.PathEscape(args[0]), req)
			if err != nil {
				return fmt.Errorf("failed to update fact: %w", err)
			}

			if outputJSON {
				return printData(resp.Data)
			}
			fmt.Printf("Updated fact: %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&content, "content", "", "New content")
	cmd.Flags().Float64Var(&relevance, "relevance", 0, "New relevance score [0,1]")
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "Replacement tag set (repeatable)")
	cmd.Flags().BoolVar(&verified, "verified", false, "Mark the fact as verified")

	return cmd
}

func factDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <fact-id>",
		Short: "Delete a fact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}

			if _, err := api.Delete("/facts/" + url.PathEscape(args[0])); err != nil {
				return fmt.Errorf("failed to delete fact: %w", err)
			}

			fmt.Printf("Deleted fact: %s\n", args[0])
			return nil
		},
	}

	return cmd
}
