package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var listQuery string

// ConversationsCmd lists conversations, one page at a time.
var ConversationsCmd = &cobra.Command{
	Use:   "conversations [page]",
	Short: "List conversations",
	Long:  `Display one page of conversation summaries, newest first.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConversations,
}

func init() {
	ConversationsCmd.Flags().StringVarP(&listQuery, "query", "q", "", "Free-text search filter")
}

func runConversations(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	page := 1
	if len(args) == 1 {
		if _, err := fmt.Sscanf(args[0], "%d", &page); err != nil {
			return fmt.Errorf("invalid page %q", args[0])
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conversations, err := a.store.LoadAll(ctx, page, a.cfg.PageSize, listQuery)
	if err != nil {
		return err
	}
	if len(conversations) == 0 {
		fmt.Println("No conversations yet. Start one with: inkwell-cli chat")
		return nil
	}

	for i, c := range conversations {
		title := c.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%d. %s\n", i+1, title)
		fmt.Printf("   id: %s  updated: %s\n", c.ID, c.UpdatedAt.Format(time.RFC3339))
		if c.MissionID != "" {
			fmt.Printf("   mission: %s\n", c.MissionID)
		}
	}

	cur, totalPages, total := a.store.PageInfo()
	fmt.Printf("\nPage %d of %d (%d conversations)\n", cur, totalPages, total)
	return nil
}
