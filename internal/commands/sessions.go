package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// SessionsCmd opens a writing session for a conversation and shows its
// draft and usage.
var SessionsCmd = &cobra.Command{
	Use:   "session <conversation-id>",
	Short: "Open a conversation's writing session",
	Long: `Open (creating if needed) the writing session for a conversation and
print its draft, references, and usage statistics.`,
	Args: cobra.ExactArgs(1),
	RunE: runSession,
}

func runSession(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	sess, err := a.sessions.Switch(ctx, args[0])
	if err != nil {
		return err
	}
	defer a.sessions.Close(context.Background())

	fmt.Printf("Session %s (conversation %s)\n", sess.ID, sess.ConversationID)

	if d := a.store.Draft(sess.ID); d != nil {
		fmt.Printf("\n# %s (revision %d)\n\n%s\n", d.Title, d.Revision, d.Content)
		if len(d.References) > 0 {
			fmt.Println("\nReferences:")
			for _, r := range d.References {
				fmt.Printf("  [%d] %s %s\n", r.Position, r.Title, r.URL)
			}
		}
	}

	if stats, err := a.client.GetUsage(ctx, sess.ID); err == nil {
		fmt.Printf("\nUsage: %d in / %d out tokens, $%.4f\n",
			stats.InputTokens, stats.OutputTokens, stats.Cost)
	}

	return nil
}
