package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"inkwell/internal/dispatch"
	"inkwell/internal/models"
	"inkwell/internal/store"
)

var (
	chatConversationID string
	chatCollectionID   string
	chatWebSearch      bool
)

// ChatCmd runs an interactive console conversation against the backend.
var ChatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the research assistant",
	Long: `Start an interactive chat. A conversation is created lazily on the
first message; pass --conversation to continue an existing one.`,
	RunE: runChat,
}

func init() {
	ChatCmd.Flags().StringVarP(&chatConversationID, "conversation", "c", "", "Continue an existing conversation")
	ChatCmd.Flags().StringVar(&chatCollectionID, "collection", "", "Document collection to use as a source")
	ChatCmd.Flags().BoolVar(&chatWebSearch, "web", true, "Enable web search as a source")
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	defaults := models.ConversationSettings{
		CollectionID: chatCollectionID,
		WebSearch:    chatWebSearch,
	}
	dispatcher := dispatch.New(a.client, a.store, a.notifier, defaults, a.cfg.ReconcileGrace)

	a.notifier.Subscribe(store.NotifyTitleChanged, func(n store.Notification) {
		fmt.Printf("  (conversation renamed: %s)\n", n.Title)
	})
	a.notifier.Subscribe(store.NotifyMissionStarted, func(n store.Notification) {
		fmt.Printf("  (research mission %s started)\n", n.MissionID)
	})

	if chatConversationID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		conv, err := a.store.Activate(ctx, chatConversationID)
		cancel()
		if err != nil {
			return err
		}
		for _, m := range conv.Messages {
			printMessage(m)
		}
	}

	fmt.Println("Type a message and press enter. Ctrl-D to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.RequestTimeout+a.cfg.ReconcileGrace+30*time.Second)
		reply, err := dispatcher.Send(ctx, text)
		cancel()
		if err != nil {
			var turnErr *dispatch.TurnError
			if errors.As(err, &turnErr) {
				// The dispatcher already inserted the guidance bubble.
				if conv := a.store.ActiveConversation(); conv != nil && len(conv.Messages) > 0 {
					printMessage(conv.Messages[len(conv.Messages)-1])
				}
				continue
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		printMessage(*reply)
	}

	return scanner.Err()
}

func printMessage(m models.Message) {
	prefix := "you"
	if m.Role == models.RoleAssistant {
		prefix = "assistant"
	}
	fmt.Printf("[%s] %s\n", prefix, m.Content)
	for _, s := range m.Sources {
		fmt.Printf("    · %s %s\n", s.Title, s.URL)
	}
}
