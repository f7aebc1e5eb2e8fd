package dispatch

import (
	"context"
	"fmt"

	"inkwell/internal/models"
)

// Regenerate deletes the assistant message with the given id plus
// everything after it, then re-runs the turn for the user message that
// preceded it. The user message stays in place, so regenerating N times
// leaves exactly one user/assistant pair at that position. Timeout
// reconciliation applies to the re-issued turn exactly as to a fresh send.
func (d *Dispatcher) Regenerate(ctx context.Context, conversationID, messageID string) (*models.Message, error) {
	conv := d.store.Conversation(conversationID)
	if conv == nil || !conv.Loaded {
		return nil, fmt.Errorf("conversation %s is not loaded", conversationID)
	}

	idx := -1
	for i := range conv.Messages {
		if conv.Messages[i].ID == messageID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, fmt.Errorf("message %s not found in conversation %s", messageID, conversationID)
	}
	if conv.Messages[idx].Role != models.RoleAssistant {
		return nil, fmt.Errorf("message %s is not an assistant reply", messageID)
	}

	var prompt string
	for i := idx - 1; i >= 0; i-- {
		if conv.Messages[i].Role == models.RoleUser {
			prompt = conv.Messages[i].Content
			break
		}
	}
	if prompt == "" {
		return nil, fmt.Errorf("no user message precedes %s", messageID)
	}

	if err := d.acquire(conversationID); err != nil {
		return nil, err
	}
	defer d.release(conversationID)

	d.store.SetBusy(conversationID, true)
	defer d.store.SetBusy(conversationID, false)

	// Remote delete first; only a confirmed delete mutates local state, so
	// a failed delete can never leave the local list ahead of the server.
	if err := d.client.DeleteMessageTail(ctx, conversationID, messageID); err != nil {
		d.notifyError(conversationID, ErrCodeBackend, err)
		return nil, err
	}
	d.store.RemoveMessagesFrom(conversationID, messageID)

	return d.turn(ctx, conversationID, prompt)
}

// Clear deletes every message in a conversation, remotely then locally.
func (d *Dispatcher) Clear(ctx context.Context, conversationID string) error {
	if err := d.acquire(conversationID); err != nil {
		return err
	}
	defer d.release(conversationID)

	if err := d.client.ClearMessages(ctx, conversationID); err != nil {
		d.notifyError(conversationID, ErrCodeBackend, err)
		return err
	}
	conv := d.store.Conversation(conversationID)
	if conv != nil && len(conv.Messages) > 0 {
		d.store.RemoveMessagesFrom(conversationID, conv.Messages[0].ID)
	}
	return nil
}
