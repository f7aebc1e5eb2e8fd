package dispatch

import (
	"context"
	"time"

	"inkwell/internal/logging"
	"inkwell/internal/models"
	"inkwell/internal/store"
)

// reconcile resolves an ambiguous transport timeout. The backend's budget
// is longer than the transport's, so "timed out" may mean "completed but
// the response never arrived". Re-query authoritative history before
// telling the user anything failed:
//
//  1. wait a grace period so backend-side persistence can settle,
//  2. re-fetch the conversation's authoritative message list,
//  3. compare the newest assistant message by content (the local state has
//     no backend id to compare against),
//  4. adopt a genuinely new reply as if it arrived normally, or surface a
//     "may still be processing" artifact whose code steers the UI toward
//     refresh, never retry-send (a retry would duplicate the request).
func (d *Dispatcher) reconcile(ctx context.Context, conversationID string, cause error) (*models.Message, error) {
	logger := logging.WithConversation(conversationID)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(d.grace):
	}

	authoritative, err := d.client.GetConversation(ctx, conversationID)
	if err != nil {
		logger.Warn("reconciliation fetch failed", "error", err)
		return nil, d.stillProcessing(conversationID, cause)
	}

	latest := authoritative.LastAssistantMessage()
	if latest == nil || !isNewAssistantReply(d.store.Conversation(conversationID), latest) {
		return nil, d.stillProcessing(conversationID, cause)
	}

	logger.Info("reconciliation adopted completed reply", "message_id", latest.ID)
	adopted := *latest
	d.store.AdoptMessage(conversationID, adopted)

	// The backend completed the turn, so its side effects (title included)
	// are authoritative too.
	if authoritative.Title != "" {
		d.store.SetTitle(conversationID, authoritative.Title)
	}
	if authoritative.MissionID != "" {
		d.store.AssociateMission(conversationID, authoritative.MissionID)
	}

	return &adopted, nil
}

// isNewAssistantReply reports whether latest is an assistant message not
// yet rendered locally. Compared by content: the local side has no backend
// id for a reply it never received.
func isNewAssistantReply(local *models.Conversation, latest *models.Message) bool {
	if local == nil {
		return true
	}
	for i := len(local.Messages) - 1; i >= 0; i-- {
		m := &local.Messages[i]
		if m.Role != models.RoleAssistant {
			continue
		}
		return m.Content != latest.Content
	}
	return true
}

// stillProcessing surfaces the distinguishing "may still be processing"
// artifact instead of a generic failure.
func (d *Dispatcher) stillProcessing(conversationID string, cause error) error {
	d.store.AppendLocalMessage(conversationID, models.RoleAssistant, stillProcessingGuidance)
	d.notifier.Publish(store.Notification{
		Kind:           store.NotifyError,
		ConversationID: conversationID,
		Message:        stillProcessingGuidance,
	})
	return &TurnError{Code: ErrCodeStillProcessing, Err: cause}
}
