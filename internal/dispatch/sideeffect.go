package dispatch

import (
	"context"
	"fmt"

	"inkwell/internal/models"
	"inkwell/internal/store"
)

// SideEffectKind is the closed set of side-channel instructions the chat
// endpoint can attach to a reply. Adding a kind means extending the switch
// in applySideEffect; the compiler and the default-case error keep the set
// honest.
type SideEffectKind int

const (
	SideEffectStart SideEffectKind = iota
	SideEffectRefine
	SideEffectApprove
)

// parseSideEffect maps the wire tag onto the variant. Unknown tags are an
// error, not a silent no-op.
func parseSideEffect(wire string) (SideEffectKind, error) {
	switch wire {
	case models.SideEffectStartMission:
		return SideEffectStart, nil
	case models.SideEffectRefineMission:
		return SideEffectRefine, nil
	case models.SideEffectApproveMission:
		return SideEffectApprove, nil
	}
	return 0, fmt.Errorf("unknown side effect %q", wire)
}

// applySideEffect executes the instruction attached to a chat reply.
func (d *Dispatcher) applySideEffect(ctx context.Context, conversationID string, resp *models.ChatTurnResponse) error {
	kind, err := parseSideEffect(resp.SideEffect)
	if err != nil {
		return err
	}

	switch kind {
	case SideEffectStart:
		if resp.MissionID == "" {
			return fmt.Errorf("start instruction without mission id")
		}
		d.store.AssociateMission(conversationID, resp.MissionID)
		// The UI reveals the mission panel and kicks off question
		// generation from this notification, but only for the active
		// conversation, so a stale completion cannot pop panels.
		active := d.store.ActiveConversation()
		if active != nil && active.ID == conversationID {
			d.notifier.Publish(store.Notification{
				Kind:           store.NotifyMissionStarted,
				ConversationID: conversationID,
				MissionID:      resp.MissionID,
			})
		}
		return nil

	case SideEffectRefine:
		if resp.MissionID == "" {
			return fmt.Errorf("refine instruction without mission id")
		}
		return d.client.RefineMission(ctx, resp.MissionID, resp.Reply)

	case SideEffectApprove:
		if resp.MissionID == "" {
			return fmt.Errorf("approve instruction without mission id")
		}
		if err := d.client.ApproveMission(ctx, resp.MissionID); err != nil {
			return err
		}
		// Re-poll immediately so the UI reflects the transition without
		// waiting for the next poll interval.
		_, err := d.PollMission(ctx, conversationID, resp.MissionID)
		return err
	}
	return nil
}

// PollMission fetches current mission state and folds it into the store.
func (d *Dispatcher) PollMission(ctx context.Context, conversationID, missionID string) (*models.Mission, error) {
	mission, err := d.client.GetMission(ctx, missionID)
	if err != nil {
		return nil, fmt.Errorf("failed to poll mission %s: %w", missionID, err)
	}
	d.store.AssociateMission(conversationID, mission.ID)
	return mission, nil
}
