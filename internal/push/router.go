package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"inkwell/internal/models"
	"inkwell/internal/store"
)

// DraftRefresher applies a background draft update unless an edit is in
// progress (see the draft package).
type DraftRefresher interface {
	MaybeRefresh(ctx context.Context, sessionID string) (bool, error)
}

// Router translates push events into store mutations. Events are applied
// in the order the channel delivers them. Events for a session the user is
// no longer viewing still mutate the store (switching back must show
// fresh state) but do not trigger UI side effects.
type Router struct {
	store      *store.Store
	notifier   *store.Notifier
	refresher  DraftRefresher
	resetDelay time.Duration

	// activeSession reports the session the UI is currently viewing, so
	// stale sessions cannot trigger visible side effects.
	activeSession func() string
}

// NewRouter wires a router. resetDelay is how long a terminal "complete"
// status lingers before the busy indicator resets to idle.
func NewRouter(st *store.Store, notifier *store.Notifier, refresher DraftRefresher, activeSession func() string, resetDelay time.Duration) *Router {
	return &Router{
		store:         st,
		notifier:      notifier,
		refresher:     refresher,
		resetDelay:    resetDelay,
		activeSession: activeSession,
	}
}

// Handle applies one event. Safe to use as a Channel's event handler.
func (r *Router) Handle(ev models.PushEvent) {
	switch ev.Type {
	case models.EventConnected:
		slog.Debug("push channel ready", "session_id", ev.SessionID)

	case models.EventStatus:
		r.handleStatus(ev)

	case models.EventDraftUpdated:
		r.handleDraftUpdated(ev)

	case models.EventTitleUpdated:
		r.handleTitleUpdated(ev)

	case models.EventStatsUpdated:
		r.handleStatsUpdated(ev)

	default:
		slog.Warn("unknown push event type", "type", ev.Type, "session_id", ev.SessionID)
	}
}

func (r *Router) handleStatus(ev models.PushEvent) {
	var payload models.StatusPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		slog.Warn("bad status payload", "session_id", ev.SessionID, "error", err)
		return
	}

	text := payload.Status
	if payload.Details != "" {
		text = payload.Status + ": " + payload.Details
	}
	seq := r.store.SetSessionStatus(ev.SessionID, text)

	// A terminal "complete" resets to idle after a short linger, but only
	// if no newer status arrived in the meantime.
	if strings.EqualFold(payload.Status, "complete") {
		sessionID := ev.SessionID
		time.AfterFunc(r.resetDelay, func() {
			r.store.ResetStatusIfCurrent(sessionID, seq)
		})
	}
}

func (r *Router) handleDraftUpdated(ev models.PushEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	applied, err := r.refresher.MaybeRefresh(ctx, ev.SessionID)
	if err != nil {
		slog.Warn("draft refresh failed", "session_id", ev.SessionID, "error", err)
		return
	}
	if applied && r.isActive(ev.SessionID) {
		r.notifier.Publish(store.Notification{
			Kind:      store.NotifyDraftRefreshed,
			SessionID: ev.SessionID,
		})
	}
}

func (r *Router) handleTitleUpdated(ev models.PushEvent) {
	var payload models.TitlePayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		slog.Warn("bad title payload", "session_id", ev.SessionID, "error", err)
		return
	}

	if session := r.store.Session(ev.SessionID); session != nil {
		r.store.SetTitle(session.ConversationID, payload.Title)
	}

	// List views refresh off this regardless of which session is active.
	r.notifier.Publish(store.Notification{
		Kind:      store.NotifyTitleChanged,
		SessionID: ev.SessionID,
		Title:     payload.Title,
	})
}

func (r *Router) handleStatsUpdated(ev models.PushEvent) {
	var payload models.StatsPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		slog.Warn("bad stats payload", "session_id", ev.SessionID, "error", err)
		return
	}

	r.notifier.Publish(store.Notification{
		Kind:      store.NotifyStatsUpdated,
		SessionID: ev.SessionID,
		Stats:     &payload.Stats,
	})
}

func (r *Router) isActive(sessionID string) bool {
	if r.activeSession == nil {
		return true
	}
	return r.activeSession() == sessionID
}
