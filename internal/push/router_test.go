package push

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"inkwell/internal/models"
	"inkwell/internal/store"
	"inkwell/internal/transport"
)

type fakeRefresher struct {
	calls   []string
	applied bool
}

func (f *fakeRefresher) MaybeRefresh(ctx context.Context, sessionID string) (bool, error) {
	f.calls = append(f.calls, sessionID)
	return f.applied, nil
}

func statusEvent(sessionID, status, details string) models.PushEvent {
	payload, _ := json.Marshal(models.StatusPayload{Status: status, Details: details})
	return models.PushEvent{Type: models.EventStatus, SessionID: sessionID, Payload: payload}
}

func newRouterEnv(active string, applied bool, resetDelay time.Duration) (*Router, *store.Store, *store.Notifier, *fakeRefresher) {
	st := store.New(transport.New("http://unused", "", time.Second), time.Minute)
	notifier := store.NewNotifier()
	refresher := &fakeRefresher{applied: applied}
	router := NewRouter(st, notifier, refresher, func() string { return active }, resetDelay)
	return router, st, notifier, refresher
}

func TestStatusEventsApplyInOrder(t *testing.T) {
	router, st, _, _ := newRouterEnv("s1", true, time.Second)

	router.Handle(statusEvent("s1", "searching", "3 sources"))
	router.Handle(statusEvent("s1", "drafting", ""))

	if got := st.SessionStatus("s1"); got != "drafting" {
		t.Errorf("status = %q, want drafting", got)
	}
}

func TestCompleteStatusResetsAfterDelay(t *testing.T) {
	router, st, _, _ := newRouterEnv("s1", true, 20*time.Millisecond)

	router.Handle(statusEvent("s1", "complete", ""))
	if got := st.SessionStatus("s1"); got != "complete" {
		t.Fatalf("status = %q before delay, want complete", got)
	}

	time.Sleep(60 * time.Millisecond)
	if got := st.SessionStatus("s1"); got != "" {
		t.Errorf("status = %q after delay, want idle", got)
	}
}

func TestDelayedResetDroppedWhenSuperseded(t *testing.T) {
	router, st, _, _ := newRouterEnv("s1", true, 20*time.Millisecond)

	router.Handle(statusEvent("s1", "complete", ""))
	router.Handle(statusEvent("s1", "revising", "new instructions"))

	time.Sleep(60 * time.Millisecond)
	if got := st.SessionStatus("s1"); got != "revising: new instructions" {
		t.Errorf("status = %q, reset stomped a newer status", got)
	}
}

func TestDraftUpdateNotifiesOnlyActiveSession(t *testing.T) {
	router, _, notifier, refresher := newRouterEnv("s-active", true, time.Second)

	var notes int
	notifier.Subscribe(store.NotifyDraftRefreshed, func(store.Notification) { notes++ })

	router.Handle(models.PushEvent{Type: models.EventDraftUpdated, SessionID: "s-stale"})
	router.Handle(models.PushEvent{Type: models.EventDraftUpdated, SessionID: "s-active"})

	// Both sessions refresh store state; only the active one may drive UI.
	if len(refresher.calls) != 2 {
		t.Fatalf("refresh calls = %d, want 2", len(refresher.calls))
	}
	if notes != 1 {
		t.Errorf("notifications = %d, want 1 (active session only)", notes)
	}
}

func TestSuppressedDraftUpdateDoesNotNotify(t *testing.T) {
	router, _, notifier, _ := newRouterEnv("s1", false, time.Second)

	var notes int
	notifier.Subscribe(store.NotifyDraftRefreshed, func(store.Notification) { notes++ })

	router.Handle(models.PushEvent{Type: models.EventDraftUpdated, SessionID: "s1"})
	if notes != 0 {
		t.Errorf("suppressed refresh must not notify, got %d", notes)
	}
}

func TestTitleEventUpdatesConversationAndNotifies(t *testing.T) {
	router, st, notifier, _ := newRouterEnv("s1", true, time.Second)
	st.UpsertSession(&models.WritingSession{ID: "s1", ConversationID: "c1"})
	st.Upsert(&models.Conversation{ID: "c1", Loaded: true})

	var got []string
	notifier.Subscribe(store.NotifyTitleChanged, func(n store.Notification) {
		got = append(got, n.Title)
	})

	payload, _ := json.Marshal(models.TitlePayload{Title: "A better title"})
	router.Handle(models.PushEvent{Type: models.EventTitleUpdated, SessionID: "s1", Payload: payload})

	if st.Conversation("c1").Title != "A better title" {
		t.Errorf("conversation title = %q", st.Conversation("c1").Title)
	}
	if len(got) != 1 || got[0] != "A better title" {
		t.Errorf("notification = %v", got)
	}
}

func TestStatsEventBroadcastsFigures(t *testing.T) {
	router, _, notifier, _ := newRouterEnv("s1", true, time.Second)

	var stats *models.UsageStats
	notifier.Subscribe(store.NotifyStatsUpdated, func(n store.Notification) { stats = n.Stats })

	payload, _ := json.Marshal(models.StatsPayload{
		Stats: models.UsageStats{SessionID: "s1", InputTokens: 120, OutputTokens: 80, Cost: 0.42},
	})
	router.Handle(models.PushEvent{Type: models.EventStatsUpdated, SessionID: "s1", Payload: payload})

	if stats == nil || stats.InputTokens != 120 || stats.Cost != 0.42 {
		t.Errorf("stats = %+v", stats)
	}
}
