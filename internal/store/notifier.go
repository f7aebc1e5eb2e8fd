package store

import (
	"sync"

	"github.com/google/uuid"

	"inkwell/internal/models"
)

// UI-level notification kinds. These let list views and panels refresh
// without polling the store.
const (
	NotifyTitleChanged   = "title_changed"
	NotifyStatsUpdated   = "stats_updated"
	NotifyMissionStarted = "mission_started"
	NotifyDraftRefreshed = "draft_refreshed"
	NotifyError          = "error"
)

// Notification is one UI-level event.
type Notification struct {
	Kind           string
	ConversationID string
	SessionID      string
	Title          string
	Stats          *models.UsageStats
	MissionID      string
	Message        string
}

// NotificationHandler is a callback for UI-level notifications.
type NotificationHandler func(Notification)

// Notifier is the in-process publish/subscribe hub for UI-level events.
// Handlers run synchronously in publish order so subscribers observe
// events exactly as they were applied to the store.
type Notifier struct {
	mu       sync.RWMutex
	handlers map[string]map[string]NotificationHandler // kind -> subscription id -> handler
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{
		handlers: make(map[string]map[string]NotificationHandler),
	}
}

// Subscribe registers a handler for one notification kind and returns a
// subscription id for Unsubscribe.
func (n *Notifier) Subscribe(kind string, handler NotificationHandler) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.handlers[kind] == nil {
		n.handlers[kind] = make(map[string]NotificationHandler)
	}
	id := uuid.NewString()
	n.handlers[kind][id] = handler
	return id
}

// Unsubscribe removes a subscription. Unknown ids are a no-op.
func (n *Notifier) Unsubscribe(kind, id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.handlers[kind], id)
}

// Publish delivers a notification to every subscriber of its kind.
func (n *Notifier) Publish(note Notification) {
	n.mu.RLock()
	subs := make([]NotificationHandler, 0, len(n.handlers[note.Kind]))
	for _, h := range n.handlers[note.Kind] {
		subs = append(subs, h)
	}
	n.mu.RUnlock()

	for _, h := range subs {
		h(note)
	}
}
