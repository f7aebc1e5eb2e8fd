package models

import "encoding/json"

// Push event types delivered on the per-session channel.
const (
	EventConnected    = "connected"
	EventStatus       = "status"
	EventDraftUpdated = "draft_updated"
	EventTitleUpdated = "title_updated"
	EventStatsUpdated = "stats_updated"
)

// PushEvent is the wire envelope for the persistent push channel. Payload
// shape depends on Type.
type PushEvent struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// StatusPayload carries the human-readable progress line driving the busy
// indicator. Status "complete" schedules a delayed reset to idle.
type StatusPayload struct {
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
}

// TitlePayload carries an asynchronous server-side rename.
type TitlePayload struct {
	Title string `json:"title"`
}

// StatsPayload carries updated usage figures.
type StatsPayload struct {
	Stats UsageStats `json:"stats"`
}
