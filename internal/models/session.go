package models

import "time"

// WritingSession is a conversation specialized for document co-authoring.
// Each session owns at most one draft; the draft is created lazily the
// first time the session is opened.
type WritingSession struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	CollectionID   string    `json:"collection_id,omitempty"`
	WebSearch      bool      `json:"web_search"`
	DraftID        string    `json:"draft_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Reference is a bibliography entry attached to a draft.
type Reference struct {
	ID       string `json:"id"`
	DraftID  string `json:"draft_id"`
	Title    string `json:"title"`
	URL      string `json:"url,omitempty"`
	Citation string `json:"citation,omitempty"`
	Position int    `json:"position"`
}

// Draft is the document body a session co-authors. It is mutated from two
// sides: explicit user edits saved on an edit-session boundary, and
// background regeneration pushed by the server. Revision increments on
// every persisted change so stale background updates are detectable.
type Draft struct {
	ID         string      `json:"id"`
	SessionID  string      `json:"session_id"`
	Title      string      `json:"title"`
	Content    string      `json:"content"`
	References []Reference `json:"references,omitempty"`
	Revision   int64       `json:"revision"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// UsageStats is the per-session token/cost counters pushed and polled from
// the backend.
type UsageStats struct {
	SessionID    string  `json:"session_id"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}
