package models

import "time"

// Message roles. The backend only ever produces these two; "system" turns
// never leave the server.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Source is a citation attached to an assistant message, either a web
// result or a passage from an indexed document.
type Source struct {
	Type    string `json:"type"` // "web" or "document"
	Title   string `json:"title"`
	URL     string `json:"url,omitempty"`
	DocID   string `json:"doc_id,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// Message is a single turn in a conversation. Messages are immutable once
// stored; regeneration deletes a tail and appends replacements rather than
// editing in place.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"` // RoleUser or RoleAssistant
	Content   string    `json:"content"`
	Sources   []Source  `json:"sources,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationSettings is the per-conversation source-selection bag.
type ConversationSettings struct {
	CollectionID string `json:"collection_id,omitempty"` // document group scoped as retrieval source
	WebSearch    bool   `json:"web_search"`
}

// HasSource reports whether at least one information source is enabled.
// Sending a message with no source at all is rejected client-side.
func (s ConversationSettings) HasSource() bool {
	return s.WebSearch || s.CollectionID != ""
}

// Conversation is the full record including message bodies.
type Conversation struct {
	ID        string               `json:"id"`
	Title     string               `json:"title"`
	Messages  []Message            `json:"messages"`
	MissionID string               `json:"mission_id,omitempty"` // linked unit of work, if any
	Settings  ConversationSettings `json:"settings"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`

	// Loaded is a client-side flag: true once message bodies have been
	// fetched. A conversation built from a summary has Loaded=false and an
	// empty Messages slice.
	Loaded bool `json:"-"`
}

// ConversationSummary is the list-item form returned by the paged list
// endpoint. No message bodies; those are heavy and fetched lazily.
type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	MissionID    string    `json:"mission_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ToConversation lifts a summary into a not-yet-loaded Conversation so the
// UI can show something immediately while the full record is fetched.
func (s ConversationSummary) ToConversation() *Conversation {
	return &Conversation{
		ID:        s.ID,
		Title:     s.Title,
		MissionID: s.MissionID,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		Loaded:    false,
	}
}

// LastAssistantMessage returns the most recent assistant turn, or nil.
func (c *Conversation) LastAssistantMessage() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleAssistant {
			return &c.Messages[i]
		}
	}
	return nil
}
