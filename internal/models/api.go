package models

// CreateConversationRequest is the body for creating a conversation.
type CreateConversationRequest struct {
	Title    string               `json:"title,omitempty"`
	Settings ConversationSettings `json:"settings"`
}

// ConversationListResponse is the paged listing response.
type ConversationListResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
	Total         int                   `json:"total"`
	Page          int                   `json:"page"`
	TotalPages    int                   `json:"total_pages"`
}

// AppendMessageRequest is the body for storing a single message.
type AppendMessageRequest struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Sources []Source `json:"sources,omitempty"`
}

// UpdateConversationRequest is the body for partial conversation updates.
// Nil fields are left untouched server-side.
type UpdateConversationRequest struct {
	Title    *string               `json:"title,omitempty"`
	Settings *ConversationSettings `json:"settings,omitempty"`
}

// ChatTurnRequest asks the backend for an assistant reply. History carries
// the full prior exchange; the backend is stateless across turns.
type ChatTurnRequest struct {
	Message        string               `json:"message"`
	ConversationID string               `json:"conversation_id"`
	History        []Message            `json:"history"`
	MissionID      string               `json:"mission_id,omitempty"`
	Settings       ConversationSettings `json:"settings"`
}

// Side-effect instruction kinds the chat-turn endpoint may attach to a
// reply. A closed set: decoding anything else is an error, not a no-op.
const (
	SideEffectStartMission   = "start_mission"
	SideEffectRefineMission  = "refine_mission"
	SideEffectApproveMission = "approve_mission"
)

// ChatTurnResponse is the assistant reply plus optional side channel data.
// The reply's id and timestamp come from the message-append call that
// persists it, not from here.
type ChatTurnResponse struct {
	Reply        string   `json:"reply"`
	Sources      []Source `json:"sources,omitempty"`
	UpdatedTitle string   `json:"updated_title,omitempty"`
	SideEffect   string   `json:"side_effect,omitempty"`
	MissionID    string   `json:"mission_id,omitempty"`
}

// UpdateDraftRequest persists an edited draft body.
type UpdateDraftRequest struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	Revision int64  `json:"revision"`
}
