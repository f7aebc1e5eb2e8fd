package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"inkwell/internal/models"
)

// Client issues request/response calls to the Inkwell backend and
// normalizes failures into the taxonomy in errors.go. It holds no entity
// state; the store owns that.
type Client struct {
	baseURL   string
	authToken string
	http      *http.Client
}

// New creates a transport client. timeout bounds every round trip; when it
// expires the failure surfaces as ErrAmbiguousTimeout, because the backend
// may still complete the request on its own (longer) budget.
func New(baseURL, authToken string, timeout time.Duration) *Client {
	return &Client{
		baseURL:   baseURL,
		authToken: authToken,
		http:      &http.Client{Timeout: timeout},
	}
}

// do performs one JSON round trip. out may be nil for calls with no
// response body of interest.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransportErr(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuthenticationFailed, resp.StatusCode)

	case resp.StatusCode == http.StatusGatewayTimeout || resp.StatusCode == http.StatusRequestTimeout:
		// The gateway gave up before the backend did. Same ambiguity as a
		// client-side timeout.
		return fmt.Errorf("%w: status %d", ErrAmbiguousTimeout, resp.StatusCode)

	case resp.StatusCode >= 400:
		backendErr := &BackendError{StatusCode: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if jsonErr := json.Unmarshal(data, backendErr); jsonErr != nil || backendErr.Detail == "" {
			backendErr.Detail = http.StatusText(resp.StatusCode)
		}
		return backendErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// ── Conversations ──────────────────────────────────────────────────

// CreateConversation creates an empty conversation.
func (c *Client) CreateConversation(ctx context.Context, req *models.CreateConversationRequest) (*models.Conversation, error) {
	var conv models.Conversation
	if err := c.do(ctx, http.MethodPost, "/conversations", req, &conv); err != nil {
		return nil, err
	}
	conv.Loaded = true
	return &conv, nil
}

// ListConversations fetches one page of summaries, optionally filtered by
// free-text search.
func (c *Client) ListConversations(ctx context.Context, page, pageSize int, query string) (*models.ConversationListResponse, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	if query != "" {
		q.Set("q", query)
	}
	var resp models.ConversationListResponse
	if err := c.do(ctx, http.MethodGet, "/conversations?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetConversation fetches the full record including all messages and any
// linked mission.
func (c *Client) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := c.do(ctx, http.MethodGet, "/conversations/"+id, nil, &conv); err != nil {
		return nil, err
	}
	conv.Loaded = true
	return &conv, nil
}

// AppendMessage stores a message; the backend assigns id and timestamp.
func (c *Client) AppendMessage(ctx context.Context, conversationID string, req *models.AppendMessageRequest) (*models.Message, error) {
	var msg models.Message
	if err := c.do(ctx, http.MethodPost, "/conversations/"+conversationID+"/messages", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// UpdateConversation renames and/or updates settings.
func (c *Client) UpdateConversation(ctx context.Context, id string, req *models.UpdateConversationRequest) error {
	return c.do(ctx, http.MethodPut, "/conversations/"+id, req, nil)
}

// DeleteConversation removes a conversation and its messages.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/conversations/"+id, nil, nil)
}

// DeleteMessageTail deletes the given message and everything after it.
// Used by regeneration.
func (c *Client) DeleteMessageTail(ctx context.Context, conversationID, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/conversations/"+conversationID+"/messages/"+messageID+"/tail", nil, nil)
}

// ClearMessages deletes every message in a conversation.
func (c *Client) ClearMessages(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodDelete, "/conversations/"+conversationID+"/messages", nil, nil)
}

// ChatTurn requests an assistant reply for a user message.
func (c *Client) ChatTurn(ctx context.Context, req *models.ChatTurnRequest) (*models.ChatTurnResponse, error) {
	var resp models.ChatTurnResponse
	if err := c.do(ctx, http.MethodPost, "/chat", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ── Missions ───────────────────────────────────────────────────────

// GetMission fetches current mission state.
func (c *Client) GetMission(ctx context.Context, id string) (*models.Mission, error) {
	var m models.Mission
	if err := c.do(ctx, http.MethodGet, "/missions/"+id, nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// RefineMission re-issues a refinement request against an existing mission.
func (c *Client) RefineMission(ctx context.Context, id, instructions string) error {
	body := map[string]string{"instructions": instructions}
	return c.do(ctx, http.MethodPost, "/missions/"+id+"/refine", body, nil)
}

// ApproveMission moves a mission out of its draft-questions state into
// execution.
func (c *Client) ApproveMission(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/missions/"+id+"/approve", nil, nil)
}

// ── Writing sessions and drafts ────────────────────────────────────

// GetOrCreateSession returns the writing session for a conversation,
// creating it (and its draft) server-side if none exists.
func (c *Client) GetOrCreateSession(ctx context.Context, conversationID string) (*models.WritingSession, error) {
	body := map[string]string{"conversation_id": conversationID}
	var s models.WritingSession
	if err := c.do(ctx, http.MethodPost, "/sessions", body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSession fetches a writing session by id.
func (c *Client) GetSession(ctx context.Context, id string) (*models.WritingSession, error) {
	var s models.WritingSession
	if err := c.do(ctx, http.MethodGet, "/sessions/"+id, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetDraft fetches the draft for a session.
func (c *Client) GetDraft(ctx context.Context, sessionID string) (*models.Draft, error) {
	var d models.Draft
	if err := c.do(ctx, http.MethodGet, "/sessions/"+sessionID+"/draft", nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// UpdateDraft persists an edited draft body and returns the stored record
// with its new revision.
func (c *Client) UpdateDraft(ctx context.Context, sessionID string, req *models.UpdateDraftRequest) (*models.Draft, error) {
	var d models.Draft
	if err := c.do(ctx, http.MethodPut, "/sessions/"+sessionID+"/draft", req, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ── References ─────────────────────────────────────────────────────

// ListReferences fetches a draft's bibliography.
func (c *Client) ListReferences(ctx context.Context, sessionID string) ([]models.Reference, error) {
	var refs []models.Reference
	if err := c.do(ctx, http.MethodGet, "/sessions/"+sessionID+"/references", nil, &refs); err != nil {
		return nil, err
	}
	return refs, nil
}

// AddReference appends a reference to a draft.
func (c *Client) AddReference(ctx context.Context, sessionID string, ref *models.Reference) (*models.Reference, error) {
	var stored models.Reference
	if err := c.do(ctx, http.MethodPost, "/sessions/"+sessionID+"/references", ref, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// UpdateReference edits a stored reference.
func (c *Client) UpdateReference(ctx context.Context, sessionID string, ref *models.Reference) error {
	return c.do(ctx, http.MethodPut, "/sessions/"+sessionID+"/references/"+ref.ID, ref, nil)
}

// DeleteReference removes a reference.
func (c *Client) DeleteReference(ctx context.Context, sessionID, refID string) error {
	return c.do(ctx, http.MethodDelete, "/sessions/"+sessionID+"/references/"+refID, nil, nil)
}

// GetUsage fetches a session's usage statistics.
func (c *Client) GetUsage(ctx context.Context, sessionID string) (*models.UsageStats, error) {
	var stats models.UsageStats
	if err := c.do(ctx, http.MethodGet, "/sessions/"+sessionID+"/usage", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}
