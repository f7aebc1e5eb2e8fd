package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"

	"inkwell/internal/models"
	"inkwell/internal/transport"
)

// Store is the single source of truth for conversation, session, message
// and draft state visible to the UI. All reads go through selectors, all
// writes through named actions. The store never retries a failed remote
// call; retry policy belongs to callers.
//
// Identity invariant: the active conversation pointer and the list entry
// for the same id are always the same *models.Conversation. Replacing a
// summary with its fully loaded record mutates the existing object in
// place so no stale copy can drift.
type Store struct {
	client *transport.Client

	mu            sync.RWMutex
	order         []string // conversation ids in list order
	conversations map[string]*models.Conversation
	active        *models.Conversation
	lastError     error
	busy          map[string]bool // per-conversation send-in-progress flag

	sessions map[string]*models.WritingSession
	drafts   map[string]*models.Draft // keyed by session id
	status   map[string]*sessionStatus

	// Paging metadata from the most recent LoadAll.
	page       int
	totalPages int
	total      int

	// Fully loaded conversations, keyed by id. Bodies are heavy; after the
	// TTL a re-activation fetches fresh from the backend.
	loaded *cache.Cache
}

// sessionStatus tracks the busy-indicator line for one session. The seq
// counter exists for the delayed idle reset: a reset scheduled for seq N is
// dropped if a newer status has bumped the counter in the meantime.
type sessionStatus struct {
	Text string
	Seq  uint64
}

// New creates a store backed by the given transport client. expiry bounds
// how long a fully loaded conversation is trusted before re-activation
// refetches it.
func New(client *transport.Client, expiry time.Duration) *Store {
	return &Store{
		client:        client,
		conversations: make(map[string]*models.Conversation),
		busy:          make(map[string]bool),
		sessions:      make(map[string]*models.WritingSession),
		drafts:        make(map[string]*models.Draft),
		status:        make(map[string]*sessionStatus),
		loaded:        cache.New(expiry, expiry/3+time.Minute),
	}
}

// recordErr stores err in the last-error slot and passes it through, so
// every failing action is observable both ways.
func (s *Store) recordErr(err error) error {
	s.mu.Lock()
	s.lastError = err
	s.mu.Unlock()
	return err
}

// LastError returns the most recent remote failure, if any.
func (s *Store) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// ── Conversation selectors ─────────────────────────────────────────

// Conversations returns the list in order. The pointers are the live
// objects; callers must treat them as read-only and mutate through actions.
func (s *Store) Conversations() []*models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.conversations[id])
	}
	return out
}

// Conversation returns the conversation with the given id, or nil.
func (s *Store) Conversation(id string) *models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversations[id]
}

// ActiveConversation returns the currently active conversation, or nil.
func (s *Store) ActiveConversation() *models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// PageInfo returns paging metadata from the last LoadAll.
func (s *Store) PageInfo() (page, totalPages, total int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.page, s.totalPages, s.total
}

// Busy reports whether a send is in flight for the conversation.
func (s *Store) Busy(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.busy[conversationID]
}

// SetBusy flips the per-conversation send indicator.
func (s *Store) SetBusy(conversationID string, busy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if busy {
		s.busy[conversationID] = true
	} else {
		delete(s.busy, conversationID)
	}
}

// ── Conversation actions ───────────────────────────────────────────

// LoadAll fetches one page of conversation summaries and merges them into
// the list. Summaries never clobber an already loaded record's messages;
// they only refresh the lightweight fields.
func (s *Store) LoadAll(ctx context.Context, page, pageSize int, query string) ([]*models.Conversation, error) {
	resp, err := s.client.ListConversations(ctx, page, pageSize, query)
	if err != nil {
		return nil, s.recordErr(fmt.Errorf("failed to list conversations: %w", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.page = resp.Page
	s.totalPages = resp.TotalPages
	s.total = resp.Total

	s.order = s.order[:0]
	out := make([]*models.Conversation, 0, len(resp.Conversations))
	for _, sum := range resp.Conversations {
		existing, ok := s.conversations[sum.ID]
		if ok {
			existing.Title = sum.Title
			existing.MissionID = sum.MissionID
			existing.UpdatedAt = sum.UpdatedAt
		} else {
			existing = sum.ToConversation()
			s.conversations[sum.ID] = existing
		}
		s.order = append(s.order, sum.ID)
		out = append(out, existing)
	}
	return out, nil
}

// Activate makes the conversation with the given id active. If it is
// already fully loaded (or cached), it is reused as is. Otherwise the
// lightweight summary object becomes active immediately (so the UI is
// never blank) and the full record is fetched and merged into the same
// object, preserving pointer identity.
func (s *Store) Activate(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.Lock()
	conv, ok := s.conversations[id]
	if !ok {
		conv = &models.Conversation{ID: id}
		s.conversations[id] = conv
		s.order = append(s.order, id)
	}
	s.active = conv
	_, fresh := s.loaded.Get(id)
	needFetch := !conv.Loaded || !fresh
	s.mu.Unlock()

	if !needFetch {
		return conv, nil
	}

	full, err := s.client.GetConversation(ctx, id)
	if err != nil {
		// The summary stays active; the caller decides how to surface this.
		return conv, s.recordErr(fmt.Errorf("failed to load conversation %s: %w", id, err))
	}

	s.mu.Lock()
	mergeConversation(conv, full)
	s.loaded.Set(id, struct{}{}, cache.DefaultExpiration)
	s.mu.Unlock()
	return conv, nil
}

// mergeConversation copies the authoritative record into dst in place so
// every holder of dst observes the loaded state. Caller holds the lock.
func mergeConversation(dst, src *models.Conversation) {
	dst.Title = src.Title
	dst.Messages = src.Messages
	dst.MissionID = src.MissionID
	dst.Settings = src.Settings
	dst.CreatedAt = src.CreatedAt
	dst.UpdatedAt = src.UpdatedAt
	dst.Loaded = true
}

// Upsert merges a full conversation record obtained out of band (a push
// replay, an import) into the store, preserving pointer identity when the
// id is already present.
func (s *Store) Upsert(conv *models.Conversation) *models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.conversations[conv.ID]
	if !ok {
		s.conversations[conv.ID] = conv
		s.order = append(s.order, conv.ID)
		return conv
	}
	mergeConversation(existing, conv)
	return existing
}

// Create creates a conversation remotely and prepends it to the list.
func (s *Store) Create(ctx context.Context, req *models.CreateConversationRequest) (*models.Conversation, error) {
	conv, err := s.client.CreateConversation(ctx, req)
	if err != nil {
		return nil, s.recordErr(fmt.Errorf("failed to create conversation: %w", err))
	}

	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.order = append([]string{conv.ID}, s.order...)
	s.loaded.Set(conv.ID, struct{}{}, cache.DefaultExpiration)
	s.mu.Unlock()
	return conv, nil
}

// AppendMessage persists a message remotely, then appends it locally. On
// failure local state is untouched; optimistic insertion for user turns
// is handled one level up, in dispatch.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, req *models.AppendMessageRequest) (*models.Message, error) {
	msg, err := s.client.AppendMessage(ctx, conversationID, req)
	if err != nil {
		return nil, s.recordErr(fmt.Errorf("failed to append message: %w", err))
	}

	s.AdoptMessage(conversationID, *msg)
	return msg, nil
}

// AdoptMessage appends an already-persisted message to local state. Safe
// to call twice with the same message: duplicate ids are dropped, which
// keeps reconciliation and push replays idempotent.
func (s *Store) AdoptMessage(conversationID string, msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return
	}
	for i := range conv.Messages {
		if msg.ID != "" && conv.Messages[i].ID == msg.ID {
			return
		}
	}
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = msg.CreatedAt
}

// AppendLocalMessage inserts a client-only message (an error bubble) with a
// locally minted id. Never persisted remotely.
func (s *Store) AppendLocalMessage(conversationID, role, content string) models.Message {
	msg := models.Message{
		ID:        "local-" + uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
	s.AdoptMessage(conversationID, msg)
	return msg
}

// RemoveMessagesFrom drops the message with the given id and everything
// after it from local state. Used by regeneration after the remote tail
// delete succeeds.
func (s *Store) RemoveMessagesFrom(conversationID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return
	}
	for i := range conv.Messages {
		if conv.Messages[i].ID == messageID {
			conv.Messages = conv.Messages[:i]
			return
		}
	}
}

// Rename renames a conversation remotely and in place.
func (s *Store) Rename(ctx context.Context, conversationID, title string) error {
	req := &models.UpdateConversationRequest{Title: &title}
	if err := s.client.UpdateConversation(ctx, conversationID, req); err != nil {
		return s.recordErr(fmt.Errorf("failed to rename conversation: %w", err))
	}
	s.SetTitle(conversationID, title)
	return nil
}

// SetTitle applies a title locally (used for backend-pushed renames, which
// are already persisted server-side).
func (s *Store) SetTitle(conversationID, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.conversations[conversationID]; ok {
		conv.Title = title
	}
}

// AssociateMission links a mission to a conversation. A conversation has
// at most one active mission; associating replaces any previous link.
func (s *Store) AssociateMission(conversationID, missionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.conversations[conversationID]; ok {
		conv.MissionID = missionID
	}
}

// Remove deletes a conversation remotely and locally. If it was active,
// the active pointer clears.
func (s *Store) Remove(ctx context.Context, conversationID string) error {
	if err := s.client.DeleteConversation(ctx, conversationID); err != nil {
		return s.recordErr(fmt.Errorf("failed to delete conversation: %w", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, conversationID)
	s.loaded.Delete(conversationID)
	for i, id := range s.order {
		if id == conversationID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.active != nil && s.active.ID == conversationID {
		s.active = nil
	}
	return nil
}

// ── Writing sessions, drafts, status ───────────────────────────────

// UpsertSession stores a writing session record.
func (s *Store) UpsertSession(session *models.WritingSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
}

// Session returns a writing session by id, or nil.
func (s *Store) Session(id string) *models.WritingSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

// SetDraft replaces the stored draft for its session.
func (s *Store) SetDraft(d *models.Draft) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[d.SessionID] = d
}

// Draft returns the draft for a session, or nil.
func (s *Store) Draft(sessionID string) *models.Draft {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.drafts[sessionID]
}

// SetSessionStatus records the busy-indicator line for a session and
// returns the new status sequence number.
func (s *Store) SetSessionStatus(sessionID, text string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.status[sessionID]
	if !ok {
		st = &sessionStatus{}
		s.status[sessionID] = st
	}
	st.Text = text
	st.Seq++
	return st.Seq
}

// ResetStatusIfCurrent clears the status line only if no newer status has
// superseded seq. This is the guard against the delayed-reset race: a fast
// follow-up status must not be stomped by an earlier reset timer firing.
func (s *Store) ResetStatusIfCurrent(sessionID string, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.status[sessionID]
	if !ok || st.Seq != seq {
		return false
	}
	st.Text = ""
	st.Seq++
	return true
}

// SessionStatus returns the current busy-indicator line for a session.
func (s *Store) SessionStatus(sessionID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.status[sessionID]; ok {
		return st.Text
	}
	return ""
}

// RefreshDraft refetches the draft for a session from the backend and
// stores it. Called by the push router when a generated-document update
// arrives and no edit is in progress.
func (s *Store) RefreshDraft(ctx context.Context, sessionID string) (*models.Draft, error) {
	d, err := s.client.GetDraft(ctx, sessionID)
	if err != nil {
		slog.Warn("draft refresh failed", "session_id", sessionID, "error", err)
		return nil, s.recordErr(fmt.Errorf("failed to refresh draft: %w", err))
	}
	s.SetDraft(d)
	return d, nil
}
