package session

import (
	"context"
	"fmt"
	"sync"

	"inkwell/internal/config"
	"inkwell/internal/draft"
	"inkwell/internal/logging"
	"inkwell/internal/models"
	"inkwell/internal/push"
	"inkwell/internal/store"
	"inkwell/internal/transport"
)

// Manager owns the active writing session: its push channel, its draft
// editor, and the teardown ordering when switching. Exactly one session is
// active at a time; events from previous sessions keep landing in the
// store but can no longer drive UI side effects.
type Manager struct {
	client   *transport.Client
	store    *store.Store
	notifier *store.Notifier
	cfg      *config.Config
	guard    *draft.Guard

	mu              sync.Mutex
	activeID        string
	channel         *push.Channel
	editor          *draft.Editor
	saver           draft.SaveCoordinator
	saverRegistered bool
}

// NewManager creates a session manager. The guard is shared with the UI
// layer, which registers the editor focus reporter on it.
func NewManager(client *transport.Client, st *store.Store, notifier *store.Notifier, cfg *config.Config, guard *draft.Guard) *Manager {
	return &Manager{
		client:   client,
		store:    st,
		notifier: notifier,
		cfg:      cfg,
		guard:    guard,
	}
}

// RegisterSaveCoordinator sets the flush hook invoked before switching
// away from a session. A registered coordinator survives switches; only
// when none is registered does the manager fall back to the session's own
// editor. Registering nil reverts to the fallback.
func (m *Manager) RegisterSaveCoordinator(s draft.SaveCoordinator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saver = s
	m.saverRegistered = s != nil
	if s == nil && m.editor != nil {
		m.saver = m.editor
	}
}

// ActiveSessionID returns the id of the session the user is viewing, or
// the empty string.
func (m *Manager) ActiveSessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID
}

// Editor returns the editor for the active session, or nil.
func (m *Manager) Editor() *draft.Editor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.editor
}

// Switch makes the writing session for conversationID the active one:
// flush any in-progress edit, tear down the old channel's subscription,
// activate the conversation, then open the new session's channel. Teardown
// strictly precedes the new subscription so a stale channel can never
// mutate the newly active session's state.
func (m *Manager) Switch(ctx context.Context, conversationID string) (*models.WritingSession, error) {
	m.mu.Lock()
	saver := m.saver
	oldChannel := m.channel
	m.mu.Unlock()

	if saver != nil {
		if err := saver.Flush(ctx); err != nil {
			return nil, fmt.Errorf("failed to flush draft before switch: %w", err)
		}
	}

	if oldChannel != nil {
		oldChannel.Close()
	}

	sess, err := m.client.GetOrCreateSession(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to open writing session: %w", err)
	}
	m.store.UpsertSession(sess)

	if _, err := m.store.Activate(ctx, conversationID); err != nil {
		logging.WithSession(sess.ID).Warn("conversation load failed on switch", "error", err)
	}

	// The draft is created server-side the first time a session opens, so
	// this fetch doubles as lazy creation.
	if _, err := m.store.RefreshDraft(ctx, sess.ID); err != nil {
		return nil, err
	}

	editor := draft.NewEditor(m.client, m.store, m.guard, sess.ID)
	router := push.NewRouter(m.store, m.notifier, editor, m.ActiveSessionID, m.cfg.StatusResetDelay)

	channel := push.NewChannel(m.cfg.PushURL(sess.ID), m.cfg.AuthToken, sess.ID)
	channel.SetEventHandler(router.Handle)

	m.mu.Lock()
	m.activeID = sess.ID
	m.channel = channel
	m.editor = editor
	if !m.saverRegistered {
		m.saver = editor
	}
	m.mu.Unlock()

	go channel.ConnectWithRetry()

	return sess, nil
}

// Close flushes the active editor and tears the channel down.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	saver := m.saver
	channel := m.channel
	m.activeID = ""
	m.channel = nil
	m.editor = nil
	m.saver = nil
	m.saverRegistered = false
	m.mu.Unlock()

	var err error
	if saver != nil {
		err = saver.Flush(ctx)
	}
	if channel != nil {
		channel.Close()
	}
	return err
}
