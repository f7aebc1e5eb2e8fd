package draft

import (
	"context"
	"fmt"
	"sync"

	"inkwell/internal/models"
	"inkwell/internal/store"
	"inkwell/internal/transport"
)

// SaveCoordinator is the explicit dependency other flows use to flush an
// in-progress edit before proceeding (e.g. before switching sessions). It
// replaces a globally reachable save hook so initialization order cannot
// bite.
type SaveCoordinator interface {
	// Flush persists any buffered edit. A no-op when nothing is dirty.
	Flush(ctx context.Context) error
}

// Editor buffers local edits to one session's draft and persists them on
// an explicit save boundary, not per keystroke. It implements
// SaveCoordinator.
type Editor struct {
	client *transport.Client
	store  *store.Store
	guard  *Guard

	mu        sync.Mutex
	sessionID string
	title     string
	content   string
	dirty     bool
}

// NewEditor creates an editor bound to one writing session.
func NewEditor(client *transport.Client, st *store.Store, guard *Guard, sessionID string) *Editor {
	return &Editor{
		client:    client,
		store:     st,
		guard:     guard,
		sessionID: sessionID,
	}
}

// Guard exposes the editor's conflict guard.
func (e *Editor) Guard() *Guard {
	return e.guard
}

// SetBuffer replaces the local edit buffer. Called by the UI as the user
// types; nothing is persisted until Save or Flush.
func (e *Editor) SetBuffer(title, content string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.title = title
	e.content = content
	e.dirty = true
}

// Dirty reports whether unsaved edits are buffered.
func (e *Editor) Dirty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dirty
}

// Save persists the buffered edit as one revision. The stored draft (with
// its bumped revision) replaces the store's copy, which also folds in any
// background update that was suppressed while the user was typing.
func (e *Editor) Save(ctx context.Context) error {
	e.mu.Lock()
	if !e.dirty {
		e.mu.Unlock()
		return nil
	}
	title, content := e.title, e.content
	sessionID := e.sessionID
	e.mu.Unlock()

	current := e.store.Draft(sessionID)
	var revision int64
	if current != nil {
		revision = current.Revision
	}

	stored, err := e.client.UpdateDraft(ctx, sessionID, &models.UpdateDraftRequest{
		Title:    title,
		Content:  content,
		Revision: revision,
	})
	if err != nil {
		return fmt.Errorf("failed to save draft: %w", err)
	}

	e.store.SetDraft(stored)

	e.mu.Lock()
	// Keep the buffer but mark it clean; a keystroke after Save started
	// re-dirties it and the next boundary picks it up.
	if e.title == title && e.content == content {
		e.dirty = false
	}
	e.mu.Unlock()
	return nil
}

// Flush implements SaveCoordinator.
func (e *Editor) Flush(ctx context.Context) error {
	return e.Save(ctx)
}

// MaybeRefresh applies a background draft update unless the user is
// actively editing. Returns true when the refresh was applied.
func (e *Editor) MaybeRefresh(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == e.sessionID && e.guard.Editing() {
		// Suppressed; the next save boundary reconciles.
		return false, nil
	}
	if _, err := e.store.RefreshDraft(ctx, sessionID); err != nil {
		return false, err
	}
	return true, nil
}
