package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"inkwell/internal/logging"
	"inkwell/internal/models"
	"inkwell/internal/store"
	"inkwell/internal/transport"
)

const (
	maxAutoTitleRunes = 50
	autoTitleEllipsis = "…"
)

// Error codes carried on TurnError so the UI can pick the right recovery
// affordance (refresh vs. retry vs. re-login).
const (
	ErrCodeValidation      = "validation"
	ErrCodeAuth            = "auth"
	ErrCodeConnectivity    = "connectivity"
	ErrCodeBackend         = "backend"
	ErrCodeStillProcessing = "still_processing"
)

// User-facing guidance inserted as assistant-role bubbles. Connectivity
// and still-processing get distinct text; retry-send is only safe for the
// former.
const (
	connectivityGuidance    = "Unable to reach the server. Please check your connection and try again."
	stillProcessingGuidance = "The assistant may still be working on your message. Please refresh in a moment to check for its reply."
)

// ErrSendInFlight means a send is already running for this conversation.
// Single-flight is enforced here at the protocol layer, not left to UI
// button disabling.
var ErrSendInFlight = errors.New("a send is already in flight for this conversation")

// ValidationError rejects a send before any network call.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// TurnError is a classified send failure. Code selects the UI affordance.
type TurnError struct {
	Code string
	Err  error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("chat turn failed (%s): %v", e.Code, e.Err)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

// Dispatcher orchestrates the send-message flow: conversation creation,
// user-message persistence, auto-titling, the assistant call, side-effect
// handling, and failure conversion. One Dispatcher serves all
// conversations; in-flight state is keyed per conversation.
type Dispatcher struct {
	client   *transport.Client
	store    *store.Store
	notifier *store.Notifier
	grace    time.Duration // reconciliation grace period

	// defaults are the source settings for conversations created lazily on
	// first send.
	defaults models.ConversationSettings

	mu       sync.Mutex
	inflight map[string]struct{} // conversation ids with a send in flight
}

// New creates a dispatcher. grace is the wait before timeout
// reconciliation re-queries history.
func New(client *transport.Client, st *store.Store, notifier *store.Notifier, defaults models.ConversationSettings, grace time.Duration) *Dispatcher {
	return &Dispatcher{
		client:   client,
		store:    st,
		notifier: notifier,
		grace:    grace,
		defaults: defaults,
		inflight: make(map[string]struct{}),
	}
}

// acquire takes the per-conversation in-flight lease.
func (d *Dispatcher) acquire(conversationID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inflight[conversationID]; busy {
		return ErrSendInFlight
	}
	d.inflight[conversationID] = struct{}{}
	return nil
}

func (d *Dispatcher) release(conversationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, conversationID)
}

// Send runs the full send-message flow for the active conversation,
// creating one first if none is active. It returns the stored assistant
// reply on success. Failures are converted into visible artifacts (an
// error bubble and/or a notification) before the error is returned; the
// busy indicator is cleared on every path.
func (d *Dispatcher) Send(ctx context.Context, text string) (*models.Message, error) {
	conv := d.store.ActiveConversation()
	if conv != nil && !conv.Loaded {
		// The full fetch failed on activation. A summary carries no
		// settings, so a send here could contradict what validation saw.
		return nil, fmt.Errorf("conversation %s is not loaded", conv.ID)
	}

	settings := d.defaults
	if conv != nil {
		settings = conv.Settings
	}
	if !settings.HasSource() {
		return nil, &ValidationError{Reason: "enable web search or select a document collection first"}
	}

	// Lazily create the conversation before the message is attached.
	if conv == nil {
		created, err := d.store.Create(ctx, &models.CreateConversationRequest{Settings: settings})
		if err != nil {
			d.notifyError("", ErrCodeBackend, err)
			return nil, err
		}
		if _, err := d.store.Activate(ctx, created.ID); err != nil {
			return nil, err
		}
		conv = created
	}
	firstMessage := len(conv.Messages) == 0

	if err := d.acquire(conv.ID); err != nil {
		return nil, err
	}
	defer d.release(conv.ID)

	d.store.SetBusy(conv.ID, true)
	defer d.store.SetBusy(conv.ID, false)

	logger := logging.WithConversation(conv.ID)

	// The user message must be stored before the assistant call goes out,
	// or the backend could observe a conversation missing its latest turn.
	if _, err := d.store.AppendMessage(ctx, conv.ID, &models.AppendMessageRequest{
		Role:    models.RoleUser,
		Content: text,
	}); err != nil {
		logger.Error("failed to store user message", "error", err)
		d.notifyError(conv.ID, ErrCodeBackend, err)
		return nil, err
	}

	// Auto-title off the first message. The local title lands before the
	// reply call so a title the backend sends later always overwrites the
	// guess; only the remote rename is fire-and-forget.
	if firstMessage {
		title := AutoTitle(text)
		d.store.SetTitle(conv.ID, title)
		go func() {
			renameCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			req := &models.UpdateConversationRequest{Title: &title}
			if err := d.client.UpdateConversation(renameCtx, conv.ID, req); err != nil {
				logger.Warn("auto-title failed", "error", err)
			}
		}()
	}

	return d.turn(ctx, conv.ID, text)
}

// turn issues the assistant call for a user message that is already
// persisted, then reconciles the outcome. Shared by Send and Regenerate.
func (d *Dispatcher) turn(ctx context.Context, conversationID, text string) (*models.Message, error) {
	logger := logging.WithConversation(conversationID)

	// Re-read from the store, not from a stale local slice: earlier steps
	// mutate shared state.
	conv := d.store.Conversation(conversationID)
	if conv == nil {
		return nil, fmt.Errorf("conversation %s not in store", conversationID)
	}
	history := make([]models.Message, len(conv.Messages))
	copy(history, conv.Messages)
	if n := len(history); n > 0 && history[n-1].Role == models.RoleUser && history[n-1].Content == text {
		history = history[:n-1] // the message itself travels in its own field
	}

	resp, err := d.client.ChatTurn(ctx, &models.ChatTurnRequest{
		Message:        text,
		ConversationID: conversationID,
		History:        history,
		MissionID:      conv.MissionID,
		Settings:       conv.Settings,
	})
	if err != nil {
		return d.handleTurnFailure(ctx, conversationID, err)
	}

	reply, err := d.store.AppendMessage(ctx, conversationID, &models.AppendMessageRequest{
		Role:    models.RoleAssistant,
		Content: resp.Reply,
		Sources: resp.Sources,
	})
	if err != nil {
		logger.Error("failed to store assistant reply", "error", err)
		d.notifyError(conversationID, ErrCodeBackend, err)
		return nil, err
	}

	if resp.UpdatedTitle != "" {
		d.store.SetTitle(conversationID, resp.UpdatedTitle)
		d.notifier.Publish(store.Notification{
			Kind:           store.NotifyTitleChanged,
			ConversationID: conversationID,
			Title:          resp.UpdatedTitle,
		})
	}

	if resp.SideEffect != "" {
		if err := d.applySideEffect(ctx, conversationID, resp); err != nil {
			logger.Warn("side effect failed", "side_effect", resp.SideEffect, "error", err)
		}
	}

	return reply, nil
}

// handleTurnFailure converts a failed assistant call into the right
// visible artifact. Ambiguous timeouts go through reconciliation first and
// only surface an error when no reply turns out to exist.
func (d *Dispatcher) handleTurnFailure(ctx context.Context, conversationID string, cause error) (*models.Message, error) {
	logger := logging.WithConversation(conversationID)

	switch {
	case errors.Is(cause, transport.ErrAmbiguousTimeout):
		logger.Info("ambiguous timeout, reconciling against history")
		return d.reconcile(ctx, conversationID, cause)

	case errors.Is(cause, transport.ErrAuthenticationFailed):
		d.notifyError(conversationID, ErrCodeAuth, cause)
		return nil, &TurnError{Code: ErrCodeAuth, Err: cause}

	case errors.Is(cause, transport.ErrConnectivity):
		d.store.AppendLocalMessage(conversationID, models.RoleAssistant, connectivityGuidance)
		d.notifyError(conversationID, ErrCodeConnectivity, cause)
		return nil, &TurnError{Code: ErrCodeConnectivity, Err: cause}

	default:
		var backendErr *transport.BackendError
		if errors.As(cause, &backendErr) {
			d.store.AppendLocalMessage(conversationID, models.RoleAssistant,
				"The assistant ran into a problem: "+backendErr.Detail)
		} else {
			d.store.AppendLocalMessage(conversationID, models.RoleAssistant,
				"The assistant ran into an unexpected problem. Please try again.")
		}
		d.notifyError(conversationID, ErrCodeBackend, cause)
		return nil, &TurnError{Code: ErrCodeBackend, Err: cause}
	}
}

func (d *Dispatcher) notifyError(conversationID, code string, err error) {
	d.notifier.Publish(store.Notification{
		Kind:           store.NotifyError,
		ConversationID: conversationID,
		Message:        code + ": " + err.Error(),
	})
}

// AutoTitle derives a conversation title from its first message: the first
// 50 runes, with an ellipsis when truncated. The message body itself is
// never modified.
func AutoTitle(text string) string {
	runes := []rune(text)
	if len(runes) <= maxAutoTitleRunes {
		return text
	}
	return string(runes[:maxAutoTitleRunes]) + autoTitleEllipsis
}
