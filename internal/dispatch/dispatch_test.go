package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"inkwell/internal/models"
	"inkwell/internal/store"
	"inkwell/internal/transport"
)

// fakeBackend emulates the conversation/chat API for dispatch tests. The
// chat behavior is pluggable per test.
type fakeBackend struct {
	mu            sync.Mutex
	conversations map[string]*models.Conversation
	nextID        int
	chatCalls     int
	requests      int

	// chat decides the /chat response. It runs with the lock held and may
	// mutate backend state (e.g. persist a reply before "timing out") or
	// release the lock to admit other requests mid-turn.
	chat func(f *fakeBackend, req *models.ChatTurnRequest) (status int, body interface{})

	// abortChat simulates a connection dropped mid-request on /chat.
	abortChat bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{conversations: make(map[string]*models.Conversation)}
}

func (f *fakeBackend) addConversation(id string, messages ...models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations[id] = &models.Conversation{
		ID:       id,
		Messages: messages,
		Settings: models.ConversationSettings{WebSearch: true},
	}
}

// persistAssistant appends an assistant message server-side. Caller holds
// the lock (used from chat callbacks).
func (f *fakeBackend) persistAssistant(conversationID, content string) {
	f.nextID++
	c := f.conversations[conversationID]
	c.Messages = append(c.Messages, models.Message{
		ID:        fmt.Sprintf("srv%d", f.nextID),
		Role:      models.RoleAssistant,
		Content:   content,
		CreatedAt: time.Now(),
	})
}

func (f *fakeBackend) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.requests++

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/conversations":
			f.nextID++
			id := fmt.Sprintf("conv%d", f.nextID)
			var req models.CreateConversationRequest
			json.NewDecoder(r.Body).Decode(&req)
			conv := &models.Conversation{ID: id, Settings: req.Settings}
			f.conversations[id] = conv
			json.NewEncoder(w).Encode(conv)

		case r.Method == http.MethodPost && r.URL.Path == "/chat":
			f.chatCalls++
			var req models.ChatTurnRequest
			json.NewDecoder(r.Body).Decode(&req)
			if f.abortChat {
				panic(http.ErrAbortHandler)
			}
			status, body := f.chat(f, &req)
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(body)

		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/messages"):
			id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/conversations/"), "/messages")
			c, ok := f.conversations[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			var req models.AppendMessageRequest
			json.NewDecoder(r.Body).Decode(&req)
			f.nextID++
			msg := models.Message{
				ID:        fmt.Sprintf("m%d", f.nextID),
				Role:      req.Role,
				Content:   req.Content,
				CreatedAt: time.Now(),
			}
			c.Messages = append(c.Messages, msg)
			json.NewEncoder(w).Encode(msg)

		case r.Method == http.MethodDelete && strings.Contains(r.URL.Path, "/tail"):
			parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/conversations/"), "/")
			c, ok := f.conversations[parts[0]]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			for i := range c.Messages {
				if c.Messages[i].ID == parts[2] {
					c.Messages = c.Messages[:i]
					break
				}
			}
			w.Write([]byte(`{}`))

		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/conversations/"):
			id := strings.TrimPrefix(r.URL.Path, "/conversations/")
			c, ok := f.conversations[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(c)

		case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/conversations/"):
			id := strings.TrimPrefix(r.URL.Path, "/conversations/")
			var req models.UpdateConversationRequest
			json.NewDecoder(r.Body).Decode(&req)
			if c, ok := f.conversations[id]; ok && req.Title != nil {
				c.Title = *req.Title
			}
			w.Write([]byte(`{}`))

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

type testEnv struct {
	backend    *fakeBackend
	store      *store.Store
	notifier   *store.Notifier
	dispatcher *Dispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	backend := newFakeBackend()
	server := httptest.NewServer(backend.handler())
	t.Cleanup(server.Close)

	client := transport.New(server.URL, "", 2*time.Second)
	st := store.New(client, 30*time.Minute)
	notifier := store.NewNotifier()
	defaults := models.ConversationSettings{WebSearch: true}
	// 10ms reconciliation grace keeps the test quick without changing the
	// algorithm.
	d := New(client, st, notifier, defaults, 10*time.Millisecond)

	return &testEnv{backend: backend, store: st, notifier: notifier, dispatcher: d}
}

// waitForTitle polls until the conversation's title matches; auto-titling
// is fire-and-forget relative to Send.
func waitForTitle(t *testing.T, st *store.Store, conversationID, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conv := st.Conversation(conversationID); conv != nil && conv.Title == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	conv := st.Conversation(conversationID)
	t.Fatalf("title = %q, want %q", conv.Title, want)
}

func TestSendFirstMessageCreatesConversation(t *testing.T) {
	env := newTestEnv(t)
	env.backend.chat = func(f *fakeBackend, req *models.ChatTurnRequest) (int, interface{}) {
		return http.StatusOK, models.ChatTurnResponse{Reply: "Here is a summary of X."}
	}

	reply, err := env.dispatcher.Send(context.Background(), "Summarize X")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply.Role != models.RoleAssistant || reply.Content != "Here is a summary of X." {
		t.Errorf("unexpected reply: %+v", reply)
	}

	conv := env.store.ActiveConversation()
	if conv == nil {
		t.Fatal("no active conversation after first send")
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(conv.Messages))
	}
	if conv.Messages[0].Role != models.RoleUser || conv.Messages[0].Content != "Summarize X" {
		t.Errorf("user message wrong: %+v", conv.Messages[0])
	}
	if env.store.Busy(conv.ID) {
		t.Error("busy indicator not cleared after success")
	}

	// Under 50 runes: no truncation.
	waitForTitle(t, env.store, conv.ID, "Summarize X")
}

func TestSendLongFirstMessageTruncatesTitle(t *testing.T) {
	env := newTestEnv(t)
	env.backend.chat = func(f *fakeBackend, req *models.ChatTurnRequest) (int, interface{}) {
		return http.StatusOK, models.ChatTurnResponse{Reply: "ok"}
	}

	text := strings.Repeat("abcde ", 12) // 72 chars
	if _, err := env.dispatcher.Send(context.Background(), text); err != nil {
		t.Fatalf("Send: %v", err)
	}

	conv := env.store.ActiveConversation()
	want := string([]rune(text)[:50]) + "…"
	waitForTitle(t, env.store, conv.ID, want)

	// The body itself is never truncated.
	if conv.Messages[0].Content != text {
		t.Errorf("message body modified: %q", conv.Messages[0].Content)
	}
}

func TestSendConnectivityFailure(t *testing.T) {
	env := newTestEnv(t)
	env.backend.abortChat = true
	env.backend.chat = func(f *fakeBackend, req *models.ChatTurnRequest) (int, interface{}) {
		return http.StatusOK, nil // unreached
	}

	_, err := env.dispatcher.Send(context.Background(), "hello")
	var turnErr *TurnError
	if !errors.As(err, &turnErr) || turnErr.Code != ErrCodeConnectivity {
		t.Fatalf("got %v, want TurnError(connectivity)", err)
	}

	conv := env.store.ActiveConversation()
	var bubbles int
	for _, m := range conv.Messages {
		if m.Role == models.RoleAssistant {
			bubbles++
			if !strings.Contains(m.Content, "check your connection") {
				t.Errorf("bubble lacks connectivity guidance: %q", m.Content)
			}
		}
	}
	if bubbles != 1 {
		t.Errorf("got %d assistant bubbles, want exactly 1", bubbles)
	}
	if env.store.Busy(conv.ID) {
		t.Error("busy indicator not cleared after failure")
	}
}

func TestAmbiguousTimeoutAdoptsCompletedReply(t *testing.T) {
	env := newTestEnv(t)
	env.backend.chat = func(f *fakeBackend, req *models.ChatTurnRequest) (int, interface{}) {
		// The backend finishes the work, then the gateway gives up.
		f.persistAssistant(req.ConversationID, "the real reply")
		return http.StatusGatewayTimeout, map[string]string{}
	}

	var errNotes int
	env.notifier.Subscribe(store.NotifyError, func(store.Notification) { errNotes++ })

	reply, err := env.dispatcher.Send(context.Background(), "do the thing")
	if err != nil {
		t.Fatalf("reconciliation should succeed, got %v", err)
	}
	if reply.Content != "the real reply" {
		t.Errorf("adopted %q, want the real reply", reply.Content)
	}
	if errNotes != 0 {
		t.Errorf("no error notification expected, got %d", errNotes)
	}

	conv := env.store.ActiveConversation()
	var assistants int
	for _, m := range conv.Messages {
		if m.Role == models.RoleAssistant {
			assistants++
		}
	}
	if assistants != 1 {
		t.Errorf("got %d assistant messages, want exactly 1 (no duplicate adoption)", assistants)
	}
	if env.store.Busy(conv.ID) {
		t.Error("busy indicator not cleared")
	}
}

func TestAmbiguousTimeoutWithNoReplySurfacesRefreshGuidance(t *testing.T) {
	env := newTestEnv(t)
	env.backend.chat = func(f *fakeBackend, req *models.ChatTurnRequest) (int, interface{}) {
		return http.StatusGatewayTimeout, map[string]string{}
	}

	_, err := env.dispatcher.Send(context.Background(), "do the thing")
	var turnErr *TurnError
	if !errors.As(err, &turnErr) || turnErr.Code != ErrCodeStillProcessing {
		t.Fatalf("got %v, want TurnError(still_processing)", err)
	}

	conv := env.store.ActiveConversation()
	last := conv.Messages[len(conv.Messages)-1]
	if last.Role != models.RoleAssistant || !strings.Contains(last.Content, "refresh") {
		t.Errorf("missing still-processing guidance bubble: %+v", last)
	}
}

func TestRegenerateIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.backend.chat = func(f *fakeBackend, req *models.ChatTurnRequest) (int, interface{}) {
		return http.StatusOK, models.ChatTurnResponse{Reply: "regenerated " + fmt.Sprint(f.chatCalls)}
	}
	env.backend.addConversation("c1",
		models.Message{ID: "u1", Role: models.RoleUser, Content: "question"},
		models.Message{ID: "a1", Role: models.RoleAssistant, Content: "first answer"},
	)

	ctx := context.Background()
	if _, err := env.store.Activate(ctx, "c1"); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	target := "a1"
	for i := 0; i < 3; i++ {
		reply, err := env.dispatcher.Regenerate(ctx, "c1", target)
		if err != nil {
			t.Fatalf("Regenerate %d: %v", i, err)
		}
		target = reply.ID

		conv := env.store.Conversation("c1")
		if len(conv.Messages) != 2 {
			t.Fatalf("after regenerate %d: %d messages, want exactly 2", i, len(conv.Messages))
		}
		if conv.Messages[0].Role != models.RoleUser || conv.Messages[1].Role != models.RoleAssistant {
			t.Fatalf("after regenerate %d: roles wrong: %+v", i, conv.Messages)
		}
	}
}

func TestSendRejectsWithoutSource(t *testing.T) {
	env := newTestEnv(t)
	env.dispatcher.defaults = models.ConversationSettings{} // no source at all

	_, err := env.dispatcher.Send(context.Background(), "hello")
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("got %v, want ValidationError", err)
	}

	env.backend.mu.Lock()
	requests := env.backend.requests
	env.backend.mu.Unlock()
	if requests != 0 {
		t.Errorf("validation must reject before any network call, saw %d requests", requests)
	}
}

func TestSendSingleFlightPerConversation(t *testing.T) {
	env := newTestEnv(t)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	env.backend.chat = func(f *fakeBackend, req *models.ChatTurnRequest) (int, interface{}) {
		started <- struct{}{}
		<-release
		return http.StatusOK, models.ChatTurnResponse{Reply: "slow"}
	}
	env.backend.addConversation("c1",
		models.Message{ID: "u0", Role: models.RoleUser, Content: "earlier"},
	)

	ctx := context.Background()
	if _, err := env.store.Activate(ctx, "c1"); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := env.dispatcher.Send(ctx, "first")
		done <- err
	}()

	<-started
	if _, err := env.dispatcher.Send(ctx, "second"); !errors.Is(err, ErrSendInFlight) {
		t.Errorf("got %v, want ErrSendInFlight", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Errorf("first send failed: %v", err)
	}
}

func TestBackendTitleWinsOverClientGuess(t *testing.T) {
	env := newTestEnv(t)
	env.backend.chat = func(f *fakeBackend, req *models.ChatTurnRequest) (int, interface{}) {
		return http.StatusOK, models.ChatTurnResponse{
			Reply:        "done",
			UpdatedTitle: "Server-chosen title",
		}
	}

	if _, err := env.dispatcher.Send(context.Background(), "Summarize X"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	conv := env.store.ActiveConversation()
	if conv.Title != "Server-chosen title" {
		t.Errorf("title = %q, want the backend's", conv.Title)
	}
}

func TestStartSideEffectAssociatesMission(t *testing.T) {
	env := newTestEnv(t)
	env.backend.chat = func(f *fakeBackend, req *models.ChatTurnRequest) (int, interface{}) {
		return http.StatusOK, models.ChatTurnResponse{
			Reply:      "starting research",
			SideEffect: models.SideEffectStartMission,
			MissionID:  "mission-1",
		}
	}

	var started []string
	env.notifier.Subscribe(store.NotifyMissionStarted, func(n store.Notification) {
		started = append(started, n.MissionID)
	})

	if _, err := env.dispatcher.Send(context.Background(), "research X"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	conv := env.store.ActiveConversation()
	if conv.MissionID != "mission-1" {
		t.Errorf("mission not associated: %q", conv.MissionID)
	}
	if len(started) != 1 || started[0] != "mission-1" {
		t.Errorf("mission-started notification wrong: %v", started)
	}
}

func TestCompletedReplyLandsInOriginalConversationAfterSwitch(t *testing.T) {
	env := newTestEnv(t)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	env.backend.chat = func(f *fakeBackend, req *models.ChatTurnRequest) (int, interface{}) {
		// Let other requests through while this turn is in flight.
		f.mu.Unlock()
		started <- struct{}{}
		<-release
		f.mu.Lock()
		return http.StatusOK, models.ChatTurnResponse{
			Reply:      "late reply",
			SideEffect: models.SideEffectStartMission,
			MissionID:  "mission-9",
		}
	}
	env.backend.addConversation("c1")
	env.backend.addConversation("c2")

	ctx := context.Background()
	if _, err := env.store.Activate(ctx, "c1"); err != nil {
		t.Fatalf("Activate c1: %v", err)
	}

	var missionNotes int
	env.notifier.Subscribe(store.NotifyMissionStarted, func(store.Notification) { missionNotes++ })

	done := make(chan error, 1)
	go func() {
		_, err := env.dispatcher.Send(ctx, "long question")
		done <- err
	}()

	// Navigate away while the turn is still running.
	<-started
	if _, err := env.store.Activate(ctx, "c2"); err != nil {
		t.Fatalf("Activate c2: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Send: %v", err)
	}

	c1 := env.store.Conversation("c1")
	if got := c1.LastAssistantMessage(); got == nil || got.Content != "late reply" {
		t.Errorf("reply missing from the original conversation: %+v", got)
	}
	if c1.MissionID != "mission-9" {
		t.Errorf("mission not associated on the original conversation: %q", c1.MissionID)
	}
	if missionNotes != 0 {
		t.Errorf("inactive conversation raised %d mission notifications, want 0", missionNotes)
	}
	if active := env.store.ActiveConversation(); active == nil || active.ID != "c2" {
		t.Errorf("active conversation = %+v, want c2", active)
	}
}

func TestSendRefusesUnloadedConversation(t *testing.T) {
	env := newTestEnv(t)
	// No such conversation server-side, so activation leaves a
	// summary-only record active.
	env.store.Activate(context.Background(), "ghost")

	_, err := env.dispatcher.Send(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error for an unloaded conversation")
	}

	env.backend.mu.Lock()
	chats := env.backend.chatCalls
	env.backend.mu.Unlock()
	if chats != 0 {
		t.Errorf("chat calls = %d, want 0", chats)
	}
	if conv := env.store.Conversation("ghost"); len(conv.Messages) != 0 {
		t.Errorf("messages appended to an unloaded conversation: %d", len(conv.Messages))
	}
}

func TestAutoTitle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short", "Summarize X", "Summarize X"},
		{"exactly 50", strings.Repeat("a", 50), strings.Repeat("a", 50)},
		{"51 truncates", strings.Repeat("a", 51), strings.Repeat("a", 50) + "…"},
		{"multibyte safe", strings.Repeat("日", 60), strings.Repeat("日", 50) + "…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AutoTitle(tt.in); got != tt.want {
				t.Errorf("AutoTitle(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
