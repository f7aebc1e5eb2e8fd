package push

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"inkwell/internal/models"
)

// ErrAuthenticationFailed indicates the channel was rejected due to auth issues
var ErrAuthenticationFailed = errors.New("authentication failed")

// EventHandler is the single subscription point for a channel's events.
type EventHandler func(models.PushEvent)

// Channel maintains one persistent WebSocket connection for a writing
// session and delivers its events in arrival order. The client is
// receive-only at the application level; only keepalive pings go out.
type Channel struct {
	url       string
	authToken string
	sessionID string

	conn         *websocket.Conn
	stopChan     chan struct{}
	connDone     chan struct{} // closed when current connection is being torn down
	maxReconnect time.Duration
	connected    bool
	authFailed   bool // set when auth fails to prevent infinite retries
	mutex        sync.RWMutex

	onEvent EventHandler
	logger  *slog.Logger
}

// NewChannel creates a push channel for one session. url is the session's
// websocket endpoint (see config.PushURL).
func NewChannel(url, authToken, sessionID string) *Channel {
	return &Channel{
		url:          url,
		authToken:    authToken,
		sessionID:    sessionID,
		stopChan:     make(chan struct{}),
		maxReconnect: 60 * time.Second,
		logger:       slog.With("session_id", sessionID),
	}
}

// SetEventHandler sets the callback invoked for every received event.
// Must be set before Connect.
func (c *Channel) SetEventHandler(handler EventHandler) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.onEvent = handler
}

// Connected reports whether the channel currently holds a live connection.
func (c *Channel) Connected() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.connected
}

// Connect establishes the WebSocket connection.
func (c *Channel) Connect() error {
	header := http.Header{}
	if c.authToken != "" {
		header.Set("Authorization", "Bearer "+c.authToken)
	}

	conn, resp, err := websocket.DefaultDialer.Dial(c.url, header)
	if err != nil {
		// Check if this is an authentication error (401 or 403)
		if resp != nil && (resp.StatusCode == 401 || resp.StatusCode == 403) {
			return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
		}
		errStr := strings.ToLower(err.Error())
		if strings.Contains(errStr, "401") ||
			strings.Contains(errStr, "403") ||
			strings.Contains(errStr, "unauthorized") ||
			strings.Contains(errStr, "authentication") {
			return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
		}
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.mutex.Lock()
	c.conn = conn
	c.connected = true
	c.authFailed = false
	c.connDone = make(chan struct{})
	c.mutex.Unlock()

	c.logger.Info("push channel connected")

	go c.readLoop(conn)
	go c.pingLoop(conn)

	return nil
}

// ConnectWithRetry connects with automatic retry and exponential backoff.
// Auth failures stop the retry loop; everything else backs off and tries
// again until Close. Each invocation starts its backoff fresh at one
// second; the state is loop-local so concurrent loops cannot tear it.
func (c *Channel) ConnectWithRetry() {
	delay := 1 * time.Second
	attempt := 0
	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		c.mutex.RLock()
		authFailed := c.authFailed
		c.mutex.RUnlock()
		if authFailed {
			c.logger.Error("push channel gave up: authentication failed")
			return
		}

		err := c.Connect()
		if err == nil {
			return
		}

		if errors.Is(err, ErrAuthenticationFailed) {
			c.mutex.Lock()
			c.authFailed = true
			c.mutex.Unlock()
			c.logger.Error("push channel auth rejected", "error", err)
			return
		}

		attempt++
		c.logger.Warn("push channel connect failed", "attempt", attempt, "error", err, "retry_in", delay)

		select {
		case <-c.stopChan:
			return
		case <-time.After(delay):
		}

		delay = time.Duration(math.Min(
			float64(delay*2),
			float64(c.maxReconnect),
		))
	}
}

// readLoop decodes incoming events and hands them to the handler in
// arrival order. No reordering happens here.
func (c *Channel) readLoop(conn *websocket.Conn) {
	defer c.handleDisconnect(conn)

	for {
		var ev models.PushEvent
		if err := conn.ReadJSON(&ev); err != nil {
			c.logger.Debug("push channel read ended", "error", err)
			return
		}
		if ev.SessionID == "" {
			ev.SessionID = c.sessionID
		}
		c.mutex.RLock()
		handler := c.onEvent
		c.mutex.RUnlock()
		if handler != nil {
			handler(ev)
		}
	}
}

// pingLoop keeps the server's read deadline alive.
func (c *Channel) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(45 * time.Second)
	defer ticker.Stop()

	c.mutex.RLock()
	done := c.connDone
	c.mutex.RUnlock()

	for {
		select {
		case <-done:
			return
		case <-c.stopChan:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				c.logger.Debug("push channel ping failed", "error", err)
				return
			}
		}
	}
}

// handleDisconnect tears down the current connection and, unless the
// channel was closed deliberately, starts the reconnect loop.
func (c *Channel) handleDisconnect(conn *websocket.Conn) {
	c.mutex.Lock()
	if c.conn == conn {
		c.connected = false
		c.conn = nil
		if c.connDone != nil {
			close(c.connDone)
			c.connDone = nil
		}
	}
	c.mutex.Unlock()
	conn.Close()

	select {
	case <-c.stopChan:
		return
	default:
	}

	c.logger.Info("push channel disconnected, reconnecting")
	go c.ConnectWithRetry()
}

// Close tears the channel down for good. The event handler receives
// nothing after Close returns a closed connection; switching sessions must
// Close the old channel before opening a new one.
func (c *Channel) Close() {
	c.mutex.Lock()
	select {
	case <-c.stopChan:
	default:
		close(c.stopChan)
	}
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.onEvent = nil
	c.mutex.Unlock()

	if conn != nil {
		conn.Close()
	}
}
