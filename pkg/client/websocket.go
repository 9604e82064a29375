package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaykit/taskqueue/internal/events"
)

// Event is an alias of events.Event, the JSON envelope the server's
// websocket feed emits (§7 event channel).
type Event = events.Event

// WebSocketClient handles the client side of the /ws event feed.
type WebSocketClient struct {
	conn      *websocket.Conn
	baseURL   string
	apiKey    string
	events    chan *Event
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	connected bool
}

func newWebSocketClient(baseURL, apiKey string) *WebSocketClient {
	return &WebSocketClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		events:  make(chan *Event, 100),
		done:    make(chan struct{}),
	}
}

// Connect dials the server's /ws endpoint and starts reading events.
func (ws *WebSocketClient) Connect(ctx context.Context) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.connected {
		return nil
	}

	u, err := url.Parse(ws.baseURL)
	if err != nil {
		return fmt.Errorf("client: invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"

	headers := make(map[string][]string)
	if ws.apiKey != "" {
		headers["X-API-Key"] = []string{ws.apiKey}
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return fmt.Errorf("client: websocket dial failed: %w", err)
	}

	ws.conn = conn
	ws.connected = true
	ws.done = make(chan struct{})

	go ws.readLoop()

	return nil
}

func (ws *WebSocketClient) readLoop() {
	defer func() {
		ws.mu.Lock()
		ws.connected = false
		ws.mu.Unlock()
		close(ws.events)
	}()

	for {
		select {
		case <-ws.done:
			return
		default:
			_, message, err := ws.conn.ReadMessage()
			if err != nil {
				return
			}

			var ev Event
			if err := json.Unmarshal(message, &ev); err != nil {
				continue
			}

			select {
			case ws.events <- &ev:
			case <-ws.done:
				return
			default:
				select {
				case <-ws.events:
				default:
				}
				ws.events <- &ev
			}
		}
	}
}

// Events returns the channel events are delivered on. It closes when the
// connection drops.
func (ws *WebSocketClient) Events() <-chan *Event {
	return ws.events
}

// Close closes the WebSocket connection.
func (ws *WebSocketClient) Close() error {
	var err error
	ws.closeOnce.Do(func() {
		close(ws.done)
		ws.mu.Lock()
		defer ws.mu.Unlock()
		if ws.conn != nil {
			err = ws.conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			)
			_ = ws.conn.Close()
		}
	})
	return err
}

// IsConnected reports whether the WebSocket is currently connected.
func (ws *WebSocketClient) IsConnected() bool {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.connected
}
