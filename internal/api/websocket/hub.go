package websocket

import (
	"context"
	"sync"

	"github.com/relaykit/taskqueue/internal/events"
	"github.com/relaykit/taskqueue/internal/logger"
	"github.com/relaykit/taskqueue/internal/metrics"
)

// allEventTypes is every event the engine emits (§4.5); the hub listens for
// each and fans it out to subscribed clients.
var allEventTypes = []events.Type{
	events.TaskAdded,
	events.TaskStarted,
	events.TaskCompleted,
	events.TaskFailed,
	events.TaskRetried,
	events.TaskStuck,
	events.TaskRemoved,
}

// Hub manages WebSocket clients and broadcasts engine events to them. It
// subscribes directly to the engine's in-process event channel; events
// raised in other processes reach it only through Ingest, fed by a Redis
// pub/sub bridge when one is configured.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *events.Event
	register   chan *Client
	unregister chan *Client
	emitter    *events.Emitter
	mu         sync.RWMutex
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// NewHub creates a new WebSocket hub bound to emitter.
func NewHub(emitter *events.Emitter) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *events.Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		emitter:    emitter,
		stopCh:     make(chan struct{}),
	}
}

// Run starts the hub's main loop and subscribes it to every engine event.
func (h *Hub) Run(ctx context.Context) {
	for _, t := range allEventTypes {
		h.emitter.On(t, h.onEvent)
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ctx.Done():
				h.closeAllClients()
				return
			case <-h.stopCh:
				h.closeAllClients()
				return
			case client := <-h.register:
				h.mu.Lock()
				h.clients[client] = true
				h.mu.Unlock()
				metrics.SetWebSocketConnections(float64(h.ClientCount()))
				logger.Debug().Str("client_id", client.ID).Msg("client registered")

			case client := <-h.unregister:
				h.mu.Lock()
				if _, ok := h.clients[client]; ok {
					delete(h.clients, client)
					close(client.send)
				}
				h.mu.Unlock()
				metrics.SetWebSocketConnections(float64(h.ClientCount()))
				logger.Debug().Str("client_id", client.ID).Msg("client unregistered")

			case event := <-h.broadcast:
				h.broadcastEvent(event)
			}
		}
	}()

	logger.Info().Msg("websocket hub started")
}

// onEvent is the listener bound to every event type; it is invoked
// synchronously on the engine's emission goroutine, so it must not block.
func (h *Hub) onEvent(ev events.Event) {
	h.Ingest(ev)
}

// Ingest feeds an externally-sourced event into the hub's broadcast loop.
// It is exported so a process running only the API server (not the engine
// that produced the event) can forward events received over an
// events.RedisBridge subscription.
func (h *Hub) Ingest(ev events.Event) {
	select {
	case h.broadcast <- &ev:
	default:
		logger.Warn().Msg("broadcast channel full, dropping event")
	}
}

// Stop stops the hub.
func (h *Hub) Stop() {
	close(h.stopCh)
	h.wg.Wait()
	logger.Info().Msg("websocket hub stopped")
}

// Register registers a client with the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister unregisters a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcastEvent(event *events.Event) {
	data, err := event.ToJSON()
	if err != nil {
		logger.Error().Err(err).Msg("failed to serialize event for broadcast")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if !client.IsSubscribed(event.Type) {
			continue
		}

		select {
		case client.send <- data:
			metrics.RecordWebSocketMessage(string(event.Type))
		default:
			go func(c *Client) {
				h.unregister <- c
			}(client)
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}
