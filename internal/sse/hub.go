package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/slidesmith/slidesmith-backend/internal/logger"
)

// Message is the wire envelope pushed to subscribers. Channel is routing-only
// and Version is zero for messages that do not originate from the deck event
// log (job progress, admin injections).
type Message struct {
	Channel   string    `json:"channel"`
	Type      string    `json:"type"`
	DeckID    uuid.UUID `json:"deck_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	Version   int64     `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func DeckChannel(deckID uuid.UUID) string { return "deck:" + deckID.String() }
func UserChannel(userID uuid.UUID) string { return "user:" + userID.String() }

type Client struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Channels map[string]bool
	Outbound chan Message
	done     chan struct{}
}

// Hub owns the channel->clients maps exclusively; all access goes through its
// mutex. It is injected where needed, never held as ambient package state.
type Hub struct {
	mu            sync.RWMutex
	log           *logger.Logger
	subscriptions map[string]map[*Client]bool
	heartbeat     time.Duration
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:           log.With("component", "SSEHub"),
		subscriptions: make(map[string]map[*Client]bool),
		heartbeat:     15 * time.Second,
	}
}

func (hub *Hub) NewClient(userID uuid.UUID) *Client {
	return &Client{
		ID:       uuid.New(),
		UserID:   userID,
		Channels: make(map[string]bool),
		Outbound: make(chan Message, 32),
		done:     make(chan struct{}),
	}
}

func (hub *Hub) AddChannel(client *Client, channel string) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()

	client.Channels[channel] = true
	clients, exists := hub.subscriptions[channel]
	if !exists {
		clients = make(map[*Client]bool)
		hub.subscriptions[channel] = clients
	}
	clients[client] = true
	hub.log.Debug("SSE client subscribed", "client_id", client.ID, "channel", channel)
}

func (hub *Hub) RemoveChannel(client *Client, channel string) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()

	delete(client.Channels, channel)
	if subMap, ok := hub.subscriptions[channel]; ok {
		delete(subMap, client)
		if len(subMap) == 0 {
			delete(hub.subscriptions, channel)
		}
	}
}

func (hub *Hub) RemoveClient(client *Client) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	for ch := range client.Channels {
		if subMap, ok := hub.subscriptions[ch]; ok {
			delete(subMap, client)
			if len(subMap) == 0 {
				delete(hub.subscriptions, ch)
			}
		}
	}
	client.Channels = make(map[string]bool)
}

// Broadcast delivers to every live sink on the channel. A slow sink only ever
// loses its own messages; delivery to the others never fails because of it.
func (hub *Hub) Broadcast(msg Message) {
	if msg.Channel == "" {
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	clientsMap, ok := hub.subscriptions[msg.Channel]
	if !ok {
		return
	}
	for c := range clientsMap {
		select {
		case c.Outbound <- msg:
		default:
			hub.log.Warn("Dropping SSE message; outbound buffer full", "client_id", c.ID, "channel", msg.Channel)
		}
	}
}

// ConnectionCounts returns the number of live sinks per channel.
func (hub *Hub) ConnectionCounts() map[string]int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	out := make(map[string]int, len(hub.subscriptions))
	for ch, clients := range hub.subscriptions {
		out[ch] = len(clients)
	}
	return out
}

func (hub *Hub) TotalConnections() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	seen := make(map[*Client]bool)
	for _, clients := range hub.subscriptions {
		for c := range clients {
			seen[c] = true
		}
	}
	return len(seen)
}

// ServeHTTP streams to one client. The client must already be subscribed so
// that events landing during replay buffer in Outbound; replay is written
// first and live messages at or below the replayed version are skipped, which
// closes the reconnect gap without duplicates.
func (hub *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, client *Client, replay []Message) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ctx := r.Context()

	replayedUpTo := make(map[uuid.UUID]int64)
	for _, msg := range replay {
		if !hub.writeMessage(w, msg) {
			return
		}
		if msg.DeckID != uuid.Nil && msg.Version > replayedUpTo[msg.DeckID] {
			replayedUpTo[msg.DeckID] = msg.Version
		}
	}
	flusher.Flush()

	heartbeat := time.NewTicker(hub.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-client.done:
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case msg := <-client.Outbound:
			if msg.DeckID != uuid.Nil && msg.Version > 0 && msg.Version <= replayedUpTo[msg.DeckID] {
				continue
			}
			if !hub.writeMessage(w, msg) {
				return
			}
			flusher.Flush()
		}
	}
}

func (hub *Hub) writeMessage(w http.ResponseWriter, msg Message) bool {
	raw, err := json.Marshal(msg)
	if err != nil {
		hub.log.Warn("Failed to marshal SSE message", "error", err)
		return true
	}
	if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", raw); err != nil {
		return false
	}
	return true
}

func (hub *Hub) CloseClient(client *Client) {
	hub.RemoveClient(client)
	close(client.done)
	close(client.Outbound)
}
