package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = 50 * time.Second // Must be less than feedPongWait
	feedSendBuffer = 32
)

// FeedEvent is a live dashboard update pushed to connected vendor clients
type FeedEvent struct {
	Type          string    `json:"type"`
	ToolID        uuid.UUID `json:"tool_id"`
	TransactionID uuid.UUID `json:"transaction_id,omitempty"`
	UserID        uuid.UUID `json:"user_id,omitempty"`
	Amount        int64     `json:"amount,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type feedClient struct {
	conn *websocket.Conn
	send chan FeedEvent
}

// FeedHub fans transaction events out to WebSocket subscribers per tool
type FeedHub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]map[*feedClient]bool // toolID -> clients
}

// NewFeedHub creates an empty hub
func NewFeedHub() *FeedHub {
	return &FeedHub{
		clients: make(map[uuid.UUID]map[*feedClient]bool),
	}
}

// Broadcast delivers an event to every client watching the tool. Slow
// clients are dropped rather than blocking the sender.
func (h *FeedHub) Broadcast(event FeedEvent) {
	h.mu.RLock()
	subs := h.clients[event.ToolID]
	var stale []*feedClient
	for c := range subs {
		select {
		case c.send <- event:
		default:
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		h.remove(event.ToolID, c)
	}
}

// Serve attaches an upgraded connection to the hub and blocks until the
// client disconnects or ctx is canceled.
func (h *FeedHub) Serve(ctx context.Context, toolID uuid.UUID, conn *websocket.Conn) {
	client := &feedClient{
		conn: conn,
		send: make(chan FeedEvent, feedSendBuffer),
	}

	h.mu.Lock()
	if h.clients[toolID] == nil {
		h.clients[toolID] = make(map[*feedClient]bool)
	}
	h.clients[toolID][client] = true
	count := len(h.clients[toolID])
	h.mu.Unlock()

	log.Info().Str("tool_id", toolID.String()).Int("subscribers", count).Msg("Feed client connected")

	defer func() {
		h.remove(toolID, client)
		log.Info().Str("tool_id", toolID.String()).Msg("Feed client disconnected")
	}()

	// Configure KeepAlive
	conn.SetReadLimit(4 * 1024)
	conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(feedPongWait))
		return nil
	})

	// Read loop drains control frames and detects disconnects
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(feedPingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readDone:
			return
		case event := <-client.send:
			conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				log.Warn().Err(err).Msg("Feed write failed")
				return
			}
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}

func (h *FeedHub) remove(toolID uuid.UUID, client *feedClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.clients[toolID]
	if subs == nil {
		return
	}
	if subs[client] {
		delete(subs, client)
		client.conn.Close()
	}
	if len(subs) == 0 {
		delete(h.clients, toolID)
	}
}

// SubscriberCount reports how many clients are watching a tool
func (h *FeedHub) SubscriberCount(toolID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[toolID])
}
