package websocket

import (
	"encoding/json"
	"sync"
	"time"
)

// BalanceUpdate is pushed to a user's open sockets after a committed balance
// change.
type BalanceUpdate struct {
	UserID  string    `json:"user_id"`
	Balance int64     `json:"balance"`
	Delta   int64     `json:"delta"`
	Type    string    `json:"type"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Register(userID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*Client]struct{})
	}
	h.clients[userID][client] = struct{}{}
}

func (h *Hub) Unregister(userID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		return
	}
	delete(h.clients[userID], client)
	if len(h.clients[userID]) == 0 {
		delete(h.clients, userID)
	}
}

// ClientCount returns the number of open sockets for userID.
func (h *Hub) ClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// BroadcastBalance never blocks; slow clients miss updates.
func (h *Hub) BroadcastBalance(update BalanceUpdate) {
	payload, err := json.Marshal(update)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[update.UserID] {
		select {
		case client.send <- payload:
		default:
		}
	}
}
