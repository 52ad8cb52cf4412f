package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/antinvestor/service-checkout/apps/default/service/session"
	"github.com/sirupsen/logrus"
)

// EventType names what happened to a checkout session.
type EventType string

const (
	EventPromptSent EventType = "prompt_sent"
	EventInProgress EventType = "in_progress"
	EventFailed     EventType = "failed"
	EventOutcome    EventType = "outcome"
	EventClosed     EventType = "closed"
	EventAmbiguous  EventType = "ambiguous"
)

// Event is pushed to every screen watching a session.
type Event struct {
	Type          EventType             `json:"type"`
	SessionID     string                `json:"session_id"`
	Message       string                `json:"message,omitempty"`
	TransactionID string                `json:"transaction_id,omitempty"`
	Outcome       *session.Outcome      `json:"outcome,omitempty"`
	Result        *session.DialogResult `json:"result,omitempty"`
	At            time.Time             `json:"at"`
}

const clientBuffer = 32

// Client is one subscriber of a session's events.
type Client struct {
	SessionID string
	Send      chan []byte

	closeOnce sync.Once
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.Send) })
}

// Hub fans session events out to subscribed clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

func New() *Hub {
	return &Hub{clients: make(map[string]map[*Client]struct{})}
}

// Subscribe registers a new client for sessionID.
func (h *Hub) Subscribe(sessionID string) *Client {
	client := &Client{SessionID: sessionID, Send: make(chan []byte, clientBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = make(map[*Client]struct{})
	}
	h.clients[sessionID][client] = struct{}{}
	return client
}

// Unsubscribe removes client and closes its Send channel.
func (h *Hub) Unsubscribe(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.clients[client.SessionID]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(h.clients, client.SessionID)
		}
	}
	client.close()
}

// Subscribers returns how many clients watch sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

// Publish delivers evt to every client of sessionID. Slow clients whose
// buffer is full miss the event rather than stall the caller.
func (h *Hub) Publish(sessionID string, evt Event) {
	evt.SessionID = sessionID
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}

	data, err := json.Marshal(evt)
	if err != nil {
		logrus.WithError(err).WithField("session", sessionID).Warn("could not encode session event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[sessionID] {
		select {
		case client.Send <- data:
		default:
			logrus.WithField("session", sessionID).WithField("event", evt.Type).Debug("client buffer full, dropping event")
		}
	}
}
