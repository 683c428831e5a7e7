// Package websocket pushes live session events to connected clients. It
// implements a hub-and-spoke pattern: a client subscribes to the channels it
// cares about (its signal feed, a session's lifecycle feed) and the hub fans
// events out to subscribers. Push is an optimization over polling; clients
// that miss a push recover via the signaling mailbox.
package websocket

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Event is one push sent to subscribed clients.
type Event struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel"`
	SessionID string          `json:"session_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is an inbound subscription command from a client.
type ClientMessage struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// SignalChannel names the channel carrying relayed signaling messages for
// one recipient within one session.
func SignalChannel(sessionID, userID uuid.UUID) string {
	return fmt.Sprintf("signals:%s:%s", sessionID, userID)
}

// SessionChannel names the channel carrying lifecycle events for a session.
func SessionChannel(sessionID uuid.UUID) string {
	return fmt.Sprintf("session:%s", sessionID)
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is a single connected WebSocket peer.
type Client struct {
	ID       string
	Channels []string
	Send     chan []byte
	hub      *Hub
	conn     Conn
}

// Hub tracks connected clients and their channel subscriptions. All
// operations are safe for concurrent use.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*Client]struct{}
	all      map[*Client]struct{}
	logger   zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		channels: make(map[string]map[*Client]struct{}),
		all:      make(map[*Client]struct{}),
		logger:   logger,
	}
}

// Register adds a client and subscribes it to its initial channels.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, ch := range client.Channels {
		if h.channels[ch] == nil {
			h.channels[ch] = make(map[*Client]struct{})
		}
		h.channels[ch][client] = struct{}{}
	}
}

// Unregister removes a client from every channel and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, ch := range client.Channels {
		if subs, ok := h.channels[ch]; ok {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.channels, ch)
			}
		}
	}
	delete(h.all, client)
	close(client.Send)
}

// Subscribe adds channels to an already-registered client.
func (h *Hub) Subscribe(client *Client, channels []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range channels {
		if h.channels[ch] == nil {
			h.channels[ch] = make(map[*Client]struct{})
		}
		h.channels[ch][client] = struct{}{}
	}
	client.Channels = append(client.Channels, channels...)
}

// Unsubscribe removes channels from an already-registered client.
func (h *Hub) Unsubscribe(client *Client, channels []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	removeSet := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		removeSet[ch] = struct{}{}
	}
	for _, ch := range channels {
		if subs, ok := h.channels[ch]; ok {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.channels, ch)
			}
		}
	}
	remaining := make([]string, 0, len(client.Channels))
	for _, ch := range client.Channels {
		if _, rm := removeSet[ch]; !rm {
			remaining = append(remaining, ch)
		}
	}
	client.Channels = remaining
}

// ProcessMessage dispatches an inbound client command.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Channels)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Channels)
	}
}

// Broadcast fans an event out to the channel's subscribers. A client whose
// buffer is full is skipped rather than blocked on.
func (h *Hub) Broadcast(channel string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("channel", channel).Msg("failed to marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.channels[channel] {
		select {
		case client.Send <- data:
		default:
			h.logger.Debug().Str("client_id", client.ID).Msg("client buffer full, dropping push")
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// ChannelCount returns the number of clients subscribed to a channel.
func (h *Hub) ChannelCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// ---------------------------------------------------------------------------
// Handler
// ---------------------------------------------------------------------------

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; tighten in production.
	},
}

// Handler upgrades HTTP connections and wires them into the hub.
type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

func (wsh *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", wsh.HandleConnect)
}

// HandleConnect upgrades the connection, registers the client, and starts
// the read/write pumps.
func (wsh *Handler) HandleConnect(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:       uuid.New().String(),
		Channels: []string{},
		Send:     make(chan []byte, 256),
		hub:      wsh.hub,
		conn:     &gorillaConnAdapter{ws},
	}
	wsh.hub.Register(client)

	go wsh.writePump(client)
	go wsh.readPump(client)
	return nil
}

func (wsh *Handler) readPump(client *Client) {
	defer func() {
		wsh.hub.Unregister(client)
		client.conn.Close()
	}()

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			break
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue // Ignore malformed messages.
		}
		wsh.hub.ProcessMessage(client, msg)
	}
}

func (wsh *Handler) writePump(client *Client) {
	defer client.conn.Close()

	for message := range client.Send {
		if err := client.conn.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			break
		}
	}
}

type gorillaConnAdapter struct {
	conn *gorillawebsocket.Conn
}

func (a *gorillaConnAdapter) ReadMessage() (int, []byte, error) {
	return a.conn.ReadMessage()
}

func (a *gorillaConnAdapter) WriteMessage(messageType int, data []byte) error {
	return a.conn.WriteMessage(messageType, data)
}

func (a *gorillaConnAdapter) Close() error {
	return a.conn.Close()
}
