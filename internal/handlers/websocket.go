package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/gusto/internal/common"
	"github.com/ternarybob/gusto/internal/interfaces"
	"github.com/ternarybob/gusto/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// LogEntry is one server log line forwarded to connected consoles
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// wsCommand is a control frame sent by a client. Search frames are only
// delivered for request ids the client has subscribed to.
type wsCommand struct {
	Action    string `json:"action"`
	RequestID string `json:"request_id"`
}

// helloFrame greets a new connection. The instance id changes on every
// process start so clients can detect a restart and resubscribe.
type helloFrame struct {
	Type             string `json:"type"`
	ServerInstanceID string `json:"serverInstanceId"`
	ContractsVersion string `json:"contractsVersion"`
}

// ackFrame confirms a subscribe/unsubscribe command
type ackFrame struct {
	Type      string `json:"type"`
	Action    string `json:"action"`
	RequestID string `json:"requestId"`
}

// logFrame wraps one LogEntry for the wire. Log frames go to every client;
// they are not scoped to a request id.
type logFrame struct {
	Channel string    `json:"channel"`
	Type    string    `json:"type"`
	Ts      time.Time `json:"ts"`
	Data    LogEntry  `json:"data"`
}

// clientState tracks one connection's request subscriptions. The mutex also
// serializes writes to the conn; gorilla conns do not allow concurrent writers.
type clientState struct {
	mu       sync.Mutex
	requests map[string]bool
}

// WebSocketHandler is the event hub. It subscribes to the event service and
// forwards each published frame to the clients watching that request id.
// Delivery is best-effort: a slow or broken client loses frames, never the
// publisher.
type WebSocketHandler struct {
	logger           arbor.ILogger
	events           interfaces.EventService
	clients          map[*websocket.Conn]*clientState
	mu               sync.RWMutex
	allowedEvents    map[models.EventType]bool // Whitelist of frame types to forward (empty = allow all)
	throttlers       map[models.EventType]*rate.Limiter
	serverInstanceID string
	subscriptionID   int
}

func NewWebSocketHandler(eventService interfaces.EventService, config *common.WebSocketConfig, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		events:           eventService,
		clients:          make(map[*websocket.Conn]*clientState),
		serverInstanceID: uuid.New().String(),
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket hub initialized")

	h.allowedEvents = make(map[models.EventType]bool)
	if config != nil && len(config.AllowedEvents) > 0 {
		for _, eventType := range config.AllowedEvents {
			h.allowedEvents[models.EventType(eventType)] = true
		}
		logger.Debug().
			Int("allowed_events", len(h.allowedEvents)).
			Msg("Initialized frame whitelist for WebSocket hub")
	}

	// Per-type throttlers, only for the types named in config. A throttled
	// frame is dropped; clients recover the final state from the result
	// endpoint, so intermediate progress frames are expendable.
	h.throttlers = make(map[models.EventType]*rate.Limiter)
	if config != nil {
		for eventType, intervalStr := range config.ThrottleIntervals {
			duration, err := time.ParseDuration(intervalStr)
			if err != nil {
				logger.Warn().
					Err(err).
					Str("event_type", eventType).
					Str("interval", intervalStr).
					Msg("Failed to parse throttle interval, throttler disabled")
				continue
			}
			h.throttlers[models.EventType(eventType)] = rate.NewLimiter(rate.Every(duration), 1)
			logger.Debug().
				Str("event_type", eventType).
				Str("interval", intervalStr).
				Msg("Throttler initialized for frame type")
		}
	}

	if eventService != nil {
		h.subscriptionID = eventService.Subscribe(h.forward)
	}

	return h
}

// HandleWebSocket upgrades the connection and serves it until the client
// disconnects. The read loop only parses subscribe/unsubscribe commands.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	state := &clientState{requests: make(map[string]bool)}

	h.mu.Lock()
	h.clients[conn] = state
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Msgf("WebSocket client connected (total: %d)", clientCount)

	h.sendHello(conn, state)

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Msgf("WebSocket client disconnected (remaining: %d)", remaining)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
		h.handleCommand(conn, state, raw)
	}
}

func (h *WebSocketHandler) handleCommand(conn *websocket.Conn, state *clientState, raw []byte) {
	var cmd wsCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		h.logger.Debug().Err(err).Msg("Ignoring malformed client frame")
		return
	}

	switch cmd.Action {
	case "subscribe":
		if cmd.RequestID == "" {
			return
		}
		state.mu.Lock()
		state.requests[cmd.RequestID] = true
		state.mu.Unlock()
		h.logger.Debug().Str("request_id", cmd.RequestID).Msg("Client subscribed to request frames")
		h.sendAck(conn, state, "subscribed", cmd.RequestID)
	case "unsubscribe":
		if cmd.RequestID == "" {
			return
		}
		state.mu.Lock()
		delete(state.requests, cmd.RequestID)
		state.mu.Unlock()
		h.sendAck(conn, state, "unsubscribed", cmd.RequestID)
	default:
		h.logger.Debug().Str("action", cmd.Action).Msg("Ignoring unknown client action")
	}
}

// forward relays one published frame to every client watching its request id.
// Runs on the event service's dispatch goroutine.
func (h *WebSocketHandler) forward(ctx context.Context, event *models.Event) {
	if event == nil {
		return
	}

	if len(h.allowedEvents) > 0 && !h.allowedEvents[event.Type] {
		return
	}

	if limiter, ok := h.throttlers[event.Type]; ok && !limiter.Allow() {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("event_type", string(event.Type)).Msg("Failed to marshal event frame")
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	states := make([]*clientState, 0, len(h.clients))
	for conn, state := range h.clients {
		conns = append(conns, conn)
		states = append(states, state)
	}
	h.mu.RUnlock()

	for i, conn := range conns {
		state := states[i]

		state.mu.Lock()
		var writeErr error
		if state.requests[event.RequestID] {
			writeErr = conn.WriteMessage(websocket.TextMessage, data)
		}
		state.mu.Unlock()

		if writeErr != nil {
			h.logger.Warn().
				Err(writeErr).
				Str("request_id", event.RequestID).
				Msg("Failed to send event frame to client")
		}
	}
}

// BroadcastLog sends one server log line to all connected clients.
func (h *WebSocketHandler) BroadcastLog(entry LogEntry) {
	frame := logFrame{
		Channel: "logs",
		Type:    "log",
		Ts:      time.Now(),
		Data:    entry,
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	states := make([]*clientState, 0, len(h.clients))
	for conn, state := range h.clients {
		conns = append(conns, conn)
		states = append(states, state)
	}
	h.mu.RUnlock()

	for i, conn := range conns {
		state := states[i]
		state.mu.Lock()
		conn.WriteMessage(websocket.TextMessage, data)
		state.mu.Unlock()
	}

	// NOTE: Don't log here - a log line would flow back through the bridge
	// into BroadcastLog again, creating an infinite loop
}

func (h *WebSocketHandler) sendHello(conn *websocket.Conn, state *clientState) {
	frame := helloFrame{
		Type:             "hello",
		ServerInstanceID: h.serverInstanceID,
		ContractsVersion: models.ContractsVersion,
	}

	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal hello frame")
		return
	}

	state.mu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	state.mu.Unlock()

	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to send hello frame")
	}
}

func (h *WebSocketHandler) sendAck(conn *websocket.Conn, state *clientState, action, requestID string) {
	frame := ackFrame{
		Type:      "ack",
		Action:    action,
		RequestID: requestID,
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	state.mu.Lock()
	conn.WriteMessage(websocket.TextMessage, data)
	state.mu.Unlock()
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close detaches the hub from the event service and drops all clients.
func (h *WebSocketHandler) Close() error {
	if h.events != nil && h.subscriptionID != 0 {
		h.events.Unsubscribe(h.subscriptionID)
	}

	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]*clientState)
	h.mu.Unlock()

	return nil
}
