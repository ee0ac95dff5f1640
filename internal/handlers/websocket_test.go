package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	plog "github.com/phuslu/log"
	"github.com/ternarybob/arbor"
	arbormodels "github.com/ternarybob/arbor/models"

	"github.com/ternarybob/gusto/internal/common"
	"github.com/ternarybob/gusto/internal/interfaces"
	"github.com/ternarybob/gusto/internal/models"
	"github.com/ternarybob/gusto/internal/services/events"
)

func newHubTestServer(t *testing.T, eventService interfaces.EventService, config *common.WebSocketConfig) (*WebSocketHandler, *httptest.Server) {
	t.Helper()
	hub := NewWebSocketHandler(eventService, config, arbor.NewLogger())
	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})
	return hub, server
}

// dialHub connects and consumes the hello frame
func dialHub(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	hello := readFrame(t, conn, 2*time.Second)
	if hello["type"] != "hello" {
		t.Fatalf("Expected hello frame, got %v", hello)
	}
	if hello["serverInstanceId"] == "" {
		t.Error("Expected non-empty serverInstanceId")
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	var frame map[string]interface{}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	return frame
}

func expectNoFrame(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(wait))
	var frame map[string]interface{}
	if err := conn.ReadJSON(&frame); err == nil {
		t.Fatalf("Expected no frame, got %v", frame)
	}
}

// subscribeRequest sends a subscribe command and waits for the ack
func subscribeRequest(t *testing.T, conn *websocket.Conn, requestID string) {
	t.Helper()
	if err := conn.WriteJSON(map[string]string{"action": "subscribe", "request_id": requestID}); err != nil {
		t.Fatalf("Failed to send subscribe: %v", err)
	}
	ack := readFrame(t, conn, 2*time.Second)
	if ack["type"] != "ack" || ack["action"] != "subscribed" {
		t.Fatalf("Expected subscribe ack, got %v", ack)
	}
}

func TestWebSocket_HelloCarriesContractsVersion(t *testing.T) {
	_, server := newHubTestServer(t, nil, &common.WebSocketConfig{})

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	hello := readFrame(t, conn, 2*time.Second)
	if hello["type"] != "hello" {
		t.Errorf("Expected type hello, got %v", hello["type"])
	}
	if hello["contractsVersion"] != models.ContractsVersion {
		t.Errorf("Expected contractsVersion %q, got %v", models.ContractsVersion, hello["contractsVersion"])
	}
	if id, ok := hello["serverInstanceId"].(string); !ok || id == "" {
		t.Error("Expected non-empty serverInstanceId")
	}
}

func TestWebSocket_SubscribedClientReceivesFrames(t *testing.T) {
	eventService := events.NewService(arbor.NewLogger())
	_, server := newHubTestServer(t, eventService, &common.WebSocketConfig{})

	conn := dialHub(t, server)
	subscribeRequest(t, conn, "req_a")

	eventService.Publish(context.Background(), models.NewEvent(models.EventProgress, "req_a", "provider_call", map[string]interface{}{
		"status":   "RUNNING",
		"progress": 40,
	}))

	frame := readFrame(t, conn, 2*time.Second)
	if frame["type"] != "progress" {
		t.Errorf("Expected progress frame, got %v", frame["type"])
	}
	if frame["requestId"] != "req_a" {
		t.Errorf("Expected requestId req_a, got %v", frame["requestId"])
	}
	if frame["channel"] != "search" {
		t.Errorf("Expected channel search, got %v", frame["channel"])
	}
	if frame["stage"] != "provider_call" {
		t.Errorf("Expected stage provider_call, got %v", frame["stage"])
	}
	data, ok := frame["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected data payload, got %v", frame["data"])
	}
	if data["progress"] != float64(40) {
		t.Errorf("Expected progress 40, got %v", data["progress"])
	}
}

func TestWebSocket_ForeignRequestFramesNotDelivered(t *testing.T) {
	eventService := events.NewService(arbor.NewLogger())
	_, server := newHubTestServer(t, eventService, &common.WebSocketConfig{})

	conn := dialHub(t, server)
	subscribeRequest(t, conn, "req_a")

	eventService.Publish(context.Background(), models.NewEvent(models.EventProgress, "req_b", "planning", nil))

	expectNoFrame(t, conn, 300*time.Millisecond)
}

func TestWebSocket_UnsubscribeStopsDelivery(t *testing.T) {
	eventService := events.NewService(arbor.NewLogger())
	_, server := newHubTestServer(t, eventService, &common.WebSocketConfig{})

	conn := dialHub(t, server)
	subscribeRequest(t, conn, "req_a")

	if err := conn.WriteJSON(map[string]string{"action": "unsubscribe", "request_id": "req_a"}); err != nil {
		t.Fatalf("Failed to send unsubscribe: %v", err)
	}
	ack := readFrame(t, conn, 2*time.Second)
	if ack["action"] != "unsubscribed" {
		t.Fatalf("Expected unsubscribe ack, got %v", ack)
	}

	eventService.Publish(context.Background(), models.NewEvent(models.EventProgress, "req_a", "planning", nil))

	expectNoFrame(t, conn, 300*time.Millisecond)
}

func TestWebSocket_WhitelistFiltersFrameTypes(t *testing.T) {
	eventService := events.NewService(arbor.NewLogger())
	_, server := newHubTestServer(t, eventService, &common.WebSocketConfig{
		AllowedEvents: []string{"done"},
	})

	conn := dialHub(t, server)
	subscribeRequest(t, conn, "req_a")

	eventService.Publish(context.Background(), models.NewEvent(models.EventProgress, "req_a", "planning", nil))
	eventService.Publish(context.Background(), models.NewEvent(models.EventDone, "req_a", "", map[string]interface{}{
		"status": "DONE_SUCCESS",
	}))

	frame := readFrame(t, conn, 2*time.Second)
	if frame["type"] != "done" {
		t.Errorf("Expected done frame (progress filtered by whitelist), got %v", frame["type"])
	}

	expectNoFrame(t, conn, 300*time.Millisecond)
}

func TestWebSocket_ThrottleDropsBurst(t *testing.T) {
	eventService := events.NewService(arbor.NewLogger())
	_, server := newHubTestServer(t, eventService, &common.WebSocketConfig{
		ThrottleIntervals: map[string]string{"progress": "1h"},
	})

	conn := dialHub(t, server)
	subscribeRequest(t, conn, "req_a")

	eventService.Publish(context.Background(), models.NewEvent(models.EventProgress, "req_a", "planning", map[string]interface{}{"progress": 10}))
	eventService.Publish(context.Background(), models.NewEvent(models.EventProgress, "req_a", "planning", map[string]interface{}{"progress": 20}))

	frame := readFrame(t, conn, 2*time.Second)
	if frame["type"] != "progress" {
		t.Errorf("Expected a single progress frame, got %v", frame["type"])
	}

	expectNoFrame(t, conn, 300*time.Millisecond)
}

func TestWebSocket_BroadcastLogReachesAllClients(t *testing.T) {
	hub, server := newHubTestServer(t, nil, &common.WebSocketConfig{})

	first := dialHub(t, server)
	second := dialHub(t, server)

	if hub.ClientCount() != 2 {
		t.Fatalf("Expected 2 clients, got %d", hub.ClientCount())
	}

	hub.BroadcastLog(LogEntry{Timestamp: "12:00:00", Level: "info", Message: "cache purge complete"})

	for i, conn := range []*websocket.Conn{first, second} {
		frame := readFrame(t, conn, 2*time.Second)
		if frame["channel"] != "logs" || frame["type"] != "log" {
			t.Errorf("Client %d: expected log frame, got %v", i, frame)
			continue
		}
		data, ok := frame["data"].(map[string]interface{})
		if !ok {
			t.Errorf("Client %d: expected data payload", i)
			continue
		}
		if data["message"] != "cache purge complete" {
			t.Errorf("Client %d: unexpected message %v", i, data["message"])
		}
	}
}

func TestWebSocketLogBridge_FiltersByLevelAndPattern(t *testing.T) {
	hub, server := newHubTestServer(t, nil, &common.WebSocketConfig{})
	conn := dialHub(t, server)

	bridge := NewWebSocketLogBridge(hub, &common.WebSocketConfig{
		MinLevel:        "warn",
		ExcludePatterns: []string{"noisy"},
	})
	bridge.Start()
	defer bridge.Close()

	now := time.Now()
	bridge.Channel() <- []arbormodels.LogEvent{
		{Timestamp: now, Level: plog.InfoLevel, Message: "dropped by level"},
		{Timestamp: now, Level: plog.WarnLevel, Message: "noisy upstream retry"},
		{Timestamp: now, Level: plog.ErrorLevel, Message: "provider call failed"},
	}

	frame := readFrame(t, conn, 2*time.Second)
	data, ok := frame["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected log frame with data, got %v", frame)
	}
	if data["message"] != "provider call failed" {
		t.Errorf("Expected the error line only, got %v", data["message"])
	}
	if data["level"] != "error" {
		t.Errorf("Expected level error, got %v", data["level"])
	}

	expectNoFrame(t, conn, 300*time.Millisecond)
}
