package handlers

import (
	"context"
	"strings"
	"sync"

	plog "github.com/phuslu/log"
	"github.com/ternarybob/arbor/levels"
	arbormodels "github.com/ternarybob/arbor/models"

	"github.com/ternarybob/gusto/internal/common"
)

// Buffer for log batches between the logger and the drain loop. When the
// buffer is full the logger drops batches rather than block.
const defaultLogChannelBuffer = 10

// WebSocketLogBridge drains batched log events from an arbor channel and
// forwards them to connected consoles as log frames. Attach with
// logger.SetChannel("ws", bridge.Channel()) and call Start.
type WebSocketLogBridge struct {
	hub             *WebSocketHandler
	channel         chan []arbormodels.LogEvent
	minLevel        levels.LogLevel
	excludePatterns []string
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
}

func NewWebSocketLogBridge(hub *WebSocketHandler, wsConfig *common.WebSocketConfig) *WebSocketLogBridge {
	minLevel := levels.InfoLevel
	var excludePatterns []string

	if wsConfig != nil {
		minLevel = parseLogLevel(wsConfig.MinLevel)
		excludePatterns = wsConfig.ExcludePatterns
	}
	if len(excludePatterns) == 0 {
		excludePatterns = []string{
			"WebSocket client connected",
			"WebSocket client disconnected",
			"HTTP request",
			"HTTP response",
			"Publishing event",
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketLogBridge{
		hub:             hub,
		channel:         make(chan []arbormodels.LogEvent, defaultLogChannelBuffer),
		minLevel:        minLevel,
		excludePatterns: excludePatterns,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Channel returns the batch channel to hand to the logger
func (b *WebSocketLogBridge) Channel() chan []arbormodels.LogEvent {
	return b.channel
}

// Start launches the drain loop
func (b *WebSocketLogBridge) Start() {
	b.wg.Add(1)
	go b.drain()
}

func (b *WebSocketLogBridge) drain() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case batch := <-b.channel:
			for _, entry := range batch {
				b.forward(entry)
			}
		}
	}
}

// forward filters one event and hands it to the hub. This path must not log:
// a log line here would flow straight back into the bridge.
func (b *WebSocketLogBridge) forward(entry arbormodels.LogEvent) {
	arborLevel := plogToArborLevel(entry.Level)
	if arborLevel < b.minLevel {
		return
	}

	for _, pattern := range b.excludePatterns {
		if strings.Contains(entry.Message, pattern) {
			return
		}
	}

	b.hub.BroadcastLog(LogEntry{
		Timestamp: entry.Timestamp.Format("15:04:05"),
		Level:     mapLevel(arborLevel),
		Message:   entry.Message,
	})
}

// Close stops the drain loop. Batches already queued may be dropped.
func (b *WebSocketLogBridge) Close() error {
	b.cancel()
	b.wg.Wait()
	return nil
}

// plogToArborLevel converts phuslu/log.Level to arbor levels.LogLevel
func plogToArborLevel(level plog.Level) levels.LogLevel {
	switch level {
	case plog.ErrorLevel:
		return levels.ErrorLevel
	case plog.WarnLevel:
		return levels.WarnLevel
	case plog.InfoLevel:
		return levels.InfoLevel
	case plog.DebugLevel:
		return levels.DebugLevel
	default:
		return levels.InfoLevel
	}
}

// parseLogLevel converts string log level to arbor levels.LogLevel
func parseLogLevel(level string) levels.LogLevel {
	switch strings.ToLower(level) {
	case "error":
		return levels.ErrorLevel
	case "warn", "warning":
		return levels.WarnLevel
	case "info":
		return levels.InfoLevel
	case "debug":
		return levels.DebugLevel
	default:
		return levels.InfoLevel
	}
}

// mapLevel maps arbor log levels to console strings
func mapLevel(level levels.LogLevel) string {
	switch level {
	case levels.ErrorLevel:
		return "error"
	case levels.WarnLevel:
		return "warn"
	case levels.InfoLevel:
		return "info"
	case levels.DebugLevel:
		return "debug"
	default:
		return "info"
	}
}
