package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gusto/internal/interfaces"
	"github.com/ternarybob/gusto/internal/models"
)

// subscription binds a handler to an optional request id filter.
// An empty requestID means the handler sees every frame.
type subscription struct {
	id        int
	requestID string
	handler   interfaces.EventHandler
}

// Service implements EventService with a pub/sub pattern. Delivery is
// fire-and-forget: each handler runs in its own goroutine, panics are
// contained, and the pipeline never learns about delivery failures.
type Service struct {
	subscribers map[int]*subscription
	nextID      int
	closed      bool
	mu          sync.RWMutex
	logger      arbor.ILogger
}

// NewService creates a new event service
func NewService(logger arbor.ILogger) interfaces.EventService {
	return &Service{
		subscribers: make(map[int]*subscription),
		nextID:      1,
		logger:      logger,
	}
}

// Subscribe registers a handler for all frames
func (s *Service) Subscribe(handler interfaces.EventHandler) int {
	return s.subscribe("", handler)
}

// SubscribeRequest registers a handler for frames of one request id
func (s *Service) SubscribeRequest(requestID string, handler interfaces.EventHandler) int {
	return s.subscribe(requestID, handler)
}

func (s *Service) subscribe(requestID string, handler interfaces.EventHandler) int {
	if handler == nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.subscribers[id] = &subscription{
		id:        id,
		requestID: requestID,
		handler:   handler,
	}

	s.logger.Debug().
		Int("subscription_id", id).
		Str("request_id", requestID).
		Int("subscriber_count", len(s.subscribers)).
		Msg("Event handler subscribed")

	return id
}

// Unsubscribe removes a handler by subscription id. Unknown ids are a no-op.
func (s *Service) Unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscribers[id]; !ok {
		return
	}
	delete(s.subscribers, id)

	s.logger.Debug().
		Int("subscription_id", id).
		Int("subscriber_count", len(s.subscribers)).
		Msg("Event handler unsubscribed")
}

// Publish delivers a frame to all matching subscribers asynchronously.
// Publish never blocks on handlers and never surfaces their failures.
func (s *Service) Publish(ctx context.Context, event *models.Event) {
	if event == nil {
		s.logger.Warn().Msg("Dropping nil event")
		return
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		s.logger.Warn().
			Str("event_type", string(event.Type)).
			Str("request_id", event.RequestID).
			Msg("Dropping event published after close")
		return
	}
	var handlers []interfaces.EventHandler
	for _, sub := range s.subscribers {
		if sub.requestID == "" || sub.requestID == event.RequestID {
			handlers = append(handlers, sub.handler)
		}
	}
	s.mu.RUnlock()

	if len(handlers) == 0 {
		s.logger.Trace().
			Str("event_type", string(event.Type)).
			Str("request_id", event.RequestID).
			Msg("No subscribers for event")
		return
	}

	s.logger.Trace().
		Str("event_type", string(event.Type)).
		Str("request_id", event.RequestID).
		Int("subscriber_count", len(handlers)).
		Msg("Publishing event")

	for _, handler := range handlers {
		go s.dispatch(ctx, handler, event)
	}
}

// PublishSync delivers a frame and waits for every matching handler to
// finish. Handlers still run in parallel and panics are still contained;
// only the return is deferred until delivery completes.
func (s *Service) PublishSync(ctx context.Context, event *models.Event) {
	if event == nil {
		s.logger.Warn().Msg("Dropping nil event")
		return
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		s.logger.Warn().
			Str("event_type", string(event.Type)).
			Str("request_id", event.RequestID).
			Msg("Dropping event published after close")
		return
	}
	var handlers []interfaces.EventHandler
	for _, sub := range s.subscribers {
		if sub.requestID == "" || sub.requestID == event.RequestID {
			handlers = append(handlers, sub.handler)
		}
	}
	s.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	s.logger.Trace().
		Str("event_type", string(event.Type)).
		Str("request_id", event.RequestID).
		Int("subscriber_count", len(handlers)).
		Msg("Publishing event synchronously")

	var wg sync.WaitGroup
	for _, handler := range handlers {
		wg.Add(1)
		go func(h interfaces.EventHandler) {
			defer wg.Done()
			s.dispatch(ctx, h, event)
		}(handler)
	}
	wg.Wait()
}

// dispatch runs one handler, containing panics so a broken subscriber
// cannot take down the publisher.
func (s *Service) dispatch(ctx context.Context, handler interfaces.EventHandler, event *models.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn().
				Str("event_type", string(event.Type)).
				Str("request_id", event.RequestID).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Event handler panicked")
		}
	}()
	handler(ctx, event)
}

// Close shuts down the event service. Frames published afterwards are dropped.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.subscribers = make(map[int]*subscription)
	s.logger.Info().Msg("Event service closed")

	return nil
}
